/*
NAME
  crc.go

DESCRIPTION
  crc.go provides the checksums used by the framing layer: an 8-bit CRC in
  the XMODEM style and CRC-16/CCITT.

AUTHOR
  Scott Barnard <scott@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package frame

// crc8Poly is the CRC-8 polynomial 0x07 aligned to the high byte of a
// 16-bit register, the alignment the late-XOR loop below needs.
const crc8Poly = 0x0700

// CRC8 computes the 8-bit checksum used on XMODEM-style packets. Each
// byte feeds the high end of a 16-bit register, the register shifts eight
// times XORing the polynomial out of the top, and the high byte is the
// result. The late-XOR variant is used throughout; CRC8 of "123456789"
// is 0xF4.
func CRC8(data []byte) byte {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crc8Poly
			} else {
				crc <<= 1
			}
		}
	}
	return byte(crc >> 8)
}

// crc16Poly is the CCITT polynomial.
const crc16Poly = 0x1021

// CRC16 computes CRC-16/CCITT over data with initial value 0xFFFF and a
// final complement.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crc16Poly
			} else {
				crc <<= 1
			}
		}
	}
	return ^crc
}
