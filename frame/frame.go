/*
NAME
  frame.go

DESCRIPTION
  frame.go defines the link-layer frame carried by the spread-spectrum
  physical layer and its transmit-side encoding: preamble, sync word,
  FEC-coded header, FEC-coded payload and trailing CRC.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Scott Barnard <scott@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package frame provides the link-layer framing for the spread-spectrum
// path: frame encoding on transmit and a soft-bit consuming deframer on
// receive. A frame on the wire is
//
//	PREAMBLE | SYNC_WORD | FEC(HEADER) | FEC(PAYLOAD) | CRC
//
// where the header is always coded with the short header code so it can be
// read before the payload code is known, and the header declares the
// payload code and length.
package frame

import (
	"fmt"

	"github.com/ausocean/acoustic/fec"
	"github.com/ausocean/acoustic/modem"
	"github.com/ausocean/utils/logging"
)

// Frame types.
const (
	TypeData    = 0x0
	TypeControl = 0x1
)

// Wire constants.
const (
	// preambleBits of an alternating 10 pattern open every frame for
	// bit-sync refinement; sized generously so chip acquisition can burn
	// a few bits before the deframer needs to see the pattern.
	preambleBits = 32

	// windowBits is the deframer's sliding match window over the
	// preamble and sync word.
	windowBits = 16

	// headerBytes is seq, type|code, and a two byte payload length.
	headerBytes = 4

	headerCode = fec.BCH15
)

// syncWord marks start of frame after the preamble.
var syncWord = []byte{0xD3, 0x91}

// CRCMode selects the frame checksum; fixed at build of a link, not
// negotiated.
type CRCMode int

const (
	CRC16Mode CRCMode = iota // CCITT, two bytes.
	CRC8Mode                 // One byte, for very short frames.
)

// Bytes returns the checksum length in bytes.
func (m CRCMode) Bytes() int {
	if m == CRC8Mode {
		return 1
	}
	return 2
}

// Default configuration values.
const (
	defaultPayloadCode   = fec.LDPC128
	defaultPreambleScore = 0.75
	defaultSyncDistance  = 2
	defaultMaxPayload    = 1024
	defaultHealthLimit   = 5
	defaultSyncLookahead = 64
)

// Config holds framing parameters shared by encoder and deframer.
type Config struct {
	PayloadCode fec.Code
	CRC         CRCMode

	// PreambleScore is the fraction of preamble bits that must match
	// before the sync word search opens.
	PreambleScore float64

	// SyncDistance is the maximum Hamming distance accepted on the sync
	// word.
	SyncDistance int

	// SyncLookahead bounds how many bits past the preamble the sync word
	// may arrive before the search abandons, preventing livelock.
	SyncLookahead int

	MaxPayload int

	// HealthLimit is the number of consecutive frame failures after which
	// the deframer reports unhealthy.
	HealthLimit int

	Logger logging.Logger
}

// Validate applies defaults to unset fields.
func (c *Config) Validate() error {
	if !c.PayloadCode.Valid() {
		c.PayloadCode = defaultPayloadCode
	}
	if c.PreambleScore <= 0 || c.PreambleScore > 1 {
		c.PreambleScore = defaultPreambleScore
	}
	if c.SyncDistance < 0 || c.SyncDistance > 8 {
		c.SyncDistance = defaultSyncDistance
	}
	if c.SyncLookahead <= 0 {
		c.SyncLookahead = defaultSyncLookahead
	}
	if c.MaxPayload <= 0 || c.MaxPayload > 0xFFFF {
		c.MaxPayload = defaultMaxPayload
	}
	if c.HealthLimit <= 0 {
		c.HealthLimit = defaultHealthLimit
	}
	return nil
}

// Frame is one link-layer frame.
type Frame struct {
	Seq     uint8
	Type    uint8
	Code    fec.Code // Payload code, from the header on receive.
	Payload []byte
}

// header serialises the frame header: seq, type and payload code packed
// into one byte, then the payload length big endian.
func (f *Frame) header() []byte {
	return []byte{
		f.Seq,
		f.Type<<4 | uint8(f.Code)&0x0F,
		byte(len(f.Payload) >> 8),
		byte(len(f.Payload)),
	}
}

// parseHeader rebuilds frame metadata from decoded header bytes.
func parseHeader(h []byte) (seq, typ uint8, code fec.Code, length int) {
	return h[0], h[1] >> 4, fec.Code(h[1] & 0x0F), int(h[2])<<8 | int(h[3])
}

// Encode serialises a frame to wire bits, one bit per byte. The frame's
// Code field is ignored; the config's payload code is used and declared in
// the header.
func Encode(f Frame, c Config) ([]byte, error) {
	err := c.Validate()
	if err != nil {
		return nil, err
	}
	if len(f.Payload) > c.MaxPayload {
		return nil, fmt.Errorf("frame: payload length %d exceeds maximum %d", len(f.Payload), c.MaxPayload)
	}

	f.Code = c.PayloadCode
	hdr := f.header()

	bits := make([]byte, 0, preambleBits+len(syncWord)*8+
		headerCode.CodedBits(headerBytes*8)+
		c.PayloadCode.CodedBits(len(f.Payload)*8)+
		c.CRC.Bytes()*8)

	for i := 0; i < preambleBits; i++ {
		bits = append(bits, byte(1-i%2)) // 1 0 1 0 ...
	}
	bits = append(bits, modem.UnpackBits(syncWord)...)

	codedHdr, err := fec.Encode(modem.UnpackBits(hdr), headerCode)
	if err != nil {
		return nil, err
	}
	bits = append(bits, codedHdr...)

	if len(f.Payload) > 0 {
		codedPayload, err := fec.Encode(modem.UnpackBits(f.Payload), c.PayloadCode)
		if err != nil {
			return nil, err
		}
		bits = append(bits, codedPayload...)
	}

	crc := checksum(hdr, f.Payload, c.CRC)
	bits = append(bits, modem.UnpackBits(crc)...)
	return bits, nil
}

// checksum computes the configured CRC over header then payload.
func checksum(hdr, payload []byte, mode CRCMode) []byte {
	buf := make([]byte, 0, len(hdr)+len(payload))
	buf = append(buf, hdr...)
	buf = append(buf, payload...)
	if mode == CRC8Mode {
		return []byte{CRC8(buf)}
	}
	crc := CRC16(buf)
	return []byte{byte(crc >> 8), byte(crc)}
}
