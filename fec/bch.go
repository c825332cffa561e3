/*
NAME
  bch.go

DESCRIPTION
  bch.go provides the BCH(15,7) block code used for frame headers:
  systematic polynomial encoding and table-driven syndrome decoding
  correcting up to two bit errors per block.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package fec

import "github.com/ausocean/acoustic/modem"

// Generator polynomial of BCH(15,7):
// g(x) = (x^4+x+1)(x^4+x^3+x^2+x+1) = x^8+x^7+x^6+x^4+1.
const bchGen = 0x1D1

// bchSyndromes maps each 8-bit syndrome to its 15-bit error pattern, for
// all error patterns of weight at most two. Built once at init.
var bchSyndromes map[uint16]uint16

func init() {
	bchSyndromes = make(map[uint16]uint16, 121)
	bchSyndromes[0] = 0
	for i := 0; i < 15; i++ {
		e1 := uint16(1) << i
		bchSyndromes[bchSyndrome(e1)] = e1
		for j := i + 1; j < 15; j++ {
			e2 := e1 | uint16(1)<<j
			bchSyndromes[bchSyndrome(e2)] = e2
		}
	}
}

// bchSyndrome reduces a 15-bit word modulo the generator polynomial.
func bchSyndrome(w uint16) uint16 {
	for i := 14; i >= 8; i-- {
		if w&(1<<i) != 0 {
			w ^= bchGen << (i - 8)
		}
	}
	return w & 0xFF
}

// bchEncode codes 7 data bits (one bit per byte, MSB of the block first)
// into a 15-bit systematic codeword: data bits then parity bits.
func bchEncode(data []byte) []byte {
	var d uint16
	for _, b := range data[:7] {
		d = d<<1 | uint16(b&1)
	}

	// Systematic: codeword = d·x^8 + (d·x^8 mod g).
	w := d << 8
	parity := bchSyndrome(w)
	cw := w | uint16(parity)

	out := make([]byte, 15)
	for i := range out {
		out[i] = byte(cw >> (14 - i) & 1)
	}
	return out
}

// bchDecode hard-decides 15 soft bits, corrects up to two bit errors by
// syndrome lookup, and returns the 7 data bits. ok is false if the
// syndrome does not correspond to a correctable pattern.
func bchDecode(llrs []modem.LLR) ([]byte, bool) {
	var cw uint16
	for i := 0; i < 15; i++ {
		cw = cw<<1 | uint16(llrs[i].Bit())
	}

	syn := bchSyndrome(cw)
	pattern, ok := bchSyndromes[syn]
	if ok {
		cw ^= pattern
	}

	data := make([]byte, 7)
	for i := range data {
		data[i] = byte(cw >> (14 - i) & 1)
	}
	return data, ok
}
