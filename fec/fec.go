/*
NAME
  fec.go

DESCRIPTION
  fec.go defines the forward-error-correction codes available to the
  framer and the encode/decode entry points shared by them.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package fec provides the forward error correction used to protect frame
// headers and payloads: a short table-driven BCH block code and two
// soft-decision LDPC codes decoded by belief propagation. Data moves in
// and out as one bit per byte; callers pack to bytes at the frame layer.
package fec

import (
	"fmt"

	"github.com/ausocean/acoustic/modem"
)

// Code identifies a supported block code.
type Code int

const (
	// BCH15 is BCH(15,7), correcting two bit errors per block. Used for
	// frame headers, which must decode before the payload code is known.
	BCH15 Code = iota

	// LDPC128 is a rate-1/2 (128,64) low-density parity-check code.
	LDPC128

	// LDPC256 is a rate-1/2 (256,128) low-density parity-check code.
	LDPC256
)

// String returns the conventional name of the code.
func (c Code) String() string {
	switch c {
	case BCH15:
		return "BCH(15,7)"
	case LDPC128:
		return "LDPC(128,64)"
	case LDPC256:
		return "LDPC(256,128)"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Valid reports whether c names a supported code.
func (c Code) Valid() bool { return c >= BCH15 && c <= LDPC256 }

// BlockBits returns the codeword length of one block in bits.
func (c Code) BlockBits() int {
	switch c {
	case BCH15:
		return 15
	case LDPC128:
		return 128
	case LDPC256:
		return 256
	}
	return 0
}

// DataBits returns the number of data bits carried by one block.
func (c Code) DataBits() int {
	switch c {
	case BCH15:
		return 7
	case LDPC128:
		return 64
	case LDPC256:
		return 128
	}
	return 0
}

// CodedBits returns the total coded length for n data bits: full blocks,
// with the final block zero padded.
func (c Code) CodedBits(n int) int {
	k := c.DataBits()
	blocks := (n + k - 1) / k
	return blocks * c.BlockBits()
}

// Encode codes the given data bits (one bit per byte) with the given code,
// zero padding the final block. The output is one bit per byte.
func Encode(bits []byte, c Code) ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("fec: unsupported code %v", c)
	}

	k := c.DataBits()
	n := c.BlockBits()
	blocks := (len(bits) + k - 1) / k

	out := make([]byte, 0, blocks*n)
	block := make([]byte, k)
	for i := 0; i < blocks; i++ {
		for j := range block {
			block[j] = 0
		}
		copy(block, bits[i*k:min(len(bits), (i+1)*k)])

		switch c {
		case BCH15:
			out = append(out, bchEncode(block)...)
		case LDPC128:
			out = append(out, ldpc128.encode(block)...)
		case LDPC256:
			out = append(out, ldpc256.encode(block)...)
		}
	}
	return out, nil
}

// Decode decodes coded soft bits into nData data bits (one bit per byte).
// The second return is false if any block fails to decode.
func Decode(llrs []modem.LLR, c Code, nData int) ([]byte, bool) {
	if !c.Valid() {
		return nil, false
	}

	k := c.DataBits()
	n := c.BlockBits()
	blocks := (nData + k - 1) / k
	if len(llrs) < blocks*n {
		return nil, false
	}

	out := make([]byte, 0, blocks*k)
	ok := true
	for i := 0; i < blocks; i++ {
		seg := llrs[i*n : (i+1)*n]
		var data []byte
		var good bool
		switch c {
		case BCH15:
			data, good = bchDecode(seg)
		case LDPC128:
			data, good = ldpc128.decode(seg)
		case LDPC256:
			data, good = ldpc256.decode(seg)
		}
		if !good {
			ok = false
		}
		out = append(out, data...)
	}
	return out[:nData], ok
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
