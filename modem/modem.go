/*
NAME
  modem.go

DESCRIPTION
  modem.go defines the contracts shared by the physical layer
  implementations: the soft-bit representation and the streaming processor
  interface the data channel drives.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Alan Noble <alan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package modem defines the types shared by the physical layers of the
// acoustic link: soft bits, the streaming processor contract, and helpers
// for moving between bits and bytes.
package modem

import "errors"

// Errors common to the physical layers.
var (
	ErrNotConfigured = errors.New("modem: not configured")
	ErrBusy          = errors.New("modem: operation already in progress")
)

// LLR is a soft bit: a signed log-likelihood ratio where positive means 0,
// negative means 1, and magnitude carries confidence. Values saturate
// to ±127.
type LLR int8

// Saturate converts a real-valued log-likelihood ratio to an LLR, clamping
// to the int8 range.
func Saturate(x float64) LLR {
	if x > 127 {
		return 127
	}
	if x < -127 {
		return -127
	}
	return LLR(x)
}

// Bit returns the hard decision for the soft bit: 0 for non-negative
// values, 1 otherwise.
func (l LLR) Bit() byte {
	if l < 0 {
		return 1
	}
	return 0
}

// Abs returns the confidence magnitude of the soft bit.
func (l LLR) Abs() int {
	if l < 0 {
		return int(-int16(l))
	}
	return int(l)
}

// Processor is a streaming DSP engine run inside the real-time audio
// callback. ProcessBlock is the only method invoked on the audio path; the
// remaining methods are invoked by the data channel's service loop between
// blocks, on the same goroutine, so implementations need no locking.
type Processor interface {
	// ProcessBlock consumes one block of input samples and fills one block
	// of output samples. It must be allocation-free and non-blocking in
	// steady state.
	ProcessBlock(in, out []float32)

	// Configure applies a configuration value. The concrete type is
	// specific to the processor. Configure may only be called once per
	// reset.
	Configure(cfg interface{}) error

	// Submit queues bytes for modulation. It fails if the processor is
	// unconfigured or a previous submission is still draining.
	Submit(data []byte) error

	// TxPending reports whether queued transmit samples remain.
	TxPending() bool

	// NextFrame returns the next decoded byte array if one is available.
	NextFrame() ([]byte, bool)

	// Reset restores the processor to its unconfigured initial state
	// without reallocating.
	Reset()
}

// PackBits packs a bit-per-element slice (values 0 or 1, MSB first) into
// bytes.
func PackBits(bits []byte) []byte {
	packed := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b != 0 {
			packed[i/8] |= 1 << (7 - i%8)
		}
	}
	return packed
}

// UnpackBits expands bytes into a bit-per-element slice, MSB first.
func UnpackBits(data []byte) []byte {
	bits := make([]byte, len(data)*8)
	for i := range bits {
		if data[i/8]&(1<<(7-i%8)) != 0 {
			bits[i] = 1
		}
	}
	return bits
}
