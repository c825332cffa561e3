/*
NAME
  framer.go

DESCRIPTION
  framer.go provides the receive-side deframer: a state machine over a
  stream of soft bits that hunts the preamble, locks the sync word, decodes
  the FEC-coded header and payload, and emits CRC-checked frames.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package frame

import (
	"math/bits"

	"github.com/ausocean/acoustic/fec"
	"github.com/ausocean/acoustic/modem"
)

// Deframer states.
const (
	searchingPreamble = iota
	searchingSyncWord
	readingHeader
	readingPayload
)

// Alternating preamble patterns, both phases.
const (
	preamblePatternA = 0xAAAA
	preamblePatternB = 0x5555
)

// Framer consumes one soft bit at a time and produces frames. It is a pure
// consumer: it never reaches back into the synchroniser feeding it.
type Framer struct {
	cfg Config

	state     int
	window    uint16 // Hard-bit shift register for preamble and sync hunts.
	windowed  int    // Bits accumulated in the window since last reset.
	lookahead int

	collected []modem.LLR // Coded header or payload bits being gathered.
	need      int

	hdr         []byte // Decoded header bytes while reading the payload.
	payloadLen  int
	payloadCode fec.Code

	frames   []*Frame
	failures int // Consecutive frame failures.
	decoded  int // Frames emitted since reset.
}

// NewFramer returns a deframer for the given config.
func NewFramer(c Config) (*Framer, error) {
	err := c.Validate()
	if err != nil {
		return nil, err
	}
	f := &Framer{cfg: c}
	f.Reset()
	return f, nil
}

// Reset restores initial state, discarding any partial frame and pending
// output.
func (f *Framer) Reset() {
	f.state = searchingPreamble
	f.window = 0
	f.windowed = 0
	f.lookahead = 0
	f.collected = f.collected[:0]
	f.hdr = nil
	f.frames = f.frames[:0]
	f.failures = 0
	f.decoded = 0
}

// Healthy reports whether the deframer has seen fewer consecutive frame
// failures than the configured limit.
func (f *Framer) Healthy() bool { return f.failures < f.cfg.HealthLimit }

// Decoded returns the number of frames emitted since reset.
func (f *Framer) Decoded() int { return f.decoded }

// Next pops the oldest decoded frame, if any.
func (f *Framer) Next() (*Frame, bool) {
	if len(f.frames) == 0 {
		return nil, false
	}
	fr := f.frames[0]
	f.frames = f.frames[1:]
	return fr, true
}

// In consumes one soft bit.
func (f *Framer) In(l modem.LLR) {
	switch f.state {
	case searchingPreamble:
		f.shift(l)
		if f.windowed < windowBits {
			return
		}
		if f.preambleScore() >= f.cfg.PreambleScore {
			f.state = searchingSyncWord
			f.lookahead = 0
		}

	case searchingSyncWord:
		f.shift(l)
		f.lookahead++
		sync := uint16(syncWord[0])<<8 | uint16(syncWord[1])
		if bits.OnesCount16(f.window^sync) <= f.cfg.SyncDistance {
			f.enterCollect(readingHeader, headerCode.CodedBits(headerBytes*8))
			return
		}
		if f.lookahead > f.cfg.SyncLookahead {
			// The sync word never arrived; treat as a failed frame.
			f.fail()
		}

	case readingHeader:
		if !f.collect(l) {
			return
		}
		f.finishHeader()

	case readingPayload:
		if !f.collect(l) {
			return
		}
		f.finishPayload()
	}
}

// shift pushes the hard decision of l into the bit window.
func (f *Framer) shift(l modem.LLR) {
	f.window = f.window<<1 | uint16(l.Bit())
	if f.windowed < windowBits {
		f.windowed++
	}
}

// preambleScore returns the best match fraction of the window against the
// two phases of the alternating preamble.
func (f *Framer) preambleScore() float64 {
	a := windowBits - bits.OnesCount16(f.window^preamblePatternA)
	b := windowBits - bits.OnesCount16(f.window^preamblePatternB)
	best := a
	if b > best {
		best = b
	}
	return float64(best) / windowBits
}

// enterCollect moves to a collecting state needing n coded bits.
func (f *Framer) enterCollect(state, n int) {
	f.state = state
	f.collected = f.collected[:0]
	f.need = n
}

// collect accumulates a soft bit, reporting true once need is met.
func (f *Framer) collect(l modem.LLR) bool {
	f.collected = append(f.collected, l)
	return len(f.collected) >= f.need
}

func (f *Framer) finishHeader() {
	hdrBits, ok := fec.Decode(f.collected, headerCode, headerBytes*8)
	if !ok {
		f.fail()
		return
	}
	hdr := modem.PackBits(hdrBits)
	_, typ, code, length := parseHeader(hdr)
	if typ > TypeControl || !code.Valid() || length > f.cfg.MaxPayload {
		f.fail()
		return
	}

	f.hdr = hdr
	f.payloadCode = code
	f.payloadLen = length
	f.enterCollect(readingPayload, code.CodedBits(length*8)+f.cfg.CRC.Bytes()*8)
}

func (f *Framer) finishPayload() {
	crcBits := f.cfg.CRC.Bytes() * 8
	codedPayload := f.collected[:len(f.collected)-crcBits]

	var payload []byte
	if f.payloadLen > 0 {
		payloadBits, ok := fec.Decode(codedPayload, f.payloadCode, f.payloadLen*8)
		if !ok {
			f.fail()
			return
		}
		payload = modem.PackBits(payloadBits)
	}

	// Hard-decide the trailing CRC and verify it over header and payload.
	rx := make([]byte, 0, f.cfg.CRC.Bytes())
	for i := len(f.collected) - crcBits; i < len(f.collected); i += 8 {
		var b byte
		for j := 0; j < 8; j++ {
			b = b<<1 | f.collected[i+j].Bit()
		}
		rx = append(rx, b)
	}
	want := checksum(f.hdr, payload, f.cfg.CRC)
	for i := range want {
		if rx[i] != want[i] {
			f.fail()
			return
		}
	}

	seq, typ, code, _ := parseHeader(f.hdr)
	f.frames = append(f.frames, &Frame{Seq: seq, Type: typ, Code: code, Payload: payload})
	f.decoded++
	f.failures = 0
	f.reenterSearch()
}

// fail abandons the frame in progress and resumes the preamble hunt.
func (f *Framer) fail() {
	f.failures++
	if f.cfg.Logger != nil {
		f.cfg.Logger.Debug("frame failed, resuming preamble search", "consecutive", f.failures)
	}
	f.reenterSearch()
}

func (f *Framer) reenterSearch() {
	f.state = searchingPreamble
	f.window = 0
	f.windowed = 0
	f.collected = f.collected[:0]
	f.hdr = nil
}
