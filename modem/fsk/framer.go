/*
NAME
  framer.go

DESCRIPTION
  framer.go provides the per-sample byte framing state machine that sits at
  the end of the FSK demodulation chain, recovering start/stop framed bytes
  from the discriminator output by majority vote.

AUTHOR
  Alan Noble <alan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package fsk

import "github.com/ausocean/acoustic/dsp/ring"

// Framer states.
const (
	stateWaiting = iota // Line idle, watching for the first space sample.
	stateStart          // Qualifying the start bit.
	stateData           // Committing data bits by majority vote.
	stateStop           // Riding out the stop bits before emit.
)

// byteFramer consumes discriminator samples, downsampled by a fixed
// factor, and emits bytes. A start qualification that fails is a framing
// error; the partial byte is discarded and the machine returns to waiting.
type byteFramer struct {
	threshold   float64
	downsample  int
	ticksPerBit float64
	startTicks  float64
	stopTicks   float64

	state      int
	downCount  int
	tickCount  float64
	markVotes  int
	spaceVotes int
	bitIndex   int
	cur        byte

	out           *ring.Buffer[uint8]
	framingErrors int
}

func newByteFramer(c Config, samplesPerBit float64, out *ring.Buffer[uint8]) *byteFramer {
	ticks := samplesPerBit / float64(c.Downsample)
	return &byteFramer{
		threshold:   c.Threshold,
		downsample:  c.Downsample,
		ticksPerBit: ticks,
		startTicks:  float64(c.StartBits) * ticks,
		stopTicks:   c.StopBits * ticks,
		out:         out,
	}
}

// in consumes one discriminator sample. Only every downsample-th sample
// becomes a tick of the state machine.
func (f *byteFramer) in(v float64) {
	f.downCount++
	if f.downCount < f.downsample {
		return
	}
	f.downCount = 0
	f.tick(v)
}

func (f *byteFramer) tick(v float64) {
	mark := v > f.threshold
	space := v < -f.threshold

	switch f.state {
	case stateWaiting:
		if !space {
			return
		}
		f.state = stateStart
		f.tickCount = 1
		f.markVotes = 0
		f.spaceVotes = 1

	case stateStart:
		f.vote(mark, space)
		f.tickCount++
		if f.tickCount < f.startTicks {
			return
		}
		if f.spaceVotes > f.markVotes {
			f.state = stateData
			f.tickCount -= f.startTicks
			f.resetVotes()
			f.bitIndex = 0
			f.cur = 0
			return
		}
		// A noise blip, not a start bit.
		f.framingErrors++
		f.state = stateWaiting

	case stateData:
		f.vote(mark, space)
		f.tickCount++
		if f.tickCount < f.ticksPerBit {
			return
		}
		f.tickCount -= f.ticksPerBit
		f.cur <<= 1
		if f.markVotes > f.spaceVotes {
			f.cur |= 1
		}
		f.resetVotes()
		f.bitIndex++
		if f.bitIndex == 8 {
			f.state = stateStop
		}

	case stateStop:
		f.tickCount++
		if f.tickCount < f.stopTicks {
			return
		}
		f.out.Put(f.cur)
		f.state = stateWaiting
	}
}

func (f *byteFramer) vote(mark, space bool) {
	if mark {
		f.markVotes++
	} else if space {
		f.spaceVotes++
	}
}

func (f *byteFramer) resetVotes() {
	f.markVotes = 0
	f.spaceVotes = 0
}
