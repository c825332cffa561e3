/*
NAME
  osc.go

DESCRIPTION
  osc.go provides a phase-accumulating oscillator used by the modulators.
  Phase is carried across calls so concatenated tone segments join without
  discontinuity.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package dsp

import "math"

// Osc is a sine oscillator with a persistent phase accumulator. The
// accumulator is never reset between tones; retuning changes only the
// phase increment, keeping the output continuous in phase.
type Osc struct {
	sampleRate float64
	phase      float64
	increment  float64
}

// NewOsc returns an oscillator at the given sample rate, initially tuned
// to freq Hz.
func NewOsc(freq, sampleRate float64) *Osc {
	o := &Osc{sampleRate: sampleRate}
	o.SetFreq(freq)
	return o
}

// SetFreq retunes the oscillator without disturbing its phase.
func (o *Osc) SetFreq(freq float64) {
	o.increment = 2 * math.Pi * freq / o.sampleRate
}

// Next produces the next sample and advances the phase.
func (o *Osc) Next() float64 {
	s := math.Sin(o.phase)
	o.advance()
	return s
}

// NextShifted produces the next sample with an additional phase offset,
// used by the DPSK modulator, and advances the accumulator.
func (o *Osc) NextShifted(offset float64) float64 {
	s := math.Cos(o.phase + offset)
	o.advance()
	return s
}

func (o *Osc) advance() {
	o.phase += o.increment
	if o.phase >= 2*math.Pi {
		o.phase -= 2 * math.Pi
	}
}

// Phase returns the current accumulator value in radians.
func (o *Osc) Phase() float64 { return o.phase }

// Reset zeroes the accumulator. Only for use between sessions; resetting
// mid-stream splatters spectrum.
func (o *Osc) Reset() { o.phase = 0 }
