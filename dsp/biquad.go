/*
NAME
  biquad.go

DESCRIPTION
  biquad.go provides a biquadratic IIR filter section used by the FSK
  demodulator's band-pass prefilter and baud-rate low-pass arms.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package dsp provides the signal processing primitives shared by the modem
// implementations: biquad IIR sections, windowed-sinc FIR design with FFT
// convolution, and phase-accumulating oscillators.
package dsp

import "math"

// BiquadKind selects the response of a Biquad section.
type BiquadKind int

const (
	LowPass BiquadKind = iota
	HighPass
	BandPass
)

// Biquad is a single direct-form-1 biquadratic IIR filter section.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

// NewBiquad returns a section configured for the given response kind,
// centre/cutoff frequency and Q at the given sample rate. A Q of zero
// selects a first-order-like gentle response (Q = 1/sqrt2).
func NewBiquad(kind BiquadKind, freq, sampleRate, q float64) *Biquad {
	var f Biquad
	f.Configure(kind, freq, sampleRate, q)
	return &f
}

// Configure recomputes the section coefficients. State is retained so a
// running filter may be retuned.
func (f *Biquad) Configure(kind BiquadKind, freq, sampleRate, q float64) {
	if q <= 0 {
		q = 1 / math.Sqrt2
	}
	omega := 2 * math.Pi * freq / sampleRate
	sin := math.Sin(omega)
	cos := math.Cos(omega)
	alpha := sin / (2 * q)

	var b0, b1, b2, a0, a1, a2 float64
	switch kind {
	case LowPass:
		b0 = (1 - cos) / 2
		b1 = 1 - cos
		b2 = (1 - cos) / 2
	case HighPass:
		b0 = (1 + cos) / 2
		b1 = -(1 + cos)
		b2 = (1 + cos) / 2
	case BandPass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
	}
	a0 = 1 + alpha
	a1 = -2 * cos
	a2 = 1 - alpha

	f.b0 = b0 / a0
	f.b1 = b1 / a0
	f.b2 = b2 / a0
	f.a1 = a1 / a0
	f.a2 = a2 / a0
}

// Filter runs one sample through the section.
func (f *Biquad) Filter(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Reset clears the section's delay line.
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}
