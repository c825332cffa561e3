/*
NAME
  fir.go

DESCRIPTION
  fir.go provides windowed-sinc FIR low-pass design, FFT fast convolution
  and a streaming decimating FIR used by the spread-spectrum carrier
  demodulator.

AUTHOR
  David Sutton <davidsutton@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package dsp

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// LowPassCoeffs designs a windowed-sinc low-pass FIR with the given number
// of taps and cutoff frequency fc at the given sample rate. taps must be
// even; the filter has taps+1 coefficients and is Hamming windowed.
func LowPassCoeffs(fc, sampleRate float64, taps int) ([]float64, error) {
	if fc <= 0 || fc >= sampleRate/2 {
		return nil, errors.New("dsp: cutoff frequency out of bounds")
	}
	if taps <= 0 || taps%2 != 0 {
		return nil, errors.New("dsp: taps must be positive and even")
	}

	fd := fc / sampleRate
	size := taps + 1
	coeffs := make([]float64, size)
	b := 2 * math.Pi * fd
	winData := window.Hamming(size)
	for n := 0; n < taps/2; n++ {
		c := float64(n) - float64(taps)/2
		y := math.Sin(c*b) / (math.Pi * c)
		coeffs[n] = y * winData[n]
		coeffs[size-1-n] = coeffs[n]
	}
	coeffs[taps/2] = 2 * fd * winData[taps/2]
	return coeffs, nil
}

// HighPassCoeffs designs a windowed-sinc high-pass FIR by spectral
// inversion of the corresponding low-pass. taps must be even.
func HighPassCoeffs(fc, sampleRate float64, taps int) ([]float64, error) {
	if fc <= 0 || fc >= sampleRate/2 {
		return nil, errors.New("dsp: cutoff frequency out of bounds")
	}
	if taps <= 0 || taps%2 != 0 {
		return nil, errors.New("dsp: taps must be positive and even")
	}

	fd := fc / sampleRate
	size := taps + 1
	coeffs := make([]float64, size)
	b := 2 * math.Pi * fd
	winData := window.Hamming(size)
	for n := 0; n < taps/2; n++ {
		c := float64(n) - float64(taps)/2
		y := math.Sin(c*b) / (math.Pi * c)
		coeffs[n] = -y * winData[n]
		coeffs[size-1-n] = coeffs[n]
	}
	coeffs[taps/2] = (1 - 2*fd) * winData[taps/2]
	return coeffs, nil
}

// BandPassCoeffs designs a band-pass FIR for [fLow,fHigh] by convolving a
// high-pass at fLow with a low-pass at fHigh.
func BandPassCoeffs(fLow, fHigh, sampleRate float64, taps int) ([]float64, error) {
	if fLow >= fHigh {
		return nil, errors.New("dsp: band edges out of order")
	}
	hp, err := HighPassCoeffs(fLow, sampleRate, taps)
	if err != nil {
		return nil, err
	}
	lp, err := LowPassCoeffs(fHigh, sampleRate, taps)
	if err != nil {
		return nil, err
	}
	return FastConvolve(hp, lp)
}

// FastConvolve computes the linear convolution of a signal with an FIR
// filter in O(n log n) time using FFTs.
func FastConvolve(x, h []float64) ([]float64, error) {
	if len(x) == 0 || len(h) == 0 {
		return nil, errors.New("dsp: convolution requires slices of length > 0")
	}

	convLen := len(x) + len(h) - 1

	// Pad both signals to the next power of 2 at least convLen long.
	padLen := 1
	for padLen < convLen {
		padLen <<= 1
	}
	xp := make([]float64, padLen)
	hp := make([]float64, padLen)
	copy(xp, x)
	copy(hp, h)

	xf := fft.FFTReal(xp)
	hf := fft.FFTReal(hp)
	for i := range xf {
		xf[i] *= hf[i]
	}
	yf := fft.IFFT(xf)

	y := make([]float64, convLen)
	for i := range y {
		y[i] = real(yf[i])
	}
	return y, nil
}

// CrossCorrelate computes the cross-correlation of a complex signal with a
// complex reference at every non-negative lag where the reference fits
// entirely within the signal, using FFT fast convolution. The reference is
// conjugated and time reversed so the result at lag k is
// sum_n x[k+n]·conj(ref[n]).
func CrossCorrelate(x, ref []complex128) ([]complex128, error) {
	if len(x) == 0 || len(ref) == 0 {
		return nil, errors.New("dsp: correlation requires slices of length > 0")
	}
	if len(ref) > len(x) {
		return nil, errors.New("dsp: reference longer than signal")
	}

	convLen := len(x) + len(ref) - 1
	padLen := 1
	for padLen < convLen {
		padLen <<= 1
	}
	xp := make([]complex128, padLen)
	hp := make([]complex128, padLen)
	copy(xp, x)
	// Conjugate and reverse the reference so convolution becomes correlation.
	for i, r := range ref {
		hp[len(ref)-1-i] = cmplx.Conj(r)
	}

	xf := fft.FFT(xp)
	hf := fft.FFT(hp)
	for i := range xf {
		xf[i] *= hf[i]
	}
	yf := fft.IFFT(xf)

	nLags := len(x) - len(ref) + 1
	out := make([]complex128, nLags)
	// Full correlation values start where the reference fully overlaps.
	copy(out, yf[len(ref)-1:len(ref)-1+nLags])
	return out, nil
}

// FIR is a streaming FIR filter with optional decimation. It keeps its own
// delay line so it can be fed sample by sample from the audio callback
// without allocation.
type FIR struct {
	coeffs []float64
	delay  []float64
	pos    int
	decim  int
	phase  int
}

// NewFIR returns a streaming FIR over the given coefficients, emitting one
// output for every decim inputs. A decim of 0 or 1 disables decimation.
func NewFIR(coeffs []float64, decim int) *FIR {
	if decim < 1 {
		decim = 1
	}
	return &FIR{
		coeffs: coeffs,
		delay:  make([]float64, len(coeffs)),
		decim:  decim,
	}
}

// In pushes one sample through the filter. The returned bool reports
// whether an output sample was produced this tick.
func (f *FIR) In(x float64) (float64, bool) {
	f.delay[f.pos] = x
	f.pos = (f.pos + 1) % len(f.delay)

	f.phase++
	if f.phase < f.decim {
		return 0, false
	}
	f.phase = 0

	var y float64
	idx := f.pos
	for i := len(f.coeffs) - 1; i >= 0; i-- {
		y += f.coeffs[i] * f.delay[idx]
		idx++
		if idx == len(f.delay) {
			idx = 0
		}
	}
	return y, true
}

// Reset clears the delay line and decimation phase.
func (f *FIR) Reset() {
	for i := range f.delay {
		f.delay[i] = 0
	}
	f.pos = 0
	f.phase = 0
}
