/*
NAME
  agc.go

DESCRIPTION
  agc.go provides a one-pole peak-tracking automatic gain control used to
  normalise incoming audio before demodulation.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package agc provides automatic gain control for the modem receive path.
// The controller tracks the peak envelope of the gained signal with an
// asymmetric one-pole filter and steers the gain so the envelope converges
// on a target level.
package agc

import (
	"errors"
	"math"
)

// Default configuration values.
const (
	defaultTarget    = 0.5
	defaultAttackMs  = 5.0
	defaultReleaseMs = 200.0
	defaultGainMin   = 0.1
	defaultGainMax   = 10.0
	defaultAlpha     = 1.0
)

// envelopeFloor is the level below which the gained input sample, or the
// envelope, is treated as silence and the gain is held. Without this, long silences would wind the
// gain up to gainMax and the first samples of a transmission would clip.
const envelopeFloor = 1e-6

// Configuration field errors.
var (
	errInvalidTarget = errors.New("agc: target must be in (0,1], defaulting")
	errInvalidGains  = errors.New("agc: gain bounds invalid, defaulting")
	errInvalidTimes  = errors.New("agc: time constants must be positive, defaulting")
)

// Config holds AGC parameters. Time constants are in milliseconds.
type Config struct {
	Target     float64 // Desired envelope level, in (0,1].
	AttackMs   float64 // Envelope attack time constant.
	ReleaseMs  float64 // Envelope release time constant.
	GainMin    float64
	GainMax    float64
	Alpha      float64 // Gain correction exponent.
	SampleRate float64
}

// AGC is a one-pole peak tracking automatic gain controller.
type AGC struct {
	cfg      Config
	attack   float64 // Attack coefficient, derived from AttackMs.
	release  float64 // Release coefficient, derived from ReleaseMs.
	gain     float64
	envelope float64
}

// New returns an AGC for the given config, applying defaults for fields that
// are out of range and collecting the corresponding errors. The returned
// error, if non-nil, wraps the defaulted fields but the AGC is usable.
func New(cfg Config) (*AGC, error) {
	var errs []error
	if cfg.Target <= 0 || cfg.Target > 1 {
		errs = append(errs, errInvalidTarget)
		cfg.Target = defaultTarget
	}
	if cfg.GainMin <= 0 || cfg.GainMax < cfg.GainMin {
		errs = append(errs, errInvalidGains)
		cfg.GainMin = defaultGainMin
		cfg.GainMax = defaultGainMax
	}
	if cfg.AttackMs <= 0 || cfg.ReleaseMs <= 0 {
		errs = append(errs, errInvalidTimes)
		cfg.AttackMs = defaultAttackMs
		cfg.ReleaseMs = defaultReleaseMs
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = defaultAlpha
	}
	if cfg.SampleRate <= 0 {
		return nil, errors.New("agc: sample rate must be positive")
	}

	a := &AGC{cfg: cfg, gain: 1}
	a.attack = coefficient(cfg.AttackMs, cfg.SampleRate)
	a.release = coefficient(cfg.ReleaseMs, cfg.SampleRate)
	return a, errors.Join(errs...)
}

// coefficient derives a one-pole smoothing coefficient from a time constant
// in milliseconds at the given sample rate.
func coefficient(ms, rate float64) float64 {
	return math.Exp(-1 / (ms * rate / 1000))
}

// Apply gains a single sample and updates the envelope and gain state.
func (a *AGC) Apply(x float32) float32 {
	y := a.gain * float64(x)
	mag := math.Abs(y)

	// Asymmetric envelope: fast attack above target, slow release below.
	// An empty envelope is seeded from the sample so the gain does not
	// first climb while the envelope charges up from zero.
	c := a.release
	if mag > a.cfg.Target {
		c = a.attack
	}
	if a.envelope == 0 {
		a.envelope = mag
	} else {
		a.envelope = c*a.envelope + (1-c)*mag
	}

	// Hold the gain over silence so idle periods don't wind it to the rail.
	if mag > envelopeFloor && a.envelope > envelopeFloor {
		err := a.cfg.Target / (a.envelope + 1e-12)
		a.gain *= math.Pow(err, a.cfg.Alpha*(1-c))
		a.gain = clamp(a.gain, a.cfg.GainMin, a.cfg.GainMax)
	}

	return float32(y)
}

// ApplyBlock gains a block of samples in place.
func (a *AGC) ApplyBlock(xs []float32) {
	for i, x := range xs {
		xs[i] = a.Apply(x)
	}
}

// Gain returns the current gain.
func (a *AGC) Gain() float64 { return a.gain }

// Envelope returns the current envelope estimate.
func (a *AGC) Envelope() float64 { return a.envelope }

// Reset restores the controller to initial state with the given starting
// gain. A non-positive gain resets to unity.
func (a *AGC) Reset(initialGain float64) {
	if initialGain <= 0 {
		initialGain = 1
	}
	a.gain = clamp(initialGain, a.cfg.GainMin, a.cfg.GainMax)
	a.envelope = 0
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
