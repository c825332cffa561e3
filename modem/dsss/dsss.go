/*
NAME
  dsss.go

DESCRIPTION
  dsss.go provides the direct-sequence spread-spectrum physical layer:
  configuration, the spreading DPSK modulator, and the streaming processor
  plumbing that ties the synchroniser and deframer into the audio callback.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package dsss implements a direct-sequence spread-spectrum physical layer
// with differential phase-shift keying. Each frame bit is spread by a
// maximum-length sequence, the chips differentially phase modulate a
// carrier, and the receiver acquires chip timing with a sliding correlator
// before despreading soft bits into the link-layer deframer.
package dsss

import (
	"errors"
	"math"

	"github.com/ausocean/acoustic/dsp"
	"github.com/ausocean/acoustic/dsp/ring"
	"github.com/ausocean/acoustic/frame"
	"github.com/ausocean/acoustic/modem"
	"github.com/ausocean/utils/logging"
)

// Default wire parameters.
const (
	defaultCarrierFreq     = 10000.0
	defaultSamplesPerPhase = 23
	defaultSequenceLength  = 31
	defaultSeed            = 0b10101
	defaultCorrThreshold   = 0.5
	defaultPeakToNoise     = 4.0
)

// Default synchroniser tuning.
const (
	defaultMinSyncIntervalMs = 50.0
	defaultWeakLLRThreshold  = 6
	defaultMaxConsecWeak     = 4
	defaultResyncThreshold   = 24.0
	defaultVerifyInterval    = 64
	defaultResyncWindow      = 200
	defaultPadMs             = 20.0
)

// Per-block work bounds for the real-time path.
const (
	txRingSeconds   = 30
	maxBitsPerBlock = 4
)

// Configuration errors.
var (
	errInvalidRate    = errors.New("dsss: sample rate must be positive")
	errInvalidCarrier = errors.New("dsss: carrier must sit below Nyquist with chip bandwidth to spare")
	errBadConfig      = errors.New("dsss: configure expects dsss.Config")
)

// Config holds the spread-spectrum wire parameters and synchroniser
// tuning.
type Config struct {
	CarrierFreq     float64
	SamplesPerPhase int
	SequenceLength  int // 15, 31 or 63.
	Seed            uint32

	CorrelationThreshold float64
	PeakToNoiseRatio     float64

	SampleRate float64
	PadMs      float64 // Silence padding around each transmitted frame.

	// Synchroniser tuning.
	MinSyncIntervalMs  float64
	WeakLLRThreshold   int
	MaxConsecutiveWeak int
	ResyncThreshold    float64
	VerifyIntervalBits int
	ResyncWindow       int // Samples either side for local resync.

	Frame frame.Config

	Logger logging.Logger
}

// Validate applies defaults to unset fields. PadMs is defaulted only when
// negative; zero sends no padding.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return errInvalidRate
	}
	if c.CarrierFreq <= 0 {
		c.CarrierFreq = defaultCarrierFreq
	}
	if c.SamplesPerPhase <= 0 {
		c.SamplesPerPhase = defaultSamplesPerPhase
	}
	if c.SequenceLength <= 0 {
		c.SequenceLength = defaultSequenceLength
	}
	if c.Seed == 0 {
		c.Seed = defaultSeed
	}
	if c.CorrelationThreshold <= 0 || c.CorrelationThreshold > 1 {
		c.CorrelationThreshold = defaultCorrThreshold
	}
	if c.PeakToNoiseRatio <= 0 {
		c.PeakToNoiseRatio = defaultPeakToNoise
	}
	if c.PadMs < 0 {
		c.PadMs = defaultPadMs
	}
	if c.MinSyncIntervalMs <= 0 {
		c.MinSyncIntervalMs = defaultMinSyncIntervalMs
	}
	if c.WeakLLRThreshold <= 0 {
		c.WeakLLRThreshold = defaultWeakLLRThreshold
	}
	if c.MaxConsecutiveWeak <= 0 {
		c.MaxConsecutiveWeak = defaultMaxConsecWeak
	}
	if c.ResyncThreshold <= 0 {
		c.ResyncThreshold = defaultResyncThreshold
	}
	if c.VerifyIntervalBits <= 0 {
		c.VerifyIntervalBits = defaultVerifyInterval
	}
	if c.ResyncWindow <= 0 {
		c.ResyncWindow = defaultResyncWindow
	}

	chipRate := c.SampleRate / float64(c.SamplesPerPhase)
	if c.CarrierFreq+chipRate >= c.SampleRate/2 {
		return errInvalidCarrier
	}
	c.Frame.Logger = c.Logger
	return c.Frame.Validate()
}

// Modem is the spread-spectrum physical layer. It implements
// modem.Processor. All state is owned by the audio goroutine.
type Modem struct {
	cfg        Config
	configured bool

	chips []int8

	// Transmit side.
	osc       *dsp.Osc
	dpskPhase float64
	txRing    *ring.Buffer[float32]
	txSeq     uint8

	// Receive side.
	front   *dsp.FIR // Front-end band-pass around the spread carrier.
	scratch []float32
	tracker *tracker
	framer  *frame.Framer
}

// New returns an unconfigured spread-spectrum modem.
func New() *Modem { return &Modem{} }

// Configure implements modem.Processor. It accepts a dsss.Config.
func (m *Modem) Configure(cfg interface{}) error {
	c, ok := cfg.(Config)
	if !ok {
		return errBadConfig
	}
	err := c.Validate()
	if err != nil {
		return err
	}

	chips, err := mSequence(c.SequenceLength, c.Seed)
	if err != nil {
		return err
	}

	framer, err := frame.NewFramer(c.Frame)
	if err != nil {
		return err
	}

	chipRate := c.SampleRate / float64(c.SamplesPerPhase)
	coeffs, err := dsp.BandPassCoeffs(c.CarrierFreq-1.5*chipRate, c.CarrierFreq+1.5*chipRate, c.SampleRate, 64)
	if err != nil {
		return err
	}

	m.cfg = c
	m.chips = chips
	m.osc = dsp.NewOsc(c.CarrierFreq, c.SampleRate)
	m.dpskPhase = 0
	m.txRing = ring.NewBuffer[float32](int(c.SampleRate) * txRingSeconds)
	m.front = dsp.NewFIR(coeffs, 1)
	m.framer = framer
	m.tracker = newTracker(c, chips, framer.In)
	m.configured = true
	return nil
}

// Submit implements modem.Processor. The bytes are framed, spread and
// modulated into the transmit ring as one link-layer frame.
func (m *Modem) Submit(data []byte) error {
	if !m.configured {
		return modem.ErrNotConfigured
	}
	if m.TxPending() {
		return modem.ErrBusy
	}

	bits, err := frame.Encode(frame.Frame{Seq: m.txSeq, Type: frame.TypeData, Payload: data}, m.cfg.Frame)
	if err != nil {
		return err
	}
	m.txSeq++

	pad := int(m.cfg.PadMs * m.cfg.SampleRate / 1000)
	for i := 0; i < pad; i++ {
		m.txRing.Put(0)
	}

	// Phase reference chip boundary: each frame starts from a zero
	// differential phase.
	m.dpskPhase = 0
	for _, b := range bits {
		m.modulateBit(b)
	}

	for i := 0; i < pad; i++ {
		m.txRing.Put(0)
	}
	return nil
}

// modulateBit spreads one bit into chips and differentially modulates the
// carrier, emitting sequenceLength·samplesPerPhase samples.
func (m *Modem) modulateBit(bit byte) {
	for _, mu := range m.chips {
		chip := mu
		if bit != 0 {
			chip = -chip
		}
		if chip < 0 {
			m.dpskPhase += math.Pi
			if m.dpskPhase >= 2*math.Pi {
				m.dpskPhase -= 2 * math.Pi
			}
		}
		for s := 0; s < m.cfg.SamplesPerPhase; s++ {
			m.txRing.Put(float32(m.osc.NextShifted(m.dpskPhase)))
		}
	}
}

// TxPending implements modem.Processor.
func (m *Modem) TxPending() bool {
	return m.configured && m.txRing.Len() > 0
}

// NextFrame implements modem.Processor, returning the payload of the next
// decoded link-layer frame.
func (m *Modem) NextFrame() ([]byte, bool) {
	if !m.configured {
		return nil, false
	}
	fr, ok := m.framer.Next()
	if !ok {
		return nil, false
	}
	return fr.Payload, true
}

// Sync reports the synchroniser state for diagnostics.
func (m *Modem) Sync() (mode Mode, locked bool, snrDb float64) {
	if !m.configured {
		return Search, false, 0
	}
	return m.tracker.mode, m.tracker.locked, m.tracker.snrDb
}

// Healthy reports deframer health.
func (m *Modem) Healthy() bool {
	return m.configured && m.framer.Healthy()
}

// ProcessBlock implements modem.Processor.
func (m *Modem) ProcessBlock(in, out []float32) {
	if !m.configured {
		for i := range out {
			out[i] = 0
		}
		return
	}

	for i := range out {
		s, err := m.txRing.Remove()
		if err != nil {
			s = 0
		}
		out[i] = s
	}

	// Band-limit the input around the spread carrier before buffering.
	// The filter's constant group delay shifts acquisition and tracking
	// together, so alignment is unaffected.
	filtered := in
	if m.front != nil {
		filtered = m.filterBlock(in)
	}
	m.tracker.write(filtered)
	m.tracker.run(maxBitsPerBlock)
}

func (m *Modem) filterBlock(in []float32) []float32 {
	if cap(m.scratch) < len(in) {
		m.scratch = make([]float32, len(in))
	}
	out := m.scratch[:len(in)]
	for i, x := range in {
		y, _ := m.front.In(float64(x))
		out[i] = float32(y)
	}
	return out
}

// Reset implements modem.Processor.
func (m *Modem) Reset() {
	if !m.configured {
		return
	}
	m.txRing.Clear()
	m.tracker.reset()
	m.framer.Reset()
	m.front.Reset()
	m.configured = false
}
