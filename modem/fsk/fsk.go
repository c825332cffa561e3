/*
NAME
  fsk.go

DESCRIPTION
  fsk.go provides the binary FSK physical layer: configuration, the
  continuous-phase modulator, and the streaming processor plumbing that
  carries bytes to and from the audio callback.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Alan Noble <alan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package fsk implements continuous-phase binary frequency-shift keying
// with start/stop framing per byte, coherent IQ detection and a per-sample
// byte decoder. A byte on the wire is startBits space bits, eight data bits
// MSB first, then stopBits mark bits; between submissions the output is
// silent.
package fsk

import (
	"errors"
	"math"

	"github.com/ausocean/acoustic/dsp"
	"github.com/ausocean/acoustic/dsp/ring"
	"github.com/ausocean/acoustic/modem"
	"github.com/ausocean/utils/logging"
)

// Default wire parameters. The alternate pair serves the reverse direction
// so two stations can transmit simultaneously without echo cancellation.
const (
	defaultMarkFreq   = 1650.0
	defaultSpaceFreq  = 1850.0
	altMarkFreq       = 980.0
	altSpaceFreq      = 1180.0
	defaultBaudRate   = 300.0
	defaultStartBits  = 1
	defaultStopBits   = 1.5
	defaultDownsample = 8
	defaultThreshold  = 1e-5
	defaultLeaderMs   = 20.0
	defaultPadMs      = 10.0
)

// Ring sizing.
const (
	txRingSeconds = 10  // Modulated samples awaiting the audio callback.
	rxRingBytes   = 512 // Decoded bytes awaiting the control side.
)

// Configuration field errors.
var (
	errInvalidFreqs = errors.New("fsk: mark/space frequencies invalid, defaulting")
	errInvalidBaud  = errors.New("fsk: baud rate invalid, defaulting")
	errInvalidRate  = errors.New("fsk: sample rate must be positive")
	errBadConfig    = errors.New("fsk: configure expects fsk.Config")
)

// Config holds the FSK wire parameters.
type Config struct {
	MarkFreq   float64 // Tone for a 1 bit, Hz.
	SpaceFreq  float64 // Tone for a 0 bit, Hz.
	BaudRate   float64
	SampleRate float64
	StartBits  int
	StopBits   float64 // Fractional stop bits are allowed.
	Downsample int     // Demodulator decimation into the byte framer.
	Threshold  float64 // Discriminator dead band.
	LeaderMs   float64 // Mark tone leader before the first byte.
	PadMs      float64 // Silence before the leader and after the last byte.

	// SecondChannel selects the reverse-direction tone pair so both sides
	// of a duplex link can transmit at once.
	SecondChannel bool

	Logger logging.Logger
}

// Validate applies defaults to out-of-range fields, logging the frequency
// and baud rate defaults (the other fields are defaulted silently), and
// returns an error only if the config is unusable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return errInvalidRate
	}
	if c.MarkFreq <= 0 || c.SpaceFreq <= 0 || c.MarkFreq == c.SpaceFreq {
		if c.Logger != nil {
			c.Logger.Warning(errInvalidFreqs.Error())
		}
		c.MarkFreq, c.SpaceFreq = defaultMarkFreq, defaultSpaceFreq
		if c.SecondChannel {
			c.MarkFreq, c.SpaceFreq = altMarkFreq, altSpaceFreq
		}
	}
	if c.BaudRate <= 0 || c.BaudRate > c.SampleRate/4 {
		if c.Logger != nil {
			c.Logger.Warning(errInvalidBaud.Error())
		}
		c.BaudRate = defaultBaudRate
	}
	if c.StartBits <= 0 {
		c.StartBits = defaultStartBits
	}
	if c.StopBits <= 0 {
		c.StopBits = defaultStopBits
	}
	if c.Downsample <= 0 {
		c.Downsample = defaultDownsample
	}
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.LeaderMs < 0 {
		c.LeaderMs = defaultLeaderMs
	}
	if c.PadMs < 0 {
		c.PadMs = defaultPadMs
	}
	return nil
}

// Modem is the FSK physical layer. It implements modem.Processor.
// All state is owned by the audio goroutine; the control side reaches it
// only through the data channel's service loop.
type Modem struct {
	cfg        Config
	configured bool

	samplesPerBit float64

	// Transmit side.
	osc    *dsp.Osc
	txRing *ring.Buffer[float32]

	// Receive side.
	prefilter *dsp.Biquad // Band-pass at the centre of the tone pair.
	mixPhase  float64     // Local oscillator phase for the IQ mixer.
	mixInc    float64
	lpI, lpQ  *dsp.Biquad // Arm low-pass at the baud rate.
	postLP    *dsp.Biquad // Discriminator low-pass.
	lastPhase float64

	framer  *byteFramer
	rxBytes *ring.Buffer[uint8]
}

// New returns an unconfigured FSK modem.
func New() *Modem { return &Modem{} }

// Configure implements modem.Processor. It accepts an fsk.Config.
func (m *Modem) Configure(cfg interface{}) error {
	c, ok := cfg.(Config)
	if !ok {
		return errBadConfig
	}
	err := c.Validate()
	if err != nil {
		return err
	}

	m.cfg = c
	m.samplesPerBit = c.SampleRate / c.BaudRate

	m.osc = dsp.NewOsc(c.MarkFreq, c.SampleRate)
	m.txRing = ring.NewBuffer[float32](int(c.SampleRate) * txRingSeconds)

	centre := (c.MarkFreq + c.SpaceFreq) / 2
	m.prefilter = dsp.NewBiquad(dsp.BandPass, centre, c.SampleRate, 1)
	m.mixInc = 2 * math.Pi * centre / c.SampleRate
	m.lpI = dsp.NewBiquad(dsp.LowPass, c.BaudRate, c.SampleRate, 1)
	m.lpQ = dsp.NewBiquad(dsp.LowPass, c.BaudRate, c.SampleRate, 1)
	m.postLP = dsp.NewBiquad(dsp.LowPass, c.BaudRate, c.SampleRate, 0)

	m.rxBytes = ring.NewBuffer[uint8](rxRingBytes)
	m.framer = newByteFramer(c, m.samplesPerBit, m.rxBytes)
	m.configured = true
	return nil
}

// Submit implements modem.Processor, modulating the given bytes into the
// transmit ring. It fails while a previous submission is still draining.
func (m *Modem) Submit(data []byte) error {
	if !m.configured {
		return modem.ErrNotConfigured
	}
	if m.TxPending() {
		return modem.ErrBusy
	}

	pad := int(m.cfg.PadMs * m.cfg.SampleRate / 1000)
	for i := 0; i < pad; i++ {
		m.txRing.Put(0)
	}
	leader := int(m.cfg.LeaderMs * m.cfg.SampleRate / 1000)
	m.osc.SetFreq(m.cfg.MarkFreq)
	for i := 0; i < leader; i++ {
		m.txRing.Put(float32(m.osc.Next()))
	}

	for _, b := range data {
		m.modulateByte(b)
	}

	for i := 0; i < pad; i++ {
		m.txRing.Put(0)
	}
	return nil
}

// modulateByte emits exactly (startBits + 8 + stopBits)·samplesPerBit
// samples for one byte. Which bit period a sample falls in is derived from
// its index so fractional stop bits come out exact; the oscillator phase is
// carried across bits and bytes.
func (m *Modem) modulateByte(b byte) {
	bitCount := float64(m.cfg.StartBits) + 8 + m.cfg.StopBits
	total := int(math.Round(bitCount * m.samplesPerBit))

	for s := 0; s < total; s++ {
		bit := int(float64(s) / m.samplesPerBit)

		var mark bool
		switch {
		case bit < m.cfg.StartBits:
			mark = false
		case bit < m.cfg.StartBits+8:
			mark = b&(1<<(7-(bit-m.cfg.StartBits))) != 0
		default:
			mark = true
		}

		if mark {
			m.osc.SetFreq(m.cfg.MarkFreq)
		} else {
			m.osc.SetFreq(m.cfg.SpaceFreq)
		}
		m.txRing.Put(float32(m.osc.Next()))
	}
}

// TxPending implements modem.Processor.
func (m *Modem) TxPending() bool {
	return m.configured && m.txRing.Len() > 0
}

// NextFrame implements modem.Processor, draining all decoded bytes
// currently buffered as one array.
func (m *Modem) NextFrame() ([]byte, bool) {
	if !m.configured || m.rxBytes.Len() == 0 {
		return nil, false
	}
	out := make([]byte, 0, m.rxBytes.Len())
	for m.rxBytes.Len() > 0 {
		b, err := m.rxBytes.Remove()
		if err != nil {
			break
		}
		out = append(out, b)
	}
	return out, true
}

// ProcessBlock implements modem.Processor. Output is drawn from the
// transmit ring, zero filled when idle; every input sample runs through the
// demodulation chain.
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

	for _, x := range in {
		m.demodSample(float64(x))
	}
}

// demodSample runs the coherent IQ chain for one input sample and feeds
// the result to the byte framer.
func (m *Modem) demodSample(x float64) {
	x = m.prefilter.Filter(x)

	// Mix with e^{+jωt} so the lower (mark) tone rotates the phase
	// forwards; the wrapped phase step then lands positive out of the
	// discriminator.
	i := x * math.Cos(m.mixPhase)
	q := x * math.Sin(m.mixPhase)
	m.mixPhase += m.mixInc
	if m.mixPhase >= 2*math.Pi {
		m.mixPhase -= 2 * math.Pi
	}

	i = m.lpI.Filter(i)
	q = m.lpQ.Filter(q)

	amp := i*i + q*q
	phase := math.Atan2(q, i) / math.Pi
	delta := math.Mod(m.lastPhase-phase+2, 2) - 1
	m.lastPhase = phase

	// Positive means mark, negative means space.
	m.framer.in(m.postLP.Filter(delta * amp))
}

// FramingErrors returns the count of framing errors seen since configure
// or the last reset.
func (m *Modem) FramingErrors() int {
	if m.framer == nil {
		return 0
	}
	return m.framer.framingErrors
}

// Reset implements modem.Processor, restoring initial unconfigured state.
// Buffers are retained for reuse on the next Configure.
func (m *Modem) Reset() {
	if m.txRing != nil {
		m.txRing.Clear()
	}
	if m.rxBytes != nil {
		m.rxBytes.Clear()
	}
	if m.framer != nil {
		m.framer.framingErrors = 0
	}
	m.configured = false
}
