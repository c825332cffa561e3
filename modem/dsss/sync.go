/*
NAME
  sync.go

DESCRIPTION
  sync.go provides spread-spectrum synchronisation: the sliding correlator
  that acquires chip timing, and the SEARCH/TRACK/VERIFY state machine that
  drives continuous demodulation, watching soft-bit quality and falling
  back to reacquisition when the channel collapses.

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

package dsss

import (
	"math"
	"math/cmplx"

	"github.com/ausocean/acoustic/dsp"
	"github.com/ausocean/acoustic/modem"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Mode is the synchroniser state.
type Mode int

const (
	Search Mode = iota
	Track
	Verify
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Search:
		return "SEARCH"
	case Track:
		return "TRACK"
	case Verify:
		return "VERIFY"
	default:
		return "UNKNOWN"
	}
}

// recentLen is the length of the rolling soft-bit quality history.
const recentLen = 10

// SyncParams carries the signal geometry the correlator needs.
type SyncParams struct {
	CarrierFreq     float64
	SampleRate      float64
	SamplesPerPhase int
}

// SyncCriteria are the acceptance thresholds for a correlation peak.
type SyncCriteria struct {
	// CorrelationThreshold is the minimum normalised peak, in [0,1].
	CorrelationThreshold float64

	// PeakToNoiseRatio is the minimum ratio of the peak to the mean of
	// the remaining lags, guarding against flat noise.
	PeakToNoiseRatio float64
}

// SyncResult reports a correlation search.
type SyncResult struct {
	BestChipOffset   int
	BestSampleOffset int
	PeakCorrelation  float64
	PeakRatio        float64
	Found            bool
}

// FindSyncOffset slides the reference across the buffer at chip
// granularity, computing complex correlation magnitude normalised by the
// window energy. The reference is the DPSK symbol sequence of one
// spreading sequence.
func FindSyncOffset(buffer []float32, reference []complex128, p SyncParams, maxChipOffset int, crit SyncCriteria) (SyncResult, error) {
	spp := p.SamplesPerPhase
	n := len(reference)
	chips := len(buffer) / spp
	if chips < n+1 {
		return SyncResult{}, errors.New("dsss: buffer too short for sync search")
	}

	lags := chips - n + 1
	if maxChipOffset >= 0 && lags > maxChipOffset+1 {
		lags = maxChipOffset + 1
	}

	// Decimate to one complex sample per chip by mixing to baseband and
	// integrating over each chip period.
	z := make([]complex128, n+lags-1)
	omega := 2 * math.Pi * p.CarrierFreq / p.SampleRate
	for m := range z {
		var re, im float64
		for s := 0; s < spp; s++ {
			t := m*spp + s
			x := float64(buffer[t])
			ph := omega * float64(t)
			re += x * math.Cos(ph)
			im -= x * math.Sin(ph)
		}
		z[m] = complex(re, im)
	}

	corr, err := dsp.CrossCorrelate(z, reference)
	if err != nil {
		return SyncResult{}, errors.Wrap(err, "dsss: correlation failed")
	}

	// Rolling window energy for per-lag normalisation.
	var acc float64
	energy := make([]float64, len(corr))
	for m := 0; m < len(z); m++ {
		e := real(z[m])*real(z[m]) + imag(z[m])*imag(z[m])
		acc += e
		if m >= n {
			old := real(z[m-n])*real(z[m-n]) + imag(z[m-n])*imag(z[m-n])
			acc -= old
		}
		if m >= n-1 && m-n+1 < len(energy) {
			energy[m-n+1] = acc
		}
	}

	norm := make([]float64, len(corr))
	best := 0
	for m := range corr {
		denom := math.Sqrt(energy[m] * float64(n))
		if denom > 0 {
			norm[m] = cmplx.Abs(corr[m]) / denom
		}
		if norm[m] > norm[best] {
			best = m
		}
	}

	// Peak against the mean of the remaining lags, excluding the peak's
	// immediate neighbours which carry partial-overlap correlation.
	others := make([]float64, 0, len(norm))
	for m := range norm {
		if m >= best-1 && m <= best+1 {
			continue
		}
		others = append(others, norm[m])
	}
	ratio := math.Inf(1)
	if len(others) > 0 {
		if mean := stat.Mean(others, nil); mean > 0 {
			ratio = norm[best] / mean
		}
	}

	res := SyncResult{
		BestChipOffset:   best,
		BestSampleOffset: best * spp,
		PeakCorrelation:  norm[best],
		PeakRatio:        ratio,
	}
	res.Found = res.PeakCorrelation >= crit.CorrelationThreshold && res.PeakRatio >= crit.PeakToNoiseRatio
	return res, nil
}

// dpskReference builds the differentially encoded symbol sequence of one
// spreading sequence: the cumulative phase over the chips.
func dpskReference(chips []int8) []complex128 {
	ref := make([]complex128, len(chips))
	phase := 0.0
	for k, c := range chips {
		if c < 0 {
			phase += math.Pi
		}
		ref[k] = cmplx.Exp(complex(0, phase))
	}
	return ref
}

// Reference returns the correlation reference and sync parameters for a
// configuration, for offline analysis tools.
func Reference(c Config) ([]complex128, SyncParams, error) {
	err := c.Validate()
	if err != nil {
		return nil, SyncParams{}, err
	}
	chips, err := mSequence(c.SequenceLength, c.Seed)
	if err != nil {
		return nil, SyncParams{}, err
	}
	return dpskReference(chips), SyncParams{
		CarrierFreq:     c.CarrierFreq,
		SampleRate:      c.SampleRate,
		SamplesPerPhase: c.SamplesPerPhase,
	}, nil
}

// tracker is the synchronisation and demodulation engine. It owns a
// bounded linear sample buffer fed by the audio callback and emits one
// soft bit per spreading sequence to its sink while locked.
type tracker struct {
	cfg    Config
	chips  []int8
	ref    []complex128
	spb    int // Samples per bit: sequence length times samples per phase.
	params SyncParams

	buf []float32
	pos int // Next bit boundary while tracking; search origin otherwise.

	mode   Mode
	locked bool

	mixPhase  float64
	prevChip  complex128
	prevValid bool

	recent    [recentLen]int // |LLR| history of the last bits.
	recentN   int
	recentIdx int

	weak            int // Consecutive weak bits.
	bitsSinceVerify int
	processedBits   int64
	snrDb           float64
	refPower        float64 // Slow-decaying chip power reference.

	searchBudget int // Samples seen since the last search attempt.

	sink func(modem.LLR)
}

// Buffer geometry, in bit periods.
const (
	searchWindowBits = 4
	bufCapacityBits  = 12
)

func newTracker(cfg Config, chips []int8, sink func(modem.LLR)) *tracker {
	t := &tracker{
		cfg:   cfg,
		chips: chips,
		spb:   cfg.SequenceLength * cfg.SamplesPerPhase,
		params: SyncParams{
			CarrierFreq:     cfg.CarrierFreq,
			SampleRate:      cfg.SampleRate,
			SamplesPerPhase: cfg.SamplesPerPhase,
		},
		sink: sink,
	}

	t.ref = dpskReference(chips)

	t.buf = make([]float32, 0, bufCapacityBits*t.spb)
	t.reset()
	return t
}

// reset restores the tracker to cold SEARCH without reallocating.
func (t *tracker) reset() {
	t.buf = t.buf[:0]
	t.pos = 0
	t.mode = Search
	t.locked = false
	t.prevValid = false
	t.recentN = 0
	t.recentIdx = 0
	t.weak = 0
	t.bitsSinceVerify = 0
	t.processedBits = 0
	t.snrDb = 0
	t.refPower = 0
	t.searchBudget = 0
}

// guard is how many samples before pos must be retained so local resync
// can re-correlate over the previous bit.
func (t *tracker) guard() int { return t.cfg.ResyncWindow + t.spb }

// write appends samples, evicting the oldest if the buffer would overflow.
// Eviction while locked means the consumer fell behind; sync is dropped.
func (t *tracker) write(in []float32) {
	t.searchBudget += len(in)
	over := len(t.buf) + len(in) - cap(t.buf)
	if over > 0 {
		if over >= len(t.buf) {
			t.buf = t.buf[:0]
			t.pos = 0
		} else {
			copy(t.buf, t.buf[over:])
			t.buf = t.buf[:len(t.buf)-over]
			t.pos -= over
		}
		if t.pos < 0 {
			t.pos = 0
		}
		if t.locked {
			t.lost()
		}
	}
	t.buf = append(t.buf, in...)
}

// compact reclaims consumed samples, retaining the resync guard.
func (t *tracker) compact() {
	g := t.guard()
	if t.pos <= g+2*t.spb {
		return
	}
	drop := t.pos - g
	copy(t.buf, t.buf[drop:])
	t.buf = t.buf[:len(t.buf)-drop]
	t.pos = g
}

// run advances the machine by at most maxBits demodulated bits and one
// search, bounding the work done per audio block.
func (t *tracker) run(maxBits int) {
	t.compact()
	searched := false
	for bits := 0; bits < maxBits; {
		switch t.mode {
		case Search:
			if searched || !t.search() {
				return
			}
			searched = true

		case Track:
			if len(t.buf)-t.pos < t.spb {
				return
			}
			t.trackBit()
			bits++

		case Verify:
			t.verify()
		}
	}
}

// search attempts one acquisition. It reports whether progress was made;
// false stalls the caller until more samples arrive.
func (t *tracker) search() bool {
	minInterval := int(t.cfg.MinSyncIntervalMs * t.cfg.SampleRate / 1000)
	if t.searchBudget < minInterval {
		return false
	}
	need := 2 * t.spb
	avail := len(t.buf) - t.pos
	if avail < need {
		return false
	}
	t.searchBudget = 0

	window := t.buf[t.pos:]
	if len(window) > searchWindowBits*t.spb {
		window = window[:searchWindowBits*t.spb]
	}

	res, err := FindSyncOffset(window, t.ref, t.params, (len(window)-t.spb)/t.cfg.SamplesPerPhase, SyncCriteria{
		CorrelationThreshold: t.cfg.CorrelationThreshold,
		PeakToNoiseRatio:     t.cfg.PeakToNoiseRatio,
	})
	if err != nil {
		return false
	}

	if !res.Found {
		// Slide past the examined region, keeping one bit of overlap.
		t.pos += len(window) - t.spb
		return true
	}

	t.pos += res.BestSampleOffset
	t.mode = Track
	t.locked = true
	t.prevValid = false
	t.weak = 0
	t.recentN = 0
	t.recentIdx = 0
	t.bitsSinceVerify = 0
	t.snrDb = EstimateSNR(res.PeakCorrelation)
	if t.cfg.Logger != nil {
		t.cfg.Logger.Debug("sync acquired", "offset", res.BestSampleOffset, "peak", res.PeakCorrelation, "ratio", res.PeakRatio, "snr", t.snrDb)
	}
	return true
}

// trackBit demodulates one spreading sequence at pos and applies the
// quality triggers.
func (t *tracker) trackBit() {
	llr := t.demodBit()
	t.sink(llr)

	mag := llr.Abs()
	t.recent[t.recentIdx] = mag
	t.recentIdx = (t.recentIdx + 1) % recentLen
	if t.recentN < recentLen {
		t.recentN++
	}
	t.processedBits++
	t.bitsSinceVerify++
	t.pos += t.spb

	if mag < t.cfg.WeakLLRThreshold {
		t.weak++
		if t.weak >= t.cfg.MaxConsecutiveWeak {
			t.lost()
			return
		}
	} else {
		t.weak = 0
	}

	// Quality collapse: history healthy but this bit much worse.
	if t.recentN == recentLen && t.rollingAvg() >= t.cfg.ResyncThreshold && float64(mag) < t.cfg.ResyncThreshold/2 {
		t.localResync()
		return
	}

	if t.bitsSinceVerify >= t.cfg.VerifyIntervalBits {
		t.mode = Verify
	}
}

// verify is a pure check of the rolling quality history.
func (t *tracker) verify() {
	t.bitsSinceVerify = 0
	if t.rollingAvg() >= float64(t.cfg.WeakLLRThreshold) {
		t.mode = Track
		return
	}
	t.lost()
}

// localResync re-correlates within the resync window around the current
// offset using a looser threshold, continuing in TRACK on success.
func (t *tracker) localResync() {
	lo := t.pos - t.spb - t.cfg.ResyncWindow
	if lo < 0 {
		lo = 0
	}
	hi := t.pos + t.cfg.ResyncWindow
	if hi > len(t.buf) {
		hi = len(t.buf)
	}
	window := t.buf[lo:hi]
	if len(window) < t.spb+t.cfg.SamplesPerPhase {
		t.lost()
		return
	}

	res, err := FindSyncOffset(window, t.ref, t.params, (len(window)-t.spb)/t.cfg.SamplesPerPhase, SyncCriteria{
		CorrelationThreshold: t.cfg.CorrelationThreshold * resyncLooseness,
		PeakToNoiseRatio:     1,
	})
	if err != nil || !res.Found {
		t.lost()
		return
	}

	t.pos = lo + res.BestSampleOffset
	t.prevValid = false
	t.weak = 0
	if t.cfg.Logger != nil {
		t.cfg.Logger.Debug("local resync", "offset", t.pos, "peak", res.PeakCorrelation)
	}
}

// resyncLooseness scales the correlation threshold during local resync.
const resyncLooseness = 0.7

// lost drops lock and returns to SEARCH.
func (t *tracker) lost() {
	if t.cfg.Logger != nil && t.locked {
		t.cfg.Logger.Debug("sync lost", "processedBits", t.processedBits)
	}
	t.mode = Search
	t.locked = false
	t.prevValid = false
	t.weak = 0
	t.searchBudget = int(t.cfg.MinSyncIntervalMs * t.cfg.SampleRate / 1000)
}

func (t *tracker) rollingAvg() float64 {
	if t.recentN == 0 {
		return 0
	}
	sum := 0
	for i := 0; i < t.recentN; i++ {
		sum += t.recent[i]
	}
	return float64(sum) / float64(t.recentN)
}

// demodBit mixes one bit period to baseband, integrates per chip,
// differentially detects each chip against its predecessor and despreads
// against the sequence. The result is scaled by the SNR-derived soft gain.
func (t *tracker) demodBit() modem.LLR {
	spp := t.cfg.SamplesPerPhase
	inc := 2 * math.Pi * t.cfg.CarrierFreq / t.cfg.SampleRate

	var corr, power float64
	prev := t.prevChip
	prevValid := t.prevValid

	for k := 0; k < len(t.chips); k++ {
		var re, im float64
		base := t.pos + k*spp
		for s := 0; s < spp; s++ {
			x := float64(t.buf[base+s])
			re += x * math.Cos(t.mixPhase)
			im -= x * math.Sin(t.mixPhase)
			t.mixPhase += inc
			if t.mixPhase >= 2*math.Pi {
				t.mixPhase -= 2 * math.Pi
			}
		}
		z := complex(re, im)

		if prevValid {
			d := z * cmplx.Conj(prev)
			corr += real(d) * float64(t.chips[k])
			power += cmplx.Abs(z) * cmplx.Abs(prev)
		}
		prev = z
		prevValid = true
	}
	t.prevChip = prev
	t.prevValid = true

	norm := corr / (power + 1e-12)

	// Confidence also scales with absolute chip power against a
	// slow-decaying reference, so silence and deep fades read as weak
	// rather than as well-correlated noise.
	level := power / (t.refPower + 1e-12)
	if level > 1 {
		level = 1
	}
	if decayed := t.refPower * refPowerDecay; power > decayed {
		t.refPower = power
	} else {
		t.refPower = decayed
	}

	// The despreader's soft combining gain follows the noise variance
	// implied by the current SNR estimate.
	sigma2 := math.Pow(10, -t.snrDb/10)
	gain := 2 / sigma2
	if gain > 127 {
		gain = 127
	}
	if gain < 8 {
		gain = 8
	}
	return modem.Saturate(norm * level * gain)
}

// refPowerDecay is the per-bit decay of the power reference.
const refPowerDecay = 0.995
