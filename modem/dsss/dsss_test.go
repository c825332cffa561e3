/*
NAME
  dsss_test.go

DESCRIPTION
  dsss_test.go contains tests for the spread-spectrum physical layer:
  spreading sequence properties, sync acquisition, and full loopback.

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
	"bytes"
	"math"
	"testing"
)

const (
	testRate  = 44100
	blockSize = 128
)

func TestMSequenceProperties(t *testing.T) {
	for _, length := range []int{15, 31, 63} {
		chips, err := mSequence(length, 0b10101)
		if err != nil {
			t.Fatalf("unexpected error for length %d: %v", length, err)
		}
		if len(chips) != length {
			t.Fatalf("unexpected length: got %d, want %d", len(chips), length)
		}

		// A maximum-length sequence has one more −1 than +1 chip.
		var sum int
		for _, c := range chips {
			sum += int(c)
		}
		if sum != -1 && sum != 1 {
			t.Errorf("length %d: unbalanced sequence, sum %d", length, sum)
		}

		// Periodic autocorrelation at every non-zero shift is ±1.
		for shift := 1; shift < length; shift++ {
			var ac int
			for i := range chips {
				ac += int(chips[i]) * int(chips[(i+shift)%length])
			}
			if ac != -1 && ac != 1 {
				t.Errorf("length %d shift %d: autocorrelation %d", length, shift, ac)
			}
		}
	}
}

func TestMSequenceErrors(t *testing.T) {
	if _, err := mSequence(17, 1); err == nil {
		t.Error("expected error for unsupported length")
	}
	if _, err := mSequence(31, 0); err == nil {
		t.Error("expected error for zero seed")
	}
}

func newTestModem(t *testing.T) *Modem {
	t.Helper()
	m := New()
	err := m.Configure(Config{SampleRate: testRate})
	if err != nil {
		t.Fatalf("unexpected error from Configure: %v", err)
	}
	return m
}

// TestFindSyncOffset embeds one spreading sequence at a known chip offset
// in silence and expects the correlator to find it.
func TestFindSyncOffset(t *testing.T) {
	m := newTestModem(t)
	tr := m.tracker

	const chipOffset = 13
	spp := m.cfg.SamplesPerPhase
	spb := m.cfg.SequenceLength * spp

	buf := make([]float32, 3*spb)
	omega := 2 * math.Pi * m.cfg.CarrierFreq / m.cfg.SampleRate
	phase := 0.0
	for k, c := range m.chips {
		if c < 0 {
			phase += math.Pi
		}
		for s := 0; s < spp; s++ {
			i := (chipOffset+k)*spp + s
			buf[i] = float32(math.Cos(omega*float64(i) + phase))
		}
	}

	res, err := FindSyncOffset(buf, tr.ref, tr.params, -1, SyncCriteria{
		CorrelationThreshold: m.cfg.CorrelationThreshold,
		PeakToNoiseRatio:     m.cfg.PeakToNoiseRatio,
	})
	if err != nil {
		t.Fatalf("unexpected error from FindSyncOffset: %v", err)
	}
	if !res.Found {
		t.Fatalf("sync not found: peak %v ratio %v", res.PeakCorrelation, res.PeakRatio)
	}
	if res.BestChipOffset != chipOffset {
		t.Errorf("unexpected chip offset: got %d, want %d", res.BestChipOffset, chipOffset)
	}
	if res.BestSampleOffset != chipOffset*spp {
		t.Errorf("unexpected sample offset: got %d, want %d", res.BestSampleOffset, chipOffset*spp)
	}
	if res.PeakCorrelation < 0.8 {
		t.Errorf("weak peak on clean signal: %v", res.PeakCorrelation)
	}
}

// TestFindSyncOffsetFlatNoise checks the peak-to-noise guard refuses a
// featureless buffer.
func TestFindSyncOffsetFlatNoise(t *testing.T) {
	m := newTestModem(t)
	tr := m.tracker

	spb := m.cfg.SequenceLength * m.cfg.SamplesPerPhase
	buf := make([]float32, 3*spb)
	for i := range buf {
		buf[i] = 0.3 // DC has no chip structure.
	}

	res, err := FindSyncOffset(buf, tr.ref, tr.params, -1, SyncCriteria{
		CorrelationThreshold: m.cfg.CorrelationThreshold,
		PeakToNoiseRatio:     m.cfg.PeakToNoiseRatio,
	})
	if err != nil {
		t.Fatalf("unexpected error from FindSyncOffset: %v", err)
	}
	if res.Found {
		t.Errorf("sync found in flat buffer: peak %v ratio %v", res.PeakCorrelation, res.PeakRatio)
	}
}

// loopback plays modem output back into its input until the transmit ring
// drains, then feeds extra silent blocks to flush the receiver.
func loopback(m *Modem, silentTail int) {
	in := make([]float32, blockSize)
	out := make([]float32, blockSize)
	for m.TxPending() {
		m.ProcessBlock(in, out)
		copy(in, out)
	}
	for i := range in {
		in[i] = 0
	}
	for i := 0; i < silentTail; i++ {
		m.ProcessBlock(in, out)
	}
}

// TestFrameLoopback round-trips one framed payload through the full
// spread-spectrum chain.
func TestFrameLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("long loopback test")
	}
	m := newTestModem(t)

	want := []byte{0x48, 0x69, 0x21}
	if err := m.Submit(want); err != nil {
		t.Fatalf("unexpected error from Submit: %v", err)
	}

	loopback(m, 200)

	got, ok := m.NextFrame()
	if !ok {
		mode, locked, snr := m.Sync()
		t.Fatalf("no frame decoded (mode %v locked %v snr %.1f)", mode, locked, snr)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("unexpected payload: got %#v, want %#v", got, want)
	}
}

// TestMultiFrameStream sends three frames separated by silent gaps and
// expects all three payloads in order.
func TestMultiFrameStream(t *testing.T) {
	if testing.Short() {
		t.Skip("long loopback test")
	}
	m := newTestModem(t)

	payloads := [][]byte{{0x01, 0x02}, {0x03, 0x04, 0x05}, {0x06}}
	in := make([]float32, blockSize)
	out := make([]float32, blockSize)

	for _, p := range payloads {
		if err := m.Submit(p); err != nil {
			t.Fatalf("unexpected error from Submit: %v", err)
		}
		for m.TxPending() {
			m.ProcessBlock(in, out)
			copy(in, out)
		}
		// A silent gap of about 500 samples between frames.
		for i := range in {
			in[i] = 0
		}
		for i := 0; i < 4; i++ {
			m.ProcessBlock(in, out)
		}
	}
	for i := 0; i < 400; i++ {
		m.ProcessBlock(in, out)
	}

	for i, want := range payloads {
		got, ok := m.NextFrame()
		if !ok {
			t.Fatalf("frame %d missing", i)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: got %#v, want %#v", i, got, want)
		}
	}
}

// TestFalsePeakRejection precedes the true frame with a weak partial
// pattern; the synchroniser must still deliver the true frame even if it
// bites on the weak peak first.
func TestFalsePeakRejection(t *testing.T) {
	if testing.Short() {
		t.Skip("long loopback test")
	}
	m := newTestModem(t)

	spp := m.cfg.SamplesPerPhase
	omega := 2 * math.Pi * m.cfg.CarrierFreq / m.cfg.SampleRate

	// A weak, truncated copy of the spreading waveform.
	decoy := make([]float32, len(m.chips)*spp)
	phase := 0.0
	for k, c := range m.chips {
		if c < 0 {
			phase += math.Pi
		}
		for s := 0; s < spp; s++ {
			i := k*spp + s
			decoy[i] = 0.05 * float32(math.Cos(omega*float64(i)+phase))
		}
	}

	in := make([]float32, blockSize)
	out := make([]float32, blockSize)
	for off := 0; off < len(decoy); off += blockSize {
		n := copy(in, decoy[off:])
		for i := n; i < blockSize; i++ {
			in[i] = 0
		}
		m.ProcessBlock(in, out)
	}

	want := []byte{0xC0, 0xFF, 0xEE}
	if err := m.Submit(want); err != nil {
		t.Fatalf("unexpected error from Submit: %v", err)
	}
	loopback(m, 400)

	got, ok := m.NextFrame()
	if !ok {
		t.Fatal("true frame never decoded after decoy")
	}
	if !bytes.Equal(got, want) {
		t.Errorf("unexpected payload: got %#v, want %#v", got, want)
	}
}

func TestSNRMapping(t *testing.T) {
	tests := []struct {
		corr, want float64
	}{
		{0.2, 0},
		{0.3, 0},
		{0.65, 10},
		{1.0, 20},
		{1.5, 20},
	}
	for _, test := range tests {
		if got := EstimateSNR(test.corr); math.Abs(got-test.want) > 1e-9 {
			t.Errorf("EstimateSNR(%v): got %v, want %v", test.corr, got, test.want)
		}
	}
}

func TestSubmitBusy(t *testing.T) {
	m := newTestModem(t)
	if err := m.Submit([]byte{1}); err != nil {
		t.Fatalf("unexpected error from first Submit: %v", err)
	}
	if err := m.Submit([]byte{2}); err == nil {
		t.Error("expected busy error from second Submit")
	}
}

func TestUnconfigured(t *testing.T) {
	m := New()
	if err := m.Submit([]byte{1}); err == nil {
		t.Error("expected error from Submit before Configure")
	}
	if _, ok := m.NextFrame(); ok {
		t.Error("unexpected frame from unconfigured modem")
	}
}
