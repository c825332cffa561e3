/*
NAME
  fsk_test.go

DESCRIPTION
  fsk_test.go contains loopback tests for the FSK physical layer.

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

package fsk

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
)

const (
	testRate  = 44100
	blockSize = 128
)

func newTestModem(t *testing.T) *Modem {
	t.Helper()
	m := New()
	err := m.Configure(Config{SampleRate: testRate, BaudRate: 300})
	if err != nil {
		t.Fatalf("unexpected error from Configure: %v", err)
	}
	return m
}

// loopback plays the modem's output back into its own input, one block
// delayed, until the transmit ring is dry and a little longer to let the
// demodulator flush.
func loopback(m *Modem, blocks int) {
	in := make([]float32, blockSize)
	out := make([]float32, blockSize)
	for i := 0; i < blocks; i++ {
		m.ProcessBlock(in, out)
		copy(in, out)
	}
}

// TestOneByteLoopback sends 0x48 and expects exactly that byte back with no
// framing errors.
func TestOneByteLoopback(t *testing.T) {
	m := newTestModem(t)

	err := m.Submit([]byte{0x48})
	if err != nil {
		t.Fatalf("unexpected error from Submit: %v", err)
	}

	loopback(m, 60)

	got, ok := m.NextFrame()
	if !ok {
		t.Fatal("no bytes decoded")
	}
	if !bytes.Equal(got, []byte{0x48}) {
		t.Errorf("unexpected decode: got %#v, want [0x48]", got)
	}
	if n := m.FramingErrors(); n != 0 {
		t.Errorf("unexpected framing errors: got %d, want 0", n)
	}
}

// TestRoundTrip checks byte sequences survive a noiseless loopback.
func TestRoundTrip(t *testing.T) {
	m := newTestModem(t)

	want := []byte("Hello, modem!")
	err := m.Submit(want)
	if err != nil {
		t.Fatalf("unexpected error from Submit: %v", err)
	}

	loopback(m, 300)

	got, ok := m.NextFrame()
	if !ok {
		t.Fatal("no bytes decoded")
	}
	if !bytes.Equal(got, want) {
		t.Errorf("unexpected decode: got %q, want %q", got, want)
	}
}

// TestSamplesPerByte checks the modulated sample count invariant:
// (startBits + 8 + stopBits)·samplesPerBit per byte, plus leader and pads.
func TestSamplesPerByte(t *testing.T) {
	m := newTestModem(t)

	err := m.Submit([]byte{0xA5})
	if err != nil {
		t.Fatalf("unexpected error from Submit: %v", err)
	}

	pad := int(m.cfg.PadMs * testRate / 1000)
	leader := int(m.cfg.LeaderMs * testRate / 1000)
	perByte := int(math.Round((float64(m.cfg.StartBits) + 8 + m.cfg.StopBits) * m.samplesPerBit))

	want := 2*pad + leader + perByte
	if got := m.txRing.Len(); got != want {
		t.Errorf("unexpected sample count: got %d, want %d", got, want)
	}
}

// TestSubmitBusy checks that a second submission is refused while the first
// is still draining.
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
}

// TestNoiseRejection feeds low-level noise and expects no decoded bytes.
func TestNoiseRejection(t *testing.T) {
	m := newTestModem(t)

	rng := rand.New(rand.NewSource(1))
	in := make([]float32, blockSize)
	out := make([]float32, blockSize)
	for b := 0; b < 100; b++ {
		for i := range in {
			in[i] = (rng.Float32() - 0.5) * 0.01
		}
		m.ProcessBlock(in, out)
	}

	if got, ok := m.NextFrame(); ok {
		t.Errorf("decoded bytes from noise: %#v", got)
	}
}

// TestReset checks buffered state is discarded and the modem requires
// reconfiguration.
func TestReset(t *testing.T) {
	m := newTestModem(t)
	if err := m.Submit([]byte{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error from Submit: %v", err)
	}

	m.Reset()
	if m.TxPending() {
		t.Error("transmit ring not cleared by Reset")
	}
	if err := m.Submit([]byte{1}); err == nil {
		t.Error("expected error from Submit after Reset")
	}
}
