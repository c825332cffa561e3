/*
NAME
  channel_test.go

DESCRIPTION
  channel_test.go contains tests for the channel package, driving a port
  and service pair over a fake processor.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package channel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeProc is a scripted modem.Processor.
type fakeProc struct {
	mu         sync.Mutex
	configured bool
	failCfg    bool
	txLeft     int // Serve ticks until TxPending clears.
	frames     [][]byte
	submitted  [][]byte
}

func (f *fakeProc) ProcessBlock(in, out []float32) {}

func (f *fakeProc) Configure(cfg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCfg {
		return errors.New("bad config")
	}
	f.configured = true
	return nil
}

func (f *fakeProc) Submit(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, data)
	f.txLeft = 3
	return nil
}

func (f *fakeProc) TxPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txLeft > 0 {
		f.txLeft--
		return true
	}
	return false
}

func (f *fakeProc) NextFrame() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil, false
	}
	fr := f.frames[0]
	f.frames = f.frames[1:]
	return fr, true
}

func (f *fakeProc) push(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
}

func (f *fakeProc) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = false
	f.txLeft = 0
	f.frames = nil
}

// startService runs the service loop in the background until the test
// finishes, simulating the per-block Serve cadence.
func startService(t *testing.T, port *Port, proc *fakeProc) {
	t.Helper()
	s := NewService(port, proc, nil)
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				s.Serve()
			}
		}
	}()
}

func TestConfigure(t *testing.T) {
	port := NewPort("test")
	proc := &fakeProc{}
	startService(t, port, proc)

	err := port.Configure(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error from Configure: %v", err)
	}
	if !port.IsReady() {
		t.Error("port not ready after Configure")
	}
}

func TestConfigureRejected(t *testing.T) {
	port := NewPort("test")
	proc := &fakeProc{failCfg: true}
	startService(t, port, proc)

	err := port.Configure(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error from rejected Configure")
	}
	if port.IsReady() {
		t.Error("port ready despite rejected Configure")
	}
}

func TestModulateCompletes(t *testing.T) {
	port := NewPort("test")
	proc := &fakeProc{}
	startService(t, port, proc)

	if err := port.Configure(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error from Configure: %v", err)
	}

	err := port.Modulate(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error from Modulate: %v", err)
	}
	if len(proc.submitted) != 1 || !bytes.Equal(proc.submitted[0], []byte{1, 2, 3}) {
		t.Errorf("unexpected submission: %#v", proc.submitted)
	}
}

func TestDemodulate(t *testing.T) {
	port := NewPort("test")
	proc := &fakeProc{}
	startService(t, port, proc)

	if err := port.Configure(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error from Configure: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		proc.push([]byte{0x42})
	}()

	data, err := port.Demodulate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error from Demodulate: %v", err)
	}
	if !bytes.Equal(data, []byte{0x42}) {
		t.Errorf("unexpected data: %#v", data)
	}
}

func TestDemodulateAborted(t *testing.T) {
	port := NewPort("test")
	proc := &fakeProc{}
	startService(t, port, proc)

	if err := port.Configure(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error from Configure: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := port.Demodulate(ctx)
	if err == nil {
		t.Fatal("expected abort error")
	}
	if !strings.Contains(err.Error(), "Demodulate aborted") {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestResetRejectsPending(t *testing.T) {
	port := NewPort("test")
	proc := &fakeProc{}
	startService(t, port, proc)

	if err := port.Configure(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error from Configure: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := port.Demodulate(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := port.Reset(); err != nil {
		t.Fatalf("unexpected error from Reset: %v", err)
	}

	select {
	case err := <-errc:
		if err == nil || !strings.Contains(err.Error(), ErrReset.Error()) {
			t.Errorf("unexpected rejection: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending Demodulate not rejected by Reset")
	}

	if port.IsReady() {
		t.Error("port still ready after Reset")
	}
}

func TestNotReady(t *testing.T) {
	port := NewPort("test")
	if err := port.Modulate(context.Background(), []byte{1}); err != ErrNotReady {
		t.Errorf("unexpected error: got %v, want %v", err, ErrNotReady)
	}
	if _, err := port.Demodulate(context.Background()); err != ErrNotReady {
		t.Errorf("unexpected error: got %v, want %v", err, ErrNotReady)
	}
}

func TestUnknownMessage(t *testing.T) {
	port := NewPort("test")
	proc := &fakeProc{}
	startService(t, port, proc)

	_, err := port.do(context.Background(), MsgType("bogus"), nil, "Bogus")
	if err == nil || !strings.Contains(err.Error(), "unknown message type") {
		t.Errorf("unexpected error for unknown message: %v", err)
	}
}

func TestStatus(t *testing.T) {
	port := NewPort("test")
	proc := &fakeProc{}
	startService(t, port, proc)

	st, err := port.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error from Status: %v", err)
	}
	if st.Configured {
		t.Error("status reports configured before Configure")
	}

	if err := port.Configure(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error from Configure: %v", err)
	}
	st, err = port.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error from Status: %v", err)
	}
	if !st.Configured {
		t.Error("status reports unconfigured after Configure")
	}
}
