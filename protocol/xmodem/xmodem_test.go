/*
NAME
  xmodem_test.go

DESCRIPTION
  xmodem_test.go contains tests for the xmodem package, running sender and
  receiver transports over an in-memory data channel pair.

AUTHORS
  Alan Noble <alan@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package xmodem

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ausocean/acoustic/frame"
)

// pipeChannel is an in-memory channel.DataChannel. Modulated bytes arrive
// at the peer's demodulate queue, optionally transformed.
type pipeChannel struct {
	mu        sync.Mutex
	rx        chan []byte
	peer      *pipeChannel
	transform func(n int, data []byte) []byte // nth outgoing message; nil result drops.
	count     int
	sent      [][]byte
}

func newPipePair() (*pipeChannel, *pipeChannel) {
	a := &pipeChannel{rx: make(chan []byte, 64)}
	b := &pipeChannel{rx: make(chan []byte, 64)}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeChannel) Configure(ctx context.Context, cfg interface{}) error { return nil }

func (p *pipeChannel) Modulate(ctx context.Context, data []byte) error {
	p.mu.Lock()
	n := p.count
	p.count++
	p.sent = append(p.sent, append([]byte(nil), data...))
	tf := p.transform
	p.mu.Unlock()

	out := append([]byte(nil), data...)
	if tf != nil {
		out = tf(n, out)
		if out == nil {
			return nil // Dropped in transit.
		}
	}
	select {
	case p.peer.rx <- out:
		return nil
	case <-ctx.Done():
		return errors.New("Modulate aborted")
	}
}

func (p *pipeChannel) Demodulate(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.rx:
		return data, nil
	case <-ctx.Done():
		return nil, errors.New("Demodulate aborted")
	}
}

func (p *pipeChannel) Reset() error { return nil }

func (p *pipeChannel) IsReady() bool { return true }

func (p *pipeChannel) sentMessages() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.sent))
	copy(out, p.sent)
	return out
}

func testConfig() Config {
	return Config{
		PayloadSize: 128,
		Timeout:     time.Second,
		MaxRetries:  10,
		RecvTimeout: 2 * time.Second,
	}
}

func mustTransport(t *testing.T, ch *pipeChannel, cfg Config) *Transport {
	t.Helper()
	tr, err := New(ch, cfg)
	if err != nil {
		t.Fatalf("unexpected error from New: %v", err)
	}
	return tr
}

// run performs a full transfer of data between a sender and receiver pair
// and returns the received bytes.
func run(t *testing.T, sendCh, recvCh *pipeChannel, cfg Config, data []byte) ([]byte, *Transport, *Transport) {
	t.Helper()
	sender := mustTransport(t, sendCh, cfg)
	receiver := mustTransport(t, recvCh, cfg)

	type result struct {
		data []byte
		err  error
	}
	rc := make(chan result, 1)
	go func() {
		got, err := receiver.ReceiveData(context.Background())
		rc <- result{got, err}
	}()

	// Wait for the receiver's solicitation NAK so the transfer starts
	// from a known state.
	for i := 0; len(recvCh.sentMessages()) == 0 && i < 100; i++ {
		time.Sleep(time.Millisecond)
	}

	if err := sender.SendData(context.Background(), data); err != nil {
		t.Fatalf("unexpected error from SendData: %v", err)
	}

	select {
	case res := <-rc:
		if res.err != nil {
			t.Fatalf("unexpected error from ReceiveData: %v", res.err)
		}
		return res.data, sender, receiver
	case <-time.After(10 * time.Second):
		t.Fatal("transfer did not complete")
	}
	return nil, nil, nil
}

func TestRoundTrip(t *testing.T) {
	a, b := newPipePair()
	want := bytes.Repeat([]byte("acoustic telemetry "), 16) // 304 bytes, 3 packets.

	got, sender, receiver := run(t, a, b, testConfig(), want)
	if !bytes.Equal(got, want) {
		t.Errorf("unexpected received data: got %d bytes, want %d", len(got), len(want))
	}

	if s := sender.Stats(); s.PacketsSent != 3 || s.PacketsRetransmitted != 0 {
		t.Errorf("unexpected sender stats: %+v", s)
	}
	if s := receiver.Stats(); s.PacketsReceived != 3 || s.PacketsDropped != 0 {
		t.Errorf("unexpected receiver stats: %+v", s)
	}
}

func TestEmptySend(t *testing.T) {
	a, b := newPipePair()

	got, _, receiver := run(t, a, b, testConfig(), nil)
	if len(got) != 0 {
		t.Errorf("unexpected data from empty send: %d bytes", len(got))
	}
	// The observable end of stream still needs one real packet.
	if s := receiver.Stats(); s.PacketsReceived != 1 {
		t.Errorf("unexpected receiver stats: %+v", s)
	}
}

// TestTimeoutRetry checks that with a silent receiver, a 100ms timeout
// and three retries yield four attempts then failure.
func TestTimeoutRetry(t *testing.T) {
	a, _ := newPipePair()
	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	cfg.MaxRetries = 3
	sender := mustTransport(t, a, cfg)

	err := sender.SendData(context.Background(), []byte{0x42})
	if err != ErrMaxRetries {
		t.Fatalf("unexpected error: got %v, want %v", err, ErrMaxRetries)
	}

	if got := len(a.sentMessages()); got != 4 {
		t.Errorf("unexpected attempt count: got %d, want 4", got)
	}
	if s := sender.Stats(); s.PacketsRetransmitted != 3 {
		t.Errorf("unexpected retransmit count: got %d, want 3", s.PacketsRetransmitted)
	}
	if sender.State() != Idle {
		t.Errorf("sender not idle after failure: %v", sender.State())
	}
}

// TestOutOfSequenceNAK drives the receiver with a wrong-sequence packet
// and expects exactly one NAK for it plus a drop, then acceptance of the
// correct packet.
func TestOutOfSequenceNAK(t *testing.T) {
	ours, theirs := newPipePair()
	cfg := testConfig()
	receiver := mustTransport(t, theirs, cfg)

	payload := make([]byte, cfg.PayloadSize)
	for i := range payload {
		payload[i] = EOF
	}
	copy(payload, []byte("hello"))

	type result struct {
		data []byte
		err  error
	}
	rc := make(chan result, 1)
	go func() {
		got, err := receiver.ReceiveData(context.Background())
		rc <- result{got, err}
	}()

	ctx := context.Background()

	// Out of sequence: seq 2 while 1 is expected.
	bad := receiver.buildPacket(2, payload)
	if err := ours.Modulate(ctx, bad); err != nil {
		t.Fatalf("unexpected error feeding bad packet: %v", err)
	}
	good := receiver.buildPacket(1, payload)
	if err := ours.Modulate(ctx, good); err != nil {
		t.Fatalf("unexpected error feeding good packet: %v", err)
	}
	if err := ours.Modulate(ctx, []byte{EOT}); err != nil {
		t.Fatalf("unexpected error feeding EOT: %v", err)
	}

	res := <-rc
	if res.err != nil {
		t.Fatalf("unexpected error from ReceiveData: %v", res.err)
	}
	if !bytes.Equal(res.data, []byte("hello")) {
		t.Errorf("unexpected data: %q", res.data)
	}

	if s := receiver.Stats(); s.PacketsDropped != 1 {
		t.Errorf("unexpected drop count: got %d, want 1", s.PacketsDropped)
	}

	// Replies: initial solicit NAK, NAK for the bad packet, ACK, ACK(EOT).
	var naks, acks int
	for _, msg := range theirs.sentMessages() {
		if len(msg) != 1 {
			continue
		}
		switch msg[0] {
		case NAK:
			naks++
		case ACK:
			acks++
		}
	}
	if naks != 2 {
		t.Errorf("unexpected NAK count (including initial solicit): got %d, want 2", naks)
	}
	if acks != 2 {
		t.Errorf("unexpected ACK count: got %d, want 2", acks)
	}
}

// TestDuplicateNotAppended feeds the same packet twice; the payload must
// arrive once.
func TestDuplicateNotAppended(t *testing.T) {
	ours, theirs := newPipePair()
	cfg := testConfig()
	receiver := mustTransport(t, theirs, cfg)

	payload := make([]byte, cfg.PayloadSize)
	for i := range payload {
		payload[i] = EOF
	}
	copy(payload, []byte("once"))

	rc := make(chan []byte, 1)
	go func() {
		got, _ := receiver.ReceiveData(context.Background())
		rc <- got
	}()

	ctx := context.Background()
	pkt := receiver.buildPacket(1, payload)
	_ = ours.Modulate(ctx, pkt)
	_ = ours.Modulate(ctx, pkt)
	_ = ours.Modulate(ctx, []byte{EOT})

	got := <-rc
	if !bytes.Equal(got, []byte("once")) {
		t.Errorf("duplicate packet appended: %q", got)
	}
}

// TestCRCCorruption corrupts the first data packet in transit and expects
// delivery after retransmission.
func TestCRCCorruption(t *testing.T) {
	a, b := newPipePair()
	a.transform = func(n int, data []byte) []byte {
		if n == 0 && len(data) > 8 {
			data[8] ^= 0xFF
		}
		return data
	}

	want := []byte("corruption will be caught by the packet checksum")
	got, sender, receiver := run(t, a, b, testConfig(), want)
	if !bytes.Equal(got, want) {
		t.Errorf("unexpected data after corruption recovery: %q", got)
	}
	if s := sender.Stats(); s.PacketsRetransmitted < 1 {
		t.Errorf("expected at least one retransmission: %+v", s)
	}
	if s := receiver.Stats(); s.PacketsDropped < 1 {
		t.Errorf("expected at least one drop: %+v", s)
	}
}

// TestCancellation delivers CAN to a waiting sender.
func TestCancellation(t *testing.T) {
	ours, theirs := newPipePair()
	cfg := testConfig()
	sender := mustTransport(t, ours, cfg)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = theirs.Modulate(context.Background(), []byte{CAN})
	}()

	err := sender.SendData(context.Background(), []byte{1})
	if err != ErrCancelled {
		t.Errorf("unexpected error: got %v, want %v", err, ErrCancelled)
	}
}

func TestBusy(t *testing.T) {
	a, _ := newPipePair()
	cfg := testConfig()
	cfg.Timeout = 200 * time.Millisecond
	cfg.MaxRetries = 2
	sender := mustTransport(t, a, cfg)

	done := make(chan struct{})
	go func() {
		_ = sender.SendData(context.Background(), []byte{1})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	if err := sender.SendData(context.Background(), []byte{2}); err != ErrBusy {
		t.Errorf("unexpected error: got %v, want %v", err, ErrBusy)
	}
	<-done
}

// TestReset rejects a pending receive with the transport reset error.
func TestReset(t *testing.T) {
	_, theirs := newPipePair()
	receiver := mustTransport(t, theirs, testConfig())

	errc := make(chan error, 1)
	go func() {
		_, err := receiver.ReceiveData(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)

	if err := receiver.Reset(); err != nil {
		t.Fatalf("unexpected error from Reset: %v", err)
	}

	select {
	case err := <-errc:
		if err != ErrReset {
			t.Errorf("unexpected error: got %v, want %v", err, ErrReset)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending receive not rejected by Reset")
	}
}

func TestPacketCRC(t *testing.T) {
	// The packet checksum is the frame layer's CRC-8; pin the check value
	// here too since the wire format depends on it.
	if got := frame.CRC8([]byte("123456789")); got != 0xF4 {
		t.Errorf("unexpected CRC8 check value: got %#x, want 0xf4", got)
	}

	tr := mustTransport(t, &pipeChannel{rx: make(chan []byte, 1)}, testConfig())
	payload := make([]byte, tr.cfg.PayloadSize)
	pkt := tr.buildPacket(1, payload)
	if pkt[len(pkt)-1] != frame.CRC8(payload) {
		t.Error("packet trailer does not match frame.CRC8 of the payload")
	}
}
