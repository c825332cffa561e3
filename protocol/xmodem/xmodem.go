/*
NAME
  xmodem.go

DESCRIPTION
  xmodem.go defines the packet-level transport carried over a data
  channel: control bytes, packet construction and parsing, transfer state,
  statistics and reset handling. The sender and receiver state machines
  live in sender.go and receiver.go.

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

// Package xmodem implements a stop-and-wait packet transport in the
// XMODEM style over an abstract data channel: SOH-framed sequenced
// packets with complement sequence check and an 8-bit CRC, ACK/NAK flow
// control, bounded retries, and EOT stream termination.
package xmodem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ausocean/acoustic/channel"
	"github.com/ausocean/acoustic/events"
	"github.com/ausocean/acoustic/frame"
	"github.com/ausocean/utils/logging"
)

// Control bytes.
const (
	SOH = 0x01
	EOT = 0x04
	ACK = 0x06
	NAK = 0x15
	CAN = 0x18
	EOF = 0x1A
)

// Defaults.
const (
	defaultPayloadSize = 128
	defaultTimeout     = 3 * time.Second
	defaultMaxRetries  = 10
	defaultRecvTimeout = 30 * time.Second
)

// packetOverhead is SOH, seq, ~seq and the trailing CRC.
const packetOverhead = 4

// Transport errors.
var (
	ErrBusy       = errors.New("xmodem: transfer already in progress")
	ErrTimeout    = errors.New("xmodem: timeout")
	ErrMaxRetries = errors.New("xmodem: max retries exceeded")
	ErrCancelled  = errors.New("xmodem: cancelled")
	ErrReset      = errors.New("Transport reset")
)

// EventStats names the event emitted after each statistics update.
const EventStats = "xmodem.stats"

// State is the transport state.
type State int

const (
	Idle State = iota
	Sending
	Receiving
	EOTPending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Sending:
		return "SENDING"
	case Receiving:
		return "RECEIVING"
	case EOTPending:
		return "EOT_PENDING"
	default:
		return "UNKNOWN"
	}
}

// Stats are transfer statistics, updated on every packet event.
type Stats struct {
	PacketsSent          int64
	PacketsReceived      int64
	PacketsRetransmitted int64
	PacketsDropped       int64
	BytesTransferred     int64
	ErrorRate            float64
}

// Config holds transport parameters.
type Config struct {
	PayloadSize int
	Timeout     time.Duration // Per-packet reply timeout on the sender.
	MaxRetries  int

	// RecvTimeout is the receiver's inter-packet timeout; size it
	// proportionally to the link baud.
	RecvTimeout time.Duration

	Logger  logging.Logger
	Emitter *events.Emitter
}

// Validate applies defaults to unset or out-of-range fields. MaxRetries is
// defaulted only when negative; zero allows no retries.
func (c *Config) Validate() error {
	if c.PayloadSize <= 0 || c.PayloadSize > 1024 {
		c.PayloadSize = defaultPayloadSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = defaultRecvTimeout
	}
	return nil
}

// Transport is a stop-and-wait packet transport over a data channel. At
// most one send or receive may be in flight.
type Transport struct {
	cfg Config
	ch  channel.DataChannel

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	wasReset bool
	stats    Stats

	rxBuf []byte // Unparsed bytes from the channel.
}

// New returns a transport over the given data channel.
func New(ch channel.DataChannel, cfg Config) (*Transport, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	return &Transport{cfg: cfg, ch: ch}, nil
}

// State returns the current transport state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns a copy of the transfer statistics.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// updateStats applies fn to the statistics under lock, recomputes the
// error rate, and notifies the emitter.
func (t *Transport) updateStats(fn func(*Stats)) {
	t.mu.Lock()
	fn(&t.stats)
	attempts := t.stats.PacketsSent + t.stats.PacketsReceived
	if attempts > 0 {
		t.stats.ErrorRate = float64(t.stats.PacketsRetransmitted+t.stats.PacketsDropped) / float64(attempts)
	}
	s := t.stats
	emitter := t.cfg.Emitter
	t.mu.Unlock()

	if emitter != nil {
		emitter.Emit(EventStats, s)
	}
}

// begin moves Idle to the given active state, installing the operation's
// cancel function. It fails with ErrBusy if a transfer is in flight.
func (t *Transport) begin(s State, cancel context.CancelFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Idle {
		return ErrBusy
	}
	t.state = s
	t.cancel = cancel
	t.wasReset = false
	return nil
}

// setState changes state within an active transfer.
func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// end returns the transport to Idle.
func (t *Transport) end() {
	t.mu.Lock()
	t.state = Idle
	t.cancel = nil
	t.rxBuf = nil
	t.mu.Unlock()
}

// Reset rejects any pending send or receive with ErrReset and resets the
// underlying data channel.
func (t *Transport) Reset() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.wasReset = true
		t.cancel()
	}
	t.rxBuf = nil
	t.mu.Unlock()
	return t.ch.Reset()
}

// opErr maps a cancelled operation error to ErrReset when the
// cancellation came from Reset.
func (t *Transport) opErr(err error) error {
	t.mu.Lock()
	reset := t.wasReset
	t.mu.Unlock()
	if reset {
		return ErrReset
	}
	return err
}

// buildPacket assembles SOH|seq|~seq|payload|CRC8. The payload must
// already be padded to the configured size.
func (t *Transport) buildPacket(seq byte, payload []byte) []byte {
	pkt := make([]byte, 0, len(payload)+packetOverhead)
	pkt = append(pkt, SOH, seq, ^seq)
	pkt = append(pkt, payload...)
	pkt = append(pkt, frame.CRC8(payload))
	return pkt
}

// sendControl transmits a single control byte.
func (t *Transport) sendControl(ctx context.Context, b byte) error {
	return t.ch.Modulate(ctx, []byte{b})
}

// fill appends freshly demodulated bytes to the parse buffer, waiting at
// most the given timeout.
func (t *Transport) fill(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	data, err := t.ch.Demodulate(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimeout
	}
	t.mu.Lock()
	t.rxBuf = append(t.rxBuf, data...)
	t.mu.Unlock()
	return nil
}

// takeByte pops the next buffered byte.
func (t *Transport) takeByte() (byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rxBuf) == 0 {
		return 0, false
	}
	b := t.rxBuf[0]
	t.rxBuf = t.rxBuf[1:]
	return b, true
}

// drainStale empties the parse buffer of bytes left over from earlier
// exchanges.
func (t *Transport) drainStale() {
	t.mu.Lock()
	t.rxBuf = t.rxBuf[:0]
	t.mu.Unlock()
}

// takePacket pops a full packet body (seq, ~seq, payload, crc) after the
// SOH already seen; it returns false if not yet buffered.
func (t *Transport) takePacket() ([]byte, bool) {
	n := t.cfg.PayloadSize + packetOverhead
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rxBuf) < n {
		return nil, false
	}
	pkt := append([]byte(nil), t.rxBuf[:n]...)
	t.rxBuf = t.rxBuf[n:]
	return pkt, true
}
