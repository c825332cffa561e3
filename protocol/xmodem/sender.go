/*
NAME
  sender.go

DESCRIPTION
  sender.go provides the transmit side of the transport: chunking with EOF
  padding, sequenced packet emission with ACK/NAK handling, per-packet
  timeout retries and EOT termination.

AUTHOR
  Alan Noble <alan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package xmodem

import (
	"context"
	"fmt"
)

// SendData transmits the given bytes as sequenced packets, blocking until
// the receiver has acknowledged the stream end or the transfer fails. An
// empty input still emits one padded packet and EOT so the far side
// observes an end of stream.
func (t *Transport) SendData(ctx context.Context, data []byte) error {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := t.begin(Sending, cancel)
	if err != nil {
		return err
	}
	defer t.end()

	// Consume the receiver's solicitation NAK before the first packet so it
	// is not read as a rejection of packet 1. A silent receiver costs one
	// per-packet timeout here.
	reply, err := t.awaitControl(opCtx)
	switch {
	case err == ErrTimeout:
	case err != nil:
		return t.opErr(err)
	case reply == CAN:
		return ErrCancelled
	}

	chunks := t.chunk(data)
	seq := byte(1)
	for i, payload := range chunks {
		err := t.sendPacket(opCtx, seq, payload)
		if err != nil {
			return t.opErr(err)
		}
		t.updateStats(func(s *Stats) {
			s.BytesTransferred += int64(len(chunks[i]))
		})
		seq++
	}

	t.setState(EOTPending)
	err = t.sendEOT(opCtx)
	if err != nil {
		return t.opErr(err)
	}

	if t.cfg.Logger != nil {
		t.cfg.Logger.Debug("send complete", "bytes", len(data), "packets", len(chunks))
	}
	return nil
}

// chunk splits data into payloads of the configured size, padding the
// final chunk with EOF. Empty data yields a single fully padded chunk.
func (t *Transport) chunk(data []byte) [][]byte {
	n := t.cfg.PayloadSize
	count := (len(data) + n - 1) / n
	if count == 0 {
		count = 1
	}

	chunks := make([][]byte, count)
	for i := range chunks {
		c := make([]byte, n)
		for j := range c {
			c[j] = EOF
		}
		lo := i * n
		if lo < len(data) {
			copy(c, data[lo:min(len(data), lo+n)])
		}
		chunks[i] = c
	}
	return chunks
}

// sendPacket transmits one packet and awaits its acknowledgement,
// retransmitting on NAK or timeout up to the retry budget. Control bytes
// already buffered before the first attempt are stale replies to the
// previous packet or the receiver's solicitation, and are discarded; a
// late ACK arriving after a retransmission is still consumed.
func (t *Transport) sendPacket(ctx context.Context, seq byte, payload []byte) error {
	pkt := t.buildPacket(seq, payload)
	t.drainStale()

	for attempt := 0; ; attempt++ {
		err := t.ch.Modulate(ctx, pkt)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xmodem: send failed: %w", err)
		}
		t.updateStats(func(s *Stats) { s.PacketsSent++ })

		reply, err := t.awaitControl(ctx)
		switch {
		case err == ErrTimeout:
			// Falls through to the retry accounting below.
		case err != nil:
			return err
		case reply == ACK:
			return nil
		case reply == CAN:
			return ErrCancelled
		case reply == NAK:
			// Retransmit without advancing.
		default:
			// Unrecognised control byte; treat like a NAK.
			if t.cfg.Logger != nil {
				t.cfg.Logger.Debug("unexpected control byte", "byte", int(reply))
			}
		}

		if attempt >= t.cfg.MaxRetries {
			return ErrMaxRetries
		}
		t.updateStats(func(s *Stats) { s.PacketsRetransmitted++ })
	}
}

// sendEOT transmits the end of stream marker with the same retry
// discipline as data packets.
func (t *Transport) sendEOT(ctx context.Context) error {
	t.drainStale()
	for attempt := 0; ; attempt++ {
		err := t.sendControl(ctx, EOT)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xmodem: send failed: %w", err)
		}

		reply, err := t.awaitControl(ctx)
		switch {
		case err == ErrTimeout:
		case err != nil:
			return err
		case reply == ACK:
			return nil
		case reply == CAN:
			return ErrCancelled
		}

		if attempt >= t.cfg.MaxRetries {
			return ErrMaxRetries
		}
		t.updateStats(func(s *Stats) { s.PacketsRetransmitted++ })
	}
}

// awaitControl waits for the next control byte within the per-packet
// timeout, skipping bytes that are not flow control.
func (t *Transport) awaitControl(ctx context.Context) (byte, error) {
	for {
		for {
			b, ok := t.takeByte()
			if !ok {
				break
			}
			switch b {
			case ACK, NAK, CAN:
				return b, nil
			}
		}

		err := t.fill(ctx, t.cfg.Timeout)
		if err != nil {
			return 0, err
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
