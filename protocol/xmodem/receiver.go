/*
NAME
  receiver.go

DESCRIPTION
  receiver.go provides the receive side of the transport: initial NAK
  solicitation, packet validation against sequence, complement and CRC,
  ACK/NAK flow control and EOT termination.

AUTHOR
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
	"context"

	"github.com/ausocean/acoustic/frame"
)

// ReceiveData receives one complete stream, blocking until the sender
// terminates it with EOT or the transfer fails. Trailing EOF padding from
// the final packet is stripped.
func (t *Transport) ReceiveData(ctx context.Context) ([]byte, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := t.begin(Receiving, cancel)
	if err != nil {
		return nil, err
	}
	defer t.end()

	// Solicit the first packet, classic XMODEM receiver behaviour.
	err = t.sendControl(opCtx, NAK)
	if err != nil {
		return nil, t.opErr(err)
	}

	var out []byte
	expected := byte(1)
	timeouts := 0
	for {
		kind, pkt, err := t.awaitPacket(opCtx)
		switch {
		case err == ErrTimeout:
			timeouts++
			if timeouts > t.cfg.MaxRetries {
				return nil, ErrTimeout
			}
			// Re-solicit.
			err = t.sendControl(opCtx, NAK)
			if err != nil {
				return nil, t.opErr(err)
			}
			continue
		case err != nil:
			return nil, t.opErr(err)
		}
		timeouts = 0

		switch kind {
		case EOT:
			err = t.sendControl(opCtx, ACK)
			if err != nil {
				return nil, t.opErr(err)
			}
			return trimEOF(out), nil

		case CAN:
			return nil, ErrCancelled

		case SOH:
			out, expected, err = t.acceptPacket(opCtx, pkt, out, expected)
			if err != nil {
				return nil, t.opErr(err)
			}
		}
	}
}

// awaitPacket returns the next control byte or full packet. kind is SOH
// for a packet, EOT or CAN for control. Bytes that cannot start anything
// are answered with a single NAK and skipped.
func (t *Transport) awaitPacket(ctx context.Context) (kind byte, pkt []byte, err error) {
	for {
		t.mu.Lock()
		var head byte
		have := len(t.rxBuf) > 0
		if have {
			head = t.rxBuf[0]
		}
		t.mu.Unlock()

		if have {
			switch head {
			case EOT, CAN:
				t.takeByte()
				return head, nil, nil
			case SOH:
				if pkt, ok := t.takePacket(); ok {
					return SOH, pkt, nil
				}
				// Packet still arriving.
			default:
				// Not a packet start; junk the byte and complain.
				t.takeByte()
				t.updateStats(func(s *Stats) { s.PacketsDropped++ })
				err := t.sendControl(ctx, NAK)
				if err != nil {
					return 0, nil, err
				}
				continue
			}
		}

		err := t.fill(ctx, t.cfg.RecvTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			return 0, nil, err
		}
	}
}

// acceptPacket validates one packet, replying ACK or NAK and appending
// the payload when it is the expected packet.
func (t *Transport) acceptPacket(ctx context.Context, pkt, out []byte, expected byte) ([]byte, byte, error) {
	seq := pkt[1]
	cmpl := pkt[2]
	payload := pkt[3 : 3+t.cfg.PayloadSize]
	crc := pkt[3+t.cfg.PayloadSize]

	nak := func() ([]byte, byte, error) {
		t.updateStats(func(s *Stats) { s.PacketsDropped++ })
		err := t.sendControl(ctx, NAK)
		return out, expected, err
	}

	if cmpl != ^seq {
		if t.cfg.Logger != nil {
			t.cfg.Logger.Debug("sequence complement mismatch", "seq", int(seq))
		}
		return nak()
	}
	if seq == expected-1 {
		// A duplicate of the last accepted packet means our ACK was
		// lost; re-ACK it so the sender can advance, without appending.
		err := t.sendControl(ctx, ACK)
		return out, expected, err
	}
	if seq != expected {
		if t.cfg.Logger != nil {
			t.cfg.Logger.Debug("out of sequence packet", "seq", int(seq), "expected", int(expected))
		}
		return nak()
	}
	if frame.CRC8(payload) != crc {
		if t.cfg.Logger != nil {
			t.cfg.Logger.Debug("packet CRC mismatch", "seq", int(seq))
		}
		return nak()
	}

	out = append(out, payload...)
	t.updateStats(func(s *Stats) {
		s.PacketsReceived++
		s.BytesTransferred += int64(len(payload))
	})
	err := t.sendControl(ctx, ACK)
	return out, expected + 1, err
}

// trimEOF strips the trailing EOF padding added to the final packet.
func trimEOF(data []byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] == EOF {
		end--
	}
	return data[:end]
}
