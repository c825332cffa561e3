/*
NAME
  service.go

DESCRIPTION
  service.go provides the processor-side half of the data channel: the
  request handler run by the audio goroutine between blocks, parking
  modulate and demodulate operations until the processor can satisfy them.

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
	"github.com/ausocean/acoustic/modem"
	"github.com/ausocean/utils/logging"
)

// EventDemodulated tags the unsolicited event published when a frame
// decodes with no demodulate operation outstanding.
const EventDemodulated = "demodulated"

// Service is the processor-side endpoint of a Port. Serve is called by
// the audio goroutine after each processed block; no other goroutine may
// touch the processor.
type Service struct {
	port *Port
	proc modem.Processor
	log  logging.Logger

	configured bool

	// Parked operations awaiting processor progress.
	modulating   *Request
	demodWaiters []Request

	// stash holds a frame read for availability notification but not yet
	// handed to a waiter.
	stash []byte
}

// NewService returns the service half for a port, driving the given
// processor.
func NewService(port *Port, proc modem.Processor, l logging.Logger) *Service {
	return &Service{port: port, proc: proc, log: l}
}

// Serve drains queued control requests and progresses parked operations.
// It never blocks.
func (s *Service) Serve() {
	for {
		select {
		case req := <-s.port.requests:
			s.handle(req)
		default:
			s.progress()
			return
		}
	}
}

func (s *Service) handle(req Request) {
	switch req.Type {
	case MsgConfigure:
		err := s.proc.Configure(req.Data)
		if err != nil {
			s.reply(Reply{ID: req.ID, Type: ReplyError, Err: err.Error()})
			return
		}
		s.configured = true
		s.reply(Reply{ID: req.ID, Type: ReplyResult})

	case MsgModulate:
		if !s.configured {
			s.reply(Reply{ID: req.ID, Type: ReplyError, Err: modem.ErrNotConfigured.Error()})
			return
		}
		if s.modulating != nil {
			s.reply(Reply{ID: req.ID, Type: ReplyError, Err: ErrBusy.Error()})
			return
		}
		data, ok := req.Data.([]byte)
		if !ok {
			s.reply(Reply{ID: req.ID, Type: ReplyError, Err: "modulate expects bytes"})
			return
		}
		err := s.proc.Submit(data)
		if err != nil {
			s.reply(Reply{ID: req.ID, Type: ReplyError, Err: err.Error()})
			return
		}
		r := req
		s.modulating = &r

	case MsgDemodulate:
		if !s.configured {
			s.reply(Reply{ID: req.ID, Type: ReplyError, Err: modem.ErrNotConfigured.Error()})
			return
		}
		s.demodWaiters = append(s.demodWaiters, req)

	case MsgStatus:
		s.reply(Reply{ID: req.ID, Type: ReplyResult, Data: Status{
			Configured: s.configured,
			TxPending:  s.configured && s.proc.TxPending(),
		}})

	case MsgReset:
		s.proc.Reset()
		s.configured = false
		s.dropParked(ErrReset.Error())
		s.reply(Reply{ID: req.ID, Type: ReplyResult})

	case MsgAbort:
		id, _ := req.Data.(string)
		s.dropOp(id)

	default:
		if s.log != nil {
			s.log.Warning("unknown message type on channel port", "type", string(req.Type))
		}
		s.reply(Reply{ID: req.ID, Type: ReplyError, Err: "unknown message type"})
	}
}

// progress completes parked operations the processor can now satisfy.
func (s *Service) progress() {
	if s.modulating != nil && !s.proc.TxPending() {
		s.reply(Reply{ID: s.modulating.ID, Type: ReplyResult})
		s.modulating = nil
	}

	for len(s.demodWaiters) > 0 {
		data, ok := s.take()
		if !ok {
			return
		}
		req := s.demodWaiters[0]
		s.demodWaiters = s.demodWaiters[1:]
		s.reply(Reply{ID: req.ID, Type: ReplyResult, Data: data})
	}

	// No waiter; surface availability as an unsolicited event without
	// consuming the frame.
	if data, ok := s.peek(); ok {
		s.port.notify(Event{Type: EventDemodulated, Data: len(data)})
	}
}

// take returns the next frame, preferring one stashed by peek.
func (s *Service) take() ([]byte, bool) {
	if s.stash != nil {
		data := s.stash
		s.stash = nil
		return data, true
	}
	return s.proc.NextFrame()
}

// peek is a non-destructive availability check. The processor API only
// exposes a destructive NextFrame, so the frame is read and pushed onto a
// one-deep stash returned ahead of the processor next time.
func (s *Service) peek() ([]byte, bool) {
	if s.stash != nil {
		return s.stash, true
	}
	data, ok := s.proc.NextFrame()
	if ok {
		s.stash = data
	}
	return data, ok
}

func (s *Service) dropParked(msg string) {
	if s.modulating != nil {
		s.reply(Reply{ID: s.modulating.ID, Type: ReplyError, Err: msg})
		s.modulating = nil
	}
	for _, req := range s.demodWaiters {
		s.reply(Reply{ID: req.ID, Type: ReplyError, Err: msg})
	}
	s.demodWaiters = s.demodWaiters[:0]
	s.stash = nil
}

// dropOp removes a parked operation by id after an abort.
func (s *Service) dropOp(id string) {
	if s.modulating != nil && s.modulating.ID == id {
		s.modulating = nil
		return
	}
	for i, req := range s.demodWaiters {
		if req.ID == id {
			s.demodWaiters = append(s.demodWaiters[:i], s.demodWaiters[i+1:]...)
			return
		}
	}
}

func (s *Service) reply(rep Reply) { s.port.deliver(rep) }
