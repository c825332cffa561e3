/*
NAME
  port.go

DESCRIPTION
  port.go provides the control-side half of the data channel: request
  submission with id correlation, context cancellation with best-effort
  abort messaging, and reset rejection of pending operations.

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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// requestDepth bounds queued control requests; the audio side drains the
// queue every block so depth is only consumed by bursts.
const requestDepth = 32

// eventDepth bounds buffered unsolicited events; overflow drops the
// oldest semantics are not needed, new events are dropped instead.
const eventDepth = 16

// Port is the control-side endpoint of the data channel. It satisfies
// DataChannel. The processor-side endpoint is a Service.
type Port struct {
	name string
	ctr  atomic.Uint64

	requests chan Request
	events   chan Event

	mu      sync.Mutex
	pending map[string]chan Reply

	ready atomic.Bool
}

// NewPort returns a port whose request ids are prefixed with the given
// instance name.
func NewPort(name string) *Port {
	return &Port{
		name:     name,
		requests: make(chan Request, requestDepth),
		events:   make(chan Event, eventDepth),
		pending:  make(map[string]chan Reply),
	}
}

// Events returns the unsolicited event stream from the processor side.
func (p *Port) Events() <-chan Event { return p.events }

// nextID builds an opaque request id from the instance name and a
// monotone counter.
func (p *Port) nextID() string {
	return fmt.Sprintf("%s-%d", p.name, p.ctr.Add(1))
}

// do submits one request and awaits its reply. Cancellation rejects with
// "<op> aborted" and posts a best-effort abort message for the id.
func (p *Port) do(ctx context.Context, typ MsgType, data interface{}, op string) (interface{}, error) {
	id := p.nextID()
	ch := make(chan Reply, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()

	select {
	case p.requests <- Request{ID: id, Type: typ, Data: data}:
	case <-ctx.Done():
		p.unregister(id)
		return nil, fmt.Errorf("%s aborted", op)
	}

	select {
	case rep := <-ch:
		if rep.Type == ReplyError {
			return nil, fmt.Errorf("%s: %s", op, rep.Err)
		}
		return rep.Data, nil
	case <-ctx.Done():
		p.unregister(id)
		// Best-effort abort towards the processor; dropped if the queue
		// is full.
		select {
		case p.requests <- Request{ID: p.nextID(), Type: MsgAbort, Data: id}:
		default:
		}
		return nil, fmt.Errorf("%s aborted", op)
	}
}

func (p *Port) unregister(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// deliver hands a reply to its waiter. Replies for unknown ids, such as
// operations already aborted, are discarded.
func (p *Port) deliver(rep Reply) {
	p.mu.Lock()
	ch, ok := p.pending[rep.ID]
	if ok {
		delete(p.pending, rep.ID)
	}
	p.mu.Unlock()
	if ok {
		ch <- rep
	}
}

// notify publishes an unsolicited event, dropping it if the consumer is
// not keeping up.
func (p *Port) notify(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// failPending rejects every in-flight operation with the given message.
func (p *Port) failPending(msg string) {
	p.mu.Lock()
	for id, ch := range p.pending {
		delete(p.pending, id)
		ch <- Reply{ID: id, Type: ReplyError, Err: msg}
	}
	p.mu.Unlock()
}

// Configure implements DataChannel.
func (p *Port) Configure(ctx context.Context, cfg interface{}) error {
	_, err := p.do(ctx, MsgConfigure, cfg, "Configure")
	if err != nil {
		return err
	}
	p.ready.Store(true)
	return nil
}

// Modulate implements DataChannel.
func (p *Port) Modulate(ctx context.Context, data []byte) error {
	if !p.ready.Load() {
		return ErrNotReady
	}
	_, err := p.do(ctx, MsgModulate, data, "Modulate")
	return err
}

// Demodulate implements DataChannel.
func (p *Port) Demodulate(ctx context.Context) ([]byte, error) {
	if !p.ready.Load() {
		return nil, ErrNotReady
	}
	res, err := p.do(ctx, MsgDemodulate, nil, "Demodulate")
	if err != nil {
		return nil, err
	}
	data, _ := res.([]byte)
	return data, nil
}

// Status queries processor state.
func (p *Port) Status(ctx context.Context) (Status, error) {
	res, err := p.do(ctx, MsgStatus, nil, "Status")
	if err != nil {
		return Status{}, err
	}
	st, _ := res.(Status)
	return st, nil
}

// Reset implements DataChannel. In-flight operations are rejected with
// ErrReset before the reset control message is sent.
func (p *Port) Reset() error {
	p.ready.Store(false)
	p.failPending(ErrReset.Error())
	_, err := p.do(context.Background(), MsgReset, nil, "Reset")
	return err
}

// IsReady implements DataChannel.
func (p *Port) IsReady() bool { return p.ready.Load() }
