/*
NAME
  events.go

DESCRIPTION
  events.go provides a minimal synchronous event fan-out keyed by event
  name, used for link status and transport statistics notifications.

AUTHOR
  Ella Pietraroia <ella@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package events provides a synchronous event emitter. Listeners run on
// the emitting goroutine in registration order; a panicking listener
// propagates to the emitter rather than being swallowed.
package events

import "sync"

// Listener receives the event payload.
type Listener func(payload interface{})

// Emitter is a synchronous fan-out keyed by event name. The zero value is
// not usable; use NewEmitter.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]registration
	nextID    int
}

type registration struct {
	id int
	fn Listener
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]registration)}
}

// On registers a listener for the named event and returns a removal
// function for that registration.
func (e *Emitter) On(name string, fn Listener) (remove func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[name] = append(e.listeners[name], registration{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		regs := e.listeners[name]
		for i, r := range regs {
			if r.id == id {
				e.listeners[name] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Emit invokes the listeners registered for name, in registration order,
// on the calling goroutine.
func (e *Emitter) Emit(name string, payload interface{}) {
	e.mu.Lock()
	regs := append([]registration(nil), e.listeners[name]...)
	e.mu.Unlock()

	for _, r := range regs {
		r.fn(payload)
	}
}

// RemoveAllListeners removes the listeners for the given names, or every
// listener when called with no arguments.
func (e *Emitter) RemoveAllListeners(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(names) == 0 {
		e.listeners = make(map[string][]registration)
		return
	}
	for _, n := range names {
		delete(e.listeners, n)
	}
}

// ListenerCount returns the number of listeners for name.
func (e *Emitter) ListenerCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}
