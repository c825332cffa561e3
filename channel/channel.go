/*
NAME
  channel.go

DESCRIPTION
  channel.go defines the data channel abstraction between the transport
  and a streaming DSP processor: the control-side interface, the message
  envelopes crossing the audio boundary, and the channel errors.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package channel provides the asynchronous port joining the control side
// of the link to the DSP processor running in the audio callback. Requests
// and replies are correlated by id; every request receives exactly one
// reply, and aborted or reset operations are rejected locally with a
// best-effort control message sent to the processor.
package channel

import (
	"context"
	"errors"
)

// Request types crossing the port.
type MsgType string

const (
	MsgConfigure  MsgType = "configure"
	MsgModulate   MsgType = "modulate"
	MsgDemodulate MsgType = "demodulate"
	MsgStatus     MsgType = "status"
	MsgReset      MsgType = "reset"
	MsgAbort      MsgType = "abort"
)

// Reply types.
const (
	ReplyResult = "result"
	ReplyError  = "error"
)

// Request is the envelope for a control-to-processor message. Unsolicited
// processor events carry no id and travel separately as Event values.
type Request struct {
	ID   string
	Type MsgType
	Data interface{}
}

// Reply is the envelope for a processor-to-control message.
type Reply struct {
	ID   string
	Type string
	Data interface{}
	Err  string
}

// Event is an unsolicited notification from the processor side, such as a
// frame becoming available with no demodulate outstanding.
type Event struct {
	Type string
	Data interface{}
}

// Status reports processor state through the status request.
type Status struct {
	Configured bool
	TxPending  bool
}

// Channel errors.
var (
	ErrReset      = errors.New("DataChannel reset")
	ErrNotReady   = errors.New("channel: not configured")
	ErrBusy       = errors.New("channel: operation already in progress")
	ErrSendFailed = errors.New("channel: request send failed")
)

// DataChannel is the control-side face of a modem pipeline. Both the FSK
// and spread-spectrum pipelines satisfy it through a Port.
type DataChannel interface {
	// Configure performs single-shot processor configuration. It fails if
	// the processor rejects the configuration.
	Configure(ctx context.Context, cfg interface{}) error

	// Modulate encodes bytes into the outgoing signal, resolving when the
	// processor has drained them to the audio output.
	Modulate(ctx context.Context, data []byte) error

	// Demodulate resolves with the next available decoded byte array.
	Demodulate(ctx context.Context) ([]byte, error)

	// Reset cancels in-flight operations with ErrReset and restores the
	// processor to its unconfigured state.
	Reset() error

	// IsReady reports whether the channel is configured.
	IsReady() bool
}
