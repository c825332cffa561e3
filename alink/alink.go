/*
NAME
  alink.go

DESCRIPTION
  alink.go provides the API for running an acoustic link session: audio
  devices at the edges, a modem processor in the middle, and the packet
  transport on top, with methods to start, stop, send and receive.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Alan Noble <alan@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package alink provides an API for moving byte streams over an acoustic
// channel. A Link owns the audio devices, gain control, modem processor
// and packet transport, and drives the whole pipeline from a single audio
// loop.
package alink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausocean/acoustic/alink/config"
	"github.com/ausocean/acoustic/channel"
	"github.com/ausocean/acoustic/device"
	"github.com/ausocean/acoustic/dsp/agc"
	"github.com/ausocean/acoustic/events"
	"github.com/ausocean/acoustic/modem"
	"github.com/ausocean/acoustic/modem/dsss"
	"github.com/ausocean/acoustic/protocol/xmodem"
	"github.com/ausocean/utils/bitrate"
)

// configureTimeout bounds the initial processor configuration exchange.
const configureTimeout = 5 * time.Second

// SyncState is a snapshot of the spread-spectrum synchroniser, taken once
// per audio block.
type SyncState struct {
	Mode   string
	Locked bool
	SnrDb  float64
}

// Link is an acoustic link session.
type Link struct {
	cfg config.Config

	source device.Source
	sink   device.Sink

	agc  *agc.AGC
	proc modem.Processor

	port    *channel.Port
	service *channel.Service

	transport *xmodem.Transport
	emitter   *events.Emitter

	bitrate   bitrate.Calculator
	lastBytes int64

	sync atomic.Value // SyncState

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
	err     chan error
}

// New returns a Link for the given configuration, with the pipeline
// constructed but not started.
func New(c config.Config) (*Link, error) {
	err := c.Validate()
	if err != nil {
		return nil, fmt.Errorf("could not validate config: %w", err)
	}

	l := &Link{
		cfg:     c,
		emitter: events.NewEmitter(),
		err:     make(chan error, 1),
	}
	l.sync.Store(SyncState{Mode: "SEARCH"})

	err = l.setupPipeline()
	if err != nil {
		return nil, fmt.Errorf("could not set up pipeline: %w", err)
	}

	l.emitter.On(xmodem.EventStats, func(payload interface{}) {
		s, ok := payload.(xmodem.Stats)
		if !ok {
			return
		}
		if d := s.BytesTransferred - l.lastBytes; d > 0 {
			l.bitrate.Report(int(d))
			l.lastBytes = s.BytesTransferred
		}
	})

	go l.handleErrors()
	return l, nil
}

// handleErrors logs errors from the audio loop.
func (l *Link) handleErrors() {
	for err := range l.err {
		if err != nil {
			l.cfg.Logger.Error("async error", "error", err.Error())
		}
	}
}

// Start starts the audio devices and the processing loop, then configures
// the modem processor over the channel port.
func (l *Link) Start() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		l.cfg.Logger.Warning("start called, but link already running")
		return nil
	}
	l.running = true
	l.stop = make(chan struct{})
	l.mu.Unlock()

	l.cfg.Logger.Debug("starting input device", "name", l.source.Name())
	err := l.source.Start()
	if err != nil {
		return fmt.Errorf("could not start input: %w", err)
	}

	l.cfg.Logger.Debug("starting output device", "name", l.sink.Name())
	err = l.sink.Start()
	if err != nil {
		l.source.Stop()
		return fmt.Errorf("could not start output: %w", err)
	}

	l.wg.Add(1)
	go l.process()

	ctx, cancel := context.WithTimeout(context.Background(), configureTimeout)
	defer cancel()
	err = l.port.Configure(ctx, l.modemConfig())
	if err != nil {
		l.Stop()
		return fmt.Errorf("could not configure modem: %w", err)
	}

	l.cfg.Logger.Info("link started", "modem", l.cfg.Modem, "rate", l.cfg.SampleRate)
	return nil
}

// Stop closes down the pipeline: devices are stopped and the audio loop
// joined.
func (l *Link) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		l.cfg.Logger.Warning("stop called but link isn't running")
		return
	}
	l.running = false
	close(l.stop)
	l.mu.Unlock()

	err := l.source.Stop()
	if err != nil {
		l.cfg.Logger.Error("could not stop input", "error", err.Error())
	}
	l.wg.Wait()

	err = l.sink.Stop()
	if err != nil {
		l.cfg.Logger.Error("could not stop output", "error", err.Error())
	}

	l.cfg.Logger.Info("link stopped")
}

// Send transmits bytes over the link, blocking until acknowledged or
// failed.
func (l *Link) Send(ctx context.Context, data []byte) error {
	return l.transport.SendData(ctx, data)
}

// Receive receives one complete stream from the link.
func (l *Link) Receive(ctx context.Context) ([]byte, error) {
	return l.transport.ReceiveData(ctx)
}

// Reset resets the transport and data channel, rejecting any pending
// operations.
func (l *Link) Reset() error {
	return l.transport.Reset()
}

// Channel exposes the underlying data channel for callers bypassing the
// transport.
func (l *Link) Channel() channel.DataChannel { return l.port }

// Events returns the link's event emitter. Transport statistics are
// published on xmodem.EventStats.
func (l *Link) Events() *events.Emitter { return l.emitter }

// Stats returns transport statistics.
func (l *Link) Stats() xmodem.Stats { return l.transport.Stats() }

// Bitrate returns the most recent payload throughput measurement in bits
// per second.
func (l *Link) Bitrate() int { return l.bitrate.Bitrate() }

// Sync returns the latest synchroniser snapshot; it is meaningful only
// for the spread-spectrum modem.
func (l *Link) Sync() SyncState {
	return l.sync.Load().(SyncState)
}

// Write feeds PCM into a manual input device, for tests and loopbacks.
func (l *Link) Write(p []byte) (int, error) {
	mi, ok := l.source.(*device.ManualInput)
	if !ok {
		return 0, fmt.Errorf("cannot write to %s input", l.source.Name())
	}
	return mi.Write(p)
}

// snapshotSync records synchroniser state from the audio goroutine.
func (l *Link) snapshotSync() {
	d, ok := l.proc.(*dsss.Modem)
	if !ok {
		return
	}
	mode, locked, snr := d.Sync()
	l.sync.Store(SyncState{Mode: mode.String(), Locked: locked, SnrDb: snr})
}
