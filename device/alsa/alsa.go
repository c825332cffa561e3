/*
NAME
  alsa.go

DESCRIPTION
  alsa.go provides capture from ALSA audio devices for the modem receive
  path. Samples are delivered as mono S16_LE PCM through io.Reader.

AUTHOR
  Alan Noble <alan@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package alsa provides access to ALSA audio devices: a capture Source
// reading from a recording device, and a playback Sink feeding aplay.
package alsa

import (
	"errors"
	"fmt"
	"sync"
	"time"

	yalsa "github.com/yobert/alsa"

	"github.com/ausocean/acoustic/alink/config"
	"github.com/ausocean/acoustic/device"
	"github.com/ausocean/utils/logging"
	"github.com/ausocean/utils/pool"
)

const (
	pkg           = "alsa: "
	rbLen         = 200
	rbChunkSize   = 4096
	rbTimeout     = 100 * time.Millisecond
	rbNextTimeout = 2000 * time.Millisecond
)

// Device modes.
const (
	stopped = iota
	running
)

// Configuration field errors.
var (
	errInvalidSampleRate = errors.New("invalid sample rate, defaulting")
)

// Capture is an ALSA recording device. It implements device.Source.
type Capture struct {
	l        logging.Logger
	mu       sync.Mutex
	mode     uint8
	title    string
	rate     int
	dev      *yalsa.Device
	buf      *pool.Buffer
	leftover []byte // Remainder of the last chunk not yet read out.
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewCapture returns a Capture which logs to the given logger.
func NewCapture(l logging.Logger) *Capture { return &Capture{l: l} }

// Name returns the name of the device.
func (d *Capture) Name() string { return "ALSACapture" }

// Setup validates the relevant config fields and opens the recording
// device.
func (d *Capture) Setup(c config.Config) error {
	var errs device.MultiError
	if c.SampleRate <= 0 {
		errs = append(errs, errInvalidSampleRate)
		c.SampleRate = 44100
	}
	d.title = c.ALSADevice
	d.rate = int(c.SampleRate)

	err := d.open()
	if err != nil {
		return fmt.Errorf("could not open device: %w", err)
	}

	if len(errs) != 0 {
		return errs
	}
	return nil
}

// open finds and configures the recording device.
func (d *Capture) open() error {
	d.l.Debug(pkg + "opening sound card")
	cards, err := yalsa.OpenCards()
	if err != nil {
		return err
	}
	defer yalsa.CloseCards(cards)

	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, dev := range devices {
			if dev.Type != yalsa.PCM || !dev.Record {
				continue
			}
			if dev.Title == d.title || d.title == "" {
				d.dev = dev
				break
			}
		}
	}
	if d.dev == nil {
		return errors.New("no ALSA recording device found")
	}

	d.l.Debug(pkg+"opening ALSA device", "title", d.dev.Title)
	err = d.dev.Open()
	if err != nil {
		return err
	}

	_, err = d.dev.NegotiateChannels(1)
	if err != nil {
		// Fall back to stereo capture; only the first channel is kept.
		_, err = d.dev.NegotiateChannels(2)
		if err != nil {
			return fmt.Errorf("could not negotiate channels: %w", err)
		}
	}

	rate, err := d.dev.NegotiateRate(d.rate)
	if err != nil {
		return fmt.Errorf("could not negotiate rate: %w", err)
	}
	d.l.Debug(pkg+"negotiated rate", "rate", rate)

	_, err = d.dev.NegotiateFormat(yalsa.S16_LE)
	if err != nil {
		return fmt.Errorf("could not negotiate format: %w", err)
	}

	periodSize, err := d.dev.NegotiatePeriodSize(2048)
	if err != nil {
		return fmt.Errorf("could not negotiate period size: %w", err)
	}
	_, err = d.dev.NegotiateBufferSize(periodSize * 4)
	if err != nil {
		return fmt.Errorf("could not negotiate buffer size: %w", err)
	}
	return d.dev.Prepare()
}

// Start spawns the capture routine which reads from the device into the
// ring buffer.
func (d *Capture) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == running {
		return nil
	}
	if d.dev == nil {
		return errors.New("device not set up")
	}

	d.buf = pool.NewBuffer(rbLen, rbChunkSize, rbTimeout)
	d.stop = make(chan struct{})
	d.mode = running
	d.wg.Add(1)
	go d.input()
	return nil
}

// input reads from the ALSA device into the pool buffer until stopped.
func (d *Capture) input() {
	defer d.wg.Done()
	chunk := make([]byte, rbChunkSize)
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		err := d.dev.Read(chunk)
		if err != nil {
			d.l.Error(pkg+"read failed", "error", err.Error())
			return
		}
		_, err = d.buf.Write(chunk)
		switch err {
		case nil:
		case pool.ErrDropped:
			d.l.Warning(pkg + "old audio data overwritten")
		default:
			d.l.Warning(pkg+"buffer write failed", "error", err.Error())
		}
	}
}

// Read implements io.Reader, draining captured PCM. Chunks from the pool
// buffer larger than p are carried over to subsequent reads.
func (d *Capture) Read(p []byte) (int, error) {
	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()
	if mode != running {
		return 0, errors.New("ALSA capture not started")
	}

	if len(d.leftover) > 0 {
		n := copy(p, d.leftover)
		d.leftover = d.leftover[n:]
		return n, nil
	}

	chunk, err := d.buf.Next(rbNextTimeout)
	if err != nil {
		return 0, err
	}
	data := chunk.Bytes()
	n := copy(p, data)
	if n < len(data) {
		d.leftover = append(d.leftover[:0], data[n:]...)
	}
	err = chunk.Close()
	return n, err
}

// Stop halts the capture routine and closes the device.
func (d *Capture) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode != running {
		return nil
	}
	close(d.stop)
	d.mode = stopped
	d.wg.Wait()
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	return nil
}

// IsRunning reports whether capture is in progress.
func (d *Capture) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode == running
}
