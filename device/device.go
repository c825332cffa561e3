/*
DESCRIPTION
  device.go provides the interfaces describing configurable audio devices
  from which sample data may be obtained and to which rendered signal may
  be written, along with a manual loopback implementation for testing.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package device provides interfaces and implementations for the audio
// devices at the edges of the modem pipeline. Sample data crosses the
// boundary as mono signed 16-bit little-endian PCM.
package device

import (
	"errors"
	"fmt"
	"io"

	"github.com/ausocean/acoustic/alink/config"
)

// Source describes a configurable audio input from which PCM data can be
// read once started.
type Source interface {
	io.Reader

	// Name returns the name of the device.
	Name() string

	// Setup configures the device from the session config. All, some or
	// none of the fields may be considered by an implementation.
	Setup(c config.Config) error

	// Start begins capture, after which Read may be called.
	Start() error

	// Stop ends capture; Reads will no longer succeed.
	Stop() error

	// IsRunning reports whether the device is capturing.
	IsRunning() bool
}

// Sink is the output counterpart of Source: rendered signal is written to
// it as PCM data.
type Sink interface {
	io.Writer

	Name() string
	Setup(c config.Config) error
	Start() error
	Stop() error
	IsRunning() bool
}

// MultiError collects errors during validation of configuration
// parameters for devices.
type MultiError []error

func (me MultiError) Error() string {
	if len(me) == 0 {
		panic("device: invalid use of MultiError")
	}
	return fmt.Sprintf("%v", []error(me))
}

// ManualInput is a Source fed manually through software; it also
// implements io.Writer. It employs an io.Pipe, so every write must be
// matched by reads or blocking will occur.
type ManualInput struct {
	isRunning bool
	reader    *io.PipeReader
	writer    *io.PipeWriter
}

// NewManualInput provides a new ManualInput.
func NewManualInput() *ManualInput { return &ManualInput{} }

// Read reads from the manual input and puts the bytes into p.
func (m *ManualInput) Read(p []byte) (int, error) {
	if !m.isRunning {
		return 0, errors.New("manual input has not been started, can't read")
	}
	return m.reader.Read(p)
}

// Write writes to the pipe for the read side to consume.
func (m *ManualInput) Write(p []byte) (int, error) {
	if !m.isRunning {
		return 0, errors.New("manual input has not been started, can't write")
	}
	return m.writer.Write(p)
}

// Name returns the name of the device i.e. "ManualInput".
func (m *ManualInput) Name() string { return "ManualInput" }

// IsRunning reports whether the manual input is started.
func (m *ManualInput) IsRunning() bool { return m.isRunning }

// Setup is a stub to satisfy the Source interface; no configuration
// fields are required by ManualInput.
func (m *ManualInput) Setup(c config.Config) error { return nil }

// Start sets the running flag and creates the pipe.
func (m *ManualInput) Start() error {
	m.isRunning = true
	m.reader, m.writer = io.Pipe()
	return nil
}

// Stop closes the pipe and clears the running flag.
func (m *ManualInput) Stop() error {
	if m.reader != nil {
		m.reader.Close()
	}
	m.isRunning = false
	return nil
}

// Discard is a Sink that swallows everything written to it, for receive
// only sessions and tests.
type Discard struct{ running bool }

// NewDiscard provides a new Discard sink.
func NewDiscard() *Discard { return &Discard{} }

func (d *Discard) Write(p []byte) (int, error) {
	if !d.running {
		return 0, errors.New("discard sink has not been started, can't write")
	}
	return len(p), nil
}

func (d *Discard) Name() string                { return "Discard" }
func (d *Discard) Setup(c config.Config) error { return nil }
func (d *Discard) Start() error                { d.running = true; return nil }
func (d *Discard) Stop() error                 { d.running = false; return nil }
func (d *Discard) IsRunning() bool             { return d.running }
