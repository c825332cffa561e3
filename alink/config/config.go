/*
NAME
  config.go

DESCRIPTION
  config.go provides the flat session configuration for the acoustic
  link: audio geometry, modem selection and wire parameters, transport
  tuning and logging.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package config provides configuration for an acoustic link session.
package config

import (
	"errors"

	"github.com/ausocean/utils/logging"
)

// Input and output selections.
const (
	DeviceALSA   = "alsa"
	DeviceFile   = "file"
	DeviceManual = "manual"
)

// Modem selections.
const (
	ModemFSK  = "fsk"
	ModemDSSS = "dsss"
)

// Defaults.
const (
	defaultSampleRate  = 44100.0
	defaultBlockSize   = 128
	defaultAGCTarget   = 0.5
	defaultPayloadSize = 128
	defaultTimeoutMs   = 3000
	defaultMaxRetries  = 10
)

// Validation errors.
var (
	ErrNoLogger    = errors.New("config: logger not set")
	ErrBadModem    = errors.New("config: unknown modem type")
	ErrBadDevice   = errors.New("config: unknown device type")
	ErrMissingPath = errors.New("config: file device requires a path")
)

// Config is the flat session configuration. Zero fields take defaults in
// Validate; the Logger must be supplied.
type Config struct {
	// Logger is the session logger; it is handed to every component.
	Logger   logging.Logger
	LogLevel int8

	// Input and Output name the audio devices, one of the Device
	// constants. InputPath and OutputPath apply to file devices.
	Input      string
	Output     string
	InputPath  string
	OutputPath string

	// ALSADevice optionally names the capture device title.
	ALSADevice string

	SampleRate float64
	BlockSize  int

	// Modem selects the physical layer, one of the Modem constants.
	Modem string

	// FSK wire parameters. Zero values take the modem's defaults.
	MarkFreq      float64
	SpaceFreq     float64
	BaudRate      float64
	SecondChannel bool

	// Spread-spectrum wire parameters. Zero values take the modem's
	// defaults.
	CarrierFreq     float64
	SamplesPerPhase int
	SequenceLength  int
	Seed            uint32

	// AGC.
	AGCTarget float64

	// Transport.
	PayloadSize int
	TimeoutMs   int
	MaxRetries  int
}

// Validate checks the configuration, applying defaults where fields are
// unset. Each defaulted field is logged, except Input and Output, which
// fall back to the manual device silently.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return ErrNoLogger
	}

	if c.Input == "" {
		c.Input = DeviceManual
	}
	if c.Output == "" {
		c.Output = DeviceManual
	}
	for _, d := range []string{c.Input, c.Output} {
		switch d {
		case DeviceALSA, DeviceFile, DeviceManual:
		default:
			return ErrBadDevice
		}
	}
	if c.Input == DeviceFile && c.InputPath == "" {
		return ErrMissingPath
	}
	if c.Output == DeviceFile && c.OutputPath == "" {
		return ErrMissingPath
	}

	if c.Modem == "" {
		c.LogInvalidField("Modem", ModemFSK)
		c.Modem = ModemFSK
	}
	if c.Modem != ModemFSK && c.Modem != ModemDSSS {
		return ErrBadModem
	}

	if c.SampleRate <= 0 {
		c.LogInvalidField("SampleRate", defaultSampleRate)
		c.SampleRate = defaultSampleRate
	}
	if c.BlockSize <= 0 {
		c.LogInvalidField("BlockSize", defaultBlockSize)
		c.BlockSize = defaultBlockSize
	}
	if c.AGCTarget <= 0 || c.AGCTarget > 1 {
		c.LogInvalidField("AGCTarget", defaultAGCTarget)
		c.AGCTarget = defaultAGCTarget
	}
	if c.PayloadSize <= 0 {
		c.LogInvalidField("PayloadSize", defaultPayloadSize)
		c.PayloadSize = defaultPayloadSize
	}
	if c.TimeoutMs <= 0 {
		c.LogInvalidField("TimeoutMs", defaultTimeoutMs)
		c.TimeoutMs = defaultTimeoutMs
	}
	if c.MaxRetries < 0 {
		c.LogInvalidField("MaxRetries", defaultMaxRetries)
		c.MaxRetries = defaultMaxRetries
	}
	return nil
}

// LogInvalidField logs the defaulting of a configuration field.
func (c *Config) LogInvalidField(name string, def interface{}) {
	if c.Logger != nil {
		c.Logger.Info("bad config field, using default", "field", name, "default", def)
	}
}
