/*
NAME
  file.go

DESCRIPTION
  file.go provides file-backed audio devices: a WAV source and sink for
  offline modulation and demodulation, and a FLAC source for decoding
  field recordings.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package file provides audio devices backed by WAV and FLAC files.
// Sample data crosses the device boundary as mono S16_LE PCM.
package file

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"

	"github.com/ausocean/acoustic/alink/config"
	"github.com/ausocean/utils/logging"
)

// Source reads a WAV or FLAC file and serves its samples as mono S16_LE
// PCM. The whole file is decoded at Setup; acoustic captures are short.
type Source struct {
	l       logging.Logger
	path    string
	pcm     *bytes.Reader
	running bool
}

// NewSource returns a file Source which logs to the given logger.
func NewSource(l logging.Logger) *Source { return &Source{l: l} }

// Name returns the name of the device.
func (d *Source) Name() string { return "FileSource" }

// Setup decodes the file named by InputPath.
func (d *Source) Setup(c config.Config) error {
	if c.InputPath == "" {
		return errors.New("no input path configured")
	}
	d.path = c.InputPath

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(d.path)) {
	case ".flac":
		data, err = decodeFLAC(d.path)
	default:
		data, err = decodeWAV(d.path)
	}
	if err != nil {
		return fmt.Errorf("could not decode %s: %w", d.path, err)
	}

	d.l.Debug("decoded audio file", "path", d.path, "bytes", len(data))
	d.pcm = bytes.NewReader(data)
	return nil
}

// Read implements io.Reader over the decoded PCM.
func (d *Source) Read(p []byte) (int, error) {
	if !d.running {
		return 0, errors.New("file source not started")
	}
	return d.pcm.Read(p)
}

// Start marks the source ready for reading.
func (d *Source) Start() error {
	if d.pcm == nil {
		return errors.New("file source not set up")
	}
	d.running = true
	return nil
}

// Stop halts reading.
func (d *Source) Stop() error {
	d.running = false
	return nil
}

// IsRunning reports whether the source is started.
func (d *Source) IsRunning() bool { return d.running }

// decodeWAV reads a WAV file into mono S16_LE PCM, keeping the first
// channel of multi-channel material.
func decodeWAV(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, errors.New("wav: missing format")
	}

	ch := buf.Format.NumChannels
	shift := 0
	if buf.SourceBitDepth > 16 {
		shift = buf.SourceBitDepth - 16
	}

	out := make([]byte, 0, 2*len(buf.Data)/ch)
	for i := 0; i < len(buf.Data); i += ch {
		s := buf.Data[i] >> shift
		out = append(out, byte(s), byte(s>>8))
	}
	return out, nil
}

// decodeFLAC reads a FLAC file into mono S16_LE PCM.
func decodeFLAC(path string) ([]byte, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	shift := 0
	if int(stream.Info.BitsPerSample) > 16 {
		shift = int(stream.Info.BitsPerSample) - 16
	}

	var out []byte
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			break
		}
		sub := frame.Subframes[0]
		for _, s := range sub.Samples {
			v := int(s) >> shift
			out = append(out, byte(v), byte(v>>8))
		}
	}
	return out, nil
}

// Sink writes mono S16_LE PCM to a WAV file.
type Sink struct {
	l       logging.Logger
	path    string
	rate    int
	f       *os.File
	enc     *wav.Encoder
	running bool
}

// NewSink returns a file Sink which logs to the given logger.
func NewSink(l logging.Logger) *Sink { return &Sink{l: l} }

// Name returns the name of the device.
func (d *Sink) Name() string { return "FileSink" }

// Setup records the output path and sample rate.
func (d *Sink) Setup(c config.Config) error {
	if c.OutputPath == "" {
		return errors.New("no output path configured")
	}
	d.path = c.OutputPath
	d.rate = int(c.SampleRate)
	return nil
}

// Start creates the output file and encoder.
func (d *Sink) Start() error {
	f, err := os.Create(d.path)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", d.path, err)
	}
	d.f = f
	d.enc = wav.NewEncoder(f, d.rate, 16, 1, 1)
	d.running = true
	return nil
}

// Write implements io.Writer, appending PCM to the file.
func (d *Sink) Write(p []byte) (int, error) {
	if !d.running {
		return 0, errors.New("file sink not started")
	}
	if len(p)%2 != 0 {
		return 0, errors.New("uneven number of bytes (not whole number of samples)")
	}

	ints := make([]int, len(p)/2)
	for i := range ints {
		ints[i] = int(int16(uint16(p[2*i]) | uint16(p[2*i+1])<<8))
	}
	err := d.enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: d.rate},
		Data:           ints,
		SourceBitDepth: 16,
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Stop finalises the WAV header and closes the file.
func (d *Sink) Stop() error {
	if !d.running {
		return nil
	}
	d.running = false
	err := d.enc.Close()
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// IsRunning reports whether the sink is started.
func (d *Sink) IsRunning() bool { return d.running }
