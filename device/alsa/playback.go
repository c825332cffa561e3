/*
NAME
  playback.go

DESCRIPTION
  playback.go provides audio output by piping raw PCM to aplay, the same
  playback route the speaker client uses.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package alsa

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/ausocean/acoustic/alink/config"
	"github.com/ausocean/utils/logging"
)

const audioCmd = "aplay"

// Playback is a Sink that feeds mono S16_LE PCM to aplay's stdin.
type Playback struct {
	l       logging.Logger
	mu      sync.Mutex
	rate    int
	running bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
}

// NewPlayback returns a Playback which logs to the given logger.
func NewPlayback(l logging.Logger) *Playback { return &Playback{l: l} }

// Name returns the name of the device.
func (d *Playback) Name() string { return "ALSAPlayback" }

// Setup records the sample rate and checks aplay is available.
func (d *Playback) Setup(c config.Config) error {
	if c.SampleRate <= 0 {
		return errors.New("invalid sample rate")
	}
	d.rate = int(c.SampleRate)

	_, err := exec.LookPath(audioCmd)
	if err != nil {
		return fmt.Errorf("%s not found: %w", audioCmd, err)
	}
	return nil
}

// Start launches the player process.
func (d *Playback) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	d.cmd = exec.Command(audioCmd,
		"-t", "raw",
		"-f", "S16_LE",
		"-c", "1",
		"-r", strconv.Itoa(d.rate),
		"-q",
		"-")
	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("could not open %s stdin: %w", audioCmd, err)
	}
	err = d.cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %s: %w", audioCmd, err)
	}

	d.stdin = stdin
	d.running = true
	d.l.Debug(pkg+"playback started", "rate", d.rate)
	return nil
}

// Write implements io.Writer, queueing PCM for playback.
func (d *Playback) Write(p []byte) (int, error) {
	d.mu.Lock()
	running := d.running
	stdin := d.stdin
	d.mu.Unlock()
	if !running {
		return 0, errors.New("ALSA playback not started")
	}
	return stdin.Write(p)
}

// Stop closes the player's input and waits for it to drain.
func (d *Playback) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false
	err := d.stdin.Close()
	if err != nil {
		d.l.Warning(pkg+"could not close player input", "error", err.Error())
	}
	return d.cmd.Wait()
}

// IsRunning reports whether playback is in progress.
func (d *Playback) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
