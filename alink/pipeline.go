/*
NAME
  pipeline.go

DESCRIPTION
  pipeline.go provides set up of the link processing pipeline: device
  selection, modem processor construction, the channel port pair and the
  audio loop that drives them.

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

package alink

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ausocean/acoustic/alink/config"
	"github.com/ausocean/acoustic/channel"
	"github.com/ausocean/acoustic/device"
	"github.com/ausocean/acoustic/device/alsa"
	"github.com/ausocean/acoustic/device/file"
	"github.com/ausocean/acoustic/dsp/agc"
	"github.com/ausocean/acoustic/modem/dsss"
	"github.com/ausocean/acoustic/modem/fsk"
	"github.com/ausocean/acoustic/protocol/xmodem"
)

// setupPipeline constructs devices, gain control, the modem processor and
// the transport according to the current config.
func (l *Link) setupPipeline() error {
	c := l.cfg

	switch c.Input {
	case config.DeviceALSA:
		l.source = alsa.NewCapture(c.Logger)
	case config.DeviceFile:
		l.source = file.NewSource(c.Logger)
	case config.DeviceManual:
		l.source = device.NewManualInput()
	}
	err := l.source.Setup(c)
	if err != nil {
		return fmt.Errorf("could not set up input %s: %w", l.source.Name(), err)
	}

	switch c.Output {
	case config.DeviceALSA:
		l.sink = alsa.NewPlayback(c.Logger)
	case config.DeviceFile:
		l.sink = file.NewSink(c.Logger)
	case config.DeviceManual:
		l.sink = device.NewDiscard()
	}
	err = l.sink.Setup(c)
	if err != nil {
		return fmt.Errorf("could not set up output %s: %w", l.sink.Name(), err)
	}

	l.agc, err = agc.New(agc.Config{
		Target:     c.AGCTarget,
		AttackMs:   5,
		ReleaseMs:  200,
		GainMin:    0.1,
		GainMax:    10,
		SampleRate: c.SampleRate,
	})
	if err != nil {
		c.Logger.Warning("AGC config defaulted", "error", err.Error())
	}

	switch c.Modem {
	case config.ModemFSK:
		l.proc = fsk.New()
	case config.ModemDSSS:
		l.proc = dsss.New()
	}

	l.port = channel.NewPort(c.Modem)
	l.service = channel.NewService(l.port, l.proc, c.Logger)

	l.transport, err = xmodem.New(l.port, xmodem.Config{
		PayloadSize: c.PayloadSize,
		Timeout:     time.Duration(c.TimeoutMs) * time.Millisecond,
		MaxRetries:  c.MaxRetries,
		Logger:      c.Logger,
		Emitter:     l.emitter,
	})
	if err != nil {
		return fmt.Errorf("could not create transport: %w", err)
	}
	return nil
}

// modemConfig builds the processor configuration for the configured
// physical layer.
func (l *Link) modemConfig() interface{} {
	c := l.cfg
	switch c.Modem {
	case config.ModemDSSS:
		return dsss.Config{
			CarrierFreq:     c.CarrierFreq,
			SamplesPerPhase: c.SamplesPerPhase,
			SequenceLength:  c.SequenceLength,
			Seed:            c.Seed,
			SampleRate:      c.SampleRate,
			Logger:          c.Logger,
		}
	default:
		return fsk.Config{
			MarkFreq:      c.MarkFreq,
			SpaceFreq:     c.SpaceFreq,
			BaudRate:      c.BaudRate,
			SampleRate:    c.SampleRate,
			SecondChannel: c.SecondChannel,
			Logger:        c.Logger,
		}
	}
}

// process is the audio loop: blocks of PCM are read from the source,
// gained, run through the modem processor, and written to the sink; the
// channel service runs between blocks. Device I/O paces the loop.
func (l *Link) process() {
	defer l.wg.Done()

	n := l.cfg.BlockSize
	pcmIn := make([]byte, 2*n)
	pcmOut := make([]byte, 2*n)
	in := make([]float32, n)
	out := make([]float32, n)

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		_, err := io.ReadFull(l.source, pcmIn)
		if err != nil {
			// A dry source still drives the pipeline with silence, so
			// transmission and receiver flushing continue.
			for i := range pcmIn {
				pcmIn[i] = 0
			}
			select {
			case <-l.stop:
				return
			case <-time.After(time.Duration(float64(n)/l.cfg.SampleRate*1000) * time.Millisecond):
			}
		}

		pcmToFloats(pcmIn, in)
		l.agc.ApplyBlock(in)
		l.proc.ProcessBlock(in, out)
		floatsToPCM(out, pcmOut)

		_, err = l.sink.Write(pcmOut)
		if err != nil {
			select {
			case l.err <- fmt.Errorf("could not write to output: %w", err):
			default:
			}
		}

		l.service.Serve()
		l.snapshotSync()
	}
}

// pcmToFloats converts S16_LE PCM to float32 samples in [-1,1).
func pcmToFloats(b []byte, f []float32) {
	for i := range f {
		s := int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
		f[i] = float32(s) / (math.MaxInt16 + 1)
	}
}

// floatsToPCM converts float32 samples to S16_LE PCM, clipping at full
// scale.
func floatsToPCM(f []float32, b []byte) {
	for i, x := range f {
		if x > 1 {
			x = 1
		} else if x < -1 {
			x = -1
		}
		s := int16(x * math.MaxInt16)
		b[2*i] = byte(s)
		b[2*i+1] = byte(s >> 8)
	}
}
