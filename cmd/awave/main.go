/*
NAME
  awave - offline modulation and demodulation against audio files.

DESCRIPTION
  awave converts between byte streams and modulated audio files without
  touching a sound card: encode renders data to a WAV file, decode
  recovers data from a WAV or FLAC capture.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package main provides the awave command for offline modulation and
// demodulation against WAV and FLAC files.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"time"

	"github.com/ausocean/acoustic/alink"
	"github.com/ausocean/acoustic/alink/config"
	"github.com/ausocean/utils/logging"
)

const quietLimit = 10 * time.Second

func main() {
	var (
		encode    = flag.Bool("encode", false, "Modulate data to an audio file.")
		decode    = flag.Bool("decode", false, "Demodulate data from an audio capture (WAV or FLAC).")
		inPath    = flag.String("in", "-", "Input path: data for encode, audio for decode ('-' for stdin).")
		outPath   = flag.String("out", "", "Output path: audio for encode, data for decode ('-' for stdout).")
		modemType = flag.String("modem", config.ModemFSK, "Physical layer: fsk or dsss.")
		rate      = flag.Float64("rate", 44100, "Sample rate in Hz.")
		baud      = flag.Float64("baud", 300, "FSK baud rate.")
		logLevel  = flag.Int("LogLevel", int(logging.Warning), "Specifies log level.")
	)
	flag.Parse()

	log := logging.New(int8(*logLevel), os.Stderr, true)

	if *encode == *decode {
		log.Fatal("exactly one of -encode or -decode is required")
	}
	if *outPath == "" {
		log.Fatal("no output path provided, check usage")
	}

	var err error
	if *encode {
		err = encodeFile(*inPath, *outPath, *modemType, *rate, *baud, log)
	} else {
		err = decodeFile(*inPath, *outPath, *modemType, *rate, *baud, log)
	}
	if err != nil {
		log.Fatal("awave failed", "error", err.Error())
	}
}

// encodeFile renders the input data into a modulated WAV file.
func encodeFile(inPath, outPath, modemType string, rate, baud float64, log logging.Logger) error {
	var data []byte
	var err error
	if inPath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(inPath)
	}
	if err != nil {
		return err
	}

	l, err := alink.New(config.Config{
		Logger:     log,
		Output:     config.DeviceFile,
		OutputPath: outPath,
		SampleRate: rate,
		Modem:      modemType,
		BaudRate:   baud,
	})
	if err != nil {
		return err
	}

	stopFeed := feedSilence(l)
	defer stopFeed()

	err = l.Start()
	if err != nil {
		return err
	}
	defer l.Stop()

	log.Info("modulating", "bytes", len(data), "out", outPath)
	return l.Channel().Modulate(context.Background(), data)
}

// decodeFile demodulates a capture, writing recovered bytes to the
// output. Decoding stops once the capture is exhausted and no new bytes
// arrive within the quiet limit.
func decodeFile(inPath, outPath, modemType string, rate, baud float64, log logging.Logger) error {
	l, err := alink.New(config.Config{
		Logger:     log,
		Input:      config.DeviceFile,
		InputPath:  inPath,
		SampleRate: rate,
		Modem:      modemType,
		BaudRate:   baud,
	})
	if err != nil {
		return err
	}

	err = l.Start()
	if err != nil {
		return err
	}
	defer l.Stop()

	var out []byte
	for {
		ctx, cancel := context.WithTimeout(context.Background(), quietLimit)
		data, err := l.Channel().Demodulate(ctx)
		cancel()
		if err != nil {
			break // The capture has gone quiet.
		}
		out = append(out, data...)
	}

	log.Info("demodulated", "bytes", len(out))
	if outPath == "-" {
		_, err = os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(outPath, out, 0644)
}

// feedSilence keeps a manual-input pipeline turning with zero PCM.
func feedSilence(l *alink.Link) (stop func()) {
	done := make(chan struct{})
	go func() {
		block := make([]byte, 256)
		for {
			select {
			case <-done:
				return
			default:
			}
			_, err := l.Write(block)
			if err != nil {
				return
			}
		}
	}()
	return func() { close(done) }
}
