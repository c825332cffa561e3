/*
NAME
  asnoop - diagnostic plots from acoustic link captures.

DESCRIPTION
  asnoop reads a WAV or FLAC capture and renders a plot useful when tuning
  a spread-spectrum link: the sync correlation trace across the capture.
  Despread soft-bit confidence is not plotted.

AUTHOR
  David Sutton <davidsutton@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package main provides the asnoop command for plotting link
// diagnostics from audio captures.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ausocean/acoustic/alink/config"
	"github.com/ausocean/acoustic/device/file"
	"github.com/ausocean/acoustic/modem/dsss"
	"github.com/ausocean/utils/logging"
)

func main() {
	var (
		inPath  = flag.String("in", "", "Capture to analyse (WAV or FLAC).")
		outPath = flag.String("out", "correlation.png", "Plot output path.")
		rate    = flag.Float64("rate", 44100, "Sample rate in Hz.")
	)
	flag.Parse()

	log := logging.New(logging.Warning, os.Stderr, true)
	if *inPath == "" {
		log.Fatal("no capture provided, check usage")
	}

	samples, err := readCapture(*inPath, *rate, log)
	if err != nil {
		log.Fatal("could not read capture", "error", err.Error())
	}

	err = plotCorrelation(samples, *rate, *outPath)
	if err != nil {
		log.Fatal("could not plot correlation", "error", err.Error())
	}
	fmt.Printf("wrote %s from %d samples\n", *outPath, len(samples))
}

// readCapture decodes the whole capture to float samples.
func readCapture(path string, rate float64, log logging.Logger) ([]float32, error) {
	src := file.NewSource(log)
	err := src.Setup(config.Config{Logger: log, Input: config.DeviceFile, InputPath: path, SampleRate: rate})
	if err != nil {
		return nil, err
	}
	err = src.Start()
	if err != nil {
		return nil, err
	}
	defer src.Stop()

	var samples []float32
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		for i := 0; i+1 < n; i += 2 {
			s := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
			samples = append(samples, float32(s)/32768)
		}
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}
	}
}

// plotCorrelation slides the default spreading reference across the
// capture one bit period at a time and plots the peak correlation per
// window.
func plotCorrelation(samples []float32, rate float64, outPath string) error {
	cfg := dsss.Config{SampleRate: rate}
	err := cfg.Validate()
	if err != nil {
		return err
	}

	ref, params, err := dsss.Reference(cfg)
	if err != nil {
		return err
	}
	spb := cfg.SequenceLength * cfg.SamplesPerPhase

	var pts plotter.XYs
	for off := 0; off+2*spb <= len(samples); off += spb {
		res, err := dsss.FindSyncOffset(samples[off:off+2*spb], ref, params, -1, dsss.SyncCriteria{
			CorrelationThreshold: cfg.CorrelationThreshold,
			PeakToNoiseRatio:     1,
		})
		if err != nil {
			continue
		}
		pts = append(pts, plotter.XY{
			X: float64(off) / rate,
			Y: res.PeakCorrelation,
		})
	}

	p := plot.New()
	p.Title.Text = "Sync correlation"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "normalised peak"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line, plotter.NewGrid())

	return p.Save(8*vg.Inch, 4*vg.Inch, outPath)
}
