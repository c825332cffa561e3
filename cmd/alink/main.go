/*
NAME
  alink - command line client for moving files over an acoustic link.

DESCRIPTION
  alink runs an acoustic modem session over the sound card. In send mode
  it transmits a file; in recv mode it receives one; in watch mode it
  daemonises, transmitting every file dropped into a watched directory,
  with optional Prometheus metrics and a systemd watchdog.

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

// Package main provides the alink command for sending and receiving
// files over an acoustic link.
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/fsnotify/fsnotify"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/acoustic/alink"
	"github.com/ausocean/acoustic/alink/config"
	"github.com/ausocean/acoustic/metrics"
	"github.com/ausocean/acoustic/protocol/xmodem"
	"github.com/ausocean/utils/logging"
)

// Logging configuration.
const (
	progName     = "alink"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logSuppress  = true
)

const syncPollPeriod = time.Second

func main() {
	var (
		mode       = flag.String("mode", "recv", "Operating mode: send, recv or watch.")
		path       = flag.String("file", "", "File to send, or destination for received data ('-' for stdio).")
		watchDir   = flag.String("watch", "", "Directory to watch in watch mode.")
		modemType  = flag.String("modem", config.ModemFSK, "Physical layer: fsk or dsss.")
		alsaDev    = flag.String("device", "", "ALSA capture device title, empty for the default.")
		rate       = flag.Float64("rate", 44100, "Sample rate in Hz.")
		baud       = flag.Float64("baud", 300, "FSK baud rate.")
		second     = flag.Bool("second-channel", false, "Use the reverse-direction FSK tone pair.")
		metricsAdr = flag.String("metrics", "", "Address to serve Prometheus metrics on, empty to disable.")
		logPath    = flag.String("log", "/var/log/alink/alink.log", "Log file path.")
		logLevel   = flag.Int("LogLevel", int(logging.Info), "Specifies log level.")
	)
	flag.Parse()

	fileLog := &lumberjack.Logger{
		Filename:   *logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(int8(*logLevel), io.MultiWriter(fileLog, os.Stderr), logSuppress)

	log.Info("starting "+progName, "mode", *mode, "modem", *modemType)

	l, err := alink.New(config.Config{
		Logger:        log,
		Input:         config.DeviceALSA,
		Output:        config.DeviceALSA,
		ALSADevice:    *alsaDev,
		SampleRate:    *rate,
		Modem:         *modemType,
		BaudRate:      *baud,
		SecondChannel: *second,
	})
	if err != nil {
		log.Fatal("could not create link", "error", err.Error())
	}

	if *metricsAdr != "" {
		serveMetrics(l, *metricsAdr, log)
	}

	err = l.Start()
	if err != nil {
		log.Fatal("could not start link", "error", err.Error())
	}
	defer l.Stop()

	switch *mode {
	case "send":
		err = send(l, *path, log)
	case "recv":
		err = recv(l, *path, log)
	case "watch":
		err = watch(l, *watchDir, log)
	default:
		log.Fatal("unknown mode", "mode", *mode)
	}
	if err != nil {
		log.Fatal(*mode+" failed", "error", err.Error())
	}
}

// send transmits one file, or stdin for "-".
func send(l *alink.Link, path string, log logging.Logger) error {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	log.Info("sending", "bytes", len(data))
	err = l.Send(context.Background(), data)
	if err != nil {
		return err
	}
	stats := l.Stats()
	log.Info("send complete", "packets", stats.PacketsSent, "retransmitted", stats.PacketsRetransmitted, "bitrate", l.Bitrate())
	return nil
}

// recv receives one stream into a file, or stdout for "-".
func recv(l *alink.Link, path string, log logging.Logger) error {
	data, err := l.Receive(context.Background())
	if err != nil {
		return err
	}
	log.Info("received", "bytes", len(data))

	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// watch daemonises, transmitting each file created in the watched
// directory and feeding the systemd watchdog when one is armed.
func watch(l *alink.Link, dir string, log logging.Logger) error {
	if dir == "" {
		dir = "."
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	err = watcher.Add(dir)
	if err != nil {
		return err
	}

	// Tell systemd we're up, and arm the watchdog ticker if configured.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	wdInterval, _ := daemon.SdWatchdogEnabled(false)
	var wd <-chan time.Time
	if wdInterval > 0 {
		t := time.NewTicker(wdInterval / 2)
		defer t.Stop()
		wd = t.C
	}

	log.Info("watching for files", "dir", dir)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			// Let the writer finish before reading.
			time.Sleep(500 * time.Millisecond)
			data, err := os.ReadFile(ev.Name)
			if err != nil {
				log.Warning("could not read new file", "path", ev.Name, "error", err.Error())
				continue
			}
			log.Info("sending file", "path", filepath.Base(ev.Name), "bytes", len(data))
			err = l.Send(context.Background(), data)
			if err != nil {
				log.Error("send failed", "path", ev.Name, "error", err.Error())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warning("watcher error", "error", err.Error())

		case <-wd:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// serveMetrics starts the Prometheus endpoint and wires the collectors to
// link events.
func serveMetrics(l *alink.Link, addr string, log logging.Logger) {
	col := metrics.NewCollector()
	l.Events().On(xmodem.EventStats, func(payload interface{}) {
		if s, ok := payload.(xmodem.Stats); ok {
			col.Update(s)
		}
	})
	go func() {
		for range time.Tick(syncPollPeriod) {
			st := l.Sync()
			col.UpdateSync(st.Locked, st.SnrDb)
		}
	}()
	go func() {
		log.Info("serving metrics", "addr", addr)
		err := http.ListenAndServe(addr, col.Handler())
		if err != nil {
			log.Error("metrics server failed", "error", err.Error())
		}
	}()
}
