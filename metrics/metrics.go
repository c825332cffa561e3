/*
NAME
  metrics.go

DESCRIPTION
  metrics.go exposes link and transport statistics as Prometheus metrics
  for operational monitoring of long-running modem deployments.

AUTHOR
  Scott Barnard <scott@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package metrics publishes transport statistics and synchroniser state
// through a Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ausocean/acoustic/protocol/xmodem"
)

// Collector converts transport statistics into Prometheus metrics. Use
// Update from a stats event listener.
type Collector struct {
	registry *prometheus.Registry

	packetsSent          prometheus.Gauge
	packetsReceived      prometheus.Gauge
	packetsRetransmitted prometheus.Gauge
	packetsDropped       prometheus.Gauge
	bytesTransferred     prometheus.Gauge
	errorRate            prometheus.Gauge
	snrDb                prometheus.Gauge
	syncLocked           prometheus.Gauge
}

// NewCollector returns a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alink",
			Name:      name,
			Help:      help,
		})
		c.registry.MustRegister(g)
		return g
	}

	c.packetsSent = gauge("packets_sent_total", "Data packets transmitted, including retransmissions.")
	c.packetsReceived = gauge("packets_received_total", "Data packets accepted by the receiver.")
	c.packetsRetransmitted = gauge("packets_retransmitted_total", "Packets sent again after NAK or timeout.")
	c.packetsDropped = gauge("packets_dropped_total", "Packets discarded by the receiver.")
	c.bytesTransferred = gauge("bytes_transferred_total", "Payload bytes moved in either direction.")
	c.errorRate = gauge("error_rate", "Ratio of retransmitted and dropped packets to attempts.")
	c.snrDb = gauge("snr_db", "Estimated link SNR in dB.")
	c.syncLocked = gauge("sync_locked", "1 while the spread-spectrum synchroniser is locked.")

	return c
}

// Update publishes a statistics snapshot.
func (c *Collector) Update(s xmodem.Stats) {
	c.packetsSent.Set(float64(s.PacketsSent))
	c.packetsReceived.Set(float64(s.PacketsReceived))
	c.packetsRetransmitted.Set(float64(s.PacketsRetransmitted))
	c.packetsDropped.Set(float64(s.PacketsDropped))
	c.bytesTransferred.Set(float64(s.BytesTransferred))
	c.errorRate.Set(s.ErrorRate)
}

// UpdateSync publishes synchroniser state.
func (c *Collector) UpdateSync(locked bool, snrDb float64) {
	if locked {
		c.syncLocked.Set(1)
	} else {
		c.syncLocked.Set(0)
	}
	c.snrDb.Set(snrDb)
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
