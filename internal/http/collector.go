package http

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const collectTimeout = 2 * time.Second

// telemetryCollector exposes the coordinator's state as gauges, read at
// scrape time.
type telemetryCollector struct {
	source TelemetrySource

	enabled   *prometheus.Desc
	buffering *prometheus.Desc
	queued    *prometheus.Desc
	cached    *prometheus.Desc
}

func newTelemetryCollector(source TelemetrySource) *telemetryCollector {
	return &telemetryCollector{
		source: source,
		enabled: prometheus.NewDesc(
			"mdbmcp_telemetry_enabled",
			"Whether usage telemetry is currently enabled (1) or disabled (0)",
			nil, nil,
		),
		buffering: prometheus.NewDesc(
			"mdbmcp_telemetry_buffering",
			"Whether events are queued waiting for the device id (1) or written directly (0)",
			nil, nil,
		),
		queued: prometheus.NewDesc(
			"mdbmcp_telemetry_queued_batches",
			"Event batches waiting for the device id",
			nil, nil,
		),
		cached: prometheus.NewDesc(
			"mdbmcp_telemetry_cached_events",
			"Events held in the event cache awaiting flush",
			nil, nil,
		),
	}
}

func (c *telemetryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.enabled
	ch <- c.buffering
	ch <- c.queued
	ch <- c.cached
}

func (c *telemetryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	st := c.source.Status(ctx)
	ch <- prometheus.MustNewConstMetric(c.enabled, prometheus.GaugeValue, boolValue(st.Enabled))
	ch <- prometheus.MustNewConstMetric(c.buffering, prometheus.GaugeValue, boolValue(st.Buffering))
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(st.QueuedBatches))
	ch <- prometheus.MustNewConstMetric(c.cached, prometheus.GaugeValue, float64(st.CachedEvents))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
