package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/mdbmcp/internal/telemetry"

// Outcome labels.
const (
	outcomeQueued     = "queued"
	outcomeAppended   = "appended"
	outcomeSuppressed = "suppressed"
	outcomeSent       = "sent"
	outcomeFailed     = "failed"
	outcomeEmpty      = "empty"
	outcomeResolved   = "resolved"
	outcomeFailure    = "failure"
	outcomeTimeout    = "timeout"
)

// Metrics holds the telemetry pipeline's own instruments.
type Metrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	events         metric.Int64Counter
	appendFailures metric.Int64Counter
	flushes        metric.Int64Counter
	resolutions    metric.Int64Counter
}

// NewMetrics creates instruments from mp. A nil mp yields no-op instruments.
func NewMetrics(mp metric.MeterProvider, logger *logging.Logger) *Metrics {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	ctx := context.Background()
	var err error

	m.events, err = m.meter.Int64Counter(
		"mdbmcp.telemetry.events_total",
		metric.WithDescription("Events handled by the telemetry pipeline"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create events counter", zap.Error(err))
	}

	m.appendFailures, err = m.meter.Int64Counter(
		"mdbmcp.telemetry.append_failures_total",
		metric.WithDescription("Event cache appends that failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create append failures counter", zap.Error(err))
	}

	m.flushes, err = m.meter.Int64Counter(
		"mdbmcp.telemetry.flushes_total",
		metric.WithDescription("Flushes of the event cache to the sink"),
		metric.WithUnit("{flush}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create flushes counter", zap.Error(err))
	}

	m.resolutions, err = m.meter.Int64Counter(
		"mdbmcp.telemetry.device_id.resolutions_total",
		metric.WithDescription("Device id resolutions by outcome"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "failed to create resolutions counter", zap.Error(err))
	}
}

func (m *Metrics) recordEvents(ctx context.Context, outcome string, n int) {
	if m == nil || m.events == nil || n == 0 {
		return
	}
	m.events.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordAppendFailure(ctx context.Context) {
	if m == nil || m.appendFailures == nil {
		return
	}
	m.appendFailures.Add(ctx, 1)
}

func (m *Metrics) recordFlush(ctx context.Context, outcome string) {
	if m == nil || m.flushes == nil {
		return
	}
	m.flushes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordResolution(ctx context.Context, outcome string) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
