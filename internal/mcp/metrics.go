package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
	"github.com/fyrsmithlabs/mdbmcp/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/mdbmcp/internal/mcp"

// Metrics records tool call counts, latency and failures.
type Metrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

// NewMetrics creates the tool instruments. A nil mp uses the global meter
// provider. Instruments that cannot be created are skipped.
func NewMetrics(mp metric.MeterProvider, logger *logging.Logger) *Metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	meter := mp.Meter(instrumentationName)

	var m Metrics
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.calls, err = meter.Int64Counter("mdbmcp.mcp.tool.calls_total",
		metric.WithDescription("MCP tool calls by tool and result"),
		metric.WithUnit("{call}"))
	collect(err)
	m.duration, err = meter.Float64Histogram("mdbmcp.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30))
	collect(err)
	m.errors, err = meter.Int64Counter("mdbmcp.mcp.tool.errors_total",
		metric.WithDescription("MCP tool handler errors by reason"),
		metric.WithUnit("{error}"))
	collect(err)
	m.inFlight, err = meter.Int64UpDownCounter("mdbmcp.mcp.tool.in_flight",
		metric.WithDescription("MCP tool calls currently running"),
		metric.WithUnit("{call}"))
	collect(err)

	if len(errs) > 0 {
		logger.Warn(context.Background(), "failed to create tool metrics", zap.Error(errors.Join(errs...)))
	}
	return &m
}

// startCall marks a call to tool as running. The returned func records its
// completion and must be called exactly once.
func (m *Metrics) startCall(ctx context.Context, tool string) func(d time.Duration, result telemetry.Result, err error) {
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, toolAttr)
	}

	return func(d time.Duration, result telemetry.Result, err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, toolAttr)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("result", string(result))))
		}
		if m.duration != nil {
			m.duration.Record(ctx, d.Seconds(), toolAttr)
		}
		if err != nil && m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", categorizeError(err))))
		}
	}
}

// categorizeError maps a handler error to a low-cardinality reason label.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	for _, r := range errorReasons {
		for _, word := range r.words {
			if strings.Contains(msg, word) {
				return r.reason
			}
		}
	}
	return "internal_error"
}

var errorReasons = []struct {
	reason string
	words  []string
}{
	{"validation_error", []string{"validation", "invalid"}},
	{"not_found", []string{"not found"}},
	{"timeout", []string{"timeout", "timed out"}},
	{"auth_error", []string{"permission", "unauthorized", "forbidden"}},
}
