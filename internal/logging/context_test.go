package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
)

func fieldKeys(ctx context.Context) map[string]string {
	keys := map[string]string{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = f.String
	}
	return keys
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Trace(t *testing.T) {
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(tracetest.NewSpanRecorder()))
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	keys := fieldKeys(ctx)
	assert.Equal(t, span.SpanContext().TraceID().String(), keys["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), keys["span_id"])
}

func TestWithCorrelation_Merges(t *testing.T) {
	ctx := WithCorrelation(context.Background(), Correlation{SessionID: "sess-1"})
	ctx = WithCorrelation(ctx, Correlation{Tool: "telemetry-status"})

	assert.Equal(t, Correlation{SessionID: "sess-1", Tool: "telemetry-status"}, CorrelationFromContext(ctx))
	assert.Equal(t, map[string]string{
		"session.id": "sess-1",
		"mcp.tool":   "telemetry-status",
	}, fieldKeys(ctx))
}

func TestWithCorrelation_DropsUnsafeIDs(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"spaces", "has space"},
		{"newline", "a\nb"},
		{"too long", strings.Repeat("a", maxCorrelationLen+1)},
		{"invalid utf8", "\xff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := WithCorrelation(context.Background(), Correlation{RequestID: "req_1"})
			ctx := WithCorrelation(base, Correlation{RequestID: tt.id, SessionID: tt.id})

			c := CorrelationFromContext(ctx)
			assert.Equal(t, "req_1", c.RequestID)
			assert.Empty(t, c.SessionID)
		})
	}
}

func TestLogger_AddsCorrelation(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithCorrelation(context.Background(), Correlation{SessionID: "s1", RequestID: "r1"})

	tl.Info(ctx, "hello")

	tl.AssertLogged(t, zapcore.InfoLevel, "hello")
	tl.AssertField(t, "hello", "session.id", "s1")
	tl.AssertField(t, "hello", "request.id", "r1")
}
