package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Correlation ties a log entry to the MCP session, tool call or diagnostics
// request it was written for. Empty fields are not logged.
type Correlation struct {
	SessionID string
	Tool      string
	RequestID string
}

type correlationKey struct{}

const maxCorrelationLen = 128

var correlationPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// cleanID returns id if it is safe to log verbatim, otherwise "".
func cleanID(id string) string {
	if id == "" || len(id) > maxCorrelationLen || !utf8.ValidString(id) {
		return ""
	}
	if !correlationPattern.MatchString(id) {
		return ""
	}
	return id
}

// WithCorrelation returns ctx carrying c merged over any correlation already
// present. Values that are empty or not safe to log keep the existing value.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	cur := CorrelationFromContext(ctx)
	if id := cleanID(c.SessionID); id != "" {
		cur.SessionID = id
	}
	if id := cleanID(c.Tool); id != "" {
		cur.Tool = id
	}
	if id := cleanID(c.RequestID); id != "" {
		cur.RequestID = id
	}
	return context.WithValue(ctx, correlationKey{}, cur)
}

// CorrelationFromContext returns the correlation stored in ctx.
func CorrelationFromContext(ctx context.Context) Correlation {
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}

// ContextFields extracts trace and correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	c := CorrelationFromContext(ctx)
	if c.SessionID != "" {
		fields = append(fields, zap.String("session.id", c.SessionID))
	}
	if c.Tool != "" {
		fields = append(fields, zap.String("mcp.tool", c.Tool))
	}
	if c.RequestID != "" {
		fields = append(fields, zap.String("request.id", c.RequestID))
	}
	return fields
}
