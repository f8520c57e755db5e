// Package logging provides structured logging for mdbmcp.
//
// # Overview
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - stderr output (stdout carries the MCP stdio protocol) plus an
//     optional OpenTelemetry log bridge
//   - Context field injection (trace_id, session.id, request.id)
//   - Redaction of secrets and connection-string credentials
//   - Per-level sampling (errors never sampled)
//   - Stable numeric diagnostic ids (LogID) under the log_id key
//
// # Usage
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Debug(ctx, "device id lookup timed out",
//	    logging.TelemetryDeviceIDTimeout.Field())
//
// # Testing
//
// NewTestLogger records every entry in memory:
//
//	tl := logging.NewTestLogger()
//	// ... exercise code using tl.Logger ...
//	tl.AssertLogID(t, zapcore.DebugLevel, logging.TelemetryDeviceIDTimeout)
package logging
