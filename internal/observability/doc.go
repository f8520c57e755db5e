// Package observability wires OpenTelemetry tracing and metrics export for
// mdbmcp.
//
// Export goes to an OTLP collector over gRPC or HTTP/protobuf. It is off by
// default; when off, Tracer and Meter return the global no-op
// implementations so instrumented code never needs to check.
//
//	p, err := observability.New(ctx, observability.FromSettings(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown(ctx)
//
// Tests use NewTestProvider, which records spans and metrics in memory:
//
//	tp := observability.NewTestProvider()
//	// ... pass tp.MeterProvider() / tp.TracerProvider() to the code under test ...
//	tp.AssertSpanExists(t, "telemetry.resolve_device_id")
package observability
