package observability

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Provider owns the OpenTelemetry tracer and meter providers.
//
// Export failures never crash the server: a provider that cannot be built is
// skipped and the instance reports itself degraded.
type Provider struct {
	config *Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    log.LoggerProvider

	healthy  atomic.Bool
	degraded atomic.Bool
	lastErr  atomic.Value // error
}

// New creates a Provider. A disabled config yields an instance that hands out
// the global (no-op by default) tracer and meter.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Provider{config: cfg}
	p.healthy.Store(true)

	if !cfg.Enabled {
		return p, nil
	}

	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res, o.traceExporter); err != nil {
		p.setDegraded(fmt.Errorf("tracer provider: %w", err))
	} else {
		p.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res, o.metricExporter); err != nil {
		p.setDegraded(fmt.Errorf("meter provider: %w", err))
	} else if mp != nil {
		p.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return p, nil
}

// TracerProvider returns the SDK tracer provider, falling back to the global
// one when export is disabled or degraded.
func (p *Provider) TracerProvider() oteltrace.TracerProvider {
	if p == nil || p.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return p.tracerProvider
}

// MeterProvider returns the SDK meter provider, falling back to the global
// one when export is disabled or degraded.
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p == nil || p.meterProvider == nil {
		return otel.GetMeterProvider()
	}
	return p.meterProvider
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	return p.TracerProvider().Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return p.MeterProvider().Meter(name, opts...)
}

// LoggerProvider returns the log provider for the otelzap bridge. May be nil.
func (p *Provider) LoggerProvider() log.LoggerProvider {
	if p == nil {
		return nil
	}
	return p.logProvider
}

// SetLoggerProvider sets the log provider for the otelzap bridge.
func (p *Provider) SetLoggerProvider(lp log.LoggerProvider) {
	if p != nil {
		p.logProvider = lp
	}
}

// Shutdown flushes and stops all providers, bounded by the configured
// shutdown timeout when ctx has no deadline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && p.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	p.healthy.Store(false)
	return errors.Join(errs...)
}

// ForceFlush immediately exports all pending data.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace flush: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports provider health.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
	Error    string
}

// Health returns the current health status.
func (p *Provider) Health() HealthStatus {
	if p == nil {
		return HealthStatus{Healthy: false, Degraded: true}
	}
	hs := HealthStatus{
		Healthy:  p.healthy.Load(),
		Degraded: p.degraded.Load(),
	}
	if err, ok := p.lastErr.Load().(error); ok {
		hs.Error = err.Error()
	}
	return hs
}

// IsEnabled returns true if export is enabled and the provider is healthy.
func (p *Provider) IsEnabled() bool {
	if p == nil || p.config == nil {
		return false
	}
	return p.config.Enabled && p.healthy.Load()
}

func (p *Provider) setDegraded(err error) {
	p.degraded.Store(true)
	p.lastErr.Store(err)
}
