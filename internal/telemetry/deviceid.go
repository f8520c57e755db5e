package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mdbmcp/internal/clock"
	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
)

const (
	// DeviceIDTimeout bounds the machine id lookup.
	DeviceIDTimeout = 3 * time.Second

	// UnknownDeviceID is reported when the lookup fails or times out.
	UnknownDeviceID = "unknown"
)

// ResolverConfig configures a DeviceIDResolver. Only Fetch is required.
type ResolverConfig struct {
	Fetch   MachineIDFunc
	Timeout time.Duration
	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *Metrics
	Tracer  trace.Tracer

	// OnSettle runs exactly once with the final device id, before Done
	// is closed.
	OnSettle func(deviceID string)
}

// DeviceIDResolver races a machine id lookup against a timeout and
// settles exactly once, on whichever finishes first.
type DeviceIDResolver struct {
	cfg    ResolverConfig
	once   sync.Once
	done   chan struct{}
	value  string
	cancel context.CancelFunc
	span   trace.Span

	timerMu sync.Mutex
	timer   clock.Timer
	settled bool
}

// NewDeviceIDResolver starts resolving immediately. The timeout is armed
// before the lookup starts.
func NewDeviceIDResolver(cfg ResolverConfig) *DeviceIDResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DeviceIDTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer(instrumentationName)
	}
	if cfg.Fetch == nil {
		cfg.Fetch = DefaultMachineID
	}

	r := &DeviceIDResolver{cfg: cfg, done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	ctx, r.span = cfg.Tracer.Start(ctx, "telemetry.resolve_device_id",
		trace.WithAttributes(attribute.String("timeout", cfg.Timeout.String())))

	t := cfg.Clock.AfterFunc(cfg.Timeout, func() {
		r.settle(ctx, outcomeTimeout, UnknownDeviceID, nil)
	})
	r.timerMu.Lock()
	if r.settled {
		t.Stop()
	} else {
		r.timer = t
	}
	r.timerMu.Unlock()

	go r.fetch(ctx)
	return r
}

func (r *DeviceIDResolver) fetch(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.settle(ctx, outcomeFailure, UnknownDeviceID, fmt.Errorf("machine id lookup panicked: %v", p))
		}
	}()

	raw, err := r.cfg.Fetch(ctx)
	if err != nil {
		r.settle(ctx, outcomeFailure, UnknownDeviceID, err)
		return
	}
	r.settle(ctx, outcomeResolved, HashDeviceID(raw), nil)
}

func (r *DeviceIDResolver) settle(ctx context.Context, outcome, value string, err error) {
	r.once.Do(func() {
		r.stopTimer()
		r.cancel()

		switch outcome {
		case outcomeFailure:
			r.cfg.Logger.Debug(ctx, "device id lookup failed",
				logging.TelemetryDeviceIDFailure.Field(), logging.Err(err))
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
		case outcomeTimeout:
			r.cfg.Logger.Debug(ctx, "device id lookup timed out",
				logging.TelemetryDeviceIDTimeout.Field(), zap.Duration("timeout", r.cfg.Timeout))
			r.span.SetStatus(codes.Error, "timeout")
		}
		r.span.SetAttributes(attribute.String("outcome", outcome))
		r.span.End()
		r.cfg.Metrics.recordResolution(context.Background(), outcome)

		r.value = value
		if r.cfg.OnSettle != nil {
			r.cfg.OnSettle(value)
		}
		close(r.done)
	})
}

func (r *DeviceIDResolver) stopTimer() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	r.settled = true
	if r.timer != nil {
		r.timer.Stop()
	}
}

// Done is closed once the device id is settled.
func (r *DeviceIDResolver) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the device id settles or ctx ends.
func (r *DeviceIDResolver) Wait(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		return r.value, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Value returns the device id and whether it has settled.
func (r *DeviceIDResolver) Value() (string, bool) {
	select {
	case <-r.done:
		return r.value, true
	default:
		return "", false
	}
}
