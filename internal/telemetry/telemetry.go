package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mdbmcp/internal/clock"
	"github.com/fyrsmithlabs/mdbmcp/internal/config"
	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
	"github.com/fyrsmithlabs/mdbmcp/internal/session"
)

// doNotTrackEnv disables telemetry whenever it holds any non-empty value.
const doNotTrackEnv = "DO_NOT_TRACK"

// ServerInfo identifies this server in common properties.
type ServerInfo struct {
	Name    string
	Version string
}

// Device id states reported by Status.
const (
	DeviceIDPending  = "pending"
	DeviceIDResolved = "resolved"
	DeviceIDUnknown  = "unknown"
)

// Status is a point-in-time view of the coordinator.
type Status struct {
	Enabled          bool             `json:"enabled"`
	Buffering        bool             `json:"buffering"`
	DeviceID         string           `json:"device_id_state"`
	QueuedBatches    int              `json:"queued_batches"`
	CachedEvents     int              `json:"cached_events"`
	CommonProperties CommonProperties `json:"common_properties"`
}

// Telemetry gates, buffers and records events for one server session.
//
// Events emitted before the device id settles are queued in order. When it
// settles the queue is appended to the cache as one batch before any later
// emit can reach the cache.
type Telemetry struct {
	session   *session.Session
	cfg       *config.Config
	cache     EventCache
	sink      Sink
	logger    *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	clock     clock.Clock
	lookupEnv func(string) (string, bool)
	server    ServerInfo

	fetch         MachineIDFunc
	timeout       time.Duration
	flushInterval time.Duration
	meterProvider metric.MeterProvider

	resolver    *DeviceIDResolver
	unsubscribe func()

	// mu guards the fields below it up to sendMu.
	mu         sync.Mutex
	buffering  bool
	deviceID   string
	queue      [][]Event
	flushTimer clock.Timer
	closed     bool

	// sendMu serializes cache access. It is never held across a sink call.
	sendMu    sync.Mutex
	// flushMu keeps one batch out of the cache at a time.
	flushMu   sync.Mutex
	closeOnce sync.Once
}

// Option configures Telemetry.
type Option func(*Telemetry)

// WithEventCache sets the cache events are appended to.
func WithEventCache(c EventCache) Option {
	return func(t *Telemetry) { t.cache = c }
}

// WithSink sets where Flush sends cached events. Without a sink events
// stay in the cache.
func WithSink(s Sink) Option {
	return func(t *Telemetry) { t.sink = s }
}

// WithMachineIDFunc replaces the OS machine id lookup.
func WithMachineIDFunc(f MachineIDFunc) Option {
	return func(t *Telemetry) { t.fetch = f }
}

// WithDeviceIDTimeout bounds the machine id lookup.
func WithDeviceIDTimeout(d time.Duration) Option {
	return func(t *Telemetry) { t.timeout = d }
}

// WithClock sets the time source for timeouts and periodic flushes.
func WithClock(c clock.Clock) Option {
	return func(t *Telemetry) { t.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Telemetry) { t.logger = l }
}

// WithMeterProvider sets where pipeline metrics are recorded.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(t *Telemetry) { t.meterProvider = mp }
}

// WithTracerProvider sets where pipeline spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Telemetry) { t.tracer = tp.Tracer(instrumentationName) }
}

// WithLookupEnv replaces os.LookupEnv for the DO_NOT_TRACK check.
func WithLookupEnv(f func(string) (string, bool)) Option {
	return func(t *Telemetry) { t.lookupEnv = f }
}

// WithServerInfo sets the server name and version.
func WithServerInfo(info ServerInfo) Option {
	return func(t *Telemetry) { t.server = info }
}

// WithFlushInterval flushes the cache every d. Zero flushes only on close.
func WithFlushInterval(d time.Duration) Option {
	return func(t *Telemetry) { t.flushInterval = d }
}

// New creates the coordinator and starts resolving the device id. It
// flushes and detaches itself when sess closes.
func New(sess *session.Session, cfg *config.Config, opts ...Option) *Telemetry {
	t := &Telemetry{
		session:   sess,
		cfg:       cfg,
		clock:     clock.Real(),
		lookupEnv: os.LookupEnv,
		server:    ServerInfo{Name: Source},
		fetch:     DefaultMachineID,
		timeout:   DeviceIDTimeout,
		buffering: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.NewNop()
	}
	if t.meterProvider == nil {
		t.meterProvider = otel.GetMeterProvider()
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer(instrumentationName)
	}
	if t.cache == nil {
		t.cache = mustMemoryCache(DefaultCacheCapacity)
	}
	t.metrics = NewMetrics(t.meterProvider, t.logger)

	t.unsubscribe = sess.Subscribe(session.SignalClose, func(ctx context.Context) {
		t.Close(ctx)
	})

	t.resolver = NewDeviceIDResolver(ResolverConfig{
		Fetch:    t.fetch,
		Timeout:  t.timeout,
		Clock:    t.clock,
		Logger:   t.logger,
		Metrics:  t.metrics,
		Tracer:   t.tracer,
		OnSettle: t.onDeviceID,
	})

	t.scheduleFlush()
	return t
}

// onDeviceID ends buffering. sendMu is taken first so no direct append can
// slip in between the flag flip and the queue drain.
func (t *Telemetry) onDeviceID(id string) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	t.deviceID = id
	t.buffering = false
	queued := t.queue
	t.queue = nil
	t.mu.Unlock()

	if len(queued) == 0 {
		return
	}
	var events []Event
	for _, b := range queued {
		events = append(events, b...)
	}
	t.appendLocked(context.Background(), events)
}

// IsEnabled reports whether events may be recorded right now.
func (t *Telemetry) IsEnabled() bool {
	if v, ok := t.lookupEnv(doNotTrackEnv); ok && v != "" {
		return false
	}
	return t.cfg.TelemetryEnabled()
}

// IsBuffering reports whether the device id is still unresolved.
func (t *Telemetry) IsBuffering() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffering
}

// DeviceIDDone is closed once the device id settles.
func (t *Telemetry) DeviceIDDone() <-chan struct{} {
	return t.resolver.Done()
}

// WaitForDeviceID blocks until the device id settles or ctx ends.
func (t *Telemetry) WaitForDeviceID(ctx context.Context) (string, error) {
	return t.resolver.Wait(ctx)
}

// CommonProperties returns the properties attached to every event. The
// device id is absent until it settles.
func (t *Telemetry) CommonProperties() CommonProperties {
	cp := CommonProperties{
		SessionID:              t.session.SessionID(),
		ConfigConnectionString: strconv.FormatBool(t.cfg.HasConnectionString()),
		MCPServerVersion:       t.server.Version,
		MCPServerName:          t.server.Name,
		Platform:               runtime.GOOS,
		Arch:                   runtime.GOARCH,
	}
	if ar := t.session.AgentRunner(); ar != nil {
		cp.MCPClientName = ar.Name
		cp.MCPClientVersion = ar.Version
	}

	t.mu.Lock()
	cp.DeviceID = t.deviceID
	t.mu.Unlock()
	return cp
}

// EmitEvents records events. It never fails: cache errors are logged and
// the events dropped.
func (t *Telemetry) EmitEvents(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	if !t.IsEnabled() {
		t.metrics.recordEvents(ctx, outcomeSuppressed, len(events))
		return
	}

	t.mu.Lock()
	if t.buffering {
		t.queue = append(t.queue, slices.Clone(events))
		t.mu.Unlock()
		t.metrics.recordEvents(ctx, outcomeQueued, len(events))
		return
	}
	t.mu.Unlock()

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.appendLocked(ctx, events)
}

// appendLocked writes to the cache. Callers hold sendMu.
func (t *Telemetry) appendLocked(ctx context.Context, events []Event) {
	if err := t.cache.AppendEvents(ctx, events); err != nil {
		t.metrics.recordAppendFailure(ctx)
		t.logger.Debug(ctx, "failed to record telemetry events",
			logging.TelemetryEmitFailure.Field(),
			logging.Err(err),
			zap.Int("events", len(events)))
		return
	}
	t.metrics.recordEvents(ctx, outcomeAppended, len(events))
}

// Flush sends cached events to the sink. The events are taken out of the
// cache first so emits never wait on the network; if the sink rejects them
// they are put back ahead of anything emitted meanwhile. Nothing is sent
// while telemetry is disabled.
func (t *Telemetry) Flush(ctx context.Context) error {
	if t.sink == nil || !t.IsEnabled() {
		return nil
	}

	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	ctx, span := t.tracer.Start(ctx, "telemetry.flush")
	defer span.End()

	events, err := t.takeEvents(ctx)
	if err != nil {
		return t.flushFailed(ctx, span, err)
	}
	if len(events) == 0 {
		t.metrics.recordFlush(ctx, outcomeEmpty)
		return nil
	}
	span.SetAttributes(attribute.Int("events", len(events)))

	wire, err := Enrich(events, t.CommonProperties())
	if err == nil {
		err = t.sink.Send(ctx, wire)
	}
	if err != nil {
		return t.flushFailed(ctx, span, errors.Join(err, t.restoreEvents(ctx, events)))
	}
	t.metrics.recordFlush(ctx, outcomeSent)
	return nil
}

// takeEvents empties the cache and returns what it held.
func (t *Telemetry) takeEvents(ctx context.Context) ([]Event, error) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	events, err := t.cache.GetEvents(ctx)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	if err := t.cache.ClearEvents(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

// restoreEvents puts unsent events back in front of the ones appended
// while they were out. It ignores cancellation of ctx, which is often the
// reason the send failed.
func (t *Telemetry) restoreEvents(ctx context.Context, unsent []Event) error {
	ctx = context.WithoutCancel(ctx)

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	newer, err := t.cache.GetEvents(ctx)
	if err != nil {
		return fmt.Errorf("restoring unsent events: %w", err)
	}
	if len(newer) > 0 {
		if err := t.cache.ClearEvents(ctx); err != nil {
			return fmt.Errorf("restoring unsent events: %w", err)
		}
	}
	if err := t.cache.AppendEvents(ctx, append(slices.Clone(unsent), newer...)); err != nil {
		return fmt.Errorf("restoring unsent events: %w", err)
	}
	return nil
}

func (t *Telemetry) flushFailed(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	t.metrics.recordFlush(ctx, outcomeFailed)
	t.logger.Debug(ctx, "failed to flush telemetry events",
		logging.TelemetryFlushFailure.Field(), logging.Err(err))
	return err
}

func (t *Telemetry) scheduleFlush() {
	if t.flushInterval <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.flushTimer = t.clock.AfterFunc(t.flushInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultSinkTimeout)
		_ = t.Flush(ctx)
		cancel()
		t.scheduleFlush()
	})
}

// Status reports the coordinator's current state.
func (t *Telemetry) Status(ctx context.Context) Status {
	st := Status{
		Enabled:          t.IsEnabled(),
		CommonProperties: t.CommonProperties(),
	}

	t.mu.Lock()
	st.Buffering = t.buffering
	st.QueuedBatches = len(t.queue)
	t.mu.Unlock()

	switch id, ok := t.resolver.Value(); {
	case !ok:
		st.DeviceID = DeviceIDPending
	case id == UnknownDeviceID:
		st.DeviceID = DeviceIDUnknown
	default:
		st.DeviceID = DeviceIDResolved
	}

	if n, err := t.cache.Len(ctx); err == nil {
		st.CachedEvents = n
	} else {
		t.logger.Debug(ctx, "failed to count cached events",
			logging.TelemetryMetadataFailure.Field(), logging.Err(err))
	}
	return st
}

// Close stops periodic flushing, waits for the device id so queued events
// reach the cache, then flushes once. Only the first call has an effect.
func (t *Telemetry) Close(ctx context.Context) {
	t.closeOnce.Do(func() {
		t.unsubscribe()

		t.mu.Lock()
		t.closed = true
		if t.flushTimer != nil {
			t.flushTimer.Stop()
		}
		t.mu.Unlock()

		if _, err := t.resolver.Wait(ctx); err != nil {
			t.logger.Debug(ctx, "closing before device id settled",
				logging.TelemetryFlushFailure.Field(), logging.Err(err))
			return
		}
		_ = t.Flush(ctx)
	})
}
