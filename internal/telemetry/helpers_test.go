package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mdbmcp/internal/clock"
	"github.com/fyrsmithlabs/mdbmcp/internal/config"
	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
	"github.com/fyrsmithlabs/mdbmcp/internal/observability"
	"github.com/fyrsmithlabs/mdbmcp/internal/session"
)

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func event(command string) Event {
	return NewEvent(epoch, "tool", "mongodb", command, 12*time.Millisecond, ResultSuccess)
}

// recordingCache remembers every append call.
type recordingCache struct {
	*MemoryCache

	mu      sync.Mutex
	appends [][]Event
	err     error
}

func newRecordingCache(t *testing.T) *recordingCache {
	t.Helper()
	mc, err := NewMemoryCache(DefaultCacheCapacity)
	require.NoError(t, err)
	return &recordingCache{MemoryCache: mc}
}

func (c *recordingCache) AppendEvents(ctx context.Context, events []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.appends = append(c.appends, append([]Event(nil), events...))
	return c.MemoryCache.AppendEvents(ctx, events)
}

func (c *recordingCache) Appends() [][]Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Event(nil), c.appends...)
}

// fakeSink records batches and fails while err is set.
type fakeSink struct {
	mu      sync.Mutex
	batches [][]WireEvent
	err     error
}

func (s *fakeSink) Send(_ context.Context, events []WireEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, events)
	return nil
}

func (s *fakeSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSink) Batches() [][]WireEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]WireEvent(nil), s.batches...)
}

// gatedFetch blocks until release is called or ctx ends.
func gatedFetch(id string) (MachineIDFunc, func()) {
	ch := make(chan struct{})
	var once sync.Once
	fetch := func(ctx context.Context) (string, error) {
		select {
		case <-ch:
			return id, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fetch, func() { once.Do(func() { close(ch) }) }
}

func staticFetch(id string) MachineIDFunc {
	return func(context.Context) (string, error) { return id, nil }
}

func noEnv(string) (string, bool) { return "", false }

type fixture struct {
	tel   *Telemetry
	cfg   *config.Config
	sess  *session.Session
	cache *recordingCache
	sink  *fakeSink
	logs  *logging.TestLogger
	obs   *observability.TestProvider
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		cfg:   config.Default(),
		sess:  session.New(session.WithSessionID("session-1")),
		cache: newRecordingCache(t),
		sink:  &fakeSink{},
		logs:  logging.NewTestLogger(),
		obs:   observability.NewTestProvider(),
	}
	base := []Option{
		WithEventCache(f.cache),
		WithSink(f.sink),
		WithLogger(f.logs.Logger),
		WithLookupEnv(noEnv),
		WithMeterProvider(f.obs.MeterProvider()),
		WithTracerProvider(f.obs.TracerProvider()),
		WithServerInfo(ServerInfo{Name: "mdbmcp", Version: "1.2.3"}),
		WithMachineIDFunc(staticFetch("machine-id-0001")),
		WithClock(clock.Fake(epoch)),
	}
	f.tel = New(f.sess, f.cfg, append(base, opts...)...)
	return f
}

func (f *fixture) waitResolved(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := f.tel.WaitForDeviceID(ctx)
	require.NoError(t, err)
	return id
}

// blockingSink holds every Send until unblock is called, then returns err.
type blockingSink struct {
	entered chan struct{}
	release chan error
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan struct{}, 1), release: make(chan error)}
}

func (s *blockingSink) Send(ctx context.Context, _ []WireEvent) error {
	s.entered <- struct{}{}
	select {
	case err := <-s.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *blockingSink) unblock(err error) { s.release <- err }

func (s *blockingSink) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sink never called")
	}
}
