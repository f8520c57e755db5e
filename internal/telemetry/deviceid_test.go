package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mdbmcp/internal/clock"
	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
	"github.com/fyrsmithlabs/mdbmcp/internal/observability"
)

func waitResolver(t *testing.T, r *DeviceIDResolver) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := r.Wait(ctx)
	require.NoError(t, err)
	return id
}

func TestHashDeviceID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"MACHINE-ID-0001", "7164df6373321517bf53ba7d5dcdb156c3837b0e3de661404b505da3089b09f7"},
		{"machine-id-0001", "7164df6373321517bf53ba7d5dcdb156c3837b0e3de661404b505da3089b09f7"},
		{"abcdef0123", "b3a1eaf8bca36c68f3cd1891fabbf34cd562e7131d2a156f35798239685a0b5b"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, HashDeviceID(tt.raw))
		})
	}
}

func TestDeviceIDResolver_Resolves(t *testing.T) {
	obs := observability.NewTestProvider()
	var settled []string
	r := NewDeviceIDResolver(ResolverConfig{
		Fetch:    staticFetch("machine-id-0001"),
		Clock:    clock.Fake(epoch),
		Metrics:  NewMetrics(obs.MeterProvider(), nil),
		Tracer:   obs.Tracer(instrumentationName),
		OnSettle: func(id string) { settled = append(settled, id) },
	})

	id := waitResolver(t, r)
	assert.Equal(t, HashDeviceID("machine-id-0001"), id)
	assert.Equal(t, []string{id}, settled)

	v, ok := r.Value()
	assert.True(t, ok)
	assert.Equal(t, id, v)

	obs.AssertSpanAttribute(t, "telemetry.resolve_device_id", "outcome", "resolved")
	assert.Equal(t, int64(1), obs.CounterValue(t, "mdbmcp.telemetry.device_id.resolutions_total",
		attribute.String("outcome", "resolved")))
}

func TestDeviceIDResolver_StopsTimerOnSuccess(t *testing.T) {
	fc := clock.Fake(epoch)
	r := NewDeviceIDResolver(ResolverConfig{Fetch: staticFetch("id"), Clock: fc})

	waitResolver(t, r)
	assert.Equal(t, 0, fc.Pending())
}

func TestDeviceIDResolver_FetchFailure(t *testing.T) {
	logs := logging.NewTestLogger()
	r := NewDeviceIDResolver(ResolverConfig{
		Fetch: func(context.Context) (string, error) {
			return "", errors.New("no machine id available")
		},
		Clock:  clock.Fake(epoch),
		Logger: logs.Logger,
	})

	assert.Equal(t, UnknownDeviceID, waitResolver(t, r))

	entry := logs.AssertLogID(t, zapcore.DebugLevel, logging.TelemetryDeviceIDFailure)
	assert.Equal(t, "no machine id available", entry.ContextMap()["error"])
	logs.AssertNoLogID(t, logging.TelemetryDeviceIDTimeout)
}

func TestDeviceIDResolver_FetchPanic(t *testing.T) {
	logs := logging.NewTestLogger()
	r := NewDeviceIDResolver(ResolverConfig{
		Fetch:  func(context.Context) (string, error) { panic("boom") },
		Clock:  clock.Fake(epoch),
		Logger: logs.Logger,
	})

	assert.Equal(t, UnknownDeviceID, waitResolver(t, r))
	logs.AssertLogID(t, zapcore.DebugLevel, logging.TelemetryDeviceIDFailure)
}

func TestDeviceIDResolver_Timeout(t *testing.T) {
	fc := clock.Fake(epoch)
	logs := logging.NewTestLogger()
	fetch, _ := gatedFetch("never")
	r := NewDeviceIDResolver(ResolverConfig{Fetch: fetch, Clock: fc, Logger: logs.Logger})

	fc.Advance(DeviceIDTimeout / 2)
	_, ok := r.Value()
	assert.False(t, ok, "settled before the timeout")

	fc.Advance(DeviceIDTimeout / 2)
	v, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, UnknownDeviceID, v)

	logs.AssertLogID(t, zapcore.DebugLevel, logging.TelemetryDeviceIDTimeout)
	logs.AssertNoLogID(t, logging.TelemetryDeviceIDFailure)
}

func TestDeviceIDResolver_CustomTimeout(t *testing.T) {
	fc := clock.Fake(epoch)
	fetch, _ := gatedFetch("never")
	r := NewDeviceIDResolver(ResolverConfig{Fetch: fetch, Clock: fc, Timeout: 100 * time.Millisecond})

	fc.Advance(100 * time.Millisecond)
	v, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, UnknownDeviceID, v)
}

func TestDeviceIDResolver_LateFetchIgnored(t *testing.T) {
	fc := clock.Fake(epoch)
	calls := 0
	fetch, release := gatedFetch("late")
	r := NewDeviceIDResolver(ResolverConfig{
		Fetch:    fetch,
		Clock:    fc,
		OnSettle: func(string) { calls++ },
	})

	fc.Advance(DeviceIDTimeout)
	release()

	assert.Equal(t, UnknownDeviceID, waitResolver(t, r))
	assert.Equal(t, 1, calls)
}

func TestDeviceIDResolver_WaitHonorsContext(t *testing.T) {
	fetch, release := gatedFetch("id")
	defer release()
	r := NewDeviceIDResolver(ResolverConfig{Fetch: fetch, Clock: clock.Fake(epoch)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
