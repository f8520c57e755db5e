package config

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsTelemetryMode(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "telemetry: enabled\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.TelemetryEnabled())

	var mu sync.Mutex
	var reloaded []TelemetryMode
	w, err := NewWatcher(path, cfg, OnReload(func(m TelemetryMode) {
		mu.Lock()
		reloaded = append(reloaded, m)
		mu.Unlock()
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("telemetry: disabled\n"), 0600))

	assert.Eventually(t, func() bool {
		return !cfg.TelemetryEnabled()
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, reloaded, TelemetryDisabled)
}

func TestWatcher_InvalidReloadKeepsMode(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "telemetry: enabled\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	errs := make(chan error, 8)
	w, err := NewWatcher(path, cfg, OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("telemetry: sometimes\n"), 0600))

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "reloading")
	case <-time.After(5 * time.Second):
		t.Fatal("expected reload error")
	}
	assert.True(t, cfg.TelemetryEnabled())
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "telemetry: enabled\n")

	w, err := NewWatcher(path, Default())
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}
