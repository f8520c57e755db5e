package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize config watcher")

// Watcher reloads the config file when it changes and applies the new
// telemetry mode to a live Config.
//
// Only the telemetry mode is hot-reloaded; every other setting needs a
// restart.
type Watcher struct {
	path     string
	cfg      *Config
	watcher  *fsnotify.Watcher
	onReload func(TelemetryMode)
	onError  func(error)

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// OnReload registers fn to run after every successful reload.
func OnReload(fn func(TelemetryMode)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// OnError registers fn to run when a reload fails. The live config is left
// untouched in that case.
func OnError(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher creates a watcher for the file at path feeding cfg.
func NewWatcher(path string, cfg *Config, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		cfg:      cfg,
		watcher:  fw,
		onReload: func(TelemetryMode) {},
		onError:  func(error) {},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Events are processed on a background goroutine
// until ctx is done or Stop is called.
//
// The parent directory is watched rather than the file so editors that
// replace the file on save are still picked up.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}
	w.started.Store(true)
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

// reload re-reads the file with the full precedence chain so environment
// overrides keep winning over the file.
func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.onError(fmt.Errorf("reloading %s: %w", w.path, err))
		return
	}
	mode := next.TelemetryMode()
	if err := w.cfg.SetTelemetry(mode); err != nil {
		w.onError(err)
		return
	}
	w.onReload(mode)
}
