package main

import (
	"fmt"

	"github.com/fyrsmithlabs/mdbmcp/internal/config"
	"github.com/fyrsmithlabs/mdbmcp/internal/telemetry"
)

// loadConfig loads the config file and environment, then applies flags on
// top.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag that was set.
func applyFlags(cfg *config.Config, opts *rootOptions) error {
	if opts.telemetry != "" {
		mode, err := config.ParseTelemetryMode(opts.telemetry)
		if err != nil {
			return fmt.Errorf("--telemetry: %w", err)
		}
		if err := cfg.SetTelemetry(mode); err != nil {
			return err
		}
	}
	if opts.connectionString != "" {
		cfg.ConnectionString = config.Secret(opts.connectionString)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return nil
}

// openCache builds the configured event cache. The returned func releases
// it.
func openCache(cfg *config.Config) (telemetry.EventCache, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Events.Cache {
	case config.CacheSQLite:
		c, err := telemetry.OpenSQLiteCache(cfg.Events.CachePath, cfg.Events.CacheCapacity)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		c, err := telemetry.NewMemoryCache(cfg.Events.CacheCapacity)
		if err != nil {
			return nil, nil, err
		}
		return c, noop, nil
	}
}

// newSink builds the configured sink, or nil when events stay local.
func newSink(cfg *config.Config) (telemetry.Sink, func() error, error) {
	noop := func() error { return nil }
	ev := cfg.Events
	timeout := ev.SinkTimeout.Duration()

	switch ev.Sink {
	case config.SinkHTTP:
		s := telemetry.NewHTTPSink(ev.SinkEndpoint,
			telemetry.WithAPIKey("", ev.SinkAPIKey),
			telemetry.WithUserAgentVersion(version),
			telemetry.WithRequestTimeout(timeout),
		)
		return s, noop, nil
	case config.SinkNATS:
		s, err := telemetry.DialNATSSink(ev.SinkEndpoint, ev.SinkSubject, timeout)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, nil
	}
}
