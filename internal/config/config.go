// Package config provides configuration loading for mdbmcp.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then MDB_MCP_* environment variables. The telemetry mode stays mutable
// after loading so a Watcher can apply file changes to a running server.
package config

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Event cache and sink kinds.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"

	SinkNone = "none"
	SinkHTTP = "http"
	SinkNATS = "nats"
)

// Default values applied by Load when a field is left unset.
const (
	DefaultDeviceIDTimeout = 3 * time.Second
	DefaultCacheCapacity   = 1000
	DefaultSinkSubject     = "mdbmcp.telemetry.events"
	DefaultSinkTimeout     = 10 * time.Second
	DefaultHTTPHost        = "127.0.0.1"
	DefaultHTTPPort        = 9090
	DefaultServiceName     = "mdbmcp"
)

// Config holds the complete mdbmcp configuration.
//
// Config must not be copied after first use. Read and change the
// telemetry mode through TelemetryEnabled and SetTelemetry.
type Config struct {
	Telemetry        TelemetryMode       `koanf:"telemetry"`
	ConnectionString Secret              `koanf:"connection_string"`
	Logging          LoggingConfig       `koanf:"logging"`
	Events           EventsConfig        `koanf:"events"`
	HTTP             HTTPConfig          `koanf:"http"`
	Observability    ObservabilityConfig `koanf:"observability"`

	mu sync.RWMutex
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EventsConfig controls the usage event pipeline.
type EventsConfig struct {
	DeviceIDTimeout Duration `koanf:"device_id_timeout"`
	Cache           string   `koanf:"cache"`
	CachePath       string   `koanf:"cache_path"`
	CacheCapacity   int      `koanf:"cache_capacity"`
	Sink            string   `koanf:"sink"`
	SinkEndpoint    string   `koanf:"sink_endpoint"`
	SinkAPIKey      Secret   `koanf:"sink_api_key"`
	SinkSubject     string   `koanf:"sink_subject"`
	SinkTimeout     Duration `koanf:"sink_timeout"`
	FlushInterval   Duration `koanf:"flush_interval"` // 0 flushes only on shutdown
}

// HTTPConfig holds the diagnostics server configuration.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// ObservabilityConfig holds OpenTelemetry export configuration.
type ObservabilityConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	Protocol       string `koanf:"protocol"` // grpc or http/protobuf
	Insecure       bool   `koanf:"insecure"`
	TLSSkipVerify  bool   `koanf:"tls_skip_verify"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// TelemetryEnabled reports whether usage telemetry is switched on.
func (c *Config) TelemetryEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Telemetry != TelemetryDisabled
}

// TelemetryMode returns the current telemetry mode.
func (c *Config) TelemetryMode() TelemetryMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Telemetry
}

// SetTelemetry changes the telemetry mode. Safe for concurrent use.
func (c *Config) SetTelemetry(mode TelemetryMode) error {
	if _, err := ParseTelemetryMode(string(mode)); err != nil {
		return err
	}
	c.mu.Lock()
	c.Telemetry = mode
	c.mu.Unlock()
	return nil
}

// HasConnectionString reports whether a connection string is configured.
func (c *Config) HasConnectionString() bool {
	return c.ConnectionString.IsSet()
}

// Validate validates the configuration.
//
// Returns an error if:
//   - telemetry is not "enabled" or "disabled"
//   - the event cache or sink kind is unknown
//   - a sink is selected without an endpoint
//   - the cache capacity is not positive
//   - the HTTP port is not between 1 and 65535
func (c *Config) Validate() error {
	if _, err := ParseTelemetryMode(string(c.TelemetryMode())); err != nil {
		return err
	}

	switch c.Events.Cache {
	case CacheMemory, CacheSQLite:
	default:
		return fmt.Errorf("invalid events.cache %q (expected %q or %q)", c.Events.Cache, CacheMemory, CacheSQLite)
	}
	if c.Events.Cache == CacheSQLite && c.Events.CachePath == "" {
		return errors.New("events.cache_path required for sqlite cache")
	}
	if c.Events.CacheCapacity <= 0 {
		return fmt.Errorf("events.cache_capacity must be positive, got %d", c.Events.CacheCapacity)
	}

	switch c.Events.Sink {
	case SinkNone:
	case SinkHTTP, SinkNATS:
		if c.Events.SinkEndpoint == "" {
			return fmt.Errorf("events.sink_endpoint required for %s sink", c.Events.Sink)
		}
	default:
		return fmt.Errorf("invalid events.sink %q", c.Events.Sink)
	}
	if c.Events.Sink == SinkNATS && c.Events.SinkSubject == "" {
		return errors.New("events.sink_subject required for nats sink")
	}

	if c.Events.DeviceIDTimeout.Duration() <= 0 {
		return errors.New("events.device_id_timeout must be positive")
	}
	if c.Events.SinkTimeout.Duration() <= 0 {
		return errors.New("events.sink_timeout must be positive")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d (must be 1-65535)", c.HTTP.Port)
	}

	if c.Observability.Enabled && c.Observability.Endpoint == "" {
		return errors.New("observability.endpoint required when observability is enabled")
	}

	return nil
}
