package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "MDB_MCP_"

	appDirName = "mdbmcp"
	systemDir  = "/etc/mdbmcp"
)

// sections are the nested config blocks addressable from the environment.
var sections = []string{"logging", "events", "http", "observability"}

// Load loads configuration from YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MDB_MCP_TELEMETRY, MDB_MCP_EVENTS_CACHE, etc.)
//  2. YAML config file (~/.config/mdbmcp/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses
// DefaultPath(). A missing file is not an error.
//
// # Security Considerations
//
// The configuration file may hold a connection string, so it MUST have 0600
// or 0400 permissions and live under ~/.config/mdbmcp/ or /etc/mdbmcp/.
// Files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// The MDB_MCP_ prefix is stripped and the rest lowercased. A leading section
// name becomes a nested key, everything else is a top-level key:
//
//	MDB_MCP_TELEMETRY          -> telemetry
//	MDB_MCP_CONNECTION_STRING  -> connection_string
//	MDB_MCP_EVENTS_CACHE_PATH  -> events.cache_path
//	MDB_MCP_HTTP_PORT          -> http.port
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := loadFile(k, configPath); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFile merges the YAML file at path into k if it exists.
func loadFile(k *koanf.Koanf, path string) error {
	if err := validateConfigPath(path); err != nil {
		return fmt.Errorf("config path validation failed: %w", err)
	}

	// Open once and validate through the descriptor to avoid a TOCTOU race
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// envKey maps an environment variable name to a koanf key path.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if field, ok := strings.CutPrefix(lower, section+"_"); ok {
			return section + "." + field
		}
	}
	return lower
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// DefaultPath returns ~/.config/mdbmcp/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the mdbmcp config directory with 0700 permissions
// if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so they cannot escape the allowed directories.
	// Paths that don't exist yet are checked as-is.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	userDir, err := Dir()
	if err != nil {
		return err
	}

	for _, dir := range []string{userDir, systemDir} {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/%s/ or %s/", appDirName, systemDir)
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Telemetry == "" {
		cfg.Telemetry = TelemetryEnabled
	} else if mode, err := ParseTelemetryMode(string(cfg.Telemetry)); err == nil {
		cfg.Telemetry = mode
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	ev := &cfg.Events
	if ev.DeviceIDTimeout == 0 {
		ev.DeviceIDTimeout = Duration(DefaultDeviceIDTimeout)
	}
	if ev.Cache == "" {
		ev.Cache = CacheMemory
	}
	if ev.CachePath == "" {
		if dir, err := Dir(); err == nil {
			ev.CachePath = filepath.Join(dir, "events.db")
		}
	} else {
		ev.CachePath = expandHome(ev.CachePath)
	}
	if ev.CacheCapacity == 0 {
		ev.CacheCapacity = DefaultCacheCapacity
	}
	if ev.Sink == "" {
		ev.Sink = SinkNone
	}
	if ev.SinkSubject == "" {
		ev.SinkSubject = DefaultSinkSubject
	}
	if ev.SinkTimeout == 0 {
		ev.SinkTimeout = Duration(DefaultSinkTimeout)
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = DefaultHTTPHost
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = DefaultHTTPPort
	}

	obs := &cfg.Observability
	if obs.Endpoint == "" {
		obs.Endpoint = "localhost:4317"
	}
	if obs.Protocol == "" {
		obs.Protocol = "grpc"
	}
	if obs.ServiceName == "" {
		obs.ServiceName = DefaultServiceName
	}
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
