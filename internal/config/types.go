package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TelemetryMode is the user-facing telemetry switch.
type TelemetryMode string

const (
	TelemetryEnabled  TelemetryMode = "enabled"
	TelemetryDisabled TelemetryMode = "disabled"
)

// ParseTelemetryMode normalizes s into a TelemetryMode.
func ParseTelemetryMode(s string) (TelemetryMode, error) {
	switch m := TelemetryMode(strings.ToLower(strings.TrimSpace(s))); m {
	case TelemetryEnabled, TelemetryDisabled:
		return m, nil
	default:
		return "", fmt.Errorf("invalid telemetry mode %q (expected %q or %q)", s, TelemetryEnabled, TelemetryDisabled)
	}
}

// Duration is a time.Duration read from YAML or environment variables.
// It accepts Go duration syntax ("3s") or a bare integer of milliseconds
// ("3000").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))

	var parsed time.Duration
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		parsed = time.Duration(ms) * time.Millisecond
	} else if parsed, err = time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const redacted = "[REDACTED]"

// Secret holds a credential such as a connection string or API key. Every
// formatting and marshaling path prints a placeholder; only Value exposes
// the contents.
type Secret string

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool { return s != "" }

// String returns the placeholder, or "" for an empty secret.
func (s Secret) String() string {
	if !s.IsSet() {
		return ""
	}
	return redacted
}

// Format implements fmt.Formatter so that %v, %+v, %#v, %s and %q never
// print the secret.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'q':
		fmt.Fprintf(f, "%q", s.String())
	case 'v':
		if f.Flag('#') {
			fmt.Fprintf(f, "config.Secret(%q)", s.String())
			return
		}
		fmt.Fprint(f, s.String())
	default:
		fmt.Fprint(f, s.String())
	}
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The raw text is kept.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
