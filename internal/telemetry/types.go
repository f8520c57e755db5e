package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source tags every event produced by this server.
const Source = "mdbmcp"

// timestampLayout is ISO-8601 UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Result is the outcome of a tracked operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// ResultOf maps an operation error to a Result.
func ResultOf(err error) Result {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Event is the envelope recorded for one tracked operation.
type Event struct {
	Timestamp  string          `json:"timestamp"`
	Source     string          `json:"source"`
	Properties EventProperties `json:"properties"`
}

// EventProperties describes what happened and how long it took.
type EventProperties struct {
	Component  string `json:"component"`
	Category   string `json:"category"`
	Command    string `json:"command"`
	DurationMs int64  `json:"duration_ms"`
	Result     Result `json:"result"`
}

// NewEvent builds an Event for an operation that finished at `at` after
// running for d. Negative durations are clamped to zero.
func NewEvent(at time.Time, component, category, command string, d time.Duration, result Result) Event {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return Event{
		Timestamp: at.UTC().Format(timestampLayout),
		Source:    Source,
		Properties: EventProperties{
			Component:  component,
			Category:   category,
			Command:    command,
			DurationMs: ms,
			Result:     result,
		},
	}
}

// CommonProperties are attached to every event at send time. Empty fields
// are omitted.
type CommonProperties struct {
	MCPClientVersion       string `json:"mcp_client_version,omitempty"`
	MCPClientName          string `json:"mcp_client_name,omitempty"`
	SessionID              string `json:"session_id,omitempty"`
	ConfigConnectionString string `json:"config_connection_string,omitempty"`
	DeviceID               string `json:"device_id,omitempty"`
	MCPServerVersion       string `json:"mcp_server_version,omitempty"`
	MCPServerName          string `json:"mcp_server_name,omitempty"`
	Platform               string `json:"platform,omitempty"`
	Arch                   string `json:"arch,omitempty"`
}

// WireEvent is an Event merged with CommonProperties, the shape sinks send.
type WireEvent struct {
	Timestamp  string         `json:"timestamp"`
	Source     string         `json:"source"`
	Properties map[string]any `json:"properties"`
}

// Enrich merges common into each event's properties. Event properties win
// on key collisions.
func Enrich(events []Event, common CommonProperties) ([]WireEvent, error) {
	base, err := structToMap(common)
	if err != nil {
		return nil, err
	}

	out := make([]WireEvent, 0, len(events))
	for _, e := range events {
		props, err := structToMap(e.Properties)
		if err != nil {
			return nil, err
		}
		merged := make(map[string]any, len(base)+len(props))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range props {
			merged[k] = v
		}
		out = append(out, WireEvent{Timestamp: e.Timestamp, Source: e.Source, Properties: merged})
	}
	return out, nil
}

// structToMap converts a struct into a map using its JSON tags.
func structToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal struct: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal to map: %w", err)
	}
	return result, nil
}
