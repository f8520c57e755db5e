package logging

import "go.uber.org/zap"

// LogID identifies a diagnostic so it can be matched without parsing the
// message. Values are stable; never renumber.
type LogID int

const (
	TelemetryDeviceIDFailure LogID = 1_000_001
	TelemetryDeviceIDTimeout LogID = 1_000_002
	TelemetryEmitFailure     LogID = 1_000_003
	TelemetryFlushFailure    LogID = 1_000_004
	TelemetryMetadataFailure LogID = 1_000_005

	DisconnectFailure LogID = 1_001_001

	ServerInitialized LogID = 1_002_001
	ServerClosed      LogID = 1_002_002
	ToolCallFailure   LogID = 1_002_003

	ConfigReloaded      LogID = 1_003_001
	ConfigReloadFailure LogID = 1_003_002
)

var logIDNames = map[LogID]string{
	TelemetryDeviceIDFailure: "deviceIdFailure",
	TelemetryDeviceIDTimeout: "deviceIdTimeout",
	TelemetryEmitFailure:     "telemetryEmitFailure",
	TelemetryFlushFailure:    "telemetryFlushFailure",
	TelemetryMetadataFailure: "telemetryMetadataFailure",
	DisconnectFailure:        "disconnectFailure",
	ServerInitialized:        "serverInitialized",
	ServerClosed:             "serverClosed",
	ToolCallFailure:          "toolCallFailure",
	ConfigReloaded:           "configReloaded",
	ConfigReloadFailure:      "configReloadFailure",
}

// String returns the diagnostic name, e.g. "deviceIdTimeout".
func (id LogID) String() string {
	if name, ok := logIDNames[id]; ok {
		return name
	}
	return "unknown"
}

// Field returns the log_id field for id.
func (id LogID) Field() zap.Field {
	return zap.Int("log_id", int(id))
}

// Err logs err's message under the "error" key as a plain string so it
// survives redaction and is easy to match in tests.
func Err(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", err.Error())
}
