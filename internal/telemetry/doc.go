// Package telemetry records anonymous usage events for the MCP server.
//
// A Telemetry coordinator owns the pipeline for one session:
//
//   - EmitEvents gates on DO_NOT_TRACK and the telemetry setting, then
//     appends to an EventCache.
//   - Until the anonymized device id settles (DeviceIDResolver, bounded by
//     DeviceIDTimeout) events are queued and later appended in one batch,
//     preserving emit order.
//   - Flush sends cached events, merged with CommonProperties, to a Sink.
//
// Emitting never fails from the caller's point of view.
package telemetry
