// Package mcp hosts the MCP server on the go-sdk.
//
// Every tool is registered through addTrackedTool, which times the call and
// emits one telemetry event for it. The client identity reported during
// initialization is copied into the session so events carry it.
package mcp
