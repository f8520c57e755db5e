package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
	"github.com/fyrsmithlabs/mdbmcp/internal/telemetry"
)

// toolComponent is the event component for tool calls.
const toolComponent = "tool"

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerTelemetryTools()
}

// addTrackedTool registers a tool whose every call emits one telemetry
// event. A call fails if the handler errors or returns an error result.
// Registering a name twice panics, as mcp.AddTool does for invalid tools.
func addTrackedTool[In, Out any](s *Server, tool *mcp.Tool, category ToolCategory, h mcp.ToolHandlerFor[In, Out]) {
	if !s.tools.add(ToolInfo{Name: tool.Name, Description: tool.Description, Category: category}) {
		panic(fmt.Sprintf("mcp: tool %q registered twice", tool.Name))
	}

	mcp.AddTool(s.mcp, tool, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		ctx = logging.WithCorrelation(ctx, logging.Correlation{
			SessionID: s.session.SessionID(),
			Tool:      tool.Name,
		})
		start := s.now()
		done := s.metrics.startCall(ctx, tool.Name)

		res, out, err := h(ctx, req, in)

		end := s.now()
		result := telemetry.ResultOf(err)
		if res != nil && res.IsError {
			result = telemetry.ResultFailure
		}
		done(end.Sub(start), result, err)
		if err != nil {
			s.logger.Debug(ctx, "tool call failed",
				logging.ToolCallFailure.Field(), logging.Err(err))
		}

		s.telemetry.EmitEvents(ctx, []telemetry.Event{
			telemetry.NewEvent(end, toolComponent, string(category), tool.Name, end.Sub(start), result),
		})
		return res, out, err
	})
}

// ===== TELEMETRY TOOLS =====

type telemetryStatusInput struct{}

type telemetryStatusOutput struct {
	Enabled       bool   `json:"enabled" jsonschema:"Whether usage telemetry is enabled"`
	Buffering     bool   `json:"buffering" jsonschema:"Whether events wait for the device id"`
	DeviceID      string `json:"device_id_state" jsonschema:"pending, resolved or unknown"`
	QueuedBatches int    `json:"queued_batches" jsonschema:"Event batches waiting for the device id"`
	CachedEvents  int    `json:"cached_events" jsonschema:"Events cached awaiting flush"`
	SessionID     string `json:"session_id,omitempty" jsonschema:"Current session id"`
}

func (s *Server) registerTelemetryTools() {
	addTrackedTool(s, &mcp.Tool{
		Name:        "telemetry-status",
		Description: "Report the state of the usage telemetry pipeline: whether it is enabled, whether events are buffered while the device id resolves, and how many events are cached.",
	}, CategoryTelemetry, func(ctx context.Context, req *mcp.CallToolRequest, _ telemetryStatusInput) (*mcp.CallToolResult, telemetryStatusOutput, error) {
		st := s.telemetry.Status(ctx)
		out := telemetryStatusOutput{
			Enabled:       st.Enabled,
			Buffering:     st.Buffering,
			DeviceID:      st.DeviceID,
			QueuedBatches: st.QueuedBatches,
			CachedEvents:  st.CachedEvents,
			SessionID:     st.CommonProperties.SessionID,
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("telemetry enabled=%t buffering=%t device_id=%s cached=%d",
					out.Enabled, out.Buffering, out.DeviceID, out.CachedEvents)},
			},
		}, out, nil
	})
}
