package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
	"github.com/fyrsmithlabs/mdbmcp/internal/session"
	"github.com/fyrsmithlabs/mdbmcp/internal/telemetry"
)

// Telemetry is the part of the telemetry coordinator tools use.
type Telemetry interface {
	EmitEvents(ctx context.Context, events []telemetry.Event)
	Status(ctx context.Context) telemetry.Status
}

// Server is the MCP server for one client session.
type Server struct {
	mcp       *mcp.Server
	session   *session.Session
	telemetry Telemetry
	tools     toolCatalog
	metrics   *Metrics
	logger    *logging.Logger
	now       func() time.Time
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "mdbmcp")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *logging.Logger

	// MeterProvider receives tool metrics. Nil uses the global provider.
	MeterProvider metric.MeterProvider

	// Now is the time source for tool durations (default: time.Now)
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "mdbmcp",
		Version: "dev",
		Logger:  logging.NewNop(),
		Now:     time.Now,
	}
}

// NewServer creates an MCP server bound to sess. A session without an id
// gets a random one.
func NewServer(cfg *Config, sess *session.Session, tel Telemetry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	if tel == nil {
		return nil, fmt.Errorf("telemetry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if sess.SessionID() == "" {
		sess.SetSessionID(uuid.NewString())
	}

	s := &Server{
		session:   sess,
		telemetry: tel,
		metrics:   NewMetrics(cfg.MeterProvider, cfg.Logger),
		logger:    cfg.Logger,
		now:       cfg.Now,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		&mcp.ServerOptions{
			InitializedHandler: s.handleInitialized,
		},
	)

	s.registerTools()

	return s, nil
}

// handleInitialized records the client identity once the handshake is done.
func (s *Server) handleInitialized(ctx context.Context, req *mcp.InitializedRequest) {
	var client *mcp.Implementation
	if params := req.Session.InitializeParams(); params != nil {
		client = params.ClientInfo
	}
	s.session.SetAgentRunner(client)

	fields := []zap.Field{
		logging.ServerInitialized.Field(),
		zap.Int("tools", s.tools.len()),
	}
	if client != nil {
		fields = append(fields, zap.String("client.name", client.Name), zap.String("client.version", client.Version))
	}
	ctx = logging.WithCorrelation(ctx, logging.Correlation{SessionID: s.session.SessionID()})
	s.logger.Info(ctx, "mcp server initialized", fields...)
}

// Tools returns the registered tools ordered by name.
func (s *Server) Tools() []ToolInfo {
	return s.tools.list()
}

// Run serves the MCP protocol on stdin/stdout until the client disconnects
// or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one client over t without blocking.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// Close closes the session, which flushes telemetry.
func (s *Server) Close(ctx context.Context) {
	s.session.Close(ctx)
	s.logger.Info(ctx, "mcp server closed", logging.ServerClosed.Field())
}
