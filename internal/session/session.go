// Package session tracks the identity of the connected MCP client and
// publishes lifecycle signals to interested components.
package session

import (
	"context"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
)

// Signal names a lifecycle notification.
type Signal string

const (
	// SignalDisconnect fires after the service provider has been released.
	SignalDisconnect Signal = "disconnect"
	// SignalClose fires once when the session is torn down.
	SignalClose Signal = "close"
)

// Closer is the database connection (or any resource) owned by a session.
type Closer interface {
	Close(ctx context.Context) error
}

// Handler receives a lifecycle signal.
type Handler func(ctx context.Context)

// AgentRunner identifies the MCP client driving the session.
type AgentRunner struct {
	Name    string
	Version string
}

type subscription struct {
	id uint64
	fn Handler
}

// Session holds per-connection identity and lifecycle state. All methods are
// safe for concurrent use.
type Session struct {
	logger *logging.Logger

	mu          sync.RWMutex
	sessionID   string
	agentRunner *AgentRunner
	provider    Closer
	subs        map[Signal][]subscription
	nextID      uint64
	closed      bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for lifecycle diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSessionID sets the initial session id.
func WithSessionID(id string) Option {
	return func(s *Session) { s.sessionID = id }
}

// New creates an empty session.
func New(opts ...Option) *Session {
	s := &Session{
		logger: logging.NewNop(),
		subs:   make(map[Signal][]subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionID returns the session id, or "" when none has been assigned.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// SetSessionID assigns the session id.
func (s *Session) SetSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// AgentRunner returns a copy of the client identity, or nil if unknown.
func (s *Session) AgentRunner() *AgentRunner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.agentRunner == nil {
		return nil
	}
	ar := *s.agentRunner
	return &ar
}

// SetAgentRunner records the client identity reported at initialization.
// A partial identity (missing name or version) is ignored, and once set the
// identity never changes. Reports whether impl was accepted.
func (s *Session) SetAgentRunner(impl *mcp.Implementation) bool {
	if impl == nil || impl.Name == "" || impl.Version == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agentRunner != nil {
		return false
	}
	s.agentRunner = &AgentRunner{Name: impl.Name, Version: impl.Version}
	return true
}

// SetServiceProvider attaches the resource released on Disconnect.
func (s *Session) SetServiceProvider(c Closer) {
	s.mu.Lock()
	s.provider = c
	s.mu.Unlock()
}

// Subscribe registers fn for sig. Handlers run in registration order on the
// goroutine that publishes the signal, outside the session lock. The
// returned func removes the subscription and is safe to call twice.
func (s *Session) Subscribe(sig Signal, fn Handler) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[sig] = append(s.subs[sig], subscription{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[sig]
		for i, sub := range subs {
			if sub.id == id {
				s.subs[sig] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Disconnect releases the service provider and publishes SignalDisconnect.
// A failing Close is logged, never returned.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	provider := s.provider
	s.provider = nil
	s.mu.Unlock()

	if provider != nil {
		if err := provider.Close(ctx); err != nil {
			s.logger.Error(ctx, "error closing service provider",
				logging.DisconnectFailure.Field(), logging.Err(err))
		}
	}

	s.publish(ctx, SignalDisconnect)
}

// Close disconnects and then publishes SignalClose. Only the first call
// publishes SignalClose.
func (s *Session) Close(ctx context.Context) {
	s.Disconnect(ctx)

	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	if !already {
		s.publish(ctx, SignalClose)
	}
}

func (s *Session) publish(ctx context.Context, sig Signal) {
	s.mu.RLock()
	subs := make([]subscription, len(s.subs[sig]))
	copy(subs, s.subs[sig])
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(ctx)
	}
}
