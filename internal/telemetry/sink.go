package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/mdbmcp/internal/config"
)

const (
	// DefaultSinkTimeout bounds one Send.
	DefaultSinkTimeout = 10 * time.Second

	// DefaultAPIKeyHeader carries the HTTP sink's API key.
	DefaultAPIKeyHeader = "x-api-key"

	maxErrorBody = 1024
)

// Sink delivers enriched events somewhere durable.
type Sink interface {
	Send(ctx context.Context, events []WireEvent) error
}

// batch is the body every sink sends.
type batch struct {
	Records []WireEvent `json:"records"`
}

// HTTPSink POSTs batches as JSON to an HTTP endpoint.
type HTTPSink struct {
	endpoint  string
	apiKey    config.Secret
	header    string
	userAgent string
	client    *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
}

// HTTPSinkOption configures an HTTPSink.
type HTTPSinkOption func(*HTTPSink)

// WithAPIKey sends key in the given header. An empty header uses
// DefaultAPIKeyHeader.
func WithAPIKey(header string, key config.Secret) HTTPSinkOption {
	return func(s *HTTPSink) {
		if header != "" {
			s.header = header
		}
		s.apiKey = key
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPSinkOption {
	return func(s *HTTPSink) { s.client = c }
}

// WithUserAgentVersion sets the version reported in User-Agent.
func WithUserAgentVersion(version string) HTTPSinkOption {
	return func(s *HTTPSink) { s.userAgent = Source + "/" + version }
}

// WithRequestTimeout bounds each request. It applies to a client passed
// with WithHTTPClient too, without changing that client.
func WithRequestTimeout(d time.Duration) HTTPSinkOption {
	return func(s *HTTPSink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRateLimit caps how often batches are sent.
func WithRateLimit(limit rate.Limit, burst int) HTTPSinkOption {
	return func(s *HTTPSink) { s.limiter = rate.NewLimiter(limit, burst) }
}

// NewHTTPSink creates a sink posting to endpoint.
func NewHTTPSink(endpoint string, opts ...HTTPSinkOption) *HTTPSink {
	s := &HTTPSink{
		endpoint:  endpoint,
		header:    DefaultAPIKeyHeader,
		userAgent: Source,
		client:    http.DefaultClient,
		timeout:   DefaultSinkTimeout,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(s)
	}
	client := *s.client
	client.Timeout = s.timeout
	s.client = &client
	return s
}

// Send posts events as {"records": [...]}.
func (s *HTTPSink) Send(ctx context.Context, events []WireEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	body, err := json.Marshal(batch{Records: events})
	if err != nil {
		return fmt.Errorf("failed to marshal request to JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	if s.apiKey.IsSet() {
		req.Header.Set(s.header, s.apiKey.Value())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, string(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// NATSSink publishes batches to a NATS subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	owned   bool
}

// NewNATSSink publishes on an existing connection. The caller keeps
// ownership of conn.
func NewNATSSink(conn *nats.Conn, subject string, timeout time.Duration) *NATSSink {
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	return &NATSSink{conn: conn, subject: subject, timeout: timeout}
}

// DialNATSSink connects to url and publishes on subject. Close releases
// the connection.
func DialNATSSink(url, subject string, timeout time.Duration, opts ...nats.Option) (*NATSSink, error) {
	if subject == "" {
		return nil, errors.New("nats sink requires a subject")
	}
	opts = append([]nats.Option{nats.Name(Source + "-telemetry")}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	s := NewNATSSink(conn, subject, timeout)
	s.owned = true
	return s, nil
}

// Send publishes one message per batch and waits for the server to
// acknowledge it.
func (s *NATSSink) Send(ctx context.Context, events []WireEvent) error {
	if len(events) == 0 {
		return nil
	}
	data, err := json.Marshal(batch{Records: events})
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", s.subject, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing nats connection: %w", err)
	}
	return nil
}

// Close drains the connection if the sink dialed it.
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.conn.Drain()
}
