// Package http serves the optional diagnostics API: health, Prometheus
// metrics and the state of the telemetry pipeline.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
	"github.com/fyrsmithlabs/mdbmcp/internal/telemetry"
)

// TelemetrySource is the part of the telemetry coordinator the server
// reports on.
type TelemetrySource interface {
	Status(ctx context.Context) telemetry.Status
	Flush(ctx context.Context) error
}

// Config holds the listen address.
type Config struct {
	Host string
	Port int
}

// Server is the diagnostics HTTP server.
type Server struct {
	echo      *echo.Echo
	telemetry TelemetrySource
	logger    *logging.Logger
	addr      string
	registry  *prometheus.Registry
}

// NewServer creates a server reporting on source. A nil cfg listens on
// 127.0.0.1:9090.
func NewServer(source TelemetrySource, logger *logging.Logger, cfg *Config) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("telemetry source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 9090}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newTelemetryCollector(source),
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newRequestMetrics(registry).middleware)
	e.Use(requestLogger(logger))

	s := &Server{
		echo:      e,
		telemetry: source,
		logger:    logger,
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		registry:  registry,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogger tags the request context with its request id and logs each
// request at debug level.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithCorrelation(req.Context(), logging.Correlation{
				RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
			})
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			logger.Debug(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)))
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/telemetry", s.handleTelemetryStatus)
	v1.POST("/telemetry/flush", s.handleTelemetryFlush)
}

// Echo exposes the router so callers can mount extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleTelemetryStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.telemetry.Status(c.Request().Context()))
}

// handleTelemetryFlush sends cached events now instead of waiting for the
// next interval.
func (s *Server) handleTelemetryFlush(c echo.Context) error {
	ctx := c.Request().Context()
	before := s.telemetry.Status(ctx).CachedEvents
	if err := s.telemetry.Flush(ctx); err != nil {
		s.logger.Warn(ctx, "manual telemetry flush failed", logging.Err(err))
		return echo.NewHTTPError(http.StatusBadGateway, "flush failed")
	}
	after := s.telemetry.Status(ctx).CachedEvents
	return c.JSON(http.StatusOK, FlushResponse{Flushed: before - after, Remaining: after})
}

// Start listens until Shutdown, after which it returns nil.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
