package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mdbmcp/internal/config"
	httpserver "github.com/fyrsmithlabs/mdbmcp/internal/http"
	"github.com/fyrsmithlabs/mdbmcp/internal/logging"
	"github.com/fyrsmithlabs/mdbmcp/internal/mcp"
	"github.com/fyrsmithlabs/mdbmcp/internal/observability"
	"github.com/fyrsmithlabs/mdbmcp/internal/session"
	"github.com/fyrsmithlabs/mdbmcp/internal/telemetry"
)

// shutdownGrace is added to the sink timeout for the final flush.
const shutdownGrace = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	return run(ctx, cfg, opts.configPath)
}

// run wires every component and serves until the client disconnects or ctx
// is cancelled.
//
// Startup order:
//  1. Observability providers (so the logger can bridge to OTEL)
//  2. Logger
//  3. Config watcher
//  4. Event cache and sink
//  5. Session, telemetry coordinator, MCP server
//  6. Optional HTTP diagnostics server
func run(ctx context.Context, cfg *config.Config, configPath string) error {
	obs, err := observability.New(ctx, observability.FromSettings(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	logger, err := initLogger(cfg, obs)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	startFields := []zap.Field{
		zap.String("version", version),
		zap.String("telemetry", string(cfg.TelemetryMode())),
		zap.String("events.cache", cfg.Events.Cache),
		zap.String("events.sink", cfg.Events.Sink),
		zap.Bool("observability", obs.IsEnabled()),
	}
	if cfg.HasConnectionString() {
		startFields = append(startFields, logging.ConnectionString("connection", cfg.ConnectionString))
	}
	if cfg.Events.SinkAPIKey.IsSet() {
		startFields = append(startFields, logging.Secret("events.sink_api_key", cfg.Events.SinkAPIKey))
	}
	logger.Info(ctx, "starting mdbmcp", startFields...)

	stopWatcher := startWatcher(ctx, cfg, configPath, logger)
	defer stopWatcher()

	cache, closeCache, err := openCache(cfg)
	if err != nil {
		return fmt.Errorf("failed to open event cache: %w", err)
	}
	defer closeCache()

	sink, closeSink, err := newSink(cfg)
	if err != nil {
		return fmt.Errorf("failed to create event sink: %w", err)
	}
	defer closeSink()

	sess := session.New(session.WithLogger(logger))

	telOpts := []telemetry.Option{
		telemetry.WithEventCache(cache),
		telemetry.WithLogger(logger.Named("telemetry")),
		telemetry.WithDeviceIDTimeout(cfg.Events.DeviceIDTimeout.Duration()),
		telemetry.WithFlushInterval(cfg.Events.FlushInterval.Duration()),
		telemetry.WithMeterProvider(obs.MeterProvider()),
		telemetry.WithTracerProvider(obs.TracerProvider()),
		telemetry.WithServerInfo(telemetry.ServerInfo{Name: "mdbmcp", Version: version}),
	}
	if sink != nil {
		telOpts = append(telOpts, telemetry.WithSink(sink))
	}
	tel := telemetry.New(sess, cfg, telOpts...)

	srv, err := mcp.NewServer(&mcp.Config{
		Name:          "mdbmcp",
		Version:       version,
		Logger:        logger.Named("mcp"),
		MeterProvider: obs.MeterProvider(),
	}, sess, tel)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	var httpSrv *httpserver.Server
	if cfg.HTTP.Enabled {
		httpSrv, err = httpserver.NewServer(tel, logger.Named("http"), &httpserver.Config{
			Host: cfg.HTTP.Host,
			Port: cfg.HTTP.Port,
		})
		if err != nil {
			return fmt.Errorf("failed to create HTTP server: %w", err)
		}
		go func() {
			if err := httpSrv.Start(); err != nil {
				logger.Error(ctx, "http server failed", zap.Error(err))
			}
		}()
	}

	runErr := srv.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ctx may already be cancelled; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Events.SinkTimeout.Duration()+shutdownGrace)
	defer cancel()

	srv.Close(shutdownCtx)

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "http server shutdown failed", zap.Error(err))
		}
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "observability shutdown failed", zap.Error(err))
	}

	logger.Info(shutdownCtx, "mdbmcp stopped")
	return runErr
}

// initLogger builds the stderr logger, bridged to OTEL logs when
// observability is on.
func initLogger(cfg *config.Config, obs *observability.Provider) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if obs.IsEnabled() {
		obs.SetLoggerProvider(global.GetLoggerProvider())
		logCfg.Output.OTEL = true
	}
	return logging.NewLogger(logCfg, obs.LoggerProvider())
}

// startWatcher reloads the telemetry mode when the config file changes. A
// watcher that cannot start is logged and skipped.
func startWatcher(ctx context.Context, cfg *config.Config, path string, logger *logging.Logger) func() {
	noop := func() {}

	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return noop
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		return noop
	}

	w, err := config.NewWatcher(path, cfg,
		config.OnReload(func(mode config.TelemetryMode) {
			logger.Info(ctx, "configuration reloaded",
				logging.ConfigReloaded.Field(), zap.String("telemetry", string(mode)))
		}),
		config.OnError(func(err error) {
			logger.Warn(ctx, "configuration reload failed",
				logging.ConfigReloadFailure.Field(), logging.Err(err))
		}),
	)
	if err != nil {
		logger.Warn(ctx, "config watcher unavailable", logging.Err(err))
		return noop
	}
	if err := w.Start(ctx); err != nil {
		logger.Warn(ctx, "config watcher unavailable", logging.Err(err))
		return noop
	}
	return w.Stop
}
