// Package main implements webvisd, the telemetry backend for the OAK-D
// inspection dashboard: it ingests sensor, pose, detection, and log events,
// persists them with a retention horizon, and fans them out live over
// WebSocket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Alirezaa02/webvis-oakd-dashboard/auth"
	"github.com/Alirezaa02/webvis-oakd-dashboard/bus"
	"github.com/Alirezaa02/webvis-oakd-dashboard/config"
	"github.com/Alirezaa02/webvis-oakd-dashboard/health"
	"github.com/Alirezaa02/webvis-oakd-dashboard/ingest"
	"github.com/Alirezaa02/webvis-oakd-dashboard/metric"
	"github.com/Alirezaa02/webvis-oakd-dashboard/server"
	"github.com/Alirezaa02/webvis-oakd-dashboard/store"
)

// Build information constants.
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "webvisd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}
	if cliCfg.Sim {
		cfg.Sim.Enabled = true
	}

	logger.Info("starting webvisd",
		"version", Version,
		"storeBackend", cfg.Store.Backend,
		"addr", cfg.Server.Addr,
		"authEnabled", cfg.Auth.Enabled,
		"sim", cfg.Sim.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := health.NewMonitor()

	// Metrics registry plus its scrape endpoint.
	var registry *metric.Registry
	var metrics *metric.Metrics
	if cfg.Metrics.Enabled {
		registry = metric.NewRegistry()
		metrics = registry.Metrics
		metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Stop(stopCtx)
		}()
	}

	eventStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		monitor.UpdateUnhealthy("store", err.Error())
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eventStore.Close(closeCtx)
	}()
	monitor.UpdateHealthy("store", string(cfg.Store.Backend))

	liveBus := bus.NewBus(cfg.Bus, bus.Dependencies{Logger: logger, Metrics: metrics})
	if err := liveBus.Initialize(); err != nil {
		return fmt.Errorf("initialize bus: %w", err)
	}
	if err := liveBus.Start(ctx); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	defer func() { _ = liveBus.Stop(cliCfg.ShutdownTimeout) }()
	monitor.UpdateHealthy("bus", "")

	var authorizer auth.Authorizer = auth.AllowAll{}
	var login *auth.JWTAuthorizer
	if cfg.Auth.Enabled {
		jwtAuth, err := auth.NewJWTAuthorizer(cfg.Auth.JWT)
		if err != nil {
			return fmt.Errorf("configure auth: %w", err)
		}
		authorizer = jwtAuth
		login = jwtAuth
	}

	ingestor, err := ingest.NewIngestor(ingest.Dependencies{
		Store:      eventStore,
		Bus:        liveBus,
		Authorizer: authorizer,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("wire ingestor: %w", err)
	}

	if cfg.Sim.Enabled {
		sim := ingest.NewSimulator(ingestor, cfg.Sim.Interval, logger)
		sim.Start(ctx)
		defer sim.Stop()
	}

	apiServer, err := server.New(cfg.Server, server.Dependencies{
		Ingestor:   ingestor,
		Store:      eventStore,
		Bus:        liveBus,
		Authorizer: authorizer,
		Login:      login,
		Health:     monitor,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	logger.Info("webvisd ready")
	<-ctx.Done()
	logger.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	logger.Info("webvisd stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	retention := cfg.Retention()
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		return store.NewPostgresStore(ctx, cfg.Store.Postgres, retention, logger)
	case config.BackendJetStream:
		return store.NewJetStreamStore(ctx, cfg.Store.JetStream, retention, logger)
	default:
		return store.NewMemoryStore(retention), nil
	}
}
