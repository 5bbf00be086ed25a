// Package server exposes the telemetry pipeline over HTTP: per-variant
// ingestion and history routes, the live WebSocket endpoint, login, and
// health. It owns the listener lifecycle; everything domain-shaped is
// delegated to the injected components.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Alirezaa02/webvis-oakd-dashboard/auth"
	"github.com/Alirezaa02/webvis-oakd-dashboard/bus"
	"github.com/Alirezaa02/webvis-oakd-dashboard/config"
	"github.com/Alirezaa02/webvis-oakd-dashboard/errors"
	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
	"github.com/Alirezaa02/webvis-oakd-dashboard/health"
	"github.com/Alirezaa02/webvis-oakd-dashboard/ingest"
	"github.com/Alirezaa02/webvis-oakd-dashboard/store"
)

// routeVariants maps API path segments onto event variants. The plural
// segments match what the dashboard and producers already send.
var routeVariants = map[string]event.Variant{
	"sensors":    event.VariantSensor,
	"pose":       event.VariantPose,
	"detections": event.VariantDetection,
	"logs":       event.VariantLog,
}

// Dependencies carries the collaborators the server fronts. Ingestor,
// Store, and Bus are required. A nil Authorizer allows everyone. Login
// is optional; without it the login route answers 404.
type Dependencies struct {
	Ingestor   *ingest.Ingestor
	Store      store.Store
	Bus        *bus.Bus
	Authorizer auth.Authorizer
	Login      *auth.JWTAuthorizer
	Health     *health.Monitor
	Logger     *slog.Logger
}

// Server is the API listener.
type Server struct {
	cfg    config.ServerConfig
	deps   Dependencies
	logger *slog.Logger

	mu       sync.Mutex
	listener *http.Server
}

// New builds the server and its route table.
func New(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Ingestor == nil || deps.Store == nil || deps.Bus == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("nil ingestor, store, or bus"),
			"server", "New", "check dependencies")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Authorizer == nil {
		deps.Authorizer = auth.AllowAll{}
	}
	if deps.Health == nil {
		deps.Health = health.NewMonitor()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
	}, nil
}

// Handler builds the full route table with middleware applied. Exposed so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	for segment, variant := range routeVariants {
		mux.HandleFunc("POST /api/"+segment, s.handleIngest(variant))
		mux.HandleFunc("GET /api/"+segment+"/latest", s.handleLatest(variant))
	}
	mux.Handle("GET /ws/live", s.deps.Bus)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Login != nil {
		mux.HandleFunc("POST /auth/login", s.handleLogin)
	}

	var h http.Handler = mux
	h = s.withBodyLimit(h)
	h = s.withCORS(h)
	h = s.withRequestLog(h)
	return h
}

// Start begins listening in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "server", "Start", "check state")
	}

	s.listener = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("api server listening", "addr", s.cfg.Addr)
		if err := s.listener.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server failed", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests within the configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.listener.Shutdown(shutdownCtx)
	s.listener = nil
	if err != nil {
		return errors.Wrap(err, "server", "Stop", "drain listener")
	}
	return nil
}
