// Package server exposes the daemon's HTTP surface: the push webhook,
// health and status endpoints, and the Prometheus metrics handler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/errors"
	"git.home.luguber.info/inful/matrixci/internal/pipeline"
)

// Runtime is the daemon surface the HTTP handlers operate against.
type Runtime interface {
	// Config returns the current configuration. Handlers fetch it per
	// request so a hot reload takes effect without re-binding; the value
	// itself is immutable once published.
	Config() *config.Config
	// TriggerPush queues a run for a push to the configured branch.
	TriggerPush(branch, commit string) (*pipeline.Run, error)
	// ActiveRuns returns currently executing runs.
	ActiveRuns() []*pipeline.Run
	// History returns recently completed runs, oldest first.
	History() []*pipeline.Run
	// QueueLength returns the number of queued runs.
	QueueLength() int
	// StartTime returns when the daemon started.
	StartTime() time.Time
}

// Server serves the webhook, status, and metrics endpoints on one port.
type Server struct {
	cfg          *config.Config
	runtime      Runtime
	metrics      http.Handler
	srv          *http.Server
	errorAdapter *errors.HTTPErrorAdapter
}

// New constructs the HTTP server wiring. metricsHandler may be nil when
// metrics are disabled.
func New(cfg *config.Config, runtime Runtime, metricsHandler http.Handler) *Server {
	return &Server{
		cfg:          cfg,
		runtime:      runtime,
		metrics:      metricsHandler,
		errorAdapter: errors.NewHTTPErrorAdapter(slog.Default()),
	}
}

// Handler builds the route mux. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(normalizeWebhookPath(s.cfg.Server.WebhookPath), s.handleWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/runs/", s.handleRun)
	if s.metrics != nil {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, s.metrics)
	}
	return mux
}

// Start binds the listener and serves in the background. Binding happens
// here so port conflicts surface as a startup error, not a log line.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Server.Addr()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("http startup failed: %w", err)
	}

	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", addr, "webhook_path", normalizeWebhookPath(s.cfg.Server.WebhookPath))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}

func normalizeWebhookPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/webhook"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
