package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	ingestion driving.IngestionService

	// Infrastructure
	taskQueue driven.TaskQueue
	checks    map[string]Pinger
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string
	Logger  *slog.Logger

	// Checks are pinged by /ready, keyed by component name
	Checks map[string]Pinger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, ingestion driving.IngestionService, taskQueue driven.TaskQueue) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		router:    http.NewServeMux(),
		version:   cfg.Version,
		logger:    cfg.Logger.With("component", "http"),
		ingestion: ingestion,
		taskQueue: taskQueue,
		checks:    cfg.Checks,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.HandleFunc("GET /swagger/doc.json", s.handleSwaggerDoc)

	// Ingestion endpoints
	s.router.HandleFunc("POST /api/v1/ingestions", s.handleSubmit)
	s.router.HandleFunc("GET /api/v1/ingestions", s.handleListActive)
	s.router.HandleFunc("GET /api/v1/ingestions/{id}", s.handleStatus)
	s.router.HandleFunc("DELETE /api/v1/ingestions/{id}", s.handleCancel)
	s.router.HandleFunc("GET /api/v1/ingestions/{id}/history", s.handleHistory)

	// Queue stats
	s.router.HandleFunc("GET /api/v1/queue/stats", s.handleQueueStats)
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return Chain(s.router, RequestID, Recover(s.logger), Logging(s.logger))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
