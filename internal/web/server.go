// Package web exposes the engine over HTTP: registration, live photo
// matching, match listing, and audit control.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/indexer"
	"github.com/kozaktomas/face-finder/internal/scheduler"
	"github.com/kozaktomas/face-finder/internal/store"
	"github.com/kozaktomas/face-finder/internal/web/middleware"
)

// Deps are the collaborators the web server exposes.
type Deps struct {
	FaceIndexer  *indexer.FaceIndexer
	PhotoIndexer *indexer.PhotoIndexer
	Faces        store.FaceStore
	Scheduler    *scheduler.Scheduler
}

// Server represents the web server.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates a new web server.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		router: r,
		deps:   deps,
		logger: logger,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(2 * time.Minute))
	r.Use(middleware.Metrics())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // full-audit kickoffs return fast, uploads may not
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and cancels scheduled jobs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")

	if s.deps.Scheduler != nil {
		s.deps.Scheduler.Shutdown()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
