// Package server exposes the relay over HTTP: the Messenger webhook
// endpoints, tenant registration, diagnostics, and static assets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/korahq/relay/internal/config"
	"github.com/korahq/relay/internal/logger"
	"github.com/korahq/relay/internal/registry"
	"github.com/korahq/relay/internal/relay"
)

// Server wraps the HTTP listener and its routes.
type Server struct {
	httpServer *http.Server
	cfg        config.ServerConfig
	log        *slog.Logger
}

// New creates the HTTP server with all routes registered.
func New(
	cfg config.ServerConfig,
	log *slog.Logger,
	reg *registry.Registry,
	verifier *relay.Verifier,
	dispatcher *relay.Dispatcher,
) *Server {
	h := &handlers{
		reg:        reg,
		verifier:   verifier,
		dispatcher: dispatcher,
		log:        log.With("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(logger.Middleware(h.log))

	r.Get("/health", h.handleHealth)
	r.Get("/webhook", h.handleVerify)
	r.Post("/webhook", h.handleWebhook)
	r.Post("/set-tokens", h.handleSetTokens)
	r.Get("/bots", h.handleListBots)

	if cfg.StaticDir != "" {
		if _, err := os.Stat(cfg.StaticDir); err == nil {
			r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
		} else {
			log.Warn("Static directory not found, skipping file server", "dir", cfg.StaticDir)
		}
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		cfg: cfg,
		log: log.With("component", "server"),
	}
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the listener and blocks until ctx is cancelled or the
// listener fails, then shuts down gracefully within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("HTTP server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutdown signal received, stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped gracefully.")
	return nil
}
