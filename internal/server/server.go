// Package server exposes the reconciliation backlog and run history over a
// small admin HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medreg-data/regsync/internal/db"
	"github.com/medreg-data/regsync/internal/ingest"
	"github.com/medreg-data/regsync/internal/monitoring"
)

// Server serves the admin API over a connection pool.
type Server struct {
	pool      db.Pool
	resolver  *ingest.Resolver
	collector *monitoring.Collector
}

// New creates a Server.
func New(pool db.Pool) *Server {
	return &Server{
		pool:      pool,
		resolver:  ingest.NewResolver(pool),
		collector: monitoring.NewCollector(pool),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleSystemHealth)
		r.Get("/runs", s.handleRuns)
		r.Get("/pending", s.handlePending)
		r.Get("/conflicts", s.handleConflicts)
		r.Get("/changes", s.handleChanges)
		r.Post("/pending/{id}/resolve", s.handleResolvePending)
	})

	return r
}

// Listen serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown error", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
