// SPDX-License-Identifier: MIT

// Package api exposes the read-only observation surface of the daemon:
// live session state, archive catalog, failure markers and the
// operational probes.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/callscribe/callscribe/internal/api/middleware"
	"github.com/callscribe/callscribe/internal/archive"
	"github.com/callscribe/callscribe/internal/health"
	"github.com/callscribe/callscribe/internal/journal"
	xlog "github.com/callscribe/callscribe/internal/log"
	"github.com/callscribe/callscribe/internal/session"
)

// Config holds the HTTP server options.
type Config struct {
	ListenAddr     string
	RateLimitRPM   int
	MetricsEnabled bool
	TracingService string // empty disables tracing
}

// Server serves the observation API over HTTP.
type Server struct {
	cfg       Config
	registry  *session.Registry
	store     journal.Store
	index     *archive.Index
	healthMgr *health.Manager
	logger    zerolog.Logger
}

// NewServer wires the observation API around the daemon's state.
// index may be nil when archiving is disabled.
func NewServer(cfg Config, registry *session.Registry, store journal.Store, index *archive.Index, healthMgr *health.Manager) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		index:     index,
		healthMgr: healthMgr,
		logger:    xlog.WithComponent("api"),
	}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	middleware.ApplyStack(r, middleware.StackConfig{
		EnableMetrics:  s.cfg.MetricsEnabled,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
		RateLimitRPM:   s.cfg.RateLimitRPM,
	})

	r.Get("/healthz", s.healthMgr.ServeHealth)
	r.Get("/readyz", s.healthMgr.ServeReady)
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{key}", s.handleSession)
		r.Get("/archive", s.handleArchive)
		r.Get("/failures", s.handleFailures)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
