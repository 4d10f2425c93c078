// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Omnigate Contributors

// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/omnigate-dev/omnigate/internal/metrics"
	"github.com/omnigate-dev/omnigate/internal/ratelimit"
	omnierr "github.com/omnigate-dev/omnigate/pkg/errors"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AuthSecret is the shared bearer secret. Empty disables auth.
	AuthSecret string
	// RequestsPerMinute bounds each caller. Zero disables limiting.
	RequestsPerMinute int
	Version           string
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	services *Services
	metrics  *metrics.Metrics
	limiter  *ratelimit.Window
	auth     *tokenAuth

	closeOnce sync.Once
	done      chan struct{}
	swept     chan struct{}
}

// New creates a Server with every route registered.
func New(cfg Config, svc *Services, m *metrics.Metrics) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, omnierr.New(omnierr.CodeServerConfigInvalid, "listen address is required")
	}
	if svc == nil {
		return nil, omnierr.New(omnierr.CodeServerConfigInvalid, "services are required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	limiter, err := ratelimit.New(ratelimit.Config{Limit: cfg.RequestsPerMinute})
	if err != nil {
		return nil, omnierr.Wrap(err, omnierr.CodeServerConfigInvalid, "inbound rate limit")
	}
	auth := newTokenAuth(cfg.AuthSecret)
	if !auth.enabled() {
		slog.Warn("API authentication disabled: set auth.secret to require a bearer token")
	}

	s := &Server{
		cfg:      cfg,
		services: svc,
		metrics:  m,
		limiter:  limiter,
		auth:     auth,
		done:     make(chan struct{}),
		swept:    make(chan struct{}),
	}
	go func() {
		defer close(s.swept)
		s.limiter.Cleanup(5*time.Minute, s.done)
	}()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(s.authenticate)
	r.Use(s.rateLimit)

	humaConfig := huma.DefaultConfig("Omnigate", cfg.Version)
	humaConfig.Info.Description = "Failover gateway over multiple LLM providers"
	s.router = r
	s.api = humachi.New(r, humaConfig)

	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	s.registerRoutes()
	s.registerMessageRoute()

	return s, nil
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API, for OpenAPI generation.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return omnierr.Errorf(omnierr.CodeServerStartFailure, "listening on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
		// Zero leaves streams bounded by provider timeouts only.
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return omnierr.Errorf(omnierr.CodeServerStartFailure, "serving: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return omnierr.Errorf(omnierr.CodeServerShutdownFailure, "shutting down: %w", err)
	}
	return <-errCh
}

// Close stops background work started by New. It is safe to call more
// than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.swept
	})
	return nil
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(r.Method, route, status)
		slog.Debug("http request", "method", r.Method, "route", route, "status", status,
			"duration", time.Since(start))
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{headerProvider, headerFallback, headerWarnings, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("omnigate server on %s", s.cfg.ListenAddr)
}
