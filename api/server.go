// Package api provides the HTTP surface of the advisory service.
//
// Endpoints:
//
//	POST /api/converse       → genkit.Handler(advisr/converse Flow)
//	GET  /api/sessions       → list active sessions
//	GET  /api/sessions/{id}  → one session's public view
//	DELETE /api/sessions/{id} → clear a session
//	GET  /health             → liveness probe
//	GET  /ready              → readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: logging, recovery, chaining
//   - ratelimit.go: per-IP token bucket
//   - health.go: liveness and readiness probes
//   - session.go: session inspection endpoints
//   - converse.go: conversation endpoint via Genkit Flow
//   - response.go: JSON response helpers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advisr-io/advisr/internal/dialogue"
	"github.com/advisr-io/advisr/internal/log"
	"github.com/advisr-io/advisr/internal/session"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds request header reads (Slowloris).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// ServerConfig collects the server's dependencies and tuning.
type ServerConfig struct {
	Store *session.Store // required

	// Flow is the converse flow; nil leaves the endpoint unregistered.
	Flow *dialogue.Flow

	// Pool backs the readiness probe; nil means in-memory only.
	Pool *pgxpool.Pool

	// RateRPS/RateBurst tune the per-IP limiter; zero values get defaults.
	RateRPS    float64
	RateBurst  int
	TrustProxy bool

	Logger log.Logger
}

// Server is the HTTP server for the advisory REST API.
type Server struct {
	mux     *http.ServeMux
	limiter *rateLimiter
	cfg     ServerConfig
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
		cfg.Logger = logger
	}

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:     mux,
		limiter: newRateLimiter(rps, burst),
		cfg:     cfg,
	}

	NewHealthHandler(cfg.Pool, logger).RegisterRoutes(mux)
	NewSessionHandler(cfg.Store, logger).RegisterRoutes(mux)
	NewConverseHandler(cfg.Flow, logger).RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → rate limit → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.cfg.Logger),
		loggingMiddleware(s.cfg.Logger),
		rateLimitMiddleware(s.limiter, s.cfg.TrustProxy, s.cfg.Logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
