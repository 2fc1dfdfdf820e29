// Package server exposes the live session over HTTP: read-only JSON
// endpoints under /api and Prometheus metrics under /metrics. It is only
// started in live mode; backtests report through files instead.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/server/handler"
	"github.com/riptide-quant/riptide/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	Metrics     bool   // mount /metrics when true

	// RateLimit requests per RateLimitWindow per client IP; 0 disables
	// rate limiting. Takes effect only when a limiter is wired.
	RateLimit       int
	RateLimitWindow time.Duration
}

// FromConfig maps the application server section onto a Config.
func FromConfig(cfg config.ServerConfig) Config {
	return Config{
		Port:            cfg.Port,
		CORSOrigins:     cfg.CORSOrigins,
		APIKey:          cfg.APIKey,
		Metrics:         cfg.Metrics,
		RateLimit:       cfg.RateLimit,
		RateLimitWindow: cfg.RateLimitWindow.Duration,
	}
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Portfolio *handler.PortfolioHandler
	Trades    *handler.TradesHandler
}

// Server is the read-only HTTP API for a live session.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be
// nil, which disables rate limiting regardless of cfg.RateLimit.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/portfolio", handlers.Portfolio.GetPortfolio)
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)

	if cfg.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// Middleware chain, innermost first: auth, rate limit, logging, CORS.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler returns the fully wired handler chain, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
