// Package app is the composition root. It wires the external services
// the configured mode needs (Postgres, Redis, object storage,
// notifications), assembles the decision pipeline from the domain
// packages and runs one of the four operating modes: backtest, live,
// train or ingest.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/riptide-quant/riptide/internal/config"
)

// App owns the configuration, the logger and the cleanup functions
// registered while wiring. Modes run until done or until the context is
// cancelled; Close releases everything in reverse order.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, dispatches to the configured mode and blocks
// until the mode finishes or the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "backtest":
		return a.BacktestMode(ctx, deps)
	case "live":
		return a.LiveMode(ctx, deps)
	case "train":
		return a.TrainMode(ctx, deps)
	case "ingest":
		return a.IngestMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is
// safe to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
