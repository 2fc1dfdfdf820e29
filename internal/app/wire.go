package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/riptide-quant/riptide/internal/blob/s3"
	"github.com/riptide-quant/riptide/internal/cache/redis"
	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/notify"
	"github.com/riptide-quant/riptide/internal/store/postgres"
)

// Dependencies bundles the process-external collaborators a mode may
// need: Postgres stores, Redis coordination, object storage and the
// operator notifier. A field is nil when its backing service is not
// wired for the current mode, so modes check before use.
type Dependencies struct {
	Bars       domain.BarStore
	Portfolios domain.PortfolioStore
	Trades     domain.TradeStore
	Decisions  domain.DecisionStore

	Locks       domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   *redis.SignalBus
	Marks       *redis.MarkCache

	Archiver   *s3blob.Archiver
	BlobReader domain.BlobReader

	Notifier *notify.Notifier
}

// Wire connects the external services the configured mode needs (per
// the Config.Needs* methods) and returns a cleanup that closes them in
// reverse order. On error the already-opened services are closed
// before returning.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.NeedsPostgres() {
		pg, err := postgres.New(ctx, postgres.FromConfig(cfg.Postgres))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: migrations: %w", err)
			}
		}
		pool := pg.Pool()
		deps.Bars = postgres.NewBarStore(pool)
		deps.Portfolios = postgres.NewPortfolioStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Decisions = postgres.NewDecisionStore(pool)
		logger.Info("postgres wired",
			slog.String("database", cfg.Postgres.Database),
			slog.Bool("migrations", cfg.Postgres.RunMigrations),
		)
	}

	if cfg.NeedsRedis() {
		rc, err := redis.New(ctx, redis.FromConfig(cfg.Redis))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Locks = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(rc, cfg.Redis.StreamMaxLen)
		deps.Marks = redis.NewMarkCache(rc)
		logger.Info("redis wired", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.NeedsS3() {
		s3c, err := s3blob.New(ctx, s3blob.FromConfig(cfg.S3))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3c)
		deps.BlobReader = s3blob.NewReader(s3c)
		logger.Info("object storage wired", slog.String("bucket", cfg.S3.Bucket))
	}

	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	return deps, cleanup, nil
}
