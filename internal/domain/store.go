package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BarStore persists historical bars.
type BarStore interface {
	InsertBatch(ctx context.Context, bars []Bar) error
	Window(ctx context.Context, instrument string, end time.Time, length int) ([]Bar, error)
	Range(ctx context.Context, instrument string, from, to time.Time) ([]Bar, error)
	Instruments(ctx context.Context) ([]string, error)
	LastTimestamp(ctx context.Context, instrument string) (time.Time, error)
	Count(ctx context.Context, instrument string) (int64, error)
}

// PortfolioStore persists portfolio snapshots for crash recovery.
// Snapshots round-trip losslessly; Load returns the most recent one.
type PortfolioStore interface {
	Save(ctx context.Context, session string, state *PortfolioState) error
	Load(ctx context.Context, session string) (*PortfolioState, error)
	Prune(ctx context.Context, session string, keep int) error
}

// TradeStore persists the trade log.
type TradeStore interface {
	Insert(ctx context.Context, session string, rec TradeRecord) error
	InsertBatch(ctx context.Context, session string, recs []TradeRecord) error
	List(ctx context.Context, session string, opts ListOpts) ([]TradeRecord, error)
	LastTimestamp(ctx context.Context, session string) (time.Time, error)
}

// DecisionStore persists the pipeline decision audit log.
type DecisionStore interface {
	Insert(ctx context.Context, dec Decision) error
	List(ctx context.Context, session string, opts ListOpts) ([]Decision, error)
}

// LockManager coordinates exclusive ownership of a named resource, such
// as a live trading session. Acquire returns ErrLockHeld when another
// holder owns the key; the returned release function is idempotent.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
