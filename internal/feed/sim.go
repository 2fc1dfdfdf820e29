package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/marketdata"
)

// SimFeed replays stored bars in timestamp order, one tick per interval.
// It drives the live orchestrator through real history at a controlled
// pace, which makes dry runs reproducible without any external feed.
type SimFeed struct {
	store    *marketdata.Store
	interval time.Duration
	bars     chan domain.Bar
	logger   *slog.Logger
}

var _ Source = (*SimFeed)(nil)

// NewSimFeed replays every bar in store. An interval of zero replays as
// fast as the consumer drains.
func NewSimFeed(store *marketdata.Store, interval time.Duration, logger *slog.Logger) *SimFeed {
	return &SimFeed{
		store:    store,
		interval: interval,
		bars:     make(chan domain.Bar),
		logger:   logger.With(slog.String("component", "sim_feed")),
	}
}

// Bars returns the replay channel. It is closed when the history is
// exhausted or Run's context is cancelled.
func (f *SimFeed) Bars() <-chan domain.Bar { return f.bars }

// Run replays the whole store and returns nil when done. Bars sharing a
// timestamp are emitted back to back in instrument order, then the feed
// sleeps one interval.
func (f *SimFeed) Run(ctx context.Context) error {
	defer close(f.bars)

	instruments := f.store.Instruments()
	timeline := f.store.Timestamps(time.Time{}, time.Time{})
	f.logger.Info("replay feed starting",
		slog.Int("instruments", len(instruments)),
		slog.Int("timestamps", len(timeline)),
		slog.Duration("interval", f.interval),
	)

	var ticker *time.Ticker
	if f.interval > 0 {
		ticker = time.NewTicker(f.interval)
		defer ticker.Stop()
	}

	for _, ts := range timeline {
		for _, inst := range instruments {
			bar, ok := f.store.BarAt(inst, ts)
			if !ok {
				continue
			}
			select {
			case f.bars <- bar:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	f.logger.Info("replay feed exhausted")
	return nil
}
