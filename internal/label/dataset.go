package label

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/features"
	"github.com/riptide-quant/riptide/internal/marketdata"
	"github.com/riptide-quant/riptide/internal/strategy"
)

// Builder replays history, re-runs the strategies at every bar exactly
// as the live pipeline would, and labels each emitted signal with its
// first-touch outcome. The result is the supervised dataset the
// trainer consumes.
type Builder struct {
	store      *marketdata.Store
	engine     *features.Engine
	strategies *strategy.Set
	labeler    *Labeler
	logger     *slog.Logger
}

// NewBuilder wires a dataset builder over an in-memory bar store.
func NewBuilder(store *marketdata.Store, eng *features.Engine, set *strategy.Set, labeler *Labeler, logger *slog.Logger) *Builder {
	return &Builder{
		store:      store,
		engine:     eng,
		strategies: set,
		labeler:    labeler,
		logger:     logger.With(slog.String("component", "label")),
	}
}

// Build produces one Example per signal across all instruments in the
// store, in deterministic (instrument, timestamp) order. Bars too early
// for the feature warmup are skipped; bars too late to have a full
// forward horizon are still labeled against whatever forward bars
// exist, so recent FLATs are slightly optimistic about holding time.
func (b *Builder) Build(instruments []string) ([]domain.Example, error) {
	if len(instruments) == 0 {
		instruments = b.store.Instruments()
	}

	var examples []domain.Example
	for _, inst := range instruments {
		ex, err := b.buildInstrument(inst)
		if err != nil {
			return nil, fmt.Errorf("build dataset for %s: %w", inst, err)
		}
		examples = append(examples, ex...)
	}

	b.logger.Info("dataset built",
		slog.Int("instruments", len(instruments)),
		slog.Int("examples", len(examples)),
	)
	return examples, nil
}

func (b *Builder) buildInstrument(instrument string) ([]domain.Example, error) {
	bars := b.store.Range(instrument, time.Time{}, time.Time{})
	warmup := b.engine.MinBars()
	if len(bars) <= warmup {
		b.logger.Warn("not enough bars to label",
			slog.String("instrument", instrument),
			slog.Int("bars", len(bars)),
			slog.Int("warmup", warmup),
		)
		return nil, nil
	}

	var examples []domain.Example
	skipped := 0
	for i := warmup - 1; i < len(bars); i++ {
		bar := bars[i]
		window := b.store.Window(instrument, bar.Timestamp, warmup)

		fv, err := b.engine.Compute(window)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientHistory) {
				skipped++
				continue
			}
			return nil, err
		}

		signals, err := b.strategies.Evaluate(fv, window)
		if err != nil {
			return nil, err
		}
		if len(signals) == 0 {
			continue
		}

		forward := bars[i+1:]
		if len(forward) > b.labeler.Horizon() {
			forward = forward[:b.labeler.Horizon()]
		}
		for _, sig := range signals {
			out, err := b.labeler.Label(sig, bar.Close, forward)
			if err != nil {
				return nil, err
			}
			examples = append(examples, domain.Example{
				Instrument:  instrument,
				Timestamp:   sig.Timestamp,
				Features:    fv.Values(),
				Direction:   sig.Direction,
				RawStrength: sig.RawStrength,
				Strategy:    sig.Strategy,
				Class:       out.Class,
				BarsHeld:    out.BarsHeld,
				ExitPrice:   out.ExitPrice,
			})
		}
	}

	if skipped > 0 {
		b.logger.Debug("skipped warmup bars",
			slog.String("instrument", instrument),
			slog.Int("skipped", skipped),
		)
	}
	return examples, nil
}
