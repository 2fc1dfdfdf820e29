package strategy

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/features"
)

// MACross trades exponential moving average crossovers: a BUY when the
// fast EMA closes above the slow EMA having been at or below it on the
// previous bar, a SELL on the mirror-image cross down. Crosses that are
// not confirmed by the fast EMA's slope are skipped, which filters the
// back-and-forth crosses a flat market produces.
type MACross struct {
	cfg    config.MACrossConfig
	fast   int
	slow   int
	logger *slog.Logger
}

// NewMACross creates a MACross strategy. fast and slow are the EMA
// periods the feature engine was configured with; the strategy
// recomputes both on the window minus its last bar to see where the
// averages stood before the current close.
func NewMACross(cfg config.MACrossConfig, fast, slow int, logger *slog.Logger) *MACross {
	return &MACross{
		cfg:    cfg,
		fast:   fast,
		slow:   slow,
		logger: logger.With(slog.String("strategy", "ma_cross")),
	}
}

// Name returns the strategy identifier.
func (mc *MACross) Name() string { return "ma_cross" }

// Evaluate emits a signal on the bar where the fast EMA crosses the
// slow EMA, provided the slope confirms the new direction.
func (mc *MACross) Evaluate(fv domain.FeatureVector, window []domain.Bar) ([]domain.Signal, error) {
	if len(window) <= mc.slow {
		return nil, nil
	}

	prev := window[:len(window)-1]
	prevFast := features.EMA(prev, mc.fast)
	prevSlow := features.EMA(prev, mc.slow)

	crossedUp := prevFast <= prevSlow && fv.EMAFast > fv.EMASlow
	crossedDown := prevFast >= prevSlow && fv.EMAFast < fv.EMASlow
	if !crossedUp && !crossedDown {
		return nil, nil
	}

	if crossedUp && fv.EMASlope < mc.cfg.MinSlopePct {
		mc.logger.Debug("cross up skipped, slope unconfirmed",
			slog.String("instrument", fv.Instrument),
			slog.Float64("slope", fv.EMASlope),
		)
		return nil, nil
	}
	if crossedDown && fv.EMASlope > -mc.cfg.MinSlopePct {
		mc.logger.Debug("cross down skipped, slope unconfirmed",
			slog.String("instrument", fv.Instrument),
			slog.Float64("slope", fv.EMASlope),
		)
		return nil, nil
	}

	direction := domain.DirectionBuy
	if crossedDown {
		direction = domain.DirectionSell
	}

	gap := 0.0
	if fv.EMASlow != 0 {
		gap = (fv.EMAFast - fv.EMASlow) / fv.EMASlow
	}

	sig := domain.Signal{
		ID:          signalID(mc.Name(), fv.Instrument, fv),
		Instrument:  fv.Instrument,
		Timestamp:   fv.Timestamp,
		Strategy:    mc.Name(),
		Direction:   direction,
		RawStrength: clamp01(0.5 + 100*math.Abs(gap) + 100*math.Abs(fv.EMASlope)),
		Reason: fmt.Sprintf("ema %d/%d cross %s: gap=%.4f%% slope=%.4f%%",
			mc.fast, mc.slow, direction, gap*100, fv.EMASlope*100),
		Tags: map[string]string{
			"ema_fast": fmt.Sprintf("%.6f", fv.EMAFast),
			"ema_slow": fmt.Sprintf("%.6f", fv.EMASlow),
			"slope":    fmt.Sprintf("%.6f", fv.EMASlope),
		},
	}

	mc.logger.Info("ema cross signal",
		slog.String("instrument", fv.Instrument),
		slog.String("direction", string(direction)),
		slog.Float64("ema_fast", fv.EMAFast),
		slog.Float64("ema_slow", fv.EMASlow),
		slog.Float64("slope", fv.EMASlope),
	)
	return []domain.Signal{sig}, nil
}
