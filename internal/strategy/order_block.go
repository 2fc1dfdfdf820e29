package strategy

import (
	"fmt"
	"log/slog"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// OrderBlock trades returns to consolidation zones. It scans the
// window for the most recent run of lookback bars whose combined
// high-low range is tighter than max_range_pct, treats that run as an
// accumulation zone, and waits for price to break away from the zone
// and later tap back into its nearest edge. The tap bar becomes the
// entry: stop at the far edge of the zone, target at risk_reward times
// the stop distance.
type OrderBlock struct {
	cfg    config.OrderBlockConfig
	logger *slog.Logger
}

// NewOrderBlock creates an OrderBlock strategy.
func NewOrderBlock(cfg config.OrderBlockConfig, logger *slog.Logger) *OrderBlock {
	return &OrderBlock{
		cfg:    cfg,
		logger: logger.With(slog.String("strategy", "order_block")),
	}
}

// Name returns the strategy identifier.
func (ob *OrderBlock) Name() string { return "order_block" }

// Evaluate emits at most one signal: a BUY when price returns to the
// top edge of a zone it broke out of upward, a SELL on the mirror
// setup below. The bar before the tap must sit clear of the zone, so
// a market grinding along an edge fires once, not every bar.
func (ob *OrderBlock) Evaluate(fv domain.FeatureVector, window []domain.Bar) ([]domain.Signal, error) {
	n := len(window)
	lb := ob.cfg.Lookback
	if n < lb+2 {
		return nil, nil
	}

	cur := window[n-1]
	prev := window[n-2]

	// Most recent qualifying zone wins. Zones that produced both an
	// upward and a downward breakout are ambiguous and skipped.
	for zEnd := n - 3; zEnd >= lb-1; zEnd-- {
		zone := window[zEnd-lb+1 : zEnd+1]
		hi, lo := zoneEdges(zone)
		if lo <= 0 {
			continue
		}
		rangePct := (hi - lo) / lo
		if rangePct > ob.cfg.MaxRangePct {
			continue
		}

		departedUp, departedDown := false, false
		for i := zEnd + 1; i < n-1; i++ {
			if window[i].Close > hi {
				departedUp = true
			}
			if window[i].Close < lo {
				departedDown = true
			}
		}
		if departedUp == departedDown {
			continue
		}

		compact := 1 - rangePct/ob.cfg.MaxRangePct

		if departedUp && prev.Low > hi && cur.Low <= hi && cur.Close > lo {
			entry := cur.Close
			stop := lo
			target := entry + ob.cfg.RiskReward*(entry-stop)
			return ob.emit(fv, domain.DirectionBuy, entry, stop, target, hi, lo, compact), nil
		}
		if departedDown && prev.High < lo && cur.High >= lo && cur.Close < hi {
			entry := cur.Close
			stop := hi
			target := entry - ob.cfg.RiskReward*(stop-entry)
			return ob.emit(fv, domain.DirectionSell, entry, stop, target, hi, lo, compact), nil
		}
	}

	return nil, nil
}

func (ob *OrderBlock) emit(fv domain.FeatureVector, dir domain.Direction, entry, stop, target, hi, lo, compact float64) []domain.Signal {
	sig := domain.Signal{
		ID:          signalID(ob.Name(), fv.Instrument, fv),
		Instrument:  fv.Instrument,
		Timestamp:   fv.Timestamp,
		Strategy:    ob.Name(),
		Direction:   dir,
		RawStrength: clamp01(0.5 + 0.5*compact),
		StopLoss:    stop,
		TakeProfit:  target,
		Reason: fmt.Sprintf("order block %s: zone=[%.4f, %.4f] entry=%.4f stop=%.4f target=%.4f",
			dir, lo, hi, entry, stop, target),
		Tags: map[string]string{
			"zone_high": fmt.Sprintf("%.6f", hi),
			"zone_low":  fmt.Sprintf("%.6f", lo),
			"compact":   fmt.Sprintf("%.4f", compact),
		},
	}

	ob.logger.Info("order block signal",
		slog.String("instrument", fv.Instrument),
		slog.String("direction", string(dir)),
		slog.Float64("zone_high", hi),
		slog.Float64("zone_low", lo),
		slog.Float64("stop", stop),
		slog.Float64("target", target),
	)
	return []domain.Signal{sig}
}

func zoneEdges(zone []domain.Bar) (hi, lo float64) {
	hi, lo = zone[0].High, zone[0].Low
	for _, b := range zone[1:] {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}
	return hi, lo
}
