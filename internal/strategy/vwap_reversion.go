package strategy

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// VWAPReversion buys when the close sits significantly below the
// rolling VWAP and sells when it sits significantly above.
// "Significantly" is measured in multiples of the trailing standard
// deviation (the z_threshold parameter), and every entry must be
// confirmed by RSI: a long needs an oversold RSI, a short an
// overbought one. Deviation without confirmation is ignored.
type VWAPReversion struct {
	cfg    config.VWAPReversionConfig
	logger *slog.Logger
}

// NewVWAPReversion creates a VWAPReversion strategy.
func NewVWAPReversion(cfg config.VWAPReversionConfig, logger *slog.Logger) *VWAPReversion {
	return &VWAPReversion{
		cfg:    cfg,
		logger: logger.With(slog.String("strategy", "vwap_reversion")),
	}
}

// Name returns the strategy identifier.
func (vr *VWAPReversion) Name() string { return "vwap_reversion" }

// Evaluate emits a reversion signal when the VWAP z-score breaches the
// threshold and RSI confirms the stretch.
func (vr *VWAPReversion) Evaluate(fv domain.FeatureVector, _ []domain.Bar) ([]domain.Signal, error) {
	z := fv.VWAPDev
	threshold := vr.cfg.ZThreshold

	// Price stretched below VWAP and momentum washed out: BUY.
	if z <= -threshold && fv.RSI <= vr.cfg.RSIOversold {
		sig := domain.Signal{
			ID:          signalID(vr.Name(), fv.Instrument, fv),
			Instrument:  fv.Instrument,
			Timestamp:   fv.Timestamp,
			Strategy:    vr.Name(),
			Direction:   domain.DirectionBuy,
			RawStrength: vr.strength(z, fv.RSI, vr.cfg.RSIOversold),
			Reason:      fmt.Sprintf("vwap reversion buy: z=%.2f rsi=%.1f", z, fv.RSI),
			Tags: map[string]string{
				"z_score":   fmt.Sprintf("%.4f", z),
				"rsi":       fmt.Sprintf("%.2f", fv.RSI),
				"threshold": fmt.Sprintf("%.2f", threshold),
			},
		}
		vr.logger.Info("vwap reversion BUY signal",
			slog.String("instrument", fv.Instrument),
			slog.Float64("z_score", z),
			slog.Float64("rsi", fv.RSI),
		)
		return []domain.Signal{sig}, nil
	}

	// Price stretched above VWAP and momentum overheated: SELL.
	if z >= threshold && fv.RSI >= vr.cfg.RSIOverbought {
		sig := domain.Signal{
			ID:          signalID(vr.Name(), fv.Instrument, fv),
			Instrument:  fv.Instrument,
			Timestamp:   fv.Timestamp,
			Strategy:    vr.Name(),
			Direction:   domain.DirectionSell,
			RawStrength: vr.strength(z, fv.RSI, vr.cfg.RSIOverbought),
			Reason:      fmt.Sprintf("vwap reversion sell: z=%.2f rsi=%.1f", z, fv.RSI),
			Tags: map[string]string{
				"z_score":   fmt.Sprintf("%.4f", z),
				"rsi":       fmt.Sprintf("%.2f", fv.RSI),
				"threshold": fmt.Sprintf("%.2f", threshold),
			},
		}
		vr.logger.Info("vwap reversion SELL signal",
			slog.String("instrument", fv.Instrument),
			slog.Float64("z_score", z),
			slog.Float64("rsi", fv.RSI),
		)
		return []domain.Signal{sig}, nil
	}

	return nil, nil
}

// strength scales with how far the z-score runs past the threshold and
// how deep the RSI confirmation is. A bare threshold touch scores 0.5
// and a 2x stretch with an extreme RSI approaches 1.
func (vr *VWAPReversion) strength(z, rsi, rsiEdge float64) float64 {
	excess := (math.Abs(z) - vr.cfg.ZThreshold) / vr.cfg.ZThreshold
	rsiDepth := math.Abs(rsi-rsiEdge) / 30
	return clamp01(0.5 + 0.35*excess + 0.15*rsiDepth)
}
