package strategy

import (
	"fmt"
	"log/slog"

	"github.com/riptide-quant/riptide/internal/domain"
)

// Set evaluates a fixed roster of strategies against each feature
// vector. The roster order is fixed at construction, so a given input
// always produces signals in the same order.
type Set struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewSet builds a Set from the registry's active strategies.
func NewSet(strategies []Strategy, logger *slog.Logger) *Set {
	return &Set{
		strategies: strategies,
		logger:     logger.With(slog.String("component", "strategy_set")),
	}
}

// Names returns the roster in evaluation order.
func (s *Set) Names() []string {
	names := make([]string, len(s.strategies))
	for i, st := range s.strategies {
		names[i] = st.Name()
	}
	return names
}

// Evaluate runs every strategy in roster order and concatenates their
// signals. HOLD and zero-strength signals are dropped here so nothing
// downstream has to handle them. A strategy error fails the whole
// call; the caller decides whether that aborts the instrument's tick.
func (s *Set) Evaluate(fv domain.FeatureVector, window []domain.Bar) ([]domain.Signal, error) {
	var out []domain.Signal
	for _, st := range s.strategies {
		sigs, err := st.Evaluate(fv, window)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", st.Name(), err)
		}
		for _, sig := range sigs {
			if sig.Direction == domain.DirectionHold || sig.RawStrength <= 0 {
				continue
			}
			out = append(out, sig)
		}
	}
	return out, nil
}

// ResolveOpposing enforces one trading direction per instrument per
// bar. When scored signals disagree, the direction holding the single
// highest confidence survives and every signal on the losing side is
// logged and dropped. An exact confidence tie drops both sides; acting
// on a coin flip is worse than standing aside.
func ResolveOpposing(scored []domain.ScoredSignal, logger *slog.Logger) []domain.ScoredSignal {
	var bestBuy, bestSell float64
	hasBuy, hasSell := false, false
	for _, sc := range scored {
		switch sc.Direction {
		case domain.DirectionBuy:
			hasBuy = true
			if sc.Confidence > bestBuy {
				bestBuy = sc.Confidence
			}
		case domain.DirectionSell:
			hasSell = true
			if sc.Confidence > bestSell {
				bestSell = sc.Confidence
			}
		}
	}
	if !hasBuy || !hasSell {
		return scored
	}

	var winner domain.Direction
	switch {
	case bestBuy > bestSell:
		winner = domain.DirectionBuy
	case bestSell > bestBuy:
		winner = domain.DirectionSell
	default:
		winner = domain.DirectionHold
	}

	kept := scored[:0:0]
	for _, sc := range scored {
		if sc.Direction == winner {
			kept = append(kept, sc)
			continue
		}
		logger.Info("opposing signal discarded",
			slog.String("instrument", sc.Instrument),
			slog.String("strategy", sc.Strategy),
			slog.String("direction", string(sc.Direction)),
			slog.Float64("confidence", sc.Confidence),
			slog.Float64("winning_confidence", maxF(bestBuy, bestSell)),
		)
	}
	return kept
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
