package strategy

import (
	"fmt"

	"github.com/riptide-quant/riptide/internal/domain"
)

// Strategy is the contract every trading strategy implements. Evaluate
// is a pure function of the feature vector and the bar window that
// produced it: no strategy holds mutable state, sees another
// strategy's output, or reads bars after the vector's timestamp.
// "No signal" is the normal outcome and is returned as an empty slice,
// never as an error.
type Strategy interface {
	Name() string
	Evaluate(fv domain.FeatureVector, window []domain.Bar) ([]domain.Signal, error)
}

// signalID mints the deterministic identifier for a signal. A strategy
// emits at most one signal per instrument per bar, so the triple is
// unique, and identical runs produce identical IDs.
func signalID(strategy, instrument string, fv domain.FeatureVector) string {
	return fmt.Sprintf("%s-%s-%d", strategy, instrument, fv.Timestamp.UnixNano())
}

// clamp01 bounds a raw strength into [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
