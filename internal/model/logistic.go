package model

import (
	"fmt"
	"math"

	"github.com/riptide-quant/riptide/internal/domain"
)

// Logistic is the pure-Go scoring backend: standardized logistic
// regression over the model inputs, followed by bin calibration.
type Logistic struct {
	art *Artifact
}

var _ Scorer = (*Logistic)(nil)

// NewLogistic wraps a validated artifact carrying logistic weights.
func NewLogistic(art *Artifact) (*Logistic, error) {
	if len(art.Weights) != len(art.Features) {
		return nil, fmt.Errorf("logistic artifact %s: %d weights for %d inputs",
			art.Version, len(art.Weights), len(art.Features))
	}
	return &Logistic{art: art}, nil
}

func (m *Logistic) Score(fv domain.FeatureVector, sig domain.Signal) (domain.ScoredSignal, error) {
	row := inputRow(fv, sig)
	if len(row) != len(m.art.Features) {
		return domain.ScoredSignal{}, fmt.Errorf("logistic %s: got %d inputs, artifact expects %d",
			m.art.Version, len(row), len(m.art.Features))
	}

	z := m.art.Bias
	for i, v := range row {
		z += m.art.Weights[i] * m.art.standardize(i, v)
	}

	return domain.ScoredSignal{
		Signal:       sig,
		Confidence:   m.art.Calibrate(sigmoid(z)),
		ModelVersion: m.art.Version,
	}, nil
}

func (m *Logistic) Version() string { return m.art.Version }

func sigmoid(z float64) float64 {
	if z > 60 {
		return 1
	}
	if z < -60 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}
