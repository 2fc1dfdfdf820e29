package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/riptide-quant/riptide/internal/domain"
)

// InputNames is the model input layout: the feature vector in
// domain.FeatureNames order, then the strategy's raw strength, then
// the direction sign (+1 buy, -1 sell). Artifacts record this layout
// so a stale artifact fails loudly instead of silently misaligning.
func InputNames() []string {
	names := make([]string, 0, len(domain.FeatureNames)+2)
	names = append(names, domain.FeatureNames...)
	return append(names, "raw_strength", "direction")
}

// CalibrationBin maps a raw model probability bucket to the empirical
// win rate observed on held-out data. Upper is the bucket's inclusive
// upper bound; bins are sorted ascending and their values are
// monotonically non-decreasing.
type CalibrationBin struct {
	Upper float64 `json:"upper"`
	Value float64 `json:"value"`
}

// Artifact is the on-disk model format shared by every backend.
type Artifact struct {
	Version   string           `json:"version"`
	Backend   string           `json:"backend"`
	Features  []string         `json:"features"`
	Means     []float64        `json:"means"`
	Stds      []float64        `json:"stds"`
	Weights   []float64        `json:"weights,omitempty"`
	Bias      float64          `json:"bias,omitempty"`
	Bins      []CalibrationBin `json:"bins"`
	OnnxModel string           `json:"onnx_model,omitempty"`
	TrainedAt time.Time        `json:"trained_at"`
	Examples  int              `json:"examples"`
}

// DecodeArtifact parses and validates artifact bytes.
func DecodeArtifact(data []byte) (*Artifact, error) {
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := art.Validate(); err != nil {
		return nil, err
	}
	return &art, nil
}

// Encode renders the artifact as indented JSON for storage.
func (a *Artifact) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return append(data, '\n'), nil
}

// Validate checks internal consistency: aligned slices, an input
// layout matching this build, and monotone calibration bins.
func (a *Artifact) Validate() error {
	if a.Version == "" {
		return fmt.Errorf("artifact: version is empty")
	}
	n := len(a.Features)
	if n == 0 {
		return fmt.Errorf("artifact %s: no features", a.Version)
	}
	if len(a.Means) != n || len(a.Stds) != n {
		return fmt.Errorf("artifact %s: features/means/stds lengths differ (%d/%d/%d)",
			a.Version, n, len(a.Means), len(a.Stds))
	}
	want := InputNames()
	if n != len(want) {
		return fmt.Errorf("artifact %s: expects %d inputs, this build produces %d",
			a.Version, n, len(want))
	}
	for i, name := range a.Features {
		if name != want[i] {
			return fmt.Errorf("artifact %s: input %d is %q, this build produces %q",
				a.Version, i, name, want[i])
		}
	}
	if a.Backend == "logistic" && len(a.Weights) != n {
		return fmt.Errorf("artifact %s: %d weights for %d inputs", a.Version, len(a.Weights), n)
	}
	prevUpper := math.Inf(-1)
	prevValue := math.Inf(-1)
	for i, b := range a.Bins {
		if b.Upper <= prevUpper {
			return fmt.Errorf("artifact %s: bin %d upper %v not ascending", a.Version, i, b.Upper)
		}
		if b.Value < prevValue {
			return fmt.Errorf("artifact %s: bin %d value %v breaks monotonicity", a.Version, i, b.Value)
		}
		prevUpper = b.Upper
		prevValue = b.Value
	}
	return nil
}

// Calibrate maps a raw model probability to a calibrated confidence
// via the bins. With no bins the raw value passes through unchanged.
func (a *Artifact) Calibrate(raw float64) float64 {
	if len(a.Bins) == 0 {
		return raw
	}
	for _, b := range a.Bins {
		if raw <= b.Upper {
			return b.Value
		}
	}
	return a.Bins[len(a.Bins)-1].Value
}

// standardize centers and scales one input. A zero-variance input
// contributes nothing regardless of its value.
func (a *Artifact) standardize(i int, v float64) float64 {
	if a.Stds[i] <= 0 {
		return 0
	}
	return (v - a.Means[i]) / a.Stds[i]
}

// inputRow assembles the model input for a signal in InputNames order.
func inputRow(fv domain.FeatureVector, sig domain.Signal) []float64 {
	vals := fv.Values()
	row := make([]float64, 0, len(vals)+2)
	row = append(row, vals...)
	row = append(row, sig.RawStrength, directionSign(sig.Direction))
	return row
}

func directionSign(d domain.Direction) float64 {
	if d == domain.DirectionSell {
		return -1
	}
	return 1
}
