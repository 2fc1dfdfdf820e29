package model

import (
	"testing"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

func trainCfg() config.TrainConfig {
	return config.TrainConfig{
		Epochs:          500,
		LearningRate:    0.05,
		L2:              0.0001,
		CalibrationBins: 10,
	}
}

// separableExamples builds a dataset where low RSI predicts a win and
// high RSI predicts a loss, perfectly.
func separableExamples(n int) []domain.Example {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Example, 0, n)
	for i := 0; i < n; i++ {
		f := make([]float64, len(domain.FeatureNames))
		win := i%2 == 0
		if win {
			f[0] = 30
		} else {
			f[0] = 70
		}
		class := domain.LabelLoss
		if win {
			class = domain.LabelWin
		}
		out = append(out, domain.Example{
			Instrument:  "BTC-USD",
			Timestamp:   base.Add(time.Duration(i) * time.Hour),
			Features:    f,
			Direction:   domain.DirectionBuy,
			RawStrength: 0.5,
			Strategy:    "vwap_reversion",
			Class:       class,
		})
	}
	return out
}

func TestTrainSeparatesObviousDataset(t *testing.T) {
	res, err := Train(separableExamples(200), trainCfg(), 0.3, discardLogger())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if res.HoldoutAccuracy < 0.95 {
		t.Fatalf("holdout accuracy = %v, want >= 0.95 on a separable dataset", res.HoldoutAccuracy)
	}
	if res.TrainExamples+res.HoldoutExamples != 200 {
		t.Fatalf("train %d + holdout %d != 200", res.TrainExamples, res.HoldoutExamples)
	}

	m, err := NewLogistic(res.Artifact)
	if err != nil {
		t.Fatalf("NewLogistic: %v", err)
	}
	low, err := m.Score(domain.FeatureVector{RSI: 30}, testSignal())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	high, err := m.Score(domain.FeatureVector{RSI: 70}, testSignal())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if low.Confidence <= high.Confidence {
		t.Fatalf("low-RSI confidence %v should beat high-RSI confidence %v", low.Confidence, high.Confidence)
	}
}

func TestTrainIsDeterministic(t *testing.T) {
	a, err := Train(separableExamples(120), trainCfg(), 0.3, discardLogger())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	b, err := Train(separableExamples(120), trainCfg(), 0.3, discardLogger())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	if a.Artifact.Version != b.Artifact.Version {
		t.Fatalf("versions differ across identical runs: %s vs %s", a.Artifact.Version, b.Artifact.Version)
	}
	for i := range a.Artifact.Weights {
		if a.Artifact.Weights[i] != b.Artifact.Weights[i] {
			t.Fatalf("weight %d differs: %v vs %v", i, a.Artifact.Weights[i], b.Artifact.Weights[i])
		}
	}
	if a.Artifact.Bias != b.Artifact.Bias {
		t.Fatalf("bias differs: %v vs %v", a.Artifact.Bias, b.Artifact.Bias)
	}
}

func TestTrainBinsMonotone(t *testing.T) {
	res, err := Train(separableExamples(200), trainCfg(), 0.3, discardLogger())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	bins := res.Artifact.Bins
	if len(bins) != 10 {
		t.Fatalf("bins = %d, want 10", len(bins))
	}
	for i := 1; i < len(bins); i++ {
		if bins[i].Value < bins[i-1].Value {
			t.Fatalf("bin %d value %v < bin %d value %v", i, bins[i].Value, i-1, bins[i-1].Value)
		}
	}
	if err := res.Artifact.Validate(); err != nil {
		t.Fatalf("trained artifact fails validation: %v", err)
	}
}

func TestTrainDropsFlatExamples(t *testing.T) {
	examples := separableExamples(100)
	flat := examples[0]
	flat.Class = domain.LabelFlat
	examples = append(examples, flat, flat, flat)

	res, err := Train(examples, trainCfg(), 0.3, discardLogger())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if res.TrainExamples+res.HoldoutExamples != 100 {
		t.Fatalf("FLAT examples were not dropped: train %d + holdout %d",
			res.TrainExamples, res.HoldoutExamples)
	}
}

func TestTrainRejectsTinyDatasets(t *testing.T) {
	if _, err := Train(separableExamples(1), trainCfg(), 0.3, discardLogger()); err == nil {
		t.Fatal("expected error for a one-example dataset")
	}
}
