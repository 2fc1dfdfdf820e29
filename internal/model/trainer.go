package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// TrainResult carries the trained artifact plus the holdout stats the
// train mode logs.
type TrainResult struct {
	Artifact        *Artifact
	TrainExamples   int
	HoldoutExamples int
	HoldoutAccuracy float64
	FinalLoss       float64
}

// Train fits a logistic model on labeled examples with deterministic
// full-batch gradient descent: zero-initialized weights, a fixed epoch
// count, and no randomness anywhere, so retraining on identical data
// reproduces identical weights bit for bit. FLAT examples carry no
// win/loss information and are dropped. The chronologically latest
// holdout fraction is withheld from fitting and used to build the
// calibration bins and accuracy stats.
func Train(examples []domain.Example, cfg config.TrainConfig, holdout float64, logger *slog.Logger) (*TrainResult, error) {
	log := logger.With(slog.String("component", "trainer"))

	rows, ys, err := buildRows(examples)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("train: need at least 2 WIN/LOSS examples, got %d", len(rows))
	}

	holdCount := int(float64(len(rows)) * holdout)
	if holdCount >= len(rows) {
		holdCount = len(rows) - 1
	}
	cut := len(rows) - holdCount
	trainX, trainY := rows[:cut], ys[:cut]
	holdX, holdY := rows[cut:], ys[cut:]
	if len(holdX) == 0 {
		// No holdout requested: calibrate on the training set. Bins
		// will be optimistic, which the log line makes visible.
		holdX, holdY = trainX, trainY
		log.Warn("no holdout fraction; calibrating on training data")
	}

	means, stds := momentStats(trainX)
	std := func(i int, v float64) float64 {
		if stds[i] <= 0 {
			return 0
		}
		return (v - means[i]) / stds[i]
	}

	n := len(InputNames())
	weights := make([]float64, n)
	bias := 0.0
	var loss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		grad := make([]float64, n)
		gradB := 0.0
		loss = 0
		for r, row := range trainX {
			z := bias
			for i, v := range row {
				z += weights[i] * std(i, v)
			}
			p := sigmoid(z)
			d := p - trainY[r]
			for i, v := range row {
				grad[i] += d * std(i, v)
			}
			gradB += d
			loss += logLoss(p, trainY[r])
		}
		m := float64(len(trainX))
		for i := range weights {
			weights[i] -= cfg.LearningRate * (grad[i]/m + cfg.L2*weights[i])
		}
		bias -= cfg.LearningRate * (gradB / m)
		loss /= m
	}

	// Score the holdout with the fitted weights.
	raws := make([]float64, len(holdX))
	correct := 0
	for r, row := range holdX {
		z := bias
		for i, v := range row {
			z += weights[i] * std(i, v)
		}
		raws[r] = sigmoid(z)
		if (raws[r] >= 0.5) == (holdY[r] == 1) {
			correct++
		}
	}

	bins := calibrationBins(raws, holdY, cfg.CalibrationBins, trainWinRate(trainY))

	art := &Artifact{
		Backend:   "logistic",
		Features:  InputNames(),
		Means:     means,
		Stds:      stds,
		Weights:   weights,
		Bias:      bias,
		Bins:      bins,
		TrainedAt: time.Now().UTC(),
		Examples:  len(rows),
	}
	art.Version = "logistic-" + artifactHash(art)

	res := &TrainResult{
		Artifact:        art,
		TrainExamples:   len(trainX),
		HoldoutExamples: len(raws),
		HoldoutAccuracy: float64(correct) / float64(len(raws)),
		FinalLoss:       loss,
	}
	log.Info("model trained",
		slog.String("version", art.Version),
		slog.Int("train_examples", res.TrainExamples),
		slog.Int("holdout_examples", res.HoldoutExamples),
		slog.Float64("holdout_accuracy", res.HoldoutAccuracy),
		slog.Float64("final_loss", res.FinalLoss),
	)
	return res, nil
}

// buildRows converts WIN/LOSS examples to model input rows in
// deterministic chronological order.
func buildRows(examples []domain.Example) ([][]float64, []float64, error) {
	kept := make([]domain.Example, 0, len(examples))
	for _, ex := range examples {
		if ex.Class == domain.LabelFlat {
			continue
		}
		if len(ex.Features) != len(domain.FeatureNames) {
			return nil, nil, fmt.Errorf("train: example at %s has %d features, want %d",
				ex.Timestamp.UTC(), len(ex.Features), len(domain.FeatureNames))
		}
		kept = append(kept, ex)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if !kept[i].Timestamp.Equal(kept[j].Timestamp) {
			return kept[i].Timestamp.Before(kept[j].Timestamp)
		}
		if kept[i].Instrument != kept[j].Instrument {
			return kept[i].Instrument < kept[j].Instrument
		}
		return kept[i].Strategy < kept[j].Strategy
	})

	rows := make([][]float64, len(kept))
	ys := make([]float64, len(kept))
	for r, ex := range kept {
		row := make([]float64, 0, len(ex.Features)+2)
		row = append(row, ex.Features...)
		row = append(row, ex.RawStrength, directionSign(ex.Direction))
		rows[r] = row
		if ex.Win() {
			ys[r] = 1
		}
	}
	return rows, ys, nil
}

// momentStats returns per-column means and population stds.
func momentStats(rows [][]float64) (means, stds []float64) {
	n := len(InputNames())
	means = make([]float64, n)
	stds = make([]float64, n)
	if len(rows) == 0 {
		return means, stds
	}
	for _, row := range rows {
		for i, v := range row {
			means[i] += v
		}
	}
	for i := range means {
		means[i] /= float64(len(rows))
	}
	for _, row := range rows {
		for i, v := range row {
			d := v - means[i]
			stds[i] += d * d
		}
	}
	for i := range stds {
		stds[i] = math.Sqrt(stds[i] / float64(len(rows)))
	}
	return means, stds
}

// calibrationBins buckets raw holdout probabilities into equal-width
// bins and records the empirical win rate of each. Empty bins inherit
// the running value, and a final cumulative-max sweep enforces
// monotonicity so higher raw scores never map to lower confidence.
func calibrationBins(raws, ys []float64, count int, baseRate float64) []CalibrationBin {
	if count < 2 {
		count = 2
	}
	wins := make([]int, count)
	total := make([]int, count)
	for r, raw := range raws {
		b := int(raw * float64(count))
		if b >= count {
			b = count - 1
		}
		if b < 0 {
			b = 0
		}
		total[b]++
		if ys[r] == 1 {
			wins[b]++
		}
	}

	bins := make([]CalibrationBin, count)
	running := baseRate
	for i := 0; i < count; i++ {
		if total[i] > 0 {
			running = float64(wins[i]) / float64(total[i])
		}
		bins[i] = CalibrationBin{
			Upper: float64(i+1) / float64(count),
			Value: running,
		}
	}
	for i := 1; i < count; i++ {
		if bins[i].Value < bins[i-1].Value {
			bins[i].Value = bins[i-1].Value
		}
	}
	return bins
}

func trainWinRate(ys []float64) float64 {
	if len(ys) == 0 {
		return 0.5
	}
	wins := 0.0
	for _, y := range ys {
		wins += y
	}
	return wins / float64(len(ys))
}

func logLoss(p, y float64) float64 {
	const eps = 1e-12
	if p < eps {
		p = eps
	} else if p > 1-eps {
		p = 1 - eps
	}
	if y == 1 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}

// artifactHash derives a deterministic version suffix from the fitted
// parameters, so identical training data yields an identical version.
func artifactHash(art *Artifact) string {
	payload, _ := json.Marshal(struct {
		Weights []float64 `json:"weights"`
		Bias    float64   `json:"bias"`
		Means   []float64 `json:"means"`
		Stds    []float64 `json:"stds"`
	}{art.Weights, art.Bias, art.Means, art.Stds})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:12]
}
