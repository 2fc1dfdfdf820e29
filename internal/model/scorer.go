// Package model scores strategy signals with a calibrated win
// probability. Two backends share one artifact format: a pure-Go
// logistic model trained by this repo's trainer, and an ONNX session
// for models trained elsewhere. Both standardize inputs with the
// artifact's means and stds and map the raw model output through the
// artifact's calibration bins, so confidence is comparable across
// backends and across retrains.
package model

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// Scorer attaches a calibrated confidence to a signal. Implementations
// must be deterministic: the same feature vector and signal always
// produce the same confidence.
type Scorer interface {
	Score(fv domain.FeatureVector, sig domain.Signal) (domain.ScoredSignal, error)
	Version() string
}

// Fallback scores signals with their raw strategy strength when no
// model is available. Every signal it scores is marked Degraded so
// reports and metrics can count how much of a run traded unscored.
type Fallback struct{}

var _ Scorer = Fallback{}

func (Fallback) Score(_ domain.FeatureVector, sig domain.Signal) (domain.ScoredSignal, error) {
	conf := sig.RawStrength
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}
	return domain.ScoredSignal{
		Signal:       sig,
		Confidence:   conf,
		ModelVersion: "fallback",
		Degraded:     true,
	}, nil
}

func (Fallback) Version() string { return "fallback" }

// Load reads the artifact named by the config from the local
// filesystem and builds the scorer it describes. A missing or
// unreadable artifact is reported as ErrModelUnavailable so callers
// can degrade to the raw-strength fallback instead of aborting.
func Load(cfg config.ModelConfig, logger *slog.Logger) (Scorer, error) {
	if cfg.Backend == "none" {
		return Fallback{}, nil
	}
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact %s: %v", domain.ErrModelUnavailable, cfg.Path, err)
	}
	return FromBytes(data, cfg, filepath.Dir(cfg.Path), logger)
}

// FromBytes builds a scorer from raw artifact bytes. baseDir resolves
// the relative ONNX model path recorded inside the artifact.
func FromBytes(data []byte, cfg config.ModelConfig, baseDir string, logger *slog.Logger) (Scorer, error) {
	art, err := DecodeArtifact(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}

	switch cfg.Backend {
	case "logistic":
		m, err := NewLogistic(art)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
		}
		logger.Info("model loaded",
			slog.String("backend", "logistic"),
			slog.String("version", m.Version()),
		)
		return m, nil
	case "onnx":
		if art.OnnxModel == "" {
			return nil, fmt.Errorf("%w: artifact has no onnx_model path", domain.ErrModelUnavailable)
		}
		m, err := NewOnnx(art, filepath.Join(baseDir, art.OnnxModel), cfg.OnnxLibrary)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
		}
		logger.Info("model loaded",
			slog.String("backend", "onnx"),
			slog.String("version", m.Version()),
		)
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", domain.ErrModelUnavailable, cfg.Backend)
	}
}
