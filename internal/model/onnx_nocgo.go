//go:build !cgo

package model

import (
	"errors"

	"github.com/riptide-quant/riptide/internal/domain"
)

// errOnnxNoCgo reports that the onnxruntime binding was compiled out.
// The onnx backend wraps a C library, so binaries built with
// CGO_ENABLED=0 cannot open ONNX sessions; callers receive the same
// ErrModelUnavailable degradation as any other unloadable model.
var errOnnxNoCgo = errors.New("onnx backend requires cgo (built with CGO_ENABLED=0)")

// Onnx is a placeholder for the cgo-backed ONNX scorer. Without cgo it
// cannot be constructed; NewOnnx always fails.
type Onnx struct{}

var _ Scorer = (*Onnx)(nil)

// NewOnnx reports the onnx backend as unavailable in cgo-free builds.
func NewOnnx(art *Artifact, modelPath, libraryPath string) (*Onnx, error) {
	return nil, errOnnxNoCgo
}

func (m *Onnx) Score(fv domain.FeatureVector, sig domain.Signal) (domain.ScoredSignal, error) {
	return domain.ScoredSignal{}, errOnnxNoCgo
}

func (m *Onnx) Version() string { return "onnx-unavailable" }

// Close matches the cgo implementation's API; there is nothing to
// release.
func (m *Onnx) Close() error { return nil }
