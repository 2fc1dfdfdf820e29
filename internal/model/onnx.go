//go:build cgo

package model

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/riptide-quant/riptide/internal/domain"
)

// ortInit guards the process-wide ONNX runtime environment. The
// runtime can only be initialized once per process.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath == "" {
			libraryPath = defaultOnnxLibrary()
		}
		ort.SetSharedLibraryPath(libraryPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

func defaultOnnxLibrary() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "/usr/lib/libonnxruntime.so"
	}
}

// Onnx scores signals through an ONNX session. The model takes one
// [1, n] float32 tensor of standardized inputs and produces a [1, 1]
// raw probability; calibration then runs in Go, identically to the
// logistic backend. The session's tensors are reused between runs, so
// Score serializes callers.
type Onnx struct {
	art     *Artifact
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

var _ Scorer = (*Onnx)(nil)

// NewOnnx opens an ONNX session for the artifact's model file.
func NewOnnx(art *Artifact, modelPath, libraryPath string) (*Onnx, error) {
	if err := initRuntime(libraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	n := len(art.Features)
	input, err := ort.NewTensor(ort.NewShape(1, int64(n)), make([]float32, n))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("open onnx session %s: %w", modelPath, err)
	}

	return &Onnx{art: art, session: session, input: input, output: output}, nil
}

func (m *Onnx) Score(fv domain.FeatureVector, sig domain.Signal) (domain.ScoredSignal, error) {
	row := inputRow(fv, sig)
	if len(row) != len(m.art.Features) {
		return domain.ScoredSignal{}, fmt.Errorf("onnx %s: got %d inputs, artifact expects %d",
			m.art.Version, len(row), len(m.art.Features))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.input.GetData()
	for i, v := range row {
		data[i] = float32(m.art.standardize(i, v))
	}
	if err := m.session.Run(); err != nil {
		return domain.ScoredSignal{}, fmt.Errorf("onnx %s: inference: %w", m.art.Version, err)
	}
	raw := float64(m.output.GetData()[0])

	return domain.ScoredSignal{
		Signal:       sig,
		Confidence:   m.art.Calibrate(raw),
		ModelVersion: m.art.Version,
	}, nil
}

func (m *Onnx) Version() string { return m.art.Version }

// Close releases the session and its tensors.
func (m *Onnx) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	if m.input != nil {
		m.input.Destroy()
		m.input = nil
	}
	if m.output != nil {
		m.output.Destroy()
		m.output = nil
	}
	return nil
}
