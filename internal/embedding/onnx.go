//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/imgindex/internal/preprocess"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime initializes the process-wide ONNX Runtime environment exactly once.
func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	})
	return ortInitErr
}

// ONNXModel runs a vision transformer exported to ONNX. Input is a (1, 3, S, S) float32
// tensor, output a (1, D) float32 embedding. It requires CGO and the onnxruntime shared library.
// A model is not safe for concurrent use; each batch worker loads its own.
type ONNXModel struct {
	session    *ort.AdvancedSession
	dimensions int
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXModel creates a session for the model at modelPath with fixed input and output shapes.
func NewONNXModel(modelPath, inputName, outputName string, imageSize, dimensions int, libraryPath string) (*ONNXModel, error) {
	if imageSize <= 0 || dimensions <= 0 {
		return nil, fmt.Errorf("image size and dimensions must be positive")
	}
	if err := initRuntime(libraryPath); err != nil {
		return nil, err
	}

	inputData := make([]float32, 3*imageSize*imageSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(imageSize), int64(imageSize)), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputData := make([]float32, dimensions)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXModel{
		session:      session,
		dimensions:   dimensions,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Infer copies input into the session's input tensor, runs the model and returns a copy
// of the output embedding.
func (m *ONNXModel) Infer(ctx context.Context, input *preprocess.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.session == nil {
		return nil, fmt.Errorf("model is closed")
	}
	dst := m.inputTensor.GetData()
	if input == nil || len(input.Data) != len(dst) {
		return nil, fmt.Errorf("input size mismatch: got %d, expected %d", tensorLen(input), len(dst))
	}
	copy(dst, input.Data)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := m.outputTensor.GetData()
	embedding := make([]float32, m.dimensions)
	copy(embedding, outputData[:m.dimensions])
	return embedding, nil
}

func tensorLen(t *preprocess.Tensor) int {
	if t == nil {
		return 0
	}
	return len(t.Data)
}

// Dimensions returns the embedding dimension.
func (m *ONNXModel) Dimensions() int {
	return m.dimensions
}

// Close destroys the session and tensors.
func (m *ONNXModel) Close() error {
	var err error
	if m.session != nil {
		err = m.session.Destroy()
		m.session = nil
	}
	if m.inputTensor != nil {
		_ = m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		_ = m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	return err
}
