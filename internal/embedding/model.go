// Package embedding provides vision models that turn image tensors into feature vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hyperjump/imgindex/internal/config"
	"github.com/hyperjump/imgindex/internal/preprocess"
)

// ErrWeightsMissing is returned by a Loader when the model weight file does not exist.
var ErrWeightsMissing = errors.New("model weights not found")

// Model produces a feature vector for one preprocessed image.
// A Model is owned by a single worker and need not be safe for concurrent use.
type Model interface {
	Infer(ctx context.Context, input *preprocess.Tensor) ([]float32, error)
	Dimensions() int
	Close() error
}

// Loader creates a fresh Model, reading its weights from disk.
type Loader func() (Model, error)

// Backend names accepted in config.
const (
	BackendONNX = "onnx"
	BackendMock = "mock"
)

// NewLoader returns a Loader for the configured backend. Every backend requires the weight
// file to exist; a missing file yields ErrWeightsMissing from the Loader, not from NewLoader,
// so that each worker discovers it independently.
func NewLoader(cfg config.ModelConfig) (Loader, error) {
	var build func() (Model, error)
	switch cfg.Backend {
	case BackendONNX, "":
		build = func() (Model, error) {
			m, err := NewONNXModel(cfg.WeightsPath, cfg.InputName, cfg.OutputName, cfg.ImageSize, cfg.Dimensions, cfg.RuntimeLibrary)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	case BackendMock:
		build = func() (Model, error) {
			m, err := NewMockModel(cfg.WeightsPath, cfg.Dimensions)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	default:
		return nil, fmt.Errorf("unknown model backend: %s (supported: onnx, mock)", cfg.Backend)
	}
	return func() (Model, error) {
		if err := checkWeights(cfg.WeightsPath); err != nil {
			return nil, err
		}
		return build()
	}, nil
}

func checkWeights(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrWeightsMissing, path)
		}
		return fmt.Errorf("stat weights: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrWeightsMissing, path)
	}
	return nil
}
