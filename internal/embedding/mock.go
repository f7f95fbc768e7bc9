package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand/v2"
	"os"

	"github.com/hyperjump/imgindex/internal/preprocess"
	"github.com/hyperjump/imgindex/pkg/utils"
)

// poolGrid is the side of the spatial grid the mock model average-pools each channel into.
const poolGrid = 4

// MockModel is a deterministic stand-in for the vision model. It average-pools the input
// tensor into a small grid and projects it with a random matrix seeded from the weight file
// contents, so the same weights and the same image always give the same unit-length vector.
type MockModel struct {
	dimensions int
	projection [][]float32
}

// NewMockModel reads weightsPath to seed the projection and returns a model producing
// vectors of the given dimensions.
func NewMockModel(weightsPath string, dimensions int) (*MockModel, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	f, err := os.Open(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("open weights: %w", err)
	}
	defer f.Close()
	h := fnv.New64a()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	in := 3 * poolGrid * poolGrid
	projection := make([][]float32, dimensions)
	for i := range projection {
		row := make([]float32, in)
		for j := range row {
			row[j] = float32(rng.NormFloat64())
		}
		projection[i] = row
	}
	return &MockModel{dimensions: dimensions, projection: projection}, nil
}

// Infer pools the (1, 3, H, W) tensor and projects it to a normalized feature vector.
func (m *MockModel) Infer(ctx context.Context, input *preprocess.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pooled, err := poolTensor(input)
	if err != nil {
		return nil, err
	}
	out := utils.MatVec(m.projection, pooled)
	if utils.NormalizeL2(out) == 0 {
		return nil, fmt.Errorf("degenerate feature vector")
	}
	return out, nil
}

func poolTensor(t *preprocess.Tensor) ([]float32, error) {
	if t == nil || len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != 3 {
		return nil, fmt.Errorf("unexpected input shape")
	}
	h, w := int(t.Shape[2]), int(t.Shape[3])
	if h < poolGrid || w < poolGrid || len(t.Data) != 3*h*w {
		return nil, fmt.Errorf("input %dx%d too small or inconsistent", h, w)
	}
	pooled := make([]float32, 3*poolGrid*poolGrid)
	counts := make([]int, len(pooled))
	for c := 0; c < 3; c++ {
		base := c * h * w
		for y := 0; y < h; y++ {
			gy := y * poolGrid / h
			for x := 0; x < w; x++ {
				gx := x * poolGrid / w
				k := c*poolGrid*poolGrid + gy*poolGrid + gx
				pooled[k] += t.Data[base+y*w+x]
				counts[k]++
			}
		}
	}
	for i := range pooled {
		pooled[i] /= float32(counts[i])
	}
	return pooled, nil
}

// Dimensions returns the feature dimension.
func (m *MockModel) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MockModel.
func (m *MockModel) Close() error {
	return nil
}
