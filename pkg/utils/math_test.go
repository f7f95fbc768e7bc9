package utils

import (
	"math"
	"testing"
)

func TestMatVec(t *testing.T) {
	m := [][]float32{{1, 0, 2}, {0, 1, -1}}
	got := MatVec(m, []float32{3, 4, 5})
	if len(got) != 2 || got[0] != 13 || got[1] != -1 {
		t.Errorf("got %v, want [13 -1]", got)
	}
	if out := MatVec(nil, []float32{1}); len(out) != 0 {
		t.Errorf("empty matrix: got %v", out)
	}
}

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	if norm := NormalizeL2(x); math.Abs(norm-5) > 1e-9 {
		t.Errorf("norm = %v, want 5", norm)
	}
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v, want [0.6 0.8]", x)
	}

	zero := []float32{0, 0}
	if norm := NormalizeL2(zero); norm != 0 {
		t.Errorf("zero vector norm = %v", norm)
	}
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector should be unchanged, got %v", zero)
	}
}
