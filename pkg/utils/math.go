package utils

import "math"

// MatVec returns m·x. Each row of m must have len(x) columns.
func MatVec(m [][]float32, x []float32) []float32 {
	out := make([]float32, len(m))
	for i, row := range m {
		var dot float32
		for j, w := range row {
			dot += w * x[j]
		}
		out[i] = dot
	}
	return out
}

// NormalizeL2 scales x in place to unit L2 norm and returns the norm it had before.
// A zero vector is left unchanged.
func NormalizeL2(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return 0
	}
	norm := math.Sqrt(sum)
	inv := float32(1 / norm)
	for i := range x {
		x[i] *= inv
	}
	return norm
}
