package embedding

import "math"

// normEpsilon keeps near-zero norms from blowing the result up.
const normEpsilon = 1e-12

// Normalize scales v to unit L2 length when enabled. A zero vector is
// returned unchanged. The input slice is never modified.
func Normalize(v []float32, enabled bool) []float32 {
	if !enabled {
		return v
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum) + normEpsilon
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// NormalizeAll applies Normalize to every vector.
func NormalizeAll(vs [][]float32, enabled bool) [][]float32 {
	if !enabled {
		return vs
	}
	out := make([][]float32, len(vs))
	for i, v := range vs {
		out[i] = Normalize(v, true)
	}
	return out
}
