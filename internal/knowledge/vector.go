package knowledge

import "math"

// Normalize scales a vector to unit length (L2 normalization). Index
// vectors are stored normalized, so query vectors must be normalized the
// same way or similarity scores are not comparable. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}

	mag := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}
