package embedding

import (
	"context"
	"math"
)

// EmbeddingProvider turns text into a unit-length vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Normalize scales vec to unit length. A zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	magnitude = math.Sqrt(magnitude)
	if magnitude == 0 {
		return vec
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / magnitude)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
