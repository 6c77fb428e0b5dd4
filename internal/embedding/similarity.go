package embedding

import (
	"fmt"
	"math"
)

// Similarity computes the cosine similarity of two equal-length vectors
// after L2 normalization. A zero-norm input is an explicit error, never a
// silently returned NaN.
func Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrVectorLength, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, ErrZeroVector
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// BatchSimilarity computes the cosine similarity of a query against each
// vector in vectors, in order.
func BatchSimilarity(query []float32, vectors [][]float32) ([]float64, error) {
	scores := make([]float64, len(vectors))
	for i, vec := range vectors {
		score, err := Similarity(query, vec)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		scores[i] = score
	}
	return scores, nil
}
