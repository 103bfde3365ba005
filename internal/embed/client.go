package embed

import (
	"context"
	"math"
)

// EmbedderClient turns description text into fixed-dimension vectors.
// EmbedBatch is the primary entry point: indexing batches every missing
// description of a capture into one call instead of one call per node.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// CosineSimilarity returns a score in [-1, 1]. Zero or empty vectors
// score 0. Mismatched lengths compare the shared prefix.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
