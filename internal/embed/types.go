package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32

	DefaultTimeout = 30 * time.Second

	DefaultMaxRetries = 3
)

// StaticDimensions is the embedding dimension produced by the built-in
// hash-based embedder, used when no external embedding service is
// configured and for deterministic tests of the semantic search path.
const StaticDimensions = 256

// Embedder generates vector embeddings for text. It is the seam between
// the Storage Layer's vector store and whatever model produces dense
// vectors for semantic search; semantic search itself is optional (see
// hybrid search source weights), so implementations need not be exact.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Available(ctx context.Context) bool
	Close() error
}

func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
