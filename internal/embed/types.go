// Package embed provides the document encoders used to turn note text
// into fixed-size vectors.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultModelBatchSize is the number of texts sent to the model
	// per inference call. This is the encoder's internal sub-batch
	// size, distinct from the worker's ingestion batch size.
	DefaultModelBatchSize = 16

	// MaxModelBatchSize caps the sub-batch size to prevent memory
	// exhaustion on large vaults.
	MaxModelBatchSize = 256

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second
)

// Static embedder constants.
const (
	// StaticDimensions is the embedding dimension of the hash-based
	// embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for note text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input
	// order. Backends split the input into model-sized sub-batches
	// internally. Failure surfaces as an error for the whole call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
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
