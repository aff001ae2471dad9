// Package embed provides query and document embedding for semantic
// retrieval. The production embedder calls the remote model provider through
// the request gateway; a static hash-based embedder serves offline use and
// tests.
package embed

import (
	"context"
	"math"
)

// Common embedding constants.
const (
	// DefaultDimensions is the embedding dimension of the default
	// provider model (mistral-embed).
	DefaultDimensions = 1024

	// StaticDimensions is the embedding dimension for the static embedder.
	StaticDimensions = 256

	// DefaultCacheSize is the default number of query embeddings to keep
	// in the LRU cache.
	DefaultCacheSize = 1000
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
