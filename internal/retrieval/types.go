// Package retrieval implements hybrid story retrieval: semantic and lexical
// candidate sets are gathered concurrently and fused into a single ranking by
// weighted score combination.
package retrieval

import (
	"context"

	"github.com/storyrank/storyrank/internal/errors"
	"github.com/storyrank/storyrank/internal/store"
)

const (
	// DefaultLimit is the result count when the caller asks for none.
	DefaultLimit = 10

	// MaxLimit caps the result count regardless of what the caller asks for.
	MaxLimit = 100

	// DefaultDepth is how many candidates each leg fetches before fusion.
	DefaultDepth = 20

	// DefaultSemanticWeight and DefaultLexicalWeight are the fusion weights
	// used when the caller does not override them.
	DefaultSemanticWeight = 0.7
	DefaultLexicalWeight  = 0.3
)

// Candidate is one scored entry from a single retrieval leg. RawScore is in
// the leg's native scale (similarity for the vector leg, relevance for the
// lexical leg) and is only comparable within its own set.
type Candidate struct {
	ID       string
	RawScore float64
	Story    store.Story
}

// FusedResult is one entry of the final ranking. SemanticScore and
// LexicalScore are the max-normalized per-leg scores in [0, 1]; a leg that
// did not return the story contributes 0.
type FusedResult struct {
	ID            string      `json:"storyId"`
	Story         store.Story `json:"story"`
	SemanticScore float64     `json:"semanticScore"`
	LexicalScore  float64     `json:"lexicalScore"`
	HybridScore   float64     `json:"hybridScore"`
}

// Weights holds the fusion weights for the two legs.
type Weights struct {
	Semantic float64 `yaml:"semantic" json:"semantic"`
	Lexical  float64 `yaml:"lexical" json:"lexical"`
}

// DefaultWeights returns the standard 70/30 semantic/lexical split.
func DefaultWeights() Weights {
	return Weights{Semantic: DefaultSemanticWeight, Lexical: DefaultLexicalWeight}
}

// Validate rejects negative or all-zero weights.
func (w Weights) Validate() error {
	if w.Semantic < 0 || w.Lexical < 0 {
		return errors.New(errors.ErrCodeInvalidWeights, "fusion weights must be non-negative", nil)
	}
	if w.Semantic == 0 && w.Lexical == 0 {
		return errors.New(errors.ErrCodeInvalidWeights, "at least one fusion weight must be positive", nil)
	}
	return nil
}

// Options controls a single retrieval request.
type Options struct {
	// Limit is the maximum number of fused results. Zero or negative means
	// DefaultLimit; values above MaxLimit are clamped.
	Limit int

	// Weights overrides the engine's configured weights when non-zero.
	Weights *Weights
}

// Config holds engine-level settings.
type Config struct {
	// Depth is the per-leg candidate fetch size (default: DefaultDepth).
	Depth int `yaml:"depth"`

	// Weights are the default fusion weights.
	Weights Weights `yaml:"weights"`
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		Depth:   DefaultDepth,
		Weights: DefaultWeights(),
	}
}

// SemanticSource produces the semantic candidate set for a query.
type SemanticSource interface {
	Retrieve(ctx context.Context, query string, depth int) ([]Candidate, error)
}

// LexicalSource produces the lexical candidate set for a query.
type LexicalSource interface {
	Retrieve(ctx context.Context, query string, depth int) ([]Candidate, error)
}

// clampLimit applies the default and the cap.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
