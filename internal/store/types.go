// Package store provides the document store interface consumed by retrieval:
// vector similarity search and lexical term-relevance search over stored user
// stories. Two implementations exist: a MongoDB Atlas store (the production
// path) and an embedded bleve+HNSW store for local corpora and tests.
package store

import (
	"context"
	"fmt"
)

// Story is the opaque payload carried through retrieval unmodified.
// Field names mirror the requirements corpus schema.
type Story struct {
	ID                 string `bson:"storyId" json:"storyId"`
	Title              string `bson:"title" json:"title"`
	Content            string `bson:"content" json:"content"`
	AcceptanceCriteria string `bson:"acceptanceCriteria,omitempty" json:"acceptanceCriteria,omitempty"`
	Priority           string `bson:"priority,omitempty" json:"priority,omitempty"`
	Risk               string `bson:"risk,omitempty" json:"risk,omitempty"`
	Status             string `bson:"status,omitempty" json:"status,omitempty"`
	StatusCategory     string `bson:"statusCategory,omitempty" json:"statusCategory,omitempty"`
	ProjectName        string `bson:"projectName,omitempty" json:"projectName,omitempty"`
	ParentSummary      string `bson:"parentSummary,omitempty" json:"parentSummary,omitempty"`
	CreatedDate        string `bson:"createdDate,omitempty" json:"createdDate,omitempty"`
	LastModifiedDate   string `bson:"lastModifiedDate,omitempty" json:"lastModifiedDate,omitempty"`
}

// SemanticHit is one vector-search result: raw score on the store's
// cosine-similarity-like scale.
type SemanticHit struct {
	ID    string
	Score float64
	Story Story
}

// LexicalHit is one term-relevance result: raw score on the store's
// term-frequency-derived scale.
type LexicalHit struct {
	ID    string
	Score float64
	Story Story
}

// DocumentStore is the retrieval-facing store contract. VectorSearch and
// LexicalSearch must be independently invokable; absence of a vector index
// is a recoverable condition (empty result), not a fatal error.
type DocumentStore interface {
	// VectorSearch returns up to k nearest stories to the query embedding.
	VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]SemanticHit, error)

	// LexicalSearch returns up to k stories ranked by term relevance to
	// the query text, best first.
	LexicalSearch(ctx context.Context, queryText string, k int) ([]LexicalHit, error)
}

// ErrDimensionMismatch indicates a query vector with the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
