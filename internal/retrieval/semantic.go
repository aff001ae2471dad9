package retrieval

import (
	"context"
	"log/slog"

	"github.com/storyrank/storyrank/internal/embed"
	"github.com/storyrank/storyrank/internal/store"
)

// StoreSemanticSource runs the vector leg: embed the query, then nearest
// neighbor search against the document store.
//
// This leg soft-fails: an embedding or vector-search error degrades the
// request to lexical-only retrieval instead of failing it. The error is
// logged at WARN and an empty candidate set is returned.
type StoreSemanticSource struct {
	embedder embed.Embedder
	docs     store.DocumentStore
	logger   *slog.Logger
}

var _ SemanticSource = (*StoreSemanticSource)(nil)

// NewStoreSemanticSource creates the vector leg over the given embedder and
// document store.
func NewStoreSemanticSource(embedder embed.Embedder, docs store.DocumentStore, logger *slog.Logger) *StoreSemanticSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSemanticSource{
		embedder: embedder,
		docs:     docs,
		logger:   logger,
	}
}

// Retrieve returns up to depth semantic candidates, best first. Hits without
// a story ID are discarded.
func (s *StoreSemanticSource) Retrieve(ctx context.Context, query string, depth int) ([]Candidate, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, degrading to lexical-only retrieval",
			"model", s.embedder.ModelName(),
			"error", err)
		return []Candidate{}, nil
	}

	hits, err := s.docs.VectorSearch(ctx, vector, depth)
	if err != nil {
		s.logger.Warn("vector search failed, degrading to lexical-only retrieval",
			"error", err)
		return []Candidate{}, nil
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		if hit.ID == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:       hit.ID,
			RawScore: hit.Score,
			Story:    hit.Story,
		})
	}
	return candidates, nil
}
