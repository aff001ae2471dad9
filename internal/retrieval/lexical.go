package retrieval

import (
	"context"

	"github.com/storyrank/storyrank/internal/errors"
	"github.com/storyrank/storyrank/internal/store"
)

// StoreLexicalSource runs the lexical leg against the document store's text
// index. Unlike the vector leg, a lexical failure is fatal for the request:
// with both legs gone there is nothing to rank.
type StoreLexicalSource struct {
	docs store.DocumentStore
}

var _ LexicalSource = (*StoreLexicalSource)(nil)

// NewStoreLexicalSource creates the lexical leg over the given store.
func NewStoreLexicalSource(docs store.DocumentStore) *StoreLexicalSource {
	return &StoreLexicalSource{docs: docs}
}

// Retrieve returns up to depth lexical candidates, best first. Hits without
// a story ID are discarded.
func (s *StoreLexicalSource) Retrieve(ctx context.Context, query string, depth int) ([]Candidate, error) {
	hits, err := s.docs.LexicalSearch(ctx, query, depth)
	if err != nil {
		return nil, errors.StoreError("lexical search failed", err)
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
