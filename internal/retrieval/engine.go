package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storyrank/storyrank/internal/errors"
)

// Engine orchestrates hybrid retrieval: both legs run concurrently, their
// candidate sets are fused, and the ranking is truncated to the requested
// limit.
type Engine struct {
	semantic SemanticSource
	lexical  LexicalSource
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates an engine over the two retrieval legs. Zero-value config
// fields fall back to defaults.
func NewEngine(semantic SemanticSource, lexical LexicalSource, cfg Config, logger *slog.Logger) (*Engine, error) {
	if semantic == nil || lexical == nil {
		return nil, errors.InternalError("engine requires both retrieval sources", nil)
	}
	if cfg.Depth <= 0 {
		cfg.Depth = DefaultDepth
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		semantic: semantic,
		lexical:  lexical,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Retrieve runs a hybrid retrieval request and returns the fused ranking.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) ([]FusedResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}

	weights := e.cfg.Weights
	if opts.Weights != nil {
		if err := opts.Weights.Validate(); err != nil {
			return nil, err
		}
		weights = *opts.Weights
	}
	limit := clampLimit(opts.Limit)

	start := time.Now()

	var semanticSet, lexicalSet []Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semanticSet, err = e.semantic.Retrieve(gctx, query, e.cfg.Depth)
		return err
	})
	g.Go(func() error {
		var err error
		lexicalSet, err = e.lexical.Retrieve(gctx, query, e.cfg.Depth)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := fuseCandidates(semanticSet, lexicalSet, weights)
	if len(results) > limit {
		results = results[:limit]
	}

	e.logger.Debug("hybrid retrieval complete",
		"query_len", len(query),
		"semantic_candidates", len(semanticSet),
		"lexical_candidates", len(lexicalSet),
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds())

	return results, nil
}
