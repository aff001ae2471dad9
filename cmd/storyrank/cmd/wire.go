package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyrank/storyrank/internal/config"
	"github.com/storyrank/storyrank/internal/embed"
	"github.com/storyrank/storyrank/internal/gateway"
	"github.com/storyrank/storyrank/internal/provider"
	"github.com/storyrank/storyrank/internal/retrieval"
	"github.com/storyrank/storyrank/internal/store"
)

// stack holds the wired components for one CLI invocation.
type stack struct {
	cfg      *config.Config
	embedder embed.Embedder
	docs     store.DocumentStore
	engine   *retrieval.Engine
	closers  []func() error
}

// Close releases store connections in reverse wiring order.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// buildStack wires embedder, document store, and retrieval engine from the
// loaded configuration.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	s := &stack{cfg: cfg}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	s.embedder = embedder

	docs, closer, err := buildDocumentStore(ctx, cfg, embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	s.docs = docs
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	engine, err := retrieval.NewEngine(
		retrieval.NewStoreSemanticSource(embedder, docs, nil),
		retrieval.NewStoreLexicalSource(docs),
		retrieval.Config{
			Depth: cfg.Retrieval.Depth,
			Weights: retrieval.Weights{
				Semantic: cfg.Retrieval.SemanticWeight,
				Lexical:  cfg.Retrieval.LexicalWeight,
			},
		},
		nil,
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.engine = engine

	return s, nil
}

// buildEmbedder creates the configured embedder wrapped in an LRU cache.
func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	var inner embed.Embedder
	switch strings.ToLower(cfg.Embeddings.Provider) {
	case "static":
		inner = embed.NewStaticEmbedder()
	case "mistral":
		gw := gateway.New(gateway.Config{
			MinInterval:    cfg.Provider.MinInterval,
			MaxRetries:     cfg.Provider.MaxRetries,
			BaseRetryDelay: cfg.Provider.BaseRetryDelay,
		})
		client, err := provider.NewClient(provider.Config{
			BaseURL:         cfg.Provider.BaseURL,
			APIKey:          cfg.Provider.APIKey,
			EmbeddingModel:  cfg.Embeddings.Model,
			CompletionModel: cfg.Provider.CompletionModel,
		}, gw)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider client (set MISTRAL_API_KEY or use embeddings.provider: static): %w", err)
		}
		inner = client
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.Embeddings.Provider)
	}

	return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
}

// buildDocumentStore creates the configured store backend. The returned
// closer is nil when the store needs no teardown.
func buildDocumentStore(ctx context.Context, cfg *config.Config, dims int) (store.DocumentStore, func() error, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case "embedded":
		if cfg.Embeddings.Dimensions != 0 {
			dims = cfg.Embeddings.Dimensions
		}
		es, err := store.NewEmbeddedStore(store.EmbeddedConfig{
			Path:       cfg.Store.Path,
			Dimensions: dims,
		})
		if err != nil {
			return nil, nil, err
		}
		return es, es.Close, nil
	case "mongo":
		ms, err := store.NewMongoStore(ctx, store.MongoConfig{
			URI:         cfg.Store.URI,
			Database:    cfg.Store.Database,
			Collection:  cfg.Store.Collection,
			VectorIndex: cfg.Store.VectorIndex,
		})
		if err != nil {
			return nil, nil, err
		}
		return ms, func() error { return ms.Close(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
