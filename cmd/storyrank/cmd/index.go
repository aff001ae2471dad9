package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyrank/storyrank/internal/config"
	"github.com/storyrank/storyrank/internal/store"
)

// embedBatchSize bounds memory while embedding large corpora.
const embedBatchSize = 32

func newIndexCmd() *cobra.Command {
	var indexPath string

	cmd := &cobra.Command{
		Use:   "index <corpus.json>",
		Short: "Build a local story index from a JSON corpus",
		Long: `Build a local story index from a JSON corpus.

The corpus is a JSON array of story objects. Each story is embedded and
written to the embedded index (bleve for lexical search, HNSW for vector
search), making offline retrieval possible without a MongoDB Atlas
connection.

Examples:
  storyrank index stories.json
  storyrank index stories.json --path .storyrank/index`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args[0], indexPath)
		},
	}

	cmd.Flags().StringVar(&indexPath, "path", "", "Index directory (default: store.path from config)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, corpusPath, indexPath string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	// The index command always targets the embedded backend.
	cfg.Store.Backend = "embedded"
	if indexPath != "" {
		cfg.Store.Path = indexPath
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = ".storyrank/index"
	}

	stories, err := loadCorpus(corpusPath)
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		return fmt.Errorf("corpus %s contains no stories", corpusPath)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}

	es, err := store.NewEmbeddedStore(store.EmbeddedConfig{
		Path:       cfg.Store.Path,
		Dimensions: embedder.Dimensions(),
	})
	if err != nil {
		return err
	}
	defer es.Close()

	slog.Info("index_started",
		slog.String("corpus", corpusPath),
		slog.Int("stories", len(stories)),
		slog.String("embedder", embedder.ModelName()))
	start := time.Now()

	for i := 0; i < len(stories); i += embedBatchSize {
		end := i + embedBatchSize
		if end > len(stories) {
			end = len(stories)
		}
		batch := stories[i:end]

		texts := make([]string, len(batch))
		for j, s := range batch {
			texts[j] = storyEmbeddingText(s)
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed stories %d-%d: %w", i, end-1, err)
		}
		if err := es.Index(ctx, batch, vectors); err != nil {
			return err
		}
	}

	if err := es.Save(); err != nil {
		return err
	}

	slog.Info("index_complete",
		slog.Int("stories", es.Count()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d stories to %s in %s\n",
		es.Count(), cfg.Store.Path, time.Since(start).Round(time.Millisecond))
	return nil
}

// loadCorpus reads a JSON array of stories.
func loadCorpus(path string) ([]store.Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}

	var stories []store.Story
	if err := json.Unmarshal(data, &stories); err != nil {
		return nil, fmt.Errorf("failed to parse corpus file %s: %w", path, err)
	}
	return stories, nil
}

// storyEmbeddingText builds the text a story is embedded under.
func storyEmbeddingText(s store.Story) string {
	parts := make([]string, 0, 3)
	if s.Title != "" {
		parts = append(parts, s.Title)
	}
	if s.Content != "" {
		parts = append(parts, s.Content)
	}
	if s.AcceptanceCriteria != "" {
		parts = append(parts, s.AcceptanceCriteria)
	}
	return strings.Join(parts, "\n")
}
