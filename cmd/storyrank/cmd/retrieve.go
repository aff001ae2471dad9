package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storyrank/storyrank/internal/config"
	"github.com/storyrank/storyrank/internal/retrieval"
)

// retrieveOptions holds CLI flags for retrieve.
type retrieveOptions struct {
	limit          int
	semanticWeight float64
	lexicalWeight  float64
	format         string // "text", "json"
}

func newRetrieveCmd() *cobra.Command {
	var opts retrieveOptions

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Rank stories against a query with hybrid retrieval",
		Long: `Rank stories against a query using hybrid retrieval.

Semantic (embedding) and lexical (text index) searches run concurrently
and their candidate sets are fused into one weighted ranking.

Examples:
  storyrank retrieve "patient appointment reminders"
  storyrank retrieve "lab results" --limit 5
  storyrank retrieve "triage workflow" --semantic-weight 0.5 --lexical-weight 0.5
  storyrank retrieve "medication alerts" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runRetrieve(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 = default)")
	cmd.Flags().Float64Var(&opts.semanticWeight, "semantic-weight", -1, "Semantic fusion weight (overrides config)")
	cmd.Flags().Float64Var(&opts.lexicalWeight, "lexical-weight", -1, "Lexical fusion weight (overrides config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runRetrieve(ctx context.Context, cmd *cobra.Command, query string, opts retrieveOptions) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	slog.Info("retrieve_started", slog.String("query", query), slog.Int("limit", opts.limit))

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	limit := opts.limit
	if limit == 0 {
		limit = cfg.Retrieval.DefaultLimit
	}
	engineOpts := retrieval.Options{Limit: limit}
	if opts.semanticWeight >= 0 || opts.lexicalWeight >= 0 {
		weights := retrieval.Weights{
			Semantic: cfg.Retrieval.SemanticWeight,
			Lexical:  cfg.Retrieval.LexicalWeight,
		}
		if opts.semanticWeight >= 0 {
			weights.Semantic = opts.semanticWeight
		}
		if opts.lexicalWeight >= 0 {
			weights.Lexical = opts.lexicalWeight
		}
		engineOpts.Weights = &weights
	}

	results, err := st.engine.Retrieve(ctx, query, engineOpts)
	if err != nil {
		return err
	}

	slog.Info("retrieve_complete", slog.Int("results", len(results)))
	return formatResults(cmd, query, results, opts.format)
}

// formatResults renders the fused ranking as text or JSON.
func formatResults(cmd *cobra.Command, query string, results []retrieval.FusedResult, format string) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintf(out, "No stories found for %q\n", query)
		return nil
	}

	fmt.Fprintf(out, "Top %d stories for %q:\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(out, "%2d. [%s] %s\n", i+1, r.ID, r.Story.Title)
		fmt.Fprintf(out, "    hybrid: %.4f  (semantic: %.4f, lexical: %.4f)\n",
			r.HybridScore, r.SemanticScore, r.LexicalScore)
		if r.Story.ProjectName != "" {
			fmt.Fprintf(out, "    project: %s\n", r.Story.ProjectName)
		}
	}
	return nil
}
