// Package cmd provides the CLI commands for storyrank.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/storyrank/storyrank/internal/logging"
	"github.com/storyrank/storyrank/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the storyrank CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storyrank",
		Short: "Hybrid retrieval over healthcare user stories",
		Long: `storyrank ranks user stories with hybrid retrieval: a semantic
vector search and a lexical text search run side by side and their
candidate sets are fused into a single weighted ranking.

Connects to a MongoDB Atlas corpus by default, or works fully offline
against a local index built with 'storyrank index'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("storyrank version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newRetrieveCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging configures the global slog logger before any command runs.
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}
	if v := os.Getenv("STORYRANK_LOG_LEVEL"); v != "" {
		cfg.Level = v
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
