// Package cmd provides the CLI commands for the recall retrieval engine.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cortexlocal/recall/internal/logging"
	"github.com/cortexlocal/recall/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the recall CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recall",
		Short:   "Local-first personal knowledge retrieval engine",
		Version: version.Version,
		Long: `Recall indexes documents and web pages you've ingested and answers
natural-language queries with ranked, relevance-scored passages.

It combines a keyword index, a vector index, a multi-tier cache with
semantic near-hit matching, a cross-encoder reranker, and a staged
retrieval pipeline — all running locally.`,
	}

	cmd.SetVersionTemplate("recall version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.recall/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWarmupCmd())
	cmd.AddCommand(newPrecomputeCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newClearCacheCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(*cobra.Command, []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(*cobra.Command, []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
