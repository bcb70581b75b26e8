// Package cmd provides the CLI commands for docvault.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/pkg/version"
)

// debugMode enables verbose structured logging to stderr.
var debugMode bool

// NewRootCmd creates the root command for the docvault CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docvault",
		Short: "Local-first hybrid search over a document directory",
		Long: `docvault indexes a directory of documents and serves hybrid
(BM25 + semantic) search over its contents.

It watches the directory for changes and keeps the index current,
entirely locally with no external services required beyond a local
embedding/generation backend.`,
		Version:           version.Version,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}
	cmd.SetVersionTemplate("docvault version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	level := slog.LevelWarn
	if debugMode {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
