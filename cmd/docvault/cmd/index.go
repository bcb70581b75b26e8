package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/coordinator"
	"github.com/docvault/docvault/internal/output"
	"github.com/docvault/docvault/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory and exit",
		Long: `Index scans path (default: current directory), chunks its
documents, generates embeddings, and builds the hybrid search index.

Use --force to clear the existing index and rebuild from scratch
instead of skipping files whose hash hasn't changed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(ctx, cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Clear the existing index and rebuild from scratch")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, force bool) error {
	root, cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithProjectDir(root)))

	c, err := newCoordinator(ctx, root, cfg, force, renderer)
	if err != nil {
		return err
	}

	if err := initializeWithLock(ctx, out, c, dataDirFor(root)); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	result := c.Status(ctx).LastSync
	if force {
		result, err = c.ForceReindex(ctx, coordinator.ForceReindexOptions{ClearCache: true})
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
	}

	if result != nil {
		out.Successf("indexed %s: added=%d changed=%d deleted=%d skipped=%d errors=%d in %s",
			root, result.Added, result.Changed, result.Deleted, result.Skipped, result.Errors, result.Duration)
	}
	return nil
}
