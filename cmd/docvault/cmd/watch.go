package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/output"
	"github.com/docvault/docvault/internal/ui"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Index a directory and keep watching it for changes",
		Long: `Watch indexes path (default: current directory), then keeps
running, reconciling the index as files are created, modified, renamed,
or deleted, until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runWatch(ctx, cmd, path)
		},
	}
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, path string) error {
	root, cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithProjectDir(root)))

	c, err := newCoordinator(ctx, root, cfg, false, renderer)
	if err != nil {
		return err
	}
	if err := initializeWithLock(ctx, out, c, dataDirFor(root)); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if result := c.Status(ctx).LastSync; result != nil {
		out.Successf("indexed %s: added=%d changed=%d deleted=%d skipped=%d errors=%d in %s",
			root, result.Added, result.Changed, result.Deleted, result.Skipped, result.Errors, result.Duration)
	}
	out.Statusf("👀", "watching %s (ctrl-c to stop)", root)

	<-ctx.Done()
	out.Status("", "shutting down...")
	return c.Shutdown(context.Background())
}
