package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/output"
	"github.com/docvault/docvault/internal/query"
)

type searchOptions struct {
	limit      int
	fileType   string
	searchType string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed directory",
		Long: `Search runs hybrid (BM25 + semantic) search against an index
built by a prior 'docvault index' or 'docvault watch' run.

Examples:
  docvault search "authentication middleware"
  docvault search "setup instructions" --type md --limit 5
  docvault search "error handling" --mode lexical`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, q, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.fileType, "type", "t", "", "Filter by file extension, e.g. md")
	cmd.Flags().StringVarP(&opts.searchType, "mode", "m", "hybrid", "Search mode: hybrid, semantic, lexical")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, q string, opts searchOptions) error {
	root, cfg, err := loadConfig(".")
	if err != nil {
		return err
	}

	c, err := newCoordinator(ctx, root, cfg, false, nil)
	if err != nil {
		return err
	}
	if err := c.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	qopts := query.DefaultOptions()
	qopts.TopK = opts.limit
	if !cmd.Flags().Changed("limit") && cfg.Search.SimilarityTopK > 0 {
		qopts.TopK = cfg.Search.SimilarityTopK
	}
	qopts.ScoreThreshold = cfg.Search.SimilarityThreshold
	qopts.SearchType = query.SearchType(opts.searchType)
	if opts.fileType != "" {
		qopts.FileTypes = []string{strings.TrimPrefix(opts.fileType, ".")}
	}

	result, err := c.Search(ctx, q, qopts)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out := output.New(cmd.OutOrStdout())
	formatHits(out, q, result.Hits)
	return nil
}

func formatHits(out *output.Writer, q string, hits []query.Hit) {
	out.Statusf("🔍", "Found %d results for %q:", len(hits), q)
	out.Newline()

	for i, hit := range hits {
		location := hit.Metadata.FilePath
		out.Statusf("", "%d. %s (chunk %d, score %.3f)", i+1, location, hit.Metadata.ChunkIndex, hit.Score)
		for _, line := range snippetLines(hit.Content, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}
}

func snippetLines(content string, maxLines int) []string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
