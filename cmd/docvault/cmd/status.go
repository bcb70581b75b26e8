package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show index health for a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runStatus(cmd.Context(), cmd, path, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, path string, asJSON bool) error {
	root, cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	dataDir := dataDirFor(root)

	info := ui.StatusInfo{
		ProjectName:       filepath.Base(root),
		EmbedderType:      cfg.Embeddings.Service,
		EmbedderModel:     cfg.Embeddings.Model,
		EmbedderStatus:    "unknown",
		WatcherStatus:     "n/a",
		MetadataSize:      dirSize(filepath.Join(dataDir, "documents.db")),
		BM25Size:          dirSize(filepath.Join(dataDir, "fulltext.bleve")),
		VectorSize:        dirSize(filepath.Join(dataDir, "vectors.hnsw")),
		ConsistencyIssues: -1,
	}

	if _, statErr := os.Stat(dataDir); statErr == nil {
		storeCfg := store.DefaultConfig(dataDir, 0)
		storeCfg.SkipIndexStateCheck = true // read-only introspection, not a real reindex
		vs, openErr := store.Open(ctx, storeCfg)
		if openErr != nil {
			info.EmbedderStatus = "error: " + openErr.Error()
		} else {
			defer func() { _ = vs.Close() }()
			files, listErr := vs.ListFileMetadata(ctx)
			if listErr == nil {
				info.TotalFiles = len(files)
				for _, f := range files {
					if f.ProcessedAt.After(info.LastIndexed) {
						info.LastIndexed = f.ProcessedAt
					}
				}
			}
			if count, countErr := vs.CountDocuments(ctx); countErr == nil {
				info.TotalChunks = count
			}
			if report, consErr := vs.CheckConsistency(ctx); consErr == nil {
				info.ConsistencyIssues = len(report.Issues)
			}
			info.EmbedderStatus = "ready"
		}
	} else {
		info.EmbedderStatus = "no index found"
	}
	info.TotalSize = info.MetadataSize + info.BM25Size + info.VectorSize

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if asJSON {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func dirSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !fi.IsDir() {
		return fi.Size()
	}
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
