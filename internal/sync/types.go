// Package sync implements the Synchronizer: startup/on-demand reconciliation
// between the files on disk and the rows already in the VectorStore.
package sync

import (
	"time"

	"github.com/docvault/docvault/internal/chunk"
	"github.com/docvault/docvault/internal/contextgen"
	"github.com/docvault/docvault/internal/embedding"
	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/ui"
)

// ChangeType classifies one reconciled file against the store.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeChanged ChangeType = "changed"
	ChangeDeleted ChangeType = "deleted"
)

// FileChange is one reconciliation decision, surfaced for logging/status and
// consumed internally by Run to drive ingestion/deletion. Path is the
// on-disk path for Added/Changed; for Deleted it is the last known path,
// kept only for logging, since the authoritative key for deletion is
// FileID.
type FileChange struct {
	Type   ChangeType
	Path   string
	FileID string
	Meta   *FileMeta // nil when Type == ChangeDeleted
}

// FileMeta is the subset of fsmeta.Metadata the Synchronizer compares
// against a stored snapshot; kept separate from fsmeta.Metadata so the
// comparison logic (shouldProcess) takes no filesystem dependency.
type FileMeta struct {
	FileID     string
	Path       string
	Name       string
	Size       int64
	Type       string
	Hash       string
	ModifiedAt time.Time
}

// Result summarizes one Run call.
type Result struct {
	Added    int
	Changed  int
	Deleted  int
	Skipped  int
	Errors   int
	Duration time.Duration
	Resumed  bool
}

// Config bounds a Synchronizer.
type Config struct {
	RootDir string
	// Supported is the closed set of extensions eligible for ingestion,
	// e.g. ".md", ".go". Extensions not in this set are ignored entirely.
	Supported map[string]bool
	// ExcludeGlobs are doublestar patterns matched against paths relative
	// to RootDir, in addition to the built-in dotfile/module-cache rules.
	ExcludeGlobs []string
	// Chunking bounds Chunker output.
	Chunking chunk.Config
	// ContextualEnabled runs every chunk through the ContextSynthesizer
	// before embedding; when false chunks embed their raw content.
	ContextualEnabled bool
	// EmbeddingBatchSize bounds how many chunks are embedded per
	// EmbedDocuments call.
	EmbeddingBatchSize int
	// IngestConcurrency bounds how many distinct fileIds ingest in parallel.
	IngestConcurrency int
}

// DefaultConfig returns spec-default tuning for rootDir.
func DefaultConfig(rootDir string) Config {
	return Config{
		RootDir: rootDir,
		Supported: map[string]bool{
			".txt": true, ".md": true, ".pdf": true, ".docx": true, ".doc": true,
			".rtf": true, ".csv": true, ".json": true, ".xml": true, ".html": true,
			".go": true, ".py": true, ".js": true, ".mjs": true, ".jsx": true,
			".ts": true, ".tsx": true, ".java": true, ".c": true, ".cpp": true,
			".h": true, ".rs": true, ".rb": true,
		},
		ExcludeGlobs: []string{
			"**/node_modules/**", "**/.git/**", "**/vendor/**",
			"**/__pycache__/**", "**/dist/**", "**/build/**",
		},
		Chunking:           chunk.DefaultConfig(),
		ContextualEnabled:  true,
		EmbeddingBatchSize: 32,
		IngestConcurrency:  4,
	}
}

// Dependencies wires a Synchronizer's collaborators.
type Dependencies struct {
	Store     store.VectorStore
	Embedder  embedding.Port
	Synth     *contextgen.Synthesizer // nil disables contextual enrichment regardless of Config.ContextualEnabled
	ModelName string
	// Renderer receives progress/error/completion events for a Run pass.
	// Nil disables reporting entirely; Ingest (single-file, watcher-driven)
	// never reports, since a progress bar makes no sense for one file.
	Renderer ui.Renderer
}
