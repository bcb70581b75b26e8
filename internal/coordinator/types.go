// Package coordinator implements the CoordinatorService: the public
// façade that owns every component's lifecycle and is the sole external
// entry point for ingest, search, status, and shutdown.
package coordinator

import (
	"time"

	"github.com/docvault/docvault/internal/embedding"
	"github.com/docvault/docvault/internal/generator"
	"github.com/docvault/docvault/internal/query"
	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/sync"
	"github.com/docvault/docvault/internal/ui"
	"github.com/docvault/docvault/internal/watcher"
)

// Phase describes which lifecycle stage the coordinator is in.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseReady         Phase = "ready"
	PhaseError         Phase = "error"
	PhaseShutdown      Phase = "shutdown"
)

// Config bounds the CoordinatorService's components.
type Config struct {
	// RootDir is the watched document root.
	RootDir string
	// DataDir holds the vector store's on-disk files; always excluded from
	// watching and scanning.
	DataDir string
	Sync    sync.Config
	Watcher watcher.Options
	Store   store.Config
	// ContextualModel is passed to the GeneratorPort when Sync.ContextualEnabled
	// is true (config's contextual.chunking_model).
	ContextualModel string
	// IngestDrainTimeout bounds how long Shutdown waits for in-flight
	// ingests to finish before closing the store anyway.
	IngestDrainTimeout time.Duration
}

// Dependencies wires the CoordinatorService's collaborators. All fields are
// required except Generator and Renderer. Generator is optional
// (ContextualEnabled in Config.Sync must be false when Generator is nil);
// Renderer may be nil, see below.
type Dependencies struct {
	Embedder  embedding.Port
	Generator generator.Port
	ModelName string
	// Renderer receives reconciliation progress events from every Run pass
	// (Initialize's first pass and any ForceReindex). Nil means silent.
	Renderer ui.Renderer
}

// Status is the snapshot returned by Status().
type Status struct {
	Phase        Phase
	WatcherType  string
	FilesWatched int
	LastSyncAt   time.Time
	LastSync     *sync.Result
	Error        string
}

// ForceReindexOptions configures forceReindex.
type ForceReindexOptions struct {
	// ClearCache drops all existing rows before rescanning, instead of
	// relying on hash comparison to skip unchanged files.
	ClearCache bool
}

// SearchOptions re-exports query.Options so callers only import coordinator.
type SearchOptions = query.Options

// SearchResult re-exports query.Result so callers only import coordinator.
type SearchResult = query.Result
