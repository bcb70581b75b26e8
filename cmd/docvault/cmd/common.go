package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docvault/docvault/internal/async"
	"github.com/docvault/docvault/internal/config"
	"github.com/docvault/docvault/internal/coordinator"
	"github.com/docvault/docvault/internal/embedding"
	"github.com/docvault/docvault/internal/generator"
	"github.com/docvault/docvault/internal/output"
	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/sync"
	"github.com/docvault/docvault/internal/ui"
	"github.com/docvault/docvault/internal/watcher"
)

// defaultEmbedderMaxTokens is used when the backend doesn't otherwise
// report its context window; it bounds the context synthesizer's budget
// split (see contextgen.splitBudget).
const defaultEmbedderMaxTokens = 8192

// resolveRoot turns a CLI path argument into an absolute project root,
// walking up for a .git directory or .docvault.yaml the way config.Load
// expects.
func resolveRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(abs)
	if err != nil {
		return abs, nil
	}
	return root, nil
}

// loadConfig resolves root and loads its effective configuration.
func loadConfig(path string) (string, *config.Config, error) {
	root, err := resolveRoot(path)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, fmt.Errorf("load config: %w", err)
	}
	return root, cfg, nil
}

// dataDirFor returns the .docvault directory under root, used for the
// vector store, checkpoints, and any watcher self-exclusion.
func dataDirFor(root string) string {
	return filepath.Join(root, ".docvault")
}

// buildEmbedder constructs an embedding.Port for cfg.Embeddings, wrapping
// the richer embedding.Embedder the core doesn't need to see.
func buildEmbedder(ctx context.Context, cfg *config.Config) (embedding.Port, error) {
	if cfg.Embeddings.OllamaHost != "" {
		os.Setenv("DOCVAULT_OLLAMA_HOST", cfg.Embeddings.OllamaHost)
	}
	provider := embedding.ProviderType(cfg.Embeddings.Service)
	emb, err := embedding.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return embedding.NewPort(emb, string(provider), defaultEmbedderMaxTokens), nil
}

// buildGenerator constructs the optional generator.Port used for
// contextual chunk enrichment; nil when contextual enrichment is disabled.
func buildGenerator(cfg *config.Config) generator.Port {
	if !cfg.Contextual.Enabled {
		return nil
	}
	host := cfg.Embeddings.OllamaHost
	if host == "" {
		host = "http://localhost:11434"
	}
	return generator.NewOllamaPort(host, cfg.Contextual.Timeout)
}

// buildCoordinatorConfig translates a loaded config.Config into the
// coordinator/sync/store/watcher configs the CoordinatorService needs.
func buildCoordinatorConfig(root string, cfg *config.Config, forceReindex bool) coordinator.Config {
	dataDir := dataDirFor(root)

	syncCfg := sync.DefaultConfig(root)
	syncCfg.ExcludeGlobs = append(syncCfg.ExcludeGlobs, cfg.Documents.Exclude...)
	syncCfg.Chunking.ChunkSize = cfg.Chunking.ChunkSize
	syncCfg.Chunking.ChunkOverlap = cfg.Chunking.ChunkOverlap
	syncCfg.Chunking.MinChunkSize = cfg.Chunking.MinChunkSize
	syncCfg.ContextualEnabled = cfg.Contextual.Enabled
	syncCfg.EmbeddingBatchSize = cfg.Embeddings.BatchSize

	storeCfg := store.DefaultConfig(dataDir, 0) // Dimensions is set from the embedder in newCoordinator
	storeCfg.EmbedderModel = cfg.Embeddings.Model
	storeCfg.ForceReindex = forceReindex

	watchOpts := watcher.Options{
		DebounceWindow:  cfg.Watcher.DebounceDelay,
		EventBufferSize: cfg.Watcher.MaxProcessingQueue,
		IgnorePatterns:  cfg.Documents.Exclude,
		StoreDataDir:    dataDir,
		MaxScanDepth:    cfg.Watcher.MaxScanDepth,
	}

	return coordinator.Config{
		RootDir:            root,
		DataDir:            dataDir,
		Sync:               syncCfg,
		Watcher:            watchOpts,
		Store:              storeCfg,
		ContextualModel:    cfg.Contextual.ChunkingModel,
		IngestDrainTimeout: 30 * time.Second,
	}
}

// newCoordinator wires embedder, generator, and config into a ready
// CoordinatorService. Callers must Shutdown it. renderer may be nil, which
// silences reconciliation progress reporting (search/status don't want a
// progress bar from the reconciliation pass Initialize runs underneath them).
func newCoordinator(ctx context.Context, root string, cfg *config.Config, forceReindex bool, renderer ui.Renderer) (*coordinator.CoordinatorService, error) {
	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gen := buildGenerator(cfg)

	coordCfg := buildCoordinatorConfig(root, cfg, forceReindex)
	coordCfg.Store.Dimensions = embedder.Info().Dimensions

	c, err := coordinator.New(coordCfg, coordinator.Dependencies{
		Embedder:  embedder,
		Generator: gen,
		ModelName: cfg.Embeddings.Model,
		Renderer:  renderer,
	})
	if err != nil {
		return nil, fmt.Errorf("build coordinator: %w", err)
	}
	return c, nil
}

// initializeWithLock runs c.Initialize under the data directory's
// indexing.lock, so a second `docvault index`/`watch` against the same
// directory fails fast instead of racing the store's own file lock. Warns,
// rather than fails, when a stale lock from an interrupted prior run is
// found, since the store's own lock (internal/store/lock.go) is the
// authoritative guard against real concurrent access.
func initializeWithLock(ctx context.Context, out *output.Writer, c *coordinator.CoordinatorService, dataDir string) error {
	if async.HasIncompleteLock(dataDir) {
		out.Warning("found an indexing.lock from a previous run that didn't finish cleanly")
	}

	idx := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: dataDir})
	idx.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		progress.SetStage(async.StageIndexing, 0)
		return c.Initialize(ctx)
	}
	idx.Start(ctx)
	return idx.Wait()
}
