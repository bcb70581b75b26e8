package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	stdsync "sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docvault/docvault/internal/contextgen"
	"github.com/docvault/docvault/internal/embedding"
	"github.com/docvault/docvault/internal/errors"
	"github.com/docvault/docvault/internal/query"
	"github.com/docvault/docvault/internal/store"
	docsync "github.com/docvault/docvault/internal/sync"
	"github.com/docvault/docvault/internal/watcher"
)

// defaultIngestConcurrency bounds how many distinct fileIds ingest in
// parallel when Config.Sync.IngestConcurrency is unset.
const defaultIngestConcurrency = 4

// CoordinatorService owns every component's lifecycle: wire ports, open the
// store, register the watcher, run the synchronizer, and expose
// ingest/search/status/shutdown as the module's sole external entry point.
type CoordinatorService struct {
	cfg  Config
	deps Dependencies

	store store.VectorStore
	sync  *docsync.Synchronizer
	watch *watcher.HybridWatcher
	qp    *query.Pipeline

	mu         stdsync.RWMutex
	phase      Phase
	lastSync   *docsync.Result
	lastSyncAt time.Time
	lastErr    error

	watchCtx    context.Context
	watchCancel context.CancelFunc
	pumpDone    chan struct{}

	ingestSem   *semaphore.Weighted
	fileLocksMu stdsync.Mutex
	fileLocks   map[string]*stdsync.Mutex

	inflight stdsync.WaitGroup
}

// New builds a CoordinatorService in the uninitialized phase. Call
// Initialize to open its components.
func New(cfg Config, deps Dependencies) (*CoordinatorService, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("RootDir is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("Embedder is required")
	}
	if cfg.Sync.ContextualEnabled && deps.Generator == nil {
		return nil, fmt.Errorf("Generator is required when ContextualEnabled is true")
	}

	concurrency := cfg.Sync.IngestConcurrency
	if concurrency <= 0 {
		concurrency = defaultIngestConcurrency
	}

	return &CoordinatorService{
		cfg:       cfg,
		deps:      deps,
		phase:     PhaseUninitialized,
		ingestSem: semaphore.NewWeighted(int64(concurrency)),
		fileLocks: make(map[string]*stdsync.Mutex),
	}, nil
}

// Initialize opens the store, warms the embedder, builds the query pipeline
// and the synchronizer, runs the first reconciliation pass, and starts the watcher.
// Matches spec §4.9's lifecycle: wire ports -> open store -> warm embedder
// -> register watcher -> run synchronizer -> ready.
func (c *CoordinatorService) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseUninitialized {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already initialized (phase=%s)", c.phase)
	}
	c.phase = PhaseInitializing
	c.mu.Unlock()

	if c.cfg.Store.EmbedderModel == "" {
		c.cfg.Store.EmbedderModel = c.deps.ModelName
	}

	vs, err := store.Open(ctx, c.cfg.Store)
	if err != nil {
		return c.fail(errors.VectorStoreError("failed to open store", err))
	}
	c.store = vs

	if err := embedding.Warm(ctx, c.deps.Embedder); err != nil {
		return c.fail(fmt.Errorf("warm embedder: %w", err))
	}

	qp, err := query.New(vs, c.deps.Embedder)
	if err != nil {
		return c.fail(fmt.Errorf("build query pipeline: %w", err))
	}
	c.qp = qp

	var synth *contextgen.Synthesizer
	if c.cfg.Sync.ContextualEnabled {
		info := c.deps.Embedder.Info()
		synth = contextgen.New(c.deps.Generator, c.cfg.ContextualModel, info.MaxTokens)
	}

	s, err := docsync.New(c.cfg.Sync, docsync.Dependencies{
		Store:     vs,
		Embedder:  c.deps.Embedder,
		Synth:     synth,
		ModelName: c.deps.ModelName,
		Renderer:  c.deps.Renderer,
	})
	if err != nil {
		return c.fail(fmt.Errorf("build synchronizer: %w", err))
	}
	c.sync = s

	opts := c.cfg.Watcher
	opts.StoreDataDir = c.cfg.DataDir
	w, err := watcher.NewHybridWatcher(opts.WithDefaults())
	if err != nil {
		return c.fail(fmt.Errorf("build watcher: %w", err))
	}
	c.watch = w

	result, err := c.sync.Run(ctx)
	if err != nil {
		slog.Warn("initial reconciliation failed", slog.String("error", err.Error()))
	}
	c.mu.Lock()
	c.lastSync = result
	c.lastSyncAt = time.Now()
	c.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.Background())
	c.watchCtx = watchCtx
	c.watchCancel = cancel
	if err := c.watch.Start(watchCtx, c.cfg.RootDir); err != nil {
		cancel()
		return c.fail(fmt.Errorf("start watcher: %w", err))
	}

	c.pumpDone = make(chan struct{})
	go c.pumpEvents(watchCtx)

	c.mu.Lock()
	c.phase = PhaseReady
	c.mu.Unlock()
	return nil
}

func (c *CoordinatorService) fail(err error) error {
	c.mu.Lock()
	c.phase = PhaseError
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// pumpEvents drains the watcher's batched events and dispatches each to
// handleEvent with bounded per-fileId and global ingest concurrency.
func (c *CoordinatorService) pumpEvents(ctx context.Context) {
	defer close(c.pumpDone)
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-c.watch.Events():
			if !ok {
				return
			}
			for _, ev := range batch {
				c.dispatchEvent(ctx, ev)
			}
		case watchErr, ok := <-c.watch.Errors():
			if !ok {
				continue
			}
			slog.Warn("watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// dispatchEvent serializes events for the same path via a per-path lock and
// bounds global parallelism via ingestSem, matching spec §5's ordering
// guarantees.
func (c *CoordinatorService) dispatchEvent(ctx context.Context, ev watcher.FileEvent) {
	if ev.IsDir {
		return
	}
	if ev.Operation == watcher.OpConfigChange {
		slog.Info("config file changed, reconciliation will pick up new excludes on next sync")
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if err := c.ingestSem.Acquire(ctx, 1); err != nil {
			return
		}
		defer c.ingestSem.Release(1)

		lock := c.lockFor(ev.Path)
		lock.Lock()
		defer lock.Unlock()

		var err error
		switch ev.Operation {
		case watcher.OpCreate, watcher.OpModify, watcher.OpRename:
			err = c.sync.Ingest(ctx, filepath.Join(c.cfg.RootDir, ev.Path))
		case watcher.OpDelete:
			err = c.sync.DeletePath(ctx, filepath.Join(c.cfg.RootDir, ev.Path))
		}
		if err != nil {
			slog.Warn("failed to process file event",
				slog.String("path", ev.Path),
				slog.String("operation", ev.Operation.String()),
				slog.String("error", err.Error()))
		}
	}()
}

func (c *CoordinatorService) lockFor(path string) *stdsync.Mutex {
	c.fileLocksMu.Lock()
	defer c.fileLocksMu.Unlock()
	l, ok := c.fileLocks[path]
	if !ok {
		l = &stdsync.Mutex{}
		c.fileLocks[path] = l
	}
	return l
}

// Ingest synchronously ingests or re-ingests a single path, outside of
// watcher event flow.
func (c *CoordinatorService) Ingest(ctx context.Context, path string) error {
	if !c.isReady() {
		return fmt.Errorf("coordinator not ready")
	}
	if err := c.ingestSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.ingestSem.Release(1)

	lock := c.lockFor(path)
	lock.Lock()
	defer lock.Unlock()
	return c.sync.Ingest(ctx, path)
}

// Search runs the query pipeline. Safe to call concurrently with ingests.
func (c *CoordinatorService) Search(ctx context.Context, q string, opts query.Options) (*query.Result, error) {
	if !c.isReady() {
		return nil, fmt.Errorf("coordinator not ready")
	}
	return c.qp.Search(ctx, q, opts)
}

// ListFiles returns the deduplicated-by-fileId view of every file currently
// represented in the store.
func (c *CoordinatorService) ListFiles(ctx context.Context) (map[string]store.FileMetaSnapshot, error) {
	if !c.isReady() {
		return nil, fmt.Errorf("coordinator not ready")
	}
	return c.store.ListFileMetadata(ctx)
}

// ForceReindex re-runs reconciliation, optionally clearing the store first
// so every file is treated as new regardless of its stored hash.
func (c *CoordinatorService) ForceReindex(ctx context.Context, opts ForceReindexOptions) (*docsync.Result, error) {
	if !c.isReady() {
		return nil, fmt.Errorf("coordinator not ready")
	}
	if opts.ClearCache {
		if err := c.store.DeleteAll(ctx); err != nil {
			return nil, fmt.Errorf("clear store: %w", err)
		}
		if err := c.store.ClearCheckpoint(ctx); err != nil {
			return nil, fmt.Errorf("clear checkpoint: %w", err)
		}
	}
	result, err := c.sync.Run(ctx)
	if err != nil {
		return result, err
	}
	c.mu.Lock()
	c.lastSync = result
	c.lastSyncAt = time.Now()
	c.mu.Unlock()
	return result, nil
}

// Status reports the coordinator's current lifecycle phase and the outcome
// of its last reconciliation pass. FilesWatched is a best-effort live count
// from the store; it stays zero if the store isn't open yet or the count
// query fails, since a status report should never itself fail or block on
// an unhealthy store.
func (c *CoordinatorService) Status(ctx context.Context) Status {
	c.mu.RLock()
	st := Status{
		Phase:      c.phase,
		LastSync:   c.lastSync,
		LastSyncAt: c.lastSyncAt,
	}
	if c.lastErr != nil {
		st.Error = c.lastErr.Error()
	}
	if c.watch != nil {
		st.WatcherType = c.watch.WatcherType()
	}
	vs := c.store
	c.mu.RUnlock()

	if vs != nil {
		if files, err := vs.ListFileMetadata(ctx); err == nil {
			st.FilesWatched = len(files)
		}
	}
	return st
}

// Shutdown stops the watcher, drains in-flight ingests up to
// Config.IngestDrainTimeout, then closes the store and releases the
// generator/embedder.
func (c *CoordinatorService) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == PhaseShutdown || c.phase == PhaseUninitialized {
		c.mu.Unlock()
		return nil
	}
	c.phase = PhaseShutdown
	c.mu.Unlock()

	if c.watchCancel != nil {
		c.watchCancel()
	}
	if c.watch != nil {
		if err := c.watch.Stop(); err != nil {
			slog.Warn("watcher stop failed", slog.String("error", err.Error()))
		}
	}
	if c.pumpDone != nil {
		<-c.pumpDone
	}

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(drained)
	}()

	timeout := c.cfg.IngestDrainTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-drained:
	case <-time.After(timeout):
		slog.Warn("shutdown: timed out waiting for in-flight ingests to drain")
	}

	var firstErr error
	if c.deps.Generator != nil {
		if err := c.deps.Generator.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.deps.Embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *CoordinatorService) isReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase == PhaseReady
}
