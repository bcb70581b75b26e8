package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/docvault/internal/embedding"
	"github.com/docvault/docvault/internal/query"
	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/sync"
	"github.com/docvault/docvault/internal/watcher"
)

type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.vector(text), nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Info() embedding.Info {
	return embedding.Info{Service: "fake", Model: "fake-model", Dimensions: f.dims, MaxTokens: 8192}
}

func (f *fakeEmbedder) Close() error { return nil }

func (f *fakeEmbedder) vector(text string) []float32 {
	v := make([]float32, f.dims)
	for i := range v {
		v[i] = float32(len(text)+i) + 1
	}
	return v
}

func newTestCoordinator(t *testing.T) (*CoordinatorService, string) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(t.TempDir(), "store")

	syncCfg := sync.DefaultConfig(root)
	storeCfg := store.DefaultConfig(dataDir, 4)
	storeCfg.Timeouts = store.Timeouts{Connect: 5 * time.Second, Read: 5 * time.Second, Embedding: 5 * time.Second, Search: 5 * time.Second}

	cfg := Config{
		RootDir:            root,
		DataDir:            dataDir,
		Sync:               syncCfg,
		Watcher:            watcher.Options{DebounceWindow: 50 * time.Millisecond},
		Store:              storeCfg,
		IngestDrainTimeout: 2 * time.Second,
	}
	deps := Dependencies{Embedder: &fakeEmbedder{dims: 4}, ModelName: "fake-model"}

	c, err := New(cfg, deps)
	require.NoError(t, err)
	return c, root
}

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New(Config{RootDir: "/tmp"}, Dependencies{})
	assert.Error(t, err)
}

func TestNew_RequiresGeneratorWhenContextualEnabled(t *testing.T) {
	cfg := Config{RootDir: "/tmp", Sync: sync.Config{ContextualEnabled: true}}
	_, err := New(cfg, Dependencies{Embedder: &fakeEmbedder{dims: 4}})
	assert.Error(t, err)
}

func TestInitialize_IndexesExistingFilesAndBecomesReady(t *testing.T) {
	c, root := newTestCoordinator(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.md"), []byte("# Hello\n\nThis is a widget factory document."), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Initialize(ctx))
	defer func() { _ = c.Shutdown(context.Background()) }()

	status := c.Status(ctx)
	assert.Equal(t, PhaseReady, status.Phase)
	assert.Equal(t, 1, status.FilesWatched)

	files, err := c.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestInitialize_TwiceErrors(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))
	defer func() { _ = c.Shutdown(context.Background()) }()

	err := c.Initialize(ctx)
	assert.Error(t, err)
}

func TestSearch_BeforeInitialize_Errors(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Search(context.Background(), "widgets", query.DefaultOptions())
	assert.Error(t, err)
}

func TestSearch_AfterInitialize_FindsIngestedContent(t *testing.T) {
	c, root := newTestCoordinator(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.md"), []byte("Widgets are useful manufacturing tools."), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Initialize(ctx))
	defer func() { _ = c.Shutdown(context.Background()) }()

	result, err := c.Search(ctx, "widgets", query.Options{SearchType: query.SearchLexical, TopK: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Hits)
}

func TestForceReindex_ClearCacheDropsExistingRows(t *testing.T) {
	c, root := newTestCoordinator(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.md"), []byte("widgets and gadgets"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Initialize(ctx))
	defer func() { _ = c.Shutdown(context.Background()) }()

	result, err := c.ForceReindex(ctx, ForceReindexOptions{ClearCache: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
}

func TestShutdown_IsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, PhaseShutdown, c.Status(ctx).Phase)
}

func TestShutdown_BeforeInitialize_NoOp(t *testing.T) {
	c, _ := newTestCoordinator(t)
	assert.NoError(t, c.Shutdown(context.Background()))
}
