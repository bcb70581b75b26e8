package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, dims int) Config {
	t.Helper()
	cfg := DefaultConfig(t.TempDir(), dims)
	cfg.Timeouts = Timeouts{Connect: 5 * time.Second, Read: 5 * time.Second, Embedding: 5 * time.Second, Search: 5 * time.Second}
	return cfg
}

func record(id, fileID, content string, vec []float32) Record {
	now := time.Now()
	return Record{
		ID:      id,
		Vector:  vec,
		Content: content,
		Metadata: Metadata{
			FileID: fileID, FileName: fileID + ".go", FilePath: "/" + fileID + ".go",
			FileSize: int64(len(content)), FileType: "code", FileHash: "h-" + fileID,
			ChunkIndex: 0, TotalChunks: 1,
			CreatedAt: now, ModifiedAt: now, ProcessedAt: now,
			SourceType: "file", Status: "active",
		},
	}
}

func TestDocumentStore_AddAndVectorSearch(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 3))
	require.NoError(t, err)
	defer s.Close()

	err = s.Add(ctx, []Record{
		record("a", "f1", "alpha function implementation", []float32{1, 0, 0}),
		record("b", "f2", "beta function implementation", []float32{0, 1, 0}),
	})
	require.NoError(t, err)

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0}, VectorSearchOptions{TopK: 2})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
}

func TestDocumentStore_AddDropsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 3))
	require.NoError(t, err)
	defer s.Close()

	err = s.Add(ctx, []Record{
		record("good", "f1", "ok content", []float32{1, 0, 0}),
		record("bad", "f1", "wrong dims", []float32{1, 0}),
	})
	require.NoError(t, err) // dropped, not failed

	meta, err := s.ListFileMetadata(ctx)
	require.NoError(t, err)
	_, hasGood := meta["f1"]
	assert.True(t, hasGood)
}

func TestDocumentStore_LexicalSearch(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 2))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, []Record{
		record("doc1", "f1", "the quick brown fox jumps", []float32{1, 0}),
		record("doc2", "f2", "an unrelated sentence about cats", []float32{0, 1}),
	}))

	results, err := s.LexicalSearch(ctx, "fox", LexicalSearchOptions{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc1", results[0].ID)
}

func TestDocumentStore_DeleteByFileID(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 2))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, []Record{
		record("c1", "fileX", "chunk one", []float32{1, 0}),
		record("c2", "fileX", "chunk two", []float32{0, 1}),
	}))

	require.NoError(t, s.DeleteByFileID(ctx, "fileX"))

	meta, err := s.ListFileMetadata(ctx)
	require.NoError(t, err)
	_, exists := meta["fileX"]
	assert.False(t, exists)
}

func TestDocumentStore_ListFileMetadata_DedupesByGreatestProcessedAt(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 2))
	require.NoError(t, err)
	defer s.Close()

	older := record("v1", "fileY", "version one", []float32{1, 0})
	older.Metadata.ProcessedAt = time.Now().Add(-time.Hour)
	older.Metadata.FileHash = "old-hash"

	newer := record("v2", "fileY", "version two", []float32{0, 1})
	newer.Metadata.ProcessedAt = time.Now()
	newer.Metadata.FileHash = "new-hash"

	require.NoError(t, s.Add(ctx, []Record{older, newer}))

	meta, err := s.ListFileMetadata(ctx)
	require.NoError(t, err)
	snap, ok := meta["fileY"]
	require.True(t, ok)
	assert.Equal(t, "new-hash", snap.FileHash)
}

func TestDocumentStore_DeleteAll(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 2))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, []Record{record("x", "f1", "content", []float32{1, 0})}))
	require.NoError(t, s.DeleteAll(ctx))

	meta, err := s.ListFileMetadata(ctx)
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestDocumentStore_StateRoundTrips(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 2))
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.GetState(ctx, "arbitrary.key")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetState(ctx, "arbitrary.key", "nomic-embed-text"))
	value, ok, err := s.GetState(ctx, "arbitrary.key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "nomic-embed-text", value)
}

func TestDocumentStore_Open_RecordsIndexStateOnFirstOpen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)
	cfg.EmbedderModel = "nomic-embed-text"

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	dim, ok, err := s.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", dim)

	model, ok, err := s.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "nomic-embed-text", model)
}

func TestDocumentStore_Open_RejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	cfg := DefaultConfig(dataDir, 2)
	cfg.EmbedderModel = "nomic-embed-text"
	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	mismatched := DefaultConfig(dataDir, 4)
	mismatched.EmbedderModel = "nomic-embed-text"
	_, err = Open(ctx, mismatched)
	require.Error(t, err)
	var mismatchErr *ErrIndexStateMismatch
	require.ErrorAs(t, err, &mismatchErr)
	assert.Equal(t, 2, mismatchErr.StoredDimension)
	assert.Equal(t, 4, mismatchErr.WantDimension)
}

func TestDocumentStore_Open_RejectsModelMismatch(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	cfg := DefaultConfig(dataDir, 2)
	cfg.EmbedderModel = "nomic-embed-text"
	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	mismatched := DefaultConfig(dataDir, 2)
	mismatched.EmbedderModel = "mxbai-embed-large"
	_, err = Open(ctx, mismatched)
	require.Error(t, err)
	assert.IsType(t, &ErrIndexStateMismatch{}, err)
}

func TestDocumentStore_Open_ForceReindexBypassesAndReRecords(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	cfg := DefaultConfig(dataDir, 2)
	cfg.EmbedderModel = "nomic-embed-text"
	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	forced := DefaultConfig(dataDir, 4)
	forced.EmbedderModel = "mxbai-embed-large"
	forced.ForceReindex = true
	s2, err := Open(ctx, forced)
	require.NoError(t, err)
	defer s2.Close()

	model, ok, err := s2.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mxbai-embed-large", model)
}

func TestDocumentStore_Open_SkipIndexStateCheckIgnoresMismatch(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	cfg := DefaultConfig(dataDir, 2)
	cfg.EmbedderModel = "nomic-embed-text"
	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	readOnly := DefaultConfig(dataDir, 0)
	readOnly.SkipIndexStateCheck = true
	s2, err := Open(ctx, readOnly)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestDocumentStore_CheckpointSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 2))
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	cp := Checkpoint{Stage: "embedding", Total: 100, Embedded: 42, EmbedderModel: "nomic-embed-text"}
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	loaded, ok, err := s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cp, loaded)

	require.NoError(t, s.ClearCheckpoint(ctx))
	_, ok, err = s.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDocumentStore_CheckConsistency_CleanStoreHasNoIssues(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 2))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, []Record{record("a", "f1", "consistent content", []float32{1, 0})}))

	report, err := s.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
}

func TestDocumentStore_CheckConsistency_DetectsOrphanVector(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t, 2))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, []Record{record("a", "f1", "content", []float32{1, 0})}))
	require.NoError(t, s.vec.upsert("ghost", []float32{0, 1}))

	report, err := s.CheckConsistency(ctx)
	require.NoError(t, err)

	found := false
	for _, issue := range report.Issues {
		if issue.Kind == IssueOrphanVector && issue.ID == "ghost" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDocumentStore_ReopenPreservesVectorSearch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 2)

	s1, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s1.Add(ctx, []Record{record("r1", "f1", "persisted chunk", []float32{1, 0})}))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s2.Close()

	results, err := s2.VectorSearch(ctx, []float32{1, 0}, VectorSearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].ID)
}
