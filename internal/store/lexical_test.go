package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalIndex_UpsertAndSearch(t *testing.T) {
	idx, err := openLexicalIndex(t.TempDir())
	require.NoError(t, err)
	defer idx.close()

	require.NoError(t, idx.upsertBatch(
		[]string{"doc1", "doc2"},
		[]string{"the quick brown fox jumps over the lazy dog", "an unrelated sentence about cats"},
	))

	hits, err := idx.search(context.Background(), "fox", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc1", hits[0].ID)
}

func TestLexicalIndex_CodeTokenizerSplitsCamelCase(t *testing.T) {
	idx, err := openLexicalIndex(t.TempDir())
	require.NoError(t, err)
	defer idx.close()

	require.NoError(t, idx.upsertBatch([]string{"doc1"}, []string{"func getUserById(id int) error"}))

	hits, err := idx.search(context.Background(), "user", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestLexicalIndex_StopWordsExcludedFromMatching(t *testing.T) {
	idx, err := openLexicalIndex(t.TempDir())
	require.NoError(t, err)
	defer idx.close()

	require.NoError(t, idx.upsertBatch([]string{"doc1"}, []string{"func compute(a, b int) int { return a + b }"}))

	hits, err := idx.search(context.Background(), "func", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalIndex_DeleteBatchRemovesDocument(t *testing.T) {
	idx, err := openLexicalIndex(t.TempDir())
	require.NoError(t, err)
	defer idx.close()

	require.NoError(t, idx.upsertBatch([]string{"doc1"}, []string{"alpha beta gamma"}))
	require.NoError(t, idx.deleteBatch([]string{"doc1"}))

	hits, err := idx.search(context.Background(), "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalIndex_DeleteAllResetsIndex(t *testing.T) {
	dir := t.TempDir()
	idx, err := openLexicalIndex(dir)
	require.NoError(t, err)
	defer idx.close()

	require.NoError(t, idx.upsertBatch([]string{"doc1"}, []string{"persistent content here"}))
	require.NoError(t, idx.deleteAll())

	hits, err := idx.search(context.Background(), "persistent", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.DirExists(t, filepath.Join(dir, "fulltext.bleve"))
}

func TestLexicalIndex_SearchEmptyQueryReturnsNoHits(t *testing.T) {
	idx, err := openLexicalIndex(t.TempDir())
	require.NoError(t, err)
	defer idx.close()

	hits, err := idx.search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Nil(t, hits)
}
