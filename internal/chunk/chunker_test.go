package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocess_CollapsesNewlineRuns(t *testing.T) {
	out := Preprocess("a\n\n\n\n\nb")
	assert.Equal(t, "a\n\nb", out)
}

func TestPreprocess_CollapsesSpaceRuns(t *testing.T) {
	out := Preprocess("a    b")
	assert.Equal(t, "a b", out)
}

func TestPreprocess_InsertsSentenceGap(t *testing.T) {
	out := Preprocess("End.Next sentence")
	assert.Equal(t, "End. Next sentence", out)
}

func TestSplit_EmptyTextReturnsNoChunks(t *testing.T) {
	assert.Empty(t, Split("   \n  ", TypeDefault, DefaultConfig()))
}

func TestSplit_BoundsHoldForEveryChunk(t *testing.T) {
	cfg := DefaultConfig()
	body := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	chunks := Split(body, TypeDefault, cfg)
	require.NotEmpty(t, chunks)

	for i, c := range chunks {
		if i == len(chunks)-1 {
			assert.LessOrEqual(t, len(c.Content), cfg.ChunkSize*2)
			continue
		}
		assert.GreaterOrEqual(t, len(c.Content), cfg.MinChunkSize, "chunk %d below min size", i)
		assert.LessOrEqual(t, len(c.Content), cfg.ChunkSize*2, "chunk %d exceeds max size", i)
	}
}

func TestSplit_ChunksOverlapAdjacentNeighbors(t *testing.T) {
	cfg := Config{ChunkSize: 500, ChunkOverlap: 100, MinChunkSize: 100}
	body := strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 100)
	chunks := Split(body, TypeDefault, cfg)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].Start, chunks[i-1].End,
			"chunk %d should start before chunk %d ends", i, i-1)
		assert.Greater(t, chunks[i].Start, chunks[i-1].Start,
			"chunk %d should start after chunk %d starts", i, i-1)
	}
}

func TestSplit_ReindexesSequentially(t *testing.T) {
	body := strings.Repeat("line one\nline two\nline three\n\n", 100)
	chunks := Split(body, TypeMarkdown, DefaultConfig())
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestSplit_MarkdownHeaderSurvivesInFirstChunk(t *testing.T) {
	doc := "# Title\n\n" + strings.Repeat("paragraph text here. ", 80)
	chunks := Split(doc, TypeMarkdown, DefaultConfig())
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Content, "# Title")
}

func TestSplit_UnknownTypeFallsBackToDefault(t *testing.T) {
	body := strings.Repeat("word ", 400)
	a := Split(body, Type("unknown"), DefaultConfig())
	b := Split(body, TypeDefault, DefaultConfig())
	assert.Equal(t, len(a), len(b))
}
