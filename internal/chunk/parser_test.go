package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ParseGoSource(t *testing.T) {
	src := []byte("package main\n\nfunc main() {}\n")
	p := NewParser()
	defer p.Close()

	tree, err := p.Parse(context.Background(), src, "go")
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, "go", tree.Language)
	assert.False(t, tree.Root.HasError)
}

func TestParser_UnsupportedLanguageErrors(t *testing.T) {
	p := NewParser()
	defer p.Close()

	_, err := p.Parse(context.Background(), []byte("x"), "cobol")
	assert.Error(t, err)
}

func TestNudgeCodeBoundaries_UnsupportedLanguageIsNoop(t *testing.T) {
	chunks := []Chunk{{ChunkIndex: 0, Start: 0, End: 10, Content: "0123456789"}}
	out := NudgeCodeBoundaries(context.Background(), chunks, []byte("0123456789"), "cobol", nil)
	assert.Equal(t, chunks, out)
}
