package contextgen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docvault/docvault/internal/generator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	response string
	err      error
	calls    int
}

func (f *fakePort) Generate(ctx context.Context, model, prompt string, opts generator.Options) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakePort) Available(ctx context.Context) bool { return f.err == nil }
func (f *fakePort) Close() error                        { return nil }

func TestSynthesize_SkipsWhenBudgetTooSmall(t *testing.T) {
	fake := &fakePort{response: "should not be used"}
	// maxTokens so small that the context target is below 20 tokens
	// regardless of chunk size.
	s := New(fake, "qwen3:0.6b", 30)

	out := s.Synthesize(context.Background(), Input{
		FileName: "a.go",
		FileType: "code",
		Content:  "package main",
	})

	assert.Equal(t, 0, fake.calls)
	assert.Contains(t, out, "[Content from code file]")
	assert.Contains(t, out, "package main")
}

func TestSynthesize_CallsGeneratorAndPrependsCleanedContext(t *testing.T) {
	fake := &fakePort{response: "Description: This function adds two integers."}
	s := New(fake, "qwen3:0.6b", 4000)

	out := s.Synthesize(context.Background(), Input{
		FileName:   "math.go",
		FileType:   "code",
		DocContext: "package math",
		Content:    "func Add(a, b int) int { return a + b }",
	})

	assert.Equal(t, 1, fake.calls)
	assert.NotContains(t, out, "Description:")
	assert.True(t, strings.HasSuffix(out, "func Add(a, b int) int { return a + b }"))
}

func TestSynthesize_StripsThinkSpans(t *testing.T) {
	fake := &fakePort{response: "<think>reasoning here</think>The chunk defines a helper."}
	s := New(fake, "qwen3:0.6b", 4000)

	out := s.Synthesize(context.Background(), Input{
		FileName: "a.go",
		FileType: "code",
		Content:  "func helper() {}",
	})

	assert.NotContains(t, out, "reasoning here")
	assert.Contains(t, out, "The chunk defines a helper.")
}

func TestSynthesize_GeneratorErrorFallsBackDeterministically(t *testing.T) {
	fake := &fakePort{err: errors.New("connection refused")}
	s := New(fake, "qwen3:0.6b", 4000)

	out := s.Synthesize(context.Background(), Input{
		FileName: "notes.md",
		FileType: "markdown",
		Content:  "Some notes about the project.",
	})

	assert.Contains(t, out, "Content extracted from notes.md")
	assert.Contains(t, out, "Some notes about the project.")
}

func TestSynthesize_LargeChunkInSmallBudgetKeepsRawContent(t *testing.T) {
	fake := &fakePort{response: strings.Repeat("word ", 500)}
	// With maxTokens 120 and a ~100-token chunk the context target falls
	// below 20 tokens, so the long generated response is never used.
	s := New(fake, "qwen3:0.6b", 120)

	content := strings.Repeat("x", 300) // ~100 tokens, leaves little room
	out := s.Synthesize(context.Background(), Input{
		FileName: "big.go",
		FileType: "code",
		Content:  content,
	})

	// The budget-too-small static fallback leaves the raw content intact
	// without generated text prepended.
	assert.Contains(t, out, content)
}

func TestSynthesizeBatch_PreservesOrder(t *testing.T) {
	fake := &fakePort{response: "A short sentence."}
	s := New(fake, "qwen3:0.6b", 4000)

	inputs := make([]Input, 8)
	for i := range inputs {
		inputs[i] = Input{FileName: "f.go", FileType: "code", Content: strings.Repeat("a", i+1)}
	}

	out := s.synthesizeBatch(context.Background(), inputs, 3)
	require.Len(t, out, 8)
	for i, o := range out {
		assert.True(t, strings.HasSuffix(o, inputs[i].Content), "index %d", i)
	}
}

func TestEstimateTokens_CeilsCharsOverThree(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("ab"))
	assert.Equal(t, 2, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcdef"))
}
