// Package contextgen implements the ContextSynthesizer: it prepends a short
// descriptive sentence to a chunk before embedding, bounded by the
// embedder's declared token budget. Anthropic-style "contextual retrieval".
package contextgen

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/docvault/docvault/internal/generator"
)

// budgetSplit holds the three-way split of the embedder's maxTokens.
type budgetSplit struct {
	chunk   int
	context int
	safety  int
}

func splitBudget(maxTokens int) budgetSplit {
	return budgetSplit{
		chunk:   int(0.7 * float64(maxTokens)),
		context: int(0.2 * float64(maxTokens)),
		safety:  int(0.1 * float64(maxTokens)),
	}
}

// estimateTokens approximates token count as ceil(chars/3), a conservative
// upper bound that also covers CJK-heavy text.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return int(math.Ceil(float64(len([]rune(s))) / 3.0))
}

// Input is one chunk to synthesize context for.
type Input struct {
	// FileName/FilePath identify the source document for the prompt and
	// for the deterministic fallback text.
	FileName string
	FilePath string
	// FileType is the chunk's content family ("code", "markdown", "json",
	// "text", ...), used for the static skip-fallback and prompt wording.
	FileType string
	// DocContext is the document-level context shared across all chunks
	// of the same file, passed by reference (same string, not recomputed
	// per chunk).
	DocContext string
	// Content is the chunk's raw text, not yet embedded.
	Content string
}

var (
	thinkSpanRe   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	leadingLabel  = regexp.MustCompile(`(?i)^\s*(description|answer|context|summary)\s*:\s*`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	sentenceEndRe = regexp.MustCompile(`[.!?](\s|$)`)
)

// Synthesizer generates per-chunk context via a GeneratorPort, bounded by
// the embedder's declared token budget, per spec.
type Synthesizer struct {
	gen       generator.Port
	model     string
	maxTokens int
}

// New creates a Synthesizer. model is the generation model name; maxTokens
// is the target embedder's declared context window (EmbeddingPort.Info().MaxTokens).
func New(gen generator.Port, model string, maxTokens int) *Synthesizer {
	return &Synthesizer{gen: gen, model: model, maxTokens: maxTokens}
}

// Synthesize returns the contextualText to embed for one chunk: either
// "<context>\n\n<content>" or, when budget or the generator does not
// cooperate, a fallback that still embeds the raw content.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) string {
	budget := splitBudget(s.maxTokens)
	chunkTokens := estimateTokens(in.Content)
	available := s.maxTokens - chunkTokens - budget.safety
	target := budget.context
	if available < target {
		target = available
	}

	if target < 20 {
		return staticFallback(in.FileType) + "\n\n" + in.Content
	}

	prompt := buildPrompt(in)
	raw, err := s.gen.Generate(ctx, s.model, prompt, generator.Options{
		Temperature: 0.1,
		TopP:        0.8,
		NumPredict:  int(math.Ceil(1.2 * float64(target))),
	})
	if err != nil {
		return deterministicFallback(in)
	}

	cleaned := clean(raw, target)
	contextualText := cleaned + "\n\n" + in.Content
	if estimateTokens(contextualText) > s.maxTokens {
		return in.Content
	}
	return contextualText
}

// SynthesizeBatch synthesizes context for multiple chunks of the same file
// in bounded-parallelism batches (default 5), preserving input order.
func (s *Synthesizer) SynthesizeBatch(ctx context.Context, inputs []Input) []string {
	return s.synthesizeBatch(ctx, inputs, 5)
}

func (s *Synthesizer) synthesizeBatch(ctx context.Context, inputs []Input, parallelism int) []string {
	results := make([]string, len(inputs))
	if len(inputs) == 0 {
		return results
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, in Input) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.Synthesize(ctx, in)
		}(i, in)
	}
	wg.Wait()
	return results
}

func buildPrompt(in Input) string {
	return fmt.Sprintf(
		"Document: %s\n\nDocument context:\n%s\n\nChunk:\n%s\n\n"+
			"Write exactly one sentence describing this chunk's place in the document. "+
			"Output only that sentence.",
		in.FileName, in.DocContext, in.Content)
}

// staticFallback is emitted when the token budget leaves no room for
// synthesis at all.
func staticFallback(fileType string) string {
	if fileType == "" {
		fileType = "text"
	}
	return fmt.Sprintf("[Content from %s file]", fileType)
}

// deterministicFallback is emitted when the generator call itself fails.
// Synthesis failures never abort ingest.
func deterministicFallback(in Input) string {
	name := in.FileName
	if name == "" {
		name = in.FilePath
	}
	ft := in.FileType
	if ft == "" {
		ft = "text"
	}
	preview := in.Content
	if r := []rune(preview); len(r) > 200 {
		preview = string(r[:200])
	}
	return fmt.Sprintf("Content extracted from %s (%s). Starts with: %q\n\n%s", name, ft, preview, in.Content)
}

// clean strips <think> spans and leading labels, collapses blank runs, and
// truncates to target tokens at the nearest sentence boundary, or
// hard-truncates to 3*target characters with an ellipsis if none fit.
func clean(raw string, target int) string {
	s := thinkSpanRe.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)
	s = leadingLabel.ReplaceAllString(s, "")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	if estimateTokens(s) <= target {
		return s
	}

	if loc := lastSentenceBoundaryWithinBudget(s, target); loc > 0 {
		return strings.TrimSpace(s[:loc])
	}

	hardLimit := 3 * target
	r := []rune(s)
	if len(r) <= hardLimit {
		return s
	}
	return strings.TrimSpace(string(r[:hardLimit])) + "..."
}

// lastSentenceBoundaryWithinBudget returns the byte offset just past the
// last sentence-ending punctuation that still fits within target tokens,
// or 0 if none do.
func lastSentenceBoundaryWithinBudget(s string, target int) int {
	matches := sentenceEndRe.FindAllStringIndex(s, -1)
	best := 0
	for _, m := range matches {
		end := m[1]
		if estimateTokens(s[:end]) <= target {
			best = end
		}
	}
	return best
}
