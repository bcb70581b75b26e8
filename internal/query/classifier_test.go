package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyShape_LexicalPatterns(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"ERR_ prefix", "ERR_CONNECTION_REFUSED"},
		{"E#### code", "E0001"},
		{"screaming acronym code", "ERR123"},
		{"exception suffix", "NullPointerException"},
		{"double quoted phrase", `"authentication middleware"`},
		{"single quoted phrase", `'exact phrase match'`},
		{"file path", "internal/query/pipeline.go"},
		{"camelCase identifier", "buildCoordinatorConfig"},
		{"PascalCase identifier", "CoordinatorService"},
		{"snake_case identifier", "chunk_overlap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, shapeLexical, classifyShape(tt.query))
		})
	}
}

func TestClassifyShape_SemanticPatterns(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"how question", "how do I configure the embedder"},
		{"what question", "what is contextual enrichment"},
		{"explain request", "explain the fusion weighting logic"},
		{"three-plus word phrase", "document chunking overlap settings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, shapeSemantic, classifyShape(tt.query))
		})
	}
}

func TestClassifyShape_MixedFallback(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty query", ""},
		{"whitespace only", "   "},
		{"single plain word", "index"},
		{"two plain words", "vector search"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, shapeMixed, classifyShape(tt.query))
		})
	}
}

func TestWeightForShape(t *testing.T) {
	tests := []struct {
		name string
		s    shape
		want float64
	}{
		{"lexical leans BM25", shapeLexical, 0.15},
		{"semantic leans vector", shapeSemantic, 0.80},
		{"mixed matches fuseWeights default", shapeMixed, 0.7},
		{"unknown shape defaults to mixed", shape("bogus"), 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, weightForShape(tt.s), 0.001)
		})
	}
}

func TestClassifier_SemanticWeight_MatchesShape(t *testing.T) {
	c := newClassifier()

	assert.InDelta(t, 0.15, c.semanticWeight("ERR_CONNECTION_REFUSED"), 0.001)
	assert.InDelta(t, 0.80, c.semanticWeight("how do I configure the embedder"), 0.001)
	assert.InDelta(t, 0.7, c.semanticWeight("index"), 0.001)
}

func TestClassifier_SemanticWeight_CachesByNormalizedQuery(t *testing.T) {
	c := newClassifier()

	first := c.semanticWeight("  How Do I Configure The Embedder  ")
	cached, ok := c.cache.Get("how do i configure the embedder")
	assert.True(t, ok)
	assert.InDelta(t, first, cached, 0.001)

	second := c.semanticWeight("how do i configure the embedder")
	assert.InDelta(t, first, second, 0.001)
}

func TestClassifier_SemanticWeight_EmptyQueryIsMixed(t *testing.T) {
	c := newClassifier()
	assert.InDelta(t, weightForShape(shapeMixed), c.semanticWeight("   "), 0.001)
}
