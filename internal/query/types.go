// Package query implements the QueryPipeline: process a raw query string,
// select and run search strategies against the VectorStore, fuse their
// result sets, rerank heuristically, and post-filter to a bounded result
// set.
package query

import (
	"time"

	"github.com/docvault/docvault/internal/store"
)

// SearchType selects which strategies Execute runs.
type SearchType string

const (
	SearchSemantic SearchType = "semantic"
	SearchLexical  SearchType = "lexical"
	SearchHybrid   SearchType = "hybrid"
)

// IntentType classifies the query's apparent purpose. The pipeline only
// ever produces the factual stub today; the field exists so a future
// classifier can populate it without changing the pipeline's shape.
type IntentType string

const (
	IntentFactual IntentType = "factual"
)

// Intent is attached to every ProcessedQuery.
type Intent struct {
	Type       IntentType
	Confidence float64
}

// ProcessedQuery is the output of stage 1 (Process).
type ProcessedQuery struct {
	Raw        string
	Normalized string
	Tokens     []string // keyword tokens, length > 2
	Intent     Intent
}

// Options configures one Search call.
type Options struct {
	SearchType      SearchType
	TopK            int
	ScoreThreshold  float64
	SemanticWeight  float64 // 0 means "use the classifier's weight for the query"
	FileTypes       []string
	MetadataFilters map[string]string
	Timeout         time.Duration
}

// DefaultOptions returns spec-default query options.
func DefaultOptions() Options {
	return Options{
		SearchType:     SearchHybrid,
		TopK:           10,
		ScoreThreshold: 0,
		Timeout:        60 * time.Second,
	}
}

// Hit is one fused, reranked, filtered result row.
type Hit struct {
	ID           string
	Content      string
	Metadata     store.Metadata
	Score        float64 // final score after fuse+rerank, clamped to [0,1]
	HybridScore  float64 // Σ weight·score across contributing strategies
	KeywordScore float64 // set only when lexical search emulated a keyword match
	FromSemantic bool
	FromLexical  bool
}

// Result is the pipeline's output.
type Result struct {
	Query   ProcessedQuery
	Hits    []Hit
	Elapsed time.Duration
}

// fuseKey identifies a unique result row across strategies: the spec keys
// fusion by (fileName, chunkIndex), not by store row id, so that a
// semantic hit and a lexical hit for the same chunk merge into one row
// even though the two backends assign the id differently.
type fuseKey struct {
	fileName   string
	chunkIndex int
}
