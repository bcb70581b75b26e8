// Package store implements the unified VectorStore: a single logical
// documents table (content, vector, fixed metadata) backed by SQLite for
// persistence, coder/hnsw for vector search, and Bleve for the full-text
// index maintained on content.
package store

import (
	"context"
	"fmt"
	"time"
)

// Metadata is the fixed field set attached to every document row.
type Metadata struct {
	FileID      string
	FileName    string
	FilePath    string
	FileSize    int64
	FileType    string
	FileHash    string
	ChunkIndex  int
	TotalChunks int
	// ChunkStart is the chunk's starting byte offset within the file's
	// preprocessed content. For code chunks this is nudged to the nearest
	// enclosing function/class/type declaration so a citation never lands
	// mid-symbol; for every other content type it is the raw split offset.
	ChunkStart int
	CreatedAt         time.Time
	ModifiedAt        time.Time
	ProcessedAt       time.Time
	ModelVersion      string
	ProcessingVersion string
	SourceType        string
	Status            string
}

// Record is one row to upsert: id, vector, content, and its metadata.
type Record struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata Metadata
}

// VectorResult is a single vector search hit, ordered by descending Score.
type VectorResult struct {
	ID       string
	Score    float32 // 1 - distance, higher is more similar
	Content  string
	Metadata Metadata
}

// LexicalResult is a single full-text search hit.
type LexicalResult struct {
	ID           string
	Score        float64
	Content      string
	Metadata     Metadata
	MatchedTerms []string
}

// SearchFilters are applied as equality predicates before top-k truncation.
type SearchFilters struct {
	FileTypes        []string
	MetadataFilters  map[string]string
	ScoreThreshold   float64
}

// VectorSearchOptions bounds and filters a vectorSearch call.
type VectorSearchOptions struct {
	TopK    int
	Filters SearchFilters
}

// LexicalSearchOptions bounds and filters a lexicalSearch call.
type LexicalSearchOptions struct {
	TopK    int
	Filters SearchFilters
}

// FileMetaSnapshot is the deduplicated-by-fileId view returned by
// listFileMetadata, used by the Synchronizer's shouldProcess comparison.
type FileMetaSnapshot struct {
	FileID      string
	FilePath    string
	FileHash    string
	FileSize    int64
	ModifiedAt  time.Time
	ProcessedAt time.Time
}

// Timeouts configures the deadlines applied to store operations. Exceeding
// one produces an OperationTimeout error.
type Timeouts struct {
	Connect   time.Duration
	Read      time.Duration
	Embedding time.Duration
	Search    time.Duration
}

// DefaultTimeouts returns spec-default store operation deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:   30 * time.Second,
		Read:      60 * time.Second,
		Embedding: 15 * time.Second,
		Search:    30 * time.Second,
	}
}

// Config configures a DocumentStore.
type Config struct {
	// DataDir holds the SQLite file, the HNSW snapshot, and the Bleve index.
	DataDir string
	// Dimensions is the embedding vector length; rows of any other length
	// are dropped from Add with a warning rather than failing the batch.
	Dimensions int
	// EmbedderModel identifies the embedder Dimensions was measured against.
	// Open compares both against the index's recorded state and refuses to
	// open a mismatched index unless ForceReindex is set.
	EmbedderModel string
	// ForceReindex bypasses the dimension/model guard and overwrites the
	// recorded index state with the current Dimensions/EmbedderModel,
	// acknowledging that ForceReindex will follow to rebuild the index.
	ForceReindex bool
	// SkipIndexStateCheck bypasses the dimension/model guard without
	// recording anything, for read-only callers (status reporting) that
	// open a store just to inspect it and have no real Dimensions/Model
	// to compare.
	SkipIndexStateCheck bool
	// BatchSize bounds how many rows Add upserts per SQLite transaction.
	BatchSize int
	// CacheTTL is how long listFileMetadata results are cached.
	CacheTTL time.Duration
	Timeouts Timeouts
}

// DefaultConfig returns sensible defaults for dims-dimensional vectors.
func DefaultConfig(dataDir string, dims int) Config {
	return Config{
		DataDir:    dataDir,
		Dimensions: dims,
		BatchSize:  100,
		CacheTTL:   5 * time.Minute,
		Timeouts:   DefaultTimeouts(),
	}
}

// Checkpoint records resumable-ingest progress for a single sync pass, keyed
// by an arbitrary run identifier chosen by the caller (the Synchronizer).
type Checkpoint struct {
	Stage         string
	Total         int
	Embedded      int
	EmbedderModel string
}

// State keys used for the store's key-value table: index dimension/model
// guards and checkpoint persistence.
const (
	StateKeyIndexDimension = "index.dimension"
	StateKeyIndexModel     = "index.model"
	StateKeyCheckpoint     = "checkpoint"
)

// ConsistencyIssueKind enumerates the ways the three backends can disagree.
type ConsistencyIssueKind string

const (
	IssueMissingVector  ConsistencyIssueKind = "missing_vector"
	IssueMissingLexical ConsistencyIssueKind = "missing_lexical"
	IssueOrphanVector   ConsistencyIssueKind = "orphan_vector"
	IssueOrphanLexical  ConsistencyIssueKind = "orphan_lexical"
)

// ConsistencyIssue is a single id found in one backend's id set but not
// another's.
type ConsistencyIssue struct {
	Kind ConsistencyIssueKind
	ID   string
}

// ConsistencyReport is the result of cross-checking the SQLite row set
// against the HNSW id set and the Bleve doc-id set.
type ConsistencyReport struct {
	Issues []ConsistencyIssue
}

// VectorStore is the spec's unified document store contract.
type VectorStore interface {
	Add(ctx context.Context, records []Record) error
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByFileID(ctx context.Context, fileID string) error
	DeleteAll(ctx context.Context) error
	VectorSearch(ctx context.Context, queryVec []float32, opts VectorSearchOptions) ([]VectorResult, error)
	LexicalSearch(ctx context.Context, query string, opts LexicalSearchOptions) ([]LexicalResult, error)
	ListFileMetadata(ctx context.Context) (map[string]FileMetaSnapshot, error)
	CountDocuments(ctx context.Context) (int, error)
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoint(ctx context.Context) (Checkpoint, bool, error)
	ClearCheckpoint(ctx context.Context) error
	CheckConsistency(ctx context.Context) (ConsistencyReport, error)
	Close() error
}

// ErrDimensionMismatch indicates a record's vector length does not match
// the store's configured dimensions.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run docvault index --force)", e.Expected, e.Got)
}

// ErrIndexStateMismatch indicates Open was called against an index built
// with a different embedder or embedding dimension than cfg describes.
type ErrIndexStateMismatch struct {
	StoredDimension int
	StoredModel     string
	WantDimension   int
	WantModel       string
}

func (e *ErrIndexStateMismatch) Error() string {
	return fmt.Sprintf(
		"index was built with model=%q dim=%d, but config wants model=%q dim=%d (run docvault index --force)",
		e.StoredModel, e.StoredDimension, e.WantModel, e.WantDimension)
}
