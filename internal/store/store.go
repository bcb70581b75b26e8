package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/docvault/docvault/internal/errors"
)

// DocumentStore is the unified VectorStore: one logical documents table
// backed by SQLite (content + fixed metadata + vector bytes), an in-memory
// HNSW index for vectorSearch, and a Bleve full-text index for
// lexicalSearch. Reads against the two indexes are joined back to the
// SQLite row by id.
type DocumentStore struct {
	cfg   Config
	lock  *storeLock
	sql   *sqliteDocs
	vec   *vectorIndex
	lex   *lexicalIndex
	cache *metadataCache

	mu     sync.Mutex // serializes Add/Delete* so the three indexes stay consistent
	closed bool
}

var _ VectorStore = (*DocumentStore)(nil)

func vectorSnapshotPath(dataDir string) string {
	return filepath.Join(dataDir, "vectors.hnsw")
}

// Open connects the three backing indexes, acquiring a cross-process lock
// over cfg.DataDir for the duration of the store's lifetime.
//
// On a fresh data directory, the SQLite schema is created via the
// sentinel-row pattern (spec.md's init description). The HNSW index is
// loaded from its snapshot file if present; otherwise it is rebuilt from
// the vectors already persisted in SQLite, so a lost or stale snapshot
// never loses data, only search availability until rebuild completes.
func Open(ctx context.Context, cfg Config) (*DocumentStore, error) {
	lock := newStoreLock(cfg.DataDir)
	if err := lock.lock(); err != nil {
		return nil, errors.VectorStoreError("acquire store lock", err)
	}

	sqlDocs, err := openSQLiteDocs(ctx, cfg.DataDir, cfg.Timeouts.Connect)
	if err != nil {
		_ = lock.unlock()
		return nil, err
	}

	vec, err := loadVectorIndex(vectorSnapshotPath(cfg.DataDir), cfg.Dimensions)
	if err != nil {
		slog.Warn("vector_snapshot_load_failed_rebuilding", slog.String("error", err.Error()))
		vec = newVectorIndex(cfg.Dimensions)
	}
	if len(vec.idMap) == 0 {
		readCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Read)
		all, rebuildErr := sqlDocs.allVectors(readCtx)
		cancel()
		if rebuildErr == nil {
			for id, v := range all {
				if err := vec.upsert(id, v); err != nil {
					slog.Warn("vector_rebuild_skip_row", slog.String("id", id), slog.String("error", err.Error()))
				}
			}
		}
	}

	lex, err := openLexicalIndex(cfg.DataDir)
	if err != nil {
		_ = sqlDocs.close()
		_ = lock.unlock()
		return nil, err
	}

	if err := checkOrRecordIndexState(ctx, sqlDocs, cfg); err != nil {
		_ = lex.close()
		_ = sqlDocs.close()
		_ = lock.unlock()
		return nil, err
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &DocumentStore{
		cfg:   cfg,
		lock:  lock,
		sql:   sqlDocs,
		vec:   vec,
		lex:   lex,
		cache: newMetadataCache(cfg.CacheTTL),
	}, nil
}

// checkOrRecordIndexState guards against opening an index built against a
// different embedder/dimension than cfg describes. A fresh data directory
// (no recorded state yet) just records the current values. ForceReindex
// overwrites whatever was recorded, since the caller is about to rebuild.
func checkOrRecordIndexState(ctx context.Context, sqlDocs *sqliteDocs, cfg Config) error {
	if cfg.SkipIndexStateCheck {
		return nil
	}

	readCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Read)
	dimValue, dimOK, err := sqlDocs.getState(readCtx, StateKeyIndexDimension)
	cancel()
	if err != nil {
		return errors.VectorStoreError("read index dimension state", err)
	}

	readCtx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Read)
	modelValue, modelOK, err := sqlDocs.getState(readCtx, StateKeyIndexModel)
	cancel()
	if err != nil {
		return errors.VectorStoreError("read index model state", err)
	}

	if dimOK && modelOK && !cfg.ForceReindex {
		storedDim, _ := strconv.Atoi(dimValue)
		if storedDim != cfg.Dimensions || modelValue != cfg.EmbedderModel {
			return &ErrIndexStateMismatch{
				StoredDimension: storedDim, StoredModel: modelValue,
				WantDimension: cfg.Dimensions, WantModel: cfg.EmbedderModel,
			}
		}
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Read)
	err = sqlDocs.setState(writeCtx, StateKeyIndexDimension, strconv.Itoa(cfg.Dimensions))
	cancel()
	if err != nil {
		return errors.VectorStoreError("write index dimension state", err)
	}

	writeCtx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Read)
	err = sqlDocs.setState(writeCtx, StateKeyIndexModel, cfg.EmbedderModel)
	cancel()
	if err != nil {
		return errors.VectorStoreError("write index model state", err)
	}
	return nil
}

// Add upserts records by id, batched by cfg.BatchSize. Rows whose vector
// length doesn't match the store's dimensions are dropped with a warning
// rather than failing the whole batch.
func (s *DocumentStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.VectorStoreError("add on closed store", nil)
	}

	valid := make([]Record, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != s.cfg.Dimensions {
			slog.Warn("add_dropped_row_dimension_mismatch",
				slog.String("id", r.ID), slog.Int("expected", s.cfg.Dimensions), slog.Int("got", len(r.Vector)))
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil
	}

	for start := 0; start < len(valid); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[start:end]

		writeCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
		err := s.sql.upsertBatch(writeCtx, batch)
		cancel()
		if err != nil {
			return err
		}

		ids := make([]string, len(batch))
		contents := make([]string, len(batch))
		for i, r := range batch {
			if err := s.vec.upsert(r.ID, r.Vector); err != nil {
				slog.Warn("add_vector_index_upsert_failed", slog.String("id", r.ID), slog.String("error", err.Error()))
			}
			ids[i] = r.ID
			contents[i] = r.Content
		}
		if err := s.lex.upsertBatch(ids, contents); err != nil {
			return err
		}
	}

	s.cache.invalidate()
	return nil
}

// DeleteByIDs exactly and idempotently removes rows from all three indexes.
func (s *DocumentStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.VectorStoreError("delete on closed store", nil)
	}

	deleteCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	err := s.sql.deleteByIDs(deleteCtx, ids)
	cancel()
	if err != nil {
		return err
	}

	for _, id := range ids {
		s.vec.delete(id)
	}
	if err := s.lex.deleteBatch(ids); err != nil {
		return err
	}

	s.cache.invalidate()
	return nil
}

// DeleteByFileID removes all rows for fileId, idempotent.
func (s *DocumentStore) DeleteByFileID(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.VectorStoreError("delete on closed store", nil)
	}

	rowIDs, err := s.idsForFile(ctx, fileID)
	if err != nil {
		return err
	}

	deleteCtx, cancel2 := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	err = s.sql.deleteByFileID(deleteCtx, fileID)
	cancel2()
	if err != nil {
		return err
	}

	for _, id := range rowIDs {
		s.vec.delete(id)
	}
	if err := s.lex.deleteBatch(rowIDs); err != nil {
		return err
	}

	s.cache.invalidate()
	return nil
}

func (s *DocumentStore) idsForFile(ctx context.Context, fileID string) ([]string, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	defer cancel()

	rows, err := s.sql.db.QueryContext(readCtx, `SELECT id FROM documents WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, errors.VectorStoreError("query ids for file", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.VectorStoreError("scan id for file", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteAll truncates the documents table and resets both indexes.
func (s *DocumentStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.VectorStoreError("delete on closed store", nil)
	}

	deleteCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	err := s.sql.deleteAll(deleteCtx)
	cancel()
	if err != nil {
		return err
	}

	s.vec.deleteAll()
	if err := s.lex.deleteAll(); err != nil {
		return err
	}

	s.cache.invalidate()
	return nil
}

// searchOverfetch returns more candidates than topK so filter evaluation
// (which happens after the ANN/full-text pass) doesn't starve the final
// top-k of rows that would have passed the filter.
func searchOverfetch(topK int) int {
	n := topK * 4
	if n < topK+20 {
		n = topK + 20
	}
	return n
}

// VectorSearch returns up to opts.TopK rows ordered by descending
// similarity, with filters applied before truncation.
func (s *DocumentStore) VectorSearch(ctx context.Context, queryVec []float32, opts VectorSearchOptions) ([]VectorResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	// coder/hnsw search is in-memory and synchronous; the search timeout
	// is enforced on the SQLite metadata join below instead.
	hits, err := s.vec.search(queryVec, searchOverfetch(opts.TopK))
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	scoreByID := make(map[string]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scoreByID[h.ID] = h.Score
	}

	readCtx, cancel2 := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	records, err := s.sql.getByIDs(readCtx, ids)
	cancel2()
	if err != nil {
		return nil, err
	}

	results := make([]VectorResult, 0, len(ids))
	for _, id := range ids {
		rec, ok := records[id]
		if !ok {
			continue
		}
		if !matchesFilters(rec.Metadata, opts.Filters) {
			continue
		}
		score := scoreByID[id]
		if opts.Filters.ScoreThreshold > 0 && float64(score) < opts.Filters.ScoreThreshold {
			continue
		}
		results = append(results, VectorResult{ID: id, Score: score, Content: rec.Content, Metadata: rec.Metadata})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// LexicalSearch returns up to opts.TopK full-text hits over content.
func (s *DocumentStore) LexicalSearch(ctx context.Context, query string, opts LexicalSearchOptions) ([]LexicalResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Search)
	hits, err := s.lex.search(searchCtx, query, searchOverfetch(opts.TopK))
	cancel()
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}

	readCtx, cancel2 := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	records, err := s.sql.getByIDs(readCtx, ids)
	cancel2()
	if err != nil {
		return nil, err
	}

	results := make([]LexicalResult, 0, len(hits))
	for _, h := range hits {
		rec, ok := records[h.ID]
		if !ok {
			continue
		}
		if !matchesFilters(rec.Metadata, opts.Filters) {
			continue
		}
		if opts.Filters.ScoreThreshold > 0 && h.Score < opts.Filters.ScoreThreshold {
			continue
		}
		results = append(results, LexicalResult{
			ID: h.ID, Score: h.Score, Content: rec.Content, Metadata: rec.Metadata, MatchedTerms: h.MatchedTerms,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// ListFileMetadata returns the deduplicated-by-fileId view, cached
// in-process with the store's configured TTL.
func (s *DocumentStore) ListFileMetadata(ctx context.Context) (map[string]FileMetaSnapshot, error) {
	if cached, ok := s.cache.get(); ok {
		return cached, nil
	}

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	defer cancel()

	snapshot, err := s.sql.listFileMetadata(readCtx)
	if err != nil {
		return nil, err
	}
	s.cache.set(snapshot)
	return snapshot, nil
}

// CountDocuments returns the total number of indexed chunks, for status
// reporting.
func (s *DocumentStore) CountDocuments(ctx context.Context) (int, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	defer cancel()
	return s.sql.countDocuments(readCtx)
}

// GetState reads a single key-value entry from the store's state table,
// used for index dimension/model guards and other small persisted facts
// that don't belong in the documents table itself.
func (s *DocumentStore) GetState(ctx context.Context, key string) (string, bool, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	defer cancel()
	return s.sql.getState(readCtx, key)
}

// SetState writes a single key-value entry to the state table.
func (s *DocumentStore) SetState(ctx context.Context, key, value string) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	defer cancel()
	return s.sql.setState(writeCtx, key, value)
}

const checkpointSeparator = "\x1f"

// SaveCheckpoint persists resumable-ingest progress so an interrupted large
// sync pass can resume without re-embedding already-processed chunks.
func (s *DocumentStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	value := strings.Join([]string{
		cp.Stage, strconv.Itoa(cp.Total), strconv.Itoa(cp.Embedded), cp.EmbedderModel,
	}, checkpointSeparator)
	return s.SetState(ctx, StateKeyCheckpoint, value)
}

// LoadCheckpoint returns the most recently saved checkpoint, if any.
func (s *DocumentStore) LoadCheckpoint(ctx context.Context) (Checkpoint, bool, error) {
	value, ok, err := s.GetState(ctx, StateKeyCheckpoint)
	if err != nil || !ok {
		return Checkpoint{}, false, err
	}
	parts := strings.Split(value, checkpointSeparator)
	if len(parts) != 4 {
		return Checkpoint{}, false, nil
	}
	total, _ := strconv.Atoi(parts[1])
	embedded, _ := strconv.Atoi(parts[2])
	return Checkpoint{Stage: parts[0], Total: total, Embedded: embedded, EmbedderModel: parts[3]}, true, nil
}

// ClearCheckpoint removes the saved checkpoint once a sync pass completes.
func (s *DocumentStore) ClearCheckpoint(ctx context.Context) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	defer cancel()
	return s.sql.deleteState(writeCtx, StateKeyCheckpoint)
}

// CheckConsistency cross-checks the SQLite row set against the HNSW id set
// and the Bleve doc-id set, reporting ids present in one but missing from
// another. It does not repair anything; callers decide how to react.
func (s *DocumentStore) CheckConsistency(ctx context.Context) (ConsistencyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.Read)
	sqlIDs, err := s.sql.allIDs(readCtx)
	cancel()
	if err != nil {
		return ConsistencyReport{}, err
	}

	s.vec.mu.RLock()
	vecIDs := make(map[string]struct{}, len(s.vec.idMap))
	for id := range s.vec.idMap {
		vecIDs[id] = struct{}{}
	}
	s.vec.mu.RUnlock()

	lexIDs, err := s.lex.allIDs(ctx)
	if err != nil {
		return ConsistencyReport{}, err
	}

	var report ConsistencyReport
	for id := range sqlIDs {
		if _, ok := vecIDs[id]; !ok {
			report.Issues = append(report.Issues, ConsistencyIssue{Kind: IssueMissingVector, ID: id})
		}
		if _, ok := lexIDs[id]; !ok {
			report.Issues = append(report.Issues, ConsistencyIssue{Kind: IssueMissingLexical, ID: id})
		}
	}
	for id := range vecIDs {
		if _, ok := sqlIDs[id]; !ok {
			report.Issues = append(report.Issues, ConsistencyIssue{Kind: IssueOrphanVector, ID: id})
		}
	}
	for id := range lexIDs {
		if _, ok := sqlIDs[id]; !ok {
			report.Issues = append(report.Issues, ConsistencyIssue{Kind: IssueOrphanLexical, ID: id})
		}
	}
	return report, nil
}

// Close persists the HNSW snapshot, closes both indexes, and releases the
// cross-process lock.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.vec.save(vectorSnapshotPath(s.cfg.DataDir)); err != nil {
		firstErr = err
	}
	if err := s.lex.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.sql.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.lock.unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
