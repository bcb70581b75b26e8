package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/docvault/docvault/internal/errors"
)

// sqliteDocs is the canonical persistence layer for the documents table:
// id, content, vector (for reload into the in-memory ANN index), and the
// fixed metadata columns. A sentinel row is written and deleted on first
// creation to avoid empty-schema races (mirrors the embedded vector
// backend's own init quirk).
type sqliteDocs struct {
	db   *sql.DB
	path string
}

const sentinelRowID = "__sentinel__"

func openSQLiteDocs(ctx context.Context, dataDir string, connectTimeout time.Duration) (*sqliteDocs, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.VectorStoreError("create data dir", err)
	}
	path := filepath.Join(dataDir, "documents.db")

	dsn := path + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.VectorStoreError("open sqlite", err)
	}

	// Single writer: SQLite serializes writers anyway, and the store's own
	// in-process mutex already coalesces concurrent ingest per fileId.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(connCtx, p); err != nil {
			_ = db.Close()
			return nil, errors.VectorStoreError("set pragma: "+p, err)
		}
	}

	s := &sqliteDocs{db: db, path: path}
	if err := s.initSchema(connCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteDocs) initSchema(ctx context.Context) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='documents'`).Scan(&exists)
	if err != nil {
		return errors.VectorStoreError("check schema", err)
	}
	if exists > 0 {
		return nil
	}

	schema := `
	CREATE TABLE documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		vector BLOB,
		file_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		file_type TEXT NOT NULL,
		file_hash TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		total_chunks INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		modified_at TEXT NOT NULL,
		processed_at TEXT NOT NULL,
		model_version TEXT NOT NULL DEFAULT '',
		processing_version TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX idx_documents_file_id ON documents(file_id);
	CREATE INDEX idx_documents_processed_at ON documents(file_id, processed_at);
	CREATE TABLE state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.VectorStoreError("create schema", err)
	}

	// Sentinel-row pattern: write then delete one row so the table is
	// never observed in a freshly-created-but-never-written state by a
	// concurrent reader opening the same file mid-migration.
	if err := s.upsertSentinel(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, sentinelRowID); err != nil {
		return errors.VectorStoreError("clear sentinel row", err)
	}
	return nil
}

func (s *sqliteDocs) upsertSentinel(ctx context.Context) error {
	now := time.Time{}.Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content, vector, file_id, file_name, file_path,
			file_size, file_type, file_hash, chunk_index, total_chunks,
			created_at, modified_at, processed_at, model_version, processing_version,
			source_type, status)
		VALUES (?, '', NULL, '', '', '', 0, '', '', 0, 0, ?, ?, ?, '', '', '', '')`,
		sentinelRowID, now, now, now)
	if err != nil {
		return errors.VectorStoreError("write sentinel row", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		b[i*4] = byte(bits)
		b[i*4+1] = byte(bits >> 8)
		b[i*4+2] = byte(bits >> 16)
		b[i*4+3] = byte(bits >> 24)
	}
	return b
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}

func (s *sqliteDocs) upsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.VectorStoreError("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, content, vector, file_id, file_name, file_path,
			file_size, file_type, file_hash, chunk_index, total_chunks,
			created_at, modified_at, processed_at, model_version, processing_version,
			source_type, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, vector=excluded.vector, file_id=excluded.file_id,
			file_name=excluded.file_name, file_path=excluded.file_path,
			file_size=excluded.file_size, file_type=excluded.file_type,
			file_hash=excluded.file_hash, chunk_index=excluded.chunk_index,
			total_chunks=excluded.total_chunks, created_at=excluded.created_at,
			modified_at=excluded.modified_at, processed_at=excluded.processed_at,
			model_version=excluded.model_version, processing_version=excluded.processing_version,
			source_type=excluded.source_type, status=excluded.status`)
	if err != nil {
		return errors.VectorStoreError("prepare upsert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		m := r.Metadata
		_, err := stmt.ExecContext(ctx, r.ID, r.Content, encodeVector(r.Vector),
			m.FileID, m.FileName, m.FilePath, m.FileSize, m.FileType, m.FileHash,
			m.ChunkIndex, m.TotalChunks,
			m.CreatedAt.Format(time.RFC3339), m.ModifiedAt.Format(time.RFC3339),
			m.ProcessedAt.Format(time.RFC3339), m.ModelVersion, m.ProcessingVersion,
			m.SourceType, m.Status)
		if err != nil {
			return errors.VectorStoreError(fmt.Sprintf("upsert document %s", r.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.VectorStoreError("commit upsert", err)
	}
	return nil
}

func (s *sqliteDocs) deleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.VectorStoreError("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM documents WHERE id = ?`)
	if err != nil {
		return errors.VectorStoreError("prepare delete", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return errors.VectorStoreError("delete document", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.VectorStoreError("commit delete", err)
	}
	return nil
}

func (s *sqliteDocs) deleteByFileID(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE file_id = ?`, fileID)
	if err != nil {
		return errors.VectorStoreError("delete by file id", err)
	}
	return nil
}

func (s *sqliteDocs) deleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return errors.VectorStoreError("delete all", err)
	}
	return nil
}

// allVectors returns every (id, vector) pair, used to rebuild the in-memory
// ANN index when no HNSW snapshot is present or it is stale.
func (s *sqliteDocs) allVectors(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector FROM documents WHERE vector IS NOT NULL`)
	if err != nil {
		return nil, errors.VectorStoreError("query all vectors", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, errors.VectorStoreError("scan vector row", err)
		}
		out[id] = decodeVector(blob)
	}
	return out, rows.Err()
}

func (s *sqliteDocs) getByIDs(ctx context.Context, ids []string) (map[string]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, content, file_id, file_name, file_path, file_size,
		file_type, file_hash, chunk_index, total_chunks, created_at, modified_at,
		processed_at, model_version, processing_version, source_type, status
		FROM documents WHERE id IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.VectorStoreError("query by ids", err)
	}
	defer rows.Close()

	out := make(map[string]Record, len(ids))
	for rows.Next() {
		var r Record
		var createdAt, modifiedAt, processedAt string
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata.FileID, &r.Metadata.FileName,
			&r.Metadata.FilePath, &r.Metadata.FileSize, &r.Metadata.FileType, &r.Metadata.FileHash,
			&r.Metadata.ChunkIndex, &r.Metadata.TotalChunks, &createdAt, &modifiedAt, &processedAt,
			&r.Metadata.ModelVersion, &r.Metadata.ProcessingVersion,
			&r.Metadata.SourceType, &r.Metadata.Status); err != nil {
			return nil, errors.VectorStoreError("scan document row", err)
		}
		r.Metadata.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.Metadata.ModifiedAt, _ = time.Parse(time.RFC3339, modifiedAt)
		r.Metadata.ProcessedAt, _ = time.Parse(time.RFC3339, processedAt)
		out[r.ID] = r
	}
	return out, rows.Err()
}

// allIDs returns every document id currently in SQLite, used by
// CheckConsistency to diff against the HNSW and Bleve id sets.
func (s *sqliteDocs) allIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents`)
	if err != nil {
		return nil, errors.VectorStoreError("query all ids", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.VectorStoreError("scan id row", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// countDocuments returns the total chunk row count, used for status
// reporting.
func (s *sqliteDocs) countDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, errors.VectorStoreError("count documents", err)
	}
	return n, nil
}

func (s *sqliteDocs) getState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.VectorStoreError("get state", err)
	}
	return value, true, nil
}

func (s *sqliteDocs) setState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errors.VectorStoreError("set state", err)
	}
	return nil
}

func (s *sqliteDocs) deleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key); err != nil {
		return errors.VectorStoreError("delete state", err)
	}
	return nil
}

// listFileMetadata returns the deduplicated-by-fileId snapshot: for each
// fileId, the row with the greatest processedAt.
func (s *sqliteDocs) listFileMetadata(ctx context.Context) (map[string]FileMetaSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.file_id, d.file_path, d.file_hash, d.file_size, d.modified_at, d.processed_at
		FROM documents d
		INNER JOIN (
			SELECT file_id, MAX(processed_at) AS max_processed
			FROM documents
			GROUP BY file_id
		) latest ON d.file_id = latest.file_id AND d.processed_at = latest.max_processed`)
	if err != nil {
		return nil, errors.VectorStoreError("list file metadata", err)
	}
	defer rows.Close()

	out := make(map[string]FileMetaSnapshot)
	for rows.Next() {
		var snap FileMetaSnapshot
		var modifiedAt, processedAt string
		if err := rows.Scan(&snap.FileID, &snap.FilePath, &snap.FileHash, &snap.FileSize, &modifiedAt, &processedAt); err != nil {
			return nil, errors.VectorStoreError("scan file metadata row", err)
		}
		snap.ModifiedAt, _ = time.Parse(time.RFC3339, modifiedAt)
		snap.ProcessedAt, _ = time.Parse(time.RFC3339, processedAt)
		out[snap.FileID] = snap
	}
	return out, rows.Err()
}

func (s *sqliteDocs) close() error {
	return s.db.Close()
}

// matchesFilters applies SearchFilters as equality predicates in Go rather
// than SQL, since candidates already come from the ANN/full-text index and
// only need a metadata join-and-check against a small candidate set.
func matchesFilters(m Metadata, f SearchFilters) bool {
	if len(f.FileTypes) > 0 {
		found := false
		for _, ft := range f.FileTypes {
			if ft == m.FileType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range f.MetadataFilters {
		if fieldValue(m, k) != v {
			return false
		}
	}
	return true
}

func fieldValue(m Metadata, key string) string {
	switch key {
	case "fileId":
		return m.FileID
	case "fileName":
		return m.FileName
	case "filePath":
		return m.FilePath
	case "fileType":
		return m.FileType
	case "fileHash":
		return m.FileHash
	case "sourceType":
		return m.SourceType
	case "status":
		return m.Status
	default:
		return ""
	}
}

// marshalMetadata encodes the fixed metadata struct as an opaque JSON blob.
// Nothing in this package calls it.
func marshalMetadata(m Metadata) ([]byte, error) {
	return json.Marshal(m)
}
