package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/docvault/docvault/internal/chunk"
	"github.com/docvault/docvault/internal/contextgen"
	"github.com/docvault/docvault/internal/errors"
	"github.com/docvault/docvault/internal/fsmeta"
	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/ui"
)

// Synchronizer reconciles the watched root against the VectorStore. A single
// instance is safe for concurrent Run/Ingest calls: ingests for the same
// fileId are coalesced via an internal singleflight group, per the
// single-writer-per-fileId invariant.
type Synchronizer struct {
	cfg  Config
	deps Dependencies

	group singleflight.Group

	resumeMu sync.Mutex
	resume   *store.Checkpoint // consumed once, by whichever ingestOne matches its Stage fileID

	chunksIndexed atomic.Int64 // chunks embedded during the current/last Run, for Renderer.Complete
}

// New builds a Synchronizer. deps.Store and deps.Embedder are required;
// deps.Synth may be nil.
func New(cfg Config, deps Dependencies) (*Synchronizer, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.IngestConcurrency <= 0 {
		cfg.IngestConcurrency = 4
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 32
	}
	return &Synchronizer{cfg: cfg, deps: deps}, nil
}

// Run performs one full reconciliation pass: list stored metadata, scan disk,
// diff, and process every change. It resumes an interrupted ingest from any
// saved checkpoint before starting fresh work.
func (s *Synchronizer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	if cp, ok, err := s.deps.Store.LoadCheckpoint(ctx); err == nil && ok && cp.EmbedderModel == s.deps.ModelName {
		slog.Info("sync_resuming_checkpoint",
			slog.String("stage", cp.Stage), slog.Int("embedded", cp.Embedded), slog.Int("total", cp.Total))
		result.Resumed = true
		s.resumeMu.Lock()
		s.resume = &cp
		s.resumeMu.Unlock()
	}

	stored, err := s.deps.Store.ListFileMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored file metadata: %w", err)
	}

	onDiskByPath, onDiskByID, err := s.scanDisk()
	if err != nil {
		return nil, fmt.Errorf("scan root: %w", err)
	}

	changes := s.diff(stored, onDiskByPath, onDiskByID)

	var toIngest int
	for _, change := range changes {
		if change.Type != ChangeDeleted {
			toIngest++
		}
	}

	s.chunksIndexed.Store(0)
	renderer := s.deps.Renderer
	if renderer != nil {
		_ = renderer.Start(ctx)
		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Current: len(onDiskByPath), Total: len(onDiskByPath)})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.IngestConcurrency)

	var mu sync.Mutex
	var ingested atomic.Int32

	for _, change := range changes {
		change := change
		switch change.Type {
		case ChangeDeleted:
			if err := s.processDeletion(gctx, change); err != nil {
				slog.Warn("sync_delete_failed", slog.String("path", change.Path), slog.String("error", err.Error()))
				mu.Lock()
				result.Errors++
				mu.Unlock()
				continue
			}
			mu.Lock()
			result.Deleted++
			mu.Unlock()
		case ChangeAdded, ChangeChanged:
			g.Go(func() error {
				err := s.ingest(gctx, change)
				n := ingested.Add(1)
				if renderer != nil {
					renderer.UpdateProgress(ui.ProgressEvent{
						Stage: ui.StageEmbedding, Current: int(n), Total: toIngest, CurrentFile: change.Path,
					})
				}
				if err != nil {
					slog.Warn("sync_ingest_failed", slog.String("path", change.Path), slog.String("error", err.Error()))
					if renderer != nil {
						renderer.AddError(ui.ErrorEvent{File: change.Path, Err: err})
					}
					mu.Lock()
					result.Errors++
					mu.Unlock()
					return nil // one file's failure doesn't abort the pass
				}
				mu.Lock()
				if change.Type == ChangeAdded {
					result.Added++
				} else {
					result.Changed++
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	result.Skipped = len(onDiskByPath) - result.Added - result.Changed
	result.Duration = time.Since(start)

	if err := s.deps.Store.ClearCheckpoint(ctx); err != nil {
		slog.Warn("sync_clear_checkpoint_failed", slog.String("error", err.Error()))
	}

	if renderer != nil {
		info := s.deps.Embedder.Info()
		renderer.Complete(ui.CompletionStats{
			Files:    result.Added + result.Changed,
			Chunks:   int(s.chunksIndexed.Load()),
			Duration: result.Duration,
			Errors:   result.Errors,
			Embedder: ui.EmbedderInfo{Backend: info.Service, Model: info.Model, Dimensions: info.Dimensions},
		})
		_ = renderer.Stop()
	}

	slog.Info("sync_complete",
		slog.Int("added", result.Added), slog.Int("changed", result.Changed),
		slog.Int("deleted", result.Deleted), slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors), slog.String("duration", result.Duration.String()))
	return result, nil
}

// Ingest processes a single path outside of a full Run, used by the
// FileWatcher for added/changed events. It coalesces with any in-flight
// ingest for the same fileId.
func (s *Synchronizer) Ingest(ctx context.Context, path string) error {
	meta, err := fsmeta.Extract(path)
	if err != nil {
		return err
	}
	change := FileChange{Type: ChangeAdded, Path: path, Meta: toFileMeta(meta)}
	return s.ingest(ctx, change)
}

// DeletePath removes every stored row for the file at path, verifying first
// (per the spec's two-step check) that the path is genuinely inaccessible.
func (s *Synchronizer) DeletePath(ctx context.Context, path string) error {
	if _, err := fsmeta.Extract(path); err == nil {
		return fmt.Errorf("refusing to delete: %s is still readable", path)
	}
	fileID := fsmeta.StableID(mustAbs(path))
	return s.deps.Store.DeleteByFileID(ctx, fileID)
}

// scanDisk walks cfg.RootDir, skipping ignored paths, and extracts metadata
// for every file whose extension is in cfg.Supported.
func (s *Synchronizer) scanDisk() (byPath map[string]FileMeta, byID map[string]FileMeta, err error) {
	byPath = make(map[string]FileMeta)
	byID = make(map[string]FileMeta)

	walkErr := filepath.WalkDir(s.cfg.RootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entry: skip, don't abort the whole scan
		}
		if s.shouldIgnorePath(path, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !s.cfg.Supported[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		meta, extractErr := fsmeta.Extract(path)
		if extractErr != nil {
			slog.Warn("sync_scan_unreadable", slog.String("path", path), slog.String("error", extractErr.Error()))
			return nil
		}
		fm := *toFileMeta(meta)
		byPath[path] = fm
		byID[fm.FileID] = fm
		return nil
	})
	return byPath, byID, walkErr
}

// shouldIgnorePath matches spec §4.8's ignore rules: dotfiles/dotdirs,
// nested module-cache directories, the configured exclude globs, and
// symlinks (to avoid traversal loops).
func (s *Synchronizer) shouldIgnorePath(path string, d fs.DirEntry) bool {
	if path == s.cfg.RootDir {
		return false // never ignore the walk root itself
	}
	if d.Type()&fs.ModeSymlink != 0 {
		return true
	}
	rel, err := filepath.Rel(s.cfg.RootDir, path)
	if err != nil {
		rel = path
	}
	return ShouldIgnoreRelPath(rel, d.IsDir(), s.cfg.ExcludeGlobs)
}

// ShouldIgnoreRelPath applies spec §4.8's ignore rules to a path already
// made relative to the watched root, so the FileWatcher can filter events
// the same way the Synchronizer filters its scan without either depending
// on the other's filesystem access.
func ShouldIgnoreRelPath(relPath string, isDir bool, excludeGlobs []string) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if part != "." && strings.HasPrefix(part, ".") {
			return true
		}
		switch part {
		case "node_modules", "vendor", "__pycache__", ".git":
			return true
		}
	}
	relSlash := filepath.ToSlash(relPath)
	for _, pattern := range excludeGlobs {
		if ok, _ := doublestar.Match(pattern, relSlash); ok {
			return true
		}
		if isDir {
			if ok, _ := doublestar.Match(pattern, relSlash+"/"); ok {
				return true
			}
		}
	}
	return false
}

func toFileMeta(m *fsmeta.Metadata) *FileMeta {
	return &FileMeta{
		FileID: m.FileID, Path: m.Path, Name: m.Name,
		Size: m.Size, Type: string(m.Type), Hash: m.Hash, ModifiedAt: m.ModifiedAt,
	}
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// diff implements spec §4.7 steps 3-4: classify every on-disk file, then
// additionally verify any stored-but-missing fileId is genuinely gone.
func (s *Synchronizer) diff(
	stored map[string]store.FileMetaSnapshot,
	onDiskByPath map[string]FileMeta,
	onDiskByID map[string]FileMeta,
) []FileChange {
	var changes []FileChange

	for path, meta := range onDiskByPath {
		meta := meta
		snap, existed := stored[meta.FileID]
		if !existed {
			changes = append(changes, FileChange{Type: ChangeAdded, Path: path, Meta: &meta})
			continue
		}
		if shouldProcess(meta, snap) {
			changes = append(changes, FileChange{Type: ChangeChanged, Path: path, Meta: &meta})
		}
	}

	for fileID, snap := range stored {
		if _, stillOnDisk := onDiskByID[fileID]; stillOnDisk {
			continue
		}
		// Two-step check: a file missing from this scan might be a
		// transient failure, not a real deletion. Verify with a fresh stat.
		if snap.FilePath != "" {
			if _, err := fsmeta.Extract(snap.FilePath); err == nil {
				continue
			}
		}
		changes = append(changes, FileChange{Type: ChangeDeleted, Path: snap.FilePath, FileID: fileID})
	}
	return changes
}

// shouldProcess decides whether meta represents a change against snap,
// comparing in order: content hash, byte size, mtime. A stored snapshot
// missing any comparison field defaults to "process" (safer than silently
// skipping a file with incomplete metadata).
func shouldProcess(meta FileMeta, snap store.FileMetaSnapshot) bool {
	if snap.FileHash == "" {
		return true
	}
	if meta.Hash != snap.FileHash {
		return true
	}
	if meta.Size != snap.FileSize {
		return true
	}
	if !meta.ModifiedAt.Equal(snap.ModifiedAt) {
		return true
	}
	return false
}

// processDeletion deletes all rows for a fileId verified gone by diff.
func (s *Synchronizer) processDeletion(ctx context.Context, change FileChange) error {
	return s.deps.Store.DeleteByFileID(ctx, change.FileID)
}

// ingest runs the per-file pipeline: chunk, (optionally) synthesize context,
// embed, and write through, coalescing concurrent calls for the same
// fileId so at most one ingest task per file is ever in flight.
func (s *Synchronizer) ingest(ctx context.Context, change FileChange) error {
	if change.Meta == nil {
		return fmt.Errorf("ingest requires file metadata")
	}
	fileID := change.Meta.FileID

	_, err, _ := s.group.Do(fileID, func() (any, error) {
		return nil, s.ingestOne(ctx, *change.Meta)
	})
	return err
}

// takeResumeFor returns the pending checkpoint if it was left for fileID by
// a prior, interrupted ingest, consuming it so no other file can claim it.
// A mismatched chunk count means the file changed since the checkpoint was
// written, so the checkpoint is discarded rather than applied.
func (s *Synchronizer) takeResumeFor(fileID string, totalChunks int) (embedded int, resuming bool) {
	s.resumeMu.Lock()
	defer s.resumeMu.Unlock()
	if s.resume == nil || s.resume.Stage != fileID {
		return 0, false
	}
	cp := s.resume
	s.resume = nil
	if cp.Total != totalChunks || cp.Embedded <= 0 || cp.Embedded >= totalChunks {
		return 0, false
	}
	return cp.Embedded, true
}

func (s *Synchronizer) ingestOne(ctx context.Context, meta FileMeta) error {
	content, err := os.ReadFile(meta.Path)
	if err != nil {
		return errors.FileUnreadable("cannot read file for ingest: "+meta.Path, err)
	}

	chunkType := contentChunkType(meta.Type)
	chunks := chunk.Split(string(content), chunkType, s.cfg.Chunking)
	if len(chunks) == 0 {
		return nil
	}
	if chunkType == chunk.TypeCode {
		if lang, ok := languageForExt(strings.ToLower(filepath.Ext(meta.Path))); ok {
			// Chunk offsets are relative to chunk.Preprocess's output, not
			// the raw file bytes, so the parser must see the same text.
			chunks = chunk.NudgeCodeBoundaries(ctx, chunks, []byte(chunk.Preprocess(string(content))), lang, nil)
		}
	}

	contents := make([]string, len(chunks))
	if s.cfg.ContextualEnabled && s.deps.Synth != nil {
		inputs := make([]contextgen.Input, len(chunks))
		for i, c := range chunks {
			inputs[i] = contextgen.Input{
				FileName: meta.Name, FilePath: meta.Path, FileType: meta.Type, Content: c.Content,
			}
		}
		synthesized := s.deps.Synth.SynthesizeBatch(ctx, inputs)
		copy(contents, synthesized)
	} else {
		for i, c := range chunks {
			contents[i] = c.Content
		}
	}

	startAt, resuming := s.takeResumeFor(meta.FileID, len(chunks))
	if !resuming {
		// Clear any straddling prior-version chunks before writing the new
		// set, per spec §4.7 step 5 ("before adding, call deleteByFileId").
		// A resumed ingest skips this: the rows for chunks < startAt are
		// already this version's rows, written by the interrupted attempt.
		if err := s.deps.Store.DeleteByFileID(ctx, meta.FileID); err != nil {
			return err
		}
	} else {
		slog.Info("sync_resuming_ingest",
			slog.String("file_id", meta.FileID), slog.Int("embedded", startAt), slog.Int("total", len(chunks)))
	}

	now := time.Now()

	for start := startAt; start < len(contents); start += s.cfg.EmbeddingBatchSize {
		end := start + s.cfg.EmbeddingBatchSize
		if end > len(contents) {
			end = len(contents)
		}
		batch := contents[start:end]

		vectors, err := s.deps.Embedder.EmbedDocuments(ctx, batch)
		if err != nil {
			return err
		}
		records := make([]store.Record, 0, len(vectors))
		for i, vec := range vectors {
			idx := start + i
			records = append(records, store.Record{
				ID:      chunkID(meta.FileID, idx),
				Vector:  vec,
				Content: contents[idx],
				Metadata: store.Metadata{
					FileID: meta.FileID, FileName: meta.Name, FilePath: meta.Path,
					FileSize: meta.Size, FileType: meta.Type, FileHash: meta.Hash,
					ChunkIndex: idx, TotalChunks: len(chunks), ChunkStart: chunks[idx].Start,
					CreatedAt: now, ModifiedAt: meta.ModifiedAt, ProcessedAt: now,
					ModelVersion: s.deps.ModelName, ProcessingVersion: "1",
					SourceType: "file", Status: "active",
				},
			})
		}
		if err := s.deps.Store.Add(ctx, records); err != nil {
			return err
		}
		s.chunksIndexed.Add(int64(len(records)))

		if end < len(contents) {
			cp := store.Checkpoint{Stage: meta.FileID, Total: len(chunks), Embedded: end, EmbedderModel: s.deps.ModelName}
			if err := s.deps.Store.SaveCheckpoint(ctx, cp); err != nil {
				slog.Warn("sync_save_checkpoint_failed", slog.String("file_id", meta.FileID), slog.String("error", err.Error()))
			}
		}
	}

	return nil
}

func chunkID(fileID string, index int) string {
	return fmt.Sprintf("%s:%d", fileID, index)
}

// extLanguages maps a lowercased extension onto the tree-sitter language
// name chunk.DefaultRegistry knows about. Extensions for languages without
// a registered grammar (.java, .c, .cpp, .h, .rs, .rb) are deliberately
// absent: NudgeCodeBoundaries would no-op for them anyway.
var extLanguages = map[string]string{
	".go": "go", ".py": "python",
	".js": "javascript", ".mjs": "javascript", ".jsx": "jsx",
	".ts": "typescript", ".tsx": "tsx",
}

func languageForExt(ext string) (string, bool) {
	lang, ok := extLanguages[ext]
	return lang, ok
}

func contentChunkType(fileType string) chunk.Type {
	switch fileType {
	case "markdown":
		return chunk.TypeMarkdown
	case "code":
		return chunk.TypeCode
	case "json":
		return chunk.TypeJSON
	default:
		return chunk.TypeDefault
	}
}
