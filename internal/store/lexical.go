package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/docvault/docvault/internal/errors"
)

const (
	codeTokenizerName = "docvault_code_tokenizer"
	codeStopFilterName = "docvault_code_stop"
	codeAnalyzerName   = "docvault_code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(codeStopFilterName, codeStopFilterConstructor)
}

// lexicalIndex is the full-text index maintained on document content. It
// stores only `content`; chunk metadata lives in sqliteDocs and is joined
// back in by id after a search.
type lexicalIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
}

type lexicalDoc struct {
	Content string `json:"content"`
}

func openLexicalIndex(dataDir string) (*lexicalIndex, error) {
	path := filepath.Join(dataDir, "fulltext.bleve")

	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, errors.VectorStoreError("build full-text index mapping", err)
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		if mkErr := os.MkdirAll(dataDir, 0o755); mkErr != nil {
			return nil, errors.VectorStoreError("create data dir", mkErr)
		}
		idx, err = bleve.New(path, indexMapping)
	}
	if err != nil {
		return nil, errors.VectorStoreError("open full-text index", err)
	}

	return &lexicalIndex{index: idx, path: path}, nil
}

func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}
	im.DefaultAnalyzer = codeAnalyzerName
	return im, nil
}

func (l *lexicalIndex) upsertBatch(ids []string, contents []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := l.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, lexicalDoc{Content: contents[i]}); err != nil {
			return errors.VectorStoreError(fmt.Sprintf("index document %s", id), err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return errors.VectorStoreError("execute full-text batch", err)
	}
	return nil
}

func (l *lexicalIndex) deleteBatch(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := l.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := l.index.Batch(batch); err != nil {
		return errors.VectorStoreError("delete from full-text index", err)
	}
	return nil
}

func (l *lexicalIndex) deleteAll() error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()

	if err := l.index.Close(); err != nil {
		return errors.VectorStoreError("close full-text index before reset", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return errors.VectorStoreError("remove full-text index", err)
	}

	im, err := buildIndexMapping()
	if err != nil {
		return errors.VectorStoreError("rebuild full-text mapping", err)
	}
	idx, err := bleve.New(path, im)
	if err != nil {
		return errors.VectorStoreError("recreate full-text index", err)
	}

	l.mu.Lock()
	l.index = idx
	l.mu.Unlock()
	return nil
}

type lexicalHit struct {
	ID           string
	Score        float64
	MatchedTerms []string
}

func (l *lexicalIndex) search(ctx context.Context, query string, limit int) ([]lexicalHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.IncludeLocations = true

	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.VectorStoreError("full-text search", err)
	}

	hits := make([]lexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		terms := make(map[string]struct{})
		for field, locations := range hit.Locations {
			if field != "content" {
				continue
			}
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
		matched := make([]string, 0, len(terms))
		for t := range terms {
			matched = append(matched, t)
		}
		hits = append(hits, lexicalHit{ID: hit.ID, Score: hit.Score, MatchedTerms: matched})
	}
	return hits, nil
}

// allIDs enumerates every document id in the index, used by
// CheckConsistency to diff against SQLite's id set.
func (l *lexicalIndex) allIDs(ctx context.Context) (map[string]struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count, err := l.index.DocCount()
	if err != nil {
		return nil, errors.VectorStoreError("count full-text docs", err)
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	req.Fields = nil

	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.VectorStoreError("enumerate full-text ids", err)
	}

	out := make(map[string]struct{}, len(result.Hits))
	for _, hit := range result.Hits {
		out[hit.ID] = struct{}{}
	}
	return out, nil
}

func (l *lexicalIndex) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index.Close()
}

// codeTokenizerConstructor registers the project's camelCase/snake_case
// aware tokenizer (tokenizer.go) as a Bleve tokenizer.
func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{stopWords: BuildStopWordMap(DefaultCodeStopWords)}, nil
}

type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// DefaultCodeStopWords filters common programming keywords from the
// full-text index so they don't dominate term-frequency scoring.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}
