package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docvault/docvault/internal/embedding"
	"github.com/docvault/docvault/internal/store"
)

// Pipeline runs the six-stage query path over a VectorStore.
type Pipeline struct {
	store      store.VectorStore
	embedder   embedding.Port
	classifier *classifier
}

// New builds a Pipeline. Both arguments are required.
func New(vs store.VectorStore, embedder embedding.Port) (*Pipeline, error) {
	if vs == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Pipeline{store: vs, embedder: embedder, classifier: newClassifier()}, nil
}

// Search runs the full pipeline: process, select strategies, execute in
// parallel, fuse, rerank, post-filter.
func (p *Pipeline) Search(ctx context.Context, rawQuery string, opts Options) (*Result, error) {
	start := time.Now()
	opts = applyDefaults(opts)

	processed := Process(rawQuery)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	semantic, lexical, err := p.execute(searchCtx, processed, opts)
	if err != nil {
		return nil, err
	}

	if opts.SemanticWeight <= 0 {
		opts.SemanticWeight = p.classifier.semanticWeight(rawQuery)
	}

	var hits []Hit
	switch {
	case len(semantic) > 0 && len(lexical) > 0:
		hits = fuse(semantic, lexical, fuseWeights(opts))
	case len(semantic) > 0:
		hits = fuse(semantic, nil, [2]float64{1.0, 0})
	default:
		hits = fuse(nil, lexical, [2]float64{0, 1.0})
	}

	hits = rerank(processed, hits)
	hits = postFilter(hits, opts)

	return &Result{Query: processed, Hits: hits, Elapsed: time.Since(start)}, nil
}

// applyDefaults fills zero-valued Options fields with spec defaults.
func applyDefaults(opts Options) Options {
	defaults := DefaultOptions()
	if opts.SearchType == "" {
		opts.SearchType = defaults.SearchType
	}
	if opts.TopK <= 0 {
		opts.TopK = defaults.TopK
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	return opts
}

// Process is stage 1: normalize the query and extract keyword tokens.
func Process(raw string) ProcessedQuery {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	var tokens []string
	for _, tok := range strings.Fields(normalized) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]{}")
		if len(tok) > 2 {
			tokens = append(tokens, tok)
		}
	}
	return ProcessedQuery{
		Raw:        raw,
		Normalized: normalized,
		Tokens:     tokens,
		Intent:     Intent{Type: IntentFactual, Confidence: 0.8},
	}
}

// execute is stages 2-3: pick the strategy set from opts.SearchType and
// run the chosen strategies concurrently, each bounded by ctx's deadline.
func (p *Pipeline) execute(ctx context.Context, q ProcessedQuery, opts Options) (semantic []store.VectorResult, lexical []store.LexicalResult, err error) {
	runSemantic := opts.SearchType == SearchSemantic || opts.SearchType == SearchHybrid
	runLexical := opts.SearchType == SearchLexical || opts.SearchType == SearchHybrid

	filters := store.SearchFilters{
		FileTypes:       opts.FileTypes,
		MetadataFilters: opts.MetadataFilters,
		ScoreThreshold:  opts.ScoreThreshold,
	}

	g, gctx := errgroup.WithContext(ctx)

	if runSemantic {
		g.Go(func() error {
			vec, embedErr := p.embedder.EmbedQuery(gctx, q.Normalized)
			if embedErr != nil {
				return fmt.Errorf("embed query: %w", embedErr)
			}
			res, searchErr := p.store.VectorSearch(gctx, vec, store.VectorSearchOptions{
				TopK: opts.TopK * 2, Filters: filters,
			})
			if searchErr != nil {
				return fmt.Errorf("vector search: %w", searchErr)
			}
			semantic = res
			return nil
		})
	}

	if runLexical {
		g.Go(func() error {
			res, searchErr := p.store.LexicalSearch(gctx, q.Normalized, store.LexicalSearchOptions{
				TopK: opts.TopK * 2, Filters: filters,
			})
			if searchErr != nil {
				return fmt.Errorf("lexical search: %w", searchErr)
			}
			lexical = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return semantic, lexical, nil
}
