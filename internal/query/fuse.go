package query

import "github.com/docvault/docvault/internal/store"

// fuseWeights resolves [semanticWeight, 1-semanticWeight] for a hybrid
// search, defaulting to 0.7/0.3 when the caller didn't override it.
func fuseWeights(opts Options) [2]float64 {
	w := opts.SemanticWeight
	if w <= 0 {
		w = 0.7
	}
	return [2]float64{w, 1 - w}
}

// fuse is stage 4: compute a weighted score per unique (fileName,
// chunkIndex) key, merging duplicate hits by max(score) per strategy and
// accumulating hybridScore = Σ weight·score. weights is
// [semanticWeight, lexicalWeight]; either result slice may be nil for a
// single-strategy search, in which case its weight should already be 0.
func fuse(semantic []store.VectorResult, lexical []store.LexicalResult, weights [2]float64) []Hit {
	merged := make(map[fuseKey]*Hit)
	order := make([]fuseKey, 0, len(semantic)+len(lexical))

	getOrCreate := func(key fuseKey, id string, content string, meta store.Metadata) *Hit {
		if h, ok := merged[key]; ok {
			return h
		}
		h := &Hit{ID: id, Content: content, Metadata: meta}
		merged[key] = h
		order = append(order, key)
		return h
	}

	for _, r := range semantic {
		key := fuseKey{fileName: r.Metadata.FileName, chunkIndex: r.Metadata.ChunkIndex}
		h := getOrCreate(key, r.ID, r.Content, r.Metadata)
		score := float64(r.Score)
		h.Score = max(h.Score, score*weights[0])
		h.HybridScore += score * weights[0]
		h.FromSemantic = true
	}

	for _, r := range lexical {
		key := fuseKey{fileName: r.Metadata.FileName, chunkIndex: r.Metadata.ChunkIndex}
		h := getOrCreate(key, r.ID, r.Content, r.Metadata)
		score := r.Score
		h.Score = max(h.Score, score*weights[1])
		h.HybridScore += score * weights[1]
		h.FromLexical = true
		if len(r.MatchedTerms) == 0 {
			h.KeywordScore = score * 0.3
		} else {
			h.KeywordScore = score
		}
	}

	hits := make([]Hit, 0, len(order))
	for _, key := range order {
		hits = append(hits, *merged[key])
	}
	return hits
}
