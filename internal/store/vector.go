package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// vectorIndex is the in-memory ANN index over document vectors, keyed by
// the same string id as the documents table. coder/hnsw only accepts
// integer keys, so an id<->key mapping is maintained alongside the graph.
// vectors is kept alongside the graph (rather than read back from it) so
// save() does not depend on a graph node-lookup API.
type vectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	vectors map[uint64][]float32
	nextKey uint64
	dims    int
}

// vectorIndexSnapshot is the on-disk persistence format.
type vectorIndexSnapshot struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
	Nodes   []hnswNodeSnapshot
}

type hnswNodeSnapshot struct {
	Key    uint64
	Vector []float32
}

func newVectorIndex(dims int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &vectorIndex{
		graph:   graph,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[uint64][]float32),
		dims:    dims,
	}
}

// upsert replaces the vector for id (lazy delete: coder/hnsw cannot safely
// remove a graph node, so a prior key is orphaned rather than removed).
func (v *vectorIndex) upsert(id string, vec []float32) error {
	if len(vec) != v.dims {
		return ErrDimensionMismatch{Expected: v.dims, Got: len(vec)}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if existing, ok := v.idMap[id]; ok {
		delete(v.keyMap, existing)
		delete(v.vectors, existing)
	}

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeVectorInPlace(normalized)

	key := v.nextKey
	v.nextKey++
	v.graph.Add(hnsw.MakeNode(key, normalized))
	v.idMap[id] = key
	v.keyMap[key] = id
	v.vectors[key] = normalized
	return nil
}

func (v *vectorIndex) delete(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if key, ok := v.idMap[id]; ok {
		delete(v.keyMap, key)
		delete(v.idMap, id)
		delete(v.vectors, key)
	}
}

func (v *vectorIndex) deleteAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.graph = hnsw.NewGraph[uint64]()
	v.graph.Distance = hnsw.CosineDistance
	v.graph.M = 16
	v.graph.EfSearch = 64
	v.graph.Ml = 0.25
	v.idMap = make(map[string]uint64)
	v.keyMap = make(map[uint64]string)
	v.vectors = make(map[uint64][]float32)
}

// search returns up to k (id, score) pairs ordered by descending score.
// Overfetch beyond k is the caller's responsibility when filters follow.
func (v *vectorIndex) search(query []float32, k int) ([]struct {
	ID    string
	Score float32
}, error) {
	if len(query) != v.dims {
		return nil, ErrDimensionMismatch{Expected: v.dims, Got: len(query)}
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	neighbors := v.graph.Search(q, k)
	results := make([]struct {
		ID    string
		Score float32
	}, 0, len(neighbors))

	for _, n := range neighbors {
		id, ok := v.keyMap[n.Key]
		if !ok {
			continue // orphaned key from a lazy-deleted row
		}
		dist := v.graph.Distance(q, n.Value)
		results = append(results, struct {
			ID    string
			Score float32
		}{ID: id, Score: 1 - dist})
	}
	return results, nil
}

func (v *vectorIndex) save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector index dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vector snapshot: %w", err)
	}
	defer f.Close()

	snap := vectorIndexSnapshot{
		IDMap:   v.idMap,
		NextKey: v.nextKey,
		Dims:    v.dims,
	}
	for key, vec := range v.vectors {
		snap.Nodes = append(snap.Nodes, hnswNodeSnapshot{Key: key, Vector: vec})
	}

	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode vector snapshot: %w", err)
	}
	return w.Flush()
}

func loadVectorIndex(path string, dims int) (*vectorIndex, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return newVectorIndex(dims), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open vector snapshot: %w", err)
	}
	defer f.Close()

	var snap vectorIndexSnapshot
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode vector snapshot: %w", err)
	}

	idx := newVectorIndex(dims)
	idx.idMap = snap.IDMap
	idx.nextKey = snap.NextKey
	idx.keyMap = make(map[uint64]string, len(snap.IDMap))
	for id, key := range snap.IDMap {
		idx.keyMap[key] = id
	}
	for _, n := range snap.Nodes {
		idx.graph.Add(hnsw.MakeNode(n.Key, n.Vector))
		idx.vectors[n.Key] = n.Vector
	}
	return idx, nil
}

// normalizeVectorInPlace L2-normalizes vec so cosine distance behaves as
// expected regardless of the embedder's own output scale.
func normalizeVectorInPlace(vec []float32) {
	var sumSq float64
	for _, x := range vec {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= norm
	}
}
