package store

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// metadataCacheKey is the single key under which listFileMetadata's result
// is cached; there is exactly one cached value per store (a map), not one
// entry per fileId, so a size-1 expirable LRU is sufficient.
const metadataCacheKey = "listFileMetadata"

// metadataCache wraps an expirable LRU holding the single cached result of
// listFileMetadata, invalidated by any mutating store operation.
type metadataCache struct {
	mu    sync.Mutex
	cache *lru.LRU[string, map[string]FileMetaSnapshot]
}

func newMetadataCache(ttl time.Duration) *metadataCache {
	return &metadataCache{cache: lru.NewLRU[string, map[string]FileMetaSnapshot](1, nil, ttl)}
}

func (c *metadataCache) get() (map[string]FileMetaSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(metadataCacheKey)
}

func (c *metadataCache) set(snapshot map[string]FileMetaSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(metadataCacheKey, snapshot)
}

func (c *metadataCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(metadataCacheKey)
}
