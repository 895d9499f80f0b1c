package dbproxy

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheService is DBProxy's per-category TTL cache. Each category
// (voteState, candidates, turnout) gets its own fixed-TTL LRU
// (30s/300s/60s respectively); Invalidate(pattern) sweeps matching keys
// out of every category.
type CacheService struct {
	mu         sync.RWMutex
	categories map[string]*expirable.LRU[string, []byte]
}

// NewCacheService returns an empty CacheService.
func NewCacheService() *CacheService {
	return &CacheService{categories: make(map[string]*expirable.LRU[string, []byte])}
}

func (c *CacheService) categoryFor(key string, ttl time.Duration) *expirable.LRU[string, []byte] {
	category := categoryOf(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	lru, ok := c.categories[category]
	if !ok {
		lru = expirable.NewLRU[string, []byte](4096, nil, ttl)
		c.categories[category] = lru
	}
	return lru
}

// categoryOf extracts the prefix_ segment of a cache key, used both to pick the category's LRU and to drive
// Invalidate's matching.
func categoryOf(key string) string {
	if idx := strings.IndexByte(key, '_'); idx >= 0 {
		return key[:idx]
	}
	return key
}

// Get returns the cached value for key, or ok=false on miss or expiry.
func (c *CacheService) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	lru, ok := c.categories[categoryOf(key)]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return lru.Get(key)
}

// Set overwrites key with value, expiring after ttl.
func (c *CacheService) Set(key string, value []byte, ttl time.Duration) {
	c.categoryFor(key, ttl).Add(key, value)
}

// Invalidate removes every key whose category matches pattern, a
// "prefix_*" glob.
func (c *CacheService) Invalidate(pattern string) {
	prefix := strings.TrimSuffix(pattern, "*")
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, lru := range c.categories {
		for _, key := range lru.Keys() {
			if strings.HasPrefix(key, prefix) {
				lru.Remove(key)
			}
		}
	}
}
