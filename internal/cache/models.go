package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/edumetrics/funnelcast/internal/forest"
)

// ModelCache keeps trained tree ensembles in memory per forecast
// stream so repeated requests for the same brand/metric skip the fit.
// Size-bounded with LRU eviction; entries expire after ttl so a stream
// whose data keeps arriving gets retrained on fresh observations.
type ModelCache struct {
	cache *lru.Cache[string, *cachedModel]
	ttl   time.Duration
	mu    sync.RWMutex

	// Counters are atomic so Get can bump them under the read lock.
	hits   atomic.Uint64
	misses atomic.Uint64
}

type cachedModel struct {
	predictor *forest.Predictor
	expiresAt time.Time
}

// NewModelCache creates a cache holding at most size trained models.
// ttl of 0 disables expiration.
func NewModelCache(size int, ttl time.Duration) (*ModelCache, error) {
	c, err := lru.New[string, *cachedModel](size)
	if err != nil {
		return nil, err
	}
	return &ModelCache{cache: c, ttl: ttl}, nil
}

// Get returns the cached predictor for a stream key, or false when the
// stream has no fresh model.
func (c *ModelCache) Get(key string) (*forest.Predictor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry.predictor, true
}

// Put stores a freshly trained predictor for a stream key.
func (c *ModelCache) Put(key string, p *forest.Predictor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Time{}
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	c.cache.Add(key, &cachedModel{predictor: p, expiresAt: expiresAt})
}

// Invalidate drops a stream's model, forcing a retrain on next use.
// Called when new observations arrive for the stream.
func (c *ModelCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}

// Len returns the number of cached models.
func (c *ModelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache.Len()
}

// Stats reports hit/miss counters for the metrics endpoint.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

func (c *ModelCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, Size: c.cache.Len(), HitRate: hitRate}
}

// CleanupExpired sweeps expired models out of the cache. Run
// periodically from a background goroutine when TTL is enabled.
func (c *ModelCache) CleanupExpired() int {
	if c.ttl == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range c.cache.Keys() {
		if entry, ok := c.cache.Peek(key); ok && now.After(entry.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}
