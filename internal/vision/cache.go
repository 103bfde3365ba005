package vision

import (
	"context"
	"sync"
	"time"
)

type ocrEntry struct {
	result   *OCRResult
	cachedAt time.Time
}

// OCRCache is a bounded cache keyed on frame content hash. Eviction is
// insertion-order (oldest first) once maxEntries is reached; entries
// also expire after ttl. Only successful results are cached.
type OCRCache struct {
	mu         sync.RWMutex
	entries    map[string]*ocrEntry
	order      []string
	maxEntries int
	ttl        time.Duration
}

func NewOCRCache(maxEntries int, ttl time.Duration) *OCRCache {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &OCRCache{
		entries:    make(map[string]*ocrEntry, maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (c *OCRCache) Get(hash string) *OCRResult {
	c.mu.RLock()
	entry, ok := c.entries[hash]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	if time.Since(entry.cachedAt) > c.ttl {
		// Expired, drop lazily. The recheck guards against a fresh
		// replacement raced in between the two locks.
		c.mu.Lock()
		if cur, ok := c.entries[hash]; ok && cur == entry {
			c.dropLocked(hash)
		}
		c.mu.Unlock()
		return nil
	}
	return entry.result
}

// dropLocked removes an entry together with its eviction slot, so a
// later Put of the same key cannot leave a duplicate in order.
func (c *OCRCache) dropLocked(hash string) {
	delete(c.entries, hash)
	for i, h := range c.order {
		if h == hash {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *OCRCache) Put(hash string, result *OCRResult) {
	if result == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[hash]; !exists {
		for len(c.order) >= c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, hash)
	}
	c.entries[hash] = &ocrEntry{result: result, cachedAt: time.Now()}
}

func (c *OCRCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ OCRProvider = (*CachedOCR)(nil)

// CachedOCR wraps an OCRProvider with the content-hash cache: identical
// frames skip the provider round trip entirely.
type CachedOCR struct {
	inner OCRProvider
	cache *OCRCache
}

func NewCachedOCR(inner OCRProvider, cache *OCRCache) *CachedOCR {
	return &CachedOCR{inner: inner, cache: cache}
}

func (c *CachedOCR) Analyze(ctx context.Context, frame *Frame) (*OCRResult, error) {
	if hit := c.cache.Get(frame.Hash); hit != nil {
		return hit, nil
	}
	result, err := c.inner.Analyze(ctx, frame)
	if err != nil {
		return nil, err
	}
	c.cache.Put(frame.Hash, result)
	return result, nil
}
