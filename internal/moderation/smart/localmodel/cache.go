package localmodel

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// bundle pairs a loaded Predictor with the mtime it was loaded at, so a
// cache hit can be invalidated by a single stat() comparison.
type bundle struct {
	predictor Predictor
	mtime     time.Time
}

// Cache is the per-profile LRU-of-one in-memory model-bundle cache of
// spec.md §4.3 ("A per-profile LRU-of-one in-memory cache stores the
// loaded bundle keyed by mtime; any mtime change invalidates and
// reloads"). Backed by hashicorp/golang-lru/v2 sized for a handful of
// concurrently hot profiles rather than truly one entry, since a node
// typically serves more than one profile at once.
type Cache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, *bundle]
}

// NewCache builds a Cache holding up to size profiles' model bundles.
func NewCache(size int) *Cache {
	inner, _ := lru.New[string, *bundle](size)
	return &Cache{inner: inner}
}

// Loader loads a fresh Predictor for a profile; Get calls it when no entry
// is cached for the key or the cached entry's mtime differs from the
// model file's current mtime.
type Loader func() (Predictor, error)

// Get returns the cached Predictor for key if its recorded mtime matches
// currentMtime; otherwise it calls load, caches the result, and returns it.
func (c *Cache) Get(key string, currentMtime time.Time, load Loader) (Predictor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.inner.Get(key); ok && b.mtime.Equal(currentMtime) {
		return b.predictor, nil
	}

	predictor, err := load()
	if err != nil {
		return nil, err
	}

	c.inner.Add(key, &bundle{predictor: predictor, mtime: currentMtime})

	return predictor, nil
}

// Invalidate drops the cached entry for key, e.g. after the Memory Guard
// evicts caches under RSS pressure (spec.md §4.6).
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inner.Remove(key)
}

// Name identifies this cache in Memory Guard logs (spec.md §4.6).
func (c *Cache) Name() string { return "local-model-cache" }

// Len reports the number of cached bundles, exposed so the Memory Guard can
// log cache size alongside RSS.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inner.Len()
}

// Clear evicts every cached bundle (spec.md §4.6 "evicts in-memory model
// caches").
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inner.Purge()
}
