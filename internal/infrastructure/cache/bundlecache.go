// Package cache provides the bundle server's in-process TTL cache. It is
// intentionally process-local rather than Redis-backed: the bundle
// endpoint's response is cheap to regenerate and correctness only requires
// bounded staleness within one process, so sharing it across replicas would
// buy coherence nobody needs at the cost of a network hop per read.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// BundleCache is a TTL-bounded map keyed by "subscription:<token>". Get,
// Set, and Delete are the only operations the bundle server and engine
// need: there is no enumeration or eviction policy beyond TTL expiry.
type BundleCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
}

func NewBundleCache(ttl time.Duration) *BundleCache {
	return &BundleCache{entries: make(map[string]entry), ttl: ttl}
}

// Key builds the cache key for a subscription token.
func Key(token string) string {
	return "subscription:" + token
}

// Get returns the cached value and true if present and not yet expired.
// An expired entry is treated as absent but is not proactively evicted
// here — Set/Delete naturally replace or remove it, and a background sweep
// is unnecessary for a map this small.
func (c *BundleCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

// Set stores a value with the cache's configured TTL.
func (c *BundleCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Delete invalidates a single key. The engine calls this on extend and
// deactivate so a stale bundle is not served past those state changes; the
// traffic monitor does not call it when a subscription goes over its limit.
func (c *BundleCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
