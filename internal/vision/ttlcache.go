package vision

import "time"

// ReadState classifies a cache read. Expired is reported distinctly from
// Miss purely for diagnostics; both require recomputation.
type ReadState uint8

const (
	ReadMiss ReadState = iota
	ReadHit
	ReadExpired
)

func (r ReadState) String() string {
	switch r {
	case ReadHit:
		return "hit"
	case ReadExpired:
		return "expired"
	}
	return "miss"
}

type cacheEntry[V any] struct {
	value     V
	writtenAt time.Time
}

// Cache is a cross-batch TTL cache. Entries outlive one invocation but
// expire within seconds, bounding how long a stale occluder or lighting
// change can linger. Mutated only by the single orchestrator goroutine.
type Cache[V any] struct {
	ttl       time.Duration
	entries   map[string]cacheEntry[V]
	lastPrune time.Time
}

func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]cacheEntry[V]),
	}
}

// Get returns the value for key if present and fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	st, v := c.GetWithMeta(key)
	return v, st == ReadHit
}

// GetWithMeta returns the read classification alongside the value. The
// value is only meaningful for ReadHit.
func (c *Cache[V]) GetWithMeta(key string) (ReadState, V) {
	var zero V
	e, ok := c.entries[key]
	if !ok {
		return ReadMiss, zero
	}
	if time.Since(e.writtenAt) > c.ttl {
		return ReadExpired, zero
	}
	return ReadHit, e.value
}

// Set writes a value with the current timestamp.
func (c *Cache[V]) Set(key string, value V) {
	c.entries[key] = cacheEntry[V]{value: value, writtenAt: time.Now()}
}

// PruneIfDue removes all expired entries, but only when at least interval
// has elapsed since the last prune, bounding pruning cost per invocation.
// Returns the number of entries removed.
func (c *Cache[V]) PruneIfDue(interval time.Duration) int {
	now := time.Now()
	if now.Sub(c.lastPrune) < interval {
		return 0
	}
	c.lastPrune = now
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.writtenAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear drops every entry. Called by the owning layer when an external
// event invalidates cached results faster than the TTL would.
func (c *Cache[V]) Clear() {
	c.entries = make(map[string]cacheEntry[V])
}

// Len returns the number of stored entries, fresh or expired.
func (c *Cache[V]) Len() int { return len(c.entries) }
