// Package tilecache implements a byte-capped LRU cache of decoded tiles,
// built on hashicorp/golang-lru/v2's ordered doubly-linked-list core (the
// same library the teacher server uses for its query-result cache in
// internal/cache/cache.go) with a byte-budget layer on top, since that
// library's own capacity is entry-count bounded rather than byte bounded.
package tilecache

import (
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pathview/viewer/internal/tiledata"
	"github.com/pathview/viewer/internal/tilekey"
)

// unboundedEntries is the entry-count cap handed to the underlying LRU;
// eviction is instead driven entirely by the byte budget below, so this
// only needs to be large enough to never trigger on its own.
const unboundedEntries = math.MaxInt32

// Config configures a Cache.
type Config struct {
	// MaxBytes is the byte budget. A tile larger than MaxBytes is still
	// inserted (it evicts everything else) — the policy favors
	// availability over a zero-size guarantee.
	MaxBytes int64
}

// Stats reports cache hit/miss counters and current memory usage.
type Stats struct {
	Hits        uint64
	Misses      uint64
	TileCount   int
	MemoryUsage int64
	MaxMemory   int64
}

// HitRate returns Hits / (Hits + Misses), or 0 if there have been no
// lookups at all.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a byte-capped LRU of tilekey.Key -> *tiledata.Data.
type Cache struct {
	mu       sync.Mutex
	inner    *lru.Cache[tilekey.Key, *tiledata.Data]
	maxBytes int64
	usage    int64
	hits     uint64
	misses   uint64
}

// New creates a Cache with the given byte budget.
func New(cfg Config) *Cache {
	c := &Cache{maxBytes: cfg.MaxBytes}
	inner, err := lru.NewWithEvict[tilekey.Key, *tiledata.Data](unboundedEntries, c.onEvict)
	if err != nil {
		// Only possible if unboundedEntries <= 0, which it never is.
		panic(err)
	}
	c.inner = inner
	return c
}

// onEvict runs synchronously on the goroutine already holding c.mu, inside
// Insert/Clear; it is not itself concurrency-safe to call independently.
func (c *Cache) onEvict(_ tilekey.Key, data *tiledata.Data) {
	c.usage -= data.Bytes()
}

// Get returns the tile for key, if present, promoting it to
// most-recently-used and recording a hit; otherwise records a miss.
func (c *Cache) Get(key tilekey.Key) (*tiledata.Data, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.inner.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return d, ok
}

// Has reports whether key is present without affecting LRU order or stats.
func (c *Cache) Has(key tilekey.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.inner.Peek(key)
	return ok
}

// Insert adds data under key at the most-recently-used position, then
// evicts least-recently-used entries until usage fits the byte budget. If
// key is already present, the new data is discarded and the existing entry
// wins — insertion never fails and never races producers against each
// other on the same key.
func (c *Cache) Insert(key tilekey.Key, data *tiledata.Data) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inner.Contains(key) {
		return
	}

	c.inner.Add(key, data)
	c.usage += data.Bytes()

	for c.usage > c.maxBytes && c.inner.Len() > 1 {
		c.inner.RemoveOldest()
	}
}

// Clear drops all entries and resets memory usage. Hit/miss statistics
// persist across Clear.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inner.Purge()
	c.usage = 0
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		TileCount:   c.inner.Len(),
		MemoryUsage: c.usage,
		MaxMemory:   c.maxBytes,
	}
}
