// Package snapshotcache implements the bounded, TTL-swept store of recently
// rendered frame snapshots: an LRU-ordered UUID-keyed map plus
// a small ring buffer of the most recent stream-frame ids.
package snapshotcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is one cached rendered frame.
type Snapshot struct {
	ID         uuid.UUID
	PNGBytes   []byte
	Width      int
	Height     int
	LastAccess time.Time
}

// Defaults applied by Config.applyDefaults.
const (
	DefaultMaxEntries      = 64
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = 30 * time.Second
	DefaultFrameRingSize   = 16
)

// Config sizes a Cache.
type Config struct {
	MaxEntries      int
	TTL             time.Duration
	CleanupInterval time.Duration
	FrameRingSize   int
}

func (c *Config) applyDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.FrameRingSize <= 0 {
		c.FrameRingSize = DefaultFrameRingSize
	}
}

type entry struct {
	snap *Snapshot
}

// Cache is a bounded, TTL-swept UUID -> Snapshot store with an LRU eviction
// order and a ring buffer of the most recent stream-frame ids.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[uuid.UUID]*list.Element
	order   *list.List // front = most recently used

	ring    []uuid.UUID
	ringLen int
	ringPos int

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Cache and starts its background TTL sweeper. Call Stop to
// shut the sweeper down.
func New(cfg Config) *Cache {
	cfg.applyDefaults()
	c := &Cache{
		cfg:     cfg,
		entries: make(map[uuid.UUID]*list.Element),
		order:   list.New(),
		ring:    make([]uuid.UUID, cfg.FrameRingSize),
		stopCh:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweepLoop()
	return c
}

// Stop halts the background sweeper. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
	})
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for id, el := range c.entries {
		snap := el.Value.(*entry).snap
		if now.Sub(snap.LastAccess) >= c.cfg.TTL {
			c.order.Remove(el)
			delete(c.entries, id)
		}
	}
}

// Add stores a new snapshot, evicting least-recently-used entries while at
// capacity, and returns its generated id.
func (c *Cache) Add(pngBytes []byte, width, height int) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.entries) >= c.cfg.MaxEntries {
		back := c.order.Back()
		if back == nil {
			break
		}
		lru := back.Value.(*entry).snap
		c.order.Remove(back)
		delete(c.entries, lru.ID)
	}

	id := uuid.New()
	snap := &Snapshot{ID: id, PNGBytes: pngBytes, Width: width, Height: height, LastAccess: time.Now()}
	el := c.order.PushFront(&entry{snap: snap})
	c.entries[id] = el
	return id
}

// Get returns the snapshot for id, refreshing its last-access time and
// promoting it to most-recently-used.
func (c *Cache) Get(id uuid.UUID) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	snap := el.Value.(*entry).snap
	snap.LastAccess = time.Now()
	c.order.MoveToFront(el)
	return snap, true
}

// Len reports how many snapshots are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RecordFrame appends id to the ring of the most recently produced
// stream-frame ids, overwriting the oldest entry once full.
func (c *Cache) RecordFrame(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring[c.ringPos] = id
	c.ringPos = (c.ringPos + 1) % len(c.ring)
	if c.ringLen < len(c.ring) {
		c.ringLen++
	}
}

// LatestFrames returns recorded frame ids, most recent first.
func (c *Cache) LatestFrames() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]uuid.UUID, 0, c.ringLen)
	for i := 0; i < c.ringLen; i++ {
		pos := (c.ringPos - 1 - i + len(c.ring)) % len(c.ring)
		out = append(out, c.ring[pos])
	}
	return out
}
