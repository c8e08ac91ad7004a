package snapshotcache

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c := New(cfg)
	t.Cleanup(c.Stop)
	return c
}

func TestAddAndGetRoundTrip(t *testing.T) {
	c := newTestCache(t, Config{CleanupInterval: time.Hour})
	id := c.Add([]byte("png"), 10, 20)

	snap, ok := c.Get(id)
	if !ok {
		t.Fatal("expected to find the snapshot just added")
	}
	if snap.Width != 10 || snap.Height != 20 {
		t.Errorf("dims = %dx%d, want 10x20", snap.Width, snap.Height)
	}
	if string(snap.PNGBytes) != "png" {
		t.Errorf("PNGBytes = %q, want %q", snap.PNGBytes, "png")
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	c := newTestCache(t, Config{CleanupInterval: time.Hour})
	_, ok := c.Get(uuid.New())
	if ok {
		t.Error("expected Get on an unknown id to fail")
	}
}

func TestAddEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 2, CleanupInterval: time.Hour})

	a := c.Add([]byte("a"), 1, 1)
	b := c.Add([]byte("b"), 1, 1)
	// Touch a so b becomes the least-recently-used entry.
	c.Get(a)
	_ = c.Add([]byte("c"), 1, 1)

	if _, ok := c.Get(b); ok {
		t.Error("expected b to be evicted as least-recently-used")
	}
	if _, ok := c.Get(a); !ok {
		t.Error("expected a to survive eviction (recently touched)")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestBackgroundSweeperRemovesExpiredEntries(t *testing.T) {
	c := newTestCache(t, Config{TTL: 20 * time.Millisecond, CleanupInterval: 20 * time.Millisecond})
	id := c.Add([]byte("stale"), 1, 1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		// Look the entry up directly: Get would refresh its last access and
		// keep it from ever expiring.
		c.mu.Lock()
		_, present := c.entries[id]
		c.mu.Unlock()
		if !present {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the sweeper to evict the expired snapshot within the deadline")
}

func TestRecordFrameRingOrdersMostRecentFirst(t *testing.T) {
	c := newTestCache(t, Config{FrameRingSize: 3, CleanupInterval: time.Hour})
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		c.RecordFrame(id)
	}

	got := c.LatestFrames()
	want := []uuid.UUID{ids[3], ids[2], ids[1]}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
