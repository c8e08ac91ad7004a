// Package texture implements the TextureCache: a
// TileKey-keyed map of GPU texture handles, pruned periodically against
// the CPU tile cache's working set so GPU memory doesn't grow unbounded.
package texture

import (
	"sync"

	"github.com/pathview/viewer/internal/renderer"
	"github.com/pathview/viewer/internal/tiledata"
	"github.com/pathview/viewer/internal/tilekey"
)

// Presence is the subset of tilecache.Cache that Prune needs: a way to
// check whether a key is still in the CPU-side working set.
type Presence interface {
	Has(key tilekey.Key) bool
}

// Cache maps TileKey to GPU texture handles, lazily uploading via the
// given Renderer.
type Cache struct {
	mu       sync.Mutex
	renderer renderer.Renderer
	entries  map[tilekey.Key]renderer.TextureHandle
}

// New creates a Cache that uploads textures through r.
func New(r renderer.Renderer) *Cache {
	return &Cache{renderer: r, entries: make(map[tilekey.Key]renderer.TextureHandle)}
}

// GetOrCreate returns the texture for key, uploading it from data on
// first use.
func (c *Cache) GetOrCreate(key tilekey.Key, data *tiledata.Data) renderer.TextureHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.entries[key]; ok {
		return h
	}
	h := c.renderer.CreateTexture(data.Width, data.Height, data.Pix)
	c.entries[key] = h
	return h
}

// Prune destroys and drops every texture whose key is no longer present
// in tileCache.
func (c *Cache) Prune(tileCache Presence) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, h := range c.entries {
		if !tileCache.Has(key) {
			c.renderer.DestroyTexture(h)
			delete(c.entries, key)
		}
	}
}

// Clear destroys every texture.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, h := range c.entries {
		c.renderer.DestroyTexture(h)
		delete(c.entries, key)
	}
}

// Len reports the number of textures currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
