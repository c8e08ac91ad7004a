// Package tileengine implements level selection, visible-tile enumeration,
// the async fetch worker pool, and progressive fallback rendering. The
// worker pool is modeled on a job-queue idiom: a bounded channel of work, a
// dedup map guarded by a mutex, and a sync.Once-guarded shutdown that
// drains the pool before returning.
package tileengine

import (
	"log"
	"math"
	"sync"

	"github.com/pathview/viewer/internal/geom"
	"github.com/pathview/viewer/internal/logging"
	"github.com/pathview/viewer/internal/slidesource"
	"github.com/pathview/viewer/internal/tiledata"
	"github.com/pathview/viewer/internal/tilekey"
	"github.com/pathview/viewer/internal/viewport"
)

// TileSize is the fixed tile edge length in slide pixels at the level it
// was fetched from.
const TileSize = 512

// DefaultWorkers and DefaultQueueSize size the fetch pool when a caller
// passes a zero Config.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
	pruneInterval    = 60
)

// SelectLevel picks the pyramid level whose downsample is closest to
// 1/zoom, breaking ties toward the smaller (higher-resolution) downsample.
func SelectLevel(downsamples []float64, zoom float64) int {
	if len(downsamples) == 0 {
		return 0
	}
	target := 1 / zoom
	best := 0
	bestDiff := math.Abs(downsamples[0] - target)
	for i := 1; i < len(downsamples); i++ {
		diff := math.Abs(downsamples[i] - target)
		if diff < bestDiff || (diff == bestDiff && downsamples[i] < downsamples[best]) {
			bestDiff = diff
			best = i
		}
	}
	return best
}

func clampInt64(x, lo, hi int64) int64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// VisibleTiles enumerates the TileKeys covering region (in level-0
// coordinates) at the given level and downsample, clamped to the level's
// pixel dimensions.
func VisibleTiles(level int32, region geom.Rect, downsample float64, levelW, levelH int64) []tilekey.Key {
	if downsample <= 0 || levelW <= 0 || levelH <= 0 {
		return nil
	}

	x0 := clampInt64(int64(math.Floor(region.X/downsample)), 0, levelW)
	y0 := clampInt64(int64(math.Floor(region.Y/downsample)), 0, levelH)
	x1 := clampInt64(int64(math.Floor(region.Right()/downsample)), 0, levelW)
	y1 := clampInt64(int64(math.Floor(region.Bottom()/downsample)), 0, levelH)

	tx0, ty0 := x0/TileSize, y0/TileSize
	tx1, ty1 := x1/TileSize, y1/TileSize

	keys := make([]tilekey.Key, 0, (tx1-tx0+1)*(ty1-ty0+1))
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			keys = append(keys, tilekey.New(level, int32(tx), int32(ty)))
		}
	}
	return keys
}

// TileScreenRect converts a tile's level-space footprint back to slide
// coordinates and through the viewport to screen coordinates, rounding
// outward (floor origin, ceil size) so adjacent tiles never leave a gap.
func TileScreenRect(v *viewport.Viewport, key tilekey.Key, downsample float64) geom.Rect {
	slideX0 := float64(key.X) * TileSize * downsample
	slideY0 := float64(key.Y) * TileSize * downsample
	slideX1 := slideX0 + TileSize*downsample
	slideY1 := slideY0 + TileSize*downsample

	topLeft := v.SlideToScreen(geom.Vec2{X: slideX0, Y: slideY0})
	bottomRight := v.SlideToScreen(geom.Vec2{X: slideX1, Y: slideY1})

	x := math.Floor(topLeft.X)
	y := math.Floor(topLeft.Y)
	return geom.Rect{
		X: x, Y: y,
		W: math.Ceil(bottomRight.X - x),
		H: math.Ceil(bottomRight.Y - y),
	}
}

// Resolution is what the caller should draw for a requested tile this
// frame: either the exact tile, a coarser cached ancestor, or nothing.
type Resolution struct {
	Key        tilekey.Key
	Data       *tiledata.Data
	IsAncestor bool
}

// TileCache is the subset of tilecache.Cache the engine depends on.
type TileCache interface {
	Get(key tilekey.Key) (*tiledata.Data, bool)
	Has(key tilekey.Key) bool
	Insert(key tilekey.Key, data *tiledata.Data)
}

// Config sizes the fetch worker pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Engine drives tile fetches for a single SlideSource against a shared
// TileCache.
type Engine struct {
	source slidesource.Source
	cache  TileCache
	log    *log.Logger

	workers int
	queue   chan tilekey.Key

	mu       sync.Mutex
	inflight map[tilekey.Key]bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	frameCount int
}

// New constructs an Engine. Call Start to spin up its worker pool.
func New(source slidesource.Source, cache TileCache, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Engine{
		source:   source,
		cache:    cache,
		log:      logging.Component("tileengine"),
		workers:  cfg.Workers,
		queue:    make(chan tilekey.Key, cfg.QueueSize),
		inflight: make(map[tilekey.Key]bool),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the fetch worker pool.
func (e *Engine) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop drains in-flight fetches and shuts the worker pool down. Safe to
// call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		close(e.queue)
		e.wg.Wait()
	})
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for key := range e.queue {
		e.fetch(key)
	}
}

func (e *Engine) fetch(key tilekey.Key) {
	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}()

	downsample := e.source.LevelDownsample(key.Level)
	levelW, levelH := e.source.LevelDimensions(key.Level)

	x0 := int64(key.X) * TileSize
	y0 := int64(key.Y) * TileSize
	w := int64(TileSize)
	h := int64(TileSize)
	if x0+w > levelW {
		w = levelW - x0
	}
	if y0+h > levelH {
		h = levelH - y0
	}
	if w <= 0 || h <= 0 {
		return
	}

	slideX := int64(float64(x0) * downsample)
	slideY := int64(float64(y0) * downsample)

	pix := e.source.ReadRegion(key.Level, slideX, slideY, w, h)
	if pix == nil {
		e.log.Printf("read_region miss for %s: %s", key, e.source.LastError())
		return
	}
	e.cache.Insert(key, tiledata.New(int(w), int(h), pix))
}

// Enqueue requests a background fetch for key unless it is already cached
// or already in flight.
func (e *Engine) Enqueue(key tilekey.Key) {
	if e.cache.Has(key) {
		return
	}

	e.mu.Lock()
	if e.inflight[key] {
		e.mu.Unlock()
		return
	}
	e.inflight[key] = true
	e.mu.Unlock()

	select {
	case e.queue <- key:
	default:
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}
}

// Resolve implements the progressive-fallback lookup for key: an exact
// cache hit, else the closest cached ancestor, else nothing. In the two
// miss paths it also enqueues key for background fetch.
func (e *Engine) Resolve(key tilekey.Key) (Resolution, bool) {
	if data, ok := e.cache.Get(key); ok {
		return Resolution{Key: key, Data: data}, true
	}

	dL := e.source.LevelDownsample(key.Level)
	levelCount := e.source.LevelCount()
	for lp := key.Level + 1; lp < levelCount; lp++ {
		dLp := e.source.LevelDownsample(lp)
		ax := int64(math.Floor(float64(key.X) * dL / (TileSize * dLp)))
		ay := int64(math.Floor(float64(key.Y) * dL / (TileSize * dLp)))
		ancestor := tilekey.New(lp, int32(ax), int32(ay))
		if data, ok := e.cache.Get(ancestor); ok {
			e.Enqueue(key)
			return Resolution{Key: ancestor, Data: data, IsAncestor: true}, true
		}
	}

	e.Enqueue(key)
	return Resolution{}, false
}

// Tick counts a rendered frame and reports whether this is a prune frame
// (every pruneInterval frames), per  periodic texture eviction.
func (e *Engine) Tick() bool {
	e.frameCount++
	return e.frameCount%pruneInterval == 0
}

// AncestorUV computes the sub-rectangle of an ancestor tile's texture that
// covers requested's footprint, for progressive-fallback rendering: the
// ancestor is drawn cropped to (u0,v0)-(u1,v1) instead of the full quad.
func (e *Engine) AncestorUV(requested, ancestor tilekey.Key) (u0, v0, u1, v1 float64) {
	dReq := e.source.LevelDownsample(requested.Level)
	dAnc := e.source.LevelDownsample(ancestor.Level)

	reqX0 := float64(requested.X) * TileSize * dReq
	reqY0 := float64(requested.Y) * TileSize * dReq
	reqX1 := reqX0 + TileSize*dReq
	reqY1 := reqY0 + TileSize*dReq

	ancX0 := float64(ancestor.X) * TileSize * dAnc
	ancY0 := float64(ancestor.Y) * TileSize * dAnc
	ancW := TileSize * dAnc
	ancH := TileSize * dAnc

	return (reqX0 - ancX0) / ancW, (reqY0 - ancY0) / ancH, (reqX1 - ancX0) / ancW, (reqY1 - ancY0) / ancH
}
