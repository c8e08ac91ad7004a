// Command pathview is a headless demo driver: it wires a slide source, the
// tile engine, both overlays, the minimap, the snapshot cache, and the
// navigation lock together over a fixed viewport, then walks it through a
// short scripted pan/zoom sequence, logging what each component does. It
// stands in for the GPU-backed interactive frontend, since no concrete GPU
// backend lives in this repo, the way the teacher's cmd/server/main.go
// wires its own components before serving them over HTTP.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/pathview/viewer/internal/config"
	"github.com/pathview/viewer/internal/geom"
	"github.com/pathview/viewer/internal/logging"
	"github.com/pathview/viewer/internal/minimap"
	"github.com/pathview/viewer/internal/navlock"
	"github.com/pathview/viewer/internal/polygon"
	"github.com/pathview/viewer/internal/renderer"
	"github.com/pathview/viewer/internal/segfile"
	"github.com/pathview/viewer/internal/slidesource"
	"github.com/pathview/viewer/internal/slidesource/local"
	"github.com/pathview/viewer/internal/slidesource/remote"
	"github.com/pathview/viewer/internal/snapshotcache"
	"github.com/pathview/viewer/internal/texture"
	"github.com/pathview/viewer/internal/tilecache"
	"github.com/pathview/viewer/internal/tileengine"
	"github.com/pathview/viewer/internal/tissuemap"
	"github.com/pathview/viewer/internal/viewport"
)

const (
	windowW = 1280
	windowH = 800

	overlayGridSize = 64
	minimapWidth    = 200
	minimapHeight   = 160
	minimapMargin   = 20

	demoFrames = 6
)

func main() {
	configPath := flag.String("config", "config/pathview.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	source := openSlideSource(cfg)
	if !source.IsValid() {
		log.Fatalf("slide source invalid: %s", source.LastError())
	}
	log.Printf("opened slide %q: %dx%d, %d levels", source.Identifier(), source.Width(), source.Height(), source.LevelCount())

	v := viewport.New(windowW, windowH, source.Width(), source.Height())

	cache := tilecache.New(tilecache.Config{
		MaxBytes: int64(cfg.Cache.TileCacheMaxMB) * 1024 * 1024,
	})
	engine := tileengine.New(source, cache, tileengine.Config{
		Workers:   cfg.Tiles.Workers,
		QueueSize: cfg.Tiles.QueueSize,
	})
	engine.Start()
	defer engine.Stop()

	polyOverlay, tissueOverlay := loadOverlays(cfg, source)

	minimapRect := geom.Rect{
		X: windowW - minimapWidth - minimapMargin,
		Y: windowH - minimapHeight - minimapMargin,
		W: minimapWidth,
		H: minimapHeight,
	}
	rend := &logRenderer{log: logging.Component("renderer")}
	mm := minimap.New(source, minimapRect, rend)
	texCache := texture.New(rend)
	defer texCache.Clear()

	snapshots := snapshotcache.New(snapshotcache.Config{
		MaxEntries:      cfg.Cache.SnapshotMaxEntries,
		TTL:             time.Duration(cfg.Cache.SnapshotTTLSeconds) * time.Second,
		CleanupInterval: time.Duration(cfg.Cache.SnapshotSweepSeconds) * time.Second,
		FrameRingSize:   cfg.Cache.SnapshotFrameRingSize,
	})
	defer snapshots.Stop()

	var lock navlock.Lock
	lock.Grant("demo-client", 30000, "session-1", time.Now())

	runDemoSequence(v, source, engine, texCache, cache, polyOverlay, tissueOverlay, mm, rend)

	exportSnapshots(cfg, polyOverlay, tissueOverlay, snapshots)
}

// exportSnapshots flattens the density and tissue-class overlays into PNGs
// and stores them in the snapshot cache, exercising the same export path a
// "save current view" client action would use.
func exportSnapshots(cfg *config.Config, polyOverlay *polygon.Overlay, tissueOverlay *tissuemap.Overlay, snapshots *snapshotcache.Cache) {
	if pngBytes, w, h, err := polyOverlay.ExportDensityPNG(cfg.Heatmap.GridSize, tissuemap.DefaultExportMaxDim, cfg.Heatmap.DefaultColormap); err != nil {
		log.Printf("density heatmap export skipped: %v", err)
	} else {
		id := snapshots.Add(pngBytes, w, h)
		log.Printf("cached density heatmap snapshot %s (%d bytes)", id, len(pngBytes))
	}

	if pngBytes, w, h, err := tissueOverlay.ExportPNG(tissuemap.DefaultExportMaxDim); err != nil {
		log.Printf("tissue map export skipped: %v", err)
	} else {
		id := snapshots.Add(pngBytes, w, h)
		log.Printf("cached tissue map snapshot %s (%d bytes)", id, len(pngBytes))
	}
}

func openSlideSource(cfg *config.Config) slidesource.Source {
	if cfg.Remote.BaseURL != "" {
		return remote.Open(cfg.Remote.BaseURL, cfg.Remote.SlideID, cfg.Remote.SigningSecret)
	}
	return local.Open(cfg.Slide.Path)
}

// loadOverlays builds the polygon and tissue-map overlays from a local
// segmentation file, if one is configured. Its absence is not an error:
// the viewer runs fine with no overlay data.
func loadOverlays(cfg *config.Config, source slidesource.Source) (*polygon.Overlay, *tissuemap.Overlay) {
	polyOverlay := polygon.NewOverlay()
	tissueOverlay := tissuemap.NewOverlay()
	tissueOverlay.SetSlideDimensions(float64(source.Width()), float64(source.Height()))

	if cfg.Slide.SegmentationPath == "" {
		return polyOverlay, tissueOverlay
	}

	data, err := os.ReadFile(cfg.Slide.SegmentationPath)
	if err != nil {
		log.Printf("segmentation file %q not loaded: %v", cfg.Slide.SegmentationPath, err)
		return polyOverlay, tissueOverlay
	}

	seg, err := segfile.Load(data)
	if err != nil {
		log.Printf("segmentation file %q failed to parse: %v", cfg.Slide.SegmentationPath, err)
		return polyOverlay, tissueOverlay
	}
	log.Printf("segmentation file %q: schema v%d, %d tiles", cfg.Slide.SegmentationPath, seg.SchemaVersion, len(seg.Tiles))

	cellClassNames := make(map[int32]string, len(seg.CellClassNames))
	for i, name := range seg.CellClassNames {
		cellClassNames[int32(i)] = name
	}

	var polys []*polygon.Polygon
	var tissueTiles []*tissuemap.TissueTile
	for i := range seg.Tiles {
		tile := &seg.Tiles[i]

		masks := tile.Masks
		if len(tile.CellsBlob) > 0 {
			decoded, err := tile.DecodeCellsBlob()
			if err != nil {
				log.Printf("segmentation file %q: tile (%d,%d,%d) cells_blob decode failed: %v", cfg.Slide.SegmentationPath, tile.Level, tile.X, tile.Y, err)
			} else {
				masks = decoded
			}
		}
		for _, mask := range masks {
			verts := make([]geom.Vec2, len(mask.Coordinates))
			for j, p := range mask.Coordinates {
				verts[j] = geom.Vec2{X: float64(p.X), Y: float64(p.Y)}
			}
			polys = append(polys, polygon.New(mask.CellType, verts))
		}

		tissueMap := tile.TissueMap
		if len(tile.TissueBlob) > 0 {
			decoded, err := tile.DecodeTissueBlob()
			if err != nil {
				log.Printf("segmentation file %q: tile (%d,%d,%d) tissue_blob decode failed: %v", cfg.Slide.SegmentationPath, tile.Level, tile.X, tile.Y, err)
			} else {
				tissueMap = decoded
			}
		}
		if tissueMap != nil {
			tissueTiles = append(tissueTiles, &tissuemap.TissueTile{
				Level:     int(tile.Level),
				TileX:     int(tile.X),
				TileY:     int(tile.Y),
				Width:     int(tissueMap.Width),
				Height:    int(tissueMap.Height),
				ClassData: tissueMap.Data,
			})
		}
	}
	polyOverlay.SetPolygons(polys, cellClassNames, float64(source.Width()), float64(source.Height()), overlayGridSize, overlayGridSize)

	// Color is left zero here; tissueOverlay.SetData fills in the built-in
	// distinguishable tissue palette by class id, since the segmentation
	// file's tissue_class_mapping carries names only, never colors.
	tissueClasses := make(map[int32]tissuemap.TissueClass, len(seg.TissueClassMapping))
	for id, name := range seg.TissueClassMapping {
		tissueClasses[id] = tissuemap.TissueClass{ClassID: id, Name: name, Visible: true}
	}
	tissueOverlay.SetData(tissueTiles, tissueClasses, int(seg.MaxLevel))

	return polyOverlay, tissueOverlay
}

// runDemoSequence walks the viewport through a scripted pan/zoom/reset
// sequence, resolving and drawing the tiles each frame would need.
func runDemoSequence(v *viewport.Viewport, source slidesource.Source, engine *tileengine.Engine,
	texCache *texture.Cache, tileCache *tilecache.Cache,
	polyOverlay *polygon.Overlay, tissueOverlay *tissuemap.Overlay, mm *minimap.Minimap, rend renderer.Renderer) {

	downsamples := make([]float64, source.LevelCount())
	for i := range downsamples {
		downsamples[i] = source.LevelDownsample(int32(i))
	}

	nowMs := 0.0
	for frame := 0; frame < demoFrames; frame++ {
		switch frame {
		case 1:
			v.ZoomAt(geom.Vec2{X: windowW / 2, Y: windowH / 2}, 2.0, viewport.Smooth, nowMs)
		case 2:
			v.Pan(geom.Vec2{X: 150, Y: -80}, viewport.Instant, nowMs)
		case 4:
			mm.HandleClick(minimapWidth/2, minimapHeight/2, v, viewport.Smooth, nowMs)
		}

		v.Update(nowMs)
		region := v.VisibleRegion()
		level := tileengine.SelectLevel(downsamples, v.Zoom)
		downsample := source.LevelDownsample(int32(level))
		levelW, levelH := source.LevelDimensions(int32(level))

		keys := tileengine.VisibleTiles(int32(level), region, downsample, levelW, levelH)
		resolved := 0
		for _, key := range keys {
			res, ok := engine.Resolve(key)
			if !ok {
				continue
			}
			resolved++

			handle := texCache.GetOrCreate(res.Key, res.Data)
			dst := tileengine.TileScreenRect(v, key, downsample)
			u0, v0, u1, v1 := 0.0, 0.0, 1.0, 1.0
			if res.IsAncestor {
				u0, v0, u1, v1 = engine.AncestorUV(key, res.Key)
			}
			rend.DrawTexturedQuad(handle, dst, u0, v0, u1, v1, 1.0)
		}

		polyOverlay.Render(v, rend)
		tissueOverlay.Render(v, rend)
		mm.Render(v, rend)

		if engine.Tick() {
			texCache.Prune(tileCache)
		}

		log.Printf("frame %d: zoom=%.3f level=%d visible_tiles=%d resolved=%d", frame, v.Zoom, level, len(keys), resolved)
		nowMs += viewport.DefaultAnimationDurationMs
	}
}

// logRenderer is a Renderer that only logs draw calls, standing in for a
// concrete GPU backend.
type logRenderer struct {
	log     *log.Logger
	nextTex int
}

type logTexture int

func (r *logRenderer) CreateTexture(width, height int, pix []byte) renderer.TextureHandle {
	r.nextTex++
	r.log.Printf("create_texture #%d %dx%d (%d bytes)", r.nextTex, width, height, len(pix))
	return logTexture(r.nextTex)
}

func (r *logRenderer) DestroyTexture(tex renderer.TextureHandle) {
	r.log.Printf("destroy_texture #%v", tex)
}

func (r *logRenderer) DrawTexturedQuad(tex renderer.TextureHandle, dst geom.Rect, u0, v0, u1, v1, opacity float64) {
	r.log.Printf("draw_quad tex=#%v dst=%+v opacity=%.2f", tex, dst, opacity)
}

func (r *logRenderer) DrawLines(points []geom.Vec2, color renderer.RGBA, width float64) {
	r.log.Printf("draw_lines n=%d width=%.1f", len(points), width)
}

func (r *logRenderer) DrawTriangles(vertices []geom.Vec2, indices []int, color renderer.RGBA) {
	r.log.Printf("draw_triangles n=%d", len(indices)/3)
}

func (r *logRenderer) SetBlendMode(mode renderer.BlendMode) {}
