// Package tissuemap implements the tissue-map overlay: raster
// tiles of per-pixel class ids, mapped through a 256-entry color LUT into
// lazily-rastered RGBA textures, spatially indexed and drawn behind or
// alongside the polygon overlay.
package tissuemap

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/pathview/viewer/internal/geom"
	"github.com/pathview/viewer/internal/perr"
	"github.com/pathview/viewer/internal/renderer"
	"github.com/pathview/viewer/internal/viewport"
)

// DefaultGridSize is the spatial index resolution used when a slide's
// dimensions are known but no explicit grid size is requested.
const DefaultGridSize = 32

// TissueTile is one class-id raster tile of the segmentation map.
type TissueTile struct {
	Level         int
	TileX, TileY  int
	Width, Height int
	// ClassData holds Width*Height bytes in row-major order, one class-id
	// byte per pixel.
	ClassData     []byte
	ScaleFactor   float64
	Bounds        geom.Rect
	TextureHandle renderer.TextureHandle
	TextureValid  bool
}

// TissueClass names and colors one segmentation class.
type TissueClass struct {
	ClassID int32
	Name    string
	Color   renderer.RGBA
	Visible bool
}

// ColorLUT maps every possible class-id byte to a color. Entries for
// classes that are unknown or hidden are the zero value, which is fully
// transparent (A=0).
type ColorLUT [256]renderer.RGBA

func computeScaleFactor(maxLevel, level int) float64 {
	return math.Pow(2, float64(maxLevel-level))
}

func computeBounds(t *TissueTile) geom.Rect {
	return geom.Rect{
		X: float64(t.TileX) * float64(t.Width) * t.ScaleFactor,
		Y: float64(t.TileY) * float64(t.Height) * t.ScaleFactor,
		W: float64(t.Width) * t.ScaleFactor,
		H: float64(t.Height) * t.ScaleFactor,
	}
}

// defaultTissuePalette is a 12-color set of visually distinguishable tissue
// colors, matching _examples/original_source/src/core/TissueMapOverlay.cpp's
// kDefaultTissuePalette (tomato/tumor, light-green/stroma, sky-blue/necrosis,
// ...), kept separate from the polygon overlay's 10-color cell-type fallback
// since the two domains name and color entirely different things.
var defaultTissuePalette = [12]renderer.RGBA{
	{R: 255, G: 99, B: 71, A: 255},
	{R: 144, G: 238, B: 144, A: 255},
	{R: 135, G: 206, B: 235, A: 255},
	{R: 255, G: 218, B: 185, A: 255},
	{R: 221, G: 160, B: 221, A: 255},
	{R: 240, G: 230, B: 140, A: 255},
	{R: 188, G: 143, B: 143, A: 255},
	{R: 175, G: 238, B: 238, A: 255},
	{R: 255, G: 182, B: 193, A: 255},
	{R: 211, G: 211, B: 211, A: 255},
	{R: 152, G: 251, B: 152, A: 255},
	{R: 255, G: 160, B: 122, A: 255},
}

// defaultTissueColor cycles defaultTissuePalette by class id, mirroring
// TissueMapOverlay::GetDefaultTissueColor.
func defaultTissueColor(classID int32) renderer.RGBA {
	idx := int(classID) % len(defaultTissuePalette)
	if idx < 0 {
		idx += len(defaultTissuePalette)
	}
	return defaultTissuePalette[idx]
}

// tileGridIndex is a uniform-grid spatial index over tile bounds, the same
// bin-grid arithmetic as polygon.Index applied to a different owned type.
type tileGridIndex struct {
	gridW, gridH   int
	slideW, slideH float64
	cells          [][]*TissueTile
}

func newTileGridIndex(gridW, gridH int, slideW, slideH float64) *tileGridIndex {
	if gridW < 1 {
		gridW = 1
	}
	if gridH < 1 {
		gridH = 1
	}
	return &tileGridIndex{
		gridW: gridW, gridH: gridH,
		slideW: slideW, slideH: slideH,
		cells: make([][]*TissueTile, gridW*gridH),
	}
}

func (idx *tileGridIndex) cellSize() (float64, float64) {
	return idx.slideW / float64(idx.gridW), idx.slideH / float64(idx.gridH)
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func (idx *tileGridIndex) build(tiles []*TissueTile) {
	cw, ch := idx.cellSize()
	if cw <= 0 || ch <= 0 {
		return
	}
	for _, t := range tiles {
		x0 := clampInt(int(t.Bounds.X/cw), 0, idx.gridW-1)
		y0 := clampInt(int(t.Bounds.Y/ch), 0, idx.gridH-1)
		x1 := clampInt(int(t.Bounds.Right()/cw), 0, idx.gridW-1)
		y1 := clampInt(int(t.Bounds.Bottom()/ch), 0, idx.gridH-1)
		for gy := y0; gy <= y1; gy++ {
			for gx := x0; gx <= x1; gx++ {
				c := gy*idx.gridW + gx
				idx.cells[c] = append(idx.cells[c], t)
			}
		}
	}
}

func (idx *tileGridIndex) query(region geom.Rect) []*TissueTile {
	cw, ch := idx.cellSize()
	if cw <= 0 || ch <= 0 {
		return nil
	}
	x0 := clampInt(int(region.X/cw), 0, idx.gridW-1)
	y0 := clampInt(int(region.Y/ch), 0, idx.gridH-1)
	x1 := clampInt(int(region.Right()/cw), 0, idx.gridW-1)
	y1 := clampInt(int(region.Bottom()/ch), 0, idx.gridH-1)

	seen := make(map[*TissueTile]bool)
	var out []*TissueTile
	for gy := y0; gy <= y1; gy++ {
		for gx := x0; gx <= x1; gx++ {
			for _, t := range idx.cells[gy*idx.gridW+gx] {
				if seen[t] {
					continue
				}
				seen[t] = true
				if t.Bounds.Intersects(region) {
					out = append(out, t)
				}
			}
		}
	}
	return out
}

// Overlay is the tissue-map overlay: owned tiles and their textures, the
// class table, color LUT, and spatial index.
type Overlay struct {
	mu sync.Mutex

	tiles    []*TissueTile
	classes  map[int32]*TissueClass
	lut      ColorLUT
	index    *tileGridIndex
	maxLevel int

	slideW, slideH float64
	visible        bool
	opacity        float64
}

// NewOverlay creates an empty, visible Overlay at full opacity.
func NewOverlay() *Overlay {
	return &Overlay{
		classes: make(map[int32]*TissueClass),
		visible: true,
		opacity: 1.0,
	}
}

// SetSlideDimensions records the slide's full-resolution extent, used to
// size the tile spatial index. Rebuilds the index against the current tile
// set, if any.
func (o *Overlay) SetSlideDimensions(w, h float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slideW, o.slideH = w, h
	o.rebuildIndexLocked()
}

// SetData replaces the tile set: computes scale_factor and bounds for each
// tile, builds the class table from classMapping extended with any class
// ids found in the tiles' class_data but absent from it, rebuilds the color
// LUT, rebuilds the spatial index if slide dimensions are known, and
// invalidates every texture.
func (o *Overlay) SetData(tiles []*TissueTile, classMapping map[int32]TissueClass, maxLevel int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.maxLevel = maxLevel
	for _, t := range tiles {
		t.ScaleFactor = computeScaleFactor(maxLevel, t.Level)
		t.Bounds = computeBounds(t)
		t.TextureValid = false
	}
	o.tiles = tiles

	o.classes = make(map[int32]*TissueClass, len(classMapping))
	for id, c := range classMapping {
		cc := c
		cc.ClassID = id
		if cc.Color == (renderer.RGBA{}) {
			cc.Color = defaultTissueColor(id)
		}
		o.classes[id] = &cc
	}

	for _, t := range tiles {
		for _, b := range t.ClassData {
			id := int32(b)
			if _, ok := o.classes[id]; ok {
				continue
			}
			o.classes[id] = &TissueClass{
				ClassID: id,
				Name:    fmt.Sprintf("class_%d", id),
				Color:   defaultTissueColor(id),
				Visible: true,
			}
		}
	}

	o.rebuildLUTLocked()
	o.rebuildIndexLocked()
}

func (o *Overlay) rebuildLUTLocked() {
	var lut ColorLUT
	for id, c := range o.classes {
		if id < 0 || id > 255 || !c.Visible {
			continue
		}
		lut[id] = c.Color
	}
	o.lut = lut
}

func (o *Overlay) rebuildIndexLocked() {
	if o.slideW <= 0 || o.slideH <= 0 {
		o.index = nil
		return
	}
	idx := newTileGridIndex(DefaultGridSize, DefaultGridSize, o.slideW, o.slideH)
	idx.build(o.tiles)
	o.index = idx
}

func (o *Overlay) invalidateTexturesLocked() {
	for _, t := range o.tiles {
		t.TextureValid = false
	}
}

// SetVisible toggles rendering of the whole overlay.
func (o *Overlay) SetVisible(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.visible = v
}

// SetOpacity sets the overlay's global alpha multiplier, clamped to [0,1].
func (o *Overlay) SetOpacity(op float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opacity = geom.Clamp(op, 0, 1)
}

// SetClassVisible toggles rendering for one class, rebuilding the LUT and
// invalidating every texture so tiles are re-rastered on next draw.
func (o *Overlay) SetClassVisible(classID int32, visible bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.classes[classID]
	if !ok {
		return
	}
	c.Visible = visible
	o.rebuildLUTLocked()
	o.invalidateTexturesLocked()
}

// SetClassColor overrides one class's render color, rebuilding the LUT and
// invalidating every texture.
func (o *Overlay) SetClassColor(classID int32, color renderer.RGBA) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.classes[classID]
	if !ok {
		return
	}
	c.Color = color
	o.rebuildLUTLocked()
	o.invalidateTexturesLocked()
}

// SetAllVisible sets every known class's visibility at once, rebuilding the
// LUT and invalidating every texture.
func (o *Overlay) SetAllVisible(visible bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.classes {
		c.Visible = visible
	}
	o.rebuildLUTLocked()
	o.invalidateTexturesLocked()
}

// Class returns the class table entry for classID, if known.
func (o *Overlay) Class(classID int32) (TissueClass, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.classes[classID]
	if !ok {
		return TissueClass{}, false
	}
	return *c, true
}

// Render lazily rasters and uploads a texture for any visible tile whose
// texture is invalid, then draws every tile intersecting the viewport with
// alpha modulated by the overlay's opacity.
func (o *Overlay) Render(v *viewport.Viewport, r renderer.Renderer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.visible || len(o.tiles) == 0 {
		return
	}

	region := v.VisibleRegion()
	var candidates []*TissueTile
	if o.index != nil {
		candidates = o.index.query(region)
	} else {
		for _, t := range o.tiles {
			if t.Bounds.Intersects(region) {
				candidates = append(candidates, t)
			}
		}
	}

	r.SetBlendMode(renderer.BlendAlpha)
	for _, t := range candidates {
		if !t.TextureValid {
			if t.TextureHandle != nil {
				r.DestroyTexture(t.TextureHandle)
			}
			t.TextureHandle = r.CreateTexture(t.Width, t.Height, rasterTile(t, o.lut))
			t.TextureValid = true
		}
		dst := screenRectFor(v, t.Bounds)
		r.DrawTexturedQuad(t.TextureHandle, dst, 0, 0, 1, 1, o.opacity)
	}
}

// DefaultExportMaxDim bounds ExportPNG's output on its longer side.
const DefaultExportMaxDim = 1024

// exportSampleStride subsamples each tile's per-pixel class raster when
// flattening it to a PNG, the same way the teacher's tile renderer draws one
// filled rectangle per data bin rather than per source pixel
// (internal/render/tile.go).
const exportSampleStride = 8

// ExportPNG flattens every known tile into a single class-colored PNG at a
// fixed export scale, so a snapshot of the tissue classification can be
// saved or shared independently of the interactive GPU surface. It uses the
// same color LUT Render uses for its live textures.
func (o *Overlay) ExportPNG(maxDim int) (pngBytes []byte, width, height int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.slideW <= 0 || o.slideH <= 0 || len(o.tiles) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: no tissue data to export", perr.ErrInvalidInput)
	}
	if maxDim <= 0 {
		maxDim = DefaultExportMaxDim
	}

	scale := float64(maxDim) / o.slideW
	if hScale := float64(maxDim) / o.slideH; hScale < scale {
		scale = hScale
	}
	canvasW := int(math.Ceil(o.slideW * scale))
	canvasH := int(math.Ceil(o.slideH * scale))
	if canvasW < 1 {
		canvasW = 1
	}
	if canvasH < 1 {
		canvasH = 1
	}

	dc := gg.NewContext(canvasW, canvasH)
	dc.SetColor(color.White)
	dc.Clear()

	for _, t := range o.tiles {
		if t.Width <= 0 || t.Height <= 0 || len(t.ClassData) < t.Width*t.Height {
			continue
		}
		cellW := t.Bounds.W / float64(t.Width) * float64(exportSampleStride) * scale
		cellH := t.Bounds.H / float64(t.Height) * float64(exportSampleStride) * scale

		for py := 0; py < t.Height; py += exportSampleStride {
			for px := 0; px < t.Width; px += exportSampleStride {
				c := o.lut[t.ClassData[py*t.Width+px]]
				if c.A == 0 {
					continue
				}
				x := (t.Bounds.X + float64(px)*t.Bounds.W/float64(t.Width)) * scale
				y := (t.Bounds.Y + float64(py)*t.Bounds.H/float64(t.Height)) * scale
				dc.SetRGBA255(int(c.R), int(c.G), int(c.B), int(c.A))
				dc.DrawRectangle(x, y, cellW+1, cellH+1)
				dc.Fill()
			}
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, dc.Image()); err != nil {
		return nil, 0, 0, fmt.Errorf("encoding tissue map export: %w", err)
	}
	return buf.Bytes(), canvasW, canvasH, nil
}

func rasterTile(t *TissueTile, lut ColorLUT) []byte {
	pix := make([]byte, t.Width*t.Height*4)
	for i, classByte := range t.ClassData {
		c := lut[classByte]
		off := i * 4
		pix[off] = c.R
		pix[off+1] = c.G
		pix[off+2] = c.B
		pix[off+3] = c.A
	}
	return pix
}

// screenRectFor converts a tile's slide-space bounds to a screen rect,
// rounding outward (floor origin, ceil size) so adjacent tiles never leave
// a gap, the same convention as tileengine.TileScreenRect.
func screenRectFor(v *viewport.Viewport, bounds geom.Rect) geom.Rect {
	topLeft := v.SlideToScreen(geom.Vec2{X: bounds.X, Y: bounds.Y})
	bottomRight := v.SlideToScreen(geom.Vec2{X: bounds.Right(), Y: bounds.Bottom()})
	x := math.Floor(topLeft.X)
	y := math.Floor(topLeft.Y)
	return geom.Rect{
		X: x, Y: y,
		W: math.Ceil(bottomRight.X - x),
		H: math.Ceil(bottomRight.Y - y),
	}
}
