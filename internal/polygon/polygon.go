// Package polygon implements the vector cell-boundary overlay: the
// Polygon value type, its ear-clipping triangulator, the uniform-grid
// spatial index, and the level-of-detail overlay renderer.
package polygon

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
	"github.com/pathview/viewer/internal/segfile"
	"github.com/pathview/viewer/internal/viewport"
	"github.com/pathview/viewer/pkg/colormap"
)

// Polygon is one segmented cell boundary. Triangulation is computed
// lazily on first render and cached.
type Polygon struct {
	ClassID         int32
	Vertices        []geom.Vec2
	BoundingBox     geom.Rect
	triangleIndices []int32
}

// New builds a Polygon, computing its bounding box from vertices.
func New(classID int32, vertices []geom.Vec2) *Polygon {
	return &Polygon{
		ClassID:     classID,
		Vertices:    vertices,
		BoundingBox: geom.UnionAll(vertices),
	}
}

// TriangleIndices returns the polygon's triangulation, computing and
// caching it on first call.
func (p *Polygon) TriangleIndices() []int32 {
	if p.triangleIndices == nil {
		p.triangleIndices = Triangulate(p.Vertices)
	}
	return p.triangleIndices
}

const triEpsilon = 1e-12

func cross2(a, b geom.Vec2) float64 { return a.X*b.Y - a.Y*b.X }

func signedArea(v []geom.Vec2) float64 {
	sum := 0.0
	n := len(v)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += v[i].X*v[j].Y - v[j].X*v[i].Y
	}
	return sum / 2
}

func isConvex(prev, cur, next geom.Vec2, ccw bool) bool {
	c := cross2(cur.Sub(prev), next.Sub(cur))
	if ccw {
		return c > triEpsilon
	}
	return c < -triEpsilon
}

func pointInTriangle(p, a, b, c geom.Vec2) bool {
	d1 := cross2(b.Sub(a), p.Sub(a))
	d2 := cross2(c.Sub(b), p.Sub(b))
	d3 := cross2(a.Sub(c), p.Sub(c))
	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

func fanTriangulate(n int) []int32 {
	indices := make([]int32, 0, (n-2)*3)
	for i := 1; i < n-1; i++ {
		indices = append(indices, 0, int32(i), int32(i+1))
	}
	return indices
}

// Triangulate ear-clips vertices (CW or CCW; winding is auto-detected)
// into a flat list of triangle-vertex indices. Degenerate inputs return
// an empty slice for n<3, and {0,1,2} for n==3. If the clipper fails to
// converge within the safety cap, it falls back to a fan from vertex 0.
func Triangulate(v []geom.Vec2) []int32 {
	n := len(v)
	if n < 3 {
		return []int32{}
	}
	if n == 3 {
		return []int32{0, 1, 2}
	}
	if indices, ok := earClip(v); ok {
		return indices
	}
	return fanTriangulate(n)
}

func earClip(v []geom.Vec2) ([]int32, bool) {
	n := len(v)
	ccw := signedArea(v) >= 0

	active := make([]int32, n)
	for i := range active {
		active[i] = int32(i)
	}

	indices := make([]int32, 0, (n-2)*3)
	maxIter := 2 * n

	for iter := 0; len(active) > 3; iter++ {
		if iter >= maxIter {
			return nil, false
		}

		earPos := -1
		for ai := range active {
			iPrev := active[(ai-1+len(active))%len(active)]
			i := active[ai]
			iNext := active[(ai+1)%len(active)]
			if !isConvex(v[iPrev], v[i], v[iNext], ccw) {
				continue
			}
			if containsOtherVertex(v, active, ai, iPrev, i, iNext) {
				continue
			}
			earPos = ai
			break
		}
		if earPos == -1 {
			return nil, false
		}

		iPrev := active[(earPos-1+len(active))%len(active)]
		i := active[earPos]
		iNext := active[(earPos+1)%len(active)]
		indices = append(indices, iPrev, i, iNext)
		active = append(active[:earPos], active[earPos+1:]...)
	}

	indices = append(indices, active[0], active[1], active[2])
	return indices, true
}

func containsOtherVertex(v []geom.Vec2, active []int32, earPos int, iPrev, i, iNext int32) bool {
	for ai, idx := range active {
		if ai == earPos || idx == iPrev || idx == i || idx == iNext {
			continue
		}
		if pointInTriangle(v[idx], v[iPrev], v[i], v[iNext]) {
			return true
		}
	}
	return false
}

// Index is the uniform-grid spatial index over a fixed set of polygons.
// Cells hold non-owning references; a polygon appears in
// every cell its bounding box overlaps.
type Index struct {
	gridW, gridH   int
	slideW, slideH float64
	cells          [][]*Polygon
}

// NewIndex creates an empty gridW x gridH index over a slideW x slideH
// slide.
func NewIndex(gridW, gridH int, slideW, slideH float64) *Index {
	if gridW < 1 {
		gridW = 1
	}
	if gridH < 1 {
		gridH = 1
	}
	return &Index{
		gridW: gridW, gridH: gridH,
		slideW: slideW, slideH: slideH,
		cells: make([][]*Polygon, gridW*gridH),
	}
}

func (idx *Index) cellSize() (float64, float64) {
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

// Build clears the index and inserts every polygon into each grid cell
// its bounding box overlaps.
func (idx *Index) Build(polygons []*Polygon) {
	idx.Clear()
	cw, ch := idx.cellSize()
	if cw <= 0 || ch <= 0 {
		return
	}

	for _, p := range polygons {
		x0 := clampInt(int(p.BoundingBox.X/cw), 0, idx.gridW-1)
		y0 := clampInt(int(p.BoundingBox.Y/ch), 0, idx.gridH-1)
		x1 := clampInt(int(p.BoundingBox.Right()/cw), 0, idx.gridW-1)
		y1 := clampInt(int(p.BoundingBox.Bottom()/ch), 0, idx.gridH-1)
		for gy := y0; gy <= y1; gy++ {
			for gx := x0; gx <= x1; gx++ {
				c := gy*idx.gridW + gx
				idx.cells[c] = append(idx.cells[c], p)
			}
		}
	}
}

// Query returns every polygon whose bounding box intersects region,
// deduplicated by identity, with no false positives from grid
// quantization.
func (idx *Index) Query(region geom.Rect) []*Polygon {
	cw, ch := idx.cellSize()
	if cw <= 0 || ch <= 0 {
		return nil
	}

	x0 := clampInt(int(region.X/cw), 0, idx.gridW-1)
	y0 := clampInt(int(region.Y/ch), 0, idx.gridH-1)
	x1 := clampInt(int(region.Right()/cw), 0, idx.gridW-1)
	y1 := clampInt(int(region.Bottom()/ch), 0, idx.gridH-1)

	seen := make(map[*Polygon]bool)
	var out []*Polygon
	for gy := y0; gy <= y1; gy++ {
		for gx := x0; gx <= x1; gx++ {
			for _, p := range idx.cells[gy*idx.gridW+gx] {
				if seen[p] {
					continue
				}
				seen[p] = true
				if p.BoundingBox.Intersects(region) {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// Clear empties every cell in place, preserving the grid structure.
func (idx *Index) Clear() {
	for i := range idx.cells {
		idx.cells[i] = nil
	}
}

// LODThresholds are the screen-pixel breakpoints used to classify a
// polygon's level of detail each frame.
type LODThresholds struct {
	MinScreenSize       float64
	PointThreshold      float64
	BoxThreshold        float64
	SimplifiedThreshold float64
}

// DefaultLODThresholds returns a reasonable set of defaults.
func DefaultLODThresholds() LODThresholds {
	return LODThresholds{MinScreenSize: 2, PointThreshold: 4, BoxThreshold: 8, SimplifiedThreshold: 16}
}

// LOD is a polygon's chosen level of detail for the current frame.
type LOD int

const (
	LODSkip LOD = iota
	LODPoint
	LODBox
	LODFull
)

// ClassifyLOD buckets a polygon by its bounding-box screen size (pixels).
// Every size at or above BoxThreshold is LODFull; SimplifiedThreshold is
// not read here and selects no separate tier.
func ClassifyLOD(screenSize float64, t LODThresholds) LOD {
	switch {
	case screenSize < t.MinScreenSize:
		return LODSkip
	case screenSize < t.PointThreshold:
		return LODPoint
	case screenSize < t.BoxThreshold:
		return LODBox
	default:
		return LODFull
	}
}

type batch struct {
	vertices []geom.Vec2
	indices  []int
}

func (b *batch) addTriangle(v0, v1, v2 geom.Vec2) {
	base := len(b.vertices)
	b.vertices = append(b.vertices, v0, v1, v2)
	b.indices = append(b.indices, base, base+1, base+2)
}

func (b *batch) addQuad(r geom.Rect) {
	tl := geom.Vec2{X: r.X, Y: r.Y}
	tr := geom.Vec2{X: r.Right(), Y: r.Y}
	bl := geom.Vec2{X: r.X, Y: r.Bottom()}
	br := geom.Vec2{X: r.Right(), Y: r.Bottom()}
	b.addTriangle(tl, tr, br)
	b.addTriangle(tl, br, bl)
}

// pointPixelSize is the on-screen edge length of the single-pixel marker
// drawn for POINT-LOD polygons.
const pointPixelSize = 1.0

// Overlay is the vector polygon overlay: owned polygons,
// per-class visibility/color, and a spatial index rebuilt whenever the
// polygon set changes.
type Overlay struct {
	mu sync.Mutex

	polygons     []*Polygon
	classColor   map[int32]renderer.RGBA
	classVisible map[int32]bool
	classCount   map[int32]int
	classIDs     []int32
	classNames   map[int32]string
	index        *Index

	slideW, slideH float64
	visible        bool
	opacity        float64
	thresholds     LODThresholds
}

// NewOverlay creates an empty, visible Overlay at full opacity with
// default LOD thresholds.
func NewOverlay() *Overlay {
	return &Overlay{
		classColor:   make(map[int32]renderer.RGBA),
		classVisible: make(map[int32]bool),
		classCount:   make(map[int32]int),
		classNames:   make(map[int32]string),
		visible:      true,
		opacity:      1.0,
		thresholds:   DefaultLODThresholds(),
	}
}

// SetPolygons replaces the polygon set, rebuilds per-class bookkeeping
// (visibility, colors, counts) and the spatial index, and resets
// per-class visibility to all-visible.
func (o *Overlay) SetPolygons(polys []*Polygon, classNames map[int32]string, slideW, slideH float64, gridW, gridH int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.polygons = polys
	o.classNames = classNames
	o.slideW, o.slideH = slideW, slideH
	o.classColor = make(map[int32]renderer.RGBA)
	o.classVisible = make(map[int32]bool)
	o.classCount = make(map[int32]int)
	o.classIDs = nil

	seen := make(map[int32]bool)
	fallbackIdx := 0
	for _, p := range polys {
		o.classCount[p.ClassID]++
		if seen[p.ClassID] {
			continue
		}
		seen[p.ClassID] = true
		o.classIDs = append(o.classIDs, p.ClassID)
		o.classVisible[p.ClassID] = true
		o.classColor[p.ClassID], fallbackIdx = colorForCellType(classNames[p.ClassID], fallbackIdx)
	}

	o.index = NewIndex(gridW, gridH, slideW, slideH)
	o.index.Build(polys)
}

// cellTypeColors is the built-in name -> color table for known cell types,
// matching _examples/original_source/src/core/PolygonLoader.cpp's
// CELL_TYPE_COLORS.
var cellTypeColors = map[string]renderer.RGBA{
	"Background":         {R: 0, G: 0, B: 0, A: 255},
	"Cancer cell":        {R: 230, G: 0, B: 0, A: 255},
	"Lymphocytes":        {R: 0, G: 150, B: 0, A: 255},
	"Fibroblasts":        {R: 0, G: 0, B: 230, A: 255},
	"Plasmocytes":        {R: 255, G: 255, B: 0, A: 255},
	"Macrophages":        {R: 153, G: 51, B: 255, A: 255},
	"Eosinophils":        {R: 255, G: 102, B: 178, A: 255},
	"Muscle Cell":        {R: 102, G: 51, B: 0, A: 255},
	"Neutrophils":        {R: 255, G: 153, B: 51, A: 255},
	"Endothelial Cell":   {R: 51, G: 204, B: 204, A: 255},
	"Red blood cell":     {R: 128, G: 0, B: 0, A: 255},
	"Epithelial":         {R: 0, G: 102, B: 0, A: 255},
	"Mitotic Figures":    {R: 102, G: 255, B: 102, A: 255},
	"Apoptotic Body":     {R: 102, G: 204, B: 255, A: 255},
	"Minor Stromal Cell": {R: 255, G: 153, B: 102, A: 255},
	"Other":              {R: 255, G: 255, B: 255, A: 255},
}

// colorForCellType looks up name in the built-in cell type color table; an
// unrecognized (or empty) name cycles segfile.FallbackPalette instead,
// mirroring PolygonLoader.cpp's GenerateColorsFromClassNames fallback.
// nextFallbackIdx is the fallback cursor to use on the next unknown name.
func colorForCellType(name string, fallbackIdx int) (c renderer.RGBA, nextFallbackIdx int) {
	if c, ok := cellTypeColors[name]; ok {
		return c, fallbackIdx
	}
	r, g, b := segfile.FallbackColor(int32(fallbackIdx))
	return renderer.RGBA{R: r, G: g, B: b, A: 255}, fallbackIdx + 1
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

// ClassIDs returns the distinct class ids present in the current polygon set.
func (o *Overlay) ClassIDs() []int32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int32(nil), o.classIDs...)
}

// ClassCount returns how many polygons belong to classID.
func (o *Overlay) ClassCount(classID int32) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.classCount[classID]
}

// SetClassVisible toggles rendering for one class.
func (o *Overlay) SetClassVisible(classID int32, visible bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classVisible[classID] = visible
}

// SetClassColor overrides the render color for one class.
func (o *Overlay) SetClassColor(classID int32, color renderer.RGBA) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classColor[classID] = color
}

// Render draws all visible, in-view polygons through r, batched per
// class and LOD-classified against the viewport's current zoom.
func (o *Overlay) Render(v *viewport.Viewport, r renderer.Renderer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.visible || len(o.polygons) == 0 {
		return
	}

	region := v.VisibleRegion()
	var candidates []*Polygon
	if o.index != nil {
		candidates = o.index.Query(region)
	} else {
		for _, p := range o.polygons {
			if p.BoundingBox.Intersects(region) {
				candidates = append(candidates, p)
			}
		}
	}

	batches := make(map[int32]*batch)
	getBatch := func(classID int32) *batch {
		b, ok := batches[classID]
		if !ok {
			b = &batch{}
			batches[classID] = b
		}
		return b
	}

	for _, p := range candidates {
		if !o.classVisible[p.ClassID] {
			continue
		}
		screenSize := math.Max(p.BoundingBox.W, p.BoundingBox.H) * v.Zoom
		switch ClassifyLOD(screenSize, o.thresholds) {
		case LODSkip:
			continue
		case LODPoint:
			center := v.SlideToScreen(p.BoundingBox.Center())
			half := pointPixelSize / 2
			getBatch(p.ClassID).addQuad(geom.Rect{X: center.X - half, Y: center.Y - half, W: pointPixelSize, H: pointPixelSize})
		case LODBox:
			tl := v.SlideToScreen(geom.Vec2{X: p.BoundingBox.X, Y: p.BoundingBox.Y})
			br := v.SlideToScreen(geom.Vec2{X: p.BoundingBox.Right(), Y: p.BoundingBox.Bottom()})
			getBatch(p.ClassID).addQuad(geom.Rect{X: tl.X, Y: tl.Y, W: br.X - tl.X, H: br.Y - tl.Y})
		default:
			addPolygonTriangles(getBatch(p.ClassID), v, p)
		}
	}

	r.SetBlendMode(renderer.BlendAlpha)
	for classID, b := range batches {
		color := o.classColor[classID]
		color.A = byte(o.opacity * 255)
		r.DrawTriangles(b.vertices, b.indices, color)
	}
}

// DefaultDensityGridSize is the resolution of the cell-density heatmap grid.
const DefaultDensityGridSize = 64

// DefaultDensityExportMaxDim bounds ExportDensityPNG's output on its longer
// side.
const DefaultDensityExportMaxDim = 1024

// densityColormaps mirrors the teacher's name -> Colormap lookup table
// (internal/render/tile.go's colormaps map), with viridis as the fallback
// for an unrecognized name.
var densityColormaps = map[string]colormap.Colormap{
	"viridis": colormap.Viridis,
	"plasma":  colormap.Plasma,
	"inferno": colormap.Inferno,
	"magma":   colormap.Magma,
}

func densityColormapByName(name string) colormap.Colormap {
	if cmap, ok := densityColormaps[name]; ok {
		return cmap
	}
	return colormap.Viridis
}

// ExportDensityPNG rasterizes a colormap-shaded cell-density heatmap: a
// gridSize x gridSize grid of polygon-centroid counts, each cell's count
// normalized against the densest cell and mapped through colormapName
// (one of "viridis", "plasma", "inferno", "magma"; unrecognized names fall
// back to viridis), the same count-normalize-colormap idiom the teacher's
// tile renderer uses for its per-bin cell-count coloring
// (internal/render/tile.go), flattened here into one exportable PNG instead
// of per-tile GPU textures.
func (o *Overlay) ExportDensityPNG(gridSize, maxDim int, colormapName string) (pngBytes []byte, width, height int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.slideW <= 0 || o.slideH <= 0 || len(o.polygons) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: no polygons to export", perr.ErrInvalidInput)
	}
	if gridSize <= 0 {
		gridSize = DefaultDensityGridSize
	}
	if maxDim <= 0 {
		maxDim = DefaultDensityExportMaxDim
	}

	cw := o.slideW / float64(gridSize)
	ch := o.slideH / float64(gridSize)
	counts := make([]int, gridSize*gridSize)
	maxCount := 0
	for _, p := range o.polygons {
		center := p.BoundingBox.Center()
		gx := clampInt(int(center.X/cw), 0, gridSize-1)
		gy := clampInt(int(center.Y/ch), 0, gridSize-1)
		idx := gy*gridSize + gx
		counts[idx]++
		if counts[idx] > maxCount {
			maxCount = counts[idx]
		}
	}
	if maxCount == 0 {
		maxCount = 1
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

	cmap := densityColormapByName(colormapName)
	cellW := cw * scale
	cellH := ch * scale
	for gy := 0; gy < gridSize; gy++ {
		for gx := 0; gx < gridSize; gx++ {
			n := counts[gy*gridSize+gx]
			if n == 0 {
				continue
			}
			t := math.Min(float64(n)/float64(maxCount), 1.0)
			dc.SetColor(cmap.At(t))
			dc.DrawRectangle(float64(gx)*cellW, float64(gy)*cellH, cellW+1, cellH+1)
			dc.Fill()
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, dc.Image()); err != nil {
		return nil, 0, 0, fmt.Errorf("encoding density export: %w", err)
	}
	return buf.Bytes(), canvasW, canvasH, nil
}

func addPolygonTriangles(b *batch, v *viewport.Viewport, p *Polygon) {
	indices := p.TriangleIndices()
	base := len(b.vertices)
	for _, sv := range p.Vertices {
		b.vertices = append(b.vertices, v.SlideToScreen(sv))
	}
	for _, idx := range indices {
		b.indices = append(b.indices, base+int(idx))
	}
}
