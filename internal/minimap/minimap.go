// Package minimap implements the coarse slide overview with a
// viewport-indicator rectangle and click-to-jump navigation.
package minimap

import (
	"sync"

	"github.com/pathview/viewer/internal/geom"
	"github.com/pathview/viewer/internal/renderer"
	"github.com/pathview/viewer/internal/slidesource"
	"github.com/pathview/viewer/internal/viewport"
)

// minIndicatorSize is the smallest a side of the viewport-indicator
// rectangle is ever drawn, so it stays visible at extreme zoom levels.
const minIndicatorSize = 2.0

// overviewMaxDim bounds the minimap's overview texture on its longer side.
const overviewMaxDim = 512

var (
	backdropColor  = renderer.RGBA{R: 0, G: 0, B: 0, A: 120}
	outlineColor   = renderer.RGBA{R: 255, G: 255, B: 255, A: 200}
	indicatorColor = renderer.RGBA{R: 255, G: 210, B: 40, A: 255}
)

// Minimap is built once from a single read of a slide's coarsest level and
// redraws its viewport-indicator rectangle every frame.
type Minimap struct {
	mu sync.Mutex

	screenRect     geom.Rect
	texture        renderer.TextureHandle
	slideW, slideH float64
}

// New reads source's coarsest-level thumbnail in a single call and uploads
// it as the minimap's overview texture, drawn within screenRect (in screen
// coordinates) on every Render call.
func New(source slidesource.Source, screenRect geom.Rect, r renderer.Renderer) *Minimap {
	m := &Minimap{
		screenRect: screenRect,
		slideW:     float64(source.Width()),
		slideH:     float64(source.Height()),
	}

	pix, w, h := source.Thumbnail(overviewMaxDim)
	if pix == nil {
		return m
	}
	m.texture = r.CreateTexture(w, h, pix)
	return m
}

// Contains reports whether (x, y), in screen coordinates, falls within the
// minimap's drawn rectangle.
func (m *Minimap) Contains(x, y float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenRect.Contains(geom.Vec2{X: x, Y: y})
}

// HandleClick converts a screen-space click within the minimap into slide
// coordinates and recenters v on it.
func (m *Minimap) HandleClick(x, y float64, v *viewport.Viewport, mode viewport.Mode, nowMs float64) {
	m.mu.Lock()
	rect := m.screenRect
	slideW, slideH := m.slideW, m.slideH
	m.mu.Unlock()

	if rect.W <= 0 || rect.H <= 0 {
		return
	}
	fracX := (x - rect.X) / rect.W
	fracY := (y - rect.Y) / rect.H
	slidePoint := geom.Vec2{X: fracX * slideW, Y: fracY * slideH}
	v.CenterOn(slidePoint, mode, nowMs)
}

func quadTriangles(r geom.Rect) ([]geom.Vec2, []int) {
	tl := geom.Vec2{X: r.X, Y: r.Y}
	tr := geom.Vec2{X: r.Right(), Y: r.Y}
	bl := geom.Vec2{X: r.X, Y: r.Bottom()}
	br := geom.Vec2{X: r.Right(), Y: r.Bottom()}
	return []geom.Vec2{tl, tr, br, bl}, []int{0, 1, 2, 0, 2, 3}
}

func outlinePoints(r geom.Rect) []geom.Vec2 {
	tl := geom.Vec2{X: r.X, Y: r.Y}
	tr := geom.Vec2{X: r.Right(), Y: r.Y}
	bl := geom.Vec2{X: r.X, Y: r.Bottom()}
	br := geom.Vec2{X: r.Right(), Y: r.Bottom()}
	return []geom.Vec2{tl, tr, br, bl, tl}
}

// indicatorRect maps v's visible region (in slide coordinates) onto
// screenRect as a fraction of the full slide, enforcing a minimum visible
// size in each dimension.
func indicatorRect(visible geom.Rect, slideW, slideH float64, screenRect geom.Rect) geom.Rect {
	if slideW <= 0 || slideH <= 0 {
		return geom.Rect{}
	}
	x0 := visible.X / slideW
	y0 := visible.Y / slideH
	x1 := visible.Right() / slideW
	y1 := visible.Bottom() / slideH

	rx := screenRect.X + x0*screenRect.W
	ry := screenRect.Y + y0*screenRect.H
	rw := (x1 - x0) * screenRect.W
	rh := (y1 - y0) * screenRect.H
	if rw < minIndicatorSize {
		rw = minIndicatorSize
	}
	if rh < minIndicatorSize {
		rh = minIndicatorSize
	}
	return geom.Rect{X: rx, Y: ry, W: rw, H: rh}
}

// Render draws the translucent backdrop, the overview texture, an outline,
// and the current visible-region indicator, in that order.
func (m *Minimap) Render(v *viewport.Viewport, r renderer.Renderer) {
	m.mu.Lock()
	rect := m.screenRect
	tex := m.texture
	slideW, slideH := m.slideW, m.slideH
	m.mu.Unlock()

	if rect.W <= 0 || rect.H <= 0 {
		return
	}

	r.SetBlendMode(renderer.BlendAlpha)

	verts, indices := quadTriangles(rect)
	r.DrawTriangles(verts, indices, backdropColor)

	if tex != nil {
		r.DrawTexturedQuad(tex, rect, 0, 0, 1, 1, 1.0)
	}

	r.DrawLines(outlinePoints(rect), outlineColor, 1)

	ind := indicatorRect(v.VisibleRegion(), slideW, slideH, rect)
	r.DrawLines(outlinePoints(ind), indicatorColor, 1)
}
