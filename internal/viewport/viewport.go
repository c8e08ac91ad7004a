// Package viewport implements the screen-to-slide coordinate mapping and
// animated pan/zoom state machine.
package viewport

import (
	"math"

	"github.com/pathview/viewer/internal/geom"
)

// Mode selects whether an operation applies immediately or eases in over
// DefaultAnimationDurationMs.
type Mode int

const (
	Instant Mode = iota
	Smooth
)

// DefaultAnimationDurationMs is the typical duration of a Smooth transition.
const DefaultAnimationDurationMs = 300.0

// Animation records an in-flight Smooth transition between two viewport
// states.
type Animation struct {
	StartPos, TargetPos   geom.Vec2
	StartZoom, TargetZoom float64
	StartTimeMs           float64
	DurationMs            float64
	Mode                  Mode
}

// Viewport maps screen pixels to slide pixels and back, and owns the
// current pan/zoom animation, if any.
type Viewport struct {
	WindowW, WindowH int32
	SlideW, SlideH   int64
	Position         geom.Vec2
	Zoom             float64
	MinZoom, MaxZoom float64
	Animation        *Animation
}

// New builds a Viewport sized to windowW x windowH over a slide of
// slideW x slideH, initially reset to a centered view at min_zoom.
func New(windowW, windowH int32, slideW, slideH int64) *Viewport {
	v := &Viewport{WindowW: windowW, WindowH: windowH, SlideW: slideW, SlideH: slideH}
	v.recomputeZoomLimits()
	v.ResetView(Instant, 0)
	return v
}

// ease is the cubic ease-in-out curve used for Smooth transitions.
func ease(p float64) float64 {
	if p < 0.5 {
		return 4 * p * p * p
	}
	q := -2*p + 2
	return 1 - (q*q*q)/2
}

func (v *Viewport) recomputeZoomLimits() {
	if v.SlideW <= 0 || v.SlideH <= 0 {
		v.MinZoom, v.MaxZoom = 0.01, 4.0
		return
	}
	fitW := float64(v.WindowW) / float64(v.SlideW)
	fitH := float64(v.WindowH) / float64(v.SlideH)
	v.MinZoom = 0.95 * math.Min(fitW, fitH)
	v.MaxZoom = 4.0
}

// clampAxis restores the position invariant for one axis: if the viewport
// is smaller than the slide, position stays within [0, slide-viewport];
// otherwise the slide is centered in the viewport.
func clampAxis(pos, viewportSize, slideSize float64) float64 {
	if viewportSize <= slideSize {
		return geom.Clamp(pos, 0, slideSize-viewportSize)
	}
	return -(viewportSize - slideSize) / 2
}

func (v *Viewport) clampPositionAt(pos geom.Vec2, zoom float64) geom.Vec2 {
	return geom.Vec2{
		X: clampAxis(pos.X, float64(v.WindowW)/zoom, float64(v.SlideW)),
		Y: clampAxis(pos.Y, float64(v.WindowH)/zoom, float64(v.SlideH)),
	}
}

func (v *Viewport) clamp() {
	v.Zoom = geom.Clamp(v.Zoom, v.MinZoom, v.MaxZoom)
	v.Position = v.clampPositionAt(v.Position, v.Zoom)
}

// ScreenToSlide converts a screen-space point to slide coordinates.
func (v *Viewport) ScreenToSlide(p geom.Vec2) geom.Vec2 {
	return p.Div(v.Zoom).Add(v.Position)
}

// SlideToScreen converts a slide-space point to screen coordinates.
func (v *Viewport) SlideToScreen(p geom.Vec2) geom.Vec2 {
	return p.Sub(v.Position).Scale(v.Zoom)
}

// VisibleRegion returns the slide-space rectangle currently on screen.
func (v *Viewport) VisibleRegion() geom.Rect {
	return geom.Rect{
		X: v.Position.X, Y: v.Position.Y,
		W: float64(v.WindowW) / v.Zoom, H: float64(v.WindowH) / v.Zoom,
	}
}

// currentTargetPos returns the animation's target position if one is in
// flight, else the current position — operations compose against the
// target, not the mid-flight interpolated value.
func (v *Viewport) currentTargetPos() geom.Vec2 {
	if v.Animation != nil {
		return v.Animation.TargetPos
	}
	return v.Position
}

func (v *Viewport) currentTargetZoom() float64 {
	if v.Animation != nil {
		return v.Animation.TargetZoom
	}
	return v.Zoom
}

// startTransition clamps targetPos/targetZoom and either applies them
// immediately (Instant) or begins a new Smooth animation replacing any
// animation already in flight.
func (v *Viewport) startTransition(targetPos geom.Vec2, targetZoom float64, mode Mode, nowMs float64) {
	targetZoom = geom.Clamp(targetZoom, v.MinZoom, v.MaxZoom)
	targetPos = v.clampPositionAt(targetPos, targetZoom)

	if mode == Instant {
		v.Position = targetPos
		v.Zoom = targetZoom
		v.Animation = nil
		return
	}

	v.Animation = &Animation{
		StartPos:    v.Position,
		TargetPos:   targetPos,
		StartZoom:   v.Zoom,
		TargetZoom:  targetZoom,
		StartTimeMs: nowMs,
		DurationMs:  DefaultAnimationDurationMs,
		Mode:        mode,
	}
}

// Pan shifts the target position by delta (in slide coordinates).
func (v *Viewport) Pan(delta geom.Vec2, mode Mode, nowMs float64) {
	target := v.currentTargetPos().Add(delta)
	v.startTransition(target, v.currentTargetZoom(), mode, nowMs)
}

// ZoomAt multiplies the current zoom by factor, keeping the slide point
// under screenPoint fixed on screen. A no-op factor (clamped zoom
// unchanged) leaves the viewport untouched.
func (v *Viewport) ZoomAt(screenPoint geom.Vec2, factor float64, mode Mode, nowMs float64) {
	slideAnchor := v.ScreenToSlide(screenPoint)
	currentZoom := v.currentTargetZoom()
	newZoom := geom.Clamp(currentZoom*factor, v.MinZoom, v.MaxZoom)
	if newZoom == currentZoom {
		return
	}
	targetPos := slideAnchor.Sub(screenPoint.Div(newZoom))
	v.startTransition(targetPos, newZoom, mode, nowMs)
}

// CenterOn moves the target position so slidePoint sits at the center of
// the window, at the current zoom.
func (v *Viewport) CenterOn(slidePoint geom.Vec2, mode Mode, nowMs float64) {
	zoom := v.currentTargetZoom()
	windowHalf := geom.Vec2{X: float64(v.WindowW) / 2, Y: float64(v.WindowH) / 2}
	target := slidePoint.Sub(windowHalf.Div(zoom))
	v.startTransition(target, zoom, mode, nowMs)
}

// ResetView zooms out to min_zoom and centers the whole slide.
func (v *Viewport) ResetView(mode Mode, nowMs float64) {
	targetZoom := v.MinZoom
	center := geom.Vec2{X: float64(v.SlideW) / 2, Y: float64(v.SlideH) / 2}
	windowHalf := geom.Vec2{X: float64(v.WindowW) / 2, Y: float64(v.WindowH) / 2}
	target := center.Sub(windowHalf.Div(targetZoom))
	v.startTransition(target, targetZoom, mode, nowMs)
}

// SetWindowSize recomputes zoom limits for a new window size and
// re-clamps the current state and any in-flight animation target.
func (v *Viewport) SetWindowSize(w, h int32) {
	v.WindowW, v.WindowH = w, h
	v.recomputeZoomLimits()
	v.clamp()
	if v.Animation != nil {
		v.Animation.TargetZoom = geom.Clamp(v.Animation.TargetZoom, v.MinZoom, v.MaxZoom)
		v.Animation.TargetPos = v.clampPositionAt(v.Animation.TargetPos, v.Animation.TargetZoom)
	}
}

// SetSlideDimensions recomputes zoom limits for a new slide size and
// resets the view.
func (v *Viewport) SetSlideDimensions(w, h int64) {
	v.SlideW, v.SlideH = w, h
	v.recomputeZoomLimits()
	v.ResetView(Instant, 0)
}

// Update advances any in-flight animation to nowMs, interpolating
// position and zoom with the cubic ease-in-out curve and clamping the
// result. It is a no-op if no animation is active.
func (v *Viewport) Update(nowMs float64) {
	a := v.Animation
	if a == nil {
		return
	}

	p := 1.0
	if a.DurationMs > 0 {
		p = geom.Clamp((nowMs-a.StartTimeMs)/a.DurationMs, 0, 1)
	}
	e := ease(p)

	v.Position = geom.Vec2{
		X: a.StartPos.X + (a.TargetPos.X-a.StartPos.X)*e,
		Y: a.StartPos.Y + (a.TargetPos.Y-a.StartPos.Y)*e,
	}
	v.Zoom = a.StartZoom + (a.TargetZoom-a.StartZoom)*e
	v.clamp()

	if p >= 1 {
		v.Animation = nil
	}
}

// Cancel discards any in-flight animation, leaving the viewport at
// whatever state it last interpolated to.
func (v *Viewport) Cancel() {
	v.Animation = nil
}
