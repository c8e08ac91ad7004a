// Package renderer defines the GPU-surface collaborator the core consumes:
// texture upload, textured-quad blits, line and solid-triangle
// draws, and blend mode. Nothing in this repo implements it — the concrete
// GPU backend is explicitly out of scope — but the overlays and tile
// engine are written against this interface so they can be exercised with
// a recording fake in tests.
package renderer

import "github.com/pathview/viewer/internal/geom"

// TextureHandle is an opaque GPU texture reference.
type TextureHandle interface{}

// BlendMode selects how subsequent draws combine with the framebuffer.
type BlendMode int

const (
	BlendNone BlendMode = iota
	BlendAlpha
)

// RGBA is a straight (non-premultiplied) 8-bit-per-channel color.
type RGBA struct {
	R, G, B, A byte
}

// Renderer is the external collaborator: it owns the window, GPU surface,
// and 2-D texture API.
type Renderer interface {
	// CreateTexture uploads a width x height RGBA8 buffer and returns a
	// handle to it.
	CreateTexture(width, height int, pix []byte) TextureHandle
	// DestroyTexture releases a texture created by CreateTexture.
	DestroyTexture(tex TextureHandle)
	// DrawTexturedQuad blits tex into dst (screen coordinates), sampling
	// the sub-rectangle [u0,v0]-[u1,v1] of the texture (normalized 0..1),
	// at the given opacity.
	DrawTexturedQuad(tex TextureHandle, dst geom.Rect, u0, v0, u1, v1 float64, opacity float64)
	// DrawLines draws a polyline through points with the given color and
	// stroke width.
	DrawLines(points []geom.Vec2, color RGBA, width float64)
	// DrawTriangles draws solid triangles from vertices indexed by
	// indices (groups of three), filled with color.
	DrawTriangles(vertices []geom.Vec2, indices []int, color RGBA)
	// SetBlendMode selects the blend mode for subsequent draws.
	SetBlendMode(mode BlendMode)
}
