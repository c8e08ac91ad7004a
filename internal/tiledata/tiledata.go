// Package tiledata holds the owned RGBA8 pixel buffer for a single tile.
package tiledata

import "fmt"

// Data is an immutable, owned block of non-premultiplied RGBA8 pixels in
// row-major order, byte layout R, G, B, A.
type Data struct {
	Width  int
	Height int
	Pix    []byte
}

// New constructs a Data from a pixel buffer, panicking if the buffer size
// does not match Width*Height*4 (an invariant violation, not a runtime
// condition callers are expected to recover from).
func New(width, height int, pix []byte) *Data {
	if width < 0 || height < 0 {
		panic("tiledata: negative dimension")
	}
	want := width * height * 4
	if len(pix) != want {
		panic(fmt.Sprintf("tiledata: buffer length %d does not match %dx%d RGBA (%d)", len(pix), width, height, want))
	}
	return &Data{Width: width, Height: height, Pix: pix}
}

// Bytes returns the buffer size in bytes, the unit the tile cache budgets
// against.
func (d *Data) Bytes() int64 {
	if d == nil {
		return 0
	}
	return int64(len(d.Pix))
}

// At returns the RGBA quad at (x, y). Out-of-range coordinates return the
// zero quad.
func (d *Data) At(x, y int) (r, g, b, a byte) {
	if x < 0 || y < 0 || x >= d.Width || y >= d.Height {
		return 0, 0, 0, 0
	}
	i := (y*d.Width + x) * 4
	return d.Pix[i], d.Pix[i+1], d.Pix[i+2], d.Pix[i+3]
}
