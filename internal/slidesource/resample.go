package slidesource

import (
	"image"

	"golang.org/x/image/draw"
)

// Resample scales an RGBA8 (non-premultiplied, straight-alpha) pixel buffer
// of size srcW x srcH down to fit within maxDim on its longer side, using
// bilinear interpolation. If the buffer already fits, or maxDim <= 0, it is
// returned unchanged. Tile and overview pixels from both local and remote
// sources are fully opaque, so treating them as image.RGBA (which is
// alpha-premultiplied) introduces no visible error.
func Resample(pix []byte, srcW, srcH, maxDim int) (out []byte, w, h int) {
	if srcW <= 0 || srcH <= 0 || len(pix) < srcW*srcH*4 {
		return nil, 0, 0
	}
	if maxDim <= 0 || (srcW <= maxDim && srcH <= maxDim) {
		return pix, srcW, srcH
	}

	scale := float64(maxDim) / float64(srcW)
	if hScale := float64(maxDim) / float64(srcH); hScale < scale {
		scale = hScale
	}
	dstW := int(float64(srcW) * scale)
	dstH := int(float64(srcH) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	src := &image.RGBA{Pix: pix, Stride: srcW * 4, Rect: image.Rect(0, 0, srcW, srcH)}
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst.Pix, dstW, dstH
}
