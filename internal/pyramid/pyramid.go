// Package pyramid is the local pyramid-reader library that
// slidesource/local adapts, modeled on the read_region contract of
// OpenSlide-style pyramid libraries (see other_examples'
// NKI-AI-slidescope__deepzoom.go and ekonechny-gopenslide__helpers.go):
// tiles are addressed by level and pixel offset, and regions are handed
// back as premultiplied ARGB, the format such libraries commonly use.
//
// A PathView pyramid on disk is a directory:
//
//	info.json                  — {"width","height","tile_size","downsamples"}
//	levels/<level>/<tx>_<ty>.png — one PNG per tile, row-major tile grid
package pyramid

import (
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
)

// Info is the on-disk pyramid metadata.
type Info struct {
	Width       int64     `json:"width"`
	Height      int64     `json:"height"`
	TileSize    int       `json:"tile_size"`
	Downsamples []float64 `json:"downsamples"`
}

// Pyramid is an opened local pyramid.
type Pyramid struct {
	basePath string
	info     Info
}

// Open reads a pyramid's info.json and validates it.
func Open(basePath string) (*Pyramid, error) {
	raw, err := os.ReadFile(filepath.Join(basePath, "info.json"))
	if err != nil {
		return nil, fmt.Errorf("pyramid: read info.json: %w", err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("pyramid: parse info.json: %w", err)
	}
	if info.TileSize <= 0 {
		info.TileSize = 512
	}
	if len(info.Downsamples) == 0 {
		info.Downsamples = []float64{1.0}
	}
	return &Pyramid{basePath: basePath, info: info}, nil
}

// LevelCount returns the number of pyramid levels.
func (p *Pyramid) LevelCount() int32 { return int32(len(p.info.Downsamples)) }

// LevelDownsample returns the downsample factor for level, or 1.0 if out
// of range.
func (p *Pyramid) LevelDownsample(level int32) float64 {
	if level < 0 || int(level) >= len(p.info.Downsamples) {
		return 1.0
	}
	return p.info.Downsamples[level]
}

// LevelDimensions returns the pixel dimensions of level, or (0, 0) if out
// of range.
func (p *Pyramid) LevelDimensions(level int32) (width, height int64) {
	if level < 0 || int(level) >= len(p.info.Downsamples) {
		return 0, 0
	}
	d := p.info.Downsamples[level]
	w := int64(float64(p.info.Width) / d)
	h := int64(float64(p.info.Height) / d)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Width returns the level-0 width.
func (p *Pyramid) Width() int64 { return p.info.Width }

// Height returns the level-0 height.
func (p *Pyramid) Height() int64 { return p.info.Height }

// ReadRegionARGB reads a w x h block at (x, y) in level's own pixel
// coordinates, returning premultiplied ARGB32 pixels (one uint32 per
// pixel, 0xAARRGGBB, RGB values premultiplied by A), row-major, matching
// the convention of C pyramid libraries such libraries as OpenSlide expose
// to callers. Out-of-range tiles are treated as transparent black.
func (p *Pyramid) ReadRegionARGB(level int32, x, y, w, h int64) ([]uint32, error) {
	if level < 0 || int(level) >= len(p.info.Downsamples) {
		return nil, fmt.Errorf("pyramid: level %d out of range", level)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("pyramid: invalid region size %dx%d", w, h)
	}

	ts := int64(p.info.TileSize)
	out := make([]uint32, w*h)

	tx0 := x / ts
	ty0 := y / ts
	tx1 := (x + w - 1) / ts
	ty1 := (y + h - 1) / ts

	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			img, err := p.loadTile(level, tx, ty)
			if err != nil {
				continue // missing tile stays transparent black
			}
			p.blit(out, w, h, x, y, tx*ts, ty*ts, img)
		}
	}
	return out, nil
}

func (p *Pyramid) loadTile(level int32, tx, ty int64) (image.Image, error) {
	path := filepath.Join(p.basePath, "levels", fmt.Sprint(level), fmt.Sprintf("%d_%d.png", tx, ty))
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("pyramid: decode tile: %w", err)
	}
	return img, nil
}

// blit copies img (whose top-left corner sits at level pixel
// (tileOriginX, tileOriginY)) into the premultiplied-ARGB destination
// buffer covering [regionX, regionX+regionW) x [regionY, regionY+regionH).
func (p *Pyramid) blit(dst []uint32, regionW, regionH, regionX, regionY, tileOriginX, tileOriginY int64, img image.Image) {
	b := img.Bounds()
	nrgba := image.NewNRGBA(b)
	draw.Draw(nrgba, b, img, b.Min, draw.Src)

	for sy := b.Min.Y; sy < b.Max.Y; sy++ {
		gy := tileOriginY + int64(sy-b.Min.Y)
		dy := gy - regionY
		if dy < 0 || dy >= regionH {
			continue
		}
		for sx := b.Min.X; sx < b.Max.X; sx++ {
			gx := tileOriginX + int64(sx-b.Min.X)
			dx := gx - regionX
			if dx < 0 || dx >= regionW {
				continue
			}
			r, g, bch, a := nrgba.At(sx, sy).RGBA()
			r8, g8, b8, a8 := uint32(r>>8), uint32(g>>8), uint32(bch>>8), uint32(a>>8)
			// premultiply
			pr := r8 * a8 / 255
			pg := g8 * a8 / 255
			pb := b8 * a8 / 255
			dst[dy*regionW+dx] = a8<<24 | pr<<16 | pg<<8 | pb
		}
	}
}
