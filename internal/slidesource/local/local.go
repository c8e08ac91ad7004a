// Package local adapts the on-disk pyramid reader (package pyramid) into
// the slidesource.Source trait, repacking the pyramid library's
// premultiplied ARGB output into the non-premultiplied RGBA the rest of
// the pipeline expects.
package local

import (
	"fmt"
	"sync"

	"github.com/pathview/viewer/internal/pyramid"
	"github.com/pathview/viewer/internal/slidesource"
)

// Source is a SlideSource backed by a local pyramid directory.
type Source struct {
	mu        sync.Mutex
	pyr       *pyramid.Pyramid
	path      string
	valid     bool
	lastError string
}

// Open opens a local pyramid at path. A failure leaves the source
// constructed but invalid, with LastError populated, rather than
// returning an error from Open itself — callers still get a usable
// (if inert) Source to query.
func Open(path string) *Source {
	s := &Source{path: path}
	p, err := pyramid.Open(path)
	if err != nil {
		s.lastError = err.Error()
		return s
	}
	s.pyr = p
	s.valid = true
	return s
}

func (s *Source) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

func (s *Source) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Source) LevelCount() int32 {
	if !s.IsValid() {
		return 0
	}
	return s.pyr.LevelCount()
}

func (s *Source) LevelDimensions(level int32) (int64, int64) {
	if !s.IsValid() {
		return 0, 0
	}
	return s.pyr.LevelDimensions(level)
}

func (s *Source) LevelDownsample(level int32) float64 {
	if !s.IsValid() {
		return 1.0
	}
	return s.pyr.LevelDownsample(level)
}

func (s *Source) Width() int64 {
	if !s.IsValid() {
		return 0
	}
	return s.pyr.Width()
}

func (s *Source) Height() int64 {
	if !s.IsValid() {
		return 0
	}
	return s.pyr.Height()
}

func (s *Source) Identifier() string { return s.path }

func (s *Source) IsRemote() bool { return false }

// ReadRegion converts x, y (level-0 coordinates) into level's own pixel
// coordinate system, reads the region from the pyramid library, and
// repacks its premultiplied ARGB output into non-premultiplied RGBA8.
func (s *Source) ReadRegion(level int32, x, y, w, h int64) []byte {
	s.mu.Lock()
	pyr := s.pyr
	valid := s.valid
	s.mu.Unlock()
	if !valid {
		return nil
	}

	downsample := pyr.LevelDownsample(level)
	lx := int64(float64(x) / downsample)
	ly := int64(float64(y) / downsample)

	argb, err := pyr.ReadRegionARGB(level, lx, ly, w, h)
	if err != nil {
		s.mu.Lock()
		s.lastError = fmt.Sprintf("read_region: %v", err)
		s.mu.Unlock()
		return nil
	}

	out := make([]byte, len(argb)*4)
	for i, px := range argb {
		a := byte(px >> 24)
		pr := byte(px >> 16)
		pg := byte(px >> 8)
		pb := byte(px)

		var r, g, b byte
		if a > 0 {
			r = byte(uint32(pr) * 255 / uint32(a))
			g = byte(uint32(pg) * 255 / uint32(a))
			b = byte(uint32(pb) * 255 / uint32(a))
		}
		o := i * 4
		out[o] = r
		out[o+1] = g
		out[o+2] = b
		out[o+3] = a
	}
	return out
}

// Thumbnail reads the coarsest pyramid level whole and bilinearly resamples
// it down to fit within maxDim, so the minimap never uploads a
// full-resolution overview texture for a gigapixel slide's coarsest level.
func (s *Source) Thumbnail(maxDim int) ([]byte, int, int) {
	if !s.IsValid() {
		return nil, 0, 0
	}
	level := s.LevelCount() - 1
	if level < 0 {
		return nil, 0, 0
	}
	w, h := s.LevelDimensions(level)
	if w <= 0 || h <= 0 {
		return nil, 0, 0
	}
	pix := s.ReadRegion(level, 0, 0, w, h)
	if pix == nil {
		return nil, 0, 0
	}
	return slidesource.Resample(pix, int(w), int(h), maxDim)
}
