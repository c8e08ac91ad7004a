// Package remote implements a slidesource.Source backed by a WSI stream
// server: a RemoteSlideSource that fetches slide metadata
// once at construction and pulls JPEG tiles from the server on demand,
// compositing them into the caller's requested region even when the
// server's tile size differs from the engine's.
package remote

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pathview/viewer/internal/logging"
	"github.com/pathview/viewer/internal/slidesource"
	"github.com/pathview/viewer/internal/urlsign"
	"github.com/pathview/viewer/internal/wsiclient"
)

// DefaultTileQuality is the JPEG quality requested from the server.
const DefaultTileQuality = 85

// Source is a SlideSource backed by a remote tile server.
type Source struct {
	mu        sync.Mutex
	client    *wsiclient.Client
	slideID   string
	info      *wsiclient.SlideInfo
	valid     bool
	lastError string
	log       *log.Logger
}

// Open fetches slide metadata from baseURL for slideID and constructs a
// Source. As with the local reader, a failure leaves the Source
// constructed but invalid rather than returning an error.
func Open(baseURL, slideID, secret string) *Source {
	var signer *urlsign.Signer
	if secret != "" {
		signer = urlsign.New(secret)
	}

	s := &Source{
		client:  wsiclient.New(baseURL, signer),
		slideID: slideID,
		log:     logging.Component("remote-slide"),
	}

	info, err := s.client.GetSlideInfo(context.Background(), slideID)
	if err != nil {
		s.lastError = err.Error()
		s.log.Printf("open %s: %v", slideID, err)
		return s
	}
	s.info = info
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return 0
	}
	return int32(s.info.LevelCount)
}

func (s *Source) levelInfo(level int32) (wsiclient.LevelInfo, bool) {
	if !s.valid || level < 0 || int(level) >= len(s.info.Levels) {
		return wsiclient.LevelInfo{}, false
	}
	return s.info.Levels[level], true
}

func (s *Source) LevelDimensions(level int32) (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl, ok := s.levelInfo(level)
	if !ok {
		return 0, 0
	}
	w := int64(float64(s.info.Width) / lvl.Downsample)
	h := int64(float64(s.info.Height) / lvl.Downsample)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func (s *Source) LevelDownsample(level int32) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl, ok := s.levelInfo(level)
	if !ok {
		return 1.0
	}
	return lvl.Downsample
}

func (s *Source) Width() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return 0
	}
	return s.info.Width
}

func (s *Source) Height() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return 0
	}
	return s.info.Height
}

func (s *Source) Identifier() string { return s.slideID }

func (s *Source) IsRemote() bool { return true }

// ReadRegion fetches the server tiles overlapping the requested region at
// level and composites them into a single non-premultiplied RGBA8 buffer.
// It serializes concurrent calls with a mutex: the tile engine's worker
// pool may call ReadRegion from several goroutines, and the server tile
// grid generally doesn't line up with the requester's window.
func (s *Source) ReadRegion(level int32, x, y, w, h int64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	lvl, ok := s.levelInfo(level)
	if !ok {
		return nil
	}
	ts := int64(lvl.TileWidth)
	if ts <= 0 {
		ts = 256
	}

	lx := int64(float64(x) / lvl.Downsample)
	ly := int64(float64(y) / lvl.Downsample)

	tx0 := lx / ts
	ty0 := ly / ts
	tx1 := (lx + w - 1) / ts
	ty1 := (ly + h - 1) / ts

	out := make([]byte, w*h*4)
	ctx := context.Background()

	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			img, err := s.client.GetTile(ctx, s.slideID, int(level), int(tx), int(ty), DefaultTileQuality)
			if err != nil {
				s.lastError = fmt.Sprintf("tile %d/%d/%d: %v", level, tx, ty, err)
				s.log.Printf("%s", s.lastError)
				continue
			}

			bounds := img.Bounds()
			originX := tx*ts - lx
			originY := ty*ts - ly
			for iy := bounds.Min.Y; iy < bounds.Max.Y; iy++ {
				dy := originY + int64(iy-bounds.Min.Y)
				if dy < 0 || dy >= h {
					continue
				}
				for ix := bounds.Min.X; ix < bounds.Max.X; ix++ {
					dx := originX + int64(ix-bounds.Min.X)
					if dx < 0 || dx >= w {
						continue
					}
					r, g, b, a := img.At(ix, iy).RGBA()
					o := (dy*w + dx) * 4
					out[o] = byte(r >> 8)
					out[o+1] = byte(g >> 8)
					out[o+2] = byte(b >> 8)
					out[o+3] = byte(a >> 8)
				}
			}
		}
	}
	return out
}

// Thumbnail fetches the coarsest level whole and bilinearly resamples it
// down to fit within maxDim, mirroring the local reader's minimap path.
func (s *Source) Thumbnail(maxDim int) ([]byte, int, int) {
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
