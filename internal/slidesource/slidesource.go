// Package slidesource defines the SlideSource trait consumed by
// the tile engine, plus its two implementations: a local pyramid file
// reader and a remote signed-tile-server client.
package slidesource

// Source is the capability set the tile engine depends on. It is
// implemented by both a local pyramid file reader (package
// slidesource/local) and a remote tile-server client (package
// slidesource/remote) — a single well-defined seam rather than a deeper
// inheritance hierarchy.
type Source interface {
	// IsValid reports whether the source is usable.
	IsValid() bool
	// LastError returns the message of the most recent failure, or "" if
	// the source has never failed.
	LastError() string

	LevelCount() int32
	// LevelDimensions returns the pixel dimensions of level, or (0, 0) for
	// an invalid level.
	LevelDimensions(level int32) (width, height int64)
	// LevelDownsample returns the downsample factor of level relative to
	// level 0, or 1.0 for an invalid level.
	LevelDownsample(level int32) float64

	Width() int64
	Height() int64

	Identifier() string
	IsRemote() bool

	// ReadRegion reads a w x h block of non-premultiplied RGBA8 pixels
	// (byte order R, G, B, A) starting at (x, y) in level-0 coordinates,
	// converted internally to level's coordinate system. It returns nil
	// on any failure; the caller (the tile engine) treats a nil buffer as
	// a retryable miss and keeps showing its fallback tile.
	ReadRegion(level int32, x, y, w, h int64) []byte

	// Thumbnail reads the coarsest level in full and bilinearly resamples
	// it to fit within maxDim on its longer side, for the minimap
	// overview texture. It returns (nil, 0, 0) on any failure.
	Thumbnail(maxDim int) (pix []byte, width, height int)
}
