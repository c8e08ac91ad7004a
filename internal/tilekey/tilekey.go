// Package tilekey identifies a single pyramid tile by (level, x, y).
package tilekey

import "fmt"

// goldenRatio32 is the standard 32-bit fixed-point golden-ratio constant
// used to mix integer hash inputs (2654435769 = floor(2^32 / phi)).
const goldenRatio32 = 2654435769

// Key identifies a tile by its pyramid level and tile-grid coordinates.
type Key struct {
	Level int32
	X     int32
	Y     int32
}

// New builds a Key.
func New(level, x, y int32) Key {
	return Key{Level: level, X: x, Y: y}
}

// Less orders keys lexicographically by (Level, X, Y).
func (k Key) Less(o Key) bool {
	if k.Level != o.Level {
		return k.Level < o.Level
	}
	if k.X != o.X {
		return k.X < o.X
	}
	return k.Y < o.Y
}

// Hash mixes the three components with the golden-ratio constant so that
// keys distribute well across hash-table buckets.
func (k Key) Hash() uint32 {
	h := uint32(k.Level)
	h = (h * goldenRatio32) ^ uint32(k.X)
	h = (h * goldenRatio32) ^ uint32(k.Y)
	return h
}

// String renders the key as "L{level}_X{x}_Y{y}", the form used in log
// lines.
func (k Key) String() string {
	return fmt.Sprintf("L%d_X%d_Y%d", k.Level, k.X, k.Y)
}
