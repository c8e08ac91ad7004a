// Package perr defines the error-kind sentinels shared across this module.
// Call sites wrap these with fmt.Errorf("...: %w", ErrX) the way the
// teacher wraps I/O errors in internal/config/config.go and
// internal/data/zarr/reader.go, so callers can still recover the kind with
// errors.Is.
package perr

import "errors"

var (
	// ErrInvalidInput covers a level out of range or a malformed region.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound covers a missing slide or tile.
	ErrNotFound = errors.New("not found")
	// ErrAuthDenied covers a 401 response from the tile server.
	ErrAuthDenied = errors.New("authentication failed")
	// ErrTransport covers a connection or timeout failure.
	ErrTransport = errors.New("transport error")
	// ErrDecode covers a JPEG/protobuf/zlib/zstd decode failure.
	ErrDecode = errors.New("decode error")
	// ErrCapacity covers an allocation failure in a pixel path.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrState covers an operation attempted on an invalid source, e.g.
	// read_region before a successful connect.
	ErrState = errors.New("invalid state")
)
