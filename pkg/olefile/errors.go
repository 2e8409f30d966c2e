// Package olefile provides a pure Go reader for OLE2 compound files,
// the container format used by Xradia scan files (.txm, .txrm, .xrm, .rcp).
// It implements only what the converters need: opening a container and
// extracting whole named streams by hierarchical path.
package olefile

import "errors"

// Common errors
var (
	ErrNotCompound    = errors.New("not an OLE compound file")
	ErrStreamNotFound = errors.New("stream not found")
	ErrCorrupt        = errors.New("corrupt compound file structure")
	ErrClosed         = errors.New("file is closed")
)
