// Package apperr holds the sentinel errors shared across the ring engine and its surfaces.
package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalid            = errors.New("invalid argument")
	ErrUnsupported        = errors.New("operation not supported for these input kinds")
	ErrCapabilityDisabled = errors.New("capability disabled")
	ErrPinned             = errors.New("pinned")
	ErrNotActualized      = errors.New("not actualized")
	ErrUntracked          = errors.New("ordinal not tracked by allocator")

	// ErrCorrupt marks a broken graph invariant, such as an edge pointing at
	// an id that neither live map holds.
	ErrCorrupt = errors.New("ring corrupt")
)
