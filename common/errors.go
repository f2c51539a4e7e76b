package common

import "errors"

var (
	// ErrOutOfCapacity is returned when an allocation would exceed a fixed
	// capacity: the slab bump cursor, a recycler queue, or a draw-call pool.
	// Allocators never grow at runtime; recovery is the caller's concern.
	ErrOutOfCapacity = errors.New("out of capacity")

	// ErrInvalidFree is returned when freeing an index that was never
	// allocated or has already been freed.
	ErrInvalidFree = errors.New("invalid free")

	// ErrStaleBinding is returned when a binding whose slot has since been
	// freed (and possibly reallocated) is used to address storage. The
	// generation check turns use-after-free into an explicit error instead of
	// silent aliasing.
	ErrStaleBinding = errors.New("stale binding")

	// ErrUnsupportedElementType is returned when a declared attribute's
	// element type has no GPU texture format mapping.
	ErrUnsupportedElementType = errors.New("unsupported element type")
)
