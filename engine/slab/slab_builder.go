package slab

// SlabAllocatorOption is a functional option for configuring a SlabAllocator
// via NewSlabAllocator.
type SlabAllocatorOption func(*slabAllocator)

// WithCapacity is an option builder that sets the total address range managed
// by the allocator.
//
// Parameters:
//   - capacity: the address range size in units, must be positive
//
// Returns:
//   - SlabAllocatorOption: a function that applies the capacity option
func WithCapacity(capacity int) SlabAllocatorOption {
	return func(s *slabAllocator) {
		s.capacity = capacity
	}
}

// WithAlignment is an option builder that sets the bump cursor alignment.
// After each fresh allocation the cursor is rounded up to a multiple of this
// value. Defaults to 1 (no alignment).
//
// Parameters:
//   - alignment: the alignment in units, must be at least 1
//
// Returns:
//   - SlabAllocatorOption: a function that applies the alignment option
func WithAlignment(alignment int) SlabAllocatorOption {
	return func(s *slabAllocator) {
		s.alignment = alignment
	}
}

// WithRecyclerCapacity is an option builder that sets the maximum number of
// outstanding freed ranges each slot class can hold. A Free into a full
// recycler fails with common.ErrOutOfCapacity. Defaults to 4096.
//
// Parameters:
//   - capacity: the per-class recycler capacity, must be at least 1
//
// Returns:
//   - SlabAllocatorOption: a function that applies the recycler capacity option
func WithRecyclerCapacity(capacity int) SlabAllocatorOption {
	return func(s *slabAllocator) {
		s.recyclerCapacity = capacity
	}
}
