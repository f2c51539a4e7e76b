// Package slab implements a power-of-two sub-allocator over a bounded linear
// address range. Allocations are rounded up to size classes of 2^c units;
// freed ranges are recycled per class through bounded FIFO queues, so distinct
// classes never share physical ranges. The bump cursor is a high-water mark:
// freed space only returns through the recyclers, never to the cursor.
package slab

import (
	"fmt"
	"math/bits"

	"github.com/Carmen-Shannon/oxy-batch/common"
)

// maxSlotClasses bounds the number of distinct power-of-two size classes.
// Class c covers requested sizes in (2^(c-1), 2^c].
const maxSlotClasses = 31

// slabAllocator is the implementation of the SlabAllocator interface.
type slabAllocator struct {
	capacity         int
	alignment        int
	recyclerCapacity int

	// cursor is the monotonic bump pointer. It never decreases; recycled
	// ranges are handed out before fresh ones.
	cursor int

	// recyclers holds the per-class freed-range queues, created lazily.
	recyclers [maxSlotClasses]*recycler

	// classes maps each live range start to its slot class, validating frees.
	classes map[int]int
}

// SlabAllocator defines the interface for the power-of-two slab sub-allocator.
// Both operations are amortized O(1). All mutation must happen on a single
// goroutine; there is no internal locking.
type SlabAllocator interface {
	// Alloc reserves a range of capacity at least size units and returns its
	// start index. A previously freed range of the same size class is reused
	// (FIFO) before fresh space is bump-allocated.
	//
	// Parameters:
	//   - size: the requested range size in units, must be > 0
	//
	// Returns:
	//   - int: the start index of the reserved range
	//   - error: common.ErrOutOfCapacity if the range cannot be reserved
	Alloc(size int) (int, error)

	// Free releases the range starting at index back to its size class
	// recycler. Freeing an index that was never allocated, or twice, fails.
	//
	// Parameters:
	//   - index: the start index returned by a prior Alloc
	//
	// Returns:
	//   - error: common.ErrInvalidFree for unknown or double frees,
	//     common.ErrOutOfCapacity if the class recycler is full
	Free(index int) error

	// Capacity returns the total address range units this allocator manages.
	//
	// Returns:
	//   - int: the configured capacity
	Capacity() int

	// Cursor returns the current bump cursor position. This is a high-water
	// mark, not a free-space count: recycled ranges do not lower it.
	//
	// Returns:
	//   - int: the cursor position in units
	Cursor() int

	// Live returns the number of currently allocated ranges.
	//
	// Returns:
	//   - int: the live range count
	Live() int
}

var _ SlabAllocator = &slabAllocator{}

// NewSlabAllocator creates a new SlabAllocator with the specified options applied.
//
// Parameters:
//   - options: a variadic list of SlabAllocatorOption functions to configure the allocator
//
// Returns:
//   - SlabAllocator: a new allocator configured with the provided options
//   - error: an error if the configuration is invalid
func NewSlabAllocator(options ...SlabAllocatorOption) (SlabAllocator, error) {
	s := &slabAllocator{
		alignment:        1,
		recyclerCapacity: 4096,
		classes:          make(map[int]int),
	}
	for _, opt := range options {
		opt(s)
	}

	if s.capacity <= 0 {
		return nil, fmt.Errorf("slab: capacity must be positive, got %d", s.capacity)
	}
	if s.alignment < 1 {
		return nil, fmt.Errorf("slab: alignment must be at least 1, got %d", s.alignment)
	}
	if s.recyclerCapacity < 1 {
		return nil, fmt.Errorf("slab: recycler capacity must be at least 1, got %d", s.recyclerCapacity)
	}
	return s, nil
}

// slotClass computes the power-of-two size class for a requested size:
// ceil(log2(size)).
func slotClass(size int) int {
	if size <= 1 {
		return 0
	}
	return bits.Len(uint(size - 1))
}

func (s *slabAllocator) Alloc(size int) (int, error) {
	if size <= 0 {
		return 0, fmt.Errorf("slab: allocation size must be positive, got %d", size)
	}

	class := slotClass(size)
	if class >= maxSlotClasses {
		return 0, fmt.Errorf("slab: allocation of %d units exceeds the largest slot class: %w", size, common.ErrOutOfCapacity)
	}

	if r := s.recyclers[class]; r != nil {
		if index, ok := r.pop(); ok {
			s.classes[index] = class
			return index, nil
		}
	}

	// Fresh range: advance the cursor by 2^class, then round the new cursor
	// up to the configured alignment so the next range starts aligned.
	next := s.cursor + (1 << class)
	if rem := next % s.alignment; rem != 0 {
		next += s.alignment - rem
	}
	if next > s.capacity {
		return 0, fmt.Errorf("slab: allocation of %d units (class %d) overflows capacity %d: %w", size, class, s.capacity, common.ErrOutOfCapacity)
	}

	index := s.cursor
	s.cursor = next
	s.classes[index] = class
	return index, nil
}

func (s *slabAllocator) Free(index int) error {
	class, ok := s.classes[index]
	if !ok {
		return fmt.Errorf("slab: index %d is not an allocated range start: %w", index, common.ErrInvalidFree)
	}

	r := s.recyclers[class]
	if r == nil {
		r = newRecycler(s.recyclerCapacity)
		s.recyclers[class] = r
	}
	if !r.push(index) {
		return fmt.Errorf("slab: recycler for class %d holds %d freed ranges: %w", class, s.recyclerCapacity, common.ErrOutOfCapacity)
	}

	delete(s.classes, index)
	return nil
}

func (s *slabAllocator) Capacity() int {
	return s.capacity
}

func (s *slabAllocator) Cursor() int {
	return s.cursor
}

func (s *slabAllocator) Live() int {
	return len(s.classes)
}

// recycler is a bounded FIFO queue of freed range starts for one slot class.
// Pushing into a full recycler fails loudly rather than wrapping around.
type recycler struct {
	entries []int
	head    int
	count   int
}

func newRecycler(capacity int) *recycler {
	return &recycler{entries: make([]int, capacity)}
}

func (r *recycler) push(index int) bool {
	if r.count == len(r.entries) {
		return false
	}
	r.entries[(r.head+r.count)%len(r.entries)] = index
	r.count++
	return true
}

func (r *recycler) pop() (int, bool) {
	if r.count == 0 {
		return 0, false
	}
	index := r.entries[r.head]
	r.head = (r.head + 1) % len(r.entries)
	r.count--
	return index, true
}
