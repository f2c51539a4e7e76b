package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-batch/common"
)

func TestSlotClass(t *testing.T) {
	cases := []struct {
		size  int
		class int
	}{
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{8, 3},
		{9, 4},
		{1024, 10},
		{1025, 11},
	}
	for _, c := range cases {
		assert.Equal(t, c.class, slotClass(c.size), "size %d", c.size)
	}
}

func TestAllocBumpsBySlotClass(t *testing.T) {
	s, err := NewSlabAllocator(WithCapacity(1024))
	require.NoError(t, err)

	// Size 3 rounds up to class 2, so consecutive allocations are 4 apart.
	a, err := s.Alloc(3)
	require.NoError(t, err)
	b, err := s.Alloc(3)
	require.NoError(t, err)
	assert.Equal(t, 0, a)
	assert.Equal(t, 4, b)
	assert.Equal(t, 8, s.Cursor())
}

func TestAllocRangesDisjoint(t *testing.T) {
	s, err := NewSlabAllocator(WithCapacity(4096))
	require.NoError(t, err)

	// Mixed alloc/free traffic across two classes; live ranges of one class
	// must never overlap.
	live := map[int]int{} // start -> span
	var freed []int
	for i := 0; i < 64; i++ {
		size := 4
		if i%3 == 0 {
			size = 16
		}
		idx, err := s.Alloc(size)
		require.NoError(t, err)

		span := 4
		if size == 16 {
			span = 16
		}
		for start, sp := range live {
			overlaps := idx < start+sp && start < idx+span
			// Different classes never share ranges either, so any overlap is
			// a failure regardless of size.
			assert.False(t, overlaps, "range [%d,%d) overlaps live [%d,%d)", idx, idx+span, start, start+sp)
		}
		live[idx] = span

		if i%5 == 4 {
			// Free the oldest live range.
			oldest := -1
			for start := range live {
				if oldest == -1 || start < oldest {
					oldest = start
				}
			}
			require.NoError(t, s.Free(oldest))
			delete(live, oldest)
			freed = append(freed, oldest)
		}
	}
	assert.Equal(t, len(live), s.Live())
	assert.NotEmpty(t, freed)
}

func TestFreeRecyclesFIFO(t *testing.T) {
	s, err := NewSlabAllocator(WithCapacity(256))
	require.NoError(t, err)

	a, err := s.Alloc(8)
	require.NoError(t, err)
	b, err := s.Alloc(8)
	require.NoError(t, err)

	require.NoError(t, s.Free(a))
	require.NoError(t, s.Free(b))

	// FIFO reuse: the first freed range comes back first, before any fresh
	// bump allocation.
	cursor := s.Cursor()
	got, err := s.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, err = s.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, b, got)
	assert.Equal(t, cursor, s.Cursor(), "recycled allocations must not move the cursor")
}

func TestRecycledRangeNotSharedAcrossClasses(t *testing.T) {
	s, err := NewSlabAllocator(WithCapacity(256))
	require.NoError(t, err)

	a, err := s.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, s.Free(a))

	// A different size class must not see the freed class-3 range.
	b, err := s.Alloc(4)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAllocOutOfCapacity(t *testing.T) {
	s, err := NewSlabAllocator(WithCapacity(16))
	require.NoError(t, err)

	for i := 0; i < 16; i++ {
		_, err := s.Alloc(1)
		require.NoError(t, err, "allocation %d", i)
	}
	_, err = s.Alloc(1)
	require.ErrorIs(t, err, common.ErrOutOfCapacity)

	// Freed space is still reusable after capacity exhaustion.
	require.NoError(t, s.Free(5))
	idx, err := s.Alloc(1)
	require.NoError(t, err)
	assert.Equal(t, 5, idx)
}

func TestAlignmentRoundsCursor(t *testing.T) {
	s, err := NewSlabAllocator(WithCapacity(30), WithAlignment(3))
	require.NoError(t, err)

	a, err := s.Alloc(1)
	require.NoError(t, err)
	b, err := s.Alloc(1)
	require.NoError(t, err)
	c, err := s.Alloc(1)
	require.NoError(t, err)

	assert.Equal(t, 0, a)
	assert.Equal(t, 3, b)
	assert.Equal(t, 6, c)
}

func TestInvalidFree(t *testing.T) {
	s, err := NewSlabAllocator(WithCapacity(64))
	require.NoError(t, err)

	require.ErrorIs(t, s.Free(0), common.ErrInvalidFree)

	idx, err := s.Alloc(4)
	require.NoError(t, err)
	require.NoError(t, s.Free(idx))
	require.ErrorIs(t, s.Free(idx), common.ErrInvalidFree, "double free must fail")
}

func TestRecyclerOverflowFailsLoudly(t *testing.T) {
	s, err := NewSlabAllocator(WithCapacity(64), WithRecyclerCapacity(1))
	require.NoError(t, err)

	a, err := s.Alloc(4)
	require.NoError(t, err)
	b, err := s.Alloc(4)
	require.NoError(t, err)

	require.NoError(t, s.Free(a))
	err = s.Free(b)
	require.ErrorIs(t, err, common.ErrOutOfCapacity)

	// The failed free must leave the range live.
	assert.Equal(t, 1, s.Live())
}

func TestBuilderValidation(t *testing.T) {
	_, err := NewSlabAllocator()
	assert.Error(t, err, "capacity is required")

	_, err = NewSlabAllocator(WithCapacity(16), WithAlignment(0))
	assert.Error(t, err)

	_, err = NewSlabAllocator(WithCapacity(16), WithRecyclerCapacity(0))
	assert.Error(t, err)
}
