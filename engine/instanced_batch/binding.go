package instanced_batch

// PositionIndexBinding identifies one draw-call slot handed out by an
// instanced batch allocator. The slot index is positional: it stays fixed for
// the lifetime of the draw call, and query output row i always describes slot
// i. A binding outliving its slot is detected through the generation counter
// and rejected with common.ErrStaleBinding.
type PositionIndexBinding struct {
	owner      *instancedBatchAllocator
	slot       int
	generation uint32
}

// Valid reports whether the binding still addresses a live draw-call slot.
func (p PositionIndexBinding) Valid() bool {
	if p.owner == nil {
		return false
	}
	_, err := p.owner.resolve(p)
	return err == nil
}

// Slot returns the positional slot index of the draw call.
//
// Returns:
//   - int: the slot index
//   - error: common.ErrStaleBinding or common.ErrInvalidFree per resolution
func (p PositionIndexBinding) Slot() (int, error) {
	return p.owner.resolve(p)
}

// GeometryIndex returns the merged geometry template this slot draws.
//
// Returns:
//   - int: the template index passed to AllocDrawCall
//   - error: common.ErrStaleBinding or common.ErrInvalidFree per resolution
func (p PositionIndexBinding) GeometryIndex() (int, error) {
	slot, err := p.owner.resolve(p)
	if err != nil {
		return 0, err
	}
	return int(p.owner.geometryIndex[slot]), nil
}

// InstanceItemOffset returns the first texture item index belonging to this
// slot. Instance i of the slot lives at item InstanceItemOffset()+i in every
// instanced attribute texture.
//
// Returns:
//   - int: the texture item offset of instance 0
//   - error: common.ErrStaleBinding or common.ErrInvalidFree per resolution
func (p PositionIndexBinding) InstanceItemOffset() (int, error) {
	slot, err := p.owner.resolve(p)
	if err != nil {
		return 0, err
	}
	return slot * p.owner.maxInstancesPerDrawCall, nil
}
