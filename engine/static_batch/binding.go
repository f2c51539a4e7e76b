package static_batch

import "fmt"

// DrawCallBinding is the capability token returned by Alloc. It grants
// read/update/free rights on one draw call and owns no storage itself. A
// binding whose draw call has been freed fails every operation with
// common.ErrStaleBinding.
type DrawCallBinding struct {
	owner      *staticBatchAllocator
	id         int
	generation uint32
}

// Valid reports whether this binding still addresses a live draw call.
//
// Returns:
//   - bool: true if the draw call has not been freed
func (d DrawCallBinding) Valid() bool {
	_, err := d.owner.resolve(d)
	return err == nil
}

// VertexBase returns the draw call's first vertex index in the shared
// attribute buffers. Index data written through WriteIndices must be rebased
// by this value.
//
// Returns:
//   - int: the first vertex index
//   - error: common.ErrStaleBinding if the draw call was freed
func (d DrawCallBinding) VertexBase() (int, error) {
	entry, err := d.owner.resolve(d)
	if err != nil {
		return 0, err
	}
	return entry.positionStart / 3, nil
}

// AttributeOffsetBytes returns the draw call's byte offset in one attribute's
// shared buffer, for callers uploading attribute data themselves.
//
// Parameters:
//   - attribute: index into the declared attribute specs
//
// Returns:
//   - uint64: the byte offset
//   - error: common.ErrStaleBinding if the draw call was freed, or an error
//     if the attribute index is out of range
func (d DrawCallBinding) AttributeOffsetBytes(attribute int) (uint64, error) {
	entry, err := d.owner.resolve(d)
	if err != nil {
		return 0, err
	}
	if attribute < 0 || attribute >= len(d.owner.attributes) {
		return 0, fmt.Errorf("static_batch: attribute %d out of range (%d declared)", attribute, len(d.owner.attributes))
	}
	attr := d.owner.attributes[attribute]
	return uint64(entry.positionStart/3) * uint64(attr.BytesPerItem()), nil
}

// IndexOffsetBytes returns the draw call's byte offset in the shared index
// buffer.
//
// Returns:
//   - uint64: the byte offset
//   - error: common.ErrStaleBinding if the draw call was freed
func (d DrawCallBinding) IndexOffsetBytes() (uint64, error) {
	entry, err := d.owner.resolve(d)
	if err != nil {
		return 0, err
	}
	return uint64(entry.indexStart) * indexElementSize, nil
}

// NumPositions returns the vertex count reserved for this draw call.
//
// Returns:
//   - int: the vertex count
//   - error: common.ErrStaleBinding if the draw call was freed
func (d DrawCallBinding) NumPositions() (int, error) {
	entry, err := d.owner.resolve(d)
	if err != nil {
		return 0, err
	}
	return entry.numPositions, nil
}

// NumIndices returns the index count reserved for this draw call.
//
// Returns:
//   - int: the index count
//   - error: common.ErrStaleBinding if the draw call was freed
func (d DrawCallBinding) NumIndices() (int, error) {
	entry, err := d.owner.resolve(d)
	if err != nil {
		return 0, err
	}
	return entry.numIndices, nil
}
