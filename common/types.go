// package common contains common types that are used throughout the batch
// allocators. They are not interface-wrapped structs, just plain structs and
// enums that express commonly used data-types.
package common

// ElementType identifies the scalar type backing a vertex or instance
// attribute. It drives both CPU-side staging sizes and the GPU texture format
// selected for instance attribute storage.
type ElementType int

const (
	// ElementFloat32 is a 32-bit IEEE float component.
	ElementFloat32 ElementType = iota

	// ElementFloat16 is a 16-bit half-float component.
	ElementFloat16

	// ElementUint32 is an unsigned 32-bit integer component.
	ElementUint32

	// ElementInt32 is a signed 32-bit integer component.
	ElementInt32

	// ElementUint16 is an unsigned 16-bit integer component.
	ElementUint16

	// ElementUint8 is an unsigned 8-bit integer component.
	ElementUint8
)

func (e ElementType) String() string {
	switch e {
	case ElementFloat32:
		return "float32"
	case ElementFloat16:
		return "float16"
	case ElementUint32:
		return "uint32"
	case ElementInt32:
		return "int32"
	case ElementUint16:
		return "uint16"
	case ElementUint8:
		return "uint8"
	default:
		return "unknown"
	}
}

// ByteSize returns the size in bytes of one component of this element type.
//
// Returns:
//   - int: component size in bytes, or 0 for unknown types
func (e ElementType) ByteSize() int {
	switch e {
	case ElementFloat32, ElementUint32, ElementInt32:
		return 4
	case ElementFloat16, ElementUint16:
		return 2
	case ElementUint8:
		return 1
	default:
		return 0
	}
}

// AttributeSpec describes one vertex or instance attribute declared at
// allocator construction time.
type AttributeSpec struct {
	// Name is the attribute identifier, used for buffer labels and lookups.
	Name string

	// ElementType is the scalar type of each component.
	ElementType ElementType

	// ItemsPerElement is the number of components per item (e.g. 3 for a
	// position, 16 for a model matrix). Instance attributes with more than 4
	// components span consecutive texture pixels.
	ItemsPerElement int

	// Instanced marks a per-instance attribute: its texture holds one item per
	// instance. Non-instanced attributes hold one item per draw-call slot.
	Instanced bool
}

// BytesPerItem returns the staging size in bytes of one item of this attribute.
//
// Returns:
//   - int: item size in bytes
func (a AttributeSpec) BytesPerItem() int {
	return a.ElementType.ByteSize() * a.ItemsPerElement
}

// Camera is the minimal camera surface the allocators consume for visibility
// queries. The full engine camera satisfies this with its combined
// Projection * View matrix; tests can supply a fixed matrix directly.
type Camera interface {
	// ViewProjectionMatrix returns the current combined view-projection matrix
	// as 16 floats (column-major).
	//
	// Returns:
	//   - [16]float32: the view-projection matrix
	ViewProjectionMatrix() [16]float32
}
