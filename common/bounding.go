package common

// BoundingKind selects which bounding volume representation an allocator uses
// for visibility tests. The kind is fixed at construction time and dispatched
// with a switch at each test site rather than through per-kind callbacks.
type BoundingKind int

const (
	// BoundingNone disables visibility testing; everything is treated as visible.
	BoundingNone BoundingKind = iota

	// BoundingSphere tests a center + radius sphere against the frustum.
	BoundingSphere

	// BoundingBox tests an axis-aligned box against the frustum.
	BoundingBox
)

func (k BoundingKind) String() string {
	switch k {
	case BoundingNone:
		return "none"
	case BoundingSphere:
		return "sphere"
	case BoundingBox:
		return "box"
	default:
		return "unknown"
	}
}

// Bounds is a tagged bounding volume. Only the fields matching Kind are
// meaningful: Center/Radius for BoundingSphere, Min/Max for BoundingBox.
type Bounds struct {
	Kind BoundingKind

	// Sphere representation.
	Center [3]float32
	Radius float32

	// Box representation.
	Min, Max [3]float32
}

// SphereBounds builds a Bounds tagged as a sphere.
//
// Parameters:
//   - cx, cy, cz: sphere center in world space
//   - radius: sphere radius
//
// Returns:
//   - Bounds: the tagged bounding volume
func SphereBounds(cx, cy, cz, radius float32) Bounds {
	return Bounds{
		Kind:   BoundingSphere,
		Center: [3]float32{cx, cy, cz},
		Radius: radius,
	}
}

// BoxBounds builds a Bounds tagged as an axis-aligned box.
//
// Parameters:
//   - min: minimum box corner (x, y, z)
//   - max: maximum box corner (x, y, z)
//
// Returns:
//   - Bounds: the tagged bounding volume
func BoxBounds(min, max [3]float32) Bounds {
	return Bounds{
		Kind: BoundingBox,
		Min:  min,
		Max:  max,
	}
}

// Intersects tests this bounding volume against a frustum. BoundingNone always
// passes.
//
// Parameters:
//   - f: the frustum to test against
//
// Returns:
//   - bool: true if the volume is at least partially inside the frustum
func (b *Bounds) Intersects(f *Frustum) bool {
	switch b.Kind {
	case BoundingSphere:
		return f.IntersectsSphere(b.Center[0], b.Center[1], b.Center[2], b.Radius)
	case BoundingBox:
		return f.IntersectsBox(b.Min, b.Max)
	default:
		return true
	}
}
