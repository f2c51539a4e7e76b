package common

import (
	"math"
)

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
type Plane struct {
	Normal   [3]float32
	Distance float32
}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// ExtractFrustumFromMatrix extracts frustum planes from a view-projection matrix.
// The matrix should be the combined Projection * View matrix, column-major.
// Uses the Gribb/Hartmann method: each plane is the fourth row of the matrix
// added to (or subtracted from) one of the first three rows.
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: 16 float32 values representing the view-projection matrix (column-major)
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustumFromMatrix(viewProj []float32) Frustum {
	var f Frustum

	// For a column-major matrix, row r of column c is at index c*4 + r.
	// Left/Bottom/Near use row3 + rowN; Right/Top/Far use row3 - rowN.
	for i := 0; i < 6; i++ {
		row := i / 2
		sign := float32(1)
		if i%2 == 1 {
			sign = -1
		}

		p := &f.Planes[i]
		p.Normal[0] = viewProj[3] + sign*viewProj[row]
		p.Normal[1] = viewProj[7] + sign*viewProj[4+row]
		p.Normal[2] = viewProj[11] + sign*viewProj[8+row]
		p.Distance = viewProj[15] + sign*viewProj[12+row]
	}

	for i := range f.Planes {
		f.normalizePlane(i)
	}

	return f
}

// normalizePlane normalizes a frustum plane so that the normal has unit length.
func (f *Frustum) normalizePlane(index int) {
	p := &f.Planes[index]
	length := float32(math.Sqrt(float64(
		p.Normal[0]*p.Normal[0] +
			p.Normal[1]*p.Normal[1] +
			p.Normal[2]*p.Normal[2],
	)))

	if length > 0 {
		invLen := 1.0 / length
		p.Normal[0] *= invLen
		p.Normal[1] *= invLen
		p.Normal[2] *= invLen
		p.Distance *= invLen
	}
}

// IntersectsSphere reports whether a sphere intersects or is contained by the
// frustum. A sphere is outside only when its center lies further than radius
// behind a single plane; this is conservative near frustum edges but never
// culls a visible sphere.
//
// Parameters:
//   - cx, cy, cz: sphere center in world space
//   - radius: sphere radius
//
// Returns:
//   - bool: true if the sphere is at least partially inside the frustum
func (f *Frustum) IntersectsSphere(cx, cy, cz, radius float32) bool {
	for i := range f.Planes {
		p := &f.Planes[i]
		dist := p.Normal[0]*cx + p.Normal[1]*cy + p.Normal[2]*cz + p.Distance
		if dist < -radius {
			return false
		}
	}
	return true
}

// IntersectsBox reports whether an axis-aligned box intersects or is contained
// by the frustum. Uses the p-vertex test: for each plane only the box corner
// furthest along the plane normal is checked, so a box is rejected as soon as
// that corner is behind any plane.
//
// Parameters:
//   - min: minimum box corner (x, y, z)
//   - max: maximum box corner (x, y, z)
//
// Returns:
//   - bool: true if the box is at least partially inside the frustum
func (f *Frustum) IntersectsBox(min, max [3]float32) bool {
	for i := range f.Planes {
		p := &f.Planes[i]

		var px, py, pz float32
		if p.Normal[0] >= 0 {
			px = max[0]
		} else {
			px = min[0]
		}
		if p.Normal[1] >= 0 {
			py = max[1]
		} else {
			py = min[1]
		}
		if p.Normal[2] >= 0 {
			pz = max[2]
		} else {
			pz = min[2]
		}

		if p.Normal[0]*px+p.Normal[1]*py+p.Normal[2]*pz+p.Distance < 0 {
			return false
		}
	}
	return true
}
