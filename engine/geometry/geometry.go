// Package geometry merges template meshes into shared position and index
// streams for batched rendering. Each template keeps an immutable extent
// record into the merged streams; extents are templates, not allocations, and
// are never freed.
package geometry

import (
	"fmt"
)

// Template is one source mesh to merge: tightly packed positions (3 floats
// per vertex) and indices addressing those positions.
type Template struct {
	Positions []float32
	Indices   []uint32
}

// Extent records where one template landed in the merged streams. Offsets and
// counts are in elements: position units are single floats, index units are
// single indices.
type Extent struct {
	PositionStart int
	PositionCount int
	IndexStart    int
	IndexCount    int
}

// Merged holds the concatenated streams of all templates plus the per-template
// extents. Indices are rebased so they address the merged position stream
// directly.
type Merged struct {
	Positions []float32
	Indices   []uint32
	Extents   []Extent
}

// Merge concatenates template geometries into one shared position stream and
// one shared index stream, rebasing each template's indices by its vertex
// offset.
//
// Parameters:
//   - templates: the meshes to merge, in slot order
//
// Returns:
//   - Merged: the merged streams and per-template extents
//   - error: an error if a template is malformed (position count not a
//     multiple of 3, or an index out of range)
func Merge(templates []Template) (Merged, error) {
	var m Merged

	totalPositions, totalIndices := 0, 0
	for _, t := range templates {
		totalPositions += len(t.Positions)
		totalIndices += len(t.Indices)
	}
	m.Positions = make([]float32, 0, totalPositions)
	m.Indices = make([]uint32, 0, totalIndices)
	m.Extents = make([]Extent, 0, len(templates))

	for i, t := range templates {
		if len(t.Positions)%3 != 0 {
			return Merged{}, fmt.Errorf("geometry: template %d has %d position floats, not a multiple of 3", i, len(t.Positions))
		}

		vertexCount := uint32(len(t.Positions) / 3)
		vertexBase := uint32(len(m.Positions) / 3)

		ext := Extent{
			PositionStart: len(m.Positions),
			PositionCount: len(t.Positions),
			IndexStart:    len(m.Indices),
			IndexCount:    len(t.Indices),
		}

		m.Positions = append(m.Positions, t.Positions...)
		for _, idx := range t.Indices {
			if idx >= vertexCount {
				return Merged{}, fmt.Errorf("geometry: template %d index %d out of range (%d vertices)", i, idx, vertexCount)
			}
			m.Indices = append(m.Indices, vertexBase+idx)
		}

		m.Extents = append(m.Extents, ext)
	}

	return m, nil
}
