package instanced_batch

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-batch/common"
	"github.com/Carmen-Shannon/oxy-batch/engine/gpu"
)

// instanceTexture is one square attribute texture plus its CPU mirror. All
// writes land in the mirror first and are pushed to the GPU as one bounded
// set of rectangular uploads on flush.
type instanceTexture struct {
	spec          common.AttributeSpec
	layout        gpu.TextureLayout
	capacityItems int

	// mirror is the CPU copy of the texture contents, item-granular.
	mirror []byte

	// tex is nil when the owning allocator has no backend attached.
	tex gpu.Texture

	// dirty item range pending upload; dirtyStart >= dirtyEnd means clean.
	dirtyStart, dirtyEnd int
}

// textureEdgeFor returns the smallest power-of-two edge length of a square
// texture holding items of pixelsPerItem consecutive pixels each.
func textureEdgeFor(items, pixelsPerItem int) uint32 {
	needed := items * pixelsPerItem
	edge := uint32(1)
	for int(edge)*int(edge) < needed {
		edge <<= 1
	}
	return edge
}

// newInstanceTexture builds the CPU-side staging for one attribute texture.
// The GPU texture itself is created separately when a backend is attached.
func newInstanceTexture(spec common.AttributeSpec, capacityItems int) *instanceTexture {
	pixelsPerItem := (spec.ItemsPerElement + 3) / 4
	bytesPerPixel := uint32(4 * spec.ElementType.ByteSize())
	edge := textureEdgeFor(capacityItems, pixelsPerItem)

	return &instanceTexture{
		spec: spec,
		layout: gpu.TextureLayout{
			Width:         edge,
			PixelsPerItem: uint32(pixelsPerItem),
			BytesPerPixel: bytesPerPixel,
		},
		capacityItems: capacityItems,
		mirror:        make([]byte, capacityItems*pixelsPerItem*int(bytesPerPixel)),
	}
}

// bytesPerItem returns the mirror stride of one item.
func (t *instanceTexture) bytesPerItem() int {
	return int(t.layout.PixelsPerItem * t.layout.BytesPerPixel)
}

// writeItems copies packed item data into the mirror and extends the dirty
// range. data length must be a whole number of items.
func (t *instanceTexture) writeItems(itemOffset int, data []byte) error {
	stride := t.bytesPerItem()
	if len(data)%stride != 0 {
		return fmt.Errorf("instanced_batch: %q write of %d bytes is not a whole number of %d-byte items", t.spec.Name, len(data), stride)
	}
	count := len(data) / stride
	if itemOffset < 0 || itemOffset+count > t.capacityItems {
		return fmt.Errorf("instanced_batch: %q write of %d items at %d overflows capacity %d", t.spec.Name, count, itemOffset, t.capacityItems)
	}

	copy(t.mirror[itemOffset*stride:], data)
	t.markDirty(itemOffset, itemOffset+count)
	return nil
}

// swapItems exchanges two items in the mirror and marks both dirty. Used by
// the per-instance compaction pass during queries.
func (t *instanceTexture) swapItems(a, b int) {
	if a == b {
		return
	}
	stride := t.bytesPerItem()
	ab := t.mirror[a*stride : (a+1)*stride]
	bb := t.mirror[b*stride : (b+1)*stride]
	for i := range ab {
		ab[i], bb[i] = bb[i], ab[i]
	}
	t.markDirty(a, a+1)
	t.markDirty(b, b+1)
}

func (t *instanceTexture) markDirty(start, end int) {
	if t.dirtyStart >= t.dirtyEnd {
		t.dirtyStart, t.dirtyEnd = start, end
		return
	}
	if start < t.dirtyStart {
		t.dirtyStart = start
	}
	if end > t.dirtyEnd {
		t.dirtyEnd = end
	}
}

// flush uploads the dirty item range through the bounded-call translator.
// The range is cleared only once the upload succeeds, so a failed write
// leaves the staged items pending for the next flush. Without a GPU texture
// the dirty range is simply discarded.
func (t *instanceTexture) flush(backend gpu.Backend) (int, error) {
	if t.dirtyStart >= t.dirtyEnd {
		return 0, nil
	}
	start, end := t.dirtyStart, t.dirtyEnd

	if backend == nil || t.tex == nil {
		t.dirtyStart, t.dirtyEnd = 0, 0
		return 0, nil
	}

	stride := t.bytesPerItem()
	data := t.mirror[start*stride : end*stride]
	writes, err := gpu.UpdateTextureRange(backend, t.tex, t.layout, start, end-start, data)
	if err != nil {
		return writes, err
	}
	t.dirtyStart, t.dirtyEnd = 0, 0
	return writes, nil
}
