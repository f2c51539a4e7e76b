package instanced_batch

import (
	"fmt"
	"math"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-batch/common"
	"github.com/Carmen-Shannon/oxy-batch/engine/geometry"
	"github.com/Carmen-Shannon/oxy-batch/engine/gpu"
)

// testCamera satisfies common.Camera with a fixed matrix.
type testCamera struct {
	m [16]float32
}

func (c testCamera) ViewProjectionMatrix() [16]float32 {
	return c.m
}

// originCamera looks from (0,0,10) at the origin with a 90 degree fov, so
// geometry near the origin is visible and geometry far off-axis is not.
func originCamera() testCamera {
	var proj, view, viewProj [16]float32
	common.Perspective(proj[:], float32(math.Pi/2), 1, 0.1, 1000)
	common.LookAt(view[:], 0, 0, 10, 0, 0, 0, 0, 1, 0)
	common.Mul4(viewProj[:], proj[:], view[:])
	return testCamera{m: viewProj}
}

func triangleTemplate() geometry.Template {
	return geometry.Template{
		Positions: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Indices:   []uint32{0, 1, 2},
	}
}

func quadTemplate() geometry.Template {
	return geometry.Template{
		Positions: []float32{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

// tintAttr is one RGBA pixel per item, so mirror rows are easy to inspect.
func tintAttr() common.AttributeSpec {
	return common.AttributeSpec{Name: "tint", ElementType: common.ElementFloat32, ItemsPerElement: 4, Instanced: true}
}

func materialAttr() common.AttributeSpec {
	return common.AttributeSpec{Name: "material", ElementType: common.ElementFloat32, ItemsPerElement: 4}
}

func newTestAllocator(t *testing.T, options ...InstancedBatchAllocatorOption) InstancedBatchAllocator {
	t.Helper()
	opts := append([]InstancedBatchAllocatorOption{
		WithTemplates(triangleTemplate(), quadTemplate()),
		WithInstanceAttributes(tintAttr()),
		WithMaxDrawCallsPerGeometry(2),
		WithMaxInstancesPerDrawCall(4),
	}, options...)
	b, err := NewInstancedBatchAllocator(opts...)
	require.NoError(t, err)
	return b
}

func TestAllocAssignsTemplateExtents(t *testing.T) {
	b := newTestAllocator(t)

	tri, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)
	quad, err := b.AllocDrawCall(1, common.Bounds{})
	require.NoError(t, err)
	assert.Equal(t, 2, b.NumDrawCalls())
	assert.Equal(t, 4, b.NumSlots())

	draws := b.Query(originCamera())
	require.Len(t, draws, 4)

	triSlot, err := tri.Slot()
	require.NoError(t, err)
	quadSlot, err := quad.Slot()
	require.NoError(t, err)

	// The triangle's 3 indices start the merged stream; the quad's 6 follow.
	assert.Equal(t, InstancedDrawRange{Start: 0, Count: 3, InstanceCount: 0}, draws[triSlot])
	assert.Equal(t, InstancedDrawRange{Start: 12, Count: 6, InstanceCount: 0}, draws[quadSlot])
}

func TestSlotIdentityStableAcrossFreeAlloc(t *testing.T) {
	b := newTestAllocator(t)

	first, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)
	second, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)
	third, err := b.AllocDrawCall(1, common.Bounds{})
	require.NoError(t, err)

	firstSlot, err := first.Slot()
	require.NoError(t, err)
	secondSlot, err := second.Slot()
	require.NoError(t, err)
	thirdSlot, err := third.Slot()
	require.NoError(t, err)

	require.NoError(t, b.FreeDrawCall(second))

	// Surviving slots never move when a neighbor is freed.
	s, err := first.Slot()
	require.NoError(t, err)
	assert.Equal(t, firstSlot, s)
	s, err = third.Slot()
	require.NoError(t, err)
	assert.Equal(t, thirdSlot, s)

	// The freed position is handed out again, under a new generation.
	fourth, err := b.AllocDrawCall(1, common.Bounds{})
	require.NoError(t, err)
	fourthSlot, err := fourth.Slot()
	require.NoError(t, err)
	assert.Equal(t, secondSlot, fourthSlot)

	// The old binding must not alias the reused slot.
	_, err = second.Slot()
	assert.ErrorIs(t, err, common.ErrStaleBinding)
	err = b.FreeDrawCall(second)
	assert.ErrorIs(t, err, common.ErrStaleBinding)
}

func TestSlotPoolExhaustion(t *testing.T) {
	b := newTestAllocator(t)

	for i := 0; i < b.NumSlots(); i++ {
		_, err := b.AllocDrawCall(0, common.Bounds{})
		require.NoError(t, err)
	}
	_, err := b.AllocDrawCall(0, common.Bounds{})
	assert.ErrorIs(t, err, common.ErrOutOfCapacity)
}

func TestLargeSlotPoolFullyRecyclable(t *testing.T) {
	// A slot pool larger than the slab's default recycler capacity must still
	// accept every free: the constructor sizes the recycler to the pool.
	b, err := NewInstancedBatchAllocator(
		WithTemplates(triangleTemplate()),
		WithInstanceAttributes(tintAttr()),
		WithMaxDrawCallsPerGeometry(4097),
		WithMaxInstancesPerDrawCall(1),
	)
	require.NoError(t, err)
	require.Equal(t, 4097, b.NumSlots())

	bindings := make([]PositionIndexBinding, b.NumSlots())
	for i := range bindings {
		binding, err := b.AllocDrawCall(0, common.Bounds{})
		require.NoError(t, err)
		bindings[i] = binding
	}
	for _, binding := range bindings {
		require.NoError(t, b.FreeDrawCall(binding))
	}
	assert.Equal(t, 0, b.NumDrawCalls())

	// Every freed slot is handed out again.
	for i := 0; i < b.NumSlots(); i++ {
		_, err := b.AllocDrawCall(0, common.Bounds{})
		require.NoError(t, err)
	}
	assert.Equal(t, b.NumSlots(), b.NumDrawCalls())
}

func TestAllocRejectsUnknownGeometry(t *testing.T) {
	b := newTestAllocator(t)

	_, err := b.AllocDrawCall(2, common.Bounds{})
	assert.Error(t, err)
	_, err = b.AllocDrawCall(-1, common.Bounds{})
	assert.Error(t, err)
}

func TestQueryEmitsZeroForEmptyAndCulledSlots(t *testing.T) {
	b := newTestAllocator(t, WithDrawBoundingKind(common.BoundingSphere))

	visible, err := b.AllocDrawCall(0, common.SphereBounds(0, 0, 0, 1))
	require.NoError(t, err)
	culled, err := b.AllocDrawCall(0, common.SphereBounds(1000, 0, 0, 1))
	require.NoError(t, err)
	require.NoError(t, b.SetInstanceCount(visible, 2))
	require.NoError(t, b.SetInstanceCount(culled, 2))

	draws := b.Query(originCamera())
	require.Len(t, draws, b.NumSlots())

	visibleSlot, err := visible.Slot()
	require.NoError(t, err)
	culledSlot, err := culled.Slot()
	require.NoError(t, err)

	assert.Equal(t, InstancedDrawRange{Start: 0, Count: 3, InstanceCount: 2}, draws[visibleSlot])
	assert.Equal(t, InstancedDrawRange{}, draws[culledSlot])

	// Slots never handed out also emit zero-size draws, keeping the output
	// positionally aligned with the slot table.
	for slot, d := range draws {
		if slot == visibleSlot {
			continue
		}
		assert.Equal(t, InstancedDrawRange{}, d, "slot %d", slot)
	}
}

func TestInstanceCountOps(t *testing.T) {
	b := newTestAllocator(t)

	binding, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)

	n, err := b.InstanceCount(binding)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = b.DecrementInstanceCount(binding)
	assert.ErrorIs(t, err, common.ErrInvalidFree)

	for want := 1; want <= 4; want++ {
		n, err = b.IncrementInstanceCount(binding)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	_, err = b.IncrementInstanceCount(binding)
	assert.ErrorIs(t, err, common.ErrOutOfCapacity)

	n, err = b.DecrementInstanceCount(binding)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, b.SetInstanceCount(binding, 0))
	assert.Error(t, b.SetInstanceCount(binding, -1))
	err = b.SetInstanceCount(binding, 5)
	assert.ErrorIs(t, err, common.ErrOutOfCapacity)
}

func TestInstanceCompactionSwapsWithLastOccupied(t *testing.T) {
	b := newTestAllocator(t, WithInstanceBoundingKind(common.BoundingSphere))

	binding, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)
	require.NoError(t, b.SetInstanceCount(binding, 3))

	// Three tagged payload rows, one pixel each.
	payload := []float32{
		10, 10, 10, 10,
		20, 20, 20, 20,
		30, 30, 30, 30,
	}
	require.NoError(t, b.WriteInstanceData(binding, 0, 0, common.SliceToBytes(payload)))

	// Instance 1 sits far outside the frustum; 0 and 2 are at the origin.
	require.NoError(t, b.SetInstanceBounds(binding, 0, common.SphereBounds(0, 0, 0, 1)))
	require.NoError(t, b.SetInstanceBounds(binding, 1, common.SphereBounds(1000, 0, 0, 1)))
	require.NoError(t, b.SetInstanceBounds(binding, 2, common.SphereBounds(0, 0, 0, 1)))

	slot, err := binding.Slot()
	require.NoError(t, err)
	draws := b.Query(originCamera())
	assert.Equal(t, uint32(2), draws[slot].InstanceCount)

	// Row 1 now holds the payload that was at the last occupied row (row 2);
	// the culled payload moved behind the surviving count.
	impl := b.(*instancedBatchAllocator)
	base, err := binding.InstanceItemOffset()
	require.NoError(t, err)
	stride := impl.textures[0].bytesPerItem()
	row := func(i int) []byte {
		return impl.textures[0].mirror[(base+i)*stride : (base+i+1)*stride]
	}
	assert.Equal(t, common.SliceToBytes([]float32{10, 10, 10, 10}), row(0))
	assert.Equal(t, common.SliceToBytes([]float32{30, 30, 30, 30}), row(1))
	assert.Equal(t, common.SliceToBytes([]float32{20, 20, 20, 20}), row(2))

	// The stored instance count is untouched; re-querying partitions the
	// already-compacted rows to the same result.
	n, err := b.InstanceCount(binding)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	draws = b.Query(originCamera())
	assert.Equal(t, uint32(2), draws[slot].InstanceCount)
	assert.Equal(t, common.SliceToBytes([]float32{30, 30, 30, 30}), row(1))
}

func TestCompactionAllInstancesCulled(t *testing.T) {
	b := newTestAllocator(t, WithInstanceBoundingKind(common.BoundingSphere))

	binding, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)
	require.NoError(t, b.SetInstanceCount(binding, 2))
	require.NoError(t, b.SetInstanceBounds(binding, 0, common.SphereBounds(1000, 0, 0, 1)))
	require.NoError(t, b.SetInstanceBounds(binding, 1, common.SphereBounds(-1000, 0, 0, 1)))

	slot, err := binding.Slot()
	require.NoError(t, err)
	draws := b.Query(originCamera())
	// The draw itself still appears (no per-draw culling here), with no
	// surviving instances.
	assert.Equal(t, uint32(3), draws[slot].Count)
	assert.Equal(t, uint32(0), draws[slot].InstanceCount)
}

func TestWriteInstanceDataValidation(t *testing.T) {
	b := newTestAllocator(t, WithInstanceAttributes(tintAttr(), materialAttr()))

	binding, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)

	// Per-slot attributes reject the per-instance write path and vice versa.
	err = b.WriteInstanceData(binding, 1, 0, make([]byte, 16))
	assert.Error(t, err)
	err = b.WriteSlotData(binding, 0, make([]byte, 16))
	assert.Error(t, err)

	err = b.WriteInstanceData(binding, 2, 0, make([]byte, 16))
	assert.Error(t, err)

	// Not a whole number of 16-byte items.
	err = b.WriteInstanceData(binding, 0, 0, make([]byte, 10))
	assert.Error(t, err)

	// 3 items starting at instance 2 overflow the 4-instance slot.
	err = b.WriteInstanceData(binding, 0, 2, make([]byte, 48))
	assert.ErrorIs(t, err, common.ErrOutOfCapacity)

	require.NoError(t, b.WriteInstanceData(binding, 0, 2, make([]byte, 32)))
	require.NoError(t, b.WriteSlotData(binding, 1, make([]byte, 16)))
	assert.Error(t, b.WriteSlotData(binding, 1, make([]byte, 32)))
}

func TestStaleBindingRejectedEverywhere(t *testing.T) {
	b := newTestAllocator(t)

	binding, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)
	require.NoError(t, b.FreeDrawCall(binding))

	assert.False(t, binding.Valid())
	_, err = b.InstanceCount(binding)
	assert.ErrorIs(t, err, common.ErrStaleBinding)
	err = b.SetInstanceCount(binding, 1)
	assert.ErrorIs(t, err, common.ErrStaleBinding)
	err = b.WriteInstanceData(binding, 0, 0, make([]byte, 16))
	assert.ErrorIs(t, err, common.ErrStaleBinding)

	// A binding from a different allocator never resolves here.
	other := newTestAllocator(t)
	foreign, err := other.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)
	err = b.FreeDrawCall(foreign)
	assert.ErrorIs(t, err, common.ErrInvalidFree)
}

func TestTextureEdgeSizing(t *testing.T) {
	tests := []struct {
		name          string
		items         int
		pixelsPerItem int
		want          uint32
	}{
		{name: "one pixel", items: 1, pixelsPerItem: 1, want: 1},
		{name: "exact square", items: 16, pixelsPerItem: 1, want: 4},
		{name: "one past square", items: 17, pixelsPerItem: 1, want: 8},
		{name: "multi pixel items", items: 16, pixelsPerItem: 4, want: 8},
		{name: "large pool", items: 2048, pixelsPerItem: 1, want: 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, textureEdgeFor(tt.items, tt.pixelsPerItem))
		})
	}
}

func TestBuilderValidation(t *testing.T) {
	_, err := NewInstancedBatchAllocator()
	assert.Error(t, err)

	_, err = NewInstancedBatchAllocator(
		WithTemplates(triangleTemplate()),
		WithMaxInstancesPerDrawCall(0),
	)
	assert.Error(t, err)

	_, err = NewInstancedBatchAllocator(
		WithTemplates(triangleTemplate()),
		WithMaxDrawCallsPerGeometry(8),
		WithMaxSlotsPerGeometry(4),
	)
	assert.Error(t, err)

	// A malformed template fails the merge at construction.
	_, err = NewInstancedBatchAllocator(
		WithTemplates(geometry.Template{Positions: []float32{0, 0}, Indices: []uint32{0}}),
	)
	assert.Error(t, err)
}

// textureRecorder is a gpu.Backend fake that counts texture copies and
// remembers created resource labels.
type textureRecorder struct {
	bufferLabels  []string
	textureLabels []string
	formats       []wgpu.TextureFormat
	writes        int
}

type recordedBuffer struct{}

func (recordedBuffer) Release() {}

type recordedTexture struct{}

func (recordedTexture) Release() {}

func (r *textureRecorder) CreateVertexBuffer(label string, data []byte) (gpu.Buffer, error) {
	r.bufferLabels = append(r.bufferLabels, label)
	return recordedBuffer{}, nil
}

func (r *textureRecorder) CreateIndexBuffer(label string, data []byte) (gpu.Buffer, error) {
	r.bufferLabels = append(r.bufferLabels, label)
	return recordedBuffer{}, nil
}

func (r *textureRecorder) WriteBuffer(buf gpu.Buffer, offset uint64, data []byte) error {
	return nil
}

func (r *textureRecorder) CreateDataTexture(label string, width, height uint32, format wgpu.TextureFormat) (gpu.Texture, error) {
	r.textureLabels = append(r.textureLabels, label)
	r.formats = append(r.formats, format)
	return recordedTexture{}, nil
}

func (r *textureRecorder) WriteTextureRect(tex gpu.Texture, x, y, width, height, bytesPerPixel uint32, data []byte) error {
	r.writes++
	return nil
}

func (r *textureRecorder) Release() {}

func TestFlushUploadsDirtyRangeOnce(t *testing.T) {
	rec := &textureRecorder{}
	b := newTestAllocator(t, WithBackend(rec))

	assert.Equal(t, []string{"instanced batch positions", "instanced batch indices"}, rec.bufferLabels)
	assert.Equal(t, []string{"instanced batch tint"}, rec.textureLabels)
	assert.Equal(t, []wgpu.TextureFormat{wgpu.TextureFormatRGBA32Float}, rec.formats)
	assert.NotNil(t, b.PositionBuffer())
	assert.NotNil(t, b.IndexBuffer())
	assert.NotNil(t, b.AttributeTexture(0))

	// Nothing staged, nothing uploaded.
	n, err := b.Flush()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	binding, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)
	require.NoError(t, b.WriteInstanceData(binding, 0, 0, make([]byte, 64)))

	// One linear range decomposes into at most 3 rectangular copies.
	n, err = b.Flush()
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.LessOrEqual(t, n, 3)
	assert.Equal(t, n, rec.writes)

	// The dirty range was consumed.
	n, err = b.Flush()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// flakyTextureBackend fails texture copies on demand while recording like
// textureRecorder.
type flakyTextureBackend struct {
	textureRecorder
	fail bool
}

func (f *flakyTextureBackend) WriteTextureRect(tex gpu.Texture, x, y, width, height, bytesPerPixel uint32, data []byte) error {
	if f.fail {
		return fmt.Errorf("device lost")
	}
	return f.textureRecorder.WriteTextureRect(tex, x, y, width, height, bytesPerPixel, data)
}

func TestFlushKeepsStagedRangeOnUploadFailure(t *testing.T) {
	rec := &flakyTextureBackend{fail: true}
	b := newTestAllocator(t, WithBackend(rec))

	binding, err := b.AllocDrawCall(0, common.Bounds{})
	require.NoError(t, err)
	require.NoError(t, b.WriteInstanceData(binding, 0, 0, make([]byte, 64)))

	// A failed upload surfaces its error and leaves the staged items pending.
	_, err = b.Flush()
	require.Error(t, err)
	assert.Equal(t, 0, rec.writes)

	// The next flush retries the same range once the device recovers.
	rec.fail = false
	n, err := b.Flush()
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Equal(t, n, rec.writes)

	n, err = b.Flush()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
