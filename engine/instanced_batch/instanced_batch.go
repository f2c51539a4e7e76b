// Package instanced_batch implements a batch allocator for instanced
// geometry: a fixed set of template meshes is merged once into shared
// position and index buffers, and draw calls occupy positional slots that
// never move while live. Per-instance data lives in square attribute
// textures with CPU mirrors; visibility queries cull whole slots and, when a
// per-instance bounding kind is configured, compact each visible slot's
// instance rows so only visible instances occupy the front of its range.
package instanced_batch

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/Carmen-Shannon/oxy-batch/common"
	"github.com/Carmen-Shannon/oxy-batch/engine/geometry"
	"github.com/Carmen-Shannon/oxy-batch/engine/gpu"
	"github.com/Carmen-Shannon/oxy-batch/engine/slab"
)

var batchLogger *log.Logger = log.New(io.Discard, "", 0)

func init() {
	if os.Getenv("OXY_DEBUG_BATCH") == "1" {
		batchLogger = log.New(os.Stdout, "[instanced_batch] ", log.Ltime|log.Lmsgprefix)
	}
}

// indexElementSize is the byte size of one index element (uint32 indices).
const indexElementSize = 4

// InstancedDrawRange is one multi-draw entry emitted by Query: a byte offset
// into the shared index buffer, an index count, and the surviving instance
// count. Entry i always describes slot i; culled and empty slots emit
// (0, 0, 0) so positional correspondence is preserved.
type InstancedDrawRange struct {
	Start         uint32
	Count         uint32
	InstanceCount uint32
}

// instancedBatchAllocator is the implementation of the InstancedBatchAllocator interface.
type instancedBatchAllocator struct {
	label                   string
	attributes              []common.AttributeSpec
	templates               []geometry.Template
	maxDrawCallsPerGeometry int
	maxInstancesPerDrawCall int
	maxSlotsPerGeometry     int
	drawBoundingKind        common.BoundingKind
	instanceBoundingKind    common.BoundingKind
	backend                 gpu.Backend

	merged    geometry.Merged
	slotAlloc slab.SlabAllocator
	numSlots  int
	numLive   int

	// Positional slot state, parallel arrays of length numSlots. A slot's
	// index never changes while its draw call is live.
	starts         []uint32
	counts         []uint32
	instanceCounts []uint32
	geometryIndex  []int32
	drawBounds     []common.Bounds
	generations    []uint32
	liveSlots      []bool

	// instanceBounds[slot*maxInstancesPerDrawCall+i] is instance i's bounding
	// volume. Nil when no per-instance bounding kind is configured.
	instanceBounds []common.Bounds

	// textures is parallel to attributes; each entry stages one attribute
	// texture through a CPU mirror.
	textures []*instanceTexture

	// GPU resources for the merged geometry. Nil when no backend is attached.
	positionBuffer gpu.Buffer
	indexBuffer    gpu.Buffer

	// queryScratch is reused across Query calls; queries are not reentrant.
	queryScratch []InstancedDrawRange
}

// InstancedBatchAllocator merges template geometries into shared buffers and
// hands out positional draw-call slots, each carrying up to a fixed number of
// instances whose attribute data lives in square data textures. All methods
// must be called from a single render-producing goroutine: Query's cull pass
// and its instance-compaction writes are one atomic step that must never
// interleave with other calls, and the slice returned by Query is reused by
// the next Query.
type InstancedBatchAllocator interface {
	// AllocDrawCall acquires one positional slot drawing the given template.
	// The new slot starts with an instance count of zero.
	//
	// Parameters:
	//   - geometryIndex: index of the template passed at construction
	//   - bounds: the draw call's bounding volume (ignored when the allocator
	//     was built with a per-draw kind of BoundingNone)
	//
	// Returns:
	//   - PositionIndexBinding: the capability token addressing the new slot
	//   - error: common.ErrOutOfCapacity if the slot pool is exhausted
	AllocDrawCall(geometryIndex int, bounds common.Bounds) (PositionIndexBinding, error)

	// FreeDrawCall zeroes the slot's record and releases the slot. Other
	// slots are unaffected; slot positions never move.
	//
	// Parameters:
	//   - binding: the token returned by AllocDrawCall
	//
	// Returns:
	//   - error: common.ErrStaleBinding if the binding was already freed,
	//     common.ErrInvalidFree if it never addressed this allocator
	FreeDrawCall(binding PositionIndexBinding) error

	// InstanceCount returns the slot's current instance count.
	//
	// Returns:
	//   - int: the instance count
	//   - error: binding resolution errors
	InstanceCount(binding PositionIndexBinding) (int, error)

	// SetInstanceCount sets the slot's instance count. The caller must have
	// written payload for all counted instances into the attribute textures.
	//
	// Parameters:
	//   - binding: the slot to mutate
	//   - count: the new instance count, in [0, maxInstancesPerDrawCall]
	//
	// Returns:
	//   - error: common.ErrOutOfCapacity if count exceeds the per-slot
	//     maximum, binding resolution errors otherwise
	SetInstanceCount(binding PositionIndexBinding, count int) error

	// IncrementInstanceCount adds one instance to the slot.
	//
	// Returns:
	//   - int: the new instance count
	//   - error: common.ErrOutOfCapacity if the slot is already full
	IncrementInstanceCount(binding PositionIndexBinding) (int, error)

	// DecrementInstanceCount removes one instance from the slot.
	//
	// Returns:
	//   - int: the new instance count
	//   - error: common.ErrInvalidFree if the count is already zero
	DecrementInstanceCount(binding PositionIndexBinding) (int, error)

	// SetInstanceBounds stores the bounding volume of one instance, used by
	// Query's per-instance culling pass. Compaction swaps bounds together
	// with the texture rows, so the association survives reordering.
	//
	// Parameters:
	//   - binding: the owning slot
	//   - instance: instance index within the slot
	//   - bounds: the instance's bounding volume
	//
	// Returns:
	//   - error: an error if no per-instance bounding kind is configured or
	//     the instance index is out of range
	SetInstanceBounds(binding PositionIndexBinding, instance int, bounds common.Bounds) error

	// WriteInstanceData stages packed item data for an instanced attribute,
	// starting at the given instance of the slot. Data reaches the GPU on the
	// next Flush.
	//
	// Parameters:
	//   - binding: the owning slot
	//   - attribute: index into the attribute specs passed at construction
	//   - instanceOffset: first instance to write within the slot
	//   - data: packed items, a whole number of the attribute's item size
	//
	// Returns:
	//   - error: an error if the attribute is not instanced or the write
	//     overflows the slot's instance range
	WriteInstanceData(binding PositionIndexBinding, attribute, instanceOffset int, data []byte) error

	// WriteSlotData stages one item of a non-instanced attribute for the
	// slot. Data reaches the GPU on the next Flush.
	//
	// Parameters:
	//   - binding: the owning slot
	//   - attribute: index into the attribute specs passed at construction
	//   - data: exactly one packed item
	//
	// Returns:
	//   - error: an error if the attribute is instanced or data is not one item
	WriteSlotData(binding PositionIndexBinding, attribute int, data []byte) error

	// Flush uploads all pending attribute texture changes, both caller writes
	// and compaction swaps, through bounded rectangular copies.
	//
	// Returns:
	//   - int: the number of GPU copy calls issued
	//   - error: the first upload error encountered
	Flush() (int, error)

	// Query produces the multi-draw arrays for the current camera: one entry
	// per slot, positionally. Culled and empty slots emit (0, 0, 0). When a
	// per-instance bounding kind is configured, each visible slot's instance
	// rows are partitioned in place so visible instances occupy the front,
	// and the surviving count is emitted. The reordering is destructive:
	// instance order carries no meaning and is not restored.
	//
	// Parameters:
	//   - cam: supplies the view-projection matrix for frustum extraction
	//
	// Returns:
	//   - []InstancedDrawRange: one entry per slot, reused by the next Query
	Query(cam common.Camera) []InstancedDrawRange

	// NumDrawCalls returns the number of live slots.
	//
	// Returns:
	//   - int: the live slot count
	NumDrawCalls() int

	// NumSlots returns the fixed size of the positional slot pool.
	//
	// Returns:
	//   - int: the slot pool size
	NumSlots() int

	// PositionBuffer returns the merged position buffer, or nil without a backend.
	PositionBuffer() gpu.Buffer

	// IndexBuffer returns the merged index buffer, or nil without a backend.
	IndexBuffer() gpu.Buffer

	// AttributeTexture returns the GPU texture backing one attribute, or nil
	// without a backend.
	//
	// Parameters:
	//   - attribute: index into the attribute specs passed at construction
	AttributeTexture(attribute int) gpu.Texture

	// Release frees all GPU resources held by this allocator.
	Release()
}

var _ InstancedBatchAllocator = &instancedBatchAllocator{}

// NewInstancedBatchAllocator creates a new InstancedBatchAllocator with the
// specified options applied. The template geometries are merged immediately;
// their extents are immutable for the allocator's lifetime.
//
// Parameters:
//   - options: a variadic list of InstancedBatchAllocatorOption functions
//
// Returns:
//   - InstancedBatchAllocator: a new allocator configured with the provided options
//   - error: an error if the configuration is invalid, a template is
//     malformed, or GPU resource creation fails
func NewInstancedBatchAllocator(options ...InstancedBatchAllocatorOption) (InstancedBatchAllocator, error) {
	b := &instancedBatchAllocator{
		label:                   "instanced batch",
		maxDrawCallsPerGeometry: 256,
		maxInstancesPerDrawCall: 64,
	}
	for _, opt := range options {
		opt(b)
	}

	if len(b.templates) == 0 {
		return nil, fmt.Errorf("instanced_batch: at least one template geometry is required")
	}
	if b.maxDrawCallsPerGeometry <= 0 {
		return nil, fmt.Errorf("instanced_batch: max draw calls per geometry must be positive, got %d", b.maxDrawCallsPerGeometry)
	}
	if b.maxInstancesPerDrawCall <= 0 {
		return nil, fmt.Errorf("instanced_batch: max instances per draw call must be positive, got %d", b.maxInstancesPerDrawCall)
	}
	if b.maxSlotsPerGeometry == 0 {
		b.maxSlotsPerGeometry = b.maxDrawCallsPerGeometry
	}
	if b.maxSlotsPerGeometry < b.maxDrawCallsPerGeometry {
		return nil, fmt.Errorf("instanced_batch: max slots per geometry %d is below max draw calls per geometry %d", b.maxSlotsPerGeometry, b.maxDrawCallsPerGeometry)
	}

	var err error
	b.merged, err = geometry.Merge(b.templates)
	if err != nil {
		return nil, fmt.Errorf("instanced_batch: %w", err)
	}

	b.numSlots = len(b.templates) * b.maxDrawCallsPerGeometry
	// Every slot is class 0, so a recycler sized to the pool can never
	// overflow: slot frees always succeed.
	b.slotAlloc, err = slab.NewSlabAllocator(
		slab.WithCapacity(b.numSlots),
		slab.WithRecyclerCapacity(b.numSlots),
	)
	if err != nil {
		return nil, err
	}

	b.starts = make([]uint32, b.numSlots)
	b.counts = make([]uint32, b.numSlots)
	b.instanceCounts = make([]uint32, b.numSlots)
	b.geometryIndex = make([]int32, b.numSlots)
	b.drawBounds = make([]common.Bounds, b.numSlots)
	b.generations = make([]uint32, b.numSlots)
	b.liveSlots = make([]bool, b.numSlots)
	for i := range b.geometryIndex {
		b.geometryIndex[i] = -1
	}

	if b.instanceBoundingKind != common.BoundingNone {
		b.instanceBounds = make([]common.Bounds, b.numSlots*b.maxInstancesPerDrawCall)
	}

	b.textures = make([]*instanceTexture, len(b.attributes))
	for i, attr := range b.attributes {
		items := b.numSlots * b.maxInstancesPerDrawCall
		if !attr.Instanced {
			items = b.maxSlotsPerGeometry * len(b.templates)
		}
		b.textures[i] = newInstanceTexture(attr, items)
	}

	if b.backend != nil {
		if err := b.createGPUResources(); err != nil {
			b.Release()
			return nil, err
		}
	}

	batchLogger.Printf("created %q: %d templates, %d slots, %d instances/slot", b.label, len(b.templates), b.numSlots, b.maxInstancesPerDrawCall)
	return b, nil
}

func (b *instancedBatchAllocator) createGPUResources() error {
	var err error
	b.positionBuffer, err = b.backend.CreateVertexBuffer(
		b.label+" positions",
		common.SliceToBytes(b.merged.Positions),
	)
	if err != nil {
		return fmt.Errorf("instanced_batch: creating position buffer: %w", err)
	}
	b.indexBuffer, err = b.backend.CreateIndexBuffer(
		b.label+" indices",
		common.SliceToBytes(b.merged.Indices),
	)
	if err != nil {
		return fmt.Errorf("instanced_batch: creating index buffer: %w", err)
	}

	for _, t := range b.textures {
		format, err := gpu.FormatForAttribute(t.spec)
		if err != nil {
			return err
		}
		t.tex, err = b.backend.CreateDataTexture(
			fmt.Sprintf("%s %s", b.label, t.spec.Name),
			t.layout.Width, t.layout.Width, format,
		)
		if err != nil {
			return fmt.Errorf("instanced_batch: creating %q texture: %w", t.spec.Name, err)
		}
	}
	return nil
}

func (b *instancedBatchAllocator) AllocDrawCall(geometryIndex int, bounds common.Bounds) (PositionIndexBinding, error) {
	if geometryIndex < 0 || geometryIndex >= len(b.merged.Extents) {
		return PositionIndexBinding{}, fmt.Errorf("instanced_batch: geometry index %d out of range (%d templates)", geometryIndex, len(b.merged.Extents))
	}

	slot, err := b.slotAlloc.Alloc(1)
	if err != nil {
		return PositionIndexBinding{}, fmt.Errorf("instanced_batch: slot pool exhausted: %w", err)
	}

	ext := b.merged.Extents[geometryIndex]
	b.starts[slot] = uint32(ext.IndexStart) * indexElementSize
	b.counts[slot] = uint32(ext.IndexCount)
	b.instanceCounts[slot] = 0
	b.geometryIndex[slot] = int32(geometryIndex)
	b.drawBounds[slot] = bounds
	b.liveSlots[slot] = true
	b.numLive++

	batchLogger.Printf("alloc slot %d: geometry %d, %d indices at byte %d", slot, geometryIndex, ext.IndexCount, b.starts[slot])
	return PositionIndexBinding{owner: b, slot: slot, generation: b.generations[slot]}, nil
}

func (b *instancedBatchAllocator) FreeDrawCall(binding PositionIndexBinding) error {
	slot, err := b.resolve(binding)
	if err != nil {
		return err
	}

	// Release the slot before zeroing its record: a failed free must leave
	// the slot live and addressable, not permanently leaked.
	if err := b.slotAlloc.Free(slot); err != nil {
		return fmt.Errorf("instanced_batch: releasing slot %d: %w", slot, err)
	}

	b.starts[slot] = 0
	b.counts[slot] = 0
	b.instanceCounts[slot] = 0
	b.geometryIndex[slot] = -1
	b.drawBounds[slot] = common.Bounds{}
	b.liveSlots[slot] = false
	b.generations[slot]++
	b.numLive--

	batchLogger.Printf("free slot %d", slot)
	return nil
}

func (b *instancedBatchAllocator) InstanceCount(binding PositionIndexBinding) (int, error) {
	slot, err := b.resolve(binding)
	if err != nil {
		return 0, err
	}
	return int(b.instanceCounts[slot]), nil
}

func (b *instancedBatchAllocator) SetInstanceCount(binding PositionIndexBinding, count int) error {
	slot, err := b.resolve(binding)
	if err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("instanced_batch: instance count must not be negative, got %d", count)
	}
	if count > b.maxInstancesPerDrawCall {
		return fmt.Errorf("instanced_batch: instance count %d exceeds per-slot maximum %d: %w", count, b.maxInstancesPerDrawCall, common.ErrOutOfCapacity)
	}
	b.instanceCounts[slot] = uint32(count)
	return nil
}

func (b *instancedBatchAllocator) IncrementInstanceCount(binding PositionIndexBinding) (int, error) {
	slot, err := b.resolve(binding)
	if err != nil {
		return 0, err
	}
	if int(b.instanceCounts[slot]) >= b.maxInstancesPerDrawCall {
		return int(b.instanceCounts[slot]), fmt.Errorf("instanced_batch: slot %d already holds %d instances: %w", slot, b.maxInstancesPerDrawCall, common.ErrOutOfCapacity)
	}
	b.instanceCounts[slot]++
	return int(b.instanceCounts[slot]), nil
}

func (b *instancedBatchAllocator) DecrementInstanceCount(binding PositionIndexBinding) (int, error) {
	slot, err := b.resolve(binding)
	if err != nil {
		return 0, err
	}
	if b.instanceCounts[slot] == 0 {
		return 0, fmt.Errorf("instanced_batch: slot %d has no instances to remove: %w", slot, common.ErrInvalidFree)
	}
	b.instanceCounts[slot]--
	return int(b.instanceCounts[slot]), nil
}

func (b *instancedBatchAllocator) SetInstanceBounds(binding PositionIndexBinding, instance int, bounds common.Bounds) error {
	slot, err := b.resolve(binding)
	if err != nil {
		return err
	}
	if b.instanceBounds == nil {
		return fmt.Errorf("instanced_batch: allocator was built without a per-instance bounding kind")
	}
	if instance < 0 || instance >= b.maxInstancesPerDrawCall {
		return fmt.Errorf("instanced_batch: instance %d out of range (%d per slot)", instance, b.maxInstancesPerDrawCall)
	}
	b.instanceBounds[slot*b.maxInstancesPerDrawCall+instance] = bounds
	return nil
}

func (b *instancedBatchAllocator) WriteInstanceData(binding PositionIndexBinding, attribute, instanceOffset int, data []byte) error {
	slot, err := b.resolve(binding)
	if err != nil {
		return err
	}
	tex, err := b.texture(attribute)
	if err != nil {
		return err
	}
	if !tex.spec.Instanced {
		return fmt.Errorf("instanced_batch: attribute %q is per-slot, use WriteSlotData", tex.spec.Name)
	}
	if instanceOffset < 0 || instanceOffset >= b.maxInstancesPerDrawCall {
		return fmt.Errorf("instanced_batch: instance offset %d out of range (%d per slot)", instanceOffset, b.maxInstancesPerDrawCall)
	}
	count := len(data) / tex.bytesPerItem()
	if instanceOffset+count > b.maxInstancesPerDrawCall {
		return fmt.Errorf("instanced_batch: write of %d instances at %d overflows slot capacity %d: %w", count, instanceOffset, b.maxInstancesPerDrawCall, common.ErrOutOfCapacity)
	}
	return tex.writeItems(slot*b.maxInstancesPerDrawCall+instanceOffset, data)
}

func (b *instancedBatchAllocator) WriteSlotData(binding PositionIndexBinding, attribute int, data []byte) error {
	slot, err := b.resolve(binding)
	if err != nil {
		return err
	}
	tex, err := b.texture(attribute)
	if err != nil {
		return err
	}
	if tex.spec.Instanced {
		return fmt.Errorf("instanced_batch: attribute %q is per-instance, use WriteInstanceData", tex.spec.Name)
	}
	if len(data) != tex.bytesPerItem() {
		return fmt.Errorf("instanced_batch: attribute %q takes exactly one %d-byte item per slot, got %d bytes", tex.spec.Name, tex.bytesPerItem(), len(data))
	}
	return tex.writeItems(slot, data)
}

func (b *instancedBatchAllocator) Flush() (int, error) {
	writes := 0
	for _, t := range b.textures {
		n, err := t.flush(b.backend)
		writes += n
		if err != nil {
			return writes, fmt.Errorf("instanced_batch: flushing %q: %w", t.spec.Name, err)
		}
	}
	return writes, nil
}

func (b *instancedBatchAllocator) Query(cam common.Camera) []InstancedDrawRange {
	out := b.queryScratch[:0]

	var frustum common.Frustum
	cullDraws := b.drawBoundingKind != common.BoundingNone
	cullInstances := b.instanceBoundingKind != common.BoundingNone && b.instanceBounds != nil
	if cullDraws || cullInstances {
		viewProj := cam.ViewProjectionMatrix()
		frustum = common.ExtractFrustumFromMatrix(viewProj[:])
	}

	for slot := 0; slot < b.numSlots; slot++ {
		if !b.liveSlots[slot] {
			out = append(out, InstancedDrawRange{})
			continue
		}
		if cullDraws && !b.drawBounds[slot].Intersects(&frustum) {
			out = append(out, InstancedDrawRange{})
			continue
		}

		count := b.instanceCounts[slot]
		if cullInstances && count > 0 {
			count = uint32(b.partitionInstances(slot, int(count), &frustum))
		}
		out = append(out, InstancedDrawRange{
			Start:         b.starts[slot],
			Count:         b.counts[slot],
			InstanceCount: count,
		})
	}
	b.queryScratch = out
	return out
}

// partitionInstances moves the slot's culled instances behind its visible
// ones by swapping each failing row with the last currently occupied row,
// shrinking the occupied range as it goes. Texture mirrors and bounding
// entries move together, so row contents stay consistent. The swapped-in row
// is re-tested before the cursor advances.
func (b *instancedBatchAllocator) partitionInstances(slot, count int, frustum *common.Frustum) int {
	base := slot * b.maxInstancesPerDrawCall
	j, last := 0, count-1
	for j <= last {
		if b.instanceBounds[base+j].Intersects(frustum) {
			j++
			continue
		}
		if j != last {
			b.instanceBounds[base+j], b.instanceBounds[base+last] = b.instanceBounds[base+last], b.instanceBounds[base+j]
			for _, t := range b.textures {
				if t.spec.Instanced {
					t.swapItems(base+j, base+last)
				}
			}
		}
		last--
	}
	return last + 1
}

func (b *instancedBatchAllocator) NumDrawCalls() int {
	return b.numLive
}

func (b *instancedBatchAllocator) NumSlots() int {
	return b.numSlots
}

func (b *instancedBatchAllocator) PositionBuffer() gpu.Buffer {
	return b.positionBuffer
}

func (b *instancedBatchAllocator) IndexBuffer() gpu.Buffer {
	return b.indexBuffer
}

func (b *instancedBatchAllocator) AttributeTexture(attribute int) gpu.Texture {
	if attribute < 0 || attribute >= len(b.textures) {
		return nil
	}
	return b.textures[attribute].tex
}

func (b *instancedBatchAllocator) Release() {
	if b.positionBuffer != nil {
		b.positionBuffer.Release()
		b.positionBuffer = nil
	}
	if b.indexBuffer != nil {
		b.indexBuffer.Release()
		b.indexBuffer = nil
	}
	for _, t := range b.textures {
		if t.tex != nil {
			t.tex.Release()
			t.tex = nil
		}
	}
}

func (b *instancedBatchAllocator) texture(attribute int) (*instanceTexture, error) {
	if attribute < 0 || attribute >= len(b.textures) {
		return nil, fmt.Errorf("instanced_batch: attribute %d out of range (%d declared)", attribute, len(b.textures))
	}
	return b.textures[attribute], nil
}

func (b *instancedBatchAllocator) resolve(binding PositionIndexBinding) (int, error) {
	if b == nil || binding.owner != b || binding.slot < 0 || binding.slot >= b.numSlots {
		return 0, fmt.Errorf("instanced_batch: binding does not address this allocator: %w", common.ErrInvalidFree)
	}
	if !b.liveSlots[binding.slot] || b.generations[binding.slot] != binding.generation {
		return 0, fmt.Errorf("instanced_batch: slot %d was freed: %w", binding.slot, common.ErrStaleBinding)
	}
	return binding.slot, nil
}
