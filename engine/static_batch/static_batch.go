// Package static_batch implements a batch allocator for static geometry:
// many variable-sized meshes share one set of fixed-capacity vertex attribute
// buffers and one index buffer, each mesh holding a power-of-two sub-range of
// both. Live draw calls sit in a dense, order-unstable registry compacted by
// swap-with-last on free, and visibility queries emit only the draws whose
// bounding volume intersects the camera frustum.
package static_batch

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/Carmen-Shannon/oxy-batch/common"
	"github.com/Carmen-Shannon/oxy-batch/engine/gpu"
	"github.com/Carmen-Shannon/oxy-batch/engine/slab"
)

var batchLogger *log.Logger = log.New(io.Discard, "", 0)

func init() {
	if os.Getenv("OXY_DEBUG_BATCH") == "1" {
		batchLogger = log.New(os.Stdout, "[static_batch] ", log.Ltime|log.Lmsgprefix)
	}
}

// indexElementSize is the byte size of one index element (uint32 indices).
const indexElementSize = 4

// DrawRange is one GPU draw descriptor emitted by Query: a byte offset into
// the shared index buffer and an index count, ready for an indexed draw call.
type DrawRange struct {
	Start uint32
	Count uint32
}

// drawRecord is one live draw call in the dense registry.
type drawRecord struct {
	startOffset uint32
	count       uint32
}

// bindingEntry is one arena slot backing a DrawCallBinding. The generation
// counter increments on every free so stale bindings are detected instead of
// silently aliasing a reused slot.
type bindingEntry struct {
	generation    uint32
	live          bool
	dense         int
	positionStart int
	indexStart    int
	numPositions  int
	numIndices    int
}

// staticBatchAllocator is the implementation of the StaticBatchAllocator interface.
type staticBatchAllocator struct {
	label        string
	attributes   []common.AttributeSpec
	bufferSize   int
	maxDrawCalls int
	boundingKind common.BoundingKind
	backend      gpu.Backend

	positionAlloc slab.SlabAllocator
	indexAlloc    slab.SlabAllocator

	// Dense draw registry: draws[0:numDraws] are live, in no particular
	// order. bounds and denseToEntry are parallel to draws.
	draws        []drawRecord
	bounds       []common.Bounds
	denseToEntry []int
	numDraws     int

	entries     []bindingEntry
	freeEntries []int

	// GPU resources, one vertex buffer per attribute plus the index buffer.
	// Nil when no backend is attached.
	attributeBuffers []gpu.Buffer
	indexBuffer      gpu.Buffer

	// queryScratch is reused across Query calls; queries are not reentrant.
	queryScratch []DrawRange
}

// StaticBatchAllocator merges many logical meshes into shared fixed-capacity
// GPU buffers and produces culled draw lists on demand. All methods must be
// called from a single render-producing goroutine: a Query must never
// interleave with an Alloc or Free on the same allocator, and the slice
// returned by Query is reused by the next Query.
type StaticBatchAllocator interface {
	// Alloc reserves a position range and an index range for one mesh and
	// registers a draw call for it. Allocation is all-or-nothing: a partial
	// reservation is rolled back before the error is returned.
	//
	// Parameters:
	//   - numPositions: vertex count to reserve
	//   - numIndices: index count to reserve
	//   - bounds: the draw call's bounding volume (ignored when the allocator
	//     was built with BoundingNone)
	//
	// Returns:
	//   - DrawCallBinding: the capability token addressing the new draw call
	//   - error: common.ErrOutOfCapacity if either range or the draw registry
	//     is exhausted
	Alloc(numPositions, numIndices int, bounds common.Bounds) (DrawCallBinding, error)

	// Free releases a draw call and both of its sub-ranges. The last draw in
	// the dense registry is swapped into the freed position, so registry
	// order is unstable across frees.
	//
	// Parameters:
	//   - binding: the token returned by Alloc
	//
	// Returns:
	//   - error: common.ErrStaleBinding if the binding was already freed,
	//     common.ErrInvalidFree if it never addressed this allocator
	Free(binding DrawCallBinding) error

	// WriteAttribute uploads vertex data for one attribute of a draw call at
	// the draw call's byte offset in that attribute's shared buffer.
	//
	// Parameters:
	//   - binding: the draw call to address
	//   - attribute: index into the declared attribute specs
	//   - data: the packed attribute bytes, at most numPositions items
	//
	// Returns:
	//   - error: an error if the binding is stale or the data does not fit
	WriteAttribute(binding DrawCallBinding, attribute int, data []byte) error

	// WriteIndices uploads index data for a draw call at its byte offset in
	// the shared index buffer. Indices must already address the draw call's
	// own vertex range (see DrawCallBinding.VertexBase).
	//
	// Parameters:
	//   - binding: the draw call to address
	//   - indices: the index values, at most numIndices entries
	//
	// Returns:
	//   - error: an error if the binding is stale or the data does not fit
	WriteIndices(binding DrawCallBinding, indices []uint32) error

	// Query produces the draw list for the current camera: every live draw
	// call whose bounding volume intersects the view frustum, in current
	// dense-registry order. With BoundingNone every live draw is emitted.
	// The returned slice is valid until the next Query.
	//
	// Parameters:
	//   - cam: the camera supplying the view-projection matrix
	//
	// Returns:
	//   - []DrawRange: the visible draws, (index byte offset, index count)
	Query(cam common.Camera) []DrawRange

	// NumDrawCalls returns the number of live draw calls.
	//
	// Returns:
	//   - int: the live draw call count
	NumDrawCalls() int

	// Release frees all GPU resources held by this allocator.
	Release()
}

var _ StaticBatchAllocator = &staticBatchAllocator{}

// NewStaticBatchAllocator creates a new StaticBatchAllocator with the
// specified options applied.
//
// Parameters:
//   - options: a variadic list of StaticBatchAllocatorOption functions
//
// Returns:
//   - StaticBatchAllocator: a new allocator configured with the provided options
//   - error: an error if the configuration is invalid or GPU buffer creation fails
func NewStaticBatchAllocator(options ...StaticBatchAllocatorOption) (StaticBatchAllocator, error) {
	b := &staticBatchAllocator{
		label:        "static batch",
		maxDrawCalls: 1024,
	}
	for _, opt := range options {
		opt(b)
	}

	if b.bufferSize <= 0 {
		return nil, fmt.Errorf("static_batch: buffer size must be positive, got %d", b.bufferSize)
	}
	if b.maxDrawCalls <= 0 {
		return nil, fmt.Errorf("static_batch: max draw calls must be positive, got %d", b.maxDrawCalls)
	}
	if len(b.attributes) == 0 {
		return nil, fmt.Errorf("static_batch: at least one vertex attribute is required")
	}

	var err error
	// Positions get 3 floats per vertex; alignment 3 keeps every range on a
	// whole-vertex boundary.
	b.positionAlloc, err = slab.NewSlabAllocator(
		slab.WithCapacity(3*b.bufferSize),
		slab.WithAlignment(3),
	)
	if err != nil {
		return nil, err
	}
	b.indexAlloc, err = slab.NewSlabAllocator(slab.WithCapacity(b.bufferSize))
	if err != nil {
		return nil, err
	}

	b.draws = make([]drawRecord, b.maxDrawCalls)
	b.bounds = make([]common.Bounds, b.maxDrawCalls)
	b.denseToEntry = make([]int, b.maxDrawCalls)

	if b.backend != nil {
		b.attributeBuffers = make([]gpu.Buffer, len(b.attributes))
		for i, attr := range b.attributes {
			buf, err := b.backend.CreateVertexBuffer(
				fmt.Sprintf("%s %s", b.label, attr.Name),
				make([]byte, b.bufferSize*attr.BytesPerItem()),
			)
			if err != nil {
				b.Release()
				return nil, fmt.Errorf("static_batch: creating %q buffer: %w", attr.Name, err)
			}
			b.attributeBuffers[i] = buf
		}

		b.indexBuffer, err = b.backend.CreateIndexBuffer(
			b.label+" indices",
			make([]byte, b.bufferSize*indexElementSize),
		)
		if err != nil {
			b.Release()
			return nil, fmt.Errorf("static_batch: creating index buffer: %w", err)
		}
	}

	return b, nil
}

func (b *staticBatchAllocator) Alloc(numPositions, numIndices int, bounds common.Bounds) (DrawCallBinding, error) {
	if numPositions <= 0 || numIndices <= 0 {
		return DrawCallBinding{}, fmt.Errorf("static_batch: allocation needs positive counts, got %d positions, %d indices", numPositions, numIndices)
	}
	if b.numDraws == b.maxDrawCalls {
		return DrawCallBinding{}, fmt.Errorf("static_batch: draw registry holds %d draw calls: %w", b.maxDrawCalls, common.ErrOutOfCapacity)
	}

	positionStart, err := b.positionAlloc.Alloc(numPositions * 3)
	if err != nil {
		return DrawCallBinding{}, fmt.Errorf("static_batch: position range: %w", err)
	}

	indexStart, err := b.indexAlloc.Alloc(numIndices)
	if err != nil {
		// All-or-nothing: release the position range before reporting.
		if ferr := b.positionAlloc.Free(positionStart); ferr != nil {
			batchLogger.Printf("rollback of position range %d failed: %v", positionStart, ferr)
		}
		return DrawCallBinding{}, fmt.Errorf("static_batch: index range: %w", err)
	}

	var id int
	if n := len(b.freeEntries); n > 0 {
		id = b.freeEntries[n-1]
		b.freeEntries = b.freeEntries[:n-1]
	} else {
		id = len(b.entries)
		b.entries = append(b.entries, bindingEntry{})
	}

	entry := &b.entries[id]
	entry.live = true
	entry.dense = b.numDraws
	entry.positionStart = positionStart
	entry.indexStart = indexStart
	entry.numPositions = numPositions
	entry.numIndices = numIndices

	b.draws[b.numDraws] = drawRecord{
		startOffset: uint32(indexStart) * indexElementSize,
		count:       uint32(numIndices),
	}
	b.bounds[b.numDraws] = bounds
	b.denseToEntry[b.numDraws] = id
	b.numDraws++

	batchLogger.Printf("alloc draw#%d: %d vertices at %d, %d indices at %d", id, numPositions, positionStart/3, numIndices, indexStart)

	return DrawCallBinding{owner: b, id: id, generation: entry.generation}, nil
}

func (b *staticBatchAllocator) Free(binding DrawCallBinding) error {
	entry, err := b.resolve(binding)
	if err != nil {
		return err
	}

	// Release both sub-ranges before touching the registry: a failed free
	// (recycler overflow) must leave the draw call live and addressable, not
	// half-removed.
	if err := b.positionAlloc.Free(entry.positionStart); err != nil {
		return fmt.Errorf("static_batch: releasing position range: %w", err)
	}
	if err := b.indexAlloc.Free(entry.indexStart); err != nil {
		return fmt.Errorf("static_batch: releasing index range: %w", err)
	}

	// Swap the last dense record into the freed position so the registry
	// stays gap-free, then fix the moved entry's back-reference.
	dense := entry.dense
	last := b.numDraws - 1
	if dense != last {
		b.draws[dense] = b.draws[last]
		b.bounds[dense] = b.bounds[last]
		moved := b.denseToEntry[last]
		b.denseToEntry[dense] = moved
		b.entries[moved].dense = dense
	}
	b.numDraws--

	entry.live = false
	entry.generation++
	b.freeEntries = append(b.freeEntries, binding.id)

	batchLogger.Printf("free draw#%d: %d draws live", binding.id, b.numDraws)
	return nil
}

func (b *staticBatchAllocator) WriteAttribute(binding DrawCallBinding, attribute int, data []byte) error {
	entry, err := b.resolve(binding)
	if err != nil {
		return err
	}
	if attribute < 0 || attribute >= len(b.attributes) {
		return fmt.Errorf("static_batch: attribute %d out of range (%d declared)", attribute, len(b.attributes))
	}

	attr := b.attributes[attribute]
	if len(data) > entry.numPositions*attr.BytesPerItem() {
		return fmt.Errorf("static_batch: %d bytes exceed draw call's %d-vertex %q range", len(data), entry.numPositions, attr.Name)
	}
	if b.backend == nil {
		return nil
	}

	offset := uint64(entry.positionStart/3) * uint64(attr.BytesPerItem())
	return b.backend.WriteBuffer(b.attributeBuffers[attribute], offset, data)
}

func (b *staticBatchAllocator) WriteIndices(binding DrawCallBinding, indices []uint32) error {
	entry, err := b.resolve(binding)
	if err != nil {
		return err
	}
	if len(indices) > entry.numIndices {
		return fmt.Errorf("static_batch: %d indices exceed draw call's range of %d", len(indices), entry.numIndices)
	}
	if b.backend == nil {
		return nil
	}

	offset := uint64(entry.indexStart) * indexElementSize
	return b.backend.WriteBuffer(b.indexBuffer, offset, common.SliceToBytes(indices))
}

func (b *staticBatchAllocator) Query(cam common.Camera) []DrawRange {
	out := b.queryScratch[:0]

	if b.boundingKind == common.BoundingNone {
		for i := 0; i < b.numDraws; i++ {
			out = append(out, DrawRange{Start: b.draws[i].startOffset, Count: b.draws[i].count})
		}
		b.queryScratch = out
		return out
	}

	viewProj := cam.ViewProjectionMatrix()
	frustum := common.ExtractFrustumFromMatrix(viewProj[:])

	for i := 0; i < b.numDraws; i++ {
		if !b.bounds[i].Intersects(&frustum) {
			continue
		}
		out = append(out, DrawRange{Start: b.draws[i].startOffset, Count: b.draws[i].count})
	}
	b.queryScratch = out
	return out
}

func (b *staticBatchAllocator) NumDrawCalls() int {
	return b.numDraws
}

func (b *staticBatchAllocator) Release() {
	for i, buf := range b.attributeBuffers {
		if buf != nil {
			buf.Release()
			b.attributeBuffers[i] = nil
		}
	}
	if b.indexBuffer != nil {
		b.indexBuffer.Release()
		b.indexBuffer = nil
	}
}

// resolve validates a binding against the arena and returns its live entry.
func (b *staticBatchAllocator) resolve(binding DrawCallBinding) (*bindingEntry, error) {
	if b == nil || binding.owner != b || binding.id < 0 || binding.id >= len(b.entries) {
		return nil, fmt.Errorf("static_batch: binding does not address this allocator: %w", common.ErrInvalidFree)
	}
	entry := &b.entries[binding.id]
	if !entry.live || entry.generation != binding.generation {
		return nil, fmt.Errorf("static_batch: draw call %d was freed: %w", binding.id, common.ErrStaleBinding)
	}
	return entry, nil
}
