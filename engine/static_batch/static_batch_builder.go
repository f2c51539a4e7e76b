package static_batch

import (
	"github.com/Carmen-Shannon/oxy-batch/common"
	"github.com/Carmen-Shannon/oxy-batch/engine/gpu"
)

// StaticBatchAllocatorOption is a functional option for configuring a
// StaticBatchAllocator via NewStaticBatchAllocator.
type StaticBatchAllocatorOption func(*staticBatchAllocator)

// WithLabel is an option builder that sets the debug label used for GPU
// buffer names and log lines.
//
// Parameters:
//   - label: the debug label
//
// Returns:
//   - StaticBatchAllocatorOption: a function that applies the label option
func WithLabel(label string) StaticBatchAllocatorOption {
	return func(b *staticBatchAllocator) {
		b.label = label
	}
}

// WithAttributes is an option builder that declares the vertex attributes the
// shared buffers carry. One GPU buffer is created per attribute.
//
// Parameters:
//   - attributes: the vertex attribute declarations
//
// Returns:
//   - StaticBatchAllocatorOption: a function that applies the attributes option
func WithAttributes(attributes ...common.AttributeSpec) StaticBatchAllocatorOption {
	return func(b *staticBatchAllocator) {
		b.attributes = attributes
	}
}

// WithBufferSize is an option builder that sets the shared buffer capacity in
// vertices (and indices). Buffers never resize after construction.
//
// Parameters:
//   - size: the capacity in vertices/indices, must be positive
//
// Returns:
//   - StaticBatchAllocatorOption: a function that applies the buffer size option
func WithBufferSize(size int) StaticBatchAllocatorOption {
	return func(b *staticBatchAllocator) {
		b.bufferSize = size
	}
}

// WithMaxDrawCalls is an option builder that caps the number of simultaneously
// live draw calls. Defaults to 1024.
//
// Parameters:
//   - max: the draw call ceiling, must be positive
//
// Returns:
//   - StaticBatchAllocatorOption: a function that applies the max draw calls option
func WithMaxDrawCalls(max int) StaticBatchAllocatorOption {
	return func(b *staticBatchAllocator) {
		b.maxDrawCalls = max
	}
}

// WithBoundingKind is an option builder that selects the bounding volume
// representation used for per-draw visibility tests. Defaults to BoundingNone
// (no culling).
//
// Parameters:
//   - kind: the bounding volume kind
//
// Returns:
//   - StaticBatchAllocatorOption: a function that applies the bounding kind option
func WithBoundingKind(kind common.BoundingKind) StaticBatchAllocatorOption {
	return func(b *staticBatchAllocator) {
		b.boundingKind = kind
	}
}

// WithBackend is an option builder that attaches the GPU backend used to
// create and write the shared buffers. Without a backend the allocator only
// manages address ranges, which is sufficient for headless use and tests.
//
// Parameters:
//   - backend: the GPU backend
//
// Returns:
//   - StaticBatchAllocatorOption: a function that applies the backend option
func WithBackend(backend gpu.Backend) StaticBatchAllocatorOption {
	return func(b *staticBatchAllocator) {
		b.backend = backend
	}
}
