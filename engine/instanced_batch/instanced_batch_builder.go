package instanced_batch

import (
	"github.com/Carmen-Shannon/oxy-batch/common"
	"github.com/Carmen-Shannon/oxy-batch/engine/geometry"
	"github.com/Carmen-Shannon/oxy-batch/engine/gpu"
)

// InstancedBatchAllocatorOption is a functional option for configuring an
// InstancedBatchAllocator via NewInstancedBatchAllocator.
type InstancedBatchAllocatorOption func(*instancedBatchAllocator)

// WithLabel is an option builder that sets the debug label used for GPU
// resource names and log lines.
//
// Parameters:
//   - label: the debug label
//
// Returns:
//   - InstancedBatchAllocatorOption: a function that applies the label option
func WithLabel(label string) InstancedBatchAllocatorOption {
	return func(b *instancedBatchAllocator) {
		b.label = label
	}
}

// WithTemplates is an option builder that sets the template geometries to
// merge. Template order defines the geometry indices passed to AllocDrawCall
// and is immutable after construction.
//
// Parameters:
//   - templates: the template meshes, in index order
//
// Returns:
//   - InstancedBatchAllocatorOption: a function that applies the templates option
func WithTemplates(templates ...geometry.Template) InstancedBatchAllocatorOption {
	return func(b *instancedBatchAllocator) {
		b.templates = templates
	}
}

// WithInstanceAttributes is an option builder that declares the attributes
// stored in data textures. One square texture is created per attribute;
// attributes marked Instanced hold one item per instance, the rest one item
// per slot.
//
// Parameters:
//   - attributes: the attribute declarations
//
// Returns:
//   - InstancedBatchAllocatorOption: a function that applies the attributes option
func WithInstanceAttributes(attributes ...common.AttributeSpec) InstancedBatchAllocatorOption {
	return func(b *instancedBatchAllocator) {
		b.attributes = attributes
	}
}

// WithMaxDrawCallsPerGeometry is an option builder that sets how many
// concurrent draw calls each template geometry can have. The positional slot
// pool holds templates*max slots in total.
//
// Parameters:
//   - max: the per-template draw call ceiling, must be positive
//
// Returns:
//   - InstancedBatchAllocatorOption: a function that applies the option
func WithMaxDrawCallsPerGeometry(max int) InstancedBatchAllocatorOption {
	return func(b *instancedBatchAllocator) {
		b.maxDrawCallsPerGeometry = max
	}
}

// WithMaxInstancesPerDrawCall is an option builder that sets the fixed
// instance capacity of every slot. Instance textures are sized from it.
//
// Parameters:
//   - max: the per-slot instance ceiling, must be positive
//
// Returns:
//   - InstancedBatchAllocatorOption: a function that applies the option
func WithMaxInstancesPerDrawCall(max int) InstancedBatchAllocatorOption {
	return func(b *instancedBatchAllocator) {
		b.maxInstancesPerDrawCall = max
	}
}

// WithMaxSlotsPerGeometry is an option builder that sets the per-template
// item capacity of non-instanced attribute textures. Defaults to the max
// draw calls per geometry and must not be below it.
//
// Parameters:
//   - max: the per-template slot-data capacity
//
// Returns:
//   - InstancedBatchAllocatorOption: a function that applies the option
func WithMaxSlotsPerGeometry(max int) InstancedBatchAllocatorOption {
	return func(b *instancedBatchAllocator) {
		b.maxSlotsPerGeometry = max
	}
}

// WithDrawBoundingKind is an option builder that sets the bounding volume
// kind used for per-draw culling. BoundingNone disables slot culling.
//
// Parameters:
//   - kind: the per-draw bounding kind
//
// Returns:
//   - InstancedBatchAllocatorOption: a function that applies the option
func WithDrawBoundingKind(kind common.BoundingKind) InstancedBatchAllocatorOption {
	return func(b *instancedBatchAllocator) {
		b.drawBoundingKind = kind
	}
}

// WithInstanceBoundingKind is an option builder that sets the bounding volume
// kind used for per-instance culling and compaction. BoundingNone disables
// the partition pass entirely.
//
// Parameters:
//   - kind: the per-instance bounding kind
//
// Returns:
//   - InstancedBatchAllocatorOption: a function that applies the option
func WithInstanceBoundingKind(kind common.BoundingKind) InstancedBatchAllocatorOption {
	return func(b *instancedBatchAllocator) {
		b.instanceBoundingKind = kind
	}
}

// WithBackend is an option builder that attaches a GPU backend. Without one
// the allocator runs fully CPU-side, which tests rely on.
//
// Parameters:
//   - backend: the GPU backend
//
// Returns:
//   - InstancedBatchAllocatorOption: a function that applies the backend option
func WithBackend(backend gpu.Backend) InstancedBatchAllocatorOption {
	return func(b *instancedBatchAllocator) {
		b.backend = backend
	}
}
