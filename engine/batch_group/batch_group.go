// Package batch_group coordinates several batch allocators as one frame
// unit: registered static and instanced allocators are queried in parallel
// against a shared camera, and their staged texture updates are flushed
// together. Allocators stay single-threaded internally; the group only runs
// different allocators' queries concurrently.
package batch_group

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/Carmen-Shannon/oxy-batch/common"
	"github.com/Carmen-Shannon/oxy-batch/engine/instanced_batch"
	"github.com/Carmen-Shannon/oxy-batch/engine/static_batch"
)

// StaticDrawList is one static allocator's query output for a frame.
type StaticDrawList struct {
	Name  string
	Draws []static_batch.DrawRange
}

// InstancedDrawList is one instanced allocator's query output for a frame.
type InstancedDrawList struct {
	Name  string
	Draws []instanced_batch.InstancedDrawRange
}

// FrameDrawLists holds every registered allocator's draw list for one frame,
// in registration order. The slices alias allocator-owned scratch storage
// and are only valid until the next QueryAll.
type FrameDrawLists struct {
	Static    []StaticDrawList
	Instanced []InstancedDrawList
}

type staticEntry struct {
	name  string
	alloc static_batch.StaticBatchAllocator
}

type instancedEntry struct {
	name  string
	alloc instanced_batch.InstancedBatchAllocator
}

// batchGroup is the implementation of the BatchGroup interface.
type batchGroup struct {
	statics    []staticEntry
	instanceds []instancedEntry

	// queryPool manages a bounded set of reusable goroutines for the parallel
	// query fan-out. Workers persist across frames while the group stays busy
	// and idle-exit between bursts.
	queryPool    worker.DynamicWorkerPool
	queryWorkers int

	scratch FrameDrawLists
}

// BatchGroup owns a set of named batch allocators and drives their per-frame
// work. Registration happens once at setup; QueryAll and FlushAll are then
// called once per frame from the render-producing goroutine. QueryAll is not
// reentrant: it reuses both the group's result scratch and each allocator's
// query scratch.
type BatchGroup interface {
	// AddStatic registers a static allocator under a unique name.
	//
	// Parameters:
	//   - name: the allocator's name within the group
	//   - alloc: the allocator to register
	//
	// Returns:
	//   - error: an error if the name is already taken or alloc is nil
	AddStatic(name string, alloc static_batch.StaticBatchAllocator) error

	// AddInstanced registers an instanced allocator under a unique name.
	//
	// Parameters:
	//   - name: the allocator's name within the group
	//   - alloc: the allocator to register
	//
	// Returns:
	//   - error: an error if the name is already taken or alloc is nil
	AddInstanced(name string, alloc instanced_batch.InstancedBatchAllocator) error

	// Static returns a registered static allocator, or nil if unknown.
	Static(name string) static_batch.StaticBatchAllocator

	// Instanced returns a registered instanced allocator, or nil if unknown.
	Instanced(name string) instanced_batch.InstancedBatchAllocator

	// QueryAll runs every registered allocator's visibility query against one
	// camera, fanning the queries out over the worker pool and waiting for
	// all of them before returning. Each allocator's internal mutation (the
	// instanced compaction pass) stays confined to its own task.
	//
	// Parameters:
	//   - cam: supplies the view-projection matrix shared by all queries
	//
	// Returns:
	//   - FrameDrawLists: all draw lists, valid until the next QueryAll
	QueryAll(cam common.Camera) FrameDrawLists

	// FlushAll uploads every instanced allocator's pending texture updates.
	//
	// Returns:
	//   - int: total GPU copy calls issued
	//   - error: the first flush error encountered
	FlushAll() (int, error)

	// Release releases every registered allocator's GPU resources.
	Release()
}

var _ BatchGroup = &batchGroup{}

// NewBatchGroup creates a new BatchGroup with the specified options applied.
//
// Parameters:
//   - options: a variadic list of BatchGroupOption functions
//
// Returns:
//   - BatchGroup: a new empty group ready for allocator registration
func NewBatchGroup(options ...BatchGroupOption) BatchGroup {
	g := &batchGroup{
		queryWorkers: max(runtime.NumCPU()-1, 1),
	}
	for _, option := range options {
		option(g)
	}

	// Queue size of 64 covers any realistic allocator count with headroom.
	g.queryPool = worker.NewDynamicWorkerPool(g.queryWorkers, 64, 1*time.Second)
	return g
}

func (g *batchGroup) AddStatic(name string, alloc static_batch.StaticBatchAllocator) error {
	if alloc == nil {
		return fmt.Errorf("batch_group: static allocator %q is nil", name)
	}
	if g.taken(name) {
		return fmt.Errorf("batch_group: name %q is already registered", name)
	}
	g.statics = append(g.statics, staticEntry{name: name, alloc: alloc})
	return nil
}

func (g *batchGroup) AddInstanced(name string, alloc instanced_batch.InstancedBatchAllocator) error {
	if alloc == nil {
		return fmt.Errorf("batch_group: instanced allocator %q is nil", name)
	}
	if g.taken(name) {
		return fmt.Errorf("batch_group: name %q is already registered", name)
	}
	g.instanceds = append(g.instanceds, instancedEntry{name: name, alloc: alloc})
	return nil
}

func (g *batchGroup) Static(name string) static_batch.StaticBatchAllocator {
	for _, e := range g.statics {
		if e.name == name {
			return e.alloc
		}
	}
	return nil
}

func (g *batchGroup) Instanced(name string) instanced_batch.InstancedBatchAllocator {
	for _, e := range g.instanceds {
		if e.name == name {
			return e.alloc
		}
	}
	return nil
}

func (g *batchGroup) QueryAll(cam common.Camera) FrameDrawLists {
	out := FrameDrawLists{
		Static:    g.scratch.Static[:0],
		Instanced: g.scratch.Instanced[:0],
	}
	for _, e := range g.statics {
		out.Static = append(out.Static, StaticDrawList{Name: e.name})
	}
	for _, e := range g.instanceds {
		out.Instanced = append(out.Instanced, InstancedDrawList{Name: e.name})
	}

	// A WaitGroup provides the per-frame barrier; pool.Wait() blocks until
	// workers idle-exit, which is unsuitable for frame-rate workloads. Each
	// task writes one pre-reserved result slot, so no result locking is
	// needed.
	var wg sync.WaitGroup
	taskID := 0
	for i, e := range g.statics {
		wg.Add(1)
		slot := &out.Static[i]
		alloc := e.alloc
		g.queryPool.SubmitTask(worker.Task{
			ID: taskID,
			Do: func() (any, error) {
				defer wg.Done()
				slot.Draws = alloc.Query(cam)
				return nil, nil
			},
		})
		taskID++
	}
	for i, e := range g.instanceds {
		wg.Add(1)
		slot := &out.Instanced[i]
		alloc := e.alloc
		g.queryPool.SubmitTask(worker.Task{
			ID: taskID,
			Do: func() (any, error) {
				defer wg.Done()
				slot.Draws = alloc.Query(cam)
				return nil, nil
			},
		})
		taskID++
	}
	wg.Wait()

	g.scratch = out
	return out
}

func (g *batchGroup) FlushAll() (int, error) {
	writes := 0
	for _, e := range g.instanceds {
		n, err := e.alloc.Flush()
		writes += n
		if err != nil {
			return writes, fmt.Errorf("batch_group: flushing %q: %w", e.name, err)
		}
	}
	return writes, nil
}

func (g *batchGroup) Release() {
	for _, e := range g.statics {
		e.alloc.Release()
	}
	for _, e := range g.instanceds {
		e.alloc.Release()
	}
}

func (g *batchGroup) taken(name string) bool {
	return g.Static(name) != nil || g.Instanced(name) != nil
}
