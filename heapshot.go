// heapshot.go: Live-object graph capture during garbage collection
//
// The walker runs inside the GC callback with the world stopped, so the
// encoders here skip the reentrancy guard: nothing can preempt the walking
// thread. Roots reported by the gc_roots probe accumulate while collecting
// and flush as a single HEAP_ROOT record before HEAP_END, keeping every shot
// a self-contained START..END subsequence.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

// Heap-shot phases.
const (
	hsIdle = iota
	hsCollecting
	hsFlushing
)

type heapRoot struct {
	obj   ObjectID
	kind  int
	extra uint64
}

// heapShotState is per-thread: heap shots run on whichever thread executes
// the GC callback.
type heapShotState struct {
	lastGenStarted int
	phase          int
	roots          []heapRoot
}

// OnGCRoots records the GC's root set. Runs with the world stopped. The
// roots callback fires during the mark phase, before the pre-start-world
// walk, so roots accumulate from collection start and are either flushed
// into the shot or discarded at the next collection.
func (t *Thread) OnGCRoots(objects []ObjectID, kinds []int, extras []uint64) {
	if t.heap.phase == hsFlushing {
		return
	}
	for i, obj := range objects {
		root := heapRoot{obj: obj}
		if i < len(kinds) {
			root.kind = kinds[i]
		}
		if i < len(extras) {
			root.extra = extras[i]
		}
		t.heap.roots = append(t.heap.roots, root)
	}
}

// heapWalk captures a heap shot if one is due. Called at pre-start-world.
func (t *Thread) heapWalk() {
	p := t.prof
	cfg := &p.cfg
	if !cfg.DoHeapShot || cfg.HeapWalker == nil {
		return
	}

	now := nowNanos()
	doWalk := false
	switch {
	case cfg.HeapShotEveryMS != 0:
		doWalk = (now-p.lastHSTime.Load())/1000000 >= uint64(cfg.HeapShotEveryMS)
	case cfg.HeapShotEveryGC != 0:
		doWalk = p.gcCount.Load()%uint32(cfg.HeapShotEveryGC) == 0
	case cfg.HeapShotOnDemand:
		doWalk = p.heapshotReq.Load()
	default:
		doWalk = t.heap.lastGenStarted == maxGeneration
	}
	if !doWalk {
		return
	}
	p.heapshotReq.Store(false)

	t.heap.phase = hsCollecting

	if b := t.ensure(EventSize + LEB128Size); b != nil {
		now = nowNanos()
		b.emitByte(TypeHeapStart | TypeHeap)
		b.emitTime(now)
	}

	cfg.HeapWalker.WalkHeap(t.heapObject)

	t.heap.phase = hsFlushing
	t.flushRoots()

	if b := t.ensure(EventSize + LEB128Size); b != nil {
		now = nowNanos()
		b.emitByte(TypeHeapEnd | TypeHeap)
		b.emitTime(now)
	}

	t.heap.phase = hsIdle
	p.lastHSTime.Store(now)
}

// heapObject streams one live object: object, class, aligned size, then the
// reference list with field offsets delta-coded from zero in field order.
// A size of zero marks a continuation record adding references to an object
// reported earlier in the same shot.
func (t *Thread) heapObject(obj ObjectID, class ClassID, size uint64, refOffsets []uint64, refs []ObjectID) {
	b := t.ensure(EventSize + 4*LEB128Size + len(refs)*2*LEB128Size)
	if b == nil {
		return
	}
	b.emitByte(TypeHeapObject | TypeHeap)
	b.emitObj(uint64(obj))
	b.emitPtr(uint64(class))
	if size != 0 {
		// account for object alignment in the heap
		size = (size + 7) &^ 7
	}
	b.emitValue(size)
	b.emitValue(uint64(len(refs)))
	lastOffset := uint64(0)
	for i, ref := range refs {
		offset := lastOffset
		if i < len(refOffsets) {
			offset = refOffsets[i]
		}
		b.emitValue(offset - lastOffset)
		lastOffset = offset
		b.emitObj(uint64(ref))
	}
}

// flushRoots emits the accumulated root set as one HEAP_ROOT record.
func (t *Thread) flushRoots() {
	roots := t.heap.roots
	b := t.ensure(EventSize + 2*LEB128Size + len(roots)*3*LEB128Size)
	if b == nil {
		return
	}
	b.emitByte(TypeHeapRoot | TypeHeap)
	b.emitValue(uint64(len(roots)))
	b.emitValue(uint64(t.prof.gcCount.Load()))
	for _, root := range roots {
		b.emitObj(uint64(root.obj))
		b.emitValue(uint64(root.kind))
		b.emitValue(root.extra)
	}
	t.heap.roots = t.heap.roots[:0]
}
