// encoder-gc.go: Garbage collection event encoders
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

// OnGCEvent records a collection phase transition. May run with the world
// stopped. The pre-start-world phase is where heap shots happen (the world
// is still stopped, no concurrent allocation); the post-start-world phase is
// a safe point and flushes the buffer.
func (t *Thread) OnGCEvent(event int, generation int) {
	b := t.ensure(EventSize + 3*LEB128Size)
	if b != nil {
		now := nowNanos()
		if b.tryLock() {
			b.emitByte(TypeGCEvent | TypeGC)
			b.emitTime(now)
			b.emitValue(uint64(event))
			b.emitValue(uint64(generation))
			b.unlock()
		}
	}

	switch event {
	case GCEventStart:
		// nested gen0 starts inside a major collection are counted once
		t.heap.lastGenStarted = generation
		t.heap.roots = t.heap.roots[:0]
		if generation == maxGeneration {
			t.prof.gcCount.Add(1)
		}
	case GCEventPreStartWorld:
		t.heapWalk()
	case GCEventPostStartWorld:
		t.safeSend()
	}
}

// OnGCResize records a heap resize.
func (t *Thread) OnGCResize(newSize uint64) {
	b := t.ensure(EventSize + 2*LEB128Size)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeGCResize | TypeGC)
	b.emitTime(now)
	b.emitValue(newSize)
	b.unlock()
}

// OnGCMoves records object relocations as (old, new) address pairs. Runs
// with the world stopped; objects must have even length.
func (t *Thread) OnGCMoves(objects []ObjectID) {
	b := t.ensure(EventSize + 2*LEB128Size + len(objects)*LEB128Size)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeGCMove | TypeGC)
	b.emitTime(now)
	b.emitValue(uint64(len(objects)))
	for _, obj := range objects {
		b.emitObj(uint64(obj))
	}
	b.unlock()
}

// OnGCHandle records creation or destruction of a GC handle.
func (t *Thread) OnGCHandle(op int, handleType int, handle uint64, obj ObjectID) {
	doBT := t.wantBT()
	var frames []MethodID
	if doBT {
		frames = t.collectBT()
	}

	needed := EventSize + 3*LEB128Size
	if op == HandleOpCreated {
		needed += LEB128Size
	}
	if doBT {
		needed += btSize(frames)
	}
	b := t.ensure(needed)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}

	switch op {
	case HandleOpCreated:
		if doBT {
			b.emitByte(TypeGCHandleCreatedBT | TypeGC)
		} else {
			b.emitByte(TypeGCHandleCreated | TypeGC)
		}
	case HandleOpDestroyed:
		if doBT {
			b.emitByte(TypeGCHandleDestroyedBT | TypeGC)
		} else {
			b.emitByte(TypeGCHandleDestroyed | TypeGC)
		}
	default:
		b.unlock()
		return
	}

	b.emitTime(now)
	b.emitValue(uint64(handleType))
	b.emitValue(handle)
	if op == HandleOpCreated {
		b.emitObj(uint64(obj))
	}
	if doBT {
		t.emitBT(b, frames)
	}

	b.unlock()
	t.processRequests()
}
