// encoder-alloc.go: Allocation event encoder
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

// OnAlloc records an object allocation. Runs with the allocator lock held:
// no allocation, no re-entry into the runtime beyond the sizer.
func (t *Thread) OnAlloc(obj ObjectID, class ClassID) {
	size := uint64(0)
	if sizer := t.prof.cfg.ObjectSizer; sizer != nil {
		size = sizer.SizeOf(obj)
	}
	// account for object alignment in the heap
	size = (size + 7) &^ 7

	doBT := t.wantBT()
	var frames []MethodID
	if doBT {
		frames = t.collectBT()
	}

	needed := EventSize + 4*LEB128Size
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

	tag := byte(TypeAlloc)
	if doBT {
		tag |= TypeAllocBT
	}
	b.emitByte(tag)
	b.emitTime(now)
	b.emitPtr(uint64(class))
	b.emitObj(uint64(obj))
	b.emitValue(size)
	if doBT {
		t.emitBT(b, frames)
	}

	b.unlock()
	t.sendIfChained()
	t.processRequests()
}
