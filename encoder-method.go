// encoder-method.go: Method enter/leave/jit and runtime code event encoders
//
// Enter and leave always move the depth counter so the balance survives the
// depth gate: frames beyond MaxCallDepth count but emit nothing.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

// OnMethodEnter records entry into a managed method. Hot path.
func (t *Thread) OnMethodEnter(method MethodID) {
	if t.prof.cfg.NoCalls {
		return
	}

	if t.prof.coverage != nil {
		t.prof.coverage.methodEntered(method)
	}

	b := t.ensure(EventSize + 2*LEB128Size)
	if b == nil {
		return
	}
	// Gate on the pre-increment depth: the leave side compares the
	// post-decrement value, so both ends of a frame see the same depth and
	// the emitted stream stays balanced.
	depth := b.callDepth
	b.callDepth++
	if depth > t.prof.cfg.MaxCallDepth {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeEnter | TypeMethod)
	b.emitTime(now)
	t.emitMethodRef(b, method)
	b.unlock()

	t.processRequests()
}

// OnMethodLeave records return from a managed method. Hot path; also a safe
// point when the event spilled into a chained page.
func (t *Thread) OnMethodLeave(method MethodID) {
	if t.prof.cfg.NoCalls {
		return
	}
	b := t.ensure(EventSize + 2*LEB128Size)
	if b == nil {
		return
	}
	b.callDepth--
	if b.callDepth > t.prof.cfg.MaxCallDepth {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeLeave | TypeMethod)
	b.emitTime(now)
	t.emitMethodRef(b, method)
	b.unlock()

	t.sendIfChained()
	t.processRequests()
}

// OnMethodExcLeave records a method unwound by exception propagation.
func (t *Thread) OnMethodExcLeave(method MethodID) {
	if t.prof.cfg.NoCalls {
		return
	}
	b := t.ensure(EventSize + 2*LEB128Size)
	if b == nil {
		return
	}
	b.callDepth--
	if b.callDepth > t.prof.cfg.MaxCallDepth {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeExcLeave | TypeMethod)
	b.emitTime(now)
	t.emitMethodRef(b, method)
	b.unlock()

	t.processRequests()
}

// OnMethodJitted records that a method's code was generated. A non-zero
// result means compilation failed and nothing is recorded. The JIT record
// itself is deferred: the writer emits it, with the code bounds captured
// here, before any buffer whose events reference the method.
func (t *Thread) OnMethodJitted(method MethodID, ji JitInfo, result int) {
	if result != 0 {
		return
	}
	t.registerMethodLocal(method, ji, true)
	t.processRequests()
}

// OnCodeBuffer records a non-method JIT code region (trampolines, helper
// thunks), so samples landing there can still be attributed.
func (t *Thread) OnCodeBuffer(addr uint64, size uint32, bufferType int, name string) {
	b := t.ensure(EventSize + 4*LEB128Size + len(name) + 1)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeJitHelper | TypeRuntime)
	b.emitTime(now)
	b.emitValue(uint64(bufferType))
	b.emitPtr(addr)
	b.emitValue(uint64(size))
	b.emitString(name)
	b.unlock()
	t.processRequests()
}
