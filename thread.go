// thread.go: Per-thread probe handle and buffer management
//
// Go has no implicit thread-local storage, so the thread-local buffer of the
// original design becomes an explicit handle: the host attaches each runtime
// thread once and routes that thread's probes through the returned *Thread.
// All handle state is therefore single-writer; the only cross-thread touches
// are the lock-free queue enqueue and the registry lookup.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

// Thread is a probe handle for one runtime thread. Detach must be the last
// call on a handle.
type Thread struct {
	prof *Profiler
	tid  uint64

	buf     *LogBuffer
	methods []pendingMethod

	// Backtrace scratch, sized to MaxFrames. Capture happens before the
	// output buffer is entered, so a walk that fires further probes cannot
	// deadlock on the reentrancy guard.
	frames []MethodID

	heap heapShotState

	detached bool
}

// ensure returns the current buffer with at least bytes+slack of room,
// chaining a fresh page in front when needed. Returns nil when the arena
// cannot map a page; the caller drops the event.
func (t *Thread) ensure(bytes int) *LogBuffer {
	if t.detached {
		return nil
	}
	if t.buf != nil && t.buf.room() >= bytes+bufferSlack {
		return t.buf
	}

	nb := newLogBufferSized(t.tid, bytes+bufferSlack)
	if nb == nil {
		return nil
	}
	if t.buf != nil {
		// Only the call depth survives a page change; delta bases restart
		// so each frame header stands alone.
		nb.callDepth = t.buf.callDepth
		nb.next = t.buf
	}
	t.buf = nb
	return nb
}

// registerMethodLocal notes that this thread referenced a method, so its JIT
// record can be emitted before the buffer is written. Appended at most once
// per buffer; methods already in the global registry are skipped.
func (t *Thread) registerMethodLocal(method MethodID, ji JitInfo, hasJI bool) {
	if t.prof.registry.contains(method) {
		return
	}
	for i := range t.methods {
		if t.methods[i].method == method {
			if hasJI && !t.methods[i].hasJI {
				t.methods[i].ji = ji
				t.methods[i].hasJI = true
			}
			return
		}
	}
	t.methods = append(t.methods, pendingMethod{
		method: method,
		ji:     ji,
		hasJI:  hasJI,
		time:   nowNanos(),
	})
}

// emitMethodRef emits a method reference and records the pending-method
// dependency.
func (t *Thread) emitMethodRef(b *LogBuffer, method MethodID) {
	t.registerMethodLocal(method, JitInfo{}, false)
	b.emitMethod(uint64(method))
}

// emitMethodAsPtr is like emitMethodRef but encodes against the pointer base
// instead of the running method delta (used inside backtraces).
func (t *Thread) emitMethodAsPtr(b *LogBuffer, method MethodID) {
	t.registerMethodLocal(method, JitInfo{}, false)
	b.emitPtr(uint64(method))
}

// safeSend seals the current buffer and hands it to the writer, installing a
// fresh successor that carries the call depth. Callable only from safe
// points: probe locations the runtime guarantees are not inside another
// encoder.
//
// Before Start the writer queue is not draining, so buffers simply keep
// accumulating through their next chains and flush at the first safe point
// afterwards.
func (t *Thread) safeSend() {
	if !t.prof.runtimeInited.Load() {
		return
	}
	if t.buf == nil {
		return
	}

	buf := t.buf
	methods := t.methods
	depth := buf.callDepth

	t.buf = nil
	t.methods = nil
	t.prof.enqueue(methods, buf)

	if nb := newLogBuffer(t.tid); nb != nil {
		nb.callDepth = depth
		t.buf = nb
	}
}

// sendIfChained flushes when the last event spilled into a chained page.
func (t *Thread) sendIfChained() {
	if t.buf != nil && t.buf.next != nil {
		t.safeSend()
	}
}

// processRequests serves a pending heap-shot request from a safe point.
func (t *Thread) processRequests() {
	p := t.prof
	if p.heapshotReq.Load() && p.gcTrigger != nil && !p.inShutdown.Load() {
		p.gcTrigger.Collect(maxGeneration)
	}
}

// flushFinal pushes whatever the handle still holds to the writer. Used by
// the shutdown path; the handle stays usable only for Detach afterwards.
func (t *Thread) flushFinal() {
	if t.buf == nil {
		return
	}
	buf := t.buf
	methods := t.methods
	t.buf = nil
	t.methods = nil
	t.prof.enqueue(methods, buf)
}

// collectBT captures a backtrace through the host's stack walker. Must run
// before the encoder enters its buffer: walks can fire metadata probes of
// their own.
func (t *Thread) collectBT() []MethodID {
	walker := t.prof.cfg.StackWalker
	if walker == nil {
		return nil
	}
	n := walker.Walk(t.frames)
	if n > len(t.frames) {
		n = len(t.frames)
	}
	return t.frames[:n]
}

// wantBT reports whether the current configuration attaches backtraces to
// discrete events (allocation, throw, monitor, gc handle).
func (t *Thread) wantBT() bool {
	cfg := &t.prof.cfg
	return cfg.NoCalls && !cfg.NoTraces && t.prof.runtimeInited.Load()
}

// btSize returns the reserved encoding size for a backtrace.
func btSize(frames []MethodID) int {
	return LEB128Size /* flags */ + LEB128Size /* count */ + len(frames)*LEB128Size
}

// emitBT writes a captured backtrace: flags, count, then the frames from
// outermost to innermost as pointer-base deltas.
func (t *Thread) emitBT(b *LogBuffer, frames []MethodID) {
	b.emitValue(0) // flags
	b.emitValue(uint64(len(frames)))
	for i := len(frames) - 1; i >= 0; i-- {
		t.emitMethodAsPtr(b, frames[i])
	}
}
