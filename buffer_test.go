// buffer_test.go: LogBuffer delta encoding and lifecycle tests
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import "testing"

func TestBufferDeltaBasesCommitOnFirstWrite(t *testing.T) {
	b := newLogBuffer(7)
	if b == nil {
		t.Fatal("buffer allocation failed")
	}
	defer b.free()

	if b.ptrBase != 0 || b.objBase != 0 || b.methodBase != 0 {
		t.Fatal("bases must start uncommitted")
	}

	b.emitPtr(0x1000)
	if b.ptrBase != 0x1000 {
		t.Fatalf("ptr base = 0x%x, want 0x1000", b.ptrBase)
	}
	b.emitObj(0x2000)
	if b.objBase != 0x2000>>3 {
		t.Fatalf("obj base = 0x%x, want 0x%x", b.objBase, 0x2000>>3)
	}
	b.emitMethod(0x3000)
	if b.methodBase != 0x3000 || b.lastMethod != 0x3000 {
		t.Fatalf("method base = 0x%x last = 0x%x, want 0x3000", b.methodBase, b.lastMethod)
	}
}

func TestBufferPtrRoundTrip(t *testing.T) {
	b := newLogBuffer(1)
	if b == nil {
		t.Fatal("buffer allocation failed")
	}
	defer b.free()

	addrs := []uint64{0x7f0000001000, 0x7f0000000800, 0x7f0000002468}
	for _, a := range addrs {
		b.emitPtr(a)
	}

	data := b.data
	for _, want := range addrs {
		diff, n, err := Sleb128(data)
		if err != nil {
			t.Fatal(err)
		}
		data = data[n:]
		if got := b.ptrBase + uint64(diff); got != want {
			t.Fatalf("reconstructed 0x%x, want 0x%x", got, want)
		}
	}
}

func TestBufferObjShiftRoundTrip(t *testing.T) {
	b := newLogBuffer(1)
	if b == nil {
		t.Fatal("buffer allocation failed")
	}
	defer b.free()

	addrs := []uint64{0x10008, 0x10040, 0x0fff8}
	for _, a := range addrs {
		b.emitObj(a)
	}

	data := b.data
	for _, want := range addrs {
		diff, n, err := Sleb128(data)
		if err != nil {
			t.Fatal(err)
		}
		data = data[n:]
		if got := (b.objBase + uint64(diff)) << 3; got != want {
			t.Fatalf("reconstructed 0x%x, want 0x%x", got, want)
		}
	}
}

func TestBufferMethodRunningDelta(t *testing.T) {
	b := newLogBuffer(1)
	if b == nil {
		t.Fatal("buffer allocation failed")
	}
	defer b.free()

	methods := []uint64{0x4000, 0x4040, 0x4000, 0x9000}
	for _, m := range methods {
		b.emitMethod(m)
	}

	data := b.data
	running := b.methodBase
	first := true
	for _, want := range methods {
		diff, n, err := Sleb128(data)
		if err != nil {
			t.Fatal(err)
		}
		data = data[n:]
		running += uint64(diff)
		if running != want {
			t.Fatalf("reconstructed 0x%x, want 0x%x", running, want)
		}
		if first && diff != 0 {
			t.Fatalf("first method delta = %d, want 0", diff)
		}
		first = false
	}
}

func TestBufferTimeDeltasNonNegative(t *testing.T) {
	b := newLogBuffer(1)
	if b == nil {
		t.Fatal("buffer allocation failed")
	}
	defer b.free()

	last := b.lastTime
	for i := 0; i < 10; i++ {
		now := nowNanos()
		b.emitTime(now)
		if now < last {
			t.Fatal("monotonic clock went backwards")
		}
		last = now
	}

	data := b.data
	for i := 0; i < 10; i++ {
		_, n, err := Uleb128(data)
		if err != nil {
			t.Fatal(err)
		}
		data = data[n:]
	}
	if len(data) != 0 {
		t.Fatalf("%d trailing bytes after time deltas", len(data))
	}
}

func TestBufferReentrancyGuard(t *testing.T) {
	b := newLogBuffer(1)
	if b == nil {
		t.Fatal("buffer allocation failed")
	}
	defer b.free()

	if !b.tryLock() {
		t.Fatal("first lock must succeed")
	}
	if b.tryLock() {
		t.Fatal("reentrant lock must fail")
	}
	b.unlock()
	if !b.tryLock() {
		t.Fatal("lock after unlock must succeed")
	}
}

func TestEnsureChainsAndCarriesCallDepth(t *testing.T) {
	p, err := New(Config{Output: discardSyncer{}})
	if err != nil {
		t.Fatal(err)
	}
	th := p.newThread(42)

	b := th.ensure(16)
	if b == nil {
		t.Fatal("ensure failed")
	}
	b.callDepth = 5
	// Exhaust the page so the next ensure must chain.
	b.data = b.mem[:cap(b.data)-8]

	nb := th.ensure(64)
	if nb == nil {
		t.Fatal("ensure failed")
	}
	if nb == b {
		t.Fatal("expected a fresh buffer")
	}
	if nb.next != b {
		t.Fatal("old buffer must be chained for in-order flush")
	}
	if nb.callDepth != 5 {
		t.Fatalf("call depth = %d, want 5", nb.callDepth)
	}
	freeChain(nb)
}

func TestEnsureOversizedEvent(t *testing.T) {
	p, err := New(Config{Output: discardSyncer{}})
	if err != nil {
		t.Fatal(err)
	}
	th := p.newThread(42)

	b := th.ensure(BufferSize + 1)
	if b == nil {
		t.Fatal("ensure failed")
	}
	if b.room() < BufferSize+1 {
		t.Fatalf("oversized event does not fit: room %d", b.room())
	}
	freeChain(b)
}

type discardSyncer struct{}

func (discardSyncer) Write(p []byte) (int, error) { return len(p), nil }
func (discardSyncer) Sync() error                 { return nil }
