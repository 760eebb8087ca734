// decode_test.go: End-to-end encode/decode round trips
//
// These tests drive the writer pipeline against an in-memory sink, then
// decode the produced bytes and check the reconstructed stream.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package decode_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilira/mlpd"
	"github.com/agilira/mlpd/decode"
)

// Host collaborator fakes.

type testNamer map[mlpd.MethodID]string

func (n testNamer) MethodName(m mlpd.MethodID) string { return n[m] }

type testSizer map[mlpd.ObjectID]uint64

func (s testSizer) SizeOf(obj mlpd.ObjectID) uint64 { return s[obj] }

type testResolver struct {
	method mlpd.MethodID
	ji     mlpd.JitInfo
}

func (r testResolver) Lookup(addr uint64) (mlpd.MethodID, mlpd.JitInfo, bool) {
	if addr >= r.ji.CodeStart && addr < r.ji.CodeStart+uint64(r.ji.CodeSize) {
		return r.method, r.ji, true
	}
	return 0, mlpd.JitInfo{}, false
}

type testAsyncWalker struct{}

func (testAsyncWalker) WalkContext(ctx uintptr, frames []mlpd.AsyncFrame) int {
	frames[0] = mlpd.AsyncFrame{BaseAddress: uint64(ctx), NativeOffset: 0x10}
	return 1
}

type testHeapWalker struct {
	objects []heapObj
}

type heapObj struct {
	obj   mlpd.ObjectID
	class mlpd.ClassID
	size  uint64
	refs  []mlpd.ObjectID
}

func (hw testHeapWalker) WalkHeap(visit func(mlpd.ObjectID, mlpd.ClassID, uint64, []uint64, []mlpd.ObjectID)) {
	for _, o := range hw.objects {
		offsets := make([]uint64, len(o.refs))
		for i := range offsets {
			offsets[i] = uint64(16 + 8*i)
		}
		visit(o.obj, o.class, o.size, offsets, o.refs)
	}
}

// record runs body against a live profiler and returns the trace bytes.
func record(t *testing.T, cfg mlpd.Config, body func(p *mlpd.Profiler)) []byte {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	p, err := mlpd.New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	body(p)
	require.NoError(t, p.Close())
	return buf.Bytes()
}

// drain decodes every event in the stream.
func drain(t *testing.T, data []byte) (*decode.Decoder, []decode.Event) {
	t.Helper()
	d, err := decode.NewDecoder(bytes.NewReader(data))
	require.NoError(t, err)
	var events []decode.Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return d, events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestEmptyTraceDecodesToNothing(t *testing.T) {
	data := record(t, mlpd.Config{}, func(p *mlpd.Profiler) {})

	d, events := drain(t, data)
	assert.Equal(t, mlpd.LogDataVersion, d.Header().DataVersion)
	assert.Empty(t, events)
}

func TestBadMagicIsFatal(t *testing.T) {
	_, err := decode.NewDecoder(bytes.NewReader([]byte("definitely not a trace header....")))
	require.Error(t, err)
}

func TestEnterLeaveRoundTrip(t *testing.T) {
	const methodA mlpd.MethodID = 0xA000

	data := record(t, mlpd.Config{
		MethodNamer: testNamer{methodA: "Program:Main ()"},
	}, func(p *mlpd.Profiler) {
		th := p.AttachThread(17)
		th.OnMethodEnter(methodA)
		th.OnMethodLeave(methodA)
		th.Detach()
	})

	_, events := drain(t, data)

	jitIdx, enterIdx, leaveIdx := -1, -1, -1
	for i, ev := range events {
		switch e := ev.(type) {
		case *decode.JitEvent:
			if e.Method.Name == "Program:Main ()" && jitIdx < 0 {
				jitIdx = i
			}
		case *decode.MethodEvent:
			require.EqualValues(t, 17, e.ThreadID())
			if e.Op == decode.MethodEnter && enterIdx < 0 {
				enterIdx = i
			}
			if e.Op == decode.MethodLeave && leaveIdx < 0 {
				leaveIdx = i
			}
		}
	}

	require.GreaterOrEqual(t, jitIdx, 0, "JIT record missing")
	require.GreaterOrEqual(t, enterIdx, 0, "enter missing")
	require.GreaterOrEqual(t, leaveIdx, 0, "leave missing")

	// Registry precedence: the JIT record precedes every reference.
	assert.Less(t, jitIdx, enterIdx)
	assert.Less(t, enterIdx, leaveIdx)

	enter := events[enterIdx].(*decode.MethodEvent)
	leave := events[leaveIdx].(*decode.MethodEvent)
	assert.Same(t, enter.Method, leave.Method)
	assert.Equal(t, "Program:Main ()", enter.Method.Name)
	assert.GreaterOrEqual(t, leave.Time(), enter.Time(), "self time must be non-negative")
	assert.Equal(t, 1, enter.Depth)
	assert.Equal(t, 0, leave.Depth)
}

func TestAllocResolvesClassAndAlignsSize(t *testing.T) {
	const (
		classInt mlpd.ClassID  = 0x100
		image    mlpd.ImageID  = 0x200
		obj      mlpd.ObjectID = 0x1000
	)

	data := record(t, mlpd.Config{
		ObjectSizer: testSizer{obj: 12},
	}, func(p *mlpd.Profiler) {
		th := p.AttachThread(1)
		th.OnClassLoaded(classInt, image, "System.Int32")
		th.OnAlloc(obj, classInt)
		th.Detach()
	})

	_, events := drain(t, data)

	var alloc *decode.AllocEvent
	for _, ev := range events {
		if a, ok := ev.(*decode.AllocEvent); ok {
			alloc = a
		}
	}
	require.NotNil(t, alloc)
	assert.Equal(t, "System.Int32", alloc.Class.Name)
	assert.EqualValues(t, 16, alloc.Size, "size must round up to a multiple of 8")
	assert.EqualValues(t, uint64(obj), alloc.Obj)
}

func TestGCEventPair(t *testing.T) {
	data := record(t, mlpd.Config{}, func(p *mlpd.Profiler) {
		th := p.AttachThread(1)
		th.OnGCEvent(mlpd.GCEventStart, 0)
		th.OnGCEvent(mlpd.GCEventEnd, 0)
		th.Detach()
	})

	_, events := drain(t, data)

	var gcs []*decode.GCEvent
	for _, ev := range events {
		if g, ok := ev.(*decode.GCEvent); ok {
			gcs = append(gcs, g)
		}
	}
	require.Len(t, gcs, 2)
	assert.Equal(t, mlpd.GCEventStart, gcs[0].Event)
	assert.Equal(t, mlpd.GCEventEnd, gcs[1].Event)
	assert.Equal(t, 0, gcs[0].Generation)
	assert.GreaterOrEqual(t, gcs[1].Time(), gcs[0].Time())
}

func TestSampleFlood(t *testing.T) {
	const n = 10000

	data := record(t, mlpd.Config{
		Sampling: true,
	}, func(p *mlpd.Profiler) {
		for i := 0; i < n; i++ {
			p.OnSampleHit(5, 0xDEAD, 0)
		}
	})

	_, events := drain(t, data)

	hits := 0
	for _, ev := range events {
		if sh, ok := ev.(*decode.SampleHitEvent); ok {
			hits++
			assert.Equal(t, []uint64{0xDEAD}, sh.IPs)
			assert.EqualValues(t, 5, sh.SampleTid)
		}
	}
	assert.Equal(t, n, hits)
}

func TestHeapShotCycleAndRoot(t *testing.T) {
	const (
		classNode mlpd.ClassID  = 0x300
		objA      mlpd.ObjectID = 0x10000
		objB      mlpd.ObjectID = 0x10040
	)

	data := record(t, mlpd.Config{
		DoHeapShot: true,
		HeapWalker: testHeapWalker{objects: []heapObj{
			{obj: objA, class: classNode, size: 32, refs: []mlpd.ObjectID{objB}},
			{obj: objB, class: classNode, size: 32, refs: []mlpd.ObjectID{objA}},
		}},
	}, func(p *mlpd.Profiler) {
		th := p.AttachThread(1)
		th.OnClassLoaded(classNode, 0x200, "Node")
		th.OnGCEvent(mlpd.GCEventStart, 2)
		th.OnGCRoots([]mlpd.ObjectID{objA}, []int{mlpd.RootStack}, []uint64{0})
		th.OnGCEvent(mlpd.GCEventPreStartWorld, 2)
		th.OnGCEvent(mlpd.GCEventPostStartWorld, 2)
		th.Detach()
	})

	_, events := drain(t, data)

	var (
		sawStart, sawEnd bool
		objects          []*decode.HeapObjectEvent
		roots            *decode.HeapRootsEvent
	)
	for _, ev := range events {
		switch e := ev.(type) {
		case *decode.HeapStartEvent:
			sawStart = true
		case *decode.HeapEndEvent:
			sawEnd = true
		case *decode.HeapObjectEvent:
			objects = append(objects, e)
		case *decode.HeapRootsEvent:
			roots = e
		}
	}

	assert.True(t, sawStart)
	assert.True(t, sawEnd)
	require.Len(t, objects, 2)
	require.NotNil(t, roots)

	graph := map[uint64][]uint64{}
	for _, obj := range objects {
		assert.Equal(t, "Node", obj.Class.Name)
		assert.EqualValues(t, 32, obj.Size)
		graph[obj.Obj] = obj.Refs
	}
	if diff := cmp.Diff(map[uint64][]uint64{
		uint64(objA): {uint64(objB)},
		uint64(objB): {uint64(objA)},
	}, graph); diff != "" {
		t.Fatalf("heap graph mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, roots.Roots, 1)
	assert.EqualValues(t, uint64(objA), roots.Roots[0].Obj)
	assert.Equal(t, mlpd.RootStack, roots.Roots[0].Kind)

	// Heap-shot closure: every root has an object record with size > 0.
	rootObj, ok := graph[roots.Roots[0].Obj]
	assert.True(t, ok)
	assert.NotNil(t, rootObj)
}

func TestSampleAttributionToJittedCode(t *testing.T) {
	const foo mlpd.MethodID = 0xF00
	ji := mlpd.JitInfo{CodeStart: 0x4000, CodeSize: 0x100}

	data := record(t, mlpd.Config{
		Sampling:         true,
		MethodNamer:      testNamer{foo: "foo"},
		JITResolver:      testResolver{method: foo, ji: ji},
		AsyncStackWalker: testAsyncWalker{},
	}, func(p *mlpd.Profiler) {
		th := p.AttachThread(3)
		th.OnMethodJitted(foo, ji, 0)
		p.OnSampleHit(3, 0x4050, 0x4050)
		th.Detach()
	})

	_, events := drain(t, data)

	jitIdx, hitIdx := -1, -1
	var hit *decode.SampleHitEvent
	for i, ev := range events {
		switch e := ev.(type) {
		case *decode.JitEvent:
			if e.Method.Name == "foo" && jitIdx < 0 {
				jitIdx = i
			}
		case *decode.SampleHitEvent:
			hitIdx = i
			hit = e
		}
	}

	require.GreaterOrEqual(t, jitIdx, 0)
	require.GreaterOrEqual(t, hitIdx, 0)
	assert.Less(t, jitIdx, hitIdx, "JIT record must precede the referencing sample")

	require.NotEmpty(t, hit.Frames, "managed frame count must be >= 1")
	assert.Equal(t, "foo", hit.Frames[0].Method.Name)
}

func TestCallDepthGateKeepsStreamBalanced(t *testing.T) {
	const depth = 10
	methods := make([]mlpd.MethodID, depth)
	for i := range methods {
		methods[i] = mlpd.MethodID(0x1000 + 0x40*i)
	}

	// Nest well past the gate: frames beyond MaxCallDepth must move the
	// depth counter without emitting, so the suppression is symmetric.
	data := record(t, mlpd.Config{
		MaxCallDepth: 3,
	}, func(p *mlpd.Profiler) {
		th := p.AttachThread(11)
		for _, m := range methods {
			th.OnMethodEnter(m)
		}
		for i := len(methods) - 1; i >= 0; i-- {
			th.OnMethodLeave(methods[i])
		}
		th.Detach()
	})

	d, events := drain(t, data)

	enters, leaves := 0, 0
	stack := 0
	for _, ev := range events {
		me, ok := ev.(*decode.MethodEvent)
		if !ok {
			continue
		}
		switch me.Op {
		case decode.MethodEnter:
			enters++
			stack++
		case decode.MethodLeave, decode.MethodExcLeave:
			leaves++
			stack--
			require.GreaterOrEqual(t, stack, 0, "leave without a matching enter")
		}
	}

	assert.Equal(t, enters, leaves, "every emitted enter needs a matching leave")
	assert.Equal(t, 0, stack)
	// MaxCallDepth=3 admits the frames entered at depths 0..3.
	assert.Equal(t, 4, enters)

	for _, diag := range d.Diagnostics() {
		assert.NotContains(t, diag, "unbalanced leave",
			"gated stream must not break stack tracking")
	}
}

func TestMonotoneTimePerThread(t *testing.T) {
	const m mlpd.MethodID = 0x111

	data := record(t, mlpd.Config{}, func(p *mlpd.Profiler) {
		th := p.AttachThread(9)
		for i := 0; i < 200; i++ {
			th.OnMethodEnter(m)
			th.OnMethodLeave(m)
		}
		th.Detach()
	})

	_, events := drain(t, data)

	last := uint64(0)
	for _, ev := range events {
		if me, ok := ev.(*decode.MethodEvent); ok {
			require.GreaterOrEqual(t, me.Time(), last)
			last = me.Time()
		}
	}
}

func TestGzipWrappedStream(t *testing.T) {
	var buf bytes.Buffer
	p, err := mlpd.New(mlpd.Config{Output: &buf, UseZip: true})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	th := p.AttachThread(1)
	th.OnGCEvent(mlpd.GCEventStart, 0)
	th.OnGCEvent(mlpd.GCEventEnd, 0)
	th.Detach()
	require.NoError(t, p.Close())

	// The whole stream, header included, is gzip-wrapped.
	raw := buf.Bytes()
	require.True(t, len(raw) > 2 && raw[0] == 0x1f && raw[1] == 0x8b)

	_, events := drain(t, raw)
	found := false
	for _, ev := range events {
		if _, ok := ev.(*decode.GCEvent); ok {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMalformedBufferIsRecoverable(t *testing.T) {
	const m mlpd.MethodID = 0x222

	data := record(t, mlpd.Config{}, func(p *mlpd.Profiler) {
		th := p.AttachThread(1)
		th.OnMethodEnter(m)
		th.OnMethodLeave(m)
		th.Detach()
	})

	// Corrupt one payload byte past the first buffer's header with an
	// impossible tag; the decoder must diagnose and keep going.
	corrupted := append([]byte(nil), data...)
	corrupted[mlpd.FileHeaderSize+mlpd.BufHeaderSize] = 0x0c

	d, err := decode.NewDecoder(bytes.NewReader(corrupted))
	require.NoError(t, err)
	for {
		if _, err := d.Next(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("malformed buffer must not be fatal: %v", err)
		}
	}
	assert.NotEmpty(t, d.Diagnostics())
}
