// report_test.go: Aggregation and rendering tests
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package report_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilira/mlpd"
	"github.com/agilira/mlpd/decode"
	"github.com/agilira/mlpd/report"
)

type namer map[mlpd.MethodID]string

func (n namer) MethodName(m mlpd.MethodID) string { return n[m] }

type sizer map[mlpd.ObjectID]uint64

func (s sizer) SizeOf(obj mlpd.ObjectID) uint64 { return s[obj] }

func analyze(t *testing.T, cfg mlpd.Config, body func(p *mlpd.Profiler), opts report.Options) *report.Profile {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	p, err := mlpd.New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	body(p)
	require.NoError(t, p.Close())

	d, err := decode.NewDecoder(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	profile, err := report.Analyze(d, opts)
	require.NoError(t, err)
	return profile
}

func render(t *testing.T, p *report.Profile, reports string) string {
	t.Helper()
	var out strings.Builder
	require.NoError(t, p.Write(&out, reports))
	return out.String()
}

func TestGCReportCountsCollections(t *testing.T) {
	profile := analyze(t, mlpd.Config{}, func(p *mlpd.Profiler) {
		th := p.AttachThread(1)
		th.OnGCEvent(mlpd.GCEventStart, 0)
		th.OnGCEvent(mlpd.GCEventEnd, 0)
		th.Detach()
	}, report.Options{})

	out := render(t, profile, "gc")
	assert.Contains(t, out, "Gen0 collections: 1")
}

func TestAllocReportSortsAndSums(t *testing.T) {
	const (
		classA mlpd.ClassID  = 0x100
		classB mlpd.ClassID  = 0x110
		objA   mlpd.ObjectID = 0x1000
		objB   mlpd.ObjectID = 0x2000
		objC   mlpd.ObjectID = 0x3000
	)

	profile := analyze(t, mlpd.Config{
		ObjectSizer: sizer{objA: 64, objB: 64, objC: 512},
	}, func(p *mlpd.Profiler) {
		th := p.AttachThread(1)
		th.OnClassLoaded(classA, 1, "Small")
		th.OnClassLoaded(classB, 1, "Big")
		th.OnAlloc(objA, classA)
		th.OnAlloc(objB, classA)
		th.OnAlloc(objC, classB)
		th.Detach()
	}, report.Options{AllocSort: "bytes"})

	out := render(t, profile, "alloc")
	assert.Contains(t, out, "Small")
	assert.Contains(t, out, "Big")
	assert.Contains(t, out, "Total: 640 bytes in 3 objects")
	// bytes sort puts Big (512) before Small (128)
	assert.Less(t, strings.Index(out, "Big"), strings.Index(out, "Small"))
}

func TestCallReportTotalSortListsOuterFirst(t *testing.T) {
	const (
		outer mlpd.MethodID = 0x10
		inner mlpd.MethodID = 0x20
	)

	profile := analyze(t, mlpd.Config{
		MethodNamer: namer{outer: "Outer", inner: "Inner"},
	}, func(p *mlpd.Profiler) {
		th := p.AttachThread(1)
		th.OnMethodEnter(outer)
		time.Sleep(2 * time.Millisecond)
		th.OnMethodEnter(inner)
		time.Sleep(2 * time.Millisecond)
		th.OnMethodLeave(inner)
		time.Sleep(2 * time.Millisecond)
		th.OnMethodLeave(outer)
		th.Detach()
	}, report.Options{MethodSort: "total"})

	out := render(t, profile, "call")
	assert.Contains(t, out, "Outer")
	assert.Contains(t, out, "Inner")
	// Outer's total time covers Inner's, so total sort lists Outer first.
	assert.Less(t, strings.Index(out, "Outer"), strings.Index(out, "Inner"))
}

func TestSampleReportUnresolvedBucket(t *testing.T) {
	profile := analyze(t, mlpd.Config{
		Sampling: true,
	}, func(p *mlpd.Profiler) {
		for i := 0; i < 100; i++ {
			p.OnSampleHit(1, 0xDEAD, 0)
		}
	}, report.Options{})

	out := render(t, profile, "sample")
	assert.Contains(t, out, "unresolved")
	assert.Contains(t, out, "100")
}

func TestMonitorReportWaitTimes(t *testing.T) {
	const lock mlpd.ObjectID = 0x5000

	profile := analyze(t, mlpd.Config{}, func(p *mlpd.Profiler) {
		th := p.AttachThread(1)
		th.OnMonitorEvent(lock, mlpd.MonitorContention)
		th.OnMonitorEvent(lock, mlpd.MonitorDone)
		th.Detach()
	}, report.Options{})

	out := render(t, profile, "monitor")
	assert.Contains(t, out, "Lock contentions: 1")
	assert.Contains(t, out, "Lock acquired: 1")
	assert.Regexp(t, `Lock object 0x5000: 1 contentions, [0-9.]+ms total wait, [0-9.]+ms max wait`, out)
}

func TestHeapShotReport(t *testing.T) {
	const (
		classNode mlpd.ClassID  = 0x300
		objA      mlpd.ObjectID = 0x10000
		objB      mlpd.ObjectID = 0x10040
	)

	profile := analyze(t, mlpd.Config{
		DoHeapShot: true,
		HeapWalker: cycleWalker{a: objA, b: objB, class: classNode},
	}, func(p *mlpd.Profiler) {
		th := p.AttachThread(1)
		th.OnClassLoaded(classNode, 1, "Node")
		th.OnGCEvent(mlpd.GCEventStart, 2)
		th.OnGCRoots([]mlpd.ObjectID{objA}, []int{mlpd.RootStack}, []uint64{0})
		th.OnGCEvent(mlpd.GCEventPreStartWorld, 2)
		th.OnGCEvent(mlpd.GCEventPostStartWorld, 2)
		th.Detach()
	}, report.Options{})

	out := render(t, profile, "heapshot")
	assert.Contains(t, out, "object count: 2")
	assert.Contains(t, out, "roots: 1")
	assert.Contains(t, out, "Node")
}

type cycleWalker struct {
	a, b  mlpd.ObjectID
	class mlpd.ClassID
}

func (w cycleWalker) WalkHeap(visit func(mlpd.ObjectID, mlpd.ClassID, uint64, []uint64, []mlpd.ObjectID)) {
	visit(w.a, w.class, 32, []uint64{16}, []mlpd.ObjectID{w.b})
	visit(w.b, w.class, 32, []uint64{16}, []mlpd.ObjectID{w.a})
}

func TestThreadReportNames(t *testing.T) {
	profile := analyze(t, mlpd.Config{}, func(p *mlpd.Profiler) {
		th := p.AttachThread(0x42)
		th.OnThreadName("worker-1")
		th.Detach()
	}, report.Options{})

	out := render(t, profile, "thread")
	assert.Contains(t, out, "0x42")
	assert.Contains(t, out, "worker-1")
}

func TestUnknownReportRejected(t *testing.T) {
	profile := analyze(t, mlpd.Config{}, func(p *mlpd.Profiler) {}, report.Options{})
	var out strings.Builder
	assert.Error(t, profile.Write(&out, "bogus"))
}
