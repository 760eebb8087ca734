// report.go: Aggregation of decoded trace events
//
// Analyze drains a decoder and builds the aggregate model the text reports
// are rendered from: per-class allocation stats, per-method call stats with
// self-time attribution, GC pause and handle stats, monitor contention,
// exception summaries, statistical-sample attribution and heap shots.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package report

import (
	"io"
	"sort"
	"strings"

	"github.com/agilira/mlpd"
	"github.com/agilira/mlpd/decode"
)

// Options filters and shapes the analysis.
type Options struct {
	Traces     bool
	MaxFrames  int
	MethodSort string // total, self, calls
	AllocSort  string // bytes, count
	TrackAddrs []uint64
	FindSize   uint64
	FindName   string
	ThreadID   uint64
	TimeFrom   float64 // seconds from trace start
	TimeTo     float64
	Verbose    bool
}

// AllReports is the default report set.
const AllReports = "header,jit,gc,sample,alloc,call,metadata,exception,monitor,thread,heapshot"

// ValidReport reports whether name is a known report section.
func ValidReport(name string) bool {
	for _, r := range strings.Split(AllReports, ",") {
		if r == name {
			return true
		}
	}
	return false
}

type allocStats struct {
	class *decode.ClassDesc
	count uint64
	bytes uint64
}

type methodStats struct {
	method *decode.MethodDesc
	calls  uint64
	total  uint64
	self   uint64
}

type stackFrame struct {
	method    *decode.MethodDesc
	enterTime uint64
	callee    uint64
}

type threadState struct {
	id    uint64
	name  string
	stack []stackFrame

	gcStart [3]uint64

	monitorObj      uint64
	contentionStart uint64

	heapShot *HeapShot
}

type gcGenStats struct {
	count     uint64
	totalTime uint64
	maxTime   uint64
}

type handleStats struct {
	created   uint64
	destroyed uint64
	live      int64
	maxLive   int64
}

type monitorStats struct {
	obj         uint64
	contentions uint64
	waitTime    uint64
	maxWaitTime uint64
}

// HeapObject is one object in a reconstructed heap shot.
type HeapObject struct {
	Addr  uint64
	Class *decode.ClassDesc
	Size  uint64
	Refs  []uint64
}

// HeapShot is one reconstructed shot.
type HeapShot struct {
	StartTime uint64
	EndTime   uint64
	Objects   map[uint64]*HeapObject
	Roots     map[uint64]int
}

type sampleStats struct {
	name  string
	count uint64
}

type trackedObject struct {
	addr  uint64
	lines []string
}

// Profile is the aggregate view of one trace.
type Profile struct {
	Header decode.Header
	opts   Options

	startNanos uint64
	endNanos   uint64

	classes map[*decode.ClassDesc]*allocStats
	methods map[*decode.MethodDesc]*methodStats
	threads map[uint64]*threadState

	jitted     []*decode.MethodDesc
	jitTotal   uint64
	codeTotal  uint64
	images     []string
	assemblies []string
	domains    int

	gcGens      [3]gcGenStats
	gcResizes   uint64
	maxHeapSize uint64
	objectMoves uint64
	handles     [mlpd.HandleTypeCount]handleStats

	throwCount    uint64
	clauseSummary map[int]uint64

	monitorContention uint64
	monitorFailed     uint64
	monitorAcquired   uint64
	monitors          map[uint64]*monitorStats

	samples          map[string]*sampleStats
	sampleTotal      uint64
	sampleUnresolved uint64
	usyms            []*decode.USymEvent

	heapShots []*HeapShot

	tracked map[uint64]*trackedObject
	found   []uint64

	Diagnostics []string
}

// Analyze drains the decoder and aggregates everything the reports need.
func Analyze(d *decode.Decoder, opts Options) (*Profile, error) {
	p := &Profile{
		Header:        d.Header(),
		opts:          opts,
		classes:       make(map[*decode.ClassDesc]*allocStats),
		methods:       make(map[*decode.MethodDesc]*methodStats),
		threads:       make(map[uint64]*threadState),
		clauseSummary: make(map[int]uint64),
		monitors:      make(map[uint64]*monitorStats),
		samples:       make(map[string]*sampleStats),
		tracked:       make(map[uint64]*trackedObject),
	}
	for _, addr := range opts.TrackAddrs {
		p.tracked[addr] = &trackedObject{addr: addr}
	}

	pendingSamples := []*decode.SampleHitEvent{}

	for {
		ev, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if p.startNanos == 0 {
			p.startNanos = d.StartupNanos()
		}
		if t := ev.Time(); t > p.endNanos {
			p.endNanos = t
		}
		if sh, ok := ev.(*decode.SampleHitEvent); ok {
			// Samples resolve against jitted code ranges, which may be
			// announced later in the stream; attribute them at the end.
			pendingSamples = append(pendingSamples, sh)
			continue
		}
		p.consume(ev)
	}

	for _, sh := range pendingSamples {
		p.consumeSample(d, sh)
	}

	p.Diagnostics = d.Diagnostics()
	return p, nil
}

func (p *Profile) thread(id uint64) *threadState {
	if t, ok := p.threads[id]; ok {
		return t
	}
	t := &threadState{id: id}
	p.threads[id] = t
	return t
}

// inWindow applies the thread and time filters.
func (p *Profile) inWindow(ev decode.Event) bool {
	if p.opts.ThreadID != 0 && ev.ThreadID() != p.opts.ThreadID {
		return false
	}
	if p.opts.TimeTo > 0 {
		rel := float64(ev.Time()-p.startNanos) / 1e9
		if rel < p.opts.TimeFrom || rel >= p.opts.TimeTo {
			return false
		}
	}
	return true
}

func (p *Profile) consume(ev decode.Event) {
	t := p.thread(ev.ThreadID())

	switch e := ev.(type) {
	case *decode.AllocEvent:
		if !p.inWindow(ev) {
			return
		}
		st := p.classes[e.Class]
		if st == nil {
			st = &allocStats{class: e.Class}
			p.classes[e.Class] = st
		}
		st.count++
		st.bytes += e.Size
		p.checkFind(e)
		p.trackAlloc(e)

	case *decode.GCEvent:
		if e.Generation >= 0 && e.Generation < len(p.gcGens) {
			switch e.Event {
			case mlpd.GCEventStart:
				t.gcStart[e.Generation] = e.Time()
				p.gcGens[e.Generation].count++
			case mlpd.GCEventEnd:
				if start := t.gcStart[e.Generation]; start != 0 && e.Time() >= start {
					pause := e.Time() - start
					p.gcGens[e.Generation].totalTime += pause
					if pause > p.gcGens[e.Generation].maxTime {
						p.gcGens[e.Generation].maxTime = pause
					}
				}
			}
		}

	case *decode.GCResizeEvent:
		p.gcResizes++
		if e.NewSize > p.maxHeapSize {
			p.maxHeapSize = e.NewSize
		}

	case *decode.GCMoveEvent:
		p.objectMoves += uint64(len(e.Moves) / 2)
		for i := 0; i+1 < len(e.Moves); i += 2 {
			p.trackMove(e.Moves[i], e.Moves[i+1], e.Time())
		}

	case *decode.GCHandleEvent:
		if e.HandleType < 0 || e.HandleType >= mlpd.HandleTypeCount {
			return
		}
		h := &p.handles[e.HandleType]
		if e.Created {
			h.created++
			h.live++
			if h.live > h.maxLive {
				h.maxLive = h.live
			}
		} else {
			h.destroyed++
			h.live--
		}

	case *decode.MetadataEvent:
		switch e.MetadataKind {
		case mlpd.MetadataImage:
			if e.Op == decode.MetadataLoad {
				p.images = append(p.images, e.Name)
			}
		case mlpd.MetadataAssembly:
			if e.Op == decode.MetadataLoad {
				p.assemblies = append(p.assemblies, e.Name)
			}
		case mlpd.MetadataDomain:
			if e.Op == decode.MetadataLoad {
				p.domains++
			}
		case mlpd.MetadataThread:
			th := p.thread(e.Ptr)
			if e.Op == decode.MetadataName {
				th.name = e.Name
			}
		}

	case *decode.JitEvent:
		p.jitted = append(p.jitted, e.Method)
		p.jitTotal++
		p.codeTotal += e.Method.CodeSize

	case *decode.MethodEvent:
		p.consumeMethod(t, e)

	case *decode.ThrowEvent:
		if p.inWindow(ev) {
			p.throwCount++
		}

	case *decode.ClauseEvent:
		if p.inWindow(ev) {
			p.clauseSummary[e.ClauseType]++
		}

	case *decode.MonitorEvent:
		p.consumeMonitor(t, e)

	case *decode.HeapStartEvent:
		t.heapShot = &HeapShot{
			StartTime: e.Time(),
			Objects:   make(map[uint64]*HeapObject),
			Roots:     make(map[uint64]int),
		}

	case *decode.HeapObjectEvent:
		if t.heapShot == nil {
			return
		}
		if e.Size != 0 {
			t.heapShot.Objects[e.Obj] = &HeapObject{
				Addr:  e.Obj,
				Class: e.Class,
				Size:  e.Size,
				Refs:  append([]uint64(nil), e.Refs...),
			}
		} else if obj := t.heapShot.Objects[e.Obj]; obj != nil {
			// continuation record: aggregate additional references
			obj.Refs = append(obj.Refs, e.Refs...)
		}
		for _, ref := range e.Refs {
			p.trackRef(e.Obj, ref, e.Class)
		}

	case *decode.HeapRootsEvent:
		if t.heapShot == nil {
			return
		}
		for _, root := range e.Roots {
			t.heapShot.Roots[root.Obj] = root.Kind
		}

	case *decode.HeapEndEvent:
		if t.heapShot != nil {
			t.heapShot.EndTime = e.Time()
			p.heapShots = append(p.heapShots, t.heapShot)
			t.heapShot = nil
		}

	case *decode.USymEvent:
		p.usyms = append(p.usyms, e)
	}
}

func (p *Profile) consumeMethod(t *threadState, e *decode.MethodEvent) {
	record := p.opts.ThreadID == 0 || p.opts.ThreadID == t.id

	switch e.Op {
	case decode.MethodEnter:
		if record {
			p.methodStats(e.Method).calls++
		}
		t.stack = append(t.stack, stackFrame{method: e.Method, enterTime: e.Time()})
	case decode.MethodLeave, decode.MethodExcLeave:
		if len(t.stack) == 0 {
			return
		}
		frame := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]

		total := e.Time() - frame.enterTime
		self := total - frame.callee
		if frame.callee > total {
			self = 0
		}
		if record {
			st := p.methodStats(frame.method)
			st.total += total
			st.self += self
		}
		if len(t.stack) > 0 {
			t.stack[len(t.stack)-1].callee += total
		}
	}
}

func (p *Profile) methodStats(m *decode.MethodDesc) *methodStats {
	st := p.methods[m]
	if st == nil {
		st = &methodStats{method: m}
		p.methods[m] = st
	}
	return st
}

func (p *Profile) consumeMonitor(t *threadState, e *decode.MonitorEvent) {
	if !p.inWindow(e) {
		return
	}
	switch e.Op {
	case mlpd.MonitorContention:
		p.monitorContention++
		md := p.monitors[e.Obj]
		if md == nil {
			md = &monitorStats{obj: e.Obj}
			p.monitors[e.Obj] = md
		}
		md.contentions++
		t.monitorObj = e.Obj
		t.contentionStart = e.Time()
	case mlpd.MonitorDone, mlpd.MonitorFail:
		if e.Op == mlpd.MonitorDone {
			p.monitorAcquired++
		} else {
			p.monitorFailed++
		}
		if t.contentionStart != 0 {
			if md := p.monitors[t.monitorObj]; md != nil {
				wait := e.Time() - t.contentionStart
				md.waitTime += wait
				if wait > md.maxWaitTime {
					md.maxWaitTime = wait
				}
			}
			t.monitorObj = 0
			t.contentionStart = 0
		}
	}
}

// consumeSample attributes one sample: innermost managed frame if present,
// else the jitted code range covering the ip, else an unmanaged symbol, else
// the unresolved bucket.
func (p *Profile) consumeSample(d *decode.Decoder, e *decode.SampleHitEvent) {
	if p.opts.ThreadID != 0 && e.SampleTid != p.opts.ThreadID {
		return
	}
	p.sampleTotal++

	name := ""
	for _, f := range e.Frames {
		if f.Method != nil {
			name = f.Method.Name
			break
		}
	}
	if name == "" && len(e.IPs) > 0 {
		if m := d.LookupMethodByAddr(e.IPs[0]); m != nil {
			name = m.Name
		} else if sym := p.lookupUSym(e.IPs[0]); sym != "" {
			name = sym
		}
	}
	if name == "" {
		p.sampleUnresolved++
		return
	}

	st := p.samples[name]
	if st == nil {
		st = &sampleStats{name: name}
		p.samples[name] = st
	}
	st.count++
}

// lookupUSym finds the unmanaged symbol covering addr. Zero-size symbols
// cover up to the next symbol's address.
func (p *Profile) lookupUSym(addr uint64) string {
	if len(p.usyms) == 0 {
		return ""
	}
	sorted := append([]*decode.USymEvent(nil), p.usyms...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Addr < sorted[j].Addr })
	idx := sort.Search(len(sorted), func(i int) bool { return sorted[i].Addr > addr })
	if idx == 0 {
		return ""
	}
	sym := sorted[idx-1]
	if sym.Size > 0 && addr >= sym.Addr+sym.Size {
		return ""
	}
	return sym.Name
}

func (p *Profile) checkFind(e *decode.AllocEvent) {
	o := &p.opts
	if o.FindSize > 0 && e.Size >= o.FindSize {
		if o.FindName == "" || strings.Contains(e.Class.Name, o.FindName) {
			p.found = append(p.found, e.Obj)
		}
	} else if o.FindSize == 0 && o.FindName != "" && strings.Contains(e.Class.Name, o.FindName) {
		p.found = append(p.found, e.Obj)
	}
}
