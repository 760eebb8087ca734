// profiler.go: MLPD profiler core
//
// The profiler owns the writer queue, the method registry, the optional
// sample ring and the helper goroutine. Producer threads interact with it
// only through their *Thread handles and the lock-free queue; the single
// writer goroutine owns the sink.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"
	"github.com/agilira/mlpd/internal/ringq"
)

// pendingMethod is one method a producer referenced before its JIT record
// was known to be in the stream.
type pendingMethod struct {
	method MethodID
	ji     JitInfo
	hasJI  bool
	time   uint64
}

// queueEntry is one unit of writer work: a sealed buffer chain plus the
// methods its events may reference.
type queueEntry struct {
	methods []pendingMethod
	buffer  *LogBuffer
}

// GCTrigger lets the profiler request a collection from the host, used by
// on-demand heap shots.
type GCTrigger interface {
	Collect(generation int)
}

// Profiler is the in-process trace recorder.
type Profiler struct {
	cfg Config

	sink  WriteSyncer
	queue *ringq.Ring[queueEntry]

	registry *methodRegistry
	samples  *sampleRing
	counters *counterRegistry
	coverage *coverageState

	gcTrigger GCTrigger

	mu      sync.Mutex
	threads map[uint64]*Thread

	// internal is the profiler's own thread handle, used by the helper
	// goroutine and the shutdown path to emit events of their own.
	internal *Thread

	runtimeInited atomic.Bool
	inShutdown    atomic.Bool
	heapshotReq   atomic.Bool
	started       atomic.Bool
	closed        atomic.Bool
	writerFailed  atomic.Bool

	startupTime uint64

	gcCount    atomic.Uint32
	lastHSTime atomic.Uint64

	commandPort int

	// codePages tracks 512-byte unmanaged code pages touched by sample
	// ips. Helper-goroutine only.
	codePages map[uint64]bool

	writerDone chan struct{}
	helper     *helperState
}

// New creates a profiler. The sink is opened immediately; nothing is written
// until Start.
func New(cfg Config) (*Profiler, error) {
	cfg = cfg.withDefaults()

	sink, err := openSink(cfg)
	if err != nil {
		return nil, err
	}

	p := &Profiler{
		cfg:         cfg,
		sink:        sink,
		registry:    newMethodRegistry(),
		threads:     make(map[uint64]*Thread),
		startupTime: nowNanos(),
		writerDone:  make(chan struct{}),
	}

	p.queue, err = ringq.NewBuilder[queueEntry](cfg.QueueCapacity).
		WithProcessor(p.processEntry).
		WithBackpressurePolicy(ringq.BlockOnFull).
		WithIdleStrategy(cfg.IdleStrategy).
		Build()
	if err != nil {
		_ = closeSink(sink)
		return nil, errors.Wrap(err, ErrCodeQueueCreation, "failed to create writer queue")
	}

	if cfg.Sampling {
		p.samples = newSampleRing()
	}
	if cfg.Counters {
		p.counters = newCounterRegistry()
	}
	if cfg.Coverage {
		p.coverage, err = newCoverageState(cfg.CoverageFilters)
		if err != nil {
			_ = closeSink(sink)
			return nil, err
		}
	}

	p.internal = p.newThread(0)
	return p, nil
}

// SetGCTrigger installs the host's collection trigger for on-demand heap
// shots. Must be called before Start.
func (p *Profiler) SetGCTrigger(t GCTrigger) {
	p.gcTrigger = t
}

// Start launches the writer goroutine (which emits the file header) and, if
// needed, the helper goroutine. Events recorded before Start accumulate in
// their thread buffers and flush at the first safe point afterwards.
func (p *Profiler) Start() error {
	if p.closed.Load() {
		return errors.New(ErrCodeProfilerClosed, "profiler already closed")
	}
	if !p.started.CompareAndSwap(false, true) {
		return errors.New(ErrCodeAlreadyStarted, "profiler already started")
	}

	if p.cfg.needHelper() {
		h, err := startHelper(p)
		if err != nil {
			// A dead command port is not fatal; sampling and counters
			// still need the helper, so it runs on without a listener.
			handleError(errors.Wrap(err, ErrCodeCommandPort, "command port unavailable"))
			p.cfg.CommandPort = 0
			h, err = startHelper(p)
		}
		if err == nil {
			p.helper = h
			p.commandPort = h.port
		}
	}

	go p.runWriter()

	p.runtimeInited.Store(true)
	return nil
}

// AttachThread registers a runtime thread and returns its probe handle. The
// host must call every probe for a given thread through its own handle.
func (p *Profiler) AttachThread(tid uint64) *Thread {
	t := p.newThread(tid)

	p.mu.Lock()
	p.threads[tid] = t
	p.mu.Unlock()

	t.threadStart()
	return t
}

func (p *Profiler) newThread(tid uint64) *Thread {
	return &Thread{
		prof:   p,
		tid:    tid,
		frames: make([]MethodID, p.cfg.MaxFrames),
	}
}

// RequestHeapShot asks for a heap shot at the next eligible collection. In
// on-demand mode a collection is also triggered if the host wired one.
func (p *Profiler) RequestHeapShot() {
	p.heapshotReq.Store(true)
	if p.cfg.HeapShotOnDemand && p.gcTrigger != nil && p.runtimeInited.Load() {
		p.gcTrigger.Collect(maxGeneration)
	}
}

// OnSampleHit is the statistical sampling probe. It may be called from a
// sampling interrupt: the fast path is a CAS bump into the sample ring, no
// locks, no allocation.
func (p *Profiler) OnSampleHit(tid uint64, ip uint64, ctx uintptr) {
	if p.samples == nil || p.inShutdown.Load() {
		return
	}

	// Fixed-size scratch keeps the hot path allocation-free.
	var scratch [128]AsyncFrame
	var frames []AsyncFrame
	if walker := p.cfg.AsyncStackWalker; walker != nil {
		n := walker.WalkContext(ctx, scratch[:p.cfg.MaxFrames])
		frames = scratch[:n]
	}

	elapsed := (nowNanos() - p.startupTime) / 10000
	p.samples.push(p.cfg.SampleKind, tid, elapsed, ip, frames)
}

// Close runs the drain-and-exit protocol: helper shutdown (draining the
// sample ring), final counter and coverage dumps, a last flush of every
// thread buffer, then writer drain and sink close.
func (p *Profiler) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.inShutdown.Store(true)

	// Stop the helper first: it shares the internal thread handle the
	// final counter and coverage dumps use.
	if p.helper != nil {
		p.helper.stop()
	}
	if p.samples != nil {
		drainSamples(p, p.internal)
	}

	if p.counters != nil {
		p.counters.sample(p.internal)
	}
	if p.coverage != nil {
		p.coverage.dump(p.internal)
	}

	p.mu.Lock()
	threads := make([]*Thread, 0, len(p.threads)+1)
	for _, t := range p.threads {
		threads = append(threads, t)
	}
	p.threads = make(map[uint64]*Thread)
	p.mu.Unlock()

	for _, t := range threads {
		t.flushFinal()
	}
	p.internal.flushFinal()

	var err error
	if p.started.Load() {
		if ferr := p.queue.Flush(); ferr != nil {
			err = errors.Wrap(ferr, ErrCodeWriteFailed, "writer queue drain timed out")
		}
		p.queue.Close()
		<-p.writerDone
	}

	if cerr := closeSink(p.sink); cerr != nil && err == nil {
		err = errors.Wrap(cerr, ErrCodeSyncFailed, "closing trace sink")
	}
	return err
}

// enqueue hands a sealed buffer chain to the writer. Called at safe points
// only.
func (p *Profiler) enqueue(methods []pendingMethod, buffer *LogBuffer) {
	if buffer == nil {
		return
	}
	if p.writerFailed.Load() || !p.started.Load() && p.closed.Load() {
		freeChain(buffer)
		return
	}
	p.queue.Write(func(e *queueEntry) {
		e.methods = methods
		e.buffer = buffer
	})
}

func freeChain(buf *LogBuffer) {
	for buf != nil {
		next := buf.next
		buf.free()
		buf = next
	}
}

// maxGeneration is the host's oldest collected generation.
const maxGeneration = 2
