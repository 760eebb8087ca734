// config.go: Profiler configuration
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"io"
	"time"

	"github.com/agilira/mlpd/internal/ringq"
)

// Sample kinds recorded in TYPE_SAMPLE_HIT events.
const (
	SampleCycles       = 0
	SampleInstructions = 1
	SampleCacheMisses  = 2
	SampleCacheRefs    = 3
	SampleBranches     = 4
	SampleBranchMisses = 5
)

// Config holds the profiler configuration.
type Config struct {
	// Output is the trace sink. When nil, Filename is opened instead.
	Output io.Writer

	// Filename is the trace destination when Output is nil. Supports %t
	// (UTC timestamp) and %p (pid) expansion; "-" means stdout and a
	// leading "|" pipes into a command.
	Filename string

	// UseZip wraps the sink in a gzip stream. The file header is inside
	// the compressed stream; readers sniff the gzip magic.
	UseZip bool

	// MaxCallDepth gates enter/leave recording. Deeper frames keep the
	// depth counter balanced but emit nothing.
	MaxCallDepth int32

	// MaxFrames bounds captured backtraces. Capped at 128.
	MaxFrames int

	// NoCalls disables enter/leave recording entirely. When set (and
	// traces are enabled) allocation, exception, monitor and gc-handle
	// events carry backtraces instead.
	NoCalls bool

	// NoTraces disables backtrace capture everywhere.
	NoTraces bool

	// Heap-shot scheduling. Zero values fall back to "on every major
	// collection" unless HeapShotOnDemand is set.
	HeapShotEveryMS uint
	HeapShotEveryGC uint
	HeapShotOnDemand bool

	// DoHeapShot enables the heap walker.
	DoHeapShot bool

	// Sampling enables the statistical sample pipeline; SampleKind tags
	// every hit.
	Sampling   bool
	SampleKind int

	// Counters enables periodic counter snapshots from the helper
	// goroutine.
	Counters bool

	// Coverage enables statement coverage collection; CoverageFilters are
	// +include/-exclude glob patterns over assembly and class names.
	Coverage        bool
	CoverageFilters []string

	// CommandPort, when non-zero, makes the helper goroutine listen for
	// commands ("heapshot\n") on localhost. The bound port lands in the
	// file header.
	CommandPort int

	// QueueCapacity sizes the writer queue (power of two).
	QueueCapacity int64

	// IdleStrategy controls the writer goroutine when the queue is empty.
	IdleStrategy ringq.IdleStrategy

	// Host collaborators. StackWalker is required for backtraces,
	// AsyncStackWalker for sampling, HeapWalker for heap shots.
	StackWalker      StackWalker
	AsyncStackWalker AsyncStackWalker
	ObjectSizer      ObjectSizer
	JITResolver      JITResolver
	Symbolizer       Symbolizer
	HeapWalker       HeapWalker
	MethodNamer      MethodNamer
	CoverageProvider CoverageProvider
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.Filename == "" && c.Output == nil {
		c.Filename = "output.mlpd"
	}
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = 100
	}
	if c.MaxFrames <= 0 {
		c.MaxFrames = 32
	}
	if c.MaxFrames > 128 {
		c.MaxFrames = 128
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.IdleStrategy == nil {
		c.IdleStrategy = ringq.NewChannelIdleStrategy(100 * time.Millisecond)
	}
	return c
}

// needHelper reports whether the configuration requires the helper
// goroutine.
func (c Config) needHelper() bool {
	return c.Sampling || c.Counters || c.CommandPort != 0 || c.HeapShotOnDemand
}
