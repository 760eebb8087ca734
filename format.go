// format.go: MLPD on-disk format constants
//
// The binary layout is shared between the in-process writer pipeline and the
// offline reader in decode/. Every numeric field outside the fixed file and
// buffer headers is LEB128 encoded; the fixed headers are little-endian.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

// File and buffer frame magic values. A trace file starts with one 32-byte
// file header, followed by any number of framed buffers.
const (
	LogHeaderID = 0x4D505A01
	BufID       = 0x4D504C01

	LogVersionMajor = 1
	LogVersionMinor = 0
	LogDataVersion  = 9

	// FileHeaderSize is the fixed little-endian file header:
	// id(4) major(1) minor(1) data(1) ptrsize(1) startup_ms(8)
	// timer_overhead(4) flags(4) pid(4) port(2) os(2)
	FileHeaderSize = 32

	// BufHeaderSize is the fixed little-endian buffer frame header:
	// id(4) len(4) time_base(8) ptr_base(8) obj_base(8) thread_id(8) method_base(8)
	BufHeaderSize = 48
)

// Event tags. The lower nibble of the tag byte selects the event family,
// the upper nibble carries the subtype or flag bits.
const (
	TypeAlloc     = 0
	TypeGC        = 1
	TypeMetadata  = 2
	TypeMethod    = 3
	TypeException = 4
	TypeMonitor   = 5
	TypeHeap      = 6
	TypeSample    = 7
	TypeRuntime   = 9
	TypeCoverage  = 10
	TypeEnd       = 11
)

// Extended type bits for TypeAlloc.
const (
	TypeAllocBT = 1 << 4
)

// Extended type bits for TypeGC.
const (
	TypeGCEvent           = 1 << 4
	TypeGCResize          = 2 << 4
	TypeGCMove            = 3 << 4
	TypeGCHandleCreated   = 4 << 4
	TypeGCHandleDestroyed = 5 << 4
	// The BT variants keep the subtype in bits 4-6 and set bit 7.
	TypeGCHandleCreatedBT   = TypeGCHandleCreated | 1<<7
	TypeGCHandleDestroyedBT = TypeGCHandleDestroyed | 1<<7
)

// Extended type bits for TypeMetadata. A plain TypeMetadata tag (no
// load/unload bit) carries a name record for the metadata kind.
const (
	TypeEndLoad   = 2 << 4
	TypeEndUnload = 4 << 4
	TypeLoadErr   = 1 << 7
)

// Metadata kinds, written as a second byte after the tag and time.
const (
	MetadataClass    = 1
	MetadataImage    = 2
	MetadataAssembly = 3
	MetadataDomain   = 4
	MetadataThread   = 5
	MetadataContext  = 6
)

// Extended type bits for TypeMethod.
const (
	TypeLeave    = 1 << 4
	TypeEnter    = 2 << 4
	TypeExcLeave = 3 << 4
	TypeJit      = 4 << 4
)

// Extended type bits for TypeException.
const (
	TypeThrow       = 0 << 4
	TypeClause      = 1 << 4
	TypeExceptionBT = 1 << 7
)

// TypeMonitor encodes the monitor operation in bits 4-5 and the backtrace
// flag in bit 7.
const (
	TypeMonitorBT = 1 << 7
)

// Monitor operations.
const (
	MonitorContention = 1
	MonitorDone       = 2
	MonitorFail       = 3
)

// Extended type bits for TypeHeap.
const (
	TypeHeapStart  = 0 << 4
	TypeHeapEnd    = 1 << 4
	TypeHeapObject = 2 << 4
	TypeHeapRoot   = 3 << 4
)

// Extended type bits for TypeSample.
const (
	TypeSampleHit          = 0 << 4
	TypeSampleUSym         = 1 << 4
	TypeSampleUBin         = 2 << 4
	TypeSampleCountersDesc = 3 << 4
	TypeSampleCounters     = 4 << 4
)

// Extended type bits for TypeRuntime.
const (
	TypeJitHelper = 1 << 4
)

// Extended type bits for TypeCoverage.
const (
	TypeCoverageStatement = 0 << 4
	TypeCoverageMethod    = 1 << 4
	TypeCoverageClass     = 2 << 4
	TypeCoverageAssembly  = 3 << 4
)

// GC event kinds, as delivered by the host's gc_event probe.
const (
	GCEventStart          = 0
	GCEventMarkStart      = 1
	GCEventMarkEnd        = 2
	GCEventReclaimStart   = 3
	GCEventReclaimEnd     = 4
	GCEventEnd            = 5
	GCEventPreStopWorld   = 6
	GCEventPostStopWorld  = 7
	GCEventPreStartWorld  = 8
	GCEventPostStartWorld = 9
)

// GC handle types and operations.
const (
	HandleWeak      = 0
	HandleWeakTrack = 1
	HandleNormal    = 2
	HandlePinned    = 3
	HandleTypeCount = 4

	HandleOpCreated   = 0
	HandleOpDestroyed = 1
)

// Heap root kinds reported by the gc_roots probe.
const (
	RootStack     = 1 << 0
	RootFinalizer = 1 << 1
	RootHandle    = 1 << 2
	RootOther     = 1 << 3
	RootMisc      = 1 << 4
)

// Exception clause kinds.
const (
	ClauseNone    = 0
	ClauseFilter  = 1
	ClauseFinally = 2
	ClauseFault   = 3
)

// Counter value types, per TypeSampleCountersDesc records.
const (
	CounterInt          = 0
	CounterUInt         = 1
	CounterWord         = 2
	CounterLong         = 3
	CounterULong        = 4
	CounterDouble       = 5
	CounterString       = 6
	CounterTimeInterval = 7
)

// Counter units and variance classes.
const (
	CounterUnitRaw        = 0 << 24
	CounterUnitBytes      = 1 << 24
	CounterUnitTime       = 2 << 24
	CounterUnitCount      = 3 << 24
	CounterUnitPercentage = 4 << 24

	CounterVarianceMonotonic = 1 << 28
	CounterVarianceConstant  = 2 << 28
	CounterVarianceVariable  = 4 << 28
)

// Counter sections.
const (
	CounterSectionJit      = 1 << 8
	CounterSectionGC       = 1 << 9
	CounterSectionMetadata = 1 << 10
	CounterSectionGeneric  = 1 << 11
	CounterSectionRuntime  = 1 << 16
	CounterSectionPerf     = 1 << 17
)

// Sizing used by encoders to reserve buffer room before writing. A LEB128
// value never exceeds 10 bytes; tags and embedded type bytes are 1 byte.
const (
	EventSize  = 1
	LEB128Size = 10
)
