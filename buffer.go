// buffer.go: Per-thread event accumulation buffer
//
// A LogBuffer is one arena page that a single producer thread fills with
// delta-encoded events. The delta bases (time, pointer, object, method) are
// committed lazily on first write and recorded in the buffer's frame header,
// so the reader can reconstruct absolute values without any cross-buffer
// state. Buffers chain through next when one event run overflows a page; the
// writer flushes a chain oldest-first so stream order matches arrival order.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"encoding/binary"
	"math"

	"github.com/agilira/go-errors"
)

// BufferSize is the fixed arena page size backing every LogBuffer.
const BufferSize = 64 * 1024

// bufferSlack is the headroom ensure() keeps beyond the caller's request, so
// small follow-up writes inside one encoder never overflow mid-event.
const bufferSlack = 100

// LogBuffer accumulates encoded events for one thread. All methods are
// called only by the owning producer; there is no internal synchronization.
type LogBuffer struct {
	next *LogBuffer

	timeBase uint64
	lastTime uint64

	ptrBase    uint64
	objBase    uint64
	methodBase uint64
	lastMethod uint64

	threadID uint64

	mem  []byte // arena backing, returned wholesale on free
	data []byte // mem[:used]

	// locked is the reentrancy guard: an encoder that finds its own buffer
	// already locked drops the event instead of corrupting a half-written
	// record (callback-in-callback, e.g. an allocation fired while logging).
	locked int32

	callDepth int32
}

// newLogBuffer maps a fresh page and stamps the time base. Returns nil when
// the arena cannot map a page; callers treat that as a dropped event.
func newLogBuffer(threadID uint64) *LogBuffer {
	return newLogBufferSized(threadID, BufferSize)
}

// newLogBufferSized maps a buffer of at least the default page size. Events
// larger than a page get a single buffer big enough to hold them whole, so
// no event ever splits across frame boundaries.
func newLogBufferSized(threadID uint64, size int) *LogBuffer {
	if size < BufferSize {
		size = BufferSize
	}
	mem, err := allocPages(size)
	if err != nil {
		if e, ok := err.(*errors.Error); ok {
			handleError(e)
		}
		return nil
	}
	now := nowNanos()
	return &LogBuffer{
		timeBase: now,
		lastTime: now,
		threadID: threadID,
		mem:      mem,
		data:     mem[:0],
	}
}

// free returns the page to the OS. The buffer must not be used afterwards.
func (b *LogBuffer) free() {
	freePages(b.mem)
	b.mem = nil
	b.data = nil
}

// room returns the number of unused bytes left in the page.
func (b *LogBuffer) room() int {
	return cap(b.data) - len(b.data)
}

// used returns the number of payload bytes written so far.
func (b *LogBuffer) used() int {
	return len(b.data)
}

// tryLock sets the reentrancy guard, returning false if already held.
func (b *LogBuffer) tryLock() bool {
	if b.locked != 0 {
		return false
	}
	b.locked = 1
	return true
}

// unlock releases the reentrancy guard.
func (b *LogBuffer) unlock() {
	b.locked = 0
}

func (b *LogBuffer) emitByte(v byte) {
	b.data = append(b.data, v)
}

// emitValue writes an unsigned LEB128 value.
func (b *LogBuffer) emitValue(v uint64) {
	b.data = AppendUleb128(b.data, v)
}

// emitSValue writes a signed LEB128 value.
func (b *LogBuffer) emitSValue(v int64) {
	b.data = AppendSleb128(b.data, v)
}

// emitTime writes now as an unsigned delta from the previous event time and
// advances lastTime. Time deltas are non-negative by construction: nowNanos
// is monotonic and producers are serialized per buffer.
func (b *LogBuffer) emitTime(now uint64) {
	b.data = AppendUleb128(b.data, now-b.lastTime)
	b.lastTime = now
}

// emitPtr writes p as a signed delta from the buffer's pointer base,
// committing the base on first use.
func (b *LogBuffer) emitPtr(p uint64) {
	if b.ptrBase == 0 {
		b.ptrBase = p
	}
	b.data = AppendSleb128(b.data, int64(p-b.ptrBase))
}

// emitObj writes an object address shifted right by three to exploit heap
// alignment, as a signed delta from the (also shifted) object base.
func (b *LogBuffer) emitObj(p uint64) {
	if b.objBase == 0 {
		b.objBase = p >> 3
	}
	b.data = AppendSleb128(b.data, int64(p>>3-b.objBase))
}

// emitMethod writes m as a signed delta from the previously written method,
// committing the method base on first use. Consecutive method references
// tend to be near each other in code, so the running delta stays short.
func (b *LogBuffer) emitMethod(m uint64) {
	if b.methodBase == 0 {
		b.methodBase = m
		b.lastMethod = m
	}
	b.data = AppendSleb128(b.data, int64(m-b.lastMethod))
	b.lastMethod = m
}

// emitString writes s as NUL-terminated UTF-8 with no length prefix.
// Interior NUL bytes terminate the string early on decode, so callers
// sanitize names before emitting.
func (b *LogBuffer) emitString(s string) {
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
}

// emitDouble writes a float64 as 8 little-endian bytes.
func (b *LogBuffer) emitDouble(v float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	b.data = append(b.data, tmp[:]...)
}
