// writer.go: The writer goroutine
//
// Single consumer of the writer queue and sole owner of the sink. For every
// queue entry it first serializes the JIT records of methods not yet in the
// registry into a throwaway buffer, writes that, then frames and writes the
// payload chain. This ordering is what enforces the registry-before-
// reference invariant of the stream.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"

	"github.com/agilira/go-errors"
)

// runWriter emits the file header and consumes the queue until close.
func (p *Profiler) runWriter() {
	defer close(p.writerDone)
	p.dumpHeader()
	p.queue.LoopProcess()
}

// dumpHeader writes the fixed 32-byte file header.
func (p *Profiler) dumpHeader() {
	var hbuf [FileHeaderSize]byte
	binary.LittleEndian.PutUint32(hbuf[0:], LogHeaderID)
	hbuf[4] = LogVersionMajor
	hbuf[5] = LogVersionMinor
	hbuf[6] = LogDataVersion
	hbuf[7] = 8 // pointer size
	binary.LittleEndian.PutUint64(hbuf[8:], cachedUnixMilli())
	binary.LittleEndian.PutUint32(hbuf[16:], timerOverhead())
	binary.LittleEndian.PutUint32(hbuf[20:], 0) // flags
	binary.LittleEndian.PutUint32(hbuf[24:], uint32(os.Getpid()))
	binary.LittleEndian.PutUint16(hbuf[28:], uint16(p.commandPort))
	binary.LittleEndian.PutUint16(hbuf[30:], osID())
	p.sinkWrite(hbuf[:])
}

// processEntry handles one dequeued buffer chain. Runs on the writer
// goroutine via the queue processor.
func (p *Profiler) processEntry(e *queueEntry) {
	methods := e.methods
	buffer := e.buffer
	e.methods = nil
	e.buffer = nil

	if buffer == nil {
		return
	}
	if p.writerFailed.Load() {
		freeChain(buffer)
		return
	}

	// Encode the JIT records in a temporary buffer flushed before the
	// payload, so every method has metadata in the stream before any event
	// that references it. Producers race to queue the same method, which is
	// fine: the registry insert makes the record idempotent and the local
	// pending lists empty out once a method is known globally.
	var methodBuffer *LogBuffer
	newMethods := false
	for i := range methods {
		info := &methods[i]
		if !p.registry.tryInsert(info.method) {
			continue
		}

		name := p.methodName(info.method)
		mb := ensureWriterBuf(methodBuffer,
			EventSize+4*LEB128Size+len(name)+1, info.time)
		if mb == nil {
			break
		}
		methodBuffer = mb
		newMethods = true

		methodBuffer.emitByte(TypeJit | TypeMethod)
		methodBuffer.emitTime(info.time)
		methodBuffer.emitMethod(uint64(info.method))
		methodBuffer.emitPtr(info.ji.CodeStart)
		methodBuffer.emitValue(uint64(info.ji.CodeSize))
		methodBuffer.emitString(name)
	}

	if newMethods {
		p.dumpBuffer(methodBuffer)
	} else if methodBuffer != nil {
		freeChain(methodBuffer)
	}

	p.dumpBuffer(buffer)
}

// methodName resolves a method's display name through the host, falling
// back to the numeric handle.
func (p *Profiler) methodName(m MethodID) string {
	if namer := p.cfg.MethodNamer; namer != nil {
		if name := namer.MethodName(m); name != "" {
			return sanitize(name)
		}
	}
	return fmt.Sprintf("method_0x%x", uint64(m))
}

// ensureWriterBuf is the writer-local sibling of Thread.ensure: same
// chaining, no thread handle. The time base of a fresh buffer is pinned to
// the first record's timestamp so time deltas stay non-negative.
func ensureWriterBuf(old *LogBuffer, bytes int, firstTime uint64) *LogBuffer {
	if old != nil && old.room() >= bytes+bufferSlack {
		return old
	}
	nb := newLogBufferSized(0, bytes+bufferSlack)
	if nb == nil {
		return nil
	}
	if firstTime != 0 {
		nb.timeBase = firstTime
		nb.lastTime = firstTime
	}
	nb.next = old
	return nb
}

// dumpBuffer frames and writes a buffer chain, oldest first, then frees it.
func (p *Profiler) dumpBuffer(buf *LogBuffer) {
	if buf == nil {
		return
	}
	if buf.next != nil {
		p.dumpBuffer(buf.next)
		buf.next = nil
	}

	var hbuf [BufHeaderSize]byte
	binary.LittleEndian.PutUint32(hbuf[0:], BufID)
	binary.LittleEndian.PutUint32(hbuf[4:], uint32(buf.used()))
	binary.LittleEndian.PutUint64(hbuf[8:], buf.timeBase)
	binary.LittleEndian.PutUint64(hbuf[16:], buf.ptrBase)
	binary.LittleEndian.PutUint64(hbuf[24:], buf.objBase)
	binary.LittleEndian.PutUint64(hbuf[32:], buf.threadID)
	binary.LittleEndian.PutUint64(hbuf[40:], buf.methodBase)

	p.sinkWrite(hbuf[:])
	p.sinkWrite(buf.data)
	buf.free()
}

// sinkWrite writes to the sink, converting the first failure into a
// profiler-fatal detach: the writer keeps draining so producers never block,
// but nothing further reaches the sink.
func (p *Profiler) sinkWrite(data []byte) {
	if p.writerFailed.Load() || len(data) == 0 {
		return
	}
	if _, err := p.sink.Write(data); err != nil {
		p.writerFailed.Store(true)
		handleError(errors.Wrap(err, ErrCodeWriteFailed, "trace sink write failed; profiler detached"))
	}
}

// osID identifies the producing platform in the file header.
func osID() uint16 {
	switch runtime.GOOS {
	case "linux":
		return 1
	case "darwin":
		return 2
	case "windows":
		return 3
	default:
		return 0
	}
}
