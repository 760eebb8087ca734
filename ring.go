// ring.go: Async-safe ring for statistical sample records
//
// The sampling probe can fire in interrupt or suspend-all context, so the
// producer path is bounded work with no locks and no allocation: claim slots
// with a CAS bump, fill them, done. Slots are fixed-size words rather than
// LEB128 precisely so they can be filled from that context. Page rotation is
// the only slow path: the producer that loses the room race maps a fresh
// page and publishes it with a CAS.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"sync/atomic"
	"unsafe"
)

// samplePageSlots is the slot count of one ring page (one arena page of
// 64-bit words).
const samplePageSlots = BufferSize / 8

// sampleSlots returns the slot footprint of a sample with the given frame
// count: descriptor, tid, elapsed, ip, then four words per frame.
func sampleSlots(frames int) int {
	return 4 + 4*frames
}

type samplePage struct {
	next *samplePage

	mem   []byte
	slots []uint64

	// cursor is the next free slot index; claims move it with CAS, and a
	// sample that would run past the end goes to a fresh page instead.
	cursor atomic.Int64

	// firstElapsed is the 10µs timestamp of the first sample on the page,
	// used for the one-second staleness rotation.
	firstElapsed atomic.Uint64
}

func newSamplePage() *samplePage {
	mem, err := allocPages(BufferSize)
	if err != nil {
		return nil
	}
	return &samplePage{
		mem:   mem,
		slots: unsafe.Slice((*uint64)(unsafe.Pointer(&mem[0])), samplePageSlots),
	}
}

func (pg *samplePage) free() {
	freePages(pg.mem)
}

// sampleRing is the MPSC ring: producers prepend pages and bump cursors,
// the helper goroutine is the single consumer.
type sampleRing struct {
	head atomic.Pointer[samplePage]

	// wake is the Go rendering of the original self-pipe byte: a producer
	// that grows the page list nudges the helper.
	wake chan struct{}
}

func newSampleRing() *sampleRing {
	r := &sampleRing{wake: make(chan struct{}, 1)}
	r.head.Store(newSamplePage())
	return r
}

// push records one sample. Async-safe: CAS claims only, silent drop on
// allocation failure.
func (r *sampleRing) push(kind int, tid uint64, elapsed uint64, ip uint64, frames []AsyncFrame) {
	need := sampleSlots(len(frames))

	for {
		page := r.head.Load()
		if page == nil {
			return
		}

		// Rotate stale pages so samples reach the stream within a second
		// even at low rates.
		cur := page.cursor.Load()
		first := page.firstElapsed.Load()
		stale := cur > 0 && elapsed > first && elapsed-first > 100000

		if stale || cur+int64(need) > samplePageSlots {
			fresh := newSamplePage()
			if fresh == nil {
				return
			}
			fresh.next = page
			if !r.head.CompareAndSwap(page, fresh) {
				fresh.next = nil
				fresh.free()
				continue
			}
			// The list grew: nudge the helper.
			select {
			case r.wake <- struct{}{}:
			default:
			}
			continue
		}

		if !page.cursor.CompareAndSwap(cur, cur+int64(need)) {
			continue
		}
		if cur == 0 {
			page.firstElapsed.Store(elapsed)
		}

		slot := page.slots[cur : cur+int64(need)]
		slot[0] = 1 | uint64(len(frames))<<8 | uint64(kind)<<16
		slot[1] = tid
		slot[2] = elapsed
		slot[3] = ip
		for i, f := range frames {
			slot[4+4*i+0] = uint64(f.Method)
			slot[4+4*i+1] = f.Domain
			slot[4+4*i+2] = f.BaseAddress
			slot[4+4*i+3] = uint64(uint32(f.NativeOffset))
		}
		return
	}
}

// detachTail removes and returns everything behind the current head page.
// The returned chain is newest-first; its pages are no longer written.
// Single-consumer only.
func (r *sampleRing) detachTail() *samplePage {
	head := r.head.Load()
	if head == nil {
		return nil
	}
	tail := head.next
	head.next = nil
	return tail
}

// detachAll removes and returns the whole list, leaving the ring empty.
// Used at shutdown, when producers are already fenced off.
func (r *sampleRing) detachAll() *samplePage {
	return r.head.Swap(nil)
}
