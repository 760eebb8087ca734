// encoder-sample.go: Statistical sample emission
//
// Samples leave the async-safe ring through the helper goroutine, which
// resolves missing method handles, funnels the hits through a normal log
// buffer and then symbolizes the unmanaged code pages the hits touched.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import "sort"

// Code pages are tracked at 512-byte granularity; the codePages map value
// marks a page whose symbols were already dumped.
const (
	codePageShift = 9
	codePageSize  = 1 << codePageShift
	codePageMask  = ^uint64(codePageSize - 1)
)

// sampleRecord is one decoded ring slot group.
type sampleRecord struct {
	kind    int
	tid     uint64
	elapsed uint64
	ip      uint64
	frames  []AsyncFrame
}

// drainSamples lifts accumulated pages off the ring and emits them. Helper
// goroutine (or the shutdown path, after the helper stopped).
func drainSamples(p *Profiler, t *Thread) {
	if p.samples == nil {
		return
	}
	var pages *samplePage
	if p.inShutdown.Load() {
		pages = p.samples.detachAll()
	} else {
		pages = p.samples.detachTail()
	}
	if pages == nil {
		return
	}
	dumpSampleHits(p, t, pages)
	for pages != nil {
		next := pages.next
		pages.free()
		pages = next
	}
}

// dumpSampleHits parses the page chain (newest first, so pages are emitted
// from the tail back), sorts the records by thread id for reader locality,
// resolves missing methods and emits one TYPE_SAMPLE_HIT per record.
func dumpSampleHits(p *Profiler, t *Thread, page *samplePage) {
	var records []sampleRecord
	collectSamplePages(page, &records)

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].tid < records[j].tid
	})

	resolver := p.cfg.JITResolver
	for i := range records {
		rec := &records[i]

		for fi := range rec.frames {
			f := &rec.frames[fi]
			if f.Method == 0 && resolver != nil {
				if m, _, ok := resolver.Lookup(f.BaseAddress); ok {
					f.Method = m
				}
			}
		}

		emitSampleHit(p, t, rec)
	}

	dumpUnmanagedCoderefs(p, t)
	t.safeSend()
}

// collectSamplePages appends the records of a page chain oldest-page-first.
func collectSamplePages(page *samplePage, out *[]sampleRecord) {
	if page == nil {
		return
	}
	collectSamplePages(page.next, out)

	limit := page.cursor.Load()
	if limit > samplePageSlots {
		limit = samplePageSlots
	}
	slots := page.slots
	for pos := int64(0); pos < limit; {
		desc := slots[pos]
		ipCount := int(desc & 0xff)
		frameCount := int((desc >> 8) & 0xff)
		need := int64(ipCount + 3 + 4*frameCount)
		if pos+need > limit {
			break
		}

		rec := sampleRecord{
			kind:    int(desc >> 16),
			tid:     slots[pos+1],
			elapsed: slots[pos+2],
			ip:      slots[pos+3],
		}
		base := pos + int64(ipCount) + 3
		for i := 0; i < frameCount; i++ {
			rec.frames = append(rec.frames, AsyncFrame{
				Method:       MethodID(slots[base+int64(i)*4+0]),
				Domain:       slots[base+int64(i)*4+1],
				BaseAddress:  slots[base+int64(i)*4+2],
				NativeOffset: int32(uint32(slots[base+int64(i)*4+3])),
			})
		}
		*out = append(*out, rec)
		pos += need
	}
}

// emitSampleHit writes one sample hit. The timestamp is absolute (startup
// time plus the 10µs tick), not delta-coded: samples cross thread contexts.
func emitSampleHit(p *Profiler, t *Thread, rec *sampleRecord) {
	managed := 0
	for _, f := range rec.frames {
		if f.Method != 0 {
			managed++
		}
	}

	b := t.ensure(EventSize + 4*LEB128Size + LEB128Size + LEB128Size + managed*3*LEB128Size)
	if b == nil {
		return
	}
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeSampleHit | TypeSample)
	b.emitValue(uint64(rec.kind))
	b.emitValue(p.startupTime + rec.elapsed*10000)
	b.emitPtr(rec.tid)
	b.emitValue(1)
	b.emitPtr(rec.ip)
	addCodePointer(p, rec.ip)
	b.emitValue(uint64(managed))
	for _, f := range rec.frames {
		if f.Method == 0 {
			continue
		}
		t.emitMethodRef(b, f.Method)
		b.emitSValue(0) // il offset is always zero
		b.emitSValue(int64(f.NativeOffset))
	}
	b.unlock()
}

// addCodePointer remembers the 512-byte code page covering an unmanaged ip.
// Helper-goroutine only.
func addCodePointer(p *Profiler, ip uint64) {
	if p.codePages == nil {
		p.codePages = make(map[uint64]bool)
	}
	page := ip & codePageMask
	if _, ok := p.codePages[page]; !ok {
		p.codePages[page] = false
	}
}

// dumpUnmanagedCoderefs symbolizes every not-yet-dumped code page and emits
// TYPE_SAMPLE_USYM records for the symbols found on it.
func dumpUnmanagedCoderefs(p *Profiler, t *Thread) {
	sym := p.cfg.Symbolizer
	if sym == nil || p.codePages == nil {
		return
	}
	for page, dumped := range p.codePages {
		if dumped {
			continue
		}
		p.codePages[page] = true

		lastName := ""
		for addr := page; addr < page+codePageSize; addr += 16 {
			name, ok := sym.Symbolize(addr)
			if !ok || name == "" || name == lastName {
				continue
			}
			lastName = name
			emitUSym(t, name, addr, 0)
		}
	}
}

// emitUSym writes an unmanaged symbol record: address, size, name.
func emitUSym(t *Thread, name string, addr uint64, size uint64) {
	b := t.ensure(EventSize + 2*LEB128Size + len(name) + 1)
	if b == nil {
		return
	}
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeSampleUSym | TypeSample)
	b.emitPtr(addr)
	b.emitValue(size)
	b.emitString(name)
	b.unlock()
}

// OnUnmanagedBinary records a loaded native binary for sample attribution.
func (t *Thread) OnUnmanagedBinary(name string, loadAddr uint64, offset uint64, size uint64) {
	b := t.ensure(EventSize + 4*LEB128Size + len(name) + 1)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeSampleUBin | TypeSample)
	b.emitTime(now)
	b.emitSValue(int64(loadAddr))
	b.emitValue(offset)
	b.emitValue(size)
	b.emitString(name)
	b.unlock()
}
