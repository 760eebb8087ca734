// ring_test.go: Stat-sample ring tests
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"sync"
	"testing"
)

func collectRing(r *sampleRing) []sampleRecord {
	var records []sampleRecord
	collectSamplePages(r.detachAll(), &records)
	return records
}

func TestSampleRingSingleProducer(t *testing.T) {
	r := newSampleRing()

	for i := 0; i < 100; i++ {
		r.push(SampleCycles, 7, uint64(i), 0xDEAD, nil)
	}

	records := collectRing(r)
	if len(records) != 100 {
		t.Fatalf("got %d records, want 100", len(records))
	}
	for i, rec := range records {
		if rec.tid != 7 || rec.ip != 0xDEAD {
			t.Fatalf("record %d corrupted: %+v", i, rec)
		}
		if rec.elapsed != uint64(i) {
			t.Fatalf("producer order broken at %d: elapsed %d", i, rec.elapsed)
		}
	}
}

func TestSampleRingFrames(t *testing.T) {
	r := newSampleRing()

	frames := []AsyncFrame{
		{Method: 0x4000, Domain: 1, BaseAddress: 0x4000, NativeOffset: 0x50},
		{Method: 0, Domain: 1, BaseAddress: 0x9000, NativeOffset: -1},
	}
	r.push(SampleCycles, 3, 123, 0x4050, frames)

	records := collectRing(r)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if len(rec.frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(rec.frames))
	}
	if rec.frames[0].Method != 0x4000 || rec.frames[0].NativeOffset != 0x50 {
		t.Fatalf("frame 0 corrupted: %+v", rec.frames[0])
	}
	if rec.frames[1].Method != 0 || rec.frames[1].NativeOffset != -1 {
		t.Fatalf("frame 1 corrupted: %+v", rec.frames[1])
	}
}

func TestSampleRingPageRotation(t *testing.T) {
	r := newSampleRing()

	// More slots than one page holds forces at least one rotation.
	total := samplePageSlots/sampleSlots(0) + 100
	for i := 0; i < total; i++ {
		r.push(SampleCycles, 1, uint64(i), uint64(i), nil)
	}

	if r.head.Load().next == nil {
		t.Fatal("expected a rotated page chain")
	}

	records := collectRing(r)
	if len(records) != total {
		t.Fatalf("got %d records, want %d", len(records), total)
	}
	// Pages are processed oldest-first, so elapsed must be monotonic.
	for i := 1; i < len(records); i++ {
		if records[i].elapsed < records[i-1].elapsed {
			t.Fatalf("cross-page order broken at %d: %d < %d",
				i, records[i].elapsed, records[i-1].elapsed)
		}
	}
}

func TestSampleRingConcurrentProducers(t *testing.T) {
	r := newSampleRing()

	const producers = 8
	const perProducer = 2000

	var wg sync.WaitGroup
	for pid := 0; pid < producers; pid++ {
		wg.Add(1)
		go func(tid uint64) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				r.push(SampleCycles, tid, uint64(i), tid*1000, nil)
			}
		}(uint64(pid + 1))
	}
	wg.Wait()

	records := collectRing(r)
	if len(records) != producers*perProducer {
		t.Fatalf("got %d records, want %d", len(records), producers*perProducer)
	}

	perTid := make(map[uint64]uint64)
	for _, rec := range records {
		perTid[rec.tid]++
		if rec.ip != rec.tid*1000 {
			t.Fatalf("torn record for tid %d: ip 0x%x", rec.tid, rec.ip)
		}
	}
	for tid, count := range perTid {
		if count != perProducer {
			t.Fatalf("tid %d: %d records, want %d", tid, count, perProducer)
		}
	}
}

func TestSampleRingDetachTailKeepsHead(t *testing.T) {
	r := newSampleRing()
	r.push(SampleCycles, 1, 1, 1, nil)

	if tail := r.detachTail(); tail != nil {
		t.Fatal("single-page ring has no tail to detach")
	}

	records := collectRing(r)
	if len(records) != 1 {
		t.Fatalf("head sample lost: %d records", len(records))
	}
}
