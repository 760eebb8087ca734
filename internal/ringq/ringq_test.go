// ringq_test.go: MPSC ring behavior tests
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ringq

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBuilderValidation(t *testing.T) {
	if _, err := NewBuilder[int](100).WithProcessor(func(*int) {}).Build(); err != ErrInvalidCapacity {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
	if _, err := NewBuilder[int](128).Build(); err != ErrMissingProcessor {
		t.Fatalf("expected ErrMissingProcessor, got %v", err)
	}
	if _, err := NewBuilder[int](128).WithProcessor(func(*int) {}).WithBatchSize(256).Build(); err != ErrInvalidBatchSize {
		t.Fatalf("expected ErrInvalidBatchSize, got %v", err)
	}
	if _, err := NewBuilder[int](128).WithProcessor(func(*int) {}).Build(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestWriteAndProcess(t *testing.T) {
	var got []int
	ring, err := NewBuilder[int](16).
		WithProcessor(func(v *int) { got = append(got, *v) }).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		v := i
		if !ring.Write(func(slot *int) { *slot = v }) {
			t.Fatalf("write %d rejected", i)
		}
	}

	for len(got) < 10 {
		if ring.ProcessBatch() == 0 {
			t.Fatal("no progress draining ring")
		}
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}
}

func TestConcurrentProducersBlockOnFull(t *testing.T) {
	const producers = 8
	const perProducer = 1000

	var received atomic.Int64
	ring, err := NewBuilder[int64](64).
		WithProcessor(func(v *int64) { received.Add(*v) }).
		WithBackpressurePolicy(BlockOnFull).
		WithIdleStrategy(NewYieldingIdleStrategy(10)).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		ring.LoopProcess()
		close(done)
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !ring.Write(func(slot *int64) { *slot = 1 }) {
					t.Error("blocking write rejected")
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := ring.Flush(); err != nil {
		t.Fatal(err)
	}
	ring.Close()
	<-done

	if received.Load() != producers*perProducer {
		t.Fatalf("received %d of %d items", received.Load(), producers*perProducer)
	}
	if ring.Stats()["items_dropped"] != 0 {
		t.Fatalf("blocking ring dropped items: %v", ring.Stats())
	}
}

func TestCloseDrains(t *testing.T) {
	var count int
	ring, err := NewBuilder[int](32).
		WithProcessor(func(*int) { count++ }).
		WithIdleStrategy(NewChannelIdleStrategy(10 * time.Millisecond)).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		ring.Write(func(slot *int) { *slot = i })
	}

	ring.Close()
	ring.LoopProcess()

	if count != 20 {
		t.Fatalf("drained %d of 20 items", count)
	}
}

func BenchmarkWrite(b *testing.B) {
	ring, _ := NewBuilder[int64](1 << 16).
		WithProcessor(func(*int64) {}).
		Build()
	go ring.LoopProcess()
	defer ring.Close()

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			ring.Write(func(slot *int64) { *slot = 1 })
		}
	})
}
