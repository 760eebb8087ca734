// counters.go: Named runtime counters sampled by the helper goroutine
//
// Descriptors are emitted once per counter (TYPE_SAMPLE_COUNTERS_DESC);
// value records (TYPE_SAMPLE_COUNTERS) carry integer values as deltas from
// the previous snapshot and skip counters that did not change. A zero index
// terminates each value record.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"sync"

	"github.com/agilira/go-errors"
)

// Counter describes one host-registered counter. Exactly one Sample
// function must be set, matching Type.
type Counter struct {
	Section  int
	Name     string
	Type     int
	Unit     int
	Variance int

	SampleInt    func() int64
	SampleFloat  func() float64
	SampleString func() string
}

type counterAgent struct {
	counter Counter
	index   int
	emitted bool

	hasLast   bool
	lastInt   int64
	lastFloat float64
	lastStr   string
}

type counterRegistry struct {
	mu        sync.Mutex
	agents    []*counterAgent
	nextIndex int
}

func newCounterRegistry() *counterRegistry {
	return &counterRegistry{nextIndex: 1}
}

// register adds a counter. Indexes start at one; zero is the record
// terminator.
func (cr *counterRegistry) register(c Counter) error {
	switch c.Type {
	case CounterDouble:
		if c.SampleFloat == nil {
			return errors.New(ErrCodeCounterRegister, "double counter requires SampleFloat")
		}
	case CounterString:
		if c.SampleString == nil {
			return errors.New(ErrCodeCounterRegister, "string counter requires SampleString")
		}
	default:
		if c.SampleInt == nil {
			return errors.New(ErrCodeCounterRegister, "numeric counter requires SampleInt")
		}
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.agents = append(cr.agents, &counterAgent{counter: c, index: cr.nextIndex})
	cr.nextIndex++
	return nil
}

// RegisterCounter exposes counter registration on the profiler.
func (p *Profiler) RegisterCounter(c Counter) error {
	if p.counters == nil {
		return errors.New(ErrCodeCounterRegister, "counters are not enabled")
	}
	return p.counters.register(c)
}

// emitDescriptors writes descriptors for counters not yet announced.
// Called with cr.mu held.
func (cr *counterRegistry) emitDescriptors(t *Thread) {
	size := EventSize + LEB128Size
	count := 0
	for _, agent := range cr.agents {
		if agent.emitted {
			continue
		}
		size += 4*LEB128Size + len(agent.counter.Name) + 1
		count++
	}
	if count == 0 {
		return
	}

	b := t.ensure(size)
	if b == nil {
		return
	}
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeSampleCountersDesc | TypeSample)
	b.emitValue(uint64(count))
	for _, agent := range cr.agents {
		if agent.emitted {
			continue
		}
		b.emitValue(uint64(agent.counter.Section))
		b.emitString(agent.counter.Name)
		b.emitValue(uint64(agent.counter.Type))
		b.emitValue(uint64(agent.counter.Unit))
		b.emitValue(uint64(agent.counter.Variance))
		b.emitValue(uint64(agent.index))
		agent.emitted = true
	}
	b.unlock()
	t.safeSend()
}

// counterSnapshot is one sampled value pending emission.
type counterSnapshot struct {
	agent *counterAgent
	vInt  int64
	vFlt  float64
	vStr  string
}

// sample snapshots every counter and emits the changed ones. Values are read
// first so the record's exact size is known before the buffer is entered.
func (cr *counterRegistry) sample(t *Thread) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	cr.emitDescriptors(t)

	size := EventSize + LEB128Size + LEB128Size
	snaps := make([]counterSnapshot, 0, len(cr.agents))
	for _, agent := range cr.agents {
		c := &agent.counter
		snap := counterSnapshot{agent: agent}
		switch c.Type {
		case CounterDouble:
			snap.vFlt = c.SampleFloat()
			if agent.hasLast && snap.vFlt == agent.lastFloat {
				continue
			}
			size += 2*LEB128Size + 8
		case CounterString:
			snap.vStr = c.SampleString()
			if agent.hasLast && snap.vStr == agent.lastStr {
				continue
			}
			size += 2*LEB128Size + 1 + len(snap.vStr) + 1
		default:
			snap.vInt = c.SampleInt()
			if agent.hasLast && snap.vInt == agent.lastInt {
				continue
			}
			size += 3 * LEB128Size
		}
		snaps = append(snaps, snap)
	}

	b := t.ensure(size)
	if b == nil {
		return
	}
	if !b.tryLock() {
		return
	}

	b.emitByte(TypeSampleCounters | TypeSample)
	b.emitValue(nowNanos() / 1000 / 1000) // timestamp in ms since start

	for _, snap := range snaps {
		agent := snap.agent
		c := &agent.counter
		b.emitValue(uint64(agent.index))
		b.emitValue(uint64(c.Type))
		switch c.Type {
		case CounterDouble:
			b.emitDouble(snap.vFlt)
			agent.lastFloat = snap.vFlt
		case CounterString:
			if snap.vStr == "" {
				b.emitByte(0)
			} else {
				b.emitByte(1)
				b.emitString(snap.vStr)
			}
			agent.lastStr = snap.vStr
		case CounterUInt, CounterULong:
			b.emitValue(uint64(snap.vInt - agent.lastInt))
			agent.lastInt = snap.vInt
		default:
			b.emitSValue(snap.vInt - agent.lastInt)
			agent.lastInt = snap.vInt
		}
		agent.hasLast = true
	}

	b.emitValue(0) // stop marker
	b.unlock()
	t.safeSend()
}
