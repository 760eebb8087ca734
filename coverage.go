// coverage.go: Statement coverage collection and dump
//
// Coverage tracks which methods were entered, grouped by class and
// assembly, and dumps TYPE_COVERAGE_* records at shutdown with the
// statement detail fetched from the host's CoverageProvider. Filters are
// glob patterns over assembly and class names: "+pattern" includes,
// "-pattern" excludes, excludes win.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"strings"
	"sync"

	"github.com/agilira/go-errors"
	"github.com/gobwas/glob"
)

type covAssembly struct {
	id   AssemblyID
	name string
}

type covClass struct {
	id       ClassID
	image    ImageID
	name     string
	methods  int
	filtered bool
}

type coverageState struct {
	mu sync.Mutex

	includes []glob.Glob
	excludes []glob.Glob

	assemblies map[AssemblyID]*covAssembly
	classes    map[ClassID]*covClass
	entered    map[MethodID]struct{}
}

func newCoverageState(filters []string) (*coverageState, error) {
	cs := &coverageState{
		assemblies: make(map[AssemblyID]*covAssembly),
		classes:    make(map[ClassID]*covClass),
		entered:    make(map[MethodID]struct{}),
	}
	for _, f := range filters {
		if f == "" {
			continue
		}
		pattern := f
		exclude := false
		switch f[0] {
		case '+':
			pattern = f[1:]
		case '-':
			pattern = f[1:]
			exclude = true
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeCoverageFilter, "bad coverage filter: "+f)
		}
		if exclude {
			cs.excludes = append(cs.excludes, g)
		} else {
			cs.includes = append(cs.includes, g)
		}
	}
	return cs, nil
}

// nameAllowed applies the filter set to an assembly or class name.
func (cs *coverageState) nameAllowed(name string) bool {
	for _, g := range cs.excludes {
		if g.Match(name) {
			return false
		}
	}
	if len(cs.includes) == 0 {
		return true
	}
	for _, g := range cs.includes {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (cs *coverageState) assemblyLoaded(id AssemblyID, name string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.assemblies[id] = &covAssembly{id: id, name: name}
}

func (cs *coverageState) classLoaded(id ClassID, image ImageID, name string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.classes[id] = &covClass{
		id:       id,
		image:    image,
		name:     name,
		filtered: !cs.nameAllowed(name),
	}
}

// methodEntered marks a method as executed. Hot-ish path; the map insert is
// guarded but the common re-entry case exits on the read.
func (cs *coverageState) methodEntered(m MethodID) {
	cs.mu.Lock()
	if _, ok := cs.entered[m]; !ok {
		cs.entered[m] = struct{}{}
	}
	cs.mu.Unlock()
}

// dump emits assembly, class and method coverage records. Shutdown path.
func (cs *coverageState) dump(t *Thread) {
	provider := t.prof.cfg.CoverageProvider
	if provider == nil {
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	// Method detail first: it also yields per-class covered counts.
	covered := make(map[ClassID]int)
	methodID := uint64(0)
	for m := range cs.entered {
		data, ok := provider.Coverage(m)
		if !ok {
			continue
		}
		if !cs.nameAllowed(data.ClassName) {
			continue
		}
		cs.dumpMethod(t, methodID, &data)
		methodID++

		for id, cl := range cs.classes {
			if cl.name == data.ClassName {
				covered[id]++
				break
			}
		}
	}

	for _, cl := range cs.classes {
		if cl.filtered {
			continue
		}
		assemblyName := ""
		// class → assembly attribution goes through the image when the
		// host registered one with a matching id
		if a, ok := cs.assemblies[AssemblyID(cl.image)]; ok {
			assemblyName = a.name
		}
		cs.dumpClass(t, assemblyName, cl, covered[cl.id])
	}

	for _, a := range cs.assemblies {
		if !cs.nameAllowed(a.name) {
			continue
		}
		cs.dumpAssembly(t, a)
	}
}

func (cs *coverageState) dumpMethod(t *Thread, methodID uint64, data *CoverageData) {
	image := sanitize(data.ImageName)
	class := sanitize(data.ClassName)
	method := sanitize(data.MethodName)
	sig := sanitize(data.Signature)
	file := sanitize(data.Filename)

	b := t.ensure(EventSize + len(image) + len(class) + len(method) + len(sig) + len(file) + 5 + 3*LEB128Size)
	if b == nil {
		return
	}
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeCoverageMethod | TypeCoverage)
	b.emitString(image)
	b.emitString(class)
	b.emitString(method)
	b.emitString(sig)
	b.emitString(file)
	b.emitValue(uint64(data.Token))
	b.emitValue(methodID)
	b.emitValue(uint64(len(data.Entries)))
	b.unlock()
	t.safeSend()

	prevOffset := 0
	for _, entry := range data.Entries {
		b := t.ensure(EventSize + 5*LEB128Size)
		if b == nil {
			return
		}
		if !b.tryLock() {
			return
		}
		b.emitByte(TypeCoverageStatement | TypeCoverage)
		b.emitValue(methodID)
		b.emitValue(uint64(entry.ILOffset - prevOffset))
		prevOffset = entry.ILOffset
		b.emitValue(uint64(entry.Counter))
		b.emitValue(uint64(entry.Line))
		b.emitValue(uint64(entry.Column))
		b.unlock()
		t.safeSend()
	}
}

func (cs *coverageState) dumpClass(t *Thread, assemblyName string, cl *covClass, fullyCovered int) {
	name := sanitize(cl.name)
	assemblyName = sanitize(assemblyName)

	b := t.ensure(EventSize + len(assemblyName) + len(name) + 2 + 3*LEB128Size)
	if b == nil {
		return
	}
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeCoverageClass | TypeCoverage)
	b.emitString(assemblyName)
	b.emitString(name)
	b.emitValue(uint64(cl.methods))
	b.emitValue(uint64(fullyCovered))
	b.emitValue(0) // partially covered is not tracked
	b.unlock()
	t.safeSend()
}

func (cs *coverageState) dumpAssembly(t *Thread, a *covAssembly) {
	name := sanitize(a.name)
	b := t.ensure(EventSize + len(name)*3 + 3 + 3*LEB128Size)
	if b == nil {
		return
	}
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeCoverageAssembly | TypeCoverage)
	b.emitString(name)
	b.emitString("") // guid is host-side information we do not carry
	b.emitString("") // file name likewise
	b.emitValue(0)
	b.emitValue(0)
	b.emitValue(0)
	b.unlock()
	t.safeSend()
}

// sanitize strips NUL bytes, which would terminate the wire string early.
func sanitize(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}
