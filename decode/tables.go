// tables.go: Metadata tables and per-thread contexts
//
// The decoder mirrors the writer's id spaces: methods, classes and images
// arrive as raw handles and are resolved through these tables, populated by
// TYPE_METADATA and TYPE_METHOD|JIT records. A reference that precedes its
// metadata resolves to a placeholder descriptor that is patched in place
// when the real record shows up, so earlier events stay consistent.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package decode

import "fmt"

// MethodDesc describes a jitted method.
type MethodDesc struct {
	ID        uint64
	Name      string
	CodeStart uint64
	CodeSize  uint64
	Resolved  bool
}

// ClassDesc describes a loaded class.
type ClassDesc struct {
	ID       uint64
	Name     string
	Image    *ImageDesc
	Resolved bool
}

// ImageDesc describes a loaded image.
type ImageDesc struct {
	ID       uint64
	Name     string
	Resolved bool
}

type tables struct {
	methods map[uint64]*MethodDesc
	classes map[uint64]*ClassDesc
	images  map[uint64]*ImageDesc
}

func newTables() *tables {
	return &tables{
		methods: make(map[uint64]*MethodDesc),
		classes: make(map[uint64]*ClassDesc),
		images:  make(map[uint64]*ImageDesc),
	}
}

// lookupMethod resolves a method handle, creating an unresolved placeholder
// on first sight.
func (t *tables) lookupMethod(id uint64) *MethodDesc {
	if m, ok := t.methods[id]; ok {
		return m
	}
	m := &MethodDesc{ID: id, Name: fmt.Sprintf("unknown method 0x%x", id)}
	t.methods[id] = m
	return m
}

// addMethod records a JIT record, patching a placeholder in place.
func (t *tables) addMethod(id uint64, name string, codeStart uint64, codeSize uint64) *MethodDesc {
	m := t.lookupMethod(id)
	m.Name = name
	m.CodeStart = codeStart
	m.CodeSize = codeSize
	m.Resolved = true
	return m
}

func (t *tables) lookupClass(id uint64) *ClassDesc {
	if c, ok := t.classes[id]; ok {
		return c
	}
	c := &ClassDesc{ID: id, Name: fmt.Sprintf("unknown class 0x%x", id)}
	t.classes[id] = c
	return c
}

func (t *tables) addClass(id uint64, name string, image *ImageDesc) *ClassDesc {
	c := t.lookupClass(id)
	c.Name = name
	c.Image = image
	c.Resolved = true
	return c
}

func (t *tables) lookupImage(id uint64) *ImageDesc {
	if img, ok := t.images[id]; ok {
		return img
	}
	img := &ImageDesc{ID: id, Name: fmt.Sprintf("unknown image 0x%x", id)}
	t.images[id] = img
	return img
}

func (t *tables) addImage(id uint64, name string) *ImageDesc {
	img := t.lookupImage(id)
	img.Name = name
	img.Resolved = true
	return img
}

// threadContext is the per-thread decode state keyed by the frame header's
// thread id.
type threadContext struct {
	id   uint64
	name string

	// Call stack reconstruction. A leave on an empty stack means the
	// producer's depth gate clipped the stream; stack tracking for the
	// thread stops with a diagnostic while event decoding continues.
	stack       []*MethodDesc
	brokenStack bool

	// inHeapShot is set between HEAP_START and HEAP_END on this thread.
	inHeapShot bool

	lastTime uint64
}

func (d *Decoder) thread(id uint64) *threadContext {
	if t, ok := d.threads[id]; ok {
		return t
	}
	t := &threadContext{id: id}
	d.threads[id] = t
	return t
}
