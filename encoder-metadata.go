// encoder-metadata.go: Metadata load/unload/name event encoders
//
// Metadata events share one shape: tag, time, kind byte, entity pointer,
// flags, then kind-specific payload; class records carry the owning image
// pointer between the entity pointer and the flags. Load and unload are distinguished by
// the tag's upper nibble; a plain TYPE_METADATA tag is a name record.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

// emitMetadataNamed writes a metadata event carrying a NUL-terminated name.
func (t *Thread) emitMetadataNamed(tag byte, kind byte, ptr uint64, name string) {
	b := t.ensure(EventSize + LEB128Size + EventSize + 2*LEB128Size + len(name) + 1)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(tag | TypeMetadata)
	b.emitTime(now)
	b.emitByte(kind)
	b.emitPtr(ptr)
	b.emitValue(0) // flags
	b.emitString(name)
	b.unlock()
	t.sendIfChained()
	t.processRequests()
}

// emitMetadataBare writes a metadata event with no name payload.
func (t *Thread) emitMetadataBare(tag byte, kind byte, ptr uint64) {
	b := t.ensure(EventSize + LEB128Size + EventSize + 2*LEB128Size)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(tag | TypeMetadata)
	b.emitTime(now)
	b.emitByte(kind)
	b.emitPtr(ptr)
	b.emitValue(0) // flags
	b.unlock()
	t.sendIfChained()
	t.processRequests()
}

// OnImageLoaded records an image load with its file name.
func (t *Thread) OnImageLoaded(image ImageID, name string) {
	t.emitMetadataNamed(TypeEndLoad, MetadataImage, uint64(image), name)
}

// OnImageUnloaded records an image unload.
func (t *Thread) OnImageUnloaded(image ImageID, name string) {
	t.emitMetadataNamed(TypeEndUnload, MetadataImage, uint64(image), name)
}

// OnAssemblyLoaded records an assembly load with its display name.
func (t *Thread) OnAssemblyLoaded(assembly AssemblyID, name string) {
	if t.prof.coverage != nil {
		t.prof.coverage.assemblyLoaded(assembly, name)
	}
	t.emitMetadataNamed(TypeEndLoad, MetadataAssembly, uint64(assembly), name)
}

// OnAssemblyUnloaded records an assembly unload.
func (t *Thread) OnAssemblyUnloaded(assembly AssemblyID, name string) {
	t.emitMetadataNamed(TypeEndUnload, MetadataAssembly, uint64(assembly), name)
}

// OnClassLoaded records a class load: class pointer, owning image, name.
func (t *Thread) OnClassLoaded(class ClassID, image ImageID, name string) {
	if t.prof.coverage != nil {
		t.prof.coverage.classLoaded(class, image, name)
	}
	b := t.ensure(EventSize + LEB128Size + EventSize + 3*LEB128Size + len(name) + 1)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeEndLoad | TypeMetadata)
	b.emitTime(now)
	b.emitByte(MetadataClass)
	b.emitPtr(uint64(class))
	b.emitPtr(uint64(image))
	b.emitValue(0) // flags
	b.emitString(name)
	b.unlock()
	t.sendIfChained()
	t.processRequests()
}

// OnClassUnloaded records a class unload.
func (t *Thread) OnClassUnloaded(class ClassID, image ImageID, name string) {
	b := t.ensure(EventSize + LEB128Size + EventSize + 3*LEB128Size + len(name) + 1)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(TypeEndUnload | TypeMetadata)
	b.emitTime(now)
	b.emitByte(MetadataClass)
	b.emitPtr(uint64(class))
	b.emitPtr(uint64(image))
	b.emitValue(0) // flags
	b.emitString(name)
	b.unlock()
	t.sendIfChained()
	t.processRequests()
}

// OnDomainLoaded records a domain load.
func (t *Thread) OnDomainLoaded(domain uint64) {
	t.emitMetadataBare(TypeEndLoad, MetadataDomain, domain)
}

// OnDomainUnloaded records a domain unload. Domain unload is a safe point.
func (t *Thread) OnDomainUnloaded(domain uint64) {
	t.emitMetadataBare(TypeEndUnload, MetadataDomain, domain)
	t.safeSend()
}

// OnDomainName records a domain's friendly name.
func (t *Thread) OnDomainName(domain uint64, name string) {
	t.emitMetadataNamed(0, MetadataDomain, domain, name)
}

// OnContextLoaded records a context load with its owning domain.
func (t *Thread) OnContextLoaded(context uint64, domain uint64) {
	t.emitContext(TypeEndLoad, context, domain)
}

// OnContextUnloaded records a context unload.
func (t *Thread) OnContextUnloaded(context uint64, domain uint64) {
	t.emitContext(TypeEndUnload, context, domain)
}

func (t *Thread) emitContext(tag byte, context uint64, domain uint64) {
	b := t.ensure(EventSize + LEB128Size + EventSize + 3*LEB128Size)
	if b == nil {
		return
	}
	now := nowNanos()
	if !b.tryLock() {
		return
	}
	b.emitByte(tag | TypeMetadata)
	b.emitTime(now)
	b.emitByte(MetadataContext)
	b.emitPtr(context)
	b.emitValue(0) // flags
	b.emitPtr(domain)
	b.unlock()
	t.sendIfChained()
	t.processRequests()
}

// threadStart emits the thread load record when a handle is attached.
func (t *Thread) threadStart() {
	t.emitMetadataBare(TypeEndLoad, MetadataThread, t.tid)
}

// OnThreadName records the thread's name.
func (t *Thread) OnThreadName(name string) {
	t.emitMetadataNamed(0, MetadataThread, t.tid, name)
}

// Detach emits the thread unload record, flushes everything the handle
// still owns and retires it. Must be the last call for this thread.
func (t *Thread) Detach() {
	if t.detached {
		return
	}

	b := t.ensure(EventSize + LEB128Size + EventSize + 2*LEB128Size)
	if b != nil && b.tryLock() {
		now := nowNanos()
		b.emitByte(TypeEndUnload | TypeMetadata)
		b.emitTime(now)
		b.emitByte(MetadataThread)
		b.emitPtr(t.tid)
		b.emitValue(0) // flags
		b.unlock()
	}

	buf := t.buf
	methods := t.methods
	t.buf = nil
	t.methods = nil
	t.detached = true

	t.prof.enqueue(methods, buf)

	t.prof.mu.Lock()
	delete(t.prof.threads, t.tid)
	t.prof.mu.Unlock()
}
