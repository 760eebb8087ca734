// decode.go: MLPD trace decoder
//
// The decoder mirrors the writer state machine: it snapshots the delta bases
// from each 48-byte frame header, then walks the payload tag by tag,
// reconstructing absolute times and pointers. Header-level problems are
// fatal; a bad tag or truncated value inside a buffer abandons that buffer
// with a diagnostic and decoding resumes at the next frame.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package decode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/agilira/go-errors"
	"github.com/klauspost/compress/gzip"

	"github.com/agilira/mlpd"
)

// Error codes for the decoder.
const (
	ErrCodeBadMagic   errors.ErrorCode = "MLPD_BAD_MAGIC"
	ErrCodeBadVersion errors.ErrorCode = "MLPD_BAD_VERSION"
	ErrCodeTruncated  errors.ErrorCode = "MLPD_TRUNCATED"
	ErrCodeMalformed  errors.ErrorCode = "MLPD_MALFORMED_BUFFER"
)

// Header is the decoded 32-byte file header.
type Header struct {
	VersionMajor  int
	VersionMinor  int
	DataVersion   int
	PtrSize       int
	StartupTime   uint64 // wall clock, ms since the Unix epoch
	TimerOverhead uint32
	Flags         uint32
	Pid           uint32
	Port          uint16
	OS            uint16
}

// bufState is the in-flight frame being decoded.
type bufState struct {
	payload []byte
	off     int

	timeBase   uint64
	ptrBase    uint64
	objBase    uint64
	methodBase uint64

	thread *threadContext
}

// counterState accumulates integer counter deltas into absolute values.
type counterState struct {
	typ  int
	last int64
}

// Decoder reads an MLPD stream and yields resolved events.
type Decoder struct {
	r      *bufio.Reader
	header Header

	tables   *tables
	threads  map[uint64]*threadContext
	counters map[int]*counterState

	cur   *bufState
	diags []string

	// startupNanos is the time base of the first buffer, used by reports
	// as the trace's zero point.
	startupNanos uint64
	haveStartup  bool
}

// NewDecoder wraps a reader, transparently unwrapping gzip, and validates
// the file header.
func NewDecoder(r io.Reader) (*Decoder, error) {
	br := bufio.NewReaderSize(r, 1<<16)

	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeBadMagic, "cannot open gzip stream")
		}
		br = bufio.NewReaderSize(gz, 1<<16)
	}

	var hbuf [mlpd.FileHeaderSize]byte
	if _, err := io.ReadFull(br, hbuf[:]); err != nil {
		return nil, errors.Wrap(err, ErrCodeTruncated, "cannot read file header")
	}
	if binary.LittleEndian.Uint32(hbuf[0:]) != mlpd.LogHeaderID {
		return nil, errors.New(ErrCodeBadMagic, "not an MLPD trace file")
	}

	d := &Decoder{
		r:        br,
		tables:   newTables(),
		threads:  make(map[uint64]*threadContext),
		counters: make(map[int]*counterState),
		header: Header{
			VersionMajor:  int(hbuf[4]),
			VersionMinor:  int(hbuf[5]),
			DataVersion:   int(hbuf[6]),
			PtrSize:       int(hbuf[7]),
			StartupTime:   binary.LittleEndian.Uint64(hbuf[8:]),
			TimerOverhead: binary.LittleEndian.Uint32(hbuf[16:]),
			Flags:         binary.LittleEndian.Uint32(hbuf[20:]),
			Pid:           binary.LittleEndian.Uint32(hbuf[24:]),
			Port:          binary.LittleEndian.Uint16(hbuf[28:]),
			OS:            binary.LittleEndian.Uint16(hbuf[30:]),
		},
	}

	if d.header.DataVersion > mlpd.LogDataVersion {
		return nil, errors.New(ErrCodeBadVersion,
			fmt.Sprintf("unsupported data version %d", d.header.DataVersion))
	}
	if d.header.Flags != 0 {
		return nil, errors.New(ErrCodeBadVersion, "unsupported header flags")
	}

	return d, nil
}

// Header returns the decoded file header.
func (d *Decoder) Header() Header { return d.header }

// Diagnostics returns the non-fatal problems seen so far.
func (d *Decoder) Diagnostics() []string { return d.diags }

// StartupNanos returns the event-clock value of the first buffer, the zero
// point for time filtering.
func (d *Decoder) StartupNanos() uint64 { return d.startupNanos }

// LookupMethodByAddr finds the jitted method covering a code address.
func (d *Decoder) LookupMethodByAddr(addr uint64) *MethodDesc {
	for _, m := range d.tables.methods {
		if m.Resolved && m.CodeSize > 0 && addr >= m.CodeStart && addr < m.CodeStart+m.CodeSize {
			return m
		}
	}
	return nil
}

func (d *Decoder) diag(format string, args ...any) {
	d.diags = append(d.diags, fmt.Sprintf(format, args...))
}

// Next returns the next decoded event, or io.EOF at end of stream.
func (d *Decoder) Next() (Event, error) {
	for {
		if d.cur == nil {
			if err := d.loadBuffer(); err != nil {
				return nil, err
			}
		}
		if d.cur.off >= len(d.cur.payload) {
			d.cur.thread.lastTime = d.cur.timeBase
			d.cur = nil
			continue
		}

		ev, err := d.decodeEvent(d.cur)
		if err != nil {
			d.diag("abandoning buffer for thread 0x%x: %v", d.cur.thread.id, err)
			d.cur = nil
			continue
		}
		if ev == nil {
			continue
		}
		return ev, nil
	}
}

// loadBuffer reads the next 48-byte frame header and its payload.
func (d *Decoder) loadBuffer() error {
	var hbuf [mlpd.BufHeaderSize]byte
	if _, err := io.ReadFull(d.r, hbuf[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		// A truncated tail is tolerated: whole buffers only.
		d.diag("truncated buffer header at end of stream")
		return io.EOF
	}

	if binary.LittleEndian.Uint32(hbuf[0:]) != mlpd.BufID {
		d.diag("incorrect buffer id 0x%x, stopping",
			binary.LittleEndian.Uint32(hbuf[0:]))
		return io.EOF
	}

	length := binary.LittleEndian.Uint32(hbuf[4:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		d.diag("truncated buffer payload at end of stream")
		return io.EOF
	}

	tid := binary.LittleEndian.Uint64(hbuf[32:])
	cur := &bufState{
		payload:    payload,
		timeBase:   binary.LittleEndian.Uint64(hbuf[8:]),
		ptrBase:    binary.LittleEndian.Uint64(hbuf[16:]),
		objBase:    binary.LittleEndian.Uint64(hbuf[24:]),
		methodBase: binary.LittleEndian.Uint64(hbuf[40:]),
		thread:     d.thread(tid),
	}
	if !d.haveStartup {
		d.startupNanos = cur.timeBase
		d.haveStartup = true
	}
	d.cur = cur
	return nil
}

// Primitive readers over the current buffer.

func (b *bufState) u8() (byte, error) {
	if b.off >= len(b.payload) {
		return 0, errors.New(ErrCodeMalformed, "event truncated")
	}
	v := b.payload[b.off]
	b.off++
	return v, nil
}

func (b *bufState) uleb() (uint64, error) {
	v, n, err := mlpd.Uleb128(b.payload[b.off:])
	if err != nil {
		return 0, err
	}
	b.off += n
	return v, nil
}

func (b *bufState) sleb() (int64, error) {
	v, n, err := mlpd.Sleb128(b.payload[b.off:])
	if err != nil {
		return 0, err
	}
	b.off += n
	return v, nil
}

func (b *bufState) str() (string, error) {
	for i := b.off; i < len(b.payload); i++ {
		if b.payload[i] == 0 {
			s := string(b.payload[b.off:i])
			b.off = i + 1
			return s, nil
		}
	}
	return "", errors.New(ErrCodeMalformed, "unterminated string")
}

// time advances the reconstructed absolute time by one delta.
func (b *bufState) time() (uint64, error) {
	tdiff, err := b.uleb()
	if err != nil {
		return 0, err
	}
	b.timeBase += tdiff
	return b.timeBase, nil
}

// ptr reconstructs a pointer-base relative value.
func (b *bufState) ptr() (uint64, error) {
	diff, err := b.sleb()
	if err != nil {
		return 0, err
	}
	return b.ptrBase + uint64(diff), nil
}

// obj reconstructs a shifted object address.
func (b *bufState) obj() (uint64, error) {
	diff, err := b.sleb()
	if err != nil {
		return 0, err
	}
	return (b.objBase + uint64(diff)) << 3, nil
}

// method advances the running method value by one delta.
func (b *bufState) method() (uint64, error) {
	diff, err := b.sleb()
	if err != nil {
		return 0, err
	}
	b.methodBase += uint64(diff)
	return b.methodBase, nil
}

// backtrace decodes an embedded backtrace: flags, count, then methods
// encoded against the pointer base.
func (d *Decoder) backtrace(b *bufState) ([]*MethodDesc, error) {
	if _, err := b.uleb(); err != nil { // flags
		return nil, err
	}
	count, err := b.uleb()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(b.payload)) {
		return nil, errors.New(ErrCodeMalformed, "implausible backtrace length")
	}
	frames := make([]*MethodDesc, 0, count)
	for i := uint64(0); i < count; i++ {
		m, err := b.ptr()
		if err != nil {
			return nil, err
		}
		frames = append(frames, d.tables.lookupMethod(m))
	}
	return frames, nil
}

// decodeEvent parses one event at the current offset.
func (d *Decoder) decodeEvent(b *bufState) (Event, error) {
	tag, err := b.u8()
	if err != nil {
		return nil, err
	}

	switch int(tag & 0xf) {
	case mlpd.TypeAlloc:
		return d.decodeAlloc(b, tag)
	case mlpd.TypeGC:
		return d.decodeGC(b, tag)
	case mlpd.TypeMetadata:
		return d.decodeMetadata(b, tag)
	case mlpd.TypeMethod:
		return d.decodeMethod(b, tag)
	case mlpd.TypeException:
		return d.decodeException(b, tag)
	case mlpd.TypeMonitor:
		return d.decodeMonitor(b, tag)
	case mlpd.TypeHeap:
		return d.decodeHeap(b, tag)
	case mlpd.TypeSample:
		return d.decodeSample(b, tag)
	case mlpd.TypeRuntime:
		return d.decodeRuntime(b, tag)
	case mlpd.TypeCoverage:
		return d.decodeCoverage(b, tag)
	case mlpd.TypeEnd:
		// Terminal sentinel: the rest of the buffer is unused.
		b.off = len(b.payload)
		return nil, nil
	default:
		return nil, errors.New(ErrCodeMalformed,
			fmt.Sprintf("unhandled event tag 0x%x at offset %d", tag, b.off-1))
	}
}

func (d *Decoder) decodeAlloc(b *bufState, tag byte) (Event, error) {
	now, err := b.time()
	if err != nil {
		return nil, err
	}
	classPtr, err := b.ptr()
	if err != nil {
		return nil, err
	}
	obj, err := b.obj()
	if err != nil {
		return nil, err
	}
	size, err := b.uleb()
	if err != nil {
		return nil, err
	}
	ev := &AllocEvent{
		base:  base{time: now, tid: b.thread.id},
		Class: d.tables.lookupClass(classPtr),
		Obj:   obj,
		Size:  size,
	}
	if tag&mlpd.TypeAllocBT != 0 {
		if ev.Backtrace, err = d.backtrace(b); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func (d *Decoder) decodeGC(b *bufState, tag byte) (Event, error) {
	subtype := tag & 0x70
	hasBT := tag&0x80 != 0
	now, err := b.time()
	if err != nil {
		return nil, err
	}

	switch subtype {
	case mlpd.TypeGCEvent:
		ev, err := b.uleb()
		if err != nil {
			return nil, err
		}
		gen, err := b.uleb()
		if err != nil {
			return nil, err
		}
		return &GCEvent{
			base:       base{time: now, tid: b.thread.id},
			Event:      int(ev),
			Generation: int(gen),
		}, nil

	case mlpd.TypeGCResize:
		size, err := b.uleb()
		if err != nil {
			return nil, err
		}
		return &GCResizeEvent{base: base{time: now, tid: b.thread.id}, NewSize: size}, nil

	case mlpd.TypeGCMove:
		num, err := b.uleb()
		if err != nil {
			return nil, err
		}
		moves := make([]uint64, 0, num)
		for i := uint64(0); i < num; i++ {
			obj, err := b.obj()
			if err != nil {
				return nil, err
			}
			moves = append(moves, obj)
		}
		return &GCMoveEvent{base: base{time: now, tid: b.thread.id}, Moves: moves}, nil

	case mlpd.TypeGCHandleCreated, mlpd.TypeGCHandleDestroyed:
		htype, err := b.uleb()
		if err != nil {
			return nil, err
		}
		handle, err := b.uleb()
		if err != nil {
			return nil, err
		}
		ev := &GCHandleEvent{
			base:       base{time: now, tid: b.thread.id},
			Created:    subtype == mlpd.TypeGCHandleCreated,
			HandleType: int(htype),
			Handle:     handle,
		}
		if ev.Created {
			if ev.Obj, err = b.obj(); err != nil {
				return nil, err
			}
		}
		if hasBT {
			if ev.Backtrace, err = d.backtrace(b); err != nil {
				return nil, err
			}
		}
		return ev, nil

	default:
		return nil, errors.New(ErrCodeMalformed,
			fmt.Sprintf("unknown gc subtype 0x%x", subtype))
	}
}

func (d *Decoder) decodeMetadata(b *bufState, tag byte) (Event, error) {
	loadErr := tag&mlpd.TypeLoadErr != 0
	op := MetadataName
	switch tag & 0x70 {
	case mlpd.TypeEndLoad:
		op = MetadataLoad
	case mlpd.TypeEndUnload:
		op = MetadataUnload
	case 0:
	default:
		return nil, errors.New(ErrCodeMalformed,
			fmt.Sprintf("unknown metadata subtype 0x%x", tag&0x70))
	}

	now, err := b.time()
	if err != nil {
		return nil, err
	}
	kind, err := b.u8()
	if err != nil {
		return nil, err
	}
	ptr, err := b.ptr()
	if err != nil {
		return nil, err
	}

	ev := &MetadataEvent{
		base:         base{time: now, tid: b.thread.id},
		Op:           op,
		MetadataKind: int(kind),
		Ptr:          ptr,
	}

	switch int(kind) {
	case mlpd.MetadataClass:
		image, err := b.ptr()
		if err != nil {
			return nil, err
		}
		ev.Extra = image
		if _, err := b.uleb(); err != nil { // flags
			return nil, err
		}
		if ev.Name, err = b.str(); err != nil {
			return nil, err
		}
		if !loadErr && op != MetadataUnload {
			d.tables.addClass(ptr, ev.Name, d.tables.lookupImage(image))
		}

	case mlpd.MetadataImage:
		if _, err := b.uleb(); err != nil { // flags
			return nil, err
		}
		if ev.Name, err = b.str(); err != nil {
			return nil, err
		}
		if !loadErr && op != MetadataUnload {
			d.tables.addImage(ptr, ev.Name)
		}

	case mlpd.MetadataAssembly:
		if _, err := b.uleb(); err != nil { // flags
			return nil, err
		}
		if ev.Name, err = b.str(); err != nil {
			return nil, err
		}

	case mlpd.MetadataThread:
		if _, err := b.uleb(); err != nil { // flags
			return nil, err
		}
		if op == MetadataName {
			if ev.Name, err = b.str(); err != nil {
				return nil, err
			}
			d.thread(ptr).name = ev.Name
		}

	case mlpd.MetadataDomain:
		if _, err := b.uleb(); err != nil { // flags
			return nil, err
		}
		if op == MetadataName {
			if ev.Name, err = b.str(); err != nil {
				return nil, err
			}
		}

	case mlpd.MetadataContext:
		if _, err := b.uleb(); err != nil { // flags
			return nil, err
		}
		if ev.Extra, err = b.ptr(); err != nil {
			return nil, err
		}

	default:
		return nil, errors.New(ErrCodeMalformed,
			fmt.Sprintf("unknown metadata kind %d", kind))
	}

	return ev, nil
}

func (d *Decoder) decodeMethod(b *bufState, tag byte) (Event, error) {
	subtype := tag & 0xf0
	now, err := b.time()
	if err != nil {
		return nil, err
	}
	m, err := b.method()
	if err != nil {
		return nil, err
	}

	if subtype == mlpd.TypeJit {
		codeStart, err := b.ptr()
		if err != nil {
			return nil, err
		}
		codeSize, err := b.uleb()
		if err != nil {
			return nil, err
		}
		name, err := b.str()
		if err != nil {
			return nil, err
		}
		desc := d.tables.addMethod(m, name, codeStart, codeSize)
		return &JitEvent{base: base{time: now, tid: b.thread.id}, Method: desc}, nil
	}

	desc := d.tables.lookupMethod(m)
	ctx := b.thread
	ev := &MethodEvent{
		base:   base{time: now, tid: ctx.id},
		Method: desc,
	}
	switch subtype {
	case mlpd.TypeEnter:
		ev.Op = MethodEnter
		if !ctx.brokenStack {
			ctx.stack = append(ctx.stack, desc)
		}
	case mlpd.TypeLeave, mlpd.TypeExcLeave:
		ev.Op = MethodLeave
		if subtype == mlpd.TypeExcLeave {
			ev.Op = MethodExcLeave
		}
		if !ctx.brokenStack {
			if len(ctx.stack) == 0 {
				ctx.brokenStack = true
				d.diag("unbalanced leave on thread 0x%x; stack tracking stopped", ctx.id)
			} else {
				ctx.stack = ctx.stack[:len(ctx.stack)-1]
			}
		}
	default:
		return nil, errors.New(ErrCodeMalformed,
			fmt.Sprintf("unknown method subtype 0x%x", subtype))
	}
	ev.Depth = len(ctx.stack)
	return ev, nil
}

func (d *Decoder) decodeException(b *bufState, tag byte) (Event, error) {
	subtype := tag & 0x70
	hasBT := tag&mlpd.TypeExceptionBT != 0
	now, err := b.time()
	if err != nil {
		return nil, err
	}

	if subtype == mlpd.TypeClause {
		clauseType, err := b.uleb()
		if err != nil {
			return nil, err
		}
		clauseNum, err := b.uleb()
		if err != nil {
			return nil, err
		}
		m, err := b.method()
		if err != nil {
			return nil, err
		}
		return &ClauseEvent{
			base:       base{time: now, tid: b.thread.id},
			ClauseType: int(clauseType),
			ClauseNum:  int(clauseNum),
			Method:     d.tables.lookupMethod(m),
		}, nil
	}

	obj, err := b.obj()
	if err != nil {
		return nil, err
	}
	ev := &ThrowEvent{base: base{time: now, tid: b.thread.id}, Obj: obj}
	if hasBT {
		if ev.Backtrace, err = d.backtrace(b); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func (d *Decoder) decodeMonitor(b *bufState, tag byte) (Event, error) {
	op := int(tag>>4) & 0x3
	hasBT := tag&mlpd.TypeMonitorBT != 0
	now, err := b.time()
	if err != nil {
		return nil, err
	}
	obj, err := b.obj()
	if err != nil {
		return nil, err
	}
	ev := &MonitorEvent{base: base{time: now, tid: b.thread.id}, Op: op, Obj: obj}
	if hasBT {
		if ev.Backtrace, err = d.backtrace(b); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func (d *Decoder) decodeHeap(b *bufState, tag byte) (Event, error) {
	subtype := tag & 0xf0
	ctx := b.thread

	switch subtype {
	case mlpd.TypeHeapStart:
		now, err := b.time()
		if err != nil {
			return nil, err
		}
		ctx.inHeapShot = true
		return &HeapStartEvent{base{time: now, tid: ctx.id}}, nil

	case mlpd.TypeHeapEnd:
		now, err := b.time()
		if err != nil {
			return nil, err
		}
		ctx.inHeapShot = false
		return &HeapEndEvent{base{time: now, tid: ctx.id}}, nil

	case mlpd.TypeHeapObject:
		obj, err := b.obj()
		if err != nil {
			return nil, err
		}
		classPtr, err := b.ptr()
		if err != nil {
			return nil, err
		}
		size, err := b.uleb()
		if err != nil {
			return nil, err
		}
		num, err := b.uleb()
		if err != nil {
			return nil, err
		}
		if num > uint64(len(b.payload)) {
			return nil, errors.New(ErrCodeMalformed, "implausible reference count")
		}
		ev := &HeapObjectEvent{
			base:  base{time: b.timeBase, tid: ctx.id},
			Obj:   obj,
			Class: d.tables.lookupClass(classPtr),
			Size:  size,
		}
		lastOffset := uint64(0)
		for i := uint64(0); i < num; i++ {
			offDelta, err := b.uleb()
			if err != nil {
				return nil, err
			}
			lastOffset += offDelta
			ref, err := b.obj()
			if err != nil {
				return nil, err
			}
			ev.RefOffsets = append(ev.RefOffsets, lastOffset)
			ev.Refs = append(ev.Refs, ref)
		}
		return ev, nil

	case mlpd.TypeHeapRoot:
		num, err := b.uleb()
		if err != nil {
			return nil, err
		}
		collections, err := b.uleb()
		if err != nil {
			return nil, err
		}
		if num > uint64(len(b.payload)) {
			return nil, errors.New(ErrCodeMalformed, "implausible root count")
		}
		ev := &HeapRootsEvent{
			base:        base{time: b.timeBase, tid: ctx.id},
			Collections: collections,
		}
		for i := uint64(0); i < num; i++ {
			obj, err := b.obj()
			if err != nil {
				return nil, err
			}
			kind, err := b.uleb()
			if err != nil {
				return nil, err
			}
			extra, err := b.uleb()
			if err != nil {
				return nil, err
			}
			ev.Roots = append(ev.Roots, HeapRoot{Obj: obj, Kind: int(kind), Extra: extra})
		}
		return ev, nil

	default:
		return nil, errors.New(ErrCodeMalformed,
			fmt.Sprintf("unknown heap subtype 0x%x", subtype))
	}
}

func (d *Decoder) decodeSample(b *bufState, tag byte) (Event, error) {
	subtype := tag & 0xf0

	switch subtype {
	case mlpd.TypeSampleHit:
		sampleType, err := b.uleb()
		if err != nil {
			return nil, err
		}
		tstamp, err := b.uleb()
		if err != nil {
			return nil, err
		}
		tid, err := b.ptr()
		if err != nil {
			return nil, err
		}
		count, err := b.uleb()
		if err != nil {
			return nil, err
		}
		if count > uint64(len(b.payload)) {
			return nil, errors.New(ErrCodeMalformed, "implausible sample ip count")
		}
		ev := &SampleHitEvent{
			base:       base{time: tstamp, tid: b.thread.id},
			SampleType: int(sampleType),
			SampleTid:  tid,
		}
		for i := uint64(0); i < count; i++ {
			ip, err := b.ptr()
			if err != nil {
				return nil, err
			}
			ev.IPs = append(ev.IPs, ip)
		}
		managed, err := b.uleb()
		if err != nil {
			return nil, err
		}
		if managed > uint64(len(b.payload)) {
			return nil, errors.New(ErrCodeMalformed, "implausible sample frame count")
		}
		for i := uint64(0); i < managed; i++ {
			m, err := b.method()
			if err != nil {
				return nil, err
			}
			il, err := b.sleb()
			if err != nil {
				return nil, err
			}
			native, err := b.sleb()
			if err != nil {
				return nil, err
			}
			ev.Frames = append(ev.Frames, SampleFrame{
				Method:       d.tables.lookupMethod(m),
				ILOffset:     il,
				NativeOffset: native,
			})
		}
		return ev, nil

	case mlpd.TypeSampleUSym:
		addr, err := b.ptr()
		if err != nil {
			return nil, err
		}
		size, err := b.uleb()
		if err != nil {
			return nil, err
		}
		name, err := b.str()
		if err != nil {
			return nil, err
		}
		return &USymEvent{
			base: base{time: b.timeBase, tid: b.thread.id},
			Addr: addr, Size: size, Name: name,
		}, nil

	case mlpd.TypeSampleUBin:
		now, err := b.time()
		if err != nil {
			return nil, err
		}
		addr, err := b.sleb()
		if err != nil {
			return nil, err
		}
		offset, err := b.uleb()
		if err != nil {
			return nil, err
		}
		size, err := b.uleb()
		if err != nil {
			return nil, err
		}
		name, err := b.str()
		if err != nil {
			return nil, err
		}
		return &UBinEvent{
			base: base{time: now, tid: b.thread.id},
			Addr: uint64(addr), Offset: offset, Size: size, Name: name,
		}, nil

	case mlpd.TypeSampleCountersDesc:
		count, err := b.uleb()
		if err != nil {
			return nil, err
		}
		if count > uint64(len(b.payload)) {
			return nil, errors.New(ErrCodeMalformed, "implausible counter count")
		}
		ev := &CountersDescEvent{base: base{time: b.timeBase, tid: b.thread.id}}
		for i := uint64(0); i < count; i++ {
			section, err := b.uleb()
			if err != nil {
				return nil, err
			}
			name, err := b.str()
			if err != nil {
				return nil, err
			}
			typ, err := b.uleb()
			if err != nil {
				return nil, err
			}
			unit, err := b.uleb()
			if err != nil {
				return nil, err
			}
			variance, err := b.uleb()
			if err != nil {
				return nil, err
			}
			index, err := b.uleb()
			if err != nil {
				return nil, err
			}
			d.counters[int(index)] = &counterState{typ: int(typ)}
			ev.Counters = append(ev.Counters, CounterDesc{
				Section: int(section), Name: name, Type: int(typ),
				Unit: int(unit), Variance: int(variance), Index: int(index),
			})
		}
		return ev, nil

	case mlpd.TypeSampleCounters:
		timestamp, err := b.uleb()
		if err != nil {
			return nil, err
		}
		ev := &CountersEvent{
			base:      base{time: b.timeBase, tid: b.thread.id},
			Timestamp: timestamp,
		}
		for {
			index, err := b.uleb()
			if err != nil {
				return nil, err
			}
			if index == 0 {
				break
			}
			typ, err := b.uleb()
			if err != nil {
				return nil, err
			}
			val := CounterValue{Index: int(index), Type: int(typ)}
			state := d.counters[int(index)]
			if state == nil {
				state = &counterState{typ: int(typ)}
				d.counters[int(index)] = state
			}
			switch int(typ) {
			case mlpd.CounterDouble:
				if b.off+8 > len(b.payload) {
					return nil, errors.New(ErrCodeMalformed, "truncated double counter")
				}
				val.FloatVal = float64FromBits(b.payload[b.off:])
				b.off += 8
			case mlpd.CounterString:
				marker, err := b.u8()
				if err != nil {
					return nil, err
				}
				if marker != 0 {
					if val.StrValue, err = b.str(); err != nil {
						return nil, err
					}
				}
			case mlpd.CounterUInt, mlpd.CounterULong:
				delta, err := b.uleb()
				if err != nil {
					return nil, err
				}
				state.last += int64(delta)
				val.IntValue = state.last
			default:
				delta, err := b.sleb()
				if err != nil {
					return nil, err
				}
				state.last += delta
				val.IntValue = state.last
			}
			ev.Values = append(ev.Values, val)
		}
		return ev, nil

	default:
		return nil, errors.New(ErrCodeMalformed,
			fmt.Sprintf("unknown sample subtype 0x%x", subtype))
	}
}

func (d *Decoder) decodeRuntime(b *bufState, tag byte) (Event, error) {
	if tag&0xf0 != mlpd.TypeJitHelper {
		return nil, errors.New(ErrCodeMalformed,
			fmt.Sprintf("unknown runtime subtype 0x%x", tag&0xf0))
	}
	now, err := b.time()
	if err != nil {
		return nil, err
	}
	bufferType, err := b.uleb()
	if err != nil {
		return nil, err
	}
	addr, err := b.ptr()
	if err != nil {
		return nil, err
	}
	size, err := b.uleb()
	if err != nil {
		return nil, err
	}
	name, err := b.str()
	if err != nil {
		return nil, err
	}
	return &JitHelperEvent{
		base:       base{time: now, tid: b.thread.id},
		BufferType: int(bufferType),
		Addr:       addr,
		Size:       size,
		Name:       name,
	}, nil
}

func (d *Decoder) decodeCoverage(b *bufState, tag byte) (Event, error) {
	switch tag & 0xf0 {
	case mlpd.TypeCoverageMethod:
		ev := &CoverageMethodEvent{base: base{time: b.timeBase, tid: b.thread.id}}
		var err error
		if ev.ImageName, err = b.str(); err != nil {
			return nil, err
		}
		if ev.ClassName, err = b.str(); err != nil {
			return nil, err
		}
		if ev.MethodName, err = b.str(); err != nil {
			return nil, err
		}
		if ev.Signature, err = b.str(); err != nil {
			return nil, err
		}
		if ev.Filename, err = b.str(); err != nil {
			return nil, err
		}
		if ev.Token, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.MethodID, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.Entries, err = b.uleb(); err != nil {
			return nil, err
		}
		return ev, nil

	case mlpd.TypeCoverageStatement:
		ev := &CoverageStatementEvent{base: base{time: b.timeBase, tid: b.thread.id}}
		var err error
		if ev.MethodID, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.ILOffset, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.Counter, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.Line, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.Column, err = b.uleb(); err != nil {
			return nil, err
		}
		return ev, nil

	case mlpd.TypeCoverageClass:
		ev := &CoverageClassEvent{base: base{time: b.timeBase, tid: b.thread.id}}
		var err error
		if ev.AssemblyName, err = b.str(); err != nil {
			return nil, err
		}
		if ev.ClassName, err = b.str(); err != nil {
			return nil, err
		}
		if ev.Methods, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.FullyCovered, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.PartiallyCovered, err = b.uleb(); err != nil {
			return nil, err
		}
		return ev, nil

	case mlpd.TypeCoverageAssembly:
		ev := &CoverageAssemblyEvent{base: base{time: b.timeBase, tid: b.thread.id}}
		var err error
		if ev.Name, err = b.str(); err != nil {
			return nil, err
		}
		if ev.GUID, err = b.str(); err != nil {
			return nil, err
		}
		if ev.Filename, err = b.str(); err != nil {
			return nil, err
		}
		if ev.Methods, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.FullyCovered, err = b.uleb(); err != nil {
			return nil, err
		}
		if ev.PartiallyCovered, err = b.uleb(); err != nil {
			return nil, err
		}
		return ev, nil

	default:
		return nil, errors.New(ErrCodeMalformed,
			fmt.Sprintf("unknown coverage subtype 0x%x", tag&0xf0))
	}
}

func float64FromBits(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}
