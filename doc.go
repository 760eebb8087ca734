// doc.go: Package documentation for mlpd
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package mlpd is an in-process runtime profiling event pipeline. It records
// execution events (allocations, GC phases, method enter/leave, JIT
// compiles, exceptions, monitor contention, statistical samples, heap shots,
// GC handles, coverage) delivered by a managed-runtime host, serializes them
// into the compact self-describing MLPD binary format, and ships them to a
// file, pipe or gzipped stream.
//
// The hot path is allocation-free: each attached thread owns a page-backed
// accumulation buffer it fills with delta-encoded events, sealed and handed
// to a single writer goroutine through a lock-free MPSC queue at safe
// points. Statistical samples bypass the per-thread path entirely through an
// async-safe ring drained by a helper goroutine.
//
// The host attaches each of its threads once and routes that thread's probe
// callbacks through the returned handle:
//
//	prof, err := mlpd.New(mlpd.Config{Filename: "app.mlpd"})
//	if err != nil { ... }
//	prof.Start()
//
//	t := prof.AttachThread(tid)
//	t.OnMethodEnter(method)
//	t.OnAlloc(obj, class)
//	t.OnMethodLeave(method)
//	t.Detach()
//
//	prof.Close()
//
// The decode package reads the format back; the report package and the
// mlpd-report command turn decoded event streams into aggregate text
// reports.
package mlpd
