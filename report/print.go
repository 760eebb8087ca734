// print.go: Text rendering of the aggregate reports
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/agilira/mlpd"
)

// Write renders the requested comma-separated report sections.
func (p *Profile) Write(w io.Writer, reports string) error {
	for _, name := range strings.Split(reports, ",") {
		switch strings.TrimSpace(name) {
		case "header":
			p.writeHeader(w)
		case "jit":
			p.writeJit(w)
		case "gc":
			p.writeGC(w)
		case "sample":
			p.writeSample(w)
		case "alloc":
			p.writeAlloc(w)
		case "call":
			p.writeCall(w)
		case "metadata":
			p.writeMetadata(w)
		case "exception":
			p.writeException(w)
		case "monitor":
			p.writeMonitor(w)
		case "thread":
			p.writeThread(w)
		case "heapshot":
			p.writeHeapShot(w)
		case "":
		default:
			return fmt.Errorf("unknown report: %s", name)
		}
	}

	p.writeTracked(w)
	p.writeFound(w)

	if p.opts.Verbose {
		for _, diag := range p.Diagnostics {
			fmt.Fprintf(w, "diagnostic: %s\n", diag)
		}
	}
	return nil
}

func msec(ns uint64) float64 { return float64(ns) / 1e6 }

func (p *Profile) writeHeader(w io.Writer) {
	h := p.Header
	fmt.Fprintf(w, "Trace header\n")
	fmt.Fprintf(w, "\tData version: %d (format %d.%d), pointer size: %d\n",
		h.DataVersion, h.VersionMajor, h.VersionMinor, h.PtrSize)
	fmt.Fprintf(w, "\tProgram startup: %s\n",
		time.UnixMilli(int64(h.StartupTime)).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "\tPid: %d, server port: %d, timer overhead: %d ns\n",
		h.Pid, h.Port, h.TimerOverhead)
	fmt.Fprintf(w, "\tTrace duration: %.3f s\n\n", p.relSeconds(p.endNanos))
}

func (p *Profile) writeJit(w io.Writer) {
	fmt.Fprintf(w, "JIT summary\n")
	fmt.Fprintf(w, "\tCompiled methods: %d\n", p.jitTotal)
	fmt.Fprintf(w, "\tGenerated code size: %d bytes\n", p.codeTotal)
	if p.opts.Verbose {
		for _, m := range p.jitted {
			fmt.Fprintf(w, "\t%s: %d bytes at 0x%x\n", m.Name, m.CodeSize, m.CodeStart)
		}
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeGC(w io.Writer) {
	fmt.Fprintf(w, "GC summary\n")
	fmt.Fprintf(w, "\tGC resizes: %d\n", p.gcResizes)
	fmt.Fprintf(w, "\tMax heap size: %d bytes\n", p.maxHeapSize)
	fmt.Fprintf(w, "\tObject moves: %d\n", p.objectMoves)
	for gen, g := range p.gcGens {
		if g.count == 0 {
			continue
		}
		fmt.Fprintf(w, "\tGen%d collections: %d, max time: %.3fms, total time: %.3fms, average: %.3fms\n",
			gen, g.count, msec(g.maxTime), msec(g.totalTime), msec(g.totalTime)/float64(g.count))
	}
	handleNames := [mlpd.HandleTypeCount]string{"weak", "weaktrack", "normal", "pinned"}
	for i, h := range p.handles {
		if h.created == 0 && h.destroyed == 0 {
			continue
		}
		fmt.Fprintf(w, "\tGC handles %s: created: %d, destroyed: %d, max: %d\n",
			handleNames[i], h.created, h.destroyed, h.maxLive)
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeSample(w io.Writer) {
	if p.sampleTotal == 0 {
		return
	}
	fmt.Fprintf(w, "Statistical samples summary\n")
	fmt.Fprintf(w, "\tSample type: cycles\n")
	fmt.Fprintf(w, "\tUnmanaged hits: %d\n", p.sampleUnresolved)

	stats := make([]*sampleStats, 0, len(p.samples))
	for _, s := range p.samples {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].count > stats[j].count })

	fmt.Fprintf(w, "\t%8s %8s  %s\n", "Hits", "%", "Method name")
	for _, s := range stats {
		fmt.Fprintf(w, "\t%8d %7.1f%%  %s\n",
			s.count, float64(s.count)*100/float64(p.sampleTotal), s.name)
	}
	if p.sampleUnresolved > 0 {
		fmt.Fprintf(w, "\t%8d %7.1f%%  unresolved\n",
			p.sampleUnresolved, float64(p.sampleUnresolved)*100/float64(p.sampleTotal))
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeAlloc(w io.Writer) {
	stats := make([]*allocStats, 0, len(p.classes))
	var totalBytes, totalCount uint64
	for _, s := range p.classes {
		stats = append(stats, s)
		totalBytes += s.bytes
		totalCount += s.count
	}
	sort.Slice(stats, func(i, j int) bool {
		if p.opts.AllocSort == "count" {
			return stats[i].count > stats[j].count
		}
		return stats[i].bytes > stats[j].bytes
	})

	fmt.Fprintf(w, "Allocation summary\n")
	fmt.Fprintf(w, "\tTotal: %d bytes in %d objects\n", totalBytes, totalCount)
	fmt.Fprintf(w, "\t%12s %10s %10s  %s\n", "Bytes", "Count", "Average", "Type name")
	for _, s := range stats {
		fmt.Fprintf(w, "\t%12d %10d %10d  %s\n",
			s.bytes, s.count, s.bytes/s.count, s.class.Name)
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeCall(w io.Writer) {
	if len(p.methods) == 0 {
		return
	}
	stats := make([]*methodStats, 0, len(p.methods))
	for _, s := range p.methods {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool {
		switch p.opts.MethodSort {
		case "self":
			return stats[i].self > stats[j].self
		case "calls":
			return stats[i].calls > stats[j].calls
		default:
			return stats[i].total > stats[j].total
		}
	})

	fmt.Fprintf(w, "Method call summary\n")
	fmt.Fprintf(w, "\t%12s %12s %10s  %s\n", "Total(ms)", "Self(ms)", "Calls", "Method name")
	for _, s := range stats {
		fmt.Fprintf(w, "\t%12.3f %12.3f %10d  %s\n",
			msec(s.total), msec(s.self), s.calls, s.method.Name)
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeMetadata(w io.Writer) {
	fmt.Fprintf(w, "Metadata summary\n")
	fmt.Fprintf(w, "\tLoaded images: %d\n", len(p.images))
	if p.opts.Verbose {
		for _, name := range p.images {
			fmt.Fprintf(w, "\t\t%s\n", name)
		}
	}
	fmt.Fprintf(w, "\tLoaded assemblies: %d\n", len(p.assemblies))
	if p.domains > 0 {
		fmt.Fprintf(w, "\tLoaded domains: %d\n", p.domains)
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeException(w io.Writer) {
	fmt.Fprintf(w, "Exception summary\n")
	fmt.Fprintf(w, "\tThrows: %d\n", p.throwCount)
	clauseNames := map[int]string{
		mlpd.ClauseNone:    "catch",
		mlpd.ClauseFilter:  "filter",
		mlpd.ClauseFinally: "finally",
		mlpd.ClauseFault:   "fault",
	}
	for typ, count := range p.clauseSummary {
		name := clauseNames[typ]
		if name == "" {
			name = fmt.Sprintf("clause %d", typ)
		}
		fmt.Fprintf(w, "\tExecuted %s clauses: %d\n", name, count)
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeMonitor(w io.Writer) {
	fmt.Fprintf(w, "Monitor lock summary\n")
	fmt.Fprintf(w, "\tLock contentions: %d\n", p.monitorContention)
	fmt.Fprintf(w, "\tLock acquired: %d\n", p.monitorAcquired)
	fmt.Fprintf(w, "\tLock failures: %d\n", p.monitorFailed)

	monitors := make([]*monitorStats, 0, len(p.monitors))
	for _, m := range p.monitors {
		monitors = append(monitors, m)
	}
	sort.Slice(monitors, func(i, j int) bool {
		return monitors[i].contentions > monitors[j].contentions
	})
	for _, m := range monitors {
		fmt.Fprintf(w, "\tLock object 0x%x: %d contentions, %.3fms total wait, %.3fms max wait\n",
			m.obj, m.contentions, msec(m.waitTime), msec(m.maxWaitTime))
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeThread(w io.Writer) {
	fmt.Fprintf(w, "Thread summary\n")
	ids := make([]uint64, 0, len(p.threads))
	for id := range p.threads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		t := p.threads[id]
		name := t.name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "\tThread: 0x%x, name: %q\n", id, name)
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeHeapShot(w io.Writer) {
	if len(p.heapShots) == 0 {
		return
	}
	fmt.Fprintf(w, "Heap shot summary\n")
	for i, hs := range p.heapShots {
		var liveBytes uint64
		perClass := make(map[string]*allocStats)
		for _, obj := range hs.Objects {
			liveBytes += obj.Size
			st := perClass[obj.Class.Name]
			if st == nil {
				st = &allocStats{class: obj.Class}
				perClass[obj.Class.Name] = st
			}
			st.count++
			st.bytes += obj.Size
		}

		fmt.Fprintf(w, "\tHeap shot %d at %.3f secs: size: %d, object count: %d, roots: %d\n",
			i, p.relSeconds(hs.StartTime), liveBytes, len(hs.Objects), len(hs.Roots))

		stats := make([]*allocStats, 0, len(perClass))
		for _, s := range perClass {
			stats = append(stats, s)
		}
		sort.Slice(stats, func(a, b int) bool { return stats[a].bytes > stats[b].bytes })
		fmt.Fprintf(w, "\t%12s %10s %10s  %s\n", "Bytes", "Count", "Average", "Type name")
		for _, s := range stats {
			fmt.Fprintf(w, "\t%12d %10d %10d  %s\n",
				s.bytes, s.count, s.bytes/s.count, s.class.Name)
		}

		if p.opts.Traces {
			rootNames := map[int]string{
				mlpd.RootStack:     "stack",
				mlpd.RootFinalizer: "finalizer",
				mlpd.RootHandle:    "handle",
				mlpd.RootOther:     "other",
				mlpd.RootMisc:      "misc",
			}
			for addr, kind := range hs.Roots {
				name := rootNames[kind]
				if name == "" {
					name = fmt.Sprintf("kind %d", kind)
				}
				fmt.Fprintf(w, "\troot 0x%x (%s)\n", addr, name)
			}
		}
	}
	fmt.Fprintln(w)
}

func (p *Profile) writeTracked(w io.Writer) {
	seen := make(map[*trackedObject]bool)
	for _, obj := range p.tracked {
		if obj == nil || seen[obj] || len(obj.lines) == 0 {
			continue
		}
		seen[obj] = true
		fmt.Fprintf(w, "Tracked object 0x%x\n", obj.addr)
		for _, line := range obj.lines {
			fmt.Fprintf(w, "\t%s\n", line)
		}
		fmt.Fprintln(w)
	}
}

func (p *Profile) writeFound(w io.Writer) {
	if len(p.found) == 0 {
		return
	}
	fmt.Fprintf(w, "Matching objects\n")
	for _, addr := range p.found {
		fmt.Fprintf(w, "\tobject 0x%x\n", addr)
	}
	fmt.Fprintln(w)
}
