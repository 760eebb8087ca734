// track.go: Per-object tracking across allocation, moves and references
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package report

import (
	"fmt"

	"github.com/agilira/mlpd/decode"
)

func (p *Profile) trackAlloc(e *decode.AllocEvent) {
	obj := p.tracked[e.Obj]
	if obj == nil {
		return
	}
	obj.lines = append(obj.lines, fmt.Sprintf(
		"object 0x%x (%s, %d bytes) created at %.3fs",
		e.Obj, e.Class.Name, e.Size, p.relSeconds(e.Time())))
}

func (p *Profile) trackMove(from, to uint64, when uint64) {
	obj := p.tracked[from]
	if obj == nil {
		return
	}
	obj.lines = append(obj.lines, fmt.Sprintf(
		"object 0x%x moved to 0x%x at %.3fs", from, to, p.relSeconds(when)))
	// keep following the object at its new address
	if _, exists := p.tracked[to]; !exists {
		p.tracked[to] = obj
	}
}

func (p *Profile) trackRef(referrer, ref uint64, class *decode.ClassDesc) {
	obj := p.tracked[ref]
	if obj == nil {
		return
	}
	obj.lines = append(obj.lines, fmt.Sprintf(
		"object 0x%x referenced by 0x%x (%s)", ref, referrer, class.Name))
}

func (p *Profile) relSeconds(t uint64) float64 {
	if t < p.startNanos {
		return 0
	}
	return float64(t-p.startNanos) / 1e9
}
