// clock.go: Monotonic event clock and cached coarse time
//
// Event timestamps use Go's monotonic clock, anchored at package init so all
// deltas stay small. The file header's wall-clock startup time goes through
// go-timecache, which trades ~0.5ms precision for zero-allocation reads.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"time"

	timecache "github.com/agilira/go-timecache"
)

var processStart = time.Now()

// nowNanos returns monotonic nanoseconds since process start. This is the
// time base for every event in the trace.
func nowNanos() uint64 {
	return uint64(time.Since(processStart).Nanoseconds())
}

// cachedUnixMilli returns the cached wall-clock time in Unix milliseconds,
// used for the file header's startup timestamp.
func cachedUnixMilli() uint64 {
	return uint64(timecache.CachedTimeNano() / int64(time.Millisecond))
}

// timerOverhead estimates the cost of one nowNanos call in nanoseconds.
// Recorded in the file header so reports can discount probe overhead.
func timerOverhead() uint32 {
	start := nowNanos()
	for i := 0; i < 256; i++ {
		nowNanos()
	}
	end := nowNanos()
	return uint32((end - start) / 256)
}
