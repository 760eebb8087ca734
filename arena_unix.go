//go:build unix

// arena_unix.go: Page-backed buffer arena
//
// Buffers come straight from anonymous mappings and go straight back to the
// OS on free. There is no pooling: freshly mapped pages guarantee no stale
// bytes can leak into the trace if an encode is aborted mid-write.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"github.com/agilira/go-errors"
	"golang.org/x/sys/unix"
)

func allocPages(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAllocFailed, "anonymous mapping failed")
	}
	return mem, nil
}

func freePages(mem []byte) {
	if mem != nil {
		_ = unix.Munmap(mem)
	}
}
