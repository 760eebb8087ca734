// errors.go: Error definitions for the ringq MPSC ring
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ringq

import "errors"

var (
	// ErrMissingProcessor is returned when no processor function is provided.
	ErrMissingProcessor = errors.New("processor function is required")

	// ErrInvalidCapacity is returned when ring capacity is invalid.
	ErrInvalidCapacity = errors.New("capacity must be power of two and greater than zero")

	// ErrInvalidBatchSize is returned when batch size is invalid.
	ErrInvalidBatchSize = errors.New("batch size must be positive and not exceed capacity")
)
