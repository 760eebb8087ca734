// errors.go: Error handling integration for the MLPD profiler
//
// Probe callbacks never surface errors to the host runtime; anything that
// goes wrong on the producer side degrades to a dropped event. Errors that
// matter to an operator (sink failures, bad configuration) flow through a
// pluggable handler, keeping the hot path free of error plumbing.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"fmt"
	"os"

	"github.com/agilira/go-errors"
)

// Error codes for the mlpd profiler library.
const (
	// Configuration and lifecycle errors
	ErrCodeInvalidConfig   errors.ErrorCode = "MLPD_INVALID_CONFIG"
	ErrCodeAlreadyStarted  errors.ErrorCode = "MLPD_ALREADY_STARTED"
	ErrCodeProfilerClosed  errors.ErrorCode = "MLPD_PROFILER_CLOSED"
	ErrCodeThreadDetached  errors.ErrorCode = "MLPD_THREAD_DETACHED"
	ErrCodeQueueCreation   errors.ErrorCode = "MLPD_QUEUE_CREATION"
	ErrCodeCommandPort     errors.ErrorCode = "MLPD_COMMAND_PORT"
	ErrCodeOutputOpen      errors.ErrorCode = "MLPD_OUTPUT_OPEN"
	ErrCodeCoverageFilter  errors.ErrorCode = "MLPD_COVERAGE_FILTER"
	ErrCodeCounterRegister errors.ErrorCode = "MLPD_COUNTER_REGISTER"

	// Producer-side errors (never propagated, routed to the handler at most)
	ErrCodeAllocFailed errors.ErrorCode = "MLPD_ALLOC_FAILED"

	// Writer-side errors
	ErrCodeWriteFailed errors.ErrorCode = "MLPD_WRITE_FAILED"
	ErrCodeSyncFailed  errors.ErrorCode = "MLPD_SYNC_FAILED"
)

// ErrorHandler receives errors the profiler cannot return to a caller,
// such as sink write failures observed on the writer goroutine.
type ErrorHandler func(err *errors.Error)

// defaultErrorHandler prints to stderr. The profiler must never log through
// the traced process's own logging stack, which may itself be probed.
var defaultErrorHandler ErrorHandler = func(err *errors.Error) {
	fmt.Fprintf(os.Stderr, "[MLPD ERROR] %s: %s\n", err.Code, err.Message)
	if err.Cause != nil {
		fmt.Fprintf(os.Stderr, "[MLPD ERROR] Caused by: %v\n", err.Cause)
	}
}

var currentErrorHandler = defaultErrorHandler

// SetErrorHandler installs a custom error handler. Passing nil restores the
// default stderr handler.
func SetErrorHandler(handler ErrorHandler) {
	if handler == nil {
		currentErrorHandler = defaultErrorHandler
		return
	}
	currentErrorHandler = handler
}

// handleError routes an error to the current handler.
func handleError(err *errors.Error) {
	if err == nil {
		return
	}
	currentErrorHandler(err)
}

// IsProfilerError reports whether err carries the given mlpd error code.
func IsProfilerError(err error, code errors.ErrorCode) bool {
	return errors.HasCode(err, code)
}
