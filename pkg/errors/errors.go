// Unified error handling for the gantry drift measurement harness
//
// Copyright (C) 2026  Gantry Drift Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// ErrConfig covers unresolvable sensors, missing required fields and
	// other configuration problems surfaced before any printer motion
	ErrConfig ErrorCode = "CONFIG"

	// ErrTransport covers network-level failures talking to the control
	// plane (connection refused, timeouts)
	ErrTransport ErrorCode = "TRANSPORT"

	// ErrAPI covers commands the control plane accepted on the wire but
	// rejected (bad macro name, klippy shutdown, ...)
	ErrAPI ErrorCode = "API"

	// ErrHeatingTimeout is raised when the bed never reaches its target
	// within the configured heating timeout
	ErrHeatingTimeout ErrorCode = "HEATING_TIMEOUT"

	// ErrAbort marks an unrecoverable session abort (retry exhaustion,
	// operator interrupt, mid-phase failure)
	ErrAbort ErrorCode = "ABORT"
)

// Process exit codes, one per failure class so scripts can distinguish them.
const (
	ExitOK             = 0
	ExitConfig         = 1
	ExitConnectivity   = 2
	ExitHeatingTimeout = 3
	ExitAbort          = 4
)

// Error is the unified error type for the harness
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Op names the operation that failed (e.g. "gcode/script")
	Op string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Op, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// SetOp sets the failing operation name
func (e *Error) SetOp(op string) *Error {
	e.Op = op
	return e
}

// New creates a new Error
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrConfig, message)
}

// ConfigErrorf creates a formatted configuration error
func ConfigErrorf(format string, args ...interface{}) *Error {
	return Newf(ErrConfig, format, args...)
}

// TransportError wraps a network-level failure
func TransportError(op string, err error) *Error {
	return Wrap(err, ErrTransport, err.Error()).SetOp(op)
}

// APIError creates an error for a command the control plane rejected
func APIError(op, message string) *Error {
	return New(ErrAPI, message).SetOp(op)
}

// HeatingTimeoutError creates a heating timeout error
func HeatingTimeoutError(heater string, target, current float64) *Error {
	return Newf(ErrHeatingTimeout,
		"heater %s did not reach %.1f (last reading %.1f)", heater, target, current)
}

// AbortError wraps an unrecoverable failure as a session abort
func AbortError(err error, message string) *Error {
	return Wrap(err, ErrAbort, message)
}

// Is checks whether err carries the given error code anywhere in its chain
func Is(err error, code ErrorCode) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		err = e.Err
		e = nil
	}
	return false
}

// IsConfig reports whether err is a configuration error
func IsConfig(err error) bool {
	return Is(err, ErrConfig)
}

// IsTransport reports whether err is a transport error
func IsTransport(err error) bool {
	return Is(err, ErrTransport)
}

// IsAPI reports whether err is a rejected-command error
func IsAPI(err error) bool {
	return Is(err, ErrAPI)
}

// IsHeatingTimeout reports whether err is a heating timeout
func IsHeatingTimeout(err error) bool {
	return Is(err, ErrHeatingTimeout)
}

// ExitCode maps an error to the process exit code for the CLI.
// The most specific cause wins: a session abort triggered by retry
// exhaustion still reports connectivity failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsConfig(err):
		return ExitConfig
	case IsHeatingTimeout(err):
		return ExitHeatingTimeout
	case IsTransport(err):
		return ExitConnectivity
	default:
		return ExitAbort
	}
}
