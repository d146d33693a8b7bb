// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package hal defines the cross-cutting contracts every layer of the
// hardware abstraction kernel builds on: the closed error taxonomy,
// capability bitmask, platform classification, and generation-counted
// handles. Nothing in this package depends on memory, time, threading, the
// driver registry, or the event system — they depend on it.
package hal

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of outcomes a HAL operation can report.
// The set is fixed; adding a new kind is a breaking change to every driver
// contract in plugins/drivers.
type ErrorKind uint8

const (
	ErrOutOfMemory ErrorKind = iota + 1
	ErrFeatureNotSupported
	ErrInvalidParameters
	ErrInvalidHandle
	ErrInvalidState
	ErrTimeout
	ErrWouldBlock
	ErrDuplicate
	ErrNotFound
	ErrLockOrderViolation
	ErrContended
	ErrNoSuitableDriver
	ErrDeviceError
	ErrPlatformError
	ErrIncompatibleClocks
	ErrUnsupportedAlignment
	ErrCyclicDependency
	ErrCancelled
	ErrInternalError
)

//go:generate stringer -type=ErrorKind -trimprefix=Err

func (k ErrorKind) String() string {
	switch k {
	case ErrOutOfMemory:
		return "OutOfMemory"
	case ErrFeatureNotSupported:
		return "FeatureNotSupported"
	case ErrInvalidParameters:
		return "InvalidParameters"
	case ErrInvalidHandle:
		return "InvalidHandle"
	case ErrInvalidState:
		return "InvalidState"
	case ErrTimeout:
		return "Timeout"
	case ErrWouldBlock:
		return "WouldBlock"
	case ErrDuplicate:
		return "Duplicate"
	case ErrNotFound:
		return "NotFound"
	case ErrLockOrderViolation:
		return "LockOrderViolation"
	case ErrContended:
		return "Contended"
	case ErrNoSuitableDriver:
		return "NoSuitableDriver"
	case ErrDeviceError:
		return "DeviceError"
	case ErrPlatformError:
		return "PlatformError"
	case ErrIncompatibleClocks:
		return "IncompatibleClocks"
	case ErrUnsupportedAlignment:
		return "UnsupportedAlignment"
	case ErrCyclicDependency:
		return "CyclicDependency"
	case ErrCancelled:
		return "Cancelled"
	case ErrInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Fatal reports whether this kind is one of the two taxonomy members §7
// designates fatal: LockOrderViolation and InternalError. The caller
// decides what to do; the core never panics on a fatal kind. Fatal only
// classifies the kind: nothing in the core publishes an event for it.
func (k ErrorKind) Fatal() bool {
	return k == ErrLockOrderViolation || k == ErrInternalError
}

// Error is the single error type every HAL operation returns. It carries
// optional context so callers and log lines can attribute a failure to a
// driver and operation without string-parsing a message.
type Error struct {
	Kind      ErrorKind
	Message   string
	Driver    string
	Operation string
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Driver != "" {
		msg = fmt.Sprintf("%s (driver=%s)", msg, e.Driver)
	}
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (op=%s)", msg, e.Operation)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, hal.Kind(ErrTimeout)) style sentinel checks by
// comparing ErrorKind, not pointer identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an Error of the given kind with a message.
func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind carrying cause as its Unwrap
// target, the way the teacher's subsystem errors wrap an underlying
// driver/RPC failure instead of flattening it into a string.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithContext returns a shallow copy of e with Driver/Operation set,
// letting a caller attribute an error without constructing a new one from
// scratch at every propagation point.
func (e *Error) WithContext(driver, operation string) *Error {
	cp := *e
	cp.Driver = driver
	cp.Operation = operation
	return &cp
}

// Kind is a convenience sentinel constructor used with errors.Is:
//
//	if errors.Is(err, hal.Kind(hal.ErrTimeout)) { ... }
func Kind(k ErrorKind) error {
	return &Error{Kind: k}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *Error,
// returning ErrInternalError if err does not carry a recognized kind. It
// serves code that must classify an arbitrary error returned from a
// driver extension point into the closed taxonomy.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternalError
}
