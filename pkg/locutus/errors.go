// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltoctl Authors

package locutus

import (
	"errors"
	"fmt"
)

// Kind separates bad requests from device and link failures
type Kind int

const (
	// KindValidation is a rejected argument, raised before any I/O
	KindValidation Kind = iota

	// KindProtocol is a NAK, error status or response CRC mismatch
	KindProtocol

	// KindTransport is a timeout or I/O failure on the underlying stream
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation error"
	case KindProtocol:
		return "protocol error"
	case KindTransport:
		return "transport error"
	default:
		return fmt.Sprintf("error kind %d", int(k))
	}
}

// Sentinel errors, matched with errors.Is
var (
	ErrInsufficientMemory = errors.New("insufficient device memory")
	ErrArgumentOutOfRange = errors.New("argument out of range")
	ErrDataMisaligned     = errors.New("data misaligned")
	ErrNotImplemented     = errors.New("not implemented")

	ErrNAK      = errors.New("NAK received")
	ErrStatus   = errors.New("command returned error status")
	ErrChecksum = errors.New("response CRC mismatch")
	ErrTimeout  = errors.New("timeout")
)

// Error is the error type returned by command construction and execution
type Error struct {
	Kind   Kind
	Op     string // command name, empty if not tied to a command
	Detail string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func validationError(op string, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   KindValidation,
		Op:     op,
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}
