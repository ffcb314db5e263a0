// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pqa

import (
	"errors"
	"fmt"
)

// Code classifies engine errors.
type Code int

const (
	// CodeInternal is a worker failure or an unexpected condition.
	CodeInternal Code = iota

	// CodeNotImplemented is an unsupported precision or backend.
	CodeNotImplemented

	// CodeInvalidID is a question, answer, target or quiz id that is out of
	// range or refers to a removed entry.
	CodeInvalidID

	// CodeInvalidArgument is any other rejected input.
	CodeInvalidArgument

	// CodeWrongMode is an operation not allowed in the engine's mode.
	CodeWrongMode

	// CodeStaleDimensions is a quiz created before the last change of the
	// engine dimensions.
	CodeStaleDimensions

	// CodeAllocationFailure is scratch memory that could not be obtained.
	CodeAllocationFailure

	// CodeStorage is a knowledge base persistence failure.
	CodeStorage
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeInternal:
		return "internal"
	case CodeNotImplemented:
		return "not implemented"
	case CodeInvalidID:
		return "invalid id"
	case CodeInvalidArgument:
		return "invalid argument"
	case CodeWrongMode:
		return "wrong mode"
	case CodeStaleDimensions:
		return "stale dimensions"
	case CodeAllocationFailure:
		return "allocation failure"
	case CodeStorage:
		return "storage"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the error type returned by every engine operation.
type Error struct {
	// Code classifies the failure.
	Code Code

	// Op is the engine operation that failed, e.g. "NextQuestion".
	Op string

	// Msg describes the failure.
	Msg string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := "pqa"
	if e.Op != "" {
		s += ": " + e.Op
	}
	s += ": " + e.Code.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel errors, one per code.
var (
	ErrInternal          = &Error{Code: CodeInternal}
	ErrNotImplemented    = &Error{Code: CodeNotImplemented}
	ErrInvalidID         = &Error{Code: CodeInvalidID}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument}
	ErrWrongMode         = &Error{Code: CodeWrongMode}
	ErrStaleDimensions   = &Error{Code: CodeStaleDimensions}
	ErrAllocationFailure = &Error{Code: CodeAllocationFailure}
	ErrStorage           = &Error{Code: CodeStorage}
)

func newError(code Code, op, msg string, err error) *Error {
	return &Error{Code: code, Op: op, Msg: msg, Err: err}
}

func errorf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of err, or CodeInternal if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
