/*
Package errs provides custom error types and application-level error code constants.

This file defines CustomError, which carries a business code, an error kind,
a user-facing message, the HTTP status and an optional underlying cause.
*/
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"globetrotter/internal/pkg/logx"
)

// Kind groups error codes by how callers are expected to react.
type Kind string

const (
	// KindValidation is user-correctable input, shown inline.
	KindValidation Kind = "validation"

	// KindDataUnavailable is an empty or failed read; retry by re-invoking the operation.
	KindDataUnavailable Kind = "data_unavailable"

	// KindRemoteWrite is a failed write to the backend; local state stays authoritative for the session.
	KindRemoteWrite Kind = "remote_write"

	// KindAuth is a rejected sign-in step or a missing sign-in.
	KindAuth Kind = "auth"

	// KindState is an operation that does not fit the current round state.
	KindState Kind = "state"

	// KindInternal is anything unclassified.
	KindInternal Kind = "internal"
)

// CustomError is the error type returned by handlers, the session manager and the round engine.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Kind classifies the error for notification and retry decisions.
	Kind Kind

	// Message is the user-friendly error description.
	Message string

	// Status is the HTTP status code used when the error is written as a response.
	Status int

	cause error
}

// Error implements the error interface.
func (e *CustomError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("Error Code %d (HTTP %d): %s: %v", e.Code, e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CustomError) Unwrap() error {
	return e.cause
}

// Wrap returns a copy of e that records cause as the underlying error.
func (e *CustomError) Wrap(cause error) *CustomError {
	wrapped := *e
	wrapped.cause = cause
	return &wrapped
}

// Is reports whether target is a CustomError with the same code.
func (e *CustomError) Is(target error) bool {
	var t *CustomError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// NewError builds a *CustomError from a registered code.
// details are printf arguments for templates that contain a verb.
// Unknown codes fall back to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)

		unknownErr := errorMap[ErrUnknown]
		return &CustomError{
			Code:    unknownErr.Code,
			Kind:    unknownErr.Kind,
			Message: unknownErr.Message,
			Status:  unknownErr.Status,
		}
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if code == ErrUnknown && len(details) > 0 {
		if originalErr, ok := details[0].(error); ok {
			customErr.cause = originalErr
			logx.Error(
				originalErr,
				"Handling ErrUnknown with underlying error",
			)
		}
	} else if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			logx.Warn(
				"Details provided for error, but message template has no formatting placeholders. Details ignored.",
				"code", code,
			)
		}
	}

	return &customErr
}

// CodeOf returns the business code carried by err, or ErrUnknown.
func CodeOf(err error) int {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code
	}
	return ErrUnknown
}

// From returns err as a *CustomError, wrapping anything else in ErrUnknown.
func From(err error) *CustomError {
	if err == nil {
		return nil
	}
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr
	}
	return NewError(ErrUnknown, err)
}
