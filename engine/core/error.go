package core

import (
	"errors"
	"fmt"
)

// Canonical error codes used across the engine. The HTTP layer maps these
// onto status codes; everything below the router deals in codes only.
const (
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeNotProvisioned  = "NOT_PROVISIONED"
	ErrCodeUpstream        = "UPSTREAM"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeInternal        = "INTERNAL"
)

// Error provides structured error information with a canonical code and
// optional detail fields.
type Error struct {
	Err     error
	Code    string
	Details map[string]any
}

func NewError(err error, code string, details map[string]any) *Error {
	return &Error{Err: err, Code: code, Details: details}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the canonical code from an error chain, defaulting to
// ErrCodeInternal for unclassified errors.
func CodeOf(err error) string {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Code
	}
	return ErrCodeInternal
}

func InvalidArgument(format string, args ...any) *Error {
	return NewError(fmt.Errorf(format, args...), ErrCodeInvalidArgument, nil)
}

func NotFound(format string, args ...any) *Error {
	return NewError(fmt.Errorf(format, args...), ErrCodeNotFound, nil)
}

func InvalidState(format string, args ...any) *Error {
	return NewError(fmt.Errorf(format, args...), ErrCodeInvalidState, nil)
}

func Unauthorized(format string, args ...any) *Error {
	return NewError(fmt.Errorf(format, args...), ErrCodeUnauthorized, nil)
}

func NotProvisioned(format string, args ...any) *Error {
	return NewError(fmt.Errorf(format, args...), ErrCodeNotProvisioned, nil)
}

func Upstream(err error) *Error {
	return NewError(err, ErrCodeUpstream, nil)
}
