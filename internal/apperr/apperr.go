// Package apperr wraps pkg/errors with error codes that map onto HTTP
// statuses at the adapter boundary.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Code classifies an error for callers and transports.
type Code string

const (
	CodeInvalid      Code = "invalid"
	CodeUnauthorized Code = "unauthorized"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal"
)

type codedError struct {
	code    Code
	message string
	cause   error
}

func (e *codedError) Error() string {
	if e.cause != nil && e.message == "" {
		return e.cause.Error()
	}
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *codedError) Unwrap() error { return e.cause }

// New returns a coded error with a stack trace.
func New(code Code, message string) error {
	return errors.WithStack(&codedError{code: code, message: message})
}

// Newf formats a coded error.
func Newf(code Code, format string, args ...any) error {
	return errors.WithStack(&codedError{code: code, message: errors.Errorf(format, args...).Error()})
}

// Wrap annotates err with a code and message. Wrap returns nil for nil err.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&codedError{code: code, message: message, cause: err})
}

// CodeOf returns the outermost code attached to err, or CodeInternal.
func CodeOf(err error) Code {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Message returns the client-facing message for err. Internal errors never
// leak their details.
func Message(err error) string {
	var ce *codedError
	if !errors.As(err, &ce) || ce.code == CodeInternal {
		return "internal server error"
	}
	return ce.message
}

// StatusOf maps err onto an HTTP status.
func StatusOf(err error) int {
	switch CodeOf(err) {
	case CodeInvalid:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Cause returns the innermost error.
func Cause(err error) error {
	return errors.Cause(err)
}
