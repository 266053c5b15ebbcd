// Package apperr defines the error taxonomy shared by the chat engine and its
// HTTP surface. Every error carries a machine-checkable code and a message
// that is safe to show to the user.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeForbidden       Code = "FORBIDDEN"
	CodeAlreadyResolved Code = "ALREADY_RESOLVED"
	CodeStorage         Code = "STORAGE_ERROR"
	CodePartialFailure  Code = "PARTIAL_FAILURE"
	CodeConnectivity    Code = "CONNECTIVITY_ERROR"
)

// Error is an application error with a code, a user-facing message and an
// optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so callers can
// write errors.Is(err, apperr.ErrAlreadyResolved).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation      = &Error{Code: CodeValidation}
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrForbidden       = &Error{Code: CodeForbidden}
	ErrAlreadyResolved = &Error{Code: CodeAlreadyResolved}
	ErrStorage         = &Error{Code: CodeStorage}
	ErrPartialFailure  = &Error{Code: CodePartialFailure}
	ErrConnectivity    = &Error{Code: CodeConnectivity}
)

func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

func AlreadyResolved(message string) *Error {
	return &Error{Code: CodeAlreadyResolved, Message: message}
}

// Storage wraps a store failure. The store's own message is surfaced verbatim.
func Storage(err error) *Error {
	msg := "storage failure"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: CodeStorage, Message: msg, Err: err}
}

func PartialFailure(message string, err error) *Error {
	return &Error{Code: CodePartialFailure, Message: message, Err: err}
}

// Connectivity wraps a failed fetch.
func Connectivity(err error) *Error {
	return &Error{Code: CodeConnectivity, Message: "could not reach the server, please try again", Err: err}
}

// CodeOf extracts the code of err. Unknown errors are reported as storage
// failures because every non-domain error in this service comes from a store.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStorage
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps a code onto a response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyResolved:
		return http.StatusConflict
	case CodeConnectivity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
