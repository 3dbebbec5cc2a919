// Package apperror defines the error taxonomy the API maps to HTTP status
// codes: validation (400), auth (401), forbidden (403), not found (404),
// conflict (409), internal (500).
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Type classifies an application error.
type Type int

const (
	Internal Type = iota
	Validation
	Auth
	Forbidden
	NotFound
	Conflict
)

// Error carries a user-facing message, a classification, and an optional
// wrapped cause that never reaches the client.
type Error struct {
	Type    Type
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the error type to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Type {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func newError(t Type, message string, err error) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

func NewValidation(message string) *Error {
	return newError(Validation, message, nil)
}

func NewAuth(message string) *Error {
	return newError(Auth, message, nil)
}

func NewForbidden(message string) *Error {
	return newError(Forbidden, message, nil)
}

func NewNotFound(message string) *Error {
	return newError(NotFound, message, nil)
}

func NewConflict(message string) *Error {
	return newError(Conflict, message, nil)
}

func NewInternal(message string, err error) *Error {
	return newError(Internal, message, err)
}

// FromError extracts an *Error from an error chain.
func FromError(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err is an application error of the given type.
func IsType(err error, t Type) bool {
	appErr, ok := FromError(err)
	return ok && appErr.Type == t
}
