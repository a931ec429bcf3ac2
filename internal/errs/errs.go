package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the closed set of turn-level failure classes.
type Code string

const (
	BadRequest   Code = "bad_request"
	Unauthorized Code = "unauthorized"
	Forbidden    Code = "forbidden"
	NotFound     Code = "not_found"
	RateLimit    Code = "rate_limit"
	Offline      Code = "offline"
	Internal     Code = "internal"
)

// Error carries a taxonomy code plus a user-facing message. Surface names
// the API area the error originated from ("chat", "auth", "stream").
type Error struct {
	Code    Code
	Surface string
	Message string
	Cause   error
}

func New(code Code, surface, message string) *Error {
	return &Error{Code: code, Surface: surface, Message: message}
}

func Wrap(code Code, surface, message string, cause error) *Error {
	return &Error{Code: code, Surface: surface, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s:%s: %s: %v", e.Code, e.Surface, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s:%s: %s", e.Code, e.Surface, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the code to its transport status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case RateLimit:
		return http.StatusTooManyRequests
	case Offline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the taxonomy code from err, defaulting to internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// As returns err as *Error, wrapping unclassified errors as internal.
func As(err error, surface string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Internal, surface, "internal error", err)
}
