// Package errs defines the error-kind taxonomy surfaced to HTTP
// clients as a JSON `error_code`, and the HTTP status each kind maps
// to.
package errs

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error kind, per spec §7.
type Code string

const (
	InvalidInput          Code = "invalid_input"
	UnknownRoom           Code = "unknown_room"
	RoomFull              Code = "room_full"
	ControlRequired       Code = "control_required"
	ControlPasswordNeeded Code = "control_password_required"
	InvalidPassword       Code = "invalid_password"
	Conflict              Code = "conflict"
	NotOwner              Code = "not_owner"
	UnsupportedKey        Code = "unsupported_key"
	NotFound              Code = "not_found"
	Forbidden             Code = "forbidden"
	IngressBusy           Code = "ingress_busy"
	IngressFailed         Code = "ingress_failed"
	AudioGraphError       Code = "audio_graph_error"
	AutomationError       Code = "automation_error"
	InternalError         Code = "internal_error"
)

// Error is a typed error carrying a Code for JSON serialization and an
// HTTP status.
type Error struct {
	Code    Code
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New builds an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error that preserves the underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Wrapped: cause}
}

// Status returns the HTTP status code conventionally associated with a
// Code.
func Status(code Code) int {
	switch code {
	case InvalidInput, UnsupportedKey:
		return http.StatusBadRequest
	case UnknownRoom:
		return http.StatusBadRequest
	case ControlRequired, ControlPasswordNeeded, InvalidPassword, NotOwner, Forbidden:
		return http.StatusForbidden
	case RoomFull, Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case IngressBusy, IngressFailed, AudioGraphError, AutomationError, InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor inspects err for an *Error and returns its status, or 500.
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return Status(e.Code)
	}
	return http.StatusInternalServerError
}

// CodeFor inspects err for an *Error and returns its code, or
// internal_error.
func CodeFor(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}
