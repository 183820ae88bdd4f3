// Package apperrors defines the error kinds shared across the engine and
// the API layer. Every domain failure is classified into one kind so the
// HTTP surface, the watchdog, and the storage retry loop can react without
// string matching.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindNotFound           Kind = "not_found"
	KindInvariantViolation Kind = "invariant_violation"
	KindOracleFailure      Kind = "oracle_failure"
	KindStorageConflict    Kind = "storage_conflict"
	KindStalled            Kind = "stalled"
	KindShutdown           Kind = "shutdown"
	KindInternal           Kind = "internal"
)

// Error carries a kind plus a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can use errors.Is with the kind sentinels
// below regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is checks.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvariantViolation = &Error{Kind: KindInvariantViolation}
	ErrOracleFailure      = &Error{Kind: KindOracleFailure}
	ErrStorageConflict    = &Error{Kind: KindStorageConflict}
	ErrStalled            = &Error{Kind: KindStalled}
	ErrShutdown           = &Error{Kind: KindShutdown}
)

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

func Invariant(format string, args ...any) error {
	return &Error{Kind: KindInvariantViolation, Message: fmt.Sprintf(format, args...)}
}

func OracleFailure(msg string, cause error) error {
	return &Error{Kind: KindOracleFailure, Message: msg, Err: cause}
}

func StorageConflict(msg string, cause error) error {
	return &Error{Kind: KindStorageConflict, Message: msg, Err: cause}
}

func Stalled(format string, args ...any) error {
	return &Error{Kind: KindStalled, Message: fmt.Sprintf(format, args...)}
}

func Shutdown(msg string) error {
	return &Error{Kind: KindShutdown, Message: msg}
}

func Internal(msg string, cause error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: cause}
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status code the API returns for it.
// Conflict-like kinds map to 409 so clients can retry; oracle failures are
// masked by the fallback path and should not normally reach a handler.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvariantViolation, KindStorageConflict:
		return http.StatusConflict
	case KindShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
