// Package apierr defines the error taxonomy the Public API maps to HTTP
// status codes and a structured JSON error envelope.
package apierr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for HTTP status mapping.
type Kind string

const (
	KindInput             Kind = "input"
	KindPrivacyBlocked    Kind = "privacy_blocked"
	KindTransientExternal Kind = "transient_external"
	KindQueueExhausted    Kind = "queue_exhausted"
	KindStoreBusy         Kind = "store_busy"
	KindConflict          Kind = "conflict"
	KindConfigMigration   Kind = "config_migration"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is a taxonomy-tagged error carrying a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a tagged Error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// StatusCode maps an error's Kind to an HTTP status, defaulting to 500
// for anything that isn't a tagged *Error.
func StatusCode(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindInput:
		return http.StatusBadRequest
	case KindPrivacyBlocked:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQueueExhausted, KindTransientExternal:
		return http.StatusServiceUnavailable
	case KindStoreBusy:
		return http.StatusTooManyRequests
	case KindConfigMigration:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for the JSON envelope.
func Code(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return string(KindInternal)
	}
	return string(e.Kind)
}
