// Package errors defines the typed error taxonomy of the trust service and
// renders it as RFC 7807 problem documents.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for the caller. Every state-machine rule violation
// maps to one of these; anything else is Internal.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindUnauthenticated   Kind = "UNAUTHENTICATED"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindSignatureMismatch Kind = "SIGNATURE_MISMATCH"
	KindExpired           Kind = "EXPIRED"
	KindInternal          Kind = "INTERNAL"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindSignatureMismatch:
		return http.StatusUnprocessableEntity
	case KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// AppError represents an application-specific error
type AppError struct {
	Kind    Kind
	Message string
	Cause   error

	// RetryAfter is set on RateLimited errors.
	RetryAfter time.Duration
	// Fields carries safe, caller-facing extension values (e.g. remaining attempts).
	Fields map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError by kind, so errors.Is(err, &AppError{Kind: KindConflict}) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithField adds a caller-facing field to the error
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// New creates a new application error
func New(kind Kind, message string, cause error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Validation creates a validation error
func Validation(message string) *AppError {
	return New(KindValidation, message, nil)
}

// RateLimited creates a rate limit error with retry guidance
func RateLimited(retryAfter time.Duration) *AppError {
	e := New(KindRateLimited, "too many requests", nil)
	e.RetryAfter = retryAfter
	return e
}

// Unauthenticated creates an authentication error
func Unauthenticated(message string) *AppError {
	return New(KindUnauthenticated, message, nil)
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return New(KindConflict, message, nil)
}

// SignatureMismatch creates a signature verification error
func SignatureMismatch(message string) *AppError {
	return New(KindSignatureMismatch, message, nil)
}

// Expired creates an expiry error
func Expired(message string, cause error) *AppError {
	return New(KindExpired, message, cause)
}

// Internal wraps an unexpected failure. The message is logged, never rendered.
func Internal(message string, cause error) *AppError {
	return New(KindInternal, message, cause)
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
