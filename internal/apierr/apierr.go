// Package apierr defines the error-kind taxonomy shared by every component
// that can fail a user-triggered operation, and the HTTP translation for it.
// Adapted from sandkasten's internal/api/errors.go switch-on-sentinel
// pattern, expanded from its five session-lifecycle codes to the twelve kinds
// the manager as a whole can surface.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind is one of the error codes propagated to callers.
type Kind string

const (
	QuotaExceeded        Kind = "QUOTA_EXCEEDED"
	StorageLimitExceeded Kind = "STORAGE_LIMIT_EXCEEDED"
	StorageUnavailable   Kind = "STORAGE_UNAVAILABLE"
	CapacityExhausted    Kind = "CAPACITY_EXHAUSTED"
	PrivilegeDenied      Kind = "PRIVILEGE_DENIED"
	NotFound             Kind = "NOT_FOUND"
	StateInvalid         Kind = "STATE_INVALID"
	AuthRequired         Kind = "AUTH_REQUIRED"
	UpstreamFailure      Kind = "UPSTREAM_FAILURE"
	IOError              Kind = "IO_ERROR"
	InvalidRequest       Kind = "INVALID_REQUEST"
	InternalError        Kind = "INTERNAL_ERROR"
)

// Error is a sentinel-carrying error that knows its own kind, HTTP status,
// and optional structured details (e.g. measured/allowed sizes).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string { return e.Message }

// statusFor maps a Kind to the HTTP status code from spec.md §7: 400 for
// validation, 401 for auth, 404 for missing, 500 for unexpected, plus the
// domain-specific codes used for capacity/quota kinds. No kind maps to 409.
func statusFor(k Kind) int {
	switch k {
	case QuotaExceeded:
		return http.StatusTooManyRequests
	case StorageLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case StorageUnavailable, UpstreamFailure, IOError:
		return http.StatusBadGateway
	case CapacityExhausted:
		return http.StatusServiceUnavailable
	case PrivilegeDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case StateInvalid, InvalidRequest:
		return http.StatusBadRequest
	case AuthRequired:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// New constructs an *Error of the given kind with no structured details.
func New(k Kind, message string) *Error {
	return &Error{Kind: k, Message: message}
}

// WithDetails attaches structured detail fields (e.g. {"measured": n,
// "allowed": m}) to an existing error.
func WithDetails(k Kind, message string, details map[string]any) *Error {
	return &Error{Kind: k, Message: message, Details: details}
}

// KindOf unwraps err looking for an *Error and returns its Kind, or
// InternalError if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// response is the JSON wire shape for an API error: spec.md §7 calls for
// {"error": string}, extended with the machine-readable code and any
// structured details the caller attached.
type response struct {
	Error   string         `json:"error"`
	Code    Kind           `json:"error_code"`
	Details map[string]any `json:"details,omitempty"`
}

// Write serializes err as a structured JSON error body with the status
// code implied by its Kind. Errors not wrapping *Error are reported as
// INTERNAL_ERROR / 500, mirroring the teacher's default case.
func Write(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: InternalError, Message: err.Error()}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(e.Kind))
	json.NewEncoder(w).Encode(response{Error: e.Message, Code: e.Kind, Details: e.Details})
}

// WriteValidation writes a 400 INVALID_REQUEST with the given details,
// used by request-body decoding/validation before a domain error exists.
func WriteValidation(w http.ResponseWriter, message string, details map[string]any) {
	Write(w, &Error{Kind: InvalidRequest, Message: message, Details: details})
}

// WriteUnauthorized writes a 401 AUTH_REQUIRED error.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	Write(w, &Error{Kind: AuthRequired, Message: message})
}
