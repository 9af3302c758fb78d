package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes exposed to callers of lifecycle operations.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeAlreadyAssigned   = "ALREADY_ASSIGNED"
	CodeConcurrencyLimit  = "CONCURRENCY_LIMIT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeConflict          = "CONFLICT"
	CodeStorage           = "STORAGE_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so callers can
// compare against the exported sentinels with errors.Is.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation        = &DomainError{Code: CodeValidation}
	ErrForbidden         = &DomainError{Code: CodeForbidden}
	ErrNotFound          = &DomainError{Code: CodeNotFound}
	ErrAlreadyAssigned   = &DomainError{Code: CodeAlreadyAssigned}
	ErrConcurrencyLimit  = &DomainError{Code: CodeConcurrencyLimit}
	ErrInvalidTransition = &DomainError{Code: CodeInvalidTransition}
	ErrConflict          = &DomainError{Code: CodeConflict}
	ErrStorage           = &DomainError{Code: CodeStorage}
)

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// NewForbidden is the AuthorizationError kind: the caller's role or
// ownership does not permit the operation.
func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewAlreadyAssigned(ticketID string) error {
	return NewDomainError(CodeAlreadyAssigned, "ticket already assigned", http.StatusConflict,
		map[string]any{"ticket_id": ticketID})
}

func NewConcurrencyLimit(limit int) error {
	return NewDomainError(CodeConcurrencyLimit,
		fmt.Sprintf("Maximum %d active tickets allowed", limit), http.StatusConflict,
		map[string]any{"limit": limit})
}

func NewInvalidTransition(from, action string) error {
	return NewDomainError(CodeInvalidTransition,
		fmt.Sprintf("cannot %s ticket in status %s", action, from), http.StatusConflict,
		map[string]any{"status": from, "action": action})
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewVersionConflict reports a failed compare-and-swap on a ticket record.
func NewVersionConflict(ticketID string, expected, current int64) error {
	return NewConflict("ticket was modified concurrently", map[string]any{
		"ticket_id":        ticketID,
		"expected_version": expected,
		"current_version":  current,
	})
}

// NewStorageError wraps a backend failure.
func NewStorageError(op string, err error) error {
	return &DomainError{
		Code:       CodeStorage,
		Message:    op + " failed",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err is a DomainError with the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if domainErr.HTTPStatus == 0 {
			cp := *domainErr
			cp.HTTPStatus = http.StatusInternalServerError
			return &cp
		}
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
