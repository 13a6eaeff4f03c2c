package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed completion
type ErrorKind string

const (
	KindNoBackendAvailable  ErrorKind = "NoBackendAvailable"
	KindVendorRequestFailed ErrorKind = "VendorRequestFailed"
	KindVendorTimeout       ErrorKind = "VendorTimeout"
	KindCanceled            ErrorKind = "Canceled"
	KindConfiguration       ErrorKind = "ConfigurationError"
	KindBudgetExceeded      ErrorKind = "BudgetExceeded"
	KindInvalidRequest      ErrorKind = "InvalidRequest"
)

// ProviderError represents a failure reported by or about a backend
type ProviderError struct {
	// Kind is the error classification surfaced to callers
	Kind ErrorKind `json:"kind"`

	// Provider that generated the error (empty for routing-level errors)
	Provider string `json:"provider,omitempty"`

	// Message is the error message
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates if the request can be retried
	Retryable bool `json:"-"`

	// Attempts lists every candidate failure of a fallback walk, in order
	Attempts []AttemptError `json:"attempts,omitempty"`

	// Cause is the underlying error
	Cause error `json:"-"`
}

// AttemptError summarizes one failed candidate of a fallback walk
type AttemptError struct {
	Backend string    `json:"backend"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil && !strings.Contains(e.Message, e.Cause.Error()) {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(kind ErrorKind, provider, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Kind:       kind,
		Provider:   provider,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}

// KindOf returns the ErrorKind of err, or "" when err is not a ProviderError
func KindOf(err error) ErrorKind {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}
	return ""
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Classify converts a transport error into a ProviderError. statusCode is the
// vendor HTTP status when the SDK exposes one, 0 otherwise.
func Classify(provider string, statusCode int, err error) *ProviderError {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr
	}

	switch {
	case errors.Is(err, context.Canceled):
		return NewProviderError(KindCanceled, provider, "request canceled", 0, false, err)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return NewProviderError(KindVendorTimeout, provider, "vendor request timed out", statusCode, true, err)
	case IsTimeout(err):
		return NewProviderError(KindVendorTimeout, provider, "vendor request timed out", 0, true, err)
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return NewProviderError(KindVendorRequestFailed, provider, "vendor returned "+http.StatusText(statusCode), statusCode, true, err)
	case statusCode >= 400:
		return NewProviderError(KindVendorRequestFailed, provider, "vendor rejected request: "+http.StatusText(statusCode), statusCode, false, err)
	}

	// Connection resets, DNS failures and similar are worth another attempt
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewProviderError(KindVendorRequestFailed, provider, "vendor connection failed", 0, true, err)
	}
	return NewProviderError(KindVendorRequestFailed, provider, "vendor request failed", statusCode, false, err)
}
