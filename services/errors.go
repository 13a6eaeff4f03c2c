package services

import (
	"errors"
	"fmt"

	"github.com/upb/llm-provider-manager/services/providers"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeBudget       ErrorType = "budget"
	ErrorTypeUnavailable  ErrorType = "unavailable"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeCanceled     ErrorType = "canceled"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

var (
	// Not Found Errors
	ErrBackendNotFound = NewDomainError(ErrorTypeNotFound, "backend not found", nil)

	// Validation Errors
	ErrInvalidInput    = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidTaskType = NewDomainError(ErrorTypeValidation, "invalid task type", nil)
	ErrEmptyMessages   = NewDomainError(ErrorTypeValidation, "messages cannot be empty", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	// Budget Errors
	ErrDailyBudgetExceeded = NewDomainError(ErrorTypeBudget, "daily budget exceeded", nil)

	// Backend Errors
	ErrNoBackendAvailable = NewDomainError(ErrorTypeUnavailable, "no backend available", nil)
	ErrBackendTimeout     = NewDomainError(ErrorTypeTimeout, "backend timeout", nil)
	ErrBackendError       = NewDomainError(ErrorTypeExternal, "backend error", nil)
	ErrRequestCanceled    = NewDomainError(ErrorTypeCanceled, "request canceled", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// FromProviderError converts a routing failure into a domain error. The
// attempted backends are kept as details.
func FromProviderError(err *providers.ProviderError) *DomainError {
	if err == nil {
		return nil
	}

	var errType ErrorType
	switch err.Kind {
	case providers.KindNoBackendAvailable:
		errType = ErrorTypeUnavailable
	case providers.KindVendorTimeout:
		errType = ErrorTypeTimeout
	case providers.KindCanceled:
		errType = ErrorTypeCanceled
	case providers.KindBudgetExceeded:
		errType = ErrorTypeBudget
	case providers.KindInvalidRequest:
		errType = ErrorTypeValidation
	case providers.KindConfiguration:
		errType = ErrorTypeInternal
	default:
		errType = ErrorTypeExternal
	}

	domainErr := NewDomainError(errType, err.Message, err)
	domainErr.WithDetail("kind", string(err.Kind))
	if err.Provider != "" {
		domainErr.WithDetail("backend", err.Provider)
	}
	if err.StatusCode != 0 {
		domainErr.WithDetail("status_code", err.StatusCode)
	}
	if len(err.Attempts) > 0 {
		domainErr.WithDetail("attempts", err.Attempts)
	}
	return domainErr
}

// FromRegistryError converts registry lookup failures into domain errors
func FromRegistryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, providers.ErrProviderNotFound) {
		return NewDomainError(ErrorTypeNotFound, "backend not found", err)
	}
	var providerErr *providers.ProviderError
	if errors.As(err, &providerErr) {
		return FromProviderError(providerErr)
	}
	return WrapInternal("registry operation failed", err)
}

func isType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return isType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return isType(err, ErrorTypeForbidden)
}

// IsBudgetError checks if an error is a budget error
func IsBudgetError(err error) bool {
	return isType(err, ErrorTypeBudget)
}

// IsUnavailableError checks if no backend could serve the request
func IsUnavailableError(err error) bool {
	return isType(err, ErrorTypeUnavailable)
}

// IsTimeoutError checks if an error is a backend timeout
func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

// IsCanceledError checks if the caller canceled the request
func IsCanceledError(err error) bool {
	return isType(err, ErrorTypeCanceled)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsExternalError checks if an error is an external backend error
func IsExternalError(err error) bool {
	return isType(err, ErrorTypeExternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
