package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services"
	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/utils"
)

// StatusFor maps a domain error to its HTTP status
func StatusFor(err error) int {
	switch {
	case services.IsNotFoundError(err):
		return http.StatusNotFound
	case services.IsValidationError(err):
		return http.StatusBadRequest
	case services.IsUnauthorizedError(err):
		return http.StatusUnauthorized
	case services.IsForbiddenError(err):
		return http.StatusForbidden
	case services.IsBudgetError(err):
		return http.StatusTooManyRequests
	case services.IsCanceledError(err):
		return utils.StatusClientClosedRequest
	case services.IsUnavailableError(err):
		return http.StatusServiceUnavailable
	case services.IsTimeoutError(err):
		return http.StatusGatewayTimeout
	case services.IsExternalError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError maps domain errors to HTTP responses. Provider errors
// that were not converted yet are converted first.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var providerErr *providers.ProviderError
	if !errors.As(err, new(*services.DomainError)) && errors.As(err, &providerErr) {
		err = services.FromProviderError(providerErr)
	}

	status := StatusFor(err)
	details := services.GetErrorDetails(err)
	message := err.Error()

	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}

	if status == http.StatusInternalServerError {
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		message = "An internal error occurred"
		details = nil
	}

	if writeErr := utils.WriteError(w, status, message, details); writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}

	if domainErr != nil {
		logger.Debug("handled service error",
			zap.String("type", string(domainErr.Type)),
			zap.String("message", domainErr.Message),
			zap.Any("details", domainErr.Details))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		if err := utils.WriteBadRequest(w, "Validation failed", utils.FieldDetails(err)); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
