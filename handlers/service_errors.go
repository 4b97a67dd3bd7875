package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/sso-audit/services"
	"github.com/upb/sso-audit/utils"
	"go.uber.org/zap"
)

// retryAfterSeconds is the back-off hint sent with 503 responses
const retryAfterSeconds = 5

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var domainErr *services.DomainError
	errors.As(err, &domainErr)
	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message(err, domainErr), details)

	case services.IsNotFoundError(err):
		writeErr = utils.WriteError(w, http.StatusNotFound, message(err, domainErr), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message(err, domainErr))

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, message(err, domainErr))

	case services.IsRateLimitError(err):
		writeErr = utils.WriteTooManyRequests(w, message(err, domainErr), details)

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, message(err, domainErr), details)

	case services.IsUnavailableError(err):
		writeErr = utils.WriteServiceUnavailable(w, message(err, domainErr), retryAfterSeconds, nil)

	case services.IsStorageError(err) && services.IsRetryableError(err):
		logger.Warn("storage temporarily unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, "Storage temporarily unavailable, retry later",
			retryAfterSeconds, map[string]interface{}{"retryable": true})

	case services.IsStorageError(err):
		logger.Error("storage error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "The event could not be stored")

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
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
		fields := utils.GetValidationFields(err)
		details := map[string]interface{}{"fields": fields}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// message prefers the domain message over the formatted error chain
func message(err error, domainErr *services.DomainError) string {
	if domainErr != nil && domainErr.Message != "" {
		return domainErr.Message
	}
	return err.Error()
}
