package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/service"
	"github.com/wallet-tracker/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "RUN_IN_PROGRESS"
	ErrCodeNoWallets          = "NO_WALLETS"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// mapServiceError maps service errors to HTTP status, code and message.
// Internal failures are logged and reported without their cause.
func mapServiceError(r *http.Request, err error) (int, string, string, map[string]interface{}) {
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		return http.StatusConflict, ErrCodeConflict, service.RunFailureMessage(err), nil
	case errors.Is(err, service.ErrNoWallets):
		return http.StatusBadGateway, ErrCodeNoWallets, service.RunFailureMessage(err), nil
	}

	catErr := apperrors.Categorize(err)
	switch catErr.Category {
	case apperrors.CategoryValidation, apperrors.CategoryNotFound, apperrors.CategoryRateLimit:
		return catErr.StatusCode, catErr.Code, catErr.Message, catErr.Details
	case apperrors.CategoryTransport:
		return catErr.StatusCode, catErr.Code, service.RunFailureMessage(err), catErr.Details
	default:
		logging.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil
	}
}

// respondServiceError maps err and sends it
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapServiceError(r, err)
	respondError(w, status, code, message, details)
}
