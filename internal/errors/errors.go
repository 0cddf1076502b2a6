// Package errors defines the error taxonomy of the wallet tracker.
//
// Collection-time failures (transport, parse) are recovered at page or row
// level by the collector. Persistence failures abort one pipeline run.
// Analysis failures are turned into sentinel results by the signal heuristic.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/wallet-tracker/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransport represents a failed page fetch (network or HTTP)
	CategoryTransport ErrorCategory = "transport"
	// CategoryParse represents markup or numeric conversion failures
	CategoryParse ErrorCategory = "parse"
	// CategoryPersistence represents store unavailability or constraint violations
	CategoryPersistence ErrorCategory = "persistence"
	// CategoryAnalysis represents heuristic computation failures
	CategoryAnalysis ErrorCategory = "analysis"
	// CategoryValidation represents invalid caller input
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem represents everything else
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewTransportError creates a page fetch error. unreachable is true when no
// response was received at all (DNS, connection refused, timeout).
func NewTransportError(page int, cause error, unreachable bool) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransport,
		StatusCode: http.StatusBadGateway,
		Code:       "TRANSPORT_ERROR",
		Message:    fmt.Sprintf("failed to fetch ranking page %d", page),
		Cause:      cause,
		Details: map[string]interface{}{
			"page":        page,
			"unreachable": unreachable,
		},
	}
}

// NewParseError creates a parse error. row is 0 for page-level failures.
func NewParseError(page, row int, reason string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryParse,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "PARSE_ERROR",
		Message:    fmt.Sprintf("page %d row %d: %s", page, row, reason),
		Cause:      cause,
		Details: map[string]interface{}{
			"page": page,
			"row":  row,
		},
	}
}

// NewPersistenceError creates a store error
func NewPersistenceError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusInternalServerError,
		Code:       "PERSISTENCE_ERROR",
		Message:    fmt.Sprintf("store error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewAnalysisError creates a heuristic computation error
func NewAnalysisError(reason string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAnalysis,
		StatusCode: http.StatusInternalServerError,
		Code:       "ANALYSIS_ERROR",
		Message:    reason,
		Cause:      cause,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize finds the categorized error in err's chain, or wraps err as internal
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// Is reports whether err carries the given category
func Is(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}

// IsTransport reports whether err is a page fetch failure
func IsTransport(err error) bool {
	return Is(err, CategoryTransport)
}

// IsUnreachable reports whether err is a transport failure without any response
func IsUnreachable(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) || catErr.Category != CategoryTransport {
		return false
	}
	unreachable, _ := catErr.Details["unreachable"].(bool)
	return unreachable
}

// IsPersistence reports whether err is a store failure
func IsPersistence(err error) bool {
	return Is(err, CategoryPersistence)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if a whole pipeline run may be retried after err
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryTransport, CategoryPersistence:
		return true
	default:
		return false
	}
}
