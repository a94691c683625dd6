package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ErrChainUnavailable marks failures reaching the blockchain RPC endpoint.
// Retryable; HTTP surfaces it as 503.
var ErrChainUnavailable = errors.New("chain unavailable")

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Client errors (4xx)
	ErrCodeBadRequest          ErrorCode = "bad_request"
	ErrCodeNotFound            ErrorCode = "not_found"
	ErrCodeValidationFailed    ErrorCode = "validation_failed"
	ErrCodeUnauthorized        ErrorCode = "unauthorized"
	ErrCodeForbidden           ErrorCode = "forbidden"
	ErrCodePaymentRequired     ErrorCode = "payment_required"
	ErrCodeVerificationFailed  ErrorCode = "verification_failed"
	ErrCodeInsufficientBalance ErrorCode = "insufficient_balance"
	ErrCodeRateLimited         ErrorCode = "rate_limited"

	// Server errors (5xx)
	ErrCodeInternalError    ErrorCode = "internal_error"
	ErrCodeChainUnavailable ErrorCode = "chain_unavailable"
)

// APIError is the structured error returned on HTTP surfaces
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	jsonErr, _ := json.Marshal(e)
	return string(jsonErr)
}

// Status maps the error code to an HTTP status
func (e *APIError) Status() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodePaymentRequired:
		return http.StatusPaymentRequired
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeChainUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func newError(code ErrorCode, message string, details []string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewBadRequestError(message string, details ...string) *APIError {
	return newError(ErrCodeBadRequest, message, details)
}

func NewNotFoundError(message string, details ...string) *APIError {
	return newError(ErrCodeNotFound, message, details)
}

func NewValidationError(details ...string) *APIError {
	return newError(ErrCodeValidationFailed, "Validation failed", details)
}

func NewUnauthorizedError(message string, details ...string) *APIError {
	return newError(ErrCodeUnauthorized, message, details)
}

func NewForbiddenError(message string, details ...string) *APIError {
	return newError(ErrCodeForbidden, message, details)
}

func NewPaymentRequiredError(message string, details ...string) *APIError {
	return newError(ErrCodePaymentRequired, message, details)
}

func NewVerificationFailedError(reason string) *APIError {
	return newError(ErrCodeVerificationFailed, "Transaction verification failed", []string{reason})
}

func NewInsufficientBalanceError(message string, details ...string) *APIError {
	return newError(ErrCodeInsufficientBalance, message, details)
}

func NewChainUnavailableError(details ...string) *APIError {
	return newError(ErrCodeChainUnavailable, "Blockchain endpoint unavailable", details)
}

func NewInternalError(message string, details ...string) *APIError {
	return newError(ErrCodeInternalError, message, details)
}

