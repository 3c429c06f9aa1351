package dto

import (
	"net/http"

	"github.com/marketplace/payouts/internal/domain/payout"
)

// Transport error codes
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeValidation is used when request binding or validation fails
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	// ErrCodeTokenExpired is used when the operator token has expired
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	// ErrCodeTokenInvalid is used when the operator token is invalid
	ErrCodeTokenInvalid = "INVALID_TOKEN"
	// ErrCodeServiceUnavailable is used when a dependency is down
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Shared domain error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeInvalidOrderStatus  = "INVALID_ORDER_STATUS"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeRequestTooLarge:    http.StatusRequestEntityTooLarge,
	ErrCodeTokenExpired:       http.StatusUnauthorized,
	ErrCodeTokenInvalid:       http.StatusUnauthorized,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeInvalidInput:        http.StatusBadRequest,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeUnauthorized:        http.StatusUnauthorized,
	ErrCodeForbidden:           http.StatusForbidden,
	ErrCodeInvalidState:        http.StatusConflict,
	ErrCodeInvalidOrderStatus:  http.StatusBadRequest,

	// Payout errors
	payout.CodeInvalidOrder:       http.StatusBadRequest,
	payout.CodeInconsistentLedger: http.StatusInternalServerError,
	payout.CodeInvalidTransition:  http.StatusConflict,
	payout.CodeAmountMismatch:     http.StatusUnprocessableEntity,
	payout.CodeInvalidPeriod:      http.StatusBadRequest,
	payout.CodeInvalidRate:        http.StatusBadRequest,
	payout.CodePayoutExists:       http.StatusConflict,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// legacyErrorCodes maps aliases some callers still emit to their canonical code
var legacyErrorCodes = map[string]string{
	"ERR_NOT_FOUND":  ErrCodeNotFound,
	"ERR_VALIDATION": ErrCodeValidation,
	"ERR_INTERNAL":   ErrCodeInternal,
	"BINDING_ERROR":  ErrCodeValidation,
}

// NormalizeErrorCode converts an alias to its canonical code.
// Canonical and unknown codes are returned unchanged.
func NormalizeErrorCode(code string) string {
	if canonical, ok := legacyErrorCodes[code]; ok {
		return canonical
	}
	return code
}
