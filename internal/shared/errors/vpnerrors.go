package errors

import (
	"net/http"
)

// Domain-specific error types for the subscription/backend control plane.
const (
	ErrorTypeStoreLocked        ErrorType = "store_locked"
	ErrorTypeStoreIntegrity     ErrorType = "store_integrity"
	ErrorTypeBackendUnavailable ErrorType = "backend_unavailable"
	ErrorTypeBackendRejected    ErrorType = "backend_rejected"
	ErrorTypeTokenInvalid       ErrorType = "token_invalid"
	ErrorTypeSubscriptionExpired ErrorType = "subscription_expired"
	ErrorTypeRateLimited        ErrorType = "rate_limited"
	ErrorTypeGuardViolation     ErrorType = "guard_violation"
)

// NewStoreLockedError reports that the local store is momentarily unavailable
// for writes (busy/locked), distinct from an integrity violation.
func NewStoreLockedError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:    ErrorTypeStoreLocked,
		Message: message,
		Code:    http.StatusServiceUnavailable,
		Details: detail,
	}
}

// NewStoreIntegrityError reports a constraint violation in the local store
// (foreign key, unique index) that the caller cannot retry past.
func NewStoreIntegrityError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:    ErrorTypeStoreIntegrity,
		Message: message,
		Code:    http.StatusConflict,
		Details: detail,
	}
}

// NewBackendUnavailableError reports that a VPN backend server could not be
// reached (network error, timeout). Retryable.
func NewBackendUnavailableError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:    ErrorTypeBackendUnavailable,
		Message: message,
		Code:    http.StatusBadGateway,
		Details: detail,
	}
}

// NewBackendRejectedError reports that a VPN backend server responded but
// refused the request (4xx from the management API). Not retryable as-is.
func NewBackendRejectedError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:    ErrorTypeBackendRejected,
		Message: message,
		Code:    http.StatusBadGateway,
		Details: detail,
	}
}

// NewTokenInvalidError reports that a subscription token failed format
// validation or does not resolve to any subscription.
func NewTokenInvalidError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:    ErrorTypeTokenInvalid,
		Message: message,
		Code:    http.StatusNotFound,
		Details: detail,
	}
}

// NewSubscriptionExpiredError reports that the token is well formed and
// resolves, but the subscription is inactive or past expiry.
func NewSubscriptionExpiredError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:    ErrorTypeSubscriptionExpired,
		Message: message,
		Code:    http.StatusGone,
		Details: detail,
	}
}

// NewRateLimitedError reports that the caller exceeded the per-token request
// budget on the bundle endpoint.
func NewRateLimitedError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:    ErrorTypeRateLimited,
		Message: message,
		Code:    http.StatusTooManyRequests,
		Details: detail,
	}
}

// NewGuardViolationError reports that a mutation was rejected by a
// referential guard (e.g. deleting a user with active subscriptions).
func NewGuardViolationError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:    ErrorTypeGuardViolation,
		Message: message,
		Code:    http.StatusConflict,
		Details: detail,
	}
}
