package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// Packages MUST use these constants instead of hardcoded strings.
const (
	// Validation (400). Never retried.
	ErrCodeValidationMissingField   ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidPayload ErrorCode = "validation_invalid_job_payload"
	ErrCodeValidationUnknownKind    ErrorCode = "validation_unknown_job_kind"
	ErrCodeValidationInvalidWebhook ErrorCode = "validation_invalid_webhook_url"
	ErrCodeValidationInvalidSlack   ErrorCode = "validation_invalid_slack_url"
	ErrCodeValidationInvalidChannel ErrorCode = "validation_invalid_channel_config"
	ErrCodeValidationInvalidURL     ErrorCode = "validation_invalid_url"
	ErrCodeValidationInvalidJSON    ErrorCode = "validation_invalid_json"
	ErrCodeValidationUnknownTask    ErrorCode = "validation_unknown_task"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Limits (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Tenant isolation. Processors map this to a skipped result.
	ErrCodeTenantMismatch ErrorCode = "tenant_mismatch"

	// SSRF (422). Hard failure, never retried.
	ErrCodeSSRFRejected ErrorCode = "ssrf_rejected"

	// Not Found (404)
	ErrCodeNotFoundSite    ErrorCode = "not_found_site"
	ErrCodeNotFoundJob     ErrorCode = "not_found_job"
	ErrCodeNotFoundRule    ErrorCode = "not_found_alert_rule"
	ErrCodeNotFoundEvent   ErrorCode = "not_found_alert_event"
	ErrCodeNotFoundChannel ErrorCode = "not_found_channel"
	ErrCodeNotFoundReport  ErrorCode = "not_found_crawl_report"

	// Conflict (409)
	ErrCodeConflictNotLeased  ErrorCode = "conflict_job_not_leased"
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"

	// Job lifecycle
	ErrCodeJobDeadLettered ErrorCode = "job_dead_lettered"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalQueue         ErrorCode = "internal_queue_error"
	ErrCodeInternalStorage       ErrorCode = "internal_storage_error"
	ErrCodeUpstreamSearch        ErrorCode = "upstream_search_analytics_unavailable"
	ErrCodeUpstreamPageSpeed     ErrorCode = "upstream_pagespeed_unavailable"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamChannel       ErrorCode = "upstream_channel_unreachable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamTimeout       ErrorCode = "upstream_timeout"

	ErrCodeEmailBlocked ErrorCode = "email_blocked"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case s == string(ErrCodeSSRFRejected):
		return http.StatusUnprocessableEntity // 422
	case s == string(ErrCodeTenantMismatch):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// Retryable reports whether a failure carrying this code may succeed on a
// later attempt. Validation, SSRF and tenant failures are permanent.
func (c ErrorCode) Retryable() bool {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"),
		strings.HasPrefix(s, "auth_"),
		strings.HasPrefix(s, "not_found_"),
		s == string(ErrCodeSSRFRejected),
		s == string(ErrCodeTenantMismatch),
		s == string(ErrCodeEmailBlocked),
		s == string(ErrCodeJobDeadLettered):
		return false
	default:
		return true
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain errors should be expressed as AppError to enable consistent
// error formatting, retry classification, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from the first AppError in err's chain.
// Returns the empty code when err carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether a job that failed with err should be retried.
// Errors without an AppError in the chain are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	code := CodeOf(err)
	if code == "" {
		return true
	}
	return code.Retryable()
}
