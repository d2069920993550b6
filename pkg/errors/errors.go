// Package errors defines unified error types for generation orchestration.
// Provider-specific failures are mapped to these standard error codes so the
// orchestrator can decide on failover without knowing any backend's protocol.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// GenerationError is the structured failure carried on a GenerationResult.
// Every terminal failure exposes a human-readable message and a retryable flag.
type GenerationError struct {
	StatusCode   int              `json:"status_code"`
	Code         string           `json:"code"`
	Message      string           `json:"message"`
	Provider     string           `json:"provider,omitempty"`
	Retryable    bool             `json:"retryable"`
	SuggestedFix string           `json:"suggested_fix,omitempty"`
	Position     int              `json:"position,omitempty"`
	Cause        *GenerationError `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("[%s] %s (code=%d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (provider=%s, code=%d)", e.Code, e.Message, e.Provider, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *GenerationError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error codes.
const (
	CodeValidation         = "validation_error"
	CodeAuthentication     = "authentication_error"
	CodeRateLimit          = "rate_limit_error"
	CodeInvalidRequest     = "invalid_request_error"
	CodeNotFound           = "not_found_error"
	CodeTimeout            = "timeout_error"
	CodeServiceUnavailable = "service_unavailable_error"
	CodeInternal           = "internal_error"
	CodeContentPolicy      = "content_policy_violation"
	CodeCacheUnavailable   = "cache_unavailable"
	CodeQueueSaturation    = "queue_saturation"
	CodeExhaustedFailover  = "exhausted_failover"
	CodeCancelled          = "cancelled"
	CodeNotReady           = "result_not_ready"
)

// NewValidationError creates an error for a malformed request (400).
// Validation errors are raised before fingerprinting and are never cached.
func NewValidationError(message string) *GenerationError {
	return &GenerationError{
		StatusCode:   http.StatusBadRequest,
		Code:         CodeValidation,
		Message:      message,
		SuggestedFix: "correct the request parameters and resubmit",
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, message string) *GenerationError {
	return &GenerationError{
		StatusCode:   http.StatusUnauthorized,
		Code:         CodeAuthentication,
		Message:      message,
		Provider:     provider,
		SuggestedFix: "check the provider API key",
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, message string) *GenerationError {
	return &GenerationError{
		StatusCode:   http.StatusTooManyRequests,
		Code:         CodeRateLimit,
		Message:      message,
		Provider:     provider,
		Retryable:    true,
		SuggestedFix: "wait before retrying or choose another provider",
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, message string) *GenerationError {
	return &GenerationError{
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidRequest,
		Message:    message,
		Provider:   provider,
	}
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(message string) *GenerationError {
	return &GenerationError{
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    message,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, message string) *GenerationError {
	return &GenerationError{
		StatusCode:   http.StatusRequestTimeout,
		Code:         CodeTimeout,
		Message:      message,
		Provider:     provider,
		Retryable:    true,
		SuggestedFix: "retry later or lower the step count",
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, message string) *GenerationError {
	return &GenerationError{
		StatusCode:   http.StatusServiceUnavailable,
		Code:         CodeServiceUnavailable,
		Message:      message,
		Provider:     provider,
		Retryable:    true,
		SuggestedFix: "retry later",
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(provider, message string) *GenerationError {
	return &GenerationError{
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Provider:   provider,
	}
}

// NewContentPolicyError creates a content policy violation (400).
func NewContentPolicyError(provider, message string) *GenerationError {
	return &GenerationError{
		StatusCode:   http.StatusBadRequest,
		Code:         CodeContentPolicy,
		Message:      message,
		Provider:     provider,
		SuggestedFix: "rephrase the prompt",
	}
}

// NewCacheUnavailableError reports an unreachable cache store.
// Callers log it and fall back to the miss path.
func NewCacheUnavailableError(message string) *GenerationError {
	return &GenerationError{
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeCacheUnavailable,
		Message:    message,
		Retryable:  true,
	}
}

// NewQueueSaturationError reports that the concurrency bound is reached.
// It is informational: the request still waits at the given position.
func NewQueueSaturationError(position int) *GenerationError {
	return &GenerationError{
		StatusCode:   http.StatusAccepted,
		Code:         CodeQueueSaturation,
		Message:      fmt.Sprintf("all workers busy, queued at position %d", position),
		Retryable:    true,
		Position:     position,
		SuggestedFix: "poll the ticket status",
	}
}

// NewExhaustedFailoverError creates the terminal error returned when every
// eligible provider failed. It carries the last provider error, if any.
func NewExhaustedFailoverError(last *GenerationError, attempts int) *GenerationError {
	e := &GenerationError{
		StatusCode:   http.StatusBadGateway,
		Code:         CodeExhaustedFailover,
		Message:      fmt.Sprintf("no provider could complete the request after %d attempt(s)", attempts),
		Cause:        last,
		SuggestedFix: "relax the cost ceiling or capability requirements, or retry later",
	}
	if last != nil {
		e.Provider = last.Provider
		e.Retryable = last.Retryable
		e.Message = fmt.Sprintf("%s: last error from %s: %s", e.Message, last.Provider, last.Message)
		if last.SuggestedFix != "" {
			e.SuggestedFix = last.SuggestedFix
		}
	} else {
		e.Retryable = true
	}
	return e
}

// NewCancelledError reports a request cancelled before dispatch.
func NewCancelledError(message string) *GenerationError {
	return &GenerationError{
		StatusCode: 499,
		Code:       CodeCancelled,
		Message:    message,
	}
}

// NewNotReadyError reports that a ticket has no completed result yet.
func NewNotReadyError(message string) *GenerationError {
	return &GenerationError{
		StatusCode:   http.StatusConflict,
		Code:         CodeNotReady,
		Message:      message,
		Retryable:    true,
		SuggestedFix: "poll until the status is completed",
	}
}

// FromStatus maps an upstream HTTP status code to a standardized error.
func FromStatus(provider string, statusCode int, message string) *GenerationError {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthenticationError(provider, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, message)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return NewTimeoutError(provider, message)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return NewInvalidRequestError(provider, message)
	case statusCode == http.StatusNotFound:
		e := NewInternalError(provider, message)
		e.StatusCode = http.StatusNotFound
		return e
	case statusCode >= 500:
		return NewServiceUnavailableError(provider, message)
	default:
		return NewInternalError(provider, message)
	}
}

// Wrap converts an arbitrary adapter error into a GenerationError attributed
// to the given provider. Structured errors pass through unchanged.
func Wrap(provider string, err error) *GenerationError {
	if err == nil {
		return nil
	}
	var genErr *GenerationError
	if stderrors.As(err, &genErr) {
		if genErr.Provider == "" {
			clone := *genErr
			clone.Provider = provider
			return &clone
		}
		return genErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(provider, err.Error())
	}
	if stderrors.Is(err, context.Canceled) {
		return NewCancelledError(err.Error())
	}
	return NewServiceUnavailableError(provider, err.Error())
}

// As extracts a GenerationError from err.
func As(err error) (*GenerationError, bool) {
	var genErr *GenerationError
	if stderrors.As(err, &genErr) {
		return genErr, true
	}
	return nil, false
}

// IsRequestScoped reports whether the failure is caused by the request itself,
// in which case another provider would fail the same way.
func IsRequestScoped(code string) bool {
	switch code {
	case CodeContentPolicy, CodeInvalidRequest, CodeValidation:
		return true
	default:
		return false
	}
}
