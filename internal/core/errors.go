package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// FailureKind classifies why a request or provider attempt failed.
type FailureKind string

const (
	// KindRateLimited indicates the provider responded with a rate/quota signal.
	KindRateLimited FailureKind = "rate_limited"
	// KindAuthFailed indicates an invalid or missing credential.
	KindAuthFailed FailureKind = "auth_failed"
	// KindContentBlocked indicates the provider's safety filter rejected the prompt.
	KindContentBlocked FailureKind = "content_blocked"
	// KindProviderUnavailable covers network failures, unrecognized non-2xx
	// statuses and 2xx responses with no usable text. Triggers fallback.
	KindProviderUnavailable FailureKind = "provider_unavailable"
	// KindNoProviderConfigured indicates no candidate provider had a credential.
	KindNoProviderConfigured FailureKind = "no_provider_configured"
	// KindAggregatedFailure indicates every candidate provider failed.
	KindAggregatedFailure FailureKind = "aggregated_failure"
	// KindInvalidRequest indicates a malformed client request.
	KindInvalidRequest FailureKind = "invalid_request"
	// KindTranscriptionFailed indicates the transcription job reached a failed state.
	KindTranscriptionFailed FailureKind = "transcription_failed"
	// KindTranscriptionTimeout indicates the poller exhausted its attempts.
	KindTranscriptionTimeout FailureKind = "transcription_timeout"
	// KindCancelled indicates the caller aborted the request.
	KindCancelled FailureKind = "cancelled"
)

// Error is the base error type for all Tutorly failures.
type Error struct {
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Provider string      `json:"provider,omitempty"`
	// Err holds the underlying error for debugging (not exposed to clients).
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status a handler should respond with.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindAuthFailed:
		return http.StatusUnauthorized
	case KindContentBlocked, KindInvalidRequest:
		return http.StatusBadRequest
	case KindAggregatedFailure:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return 499 // client closed request (nginx convention)
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new Error with the given kind and message.
func NewError(kind FailureKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewProviderFailure creates an Error attributed to a specific provider.
func NewProviderFailure(kind FailureKind, provider, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Provider: provider, Err: err}
}

// Attempt records the outcome of a single provider attempt, kept for
// diagnostics in an AggregatedError.
type Attempt struct {
	Provider string      `json:"provider"`
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
}

// AggregatedError is returned when every candidate provider failed.
// Attempts are in the same order as the candidate list.
type AggregatedError struct {
	Attempts []Attempt `json:"attempts"`
}

// Error implements the error interface.
func (e *AggregatedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s=%s", a.Provider, a.Kind))
	}
	return fmt.Sprintf("all %d providers failed: %s", len(e.Attempts), strings.Join(parts, ", "))
}

// HTTPStatusCode returns 503 — candidates exhausted, service degraded.
func (e *AggregatedError) HTTPStatusCode() int {
	return http.StatusServiceUnavailable
}

// blockedMarkers are substrings of provider error messages that indicate a
// safety-filter rejection rather than a transient failure.
var blockedMarkers = []string{
	"safety", "content_filter", "content policy", "blocked", "moderation",
}

// ClassifyProviderStatus maps an upstream HTTP status and response body to a
// FailureKind. Unrecognized statuses classify as provider_unavailable so the
// fan-out client advances to the next candidate.
func ClassifyProviderStatus(statusCode int, body []byte) FailureKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindAuthFailed
	case statusCode == http.StatusBadRequest:
		lower := strings.ToLower(string(body))
		for _, marker := range blockedMarkers {
			if strings.Contains(lower, marker) {
				return KindContentBlocked
			}
		}
		return KindProviderUnavailable
	default:
		return KindProviderUnavailable
	}
}

// ProviderErrorMessage extracts a human-readable message from a provider
// error response body. Falls back to the raw body when it is not the common
// {"error":{"message":...}} shape.
func ProviderErrorMessage(body []byte) string {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		return errorResponse.Error.Message
	}
	return string(body)
}
