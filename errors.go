package chatrelay

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a relay failure so callers can map it to an HTTP
// status and decide whether the request is worth retrying.
type ErrorKind string

const (
	// ErrKindInvalidInput means the caller sent a malformed or empty
	// conversation. Client-correctable.
	ErrKindInvalidInput ErrorKind = "invalid_input"

	// ErrKindRateLimited means admission control rejected the request.
	// The caller should back off for at least RetryAfter.
	ErrKindRateLimited ErrorKind = "rate_limited"

	// ErrKindUpstreamUnavailable means the backend could not be reached or
	// stopped making progress. Retried once internally before surfacing.
	ErrKindUpstreamUnavailable ErrorKind = "upstream_unavailable"

	// ErrKindUpstreamRejected means the backend returned an error status.
	// The status class is preserved when it is a recognized one.
	ErrKindUpstreamRejected ErrorKind = "upstream_rejected"

	// ErrKindConfiguration means the relay itself is misconfigured, for
	// example a missing backend credential. Never retried and never
	// detailed to the caller.
	ErrKindConfiguration ErrorKind = "configuration"

	// ErrKindEmptyResult means the backend call succeeded but returned no
	// content, and the relay is configured to treat that as a failure.
	ErrKindEmptyResult ErrorKind = "empty_result"
)

// RelayError is the structured error surfaced by the relay. Status carries
// the HTTP status the server should respond with; for upstream rejections it
// is the backend's own status when the class is recognized.
type RelayError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewInvalidInputError reports a client-correctable request problem.
func NewInvalidInputError(message string) *RelayError {
	return &RelayError{Kind: ErrKindInvalidInput, Status: http.StatusBadRequest, Message: message}
}

// NewRateLimitedError reports an admission-control rejection.
func NewRateLimitedError(message string) *RelayError {
	return &RelayError{Kind: ErrKindRateLimited, Status: http.StatusTooManyRequests, Message: message}
}

// NewUpstreamUnavailableError reports a transport-class backend failure.
func NewUpstreamUnavailableError(message string) *RelayError {
	return &RelayError{Kind: ErrKindUpstreamUnavailable, Status: http.StatusBadGateway, Message: message}
}

// NewUpstreamRejectedError reports a backend error response. When status is a
// recognized class (401, 429 or any 5xx) it is propagated verbatim, otherwise
// the error degrades to a generic upstream failure.
func NewUpstreamRejectedError(status int, message string) *RelayError {
	if status != http.StatusUnauthorized && status != http.StatusTooManyRequests && status < 500 {
		return NewUpstreamUnavailableError(message)
	}
	return &RelayError{Kind: ErrKindUpstreamRejected, Status: status, Message: message}
}

// NewConfigurationError reports a server-side setup problem. The message is
// logged but callers only ever see a generic failure.
func NewConfigurationError(message string) *RelayError {
	return &RelayError{Kind: ErrKindConfiguration, Status: http.StatusInternalServerError, Message: message}
}

// NewEmptyResultError reports a technically successful backend call that
// produced no content.
func NewEmptyResultError() *RelayError {
	return &RelayError{Kind: ErrKindEmptyResult, Status: http.StatusBadGateway, Message: "backend returned empty content"}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed. Errors that
// are not RelayError report an empty kind.
func KindOf(err error) ErrorKind {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// HTTPStatus maps err to the status the server should answer with.
// Unclassified errors map to 500.
func HTTPStatus(err error) int {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Status
	}
	return http.StatusInternalServerError
}
