// Package providers implements backend adapters over the agent runtime's
// Provider capability, with retry classification shared across vendors.
package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureReason categorizes why a provider request failed, driving the
// retryable/fatal split.
type FailureReason string

const (
	// ReasonRateLimit is HTTP 429 throttling.
	ReasonRateLimit FailureReason = "rate_limit"

	// ReasonTimeout covers request timeouts and deadline expiry.
	ReasonTimeout FailureReason = "timeout"

	// ReasonServerError covers HTTP 5xx and transport-level failures.
	ReasonServerError FailureReason = "server_error"

	// ReasonStream covers mid-stream transport interruptions.
	ReasonStream FailureReason = "stream"

	// ReasonAuth is an invalid or rejected credential (401, 403).
	ReasonAuth FailureReason = "auth"

	// ReasonInvalidRequest is a malformed request (400, 404, 422).
	ReasonInvalidRequest FailureReason = "invalid_request"

	// ReasonBilling is a quota or payment problem (402).
	ReasonBilling FailureReason = "billing"

	// ReasonUnknown is anything unclassified. Treated as fatal.
	ReasonUnknown FailureReason = "unknown"
)

// IsRetryable reports whether retrying may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonStream:
		return true
	default:
		return false
	}
}

// Error is a structured provider failure carrying the context retry logic
// and diagnostics need.
type Error struct {
	Reason    FailureReason
	Provider  string
	Model     string
	Status    int
	Message   string
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Reason, e.Provider)}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap builds a classified Error from any failure. Already-classified
// errors pass through unchanged.
func Wrap(provider, model string, cause error) error {
	if cause == nil {
		return nil
	}
	var perr *Error
	if errors.As(cause, &perr) {
		return cause
	}
	return &Error{
		Reason:   Classify(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// IsRetryable reports whether err should be retried, classifying on the fly
// when it is not already a structured Error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Reason.IsRetryable()
	}
	return Classify(err).IsRetryable()
}

// Classify inspects an error message and maps it to a FailureReason. Vendor
// SDKs surface status codes inconsistently, so substring matching is the
// common denominator.
func Classify(err error) FailureReason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return ReasonRateLimit

	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "timed out"):
		return ReasonTimeout

	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"), strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"), strings.Contains(msg, "overloaded"):
		return ReasonServerError

	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "unexpected eof"), strings.Contains(msg, "stream error"):
		return ReasonStream

	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "invalid api key"), strings.Contains(msg, "authentication"):
		return ReasonAuth

	case strings.Contains(msg, "402"), strings.Contains(msg, "quota"),
		strings.Contains(msg, "billing"), strings.Contains(msg, "insufficient"):
		return ReasonBilling

	case strings.Contains(msg, "400"), strings.Contains(msg, "404"),
		strings.Contains(msg, "422"), strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "bad request"), strings.Contains(msg, "not found"):
		return ReasonInvalidRequest
	}
	return ReasonUnknown
}

// classifyStatus maps an HTTP status code to a FailureReason.
func classifyStatus(status int) FailureReason {
	switch {
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ReasonTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status >= 500:
		return ReasonServerError
	case status >= 400:
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}
