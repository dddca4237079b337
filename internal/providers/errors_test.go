package providers

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"rate limit text", errors.New("rate limit exceeded"), ReasonRateLimit},
		{"429 status", errors.New("HTTP 429 too many requests"), ReasonRateLimit},
		{"timeout", errors.New("context deadline exceeded"), ReasonTimeout},
		{"server 503", errors.New("503 service unavailable"), ReasonServerError},
		{"overloaded", errors.New("overloaded_error: try again"), ReasonServerError},
		{"connection reset", errors.New("read: connection reset by peer"), ReasonStream},
		{"unexpected eof", errors.New("unexpected EOF"), ReasonStream},
		{"auth 401", errors.New("401 unauthorized"), ReasonAuth},
		{"invalid api key", errors.New("invalid api key provided"), ReasonAuth},
		{"bad request", errors.New("400 bad request: missing field"), ReasonInvalidRequest},
		{"quota", errors.New("you have exceeded your quota"), ReasonBilling},
		{"unclassified", errors.New("something odd"), ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestReasonRetryability(t *testing.T) {
	retryable := []FailureReason{ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonStream}
	fatal := []FailureReason{ReasonAuth, ReasonInvalidRequest, ReasonBilling, ReasonUnknown}
	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Errorf("%s should be retryable", r)
		}
	}
	for _, r := range fatal {
		if r.IsRetryable() {
			t.Errorf("%s should be fatal", r)
		}
	}
}

func TestWrapPreservesClassifiedErrors(t *testing.T) {
	orig := &Error{Reason: ReasonRateLimit, Provider: "anthropic"}
	wrapped := Wrap("openai", "gpt-4o", fmt.Errorf("outer: %w", orig))
	var perr *Error
	if !errors.As(wrapped, &perr) || perr.Reason != ReasonRateLimit {
		t.Fatalf("wrapped = %v", wrapped)
	}
}

func TestWrapClassifiesAndCarriesCause(t *testing.T) {
	cause := errors.New("401 unauthorized")
	wrapped := Wrap("anthropic", "claude-sonnet-4-5", cause)
	var perr *Error
	if !errors.As(wrapped, &perr) {
		t.Fatalf("wrapped = %T", wrapped)
	}
	if perr.Reason != ReasonAuth || perr.Provider != "anthropic" {
		t.Fatalf("perr = %+v", perr)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("cause must be reachable via Unwrap")
	}
	if IsRetryable(wrapped) {
		t.Fatal("auth errors are fatal")
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]FailureReason{
		429: ReasonRateLimit,
		408: ReasonTimeout,
		401: ReasonAuth,
		403: ReasonAuth,
		402: ReasonBilling,
		500: ReasonServerError,
		502: ReasonServerError,
		400: ReasonInvalidRequest,
		404: ReasonInvalidRequest,
		200: ReasonUnknown,
	}
	for status, want := range cases {
		if got := classifyStatus(status); got != want {
			t.Errorf("classifyStatus(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestErrorMessageFormat(t *testing.T) {
	err := &Error{
		Reason:   ReasonServerError,
		Provider: "anthropic",
		Model:    "claude-sonnet-4-5",
		Status:   503,
		Message:  "upstream overloaded",
	}
	msg := err.Error()
	for _, want := range []string{"server_error", "anthropic", "model=claude-sonnet-4-5", "status=503", "upstream overloaded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
