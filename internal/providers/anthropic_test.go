package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/retry"
	"github.com/droverhq/drover/pkg/models"
)

func drainChunks(t *testing.T, p *Anthropic) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := p.Complete(ctx, &agent.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	if err != nil {
		return err
	}
	var last error
	for chunk := range ch {
		if chunk.Error != nil {
			last = chunk.Error
		}
	}
	return last
}

// Consecutive 429 responses must be retried on the configured schedule, one
// request per attempt, with OnRetry observing each re-attempt, and the final
// error must reference the rate limit.
func TestAnthropicRetriesRateLimitPerSchedule(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	var attempts []int
	p, err := NewAnthropic(AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Factor:       2.0,
		},
		OnRetry: func(attempt int, cause error) {
			attempts = append(attempts, attempt)
		},
	})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}

	finalErr := drainChunks(t, p)
	if finalErr == nil {
		t.Fatal("expected a terminal error after exhausting retries")
	}

	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3 (one per attempt)", got)
	}
	if len(attempts) != 2 || attempts[0] != 2 || attempts[1] != 3 {
		t.Errorf("OnRetry attempts = %v, want [2 3]", attempts)
	}

	var perr *Error
	if !errors.As(finalErr, &perr) {
		t.Fatalf("final error %v is not a provider error", finalErr)
	}
	if perr.Reason != ReasonRateLimit {
		t.Errorf("reason = %s, want %s", perr.Reason, ReasonRateLimit)
	}
	msg := strings.ToLower(finalErr.Error())
	if !strings.Contains(msg, "429") && !strings.Contains(msg, "rate") {
		t.Errorf("final error should reference the underlying rate limit: %v", finalErr)
	}
	if perr.Unwrap() == nil {
		t.Error("final error should carry the underlying cause")
	}
}

// Auth failures are fatal: one request, no retries, no OnRetry calls.
func TestAnthropicAuthFailureIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	defer srv.Close()

	retried := 0
	p, err := NewAnthropic(AnthropicConfig{
		APIKey:  "bad-key",
		BaseURL: srv.URL,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Factor:       2.0,
		},
		OnRetry: func(int, error) { retried++ },
	})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}

	finalErr := drainChunks(t, p)
	if finalErr == nil {
		t.Fatal("expected an auth error")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1 (no retries on fatal errors)", got)
	}
	if retried != 0 {
		t.Errorf("OnRetry fired %d times for a fatal error", retried)
	}
	if IsRetryable(finalErr) {
		t.Errorf("auth failure classified retryable: %v", finalErr)
	}
}
