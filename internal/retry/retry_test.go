package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	res := Do(context.Background(), fastConfig(), func() error { return nil })
	if res.Err != nil || res.Attempts != 1 {
		t.Fatalf("got attempts=%d err=%v", res.Attempts, res.Err)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	last := errors.New("still failing")
	res := Do(context.Background(), fastConfig(), func() error { return last })
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
	if !errors.Is(res.Err, last) {
		t.Fatalf("err = %v, want last cause", res.Err)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	fatal := errors.New("bad api key")
	calls := 0
	res := Do(context.Background(), fastConfig(), func() error {
		calls++
		return Permanent(fatal)
	})
	if calls != 1 || res.Attempts != 1 {
		t.Fatalf("calls=%d attempts=%d, want 1/1", calls, res.Attempts)
	}
	if !errors.Is(res.Err, fatal) {
		t.Fatalf("err = %v, want wrapped cause", res.Err)
	}
}

func TestDoOnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, cause error) {
		attempts = append(attempts, attempt)
		if cause == nil {
			t.Error("OnRetry called with nil cause")
		}
	}
	Do(context.Background(), cfg, func() error { return errors.New("x") })
	if len(attempts) != 2 || attempts[0] != 2 || attempts[1] != 3 {
		t.Fatalf("OnRetry attempts = %v, want [2 3]", attempts)
	}
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Do(ctx, fastConfig(), func() error { return errors.New("x") })
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.Err)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	v, res := DoWithValue(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if res.Err != nil || v != "ok" {
		t.Fatalf("got v=%q err=%v", v, res.Err)
	}
}

func TestDelayBounds(t *testing.T) {
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
	for attempt := 1; attempt <= 5; attempt++ {
		for i := 0; i < 50; i++ {
			d := Delay(attempt, cfg)
			if d < 0 || d > time.Duration(float64(cfg.MaxDelay)*1.25) {
				t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
			}
		}
	}
	noJitter := cfg
	noJitter.Jitter = false
	if got := Delay(1, noJitter); got != 100*time.Millisecond {
		t.Fatalf("Delay(1) = %v, want 100ms", got)
	}
	if got := Delay(2, noJitter); got != 200*time.Millisecond {
		t.Fatalf("Delay(2) = %v, want 200ms", got)
	}
	if got := Delay(10, noJitter); got != time.Second {
		t.Fatalf("Delay(10) = %v, want cap 1s", got)
	}
}
