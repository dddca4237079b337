// Package retry implements bounded retries with exponential backoff and
// jitter for transient provider failures.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config controls the retry schedule.
type Config struct {
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor multiplies the delay after each failure.
	Factor float64
	// Jitter randomizes each delay within ±25%.
	Jitter bool
	// OnRetry, if set, runs before each re-attempt with the upcoming attempt
	// number (2..MaxAttempts) and the error that triggered it.
	OnRetry func(attempt int, cause error)
}

// DefaultConfig is the schedule used for provider calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Result describes the outcome of a retried operation.
type Result struct {
	Attempts int
	Err      error
	Duration time.Duration
}

func (c *Config) sanitize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
}

// Do runs op until it succeeds, returns a permanent error, exhausts
// MaxAttempts, or ctx is cancelled. The per-attempt error decides
// retryability via IsPermanent.
func Do(ctx context.Context, cfg Config, op func() error) Result {
	cfg.sanitize()
	start := time.Now()
	res := Result{}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt

		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		err := op()
		res.Err = err
		if err == nil || IsPermanent(err) || attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			res.Duration = time.Since(start)
			return res
		case <-time.After(Delay(attempt, cfg)):
		}
	}

	res.Duration = time.Since(start)
	return res
}

// DoWithValue is Do for operations that produce a value.
func DoWithValue[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, Result) {
	var value T
	res := Do(ctx, cfg, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, res
}

// Delay computes the backoff before attempt+1, given that `attempt` attempts
// have already failed.
func Delay(attempt int, cfg Config) time.Duration {
	cfg.sanitize()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Factor, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		// ±25% keeps concurrent retries from thundering in lockstep.
		d *= 0.75 + rand.Float64()*0.5 // #nosec G404 -- jitter needs no crypto randomness
	}
	return time.Duration(d)
}

// PermanentError marks its cause as not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops immediately on it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
