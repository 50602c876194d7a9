package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy configures how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// Multiplier scales the wait after each further failure.
	Multiplier float64
	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration
	// MinDelay is a floor applied to every wait, including advisory ones.
	MinDelay time.Duration
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Backoff returns the wait after the failed attempt with the given zero-based
// index, ignoring advisory hints.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	f := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	d := time.Duration(math.MaxInt64)
	if f < math.MaxInt64 {
		d = time.Duration(f)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// RateLimited is implemented by errors that carry a server-provided wait.
type RateLimited interface {
	RetryAfter() time.Duration
}

// Retryable is implemented by errors that know whether a retry may help.
type Retryable interface {
	Retryable() bool
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, opts out of retries.
func IsPermanent(err error) bool {
	var r Retryable
	return errors.As(err, &r) && !r.Retryable()
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Sleeper waits for d or until ctx ends. Tests swap it out.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds, fails permanently, or MaxAttempts is used up.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	return value(ctx, p, sleepContext, op)
}

// ValueWithSleeper is Value with an explicit Sleeper.
func ValueWithSleeper[T any](ctx context.Context, p Policy, sleep Sleeper, op func(ctx context.Context) (T, error)) (T, error) {
	return value(ctx, p, sleep, op)
}

func value[T any](ctx context.Context, p Policy, sleep Sleeper, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := range attempts {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if IsPermanent(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		wait := WaitFor(p, attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("retry wait interrupted after attempt %d: %w (last error: %v)", attempt+1, err, lastErr)
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// WaitFor picks the wait after a failed attempt: the advisory duration when
// err carries one, otherwise exponential backoff. MinDelay is a floor for both.
func WaitFor(p Policy, attempt int, err error) time.Duration {
	var wait time.Duration
	var rl RateLimited
	if errors.As(err, &rl) && rl.RetryAfter() > 0 {
		wait = rl.RetryAfter()
	} else {
		wait = p.Backoff(attempt)
	}
	if wait < p.MinDelay {
		wait = p.MinDelay
	}
	return wait
}
