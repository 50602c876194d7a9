package upstream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/firewatch/internal/retry"
	"github.com/kalambet/firewatch/internal/scheduler"
)

type recordingObserver struct {
	mu       sync.Mutex
	retries  []string
	failures int
}

func (o *recordingObserver) Retry(_, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, kind)
}

func (o *recordingObserver) Failure(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func newCaller(t *testing.T, limits scheduler.Limits, obs Observer) *Caller {
	t.Helper()
	q, err := scheduler.NewQueue("weather", limits)
	if err != nil {
		t.Fatal(err)
	}
	return &Caller{
		Resource: "weather",
		Queue:    q,
		Policy:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		Observer: obs,
	}
}

func TestCall_RetriesThroughQueue(t *testing.T) {
	obs := &recordingObserver{}
	c := newCaller(t, scheduler.Limits{Concurrency: 1}, obs)

	var calls atomic.Int32
	v, err := Call(context.Background(), c, "33.4,-112.0", func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", &Error{Resource: "weather", Kind: RateLimited, Status: http.StatusTooManyRequests, Wait: 5 * time.Millisecond}
		}
		return "grid", nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != "grid" || calls.Load() != 2 {
		t.Errorf("Call = %q after %d calls, want grid after 2", v, calls.Load())
	}
	if len(obs.retries) != 1 || obs.retries[0] != "rate_limited" {
		t.Errorf("retries = %v, want [rate_limited]", obs.retries)
	}
	if obs.failures != 0 {
		t.Errorf("failures = %d, want 0", obs.failures)
	}
}

func TestCall_RetryReentersWindow(t *testing.T) {
	const window = 80 * time.Millisecond
	c := newCaller(t, scheduler.Limits{Concurrency: 1, Interval: window, IntervalCap: 1}, nil)

	var starts []time.Time
	_, err := Call(context.Background(), c, "k", func(context.Context) (int, error) {
		starts = append(starts, time.Now())
		if len(starts) == 1 {
			return 0, errors.New("flaky")
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(starts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(starts))
	}
	if gap := starts[1].Sub(starts[0]); gap < window-10*time.Millisecond {
		t.Errorf("retry started %s after first attempt, want >= %s", gap, window)
	}
}

func TestCall_ExhaustionReported(t *testing.T) {
	obs := &recordingObserver{}
	c := newCaller(t, scheduler.Limits{Concurrency: 2}, obs)

	_, err := Call(context.Background(), c, "k", func(context.Context) (int, error) {
		return 0, &Error{Resource: "weather", Kind: Transient, Status: 503}
	})
	var ex *retry.ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 {
		t.Fatalf("err = %v, want exhaustion after 3 attempts", err)
	}
	if obs.failures != 1 {
		t.Errorf("failures = %d, want 1", obs.failures)
	}
	if len(obs.retries) != 2 {
		t.Errorf("retries = %v, want 2 entries", obs.retries)
	}
}

func TestCall_PermanentNotRetried(t *testing.T) {
	c := newCaller(t, scheduler.Limits{Concurrency: 1}, nil)
	var calls atomic.Int32
	_, err := Call(context.Background(), c, "k", func(context.Context) (int, error) {
		calls.Add(1)
		return 0, &ValidationError{Resource: "weather", Field: "gridId", Reason: "missing"}
	})
	if err == nil || calls.Load() != 1 {
		t.Errorf("err = %v after %d calls, want error after 1", err, calls.Load())
	}
}
