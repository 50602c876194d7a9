package upstream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/firewatch/internal/retry"
	"github.com/kalambet/firewatch/internal/scheduler"
)

// Observer is notified about retries and final failures.
type Observer interface {
	Retry(resource, kind string)
	Failure(resource string)
}

// Caller runs operations against one upstream resource. Every attempt goes
// through the resource's queue, so retries are paced like first attempts.
type Caller struct {
	Resource string
	Queue    *scheduler.Queue
	Policy   retry.Policy
	Observer Observer
	Logger   *slog.Logger
}

func (c *Caller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Call runs fn under c's queue and retry policy. key identifies the request
// in logs.
func Call[T any](ctx context.Context, c *Caller, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	p := c.Policy
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		kind := Transient.String()
		var ue *Error
		if errors.As(err, &ue) {
			kind = ue.Kind.String()
		}
		c.logger().Warn("upstream call failed, retrying",
			"resource", c.Resource, "key", key, "attempt", attempt, "kind", kind, "wait", wait, "error", err)
		if c.Observer != nil {
			c.Observer.Retry(c.Resource, kind)
		}
	}

	v, err := retry.Value(ctx, p, func(ctx context.Context) (T, error) {
		return scheduler.Do(ctx, c.Queue, fn)
	})
	if err != nil {
		if c.Observer != nil {
			c.Observer.Failure(c.Resource)
		}
		return v, err
	}
	return v, nil
}
