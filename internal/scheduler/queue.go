package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("scheduler: queue closed")

// Limits bounds how a Queue admits tasks.
//
// At most Concurrency tasks run at once, and at most IntervalCap tasks start
// within one Interval window. An Interval of zero disables the window check.
type Limits struct {
	Concurrency int
	Interval    time.Duration
	IntervalCap int
}

// MinSpacing is the average gap between task starts the window allows.
func (l Limits) MinSpacing() time.Duration {
	if l.Interval <= 0 || l.IntervalCap <= 0 {
		return 0
	}
	return l.Interval / time.Duration(l.IntervalCap)
}

func (l Limits) validate() error {
	if l.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", l.Concurrency)
	}
	if l.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", l.Interval)
	}
	if l.Interval > 0 && l.IntervalCap <= 0 {
		return fmt.Errorf("interval cap must be positive when interval is set, got %d", l.IntervalCap)
	}
	return nil
}

// Observer receives queue events. Methods are called with the queue lock
// held and must not call back into the Queue.
type Observer interface {
	Pending(resource string, n int)
	Started(resource string, waited time.Duration)
}

// Task is one unit of work owned by a Queue from Submit until it completes.
type Task struct {
	Run        func(ctx context.Context) (any, error)
	EnqueuedAt time.Time

	ctx    context.Context
	future *Future
}

// Stats is a point-in-time view of a Queue.
type Stats struct {
	Pending  int
	InFlight int
}

// Queue admits tasks for a single upstream resource in FIFO order.
type Queue struct {
	name     string
	limits   Limits
	now      func() time.Time
	observer Observer

	mu          sync.Mutex
	pending     []*Task
	inFlight    int
	windowStart time.Time
	windowCount int
	timer       *time.Timer
	closed      bool
	idle        chan struct{}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithObserver attaches an Observer to the queue.
func WithObserver(obs Observer) QueueOption {
	return func(q *Queue) { q.observer = obs }
}

// WithClock replaces time.Now for window bookkeeping.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a Queue for the named resource.
func NewQueue(name string, limits Limits, opts ...QueueOption) (*Queue, error) {
	if err := limits.validate(); err != nil {
		return nil, fmt.Errorf("queue %s: %w", name, err)
	}
	q := &Queue{
		name:   name,
		limits: limits,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Name returns the resource name the queue was created for.
func (q *Queue) Name() string { return q.name }

// Limits returns the queue's admission limits.
func (q *Queue) Limits() Limits { return q.limits }

// Submit enqueues run and returns a Future for its result. The task executes
// with a context that keeps ctx's values but not its cancellation: once
// admitted, a task always runs to completion.
func (q *Queue) Submit(ctx context.Context, run func(ctx context.Context) (any, error)) (*Future, error) {
	t := &Task{
		Run:    run,
		ctx:    context.WithoutCancel(ctx),
		future: newFuture(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	t.EnqueuedAt = q.now()
	q.pending = append(q.pending, t)
	q.dispatchLocked()
	if q.observer != nil {
		q.observer.Pending(q.name, len(q.pending))
	}
	return t.future, nil
}

// Stats reports the current pending and in-flight counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.pending), InFlight: q.inFlight}
}

// Close stops accepting new tasks. Tasks already submitted still run. The
// returned channel is closed once the queue has drained.
func (q *Queue) Close() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	q.closed = true
	q.checkIdleLocked()
	return q.idle
}

// dispatchLocked starts as many pending tasks as the limits allow.
func (q *Queue) dispatchLocked() {
	for len(q.pending) > 0 && q.inFlight < q.limits.Concurrency {
		now := q.now()
		if q.limits.Interval > 0 {
			if q.windowStart.IsZero() || now.Sub(q.windowStart) >= q.limits.Interval {
				q.windowStart = now
				q.windowCount = 0
			}
			if q.windowCount >= q.limits.IntervalCap {
				q.armTimerLocked(q.windowStart.Add(q.limits.Interval).Sub(now))
				return
			}
			q.windowCount++
		}

		t := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.inFlight++
		if q.observer != nil {
			q.observer.Started(q.name, now.Sub(t.EnqueuedAt))
			q.observer.Pending(q.name, len(q.pending))
		}
		go q.execute(t)
	}
}

func (q *Queue) armTimerLocked(d time.Duration) {
	if q.timer != nil {
		return
	}
	if d < 0 {
		d = 0
	}
	q.timer = time.AfterFunc(d, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.timer = nil
		q.dispatchLocked()
	})
}

func (q *Queue) execute(t *Task) {
	val, err := t.Run(t.ctx)
	t.future.resolve(val, err)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight--
	q.dispatchLocked()
	q.checkIdleLocked()
}

func (q *Queue) checkIdleLocked() {
	if q.closed && q.idle != nil && q.inFlight == 0 && len(q.pending) == 0 {
		select {
		case <-q.idle:
		default:
			close(q.idle)
		}
	}
}

// Do submits fn to q and waits for its result. If ctx ends first Do returns
// ctx.Err(); the task itself keeps its place and still runs.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	f, err := q.Submit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	v, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}
