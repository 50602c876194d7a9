package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Observer receives cache events. All methods must be safe for concurrent use.
type Observer interface {
	Hit(name string)
	Miss(name string)
	Evicted(name string, n int)
}

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Cache is a key/value store whose entries expire a fixed TTL after they were
// written. There is no size bound; entries leave only by age or overwrite.
type Cache[V any] struct {
	name     string
	ttl      time.Duration
	now      func() time.Time
	observer Observer

	mu      sync.RWMutex
	entries map[string]entry[V]

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	name     string
	now      func() time.Time
	observer Observer
}

// WithName labels the cache in observer callbacks.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithObserver attaches an Observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// New creates a Cache whose entries live for ttl.
func New[V any](ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{name: "default", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		name:     o.name,
		ttl:      ttl,
		now:      o.now,
		observer: o.observer,
		entries:  make(map[string]entry[V]),
	}
}

// TTL returns the lifetime applied to every entry.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[V]) expired(e entry[V], now time.Time) bool {
	return now.Sub(e.createdAt) >= c.ttl
}

// Get returns the value for key if present and younger than the TTL.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.expired(e, c.now()) {
		if c.observer != nil {
			c.observer.Miss(c.name)
		}
		var zero V
		return zero, false
	}
	if c.observer != nil {
		c.observer.Hit(c.name)
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, createdAt: c.now()}
	c.mu.Unlock()
}

// Delete removes key. Deleting a missing key is a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, including expired ones that have
// not been swept yet.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 && c.observer != nil {
		c.observer.Evicted(c.name, removed)
	}
	return removed
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result. Concurrent misses for the same key share a single load call.
// Errors are returned to every waiting caller and never cached.
//
// The shared load runs detached from any one caller's cancellation; each
// caller stops waiting when its own ctx is done.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have filled the entry while we waited on the group.
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// peek is Get without observer callbacks.
func (c *Cache[V]) peek(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.expired(e, c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}
