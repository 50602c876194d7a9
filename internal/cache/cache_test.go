package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type countingObserver struct {
	hits, misses, evicted atomic.Int64
}

func (o *countingObserver) Hit(string)  { o.hits.Add(1) }
func (o *countingObserver) Miss(string) { o.misses.Add(1) }

func (o *countingObserver) Evicted(_ string, n int) { o.evicted.Add(int64(n)) }

func TestGetAfterSet(t *testing.T) {
	clk := newFakeClock()
	c := New[string](time.Minute, WithClock(clk.Now))

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get = (%q, %v), want (v, true)", got, ok)
	}

	clk.Advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Error("entry expired before TTL")
	}

	clk.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("entry still visible at TTL")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 before sweep", c.Len())
	}

	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after sweep", c.Len())
	}
}

func TestGetMissing(t *testing.T) {
	c := New[int](time.Minute)
	v, ok := c.Get("nope")
	if ok || v != 0 {
		t.Errorf("Get(missing) = (%d, %v), want (0, false)", v, ok)
	}
}

func TestSetOverwritesAndRefreshesAge(t *testing.T) {
	clk := newFakeClock()
	c := New[int](time.Minute, WithClock(clk.Now))

	c.Set("k", 1)
	clk.Advance(50 * time.Second)
	c.Set("k", 2)
	clk.Advance(50 * time.Second)

	got, ok := c.Get("k")
	if !ok || got != 2 {
		t.Fatalf("Get = (%d, %v), want (2, true)", got, ok)
	}
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	clk := newFakeClock()
	c := New[int](time.Minute, WithClock(clk.Now))

	c.Set("old", 1)
	clk.Advance(2 * time.Minute)
	c.Set("new", 2)

	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("fresh entry removed by sweep")
	}
}

func TestSweepIdempotent(t *testing.T) {
	clk := newFakeClock()
	c := New[int](time.Minute, WithClock(clk.Now))
	c.Set("a", 1)
	c.Set("b", 2)
	clk.Advance(time.Minute)
	c.Set("c", 3)

	if n := c.Sweep(); n != 2 {
		t.Fatalf("first Sweep() = %d, want 2", n)
	}
	before := c.Len()
	if n := c.Sweep(); n != 0 {
		t.Errorf("second Sweep() = %d, want 0", n)
	}
	if c.Len() != before {
		t.Errorf("Len changed from %d to %d on second sweep", before, c.Len())
	}
}

func TestObserver(t *testing.T) {
	clk := newFakeClock()
	obs := &countingObserver{}
	c := New[int](time.Minute, WithClock(clk.Now), WithObserver(obs), WithName("grid"))

	c.Get("k")
	c.Set("k", 1)
	c.Get("k")
	clk.Advance(time.Hour)
	c.Sweep()

	if obs.hits.Load() != 1 || obs.misses.Load() != 1 || obs.evicted.Load() != 1 {
		t.Errorf("hits=%d misses=%d evicted=%d, want 1/1/1",
			obs.hits.Load(), obs.misses.Load(), obs.evicted.Load())
	}
}

func TestGetOrLoad_CachesSuccess(t *testing.T) {
	c := New[string](time.Minute)
	var calls atomic.Int32
	load := func(context.Context) (string, error) {
		calls.Add(1)
		return "loaded", nil
	}

	for range 3 {
		v, err := c.GetOrLoad(context.Background(), "k", load)
		if err != nil {
			t.Fatalf("GetOrLoad: %v", err)
		}
		if v != "loaded" {
			t.Fatalf("GetOrLoad = %q, want loaded", v)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("load called %d times, want 1", calls.Load())
	}
}

func TestGetOrLoad_DoesNotCacheErrors(t *testing.T) {
	c := New[string](time.Minute)
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after failed load, want 0", c.Len())
	}
}

func TestGetOrLoad_SharesConcurrentLoads(t *testing.T) {
	c := New[int](time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			if err != nil {
				t.Errorf("GetOrLoad: %v", err)
			}
			results[i] = v
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, v := range results {
		if v != 42 {
			t.Errorf("results[%d] = %d, want 42", i, v)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("load called %d times, want 1", calls.Load())
	}
}

func TestGetOrLoad_CancelledCallerDoesNotFailOthers(t *testing.T) {
	c := New[int](time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	var loadErr atomic.Value

	load := func(ctx context.Context) (int, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			loadErr.Store(err)
			return 0, err
		}
		return 7, nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(first, "k", load)
		firstDone <- err
	}()
	<-started

	secondDone := make(chan int, 1)
	go func() {
		v, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) {
			t.Error("second caller started its own load")
			return 0, nil
		})
		if err != nil {
			t.Errorf("second GetOrLoad: %v", err)
		}
		secondDone <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstDone; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller err = %v, want context.Canceled", err)
	}

	close(release)
	if v := <-secondDone; v != 7 {
		t.Errorf("second caller got %d, want 7", v)
	}
	if err := loadErr.Load(); err != nil {
		t.Errorf("load saw cancelled ctx: %v", err)
	}
	if v, ok := c.Get("k"); !ok || v != 7 {
		t.Errorf("Get after load = %d, %v; want 7, true", v, ok)
	}
}

func TestConcurrentSetLastWriteWins(t *testing.T) {
	c := New[int](time.Minute)
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Set("k", i)
			c.Get("k")
		}()
	}
	wg.Wait()
	c.Set("k", 1000)
	if v, _ := c.Get("k"); v != 1000 {
		t.Errorf("Get = %d, want 1000", v)
	}
}
