package analysis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct{ n atomic.Int32 }

func (s *countingSweeper) Sweep() int {
	s.n.Add(1)
	return 0
}

func TestStartStop(t *testing.T) {
	sw := &countingSweeper{}
	f := newFixture(t, Options{
		SweepInterval:   10 * time.Millisecond,
		RefreshInterval: time.Hour,
	}, WithSweepers(sw))
	f.geo.stateFn = twoPerState
	f.analyzer.sleep = func(context.Context, time.Duration) error { return nil }

	f.analyzer.Start(context.Background())
	f.analyzer.Start(context.Background()) // no-op

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, ran := f.analyzer.Latest()
		if ran && sw.n.Load() >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("loops did not run: latest=%v sweeps=%d", ran, sw.n.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.analyzer.Stop()
	after := sw.n.Load()
	time.Sleep(40 * time.Millisecond)
	if sw.n.Load() != after {
		t.Errorf("sweeps continued after Stop: %d -> %d", after, sw.n.Load())
	}
	f.analyzer.Stop() // idempotent
}

func TestSweepCaches(t *testing.T) {
	a, b := &countingSweeper{}, &countingSweeper{}
	f := newFixture(t, Options{}, WithSweepers(a, b))
	f.analyzer.SweepCaches()
	if a.n.Load() != 1 || b.n.Load() != 1 {
		t.Errorf("sweeps = %d, %d, want 1 each", a.n.Load(), b.n.Load())
	}
}
