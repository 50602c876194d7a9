package analysis

import (
	"context"
	"time"
)

// Start launches the sweep and refresh loops. The refresh loop runs an
// analysis immediately and then every RefreshInterval. Calling Start on a
// running Analyzer is a no-op.
func (a *Analyzer) Start(ctx context.Context) {
	a.loopMu.Lock()
	defer a.loopMu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)

	a.loops.Add(2)
	go func() {
		defer a.loops.Done()
		a.every(ctx, a.opts.SweepInterval, false, func() { a.SweepCaches() })
	}()
	go func() {
		defer a.loops.Done()
		a.every(ctx, a.opts.RefreshInterval, true, func() {
			if _, err := a.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("scheduled analysis run failed", "error", err)
			}
		})
	}()
	a.logger.Info("analysis loops started",
		"sweep_interval", a.opts.SweepInterval,
		"refresh_interval", a.opts.RefreshInterval)
}

// Stop cancels both loops and waits for them to return, including any run
// in progress.
func (a *Analyzer) Stop() {
	a.loopMu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	a.loops.Wait()
}

func (a *Analyzer) every(ctx context.Context, d time.Duration, immediate bool, fn func()) {
	if immediate {
		fn()
	}
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// SweepCaches removes expired entries from every registered cache and
// returns the total removed.
func (a *Analyzer) SweepCaches() int {
	total := 0
	for _, s := range a.sweepers {
		total += s.Sweep()
	}
	if total > 0 {
		a.logger.Debug("cache sweep", "removed", total)
	}
	return total
}
