package batch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options controls chunking and pacing.
type Options struct {
	// ChunkSize is the number of items processed concurrently. Values <= 0
	// are treated as 1.
	ChunkSize int
	// Gap is the pause between consecutive chunks.
	Gap time.Duration
	// TrailingGap also pauses after the final chunk.
	TrailingGap bool
	// OnChunk, if set, is called after each chunk finishes with its index
	// and the number of failed items in it.
	OnChunk func(chunk, failed int)
}

// Result is the outcome for one input item. OK is false when the item failed;
// Err then says why.
type Result[R any] struct {
	Value R
	OK    bool
	Err   error
}

// Values returns the successful results in input order.
func Values[R any](results []Result[R]) []R {
	out := make([]R, 0, len(results))
	for _, r := range results {
		if r.OK {
			out = append(out, r.Value)
		}
	}
	return out
}

// Run splits items into consecutive chunks and calls perItem on every item of
// a chunk concurrently, waiting for the whole chunk before pausing and moving
// on. Results line up with items by index. A failing item never stops the
// batch. If ctx ends, items in chunks that have not started get ctx's error.
func Run[I, R any](ctx context.Context, items []I, opts Options, perItem func(ctx context.Context, item I) (R, error)) []Result[R] {
	size := opts.ChunkSize
	if size <= 0 {
		size = 1
	}
	results := make([]Result[R], len(items))

	chunk := 0
	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			markAbsent(results[start:], err)
			return results
		}

		end := min(start+size, len(items))

		var g errgroup.Group
		g.SetLimit(size)
		for i := start; i < end; i++ {
			g.Go(func() error {
				v, err := perItem(ctx, items[i])
				if err != nil {
					results[i] = Result[R]{Err: err}
					return nil
				}
				results[i] = Result[R]{Value: v, OK: true}
				return nil
			})
		}
		g.Wait()

		if opts.OnChunk != nil {
			failed := 0
			for _, r := range results[start:end] {
				if !r.OK {
					failed++
				}
			}
			opts.OnChunk(chunk, failed)
		}
		chunk++

		last := end >= len(items)
		if opts.Gap > 0 && (!last || opts.TrailingGap) {
			if err := pause(ctx, opts.Gap); err != nil && !last {
				markAbsent(results[end:], err)
				return results
			}
		}
	}
	return results
}

func markAbsent[R any](results []Result[R], err error) {
	if err == nil {
		err = errors.New("batch stopped")
	}
	for i := range results {
		results[i] = Result[R]{Err: err}
	}
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
