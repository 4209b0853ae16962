package runner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelMap applies fn to every item with at most limit calls in flight.
// Results keep the order of items.
func ParallelMap[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) R) []R {
	out := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			out[i] = fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// SequentialMap applies fn to every item in order on the calling goroutine.
func SequentialMap[T, R any](ctx context.Context, items []T, fn func(context.Context, T) R) []R {
	out := make([]R, 0, len(items))
	for _, item := range items {
		out = append(out, fn(ctx, item))
	}
	return out
}
