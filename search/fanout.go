package search

import (
	"context"
	"time"

	"github.com/poiesic/retrievit/retry"
	"golang.org/x/sync/errgroup"
)

// MaxConcurrency caps in-flight model calls per request.
const MaxConcurrency = 8

const (
	// callAttempts is the number of tries per candidate call.
	callAttempts = 2
	retryDelay   = 100 * time.Millisecond
)

// fanOut calls fn for every index in [0, n) with at most limit calls in
// flight, retrying each failed call once. It returns the final error of
// each call, or the context error if ctx ended before all calls settled.
func fanOut(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) ([]error, error) {
	limit = clampConcurrency(limit)
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range n {
		g.Go(func() error {
			errs[i] = retry.WithBackoff(ctx, func() error {
				return fn(ctx, i)
			}, callAttempts, retryDelay)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return errs, nil
}

func clampConcurrency(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxConcurrency:
		return MaxConcurrency
	}
	return n
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
