package concurrent

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForEach runs action for every element in its own goroutine and waits for
// all of them. It returns the first error encountered.
func ForEach[T any](items []T, action func(T) error) error {
	g := errgroup.Group{}
	for _, item := range items {
		g.Go(func() error {
			return action(item)
		})
	}
	return g.Wait()
}

// ForEachLimit is ForEach with at most limit goroutines in flight. The
// context is canceled after the first error; remaining actions still started
// receive the canceled context.
func ForEachLimit[T any](ctx context.Context, items []T, limit int, action func(context.Context, T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, item := range items {
		g.Go(func() error {
			return action(ctx, item)
		})
	}
	return g.Wait()
}

// Map applies fn to every element with at most workers goroutines,
// preserving order.
func Map[T any, R any](items []T, workers int, fn func(T) R) []R {
	out := make([]R, len(items))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for idx, val := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v T) {
			defer wg.Done()
			out[i] = fn(v)
			<-sem
		}(idx, val)
	}
	wg.Wait()
	return out
}
