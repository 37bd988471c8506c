// Package batch runs a fixed-size worker pool over a slice of items.
// Assignment is static round-robin by position: item k gets slot
// k mod workers, which spreads load evenly across rate-limited backend
// identities regardless of per-item cost. Completions are delivered in
// finish order, not submission order.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Completion is one finished item. Err is set only when the work
// function panicked; the panic never escapes the pool.
type Completion[R any] struct {
	Index  int
	Slot   int
	Result R
	Err    error
}

// Run dispatches every item to fn with at most workers running at once
// and returns a channel of completions, closed when all items are done.
// The channel is buffered for the full batch, so consumers may drain it
// at any pace.
func Run[T, R any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, slot int, item T) R) <-chan Completion[R] {
	if workers < 1 {
		workers = 1
	}

	out := make(chan Completion[R], len(items))

	var g errgroup.Group
	g.SetLimit(workers)

	go func() {
		for i, item := range items {
			g.Go(func() error {
				c := Completion[R]{Index: i, Slot: i % workers}
				defer func() {
					if r := recover(); r != nil {
						c.Err = fmt.Errorf("worker panic: %v", r)
					}
					out <- c
				}()
				c.Result = fn(ctx, c.Slot, item)
				return nil
			})
		}
		g.Wait()
		close(out)
	}()

	return out
}
