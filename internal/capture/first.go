// Package capture retrieves generated artifacts by racing independent
// strategies against a deadline.
package capture

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Task is one competitor in a race. It must return promptly once ctx is done.
type Task[T any] func(ctx context.Context) (T, error)

// Winner identifies the task that resolved a race first.
type Winner[T any] struct {
	Index int
	Value T
}

var errNoTasks = errors.New("capture: no tasks to race")

// First runs tasks concurrently and commits the first one that succeeds. The
// remaining tasks are cancelled and First returns only after every task has
// exited, so nothing started by the race outlives it. release is called for
// a losing task that produced a value anyway.
//
// When no task succeeds First returns the parent context error if it is done,
// otherwise the joined task errors.
func First[T any](ctx context.Context, release func(T), tasks ...Task[T]) (Winner[T], error) {
	var none Winner[T]
	if len(tasks) == 0 {
		return none, errNoTasks
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		index int
		value T
		err   error
	}
	outcomes := make(chan outcome, len(tasks))

	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			value, err := task(raceCtx)
			outcomes <- outcome{index: i, value: value, err: err}
			return nil
		})
	}

	var (
		winner Winner[T]
		won    bool
		errs   []error
	)
	for range tasks {
		o := <-outcomes
		switch {
		case o.err == nil && !won:
			won = true
			winner = Winner[T]{Index: o.index, Value: o.value}
			cancel()
		case o.err == nil:
			if release != nil {
				release(o.value)
			}
		case !won:
			errs = append(errs, o.err)
		}
	}
	_ = g.Wait()

	if won {
		return winner, nil
	}
	if err := ctx.Err(); err != nil {
		return none, err
	}
	return none, errors.Join(errs...)
}
