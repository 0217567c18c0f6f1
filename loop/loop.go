// Package loop runs a task repeatedly until it breaks or its context is done.
//
// Cancellation is only observed between iterations: a running task always
// completes, so an append in flight is never cut in half.
package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after an iteration.
type Next struct {
	err      error
	quit     bool
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue runs the task again after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break stops the loop. err may be nil.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task receives the value returned by its previous run (init on the first).
type Task[T any] func(context.Context, T) (T, Next)

type config struct {
	timeout time.Duration
}

// Option configures Start.
type Option func(*config)

// WithTimeout sets a deadline on the context passed to each iteration.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Start calls task until it returns Break or ctx is done.
//
// It returns the last value produced by task and the error given to Break,
// or ctx.Err() when the loop ended by cancellation.
func Start[T any](ctx context.Context, init T, task Task[T], options ...Option) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	conf := config{}
	for _, opt := range options {
		opt(&conf)
	}

	value := init
	for {
		v, n := run(ctx, conf, value, task)
		if n.err != nil {
			return v, n.err
		}
		if n.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			// shutdown first, the timer may have fired too
			if !timer.Stop() {
				<-timer.C
			}
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}

func run[T any](ctx context.Context, conf config, value T, task Task[T]) (T, Next) {
	if conf.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.timeout)
		defer cancel()
	}
	return task(ctx, value)
}
