package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"limix_backend/logger"
)

// Mode names an ingestion loop
type Mode string

const (
	ModeProducer Mode = "producer"
	ModeReactive Mode = "reactive"
)

// Runner is a long-running loop that stops when its context is done
type Runner interface {
	Run(ctx context.Context) error
}

// readier is a loop that signals when it is ready to receive events
type readier interface {
	Ready() <-chan struct{}
}

// RunAll runs each loop in its own goroutine and waits for all of them. Loops
// that report readiness are started first, and the others only once they are
// ready, so a listener sees the first sample a producer appends. When one loop
// fails the others are cancelled. The first failure is returned.
func RunAll(ctx context.Context, runners map[Mode]Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(runners))

	start := func(mode Mode, r Runner) <-chan struct{} {
		exited := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(exited)
			if err := r.Run(ctx); err != nil {
				logger.Errorf("%s loop failed: %v\n", mode, err)
				errs <- fmt.Errorf("%s: %w", mode, err)
				cancel()
			}
		}()
		return exited
	}

	var rest []Mode
	for mode, r := range runners {
		rd, ok := r.(readier)
		if !ok {
			rest = append(rest, mode)
			continue
		}
		exited := start(mode, r)
		select {
		case <-rd.Ready():
		case <-exited:
		case <-ctx.Done():
		}
	}
	for _, mode := range rest {
		start(mode, runners[mode])
	}

	wg.Wait()
	close(errs)
	return <-errs
}
