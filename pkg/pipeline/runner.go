package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
)

var (
	ErrRunnerClosed = errors.New("engine runner is closed")
	ErrEnginePanic  = errors.New("engine task panicked")
)

type task struct {
	fn     func() error
	result chan error
}

// Runner owns the single execution context through which all media
// graph mutation goes. The underlying engine state is not safe for
// concurrent external mutation, so callers from other goroutines hand
// work off with Do or Post instead of touching the graph directly.
//
// Do must not be called from a task running on the runner itself,
// that would wait on the same dispatch loop. Engine-side callbacks
// use Post or their own completion channels.
type Runner struct {
	tasks chan task
	quit  chan struct{}
	done  chan struct{}
	stop  sync.Once
	log   *logger.Logger
}

func NewRunner(log *logger.Logger) *Runner {
	r := &Runner{
		tasks: make(chan task, 16),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			// drain what's already queued so releases posted
			// during shutdown still run
			for {
				select {
				case t := <-r.tasks:
					t.result <- r.safely(t.fn)
				default:
					return
				}
			}
		case t := <-r.tasks:
			t.result <- r.safely(t.fn)
		}
	}
}

// safely keeps a fault inside a task from killing the dispatch loop.
func (r *Runner) safely(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error().Msgf("engine task panic: %v", v)
			err = fmt.Errorf("%w: %v", ErrEnginePanic, v)
		}
	}()
	return fn()
}

// Do posts fn to the engine context and waits for its result, bounded
// by ctx. On ctx expiry the wait is abandoned, the task itself still
// runs to completion on the engine goroutine (result channels are
// buffered so an abandoned task cannot block dispatch).
func (r *Runner) Do(ctx context.Context, fn func() error) error {
	t := task{fn: fn, result: make(chan error, 1)}
	select {
	case r.tasks <- t:
	case <-r.quit:
		return ErrRunnerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.result:
		return err
	case <-r.done:
		// the loop exited before picking the task up
		select {
		case err := <-t.result:
			return err
		default:
			return ErrRunnerClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn without waiting for it. Drops the task with a log
// when the runner is gone or the queue is saturated.
func (r *Runner) Post(fn func()) {
	t := task{fn: func() error { fn(); return nil }, result: make(chan error, 1)}
	select {
	case r.tasks <- t:
	case <-r.quit:
	default:
		r.log.Warn().Msg("engine queue is full, task dropped")
	}
}

// Shutdown signals the dispatch loop to stop and waits for it to
// drain within the bound of ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop.Do(func() { close(r.quit) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
