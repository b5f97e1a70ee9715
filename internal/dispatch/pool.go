// Package dispatch runs blocking face authentication calls on a fixed set
// of workers, away from request goroutines.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/facegate/internal/observability"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrClosed    = errors.New("dispatch pool closed")
)

type job struct {
	ctx context.Context
	run func()
}

// Pool is a bounded job queue drained by a fixed number of workers.
// A job that outlives its caller's deadline still runs to completion;
// only the caller stops waiting.
type Pool struct {
	jobs    chan job
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines. timeout bounds how long Submit waits
// for a result; zero means only the caller's context applies.
func NewPool(workers, queueSize int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &Pool{jobs: make(chan job, queueSize), timeout: timeout}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	slog.Info("dispatch pool started", "workers", workers, "queue", queueSize, "timeout", timeout)
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		observability.QueueDepth.Set(float64(len(p.jobs)))
		if j.ctx.Err() != nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("dispatch job panicked", "worker", id, "panic", r)
				}
			}()
			j.run()
		}()
	}
}

// enqueue hands run to the workers without blocking when the queue is full.
func (p *Pool) enqueue(ctx context.Context, run func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job{ctx: ctx, run: run}:
		observability.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit runs fn on the pool and waits for its result, the pool timeout or
// ctx, whichever comes first. A panic in fn is reported as an error.
func Submit[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) T) (T, error) {
	var zero T
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan T, 1)
	failed := make(chan error, 1)
	err := p.enqueue(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				failed <- fmt.Errorf("job panicked: %v", r)
			}
		}()
		// The job keeps running after the caller gives up, so it must not
		// inherit the caller's cancellation.
		done <- fn(context.WithoutCancel(ctx))
	})
	if err != nil {
		return zero, err
	}

	select {
	case v := <-done:
		return v, nil
	case err := <-failed:
		return zero, err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
