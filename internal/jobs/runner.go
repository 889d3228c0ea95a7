// Package jobs runs background work sequentially on a single worker, keeping
// sync and detection passes from piling up on top of each other.
package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

const defaultQueueSize = 64

// ErrShutdown rejects submissions after Shutdown was called.
var ErrShutdown = errors.New("runner is shut down")

// ErrQueueFull rejects submissions while the queue is at capacity.
var ErrQueueFull = errors.New("job queue is full")

type job struct {
	name string
	fn   func(context.Context)
}

// Runner executes scheduled jobs one at a time in submission order. A
// panicking job is logged and does not take the worker down.
type Runner struct {
	logger *slog.Logger
	queue  chan job
	stop   chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewRunner(logger *slog.Logger) *Runner {
	r := &Runner{
		logger: logger,
		queue:  make(chan job, defaultQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.work()
	return r
}

// Schedule queues a job and returns immediately.
func (r *Runner) Schedule(name string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errors.Wrap(ErrShutdown, name)
	}

	select {
	case r.queue <- job{name: name, fn: fn}:
		return nil
	default:
		return errors.Wrap(ErrQueueFull, name)
	}
}

// Flush blocks until every job queued before the call has run. The worker
// takes jobs in order, so a sentinel scheduled now completes only after them.
func (r *Runner) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := r.Schedule("flush", func(context.Context) { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the worker: the running job finishes, queued jobs are
// dropped. Returns once the worker exited or the context expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.stop)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) work() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case j := <-r.queue:
			r.run(j)
		}
	}
}

func (r *Runner) run(j job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("job panicked",
				slog.String("job", j.name), slog.Any("panic", rec))
		}
	}()

	r.logger.Debug("job started", slog.String("job", j.name))
	j.fn(context.Background())
	r.logger.Debug("job finished", slog.String("job", j.name))
}
