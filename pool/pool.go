// Package pool provides the bounded worker pool shared by every background
// computation in the runtime: dual-speed slow tasks, the encoder batch loop and
// memory consolidation.
//
// The pool is sized once at construction and never resized. Jobs receive a
// context derived from the pool's lifecycle context that is also cancelled
// when the job's Future is cancelled.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned when submitting to a pool that has been closed.
	ErrClosed = errors.New("pool: closed")

	// ErrSaturated is returned by TrySubmit when the job queue is full.
	ErrSaturated = errors.New("pool: saturated")
)

// Job is a unit of work executed by a pool worker.
type Job func(ctx context.Context)

// Options configures a Pool.
type Options struct {
	// Size is the number of worker goroutines. Default: 4.
	Size int

	// QueueSize is the capacity of the pending job queue.
	// Default: 4 * Size.
	QueueSize int

	// Logger is the structured logger for pool operations.
	// If nil, a JSON logger on stdout is created.
	Logger *slog.Logger
}

// Pool is a fixed-size goroutine pool.
type Pool struct {
	id     string
	size   int
	jobs   chan *task
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool
	busy   atomic.Int64
}

type task struct {
	fn     Job
	future *Future
}

// New starts a pool with the given options.
func New(opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4 * opts.Size
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		id:     uuid.New().String()[:8],
		size:   opts.Size,
		jobs:   make(chan *task, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.logger = opts.Logger.With("component", "pool", "pool_id", p.id)

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(workerNum int) {
			defer p.wg.Done()
			p.workerLoop(workerNum)
		}(i)
	}

	p.logger.Debug("pool started", "size", p.size, "queue_size", opts.QueueSize)
	return p
}

// Submit enqueues fn, blocking until the queue accepts it, ctx is done, or
// the pool is closed. Callers on the tick loop must use TrySubmit instead.
func (p *Pool) Submit(ctx context.Context, fn Job) (*Future, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	t := p.newTask(fn)
	select {
	case p.jobs <- t:
		return t.future, nil
	case <-ctx.Done():
		t.future.cancel()
		return nil, ctx.Err()
	case <-p.ctx.Done():
		t.future.cancel()
		return nil, ErrClosed
	}
}

// TrySubmit enqueues fn without blocking. It returns ErrSaturated if the
// queue is full.
func (p *Pool) TrySubmit(fn Job) (*Future, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	t := p.newTask(fn)
	select {
	case p.jobs <- t:
		return t.future, nil
	default:
		t.future.cancel()
		return nil, ErrSaturated
	}
}

// Go runs a long-lived loop on the pool. The loop occupies one worker until
// it returns, so it must watch ctx.Done().
func (p *Pool) Go(fn Job) (*Future, error) {
	return p.Submit(p.ctx, fn)
}

func (p *Pool) newTask(fn Job) *task {
	ctx, cancel := context.WithCancel(p.ctx)
	return &task{
		fn: fn,
		future: &Future{
			ctx:    ctx,
			cancel: cancel,
			done:   make(chan struct{}),
		},
	}
}

// workerLoop pops tasks until the pool context is cancelled.
func (p *Pool) workerLoop(workerNum int) {
	logger := p.logger.With("worker_num", workerNum)
	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			logger.Debug("worker loop stopped", "reason", "context_cancelled")
			return
		case t := <-p.jobs:
			p.run(t, logger)
		}
	}
}

func (p *Pool) run(t *task, logger *slog.Logger) {
	defer close(t.future.done)

	if t.future.ctx.Err() != nil {
		return
	}

	p.busy.Add(1)
	defer p.busy.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			t.future.setErr(fmt.Errorf("pool: job panicked: %v", r))
			logger.Error("job panicked", "panic", r)
		}
	}()

	t.fn(t.future.ctx)
}

// drain releases jobs that were queued but never started.
func (p *Pool) drain() {
	for {
		select {
		case t := <-p.jobs:
			t.future.Cancel()
			close(t.future.done)
		default:
			return
		}
	}
}

// Size returns the fixed number of workers.
func (p *Pool) Size() int { return p.size }

// Busy returns the number of workers currently running a job.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int { return len(p.jobs) }

// Capacity returns the size of the pending job queue.
func (p *Pool) Capacity() int { return cap(p.jobs) }

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool { return p.closed.Load() }

// Close cancels all running jobs and waits up to timeout for workers to exit.
func (p *Pool) Close(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	doneChan := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		p.logger.Debug("pool shutdown complete")
		return nil
	case <-time.After(timeout):
		p.logger.Warn("pool shutdown timeout exceeded", "timeout", timeout)
		return fmt.Errorf("pool: shutdown timed out after %s", timeout)
	}
}
