package pool

import (
	"context"
	"sync"
)

// Future tracks a submitted job.
type Future struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	cancelled bool
}

// Done is closed once the job has returned or was skipped after cancellation.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports whether the job has finished without blocking.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the job finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cancels the job's context. A job that already started keeps running
// until it observes the cancellation; its outcome should be ignored.
func (f *Future) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
	f.cancel()
}

// Cancelled reports whether Cancel was called.
func (f *Future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Err returns the panic error recorded for the job, if any.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Future) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}
