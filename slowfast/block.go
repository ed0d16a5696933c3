package slowfast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Block is the synchronous counterpart of Task for callers that already run in
// the background. Execute runs the slow function on the caller's goroutine and
// stores its result; Result consumes it or falls back to fast.
type Block[In, Out any] struct {
	name   string
	slow   SlowFunc[In, Out]
	fast   FastFunc[In, Out]
	logger *slog.Logger

	mu         sync.Mutex
	enabled    bool
	lastInput  In
	pending    Out
	hasPending bool
}

// NewBlock creates a Block. Only WithLogger and WithEnabled apply.
func NewBlock[In, Out any](name string, slow SlowFunc[In, Out], fast FastFunc[In, Out], opts ...Option) *Block[In, Out] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Block[In, Out]{
		name:    name,
		slow:    slow,
		fast:    fast,
		logger:  o.resolveLogger().With("component", "slowfast", "block", name),
		enabled: o.enabled,
	}
}

// Execute runs the slow function with in. Errors and panics are logged and
// leave no pending result.
func (b *Block[In, Out]) Execute(ctx context.Context, in In) {
	b.mu.Lock()
	enabled := b.enabled
	b.lastInput = in
	b.mu.Unlock()
	if !enabled {
		return
	}

	out, err := b.call(ctx, in)
	if err != nil {
		b.logger.Error("slow function failed", "error", err)
		return
	}

	b.mu.Lock()
	b.pending = out
	b.hasPending = true
	b.mu.Unlock()
}

func (b *Block[In, Out]) call(ctx context.Context, in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("slowfast: slow function panicked: %v", r)
		}
	}()
	return b.slow(ctx, in)
}

// Result returns the stored slow result once, otherwise fast applied to the
// last executed input.
func (b *Block[In, Out]) Result() Out {
	b.mu.Lock()
	if b.hasPending {
		out := b.pending
		var zero Out
		b.pending = zero
		b.hasPending = false
		b.mu.Unlock()
		return out
	}
	in := b.lastInput
	b.mu.Unlock()
	return b.fast(in)
}

// SetEnabled turns the slow path on or off.
func (b *Block[In, Out]) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}
