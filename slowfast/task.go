// Package slowfast coordinates a fast synchronous fallback with a slower
// background computation that supersedes it once ready.
//
// A Task is polled from a single cooperative loop. The loop never blocks on the
// slow function: it calls Retrieve to collect a finished result, Submit to start
// new work when CanSubmit allows it, and Result to obtain either the pending slow
// result or a freshly computed fast one.
//
//	task := slowfast.New("selection", p, decide, fallback)
//	task.Retrieve()
//	if task.CanSubmit(2 * time.Second) {
//		task.Submit(snapshot)
//	}
//	act := task.Result(snapshot)
package slowfast

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/metaconsciousgroup/lyfe-agent-paper/pool"
)

// State is the lifecycle state of a Task.
type State int

const (
	// Idle means no slow computation is in flight.
	Idle State = iota
	// Running means a slow computation was submitted and not yet retrieved.
	Running
	// Completed means a slow result is waiting to be delivered by Result.
	Completed
	// TimedOut means the last computation finished but its outcome could not
	// be read within the completion timeout.
	TimedOut
	// Cancelled means the last computation exceeded the incompletion timeout.
	Cancelled
	// Failed means the last computation returned an error or panicked.
	Failed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SlowFunc is the expensive computation run on the worker pool.
type SlowFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// FastFunc is the cheap fallback computed on the caller's goroutine.
type FastFunc[In, Out any] func(in In) Out

// Submitter is the subset of *pool.Pool used by Task.
type Submitter interface {
	TrySubmit(fn pool.Job) (*pool.Future, error)
}

// IOPair is one delivered slow input/output pair.
type IOPair[In, Out any] struct {
	Input  In
	Output Out
}

type outcome[Out any] struct {
	value Out
	err   error
}

// Task is a dual-speed decision site. At most one slow computation is in
// flight per Task. All methods are safe for concurrent use, but a Task is
// meant to be driven from a single loop.
type Task[In comparable, Out any] struct {
	name   string
	pool   Submitter
	slow   SlowFunc[In, Out]
	fast   FastFunc[In, Out]
	opts   *options
	logger *slog.Logger

	results metric.Int64Counter

	mu           sync.Mutex
	enabled      bool
	state        State
	lastOutcome  State
	hasInput     bool
	lastInput    In
	submittedAt  time.Time
	submissionID string
	future       *pool.Future
	outcomes     chan outcome[Out]
	pending      Out
	hasPending   bool
	count        int
	lastTimeout  time.Time
	doneAt       time.Time
	ioLog        []IOPair[In, Out]
}

// New creates a Task named name that runs slow on p and falls back to fast.
func New[In comparable, Out any](name string, p Submitter, slow SlowFunc[In, Out], fast FastFunc[In, Out], opts ...Option) *Task[In, Out] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	t := &Task[In, Out]{
		name:        name,
		pool:        p,
		slow:        slow,
		fast:        fast,
		opts:        o,
		logger:      o.resolveLogger().With("component", "slowfast", "task", name),
		enabled:     o.enabled,
		state:       Idle,
		lastOutcome: Idle,
	}

	t.submittedAt = o.clock.Now()
	if o.jitter > 0 {
		offset := time.Duration(rand.Int64N(int64(2*o.jitter)+1)) - o.jitter
		t.submittedAt = t.submittedAt.Add(offset)
	}

	counter, err := o.meter.Int64Counter(
		"slowfast.result",
		metric.WithDescription("Slow task outcomes by kind"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		t.logger.Warn("failed to create result counter", "error", err)
	}
	t.results = counter

	return t
}

// Name returns the task name.
func (t *Task[In, Out]) Name() string { return t.name }

// State returns the current state.
func (t *Task[In, Out]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastOutcome returns how the most recently retrieved computation ended:
// Completed, TimedOut, Cancelled or Failed. It is Idle before the first one.
func (t *Task[In, Out]) LastOutcome() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastOutcome
}

// Submissions returns how many slow computations were started.
func (t *Task[In, Out]) Submissions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Enabled reports whether the slow path is on.
func (t *Task[In, Out]) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled turns the slow path on or off.
func (t *Task[In, Out]) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// CanSubmit reports whether a new slow computation may start: the slow path is
// enabled, nothing is running and at least suspend has passed since the last
// submission.
func (t *Task[In, Out]) CanSubmit(suspend time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || t.state == Running {
		return false
	}
	return t.opts.clock.Since(t.submittedAt) >= suspend
}

// Submit starts the slow function with in. It is a no-op when a computation
// is already running or when in equals the previous input.
func (t *Task[In, Out]) Submit(in In) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled || t.state == Running {
		return
	}
	if t.hasInput && in == t.lastInput {
		return
	}

	id := uuid.New().String()
	ch := make(chan outcome[Out], 1)
	future, err := t.pool.TrySubmit(t.job(id, in, ch))
	if err != nil {
		t.logger.Error("failed to submit slow function", "submission_id", id, "error", err)
		return
	}

	t.hasInput = true
	t.lastInput = in
	t.state = Running
	t.submittedAt = t.opts.clock.Now()
	t.submissionID = id
	t.future = future
	t.outcomes = ch
	t.count++

	t.logger.Debug("submitted slow function", "submission_id", id, "count", t.count)
}

func (t *Task[In, Out]) job(id string, in In, ch chan<- outcome[Out]) pool.Job {
	return func(ctx context.Context) {
		ctx, span := t.opts.tracer.Start(ctx, "slowfast.slow_call",
			trace.WithAttributes(
				attribute.String("task", t.name),
				attribute.String("submission_id", id),
			),
		)
		defer span.End()

		var o outcome[Out]
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.err = fmt.Errorf("slowfast: slow function panicked: %v", r)
				}
			}()
			o.value, o.err = t.slow(ctx, in)
		}()
		if o.err != nil {
			span.RecordError(o.err)
		}
		ch <- o
	}
}

// Retrieve polls the running computation without blocking. A finished result
// is captured once and held until Result delivers it, however late it is
// retrieved. A computation whose future is done but whose outcome is still
// unreadable after the completion timeout is abandoned. A computation running
// longer than the incompletion timeout is cancelled and its eventual result
// ignored.
func (t *Task[In, Out]) Retrieve() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled || t.state != Running {
		return
	}

	select {
	case o := <-t.outcomes:
		t.capture(o)
		return
	default:
	}

	if t.future.IsDone() {
		select {
		case o := <-t.outcomes:
			t.capture(o)
			return
		default:
		}
		// Skipped, or the pool shut down before the job could report.
		now := t.opts.clock.Now()
		if t.doneAt.IsZero() {
			t.doneAt = now
		}
		if waited := now.Sub(t.doneAt); waited > t.opts.completionTimeout {
			t.finish(TimedOut)
			t.logger.Error("slow function finished without a result",
				"submission_id", t.submissionID,
				"waited", waited,
				"timeout", t.opts.completionTimeout,
			)
		}
		return
	}

	elapsed := t.opts.clock.Since(t.submittedAt)
	if elapsed <= t.opts.incompletionTimeout {
		return
	}

	t.future.Cancel()
	t.finish(Cancelled)

	now := t.opts.clock.Now()
	if t.lastTimeout.IsZero() || now.Sub(t.lastTimeout) > timeoutLogInterval {
		t.logger.Warn("slow function timed out",
			"submission_id", t.submissionID,
			"elapsed", elapsed,
			"timeout", t.opts.incompletionTimeout,
		)
		t.lastTimeout = now
	}
}

func (t *Task[In, Out]) capture(o outcome[Out]) {
	if o.err != nil {
		t.finish(Failed)
		t.logger.Error("slow function failed", "submission_id", t.submissionID, "error", o.err)
		return
	}

	t.pending = o.value
	t.hasPending = true
	t.finish(Completed)
	if t.opts.logIO {
		t.ioLog = append(t.ioLog, IOPair[In, Out]{Input: t.lastInput, Output: o.value})
	}
}

// finish ends the running computation with the given outcome. Must be called
// with t.mu held.
func (t *Task[In, Out]) finish(s State) {
	t.lastOutcome = s
	t.future = nil
	t.outcomes = nil
	t.doneAt = time.Time{}
	if s == Completed {
		t.state = Completed
	} else {
		t.state = Idle
	}
	if t.results != nil {
		t.results.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("task", t.name),
			attribute.String("outcome", s.String()),
		))
	}
}

// Result returns the pending slow result if one awaits delivery, otherwise
// fast(in). A slow result is delivered exactly once.
func (t *Task[In, Out]) Result(in In) Out {
	t.mu.Lock()
	if t.hasPending {
		out := t.pending
		var zero Out
		t.pending = zero
		t.hasPending = false
		if t.state == Completed {
			t.state = Idle
		}
		t.mu.Unlock()
		return out
	}
	t.mu.Unlock()
	return t.fast(in)
}

// Pending reports whether a slow result awaits delivery.
func (t *Task[In, Out]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasPending
}

// IOLog returns a copy of the recorded slow input/output pairs.
func (t *Task[In, Out]) IOLog() []IOPair[In, Out] {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]IOPair[In, Out], len(t.ioLog))
	copy(out, t.ioLog)
	return out
}

// ClearIOLog drops the recorded input/output pairs.
func (t *Task[In, Out]) ClearIOLog() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ioLog = nil
}
