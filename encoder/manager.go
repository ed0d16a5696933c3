// Package encoder turns many small embedding requests into few large batch
// calls under an adaptive latency budget.
//
// Two FIFO sub-queues feed one batch loop: queries, which a background caller
// is waiting on, and inserts, whose embeddings are written back into an Owner.
// Queries always enter a batch before inserts. A batch is dispatched as soon as
// it is full or the wait budget since its first job has elapsed; the budget is
// re-tuned periodically from the observed request rate.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/metaconsciousgroup/lyfe-agent-paper/pool"
)

var (
	// ErrClosed is returned when enqueueing on a stopped manager.
	ErrClosed = errors.New("encoder: closed")

	// ErrNotStarted is returned by Stop when Start was never called.
	ErrNotStarted = errors.New("encoder: not started")

	// ErrLengthMismatch is reported when an encode call does not return one
	// embedding per input text.
	ErrLengthMismatch = errors.New("encoder: embedding count does not match input")
)

// EncodeFunc embeds texts. It must return exactly one vector per text, in the
// same order.
type EncodeFunc func(ctx context.Context, texts []string) ([][]float64, error)

// Owner receives embeddings for its insert jobs. The manager holds the owner's
// lock while calling FillEncoded.
type Owner interface {
	sync.Locker
	FillEncoded(key string, embedding []float64, value any)
}

// Runner starts long-lived loops. *pool.Pool satisfies it.
type Runner interface {
	Go(fn pool.Job) (*pool.Future, error)
}

// Kind distinguishes the two job queues.
type Kind int

const (
	// Insert jobs write their embedding back into an Owner.
	Insert Kind = iota
	// Query jobs deliver their embedding to a waiting caller.
	Query
)

// String returns "insert" or "query".
func (k Kind) String() string {
	if k == Query {
		return "query"
	}
	return "insert"
}

type job struct {
	kind  Kind
	owner Owner
	key   string
	value any
	reply chan []float64
}

// Manager is the batching pipeline.
type Manager struct {
	encode EncodeFunc
	runner Runner
	opts   *options
	logger *slog.Logger

	mu      sync.Mutex
	queries []*job
	inserts []*job
	closed  bool
	notify  chan struct{}

	// outstanding counts jobs enqueued but not yet filled, delivered or
	// dropped; idle waiters are released when it reaches zero.
	outstanding int
	idle        []chan struct{}

	maxWait      atomic.Int64
	seenQueries  atomic.Int64
	seenInserts  atomic.Int64
	batches      atomic.Int64
	dropped      atomic.Int64
	smoothed     float64
	haveSmoothed bool

	started atomic.Bool
	cancel  context.CancelFunc
	loop    *pool.Future

	batchSize  metric.Int64Histogram
	droppedCtr metric.Int64Counter
	waitHist   metric.Float64Histogram
}

// New creates a Manager. Call Start before enqueueing.
func New(encode EncodeFunc, runner Runner, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.maxWait < o.minWait {
		o.maxWait = o.minWait
	}
	if o.maxWait > o.maxWaitCeiling {
		o.maxWait = o.maxWaitCeiling
	}

	m := &Manager{
		encode: encode,
		runner: runner,
		opts:   o,
		logger: o.resolveLogger().With("component", "encoder"),
		notify: make(chan struct{}, 1),
	}
	m.maxWait.Store(int64(o.maxWait))
	m.initMetrics()
	return m
}

func (m *Manager) initMetrics() {
	var err error
	m.batchSize, err = m.opts.meter.Int64Histogram(
		"encoder.batch.size",
		metric.WithDescription("Jobs per encode call"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", "error", err)
	}
	m.droppedCtr, err = m.opts.meter.Int64Counter(
		"encoder.batch.dropped",
		metric.WithDescription("Jobs dropped because their batch failed"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.logger.Warn("failed to create dropped counter", "error", err)
	}
	m.waitHist, err = m.opts.meter.Float64Histogram(
		"encoder.max_wait",
		metric.WithDescription("Adaptive batch wait budget"),
		metric.WithUnit("s"),
	)
	if err != nil {
		m.logger.Warn("failed to create max wait histogram", "error", err)
	}
}

// Start probes the encode function once and then runs the batch loop on the
// runner until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	probe, err := m.call(ctx, []string{"Testing"})
	if err != nil {
		m.started.Store(false)
		return fmt.Errorf("encoder: probe failed: %w", err)
	}
	m.logger.Debug("encoder probe succeeded", "dimensions", len(probe[0]))

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	future, err := m.runner.Go(func(poolCtx context.Context) {
		stop := context.AfterFunc(poolCtx, cancel)
		defer stop()
		m.run(loopCtx)
	})
	if err != nil {
		cancel()
		m.started.Store(false)
		return fmt.Errorf("encoder: failed to start batch loop: %w", err)
	}
	m.loop = future

	m.logger.Info("encoder started",
		"batch_size", m.opts.batchSize,
		"max_wait", m.MaxWait(),
		"monitor_interval", m.opts.monitorInterval,
	)
	return nil
}

// Stop ends the batch loop, waits up to timeout for it to exit and releases
// every queued query waiter with an empty result.
func (m *Manager) Stop(timeout time.Duration) error {
	if !m.started.Load() {
		return ErrNotStarted
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	queries, inserts := m.queries, m.inserts
	m.queries, m.inserts = nil, nil
	m.mu.Unlock()

	m.cancel()
	if len(inserts) > 0 {
		m.logger.Warn("discarding queued inserts", "count", len(inserts))
	}
	for _, j := range queries {
		j.reply <- nil
	}
	m.finish(len(queries) + len(inserts))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.loop.Wait(ctx); err != nil {
		m.logger.Warn("encoder stop did not complete cleanly", "error", err)
		return err
	}
	m.logger.Info("encoder stopped", "batches", m.batches.Load(), "dropped", m.dropped.Load())
	return nil
}

// EnqueueInsert queues key for embedding. When the batch succeeds the owner's
// FillEncoded is called with the embedding and value under the owner's lock.
func (m *Manager) EnqueueInsert(owner Owner, key string, value any) error {
	return m.enqueue(&job{kind: Insert, owner: owner, key: key, value: value})
}

// EnqueueQuery queues text for embedding with priority over inserts. The
// returned channel receives exactly one value: the embedding, or nil if the
// batch failed or the manager stopped.
func (m *Manager) EnqueueQuery(text string) (<-chan []float64, error) {
	j := &job{kind: Query, key: text, reply: make(chan []float64, 1)}
	if err := m.enqueue(j); err != nil {
		return nil, err
	}
	return j.reply, nil
}

// Query embeds text and waits up to timeout for the result. It must only be
// called from background goroutines. It reports false on timeout, failure or
// cancellation.
func (m *Manager) Query(ctx context.Context, text string, timeout time.Duration) ([]float64, bool) {
	reply, err := m.EnqueueQuery(text)
	if err != nil {
		return nil, false
	}
	select {
	case emb := <-reply:
		return emb, emb != nil
	case <-ctx.Done():
		return nil, false
	case <-m.opts.clock.After(timeout):
		m.logger.Warn("query timed out", "timeout", timeout)
		return nil, false
	}
}

func (m *Manager) enqueue(j *job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if j.kind == Query {
		m.queries = append(m.queries, j)
		m.seenQueries.Add(1)
	} else {
		m.inserts = append(m.inserts, j)
		m.seenInserts.Add(1)
	}
	m.outstanding++
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// finish marks n jobs as done and releases Flush callers once none remain.
func (m *Manager) finish(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outstanding -= n
	if m.outstanding > 0 {
		return
	}
	m.outstanding = 0
	for _, ch := range m.idle {
		close(ch)
	}
	m.idle = nil
}

// Flush waits until every job enqueued so far has been filled, delivered or
// dropped. It returns ctx's error if that does not happen first.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if m.outstanding == 0 {
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.idle = append(m.idle, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("encoder: flush: %w", ctx.Err())
	}
}

// take removes up to n jobs, queries first.
func (m *Manager) take(n int) []*job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*job, 0, n)
	k := min(n, len(m.queries))
	out = append(out, m.queries[:k]...)
	m.queries = m.queries[k:]

	k = min(n-len(out), len(m.inserts))
	out = append(out, m.inserts[:k]...)
	m.inserts = m.inserts[k:]
	return out
}

func (m *Manager) queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries) + len(m.inserts)
}

func (m *Manager) run(ctx context.Context) {
	ticker := m.opts.clock.NewTicker(m.opts.monitorInterval)
	defer ticker.Stop()

	for {
		if m.queued() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.adjust(m.opts.monitorInterval)
			case <-m.notify:
			}
			continue
		}

		batch := m.collect(ctx, ticker.Chan())
		if len(batch) > 0 {
			m.process(ctx, batch)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// collect builds one batch, waiting at most the current budget from the
// moment the first job is taken.
func (m *Manager) collect(ctx context.Context, tick <-chan time.Time) []*job {
	size := m.opts.batchSize
	budget := m.MaxWait()
	first := m.opts.clock.Now()
	batch := m.take(size)

	deadline := m.opts.clock.After(budget)
	for len(batch) < size {
		if more := m.take(size - len(batch)); len(more) > 0 {
			batch = append(batch, more...)
			continue
		}
		select {
		case <-ctx.Done():
			return batch
		case <-deadline:
			m.logger.Debug("batch wait elapsed",
				"jobs", len(batch),
				"waited", m.opts.clock.Since(first),
			)
			return batch
		case <-tick:
			m.adjust(m.opts.monitorInterval)
		case <-m.notify:
		}
	}
	return batch
}

func (m *Manager) process(ctx context.Context, batch []*job) {
	defer m.finish(len(batch))

	texts := make([]string, len(batch))
	queries := 0
	for i, j := range batch {
		texts[i] = j.key
		if j.kind == Query {
			queries++
		}
	}

	ctx, span := m.opts.tracer.Start(ctx, "encoder.encode_batch",
		trace.WithAttributes(
			attribute.Int("batch.size", len(batch)),
			attribute.Int("batch.queries", queries),
		),
	)
	defer span.End()

	if m.batchSize != nil {
		m.batchSize.Record(ctx, int64(len(batch)))
	}
	m.batches.Add(1)

	var embeddings [][]float64
	var err error
	for attempt := 0; attempt <= m.opts.maxRetries; attempt++ {
		embeddings, err = m.call(ctx, texts)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		m.logger.Warn("encode attempt failed", "attempt", attempt+1, "error", err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.drop(ctx, batch, err)
		return
	}

	for i, j := range batch {
		switch j.kind {
		case Insert:
			j.owner.Lock()
			j.owner.FillEncoded(j.key, embeddings[i], j.value)
			j.owner.Unlock()
		case Query:
			j.reply <- embeddings[i]
		}
	}
	m.logger.Debug("batch encoded", "jobs", len(batch), "queries", queries)
}

func (m *Manager) drop(ctx context.Context, batch []*job, err error) {
	m.dropped.Add(int64(len(batch)))
	if m.droppedCtr != nil {
		m.droppedCtr.Add(ctx, int64(len(batch)))
	}
	m.logger.Error("dropping batch", "jobs", len(batch), "error", err)
	for _, j := range batch {
		if j.kind == Query {
			j.reply <- nil
		}
	}
}

// call invokes encode, converting panics and short results into errors.
func (m *Manager) call(ctx context.Context, texts []string) (out [][]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("encoder: encode panicked: %v", r)
		}
	}()
	out, err = m.encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", ErrLengthMismatch, len(out), len(texts))
	}
	return out, nil
}

// adjust re-tunes the wait budget from the request rate seen over interval.
// The rate is EWMA-smoothed; the budget grows above the high threshold,
// shrinks below the low one and is always clamped to the configured bounds.
func (m *Manager) adjust(interval time.Duration) {
	total := m.seenQueries.Swap(0) + m.seenInserts.Swap(0)
	freq := float64(total) / interval.Seconds()

	if !m.haveSmoothed {
		m.smoothed = freq
		m.haveSmoothed = true
	} else {
		a := m.opts.smoothing
		m.smoothed = a*freq + (1-a)*m.smoothed
	}

	wait := float64(m.MaxWait())
	switch {
	case m.smoothed > m.opts.highFrequency:
		wait *= m.opts.growFactor
	case m.smoothed < m.opts.lowFrequency:
		wait *= m.opts.shrinkFactor
	}
	wait = math.Max(float64(m.opts.minWait), math.Min(float64(m.opts.maxWaitCeiling), wait))
	m.maxWait.Store(int64(wait))

	if m.waitHist != nil {
		m.waitHist.Record(context.Background(), time.Duration(wait).Seconds())
	}
	m.logger.Debug("adjusted batch wait",
		"frequency", freq,
		"smoothed", m.smoothed,
		"max_wait", time.Duration(wait),
	)
}

// MaxWait returns the current batch wait budget.
func (m *Manager) MaxWait() time.Duration {
	return time.Duration(m.maxWait.Load())
}

// QueueLen returns the number of queued query and insert jobs.
func (m *Manager) QueueLen() (queries, inserts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries), len(m.inserts)
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	Queries int
	Inserts int
	Batches int64
	Dropped int64
	MaxWait time.Duration
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	q, i := m.QueueLen()
	return Stats{
		Queries: q,
		Inserts: i,
		Batches: m.batches.Load(),
		Dropped: m.dropped.Load(),
		MaxWait: m.MaxWait(),
	}
}
