package lyfe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/metaconsciousgroup/lyfe-agent-paper/action"
	"github.com/metaconsciousgroup/lyfe-agent-paper/agent"
	"github.com/metaconsciousgroup/lyfe-agent-paper/config"
	"github.com/metaconsciousgroup/lyfe-agent-paper/encoder"
	"github.com/metaconsciousgroup/lyfe-agent-paper/health"
	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
	"github.com/metaconsciousgroup/lyfe-agent-paper/pool"
	"github.com/metaconsciousgroup/lyfe-agent-paper/store"
)

// persistentTiers are the tiers saved to and restored from a store.
var persistentTiers = []memory.Tier{memory.TierWorking, memory.TierRecent, memory.TierLong}

// AgentConfig describes one agent to add to a Runtime.
type AgentConfig struct {
	// Name identifies the agent and must be unique within the runtime.
	Name string

	// Options maps option names to their executors.
	Options map[string]action.Executor

	// Decide is the cognitive controller's decision function.
	Decide agent.DecideFunc

	// Summarize produces the per-tick summary. Optional.
	Summarize agent.SummarizeFunc

	// Consolidate summarizes clusters of recent memories. Without it
	// clusters move to long-term memory verbatim.
	Consolidate memory.Summarizer

	// Seed pre-fills memory tiers.
	Seed map[memory.Tier][]string

	// Restore loads the agent's last saved snapshot from the store.
	Restore bool

	// OthersTalking overrides the default others_talking observation probe.
	OthersTalking func() bool

	// Configure adjusts the builder after the runtime configuration is applied.
	Configure func(*agent.Config)
}

// Runtime owns everything agents share: the worker pool, the batching
// encoder, the token ledger, telemetry providers and the optional store.
type Runtime struct {
	id     string
	cfg    *config.Config
	logger *slog.Logger
	clock  clockwork.Clock
	meter  metric.MeterProvider
	tracer trace.Tracer
	tp     trace.TracerProvider

	pool      *pool.Pool
	encoder   *encoder.Manager
	ledger    *llm.Ledger
	store     store.Store
	ownsStore bool
	ticks     metric.Int64Counter

	mu     sync.RWMutex
	agents []*agent.Agent
	byName map[string]*agent.Agent

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

type heartbeater interface {
	Heartbeat(ctx context.Context, instance string) error
}

// New builds a runtime. The encoder is probed once with ctx and then runs
// until Close.
func New(ctx context.Context, encode encoder.EncodeFunc, opts ...Option) (*Runtime, error) {
	if encode == nil {
		return nil, newError("Runtime.New", KindValidation, errors.New("encode function is required"))
	}

	rc := &runtimeConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	cfg := rc.config
	if cfg == nil && rc.configPath != "" {
		loaded, err := config.Load(rc.configPath)
		if err != nil {
			return nil, newError("Runtime.New", KindConfiguration, err)
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, newError("Runtime.New", KindConfiguration, err)
	}

	logger := rc.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	clock := rc.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	mp := rc.meter
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	tp := rc.tracer
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}

	r := &Runtime{
		id:      uuid.NewString(),
		cfg:     cfg,
		clock:   clock,
		meter:   mp,
		tp:      tp,
		tracer:  tp.Tracer("lyfe"),
		ledger:  llm.NewLedger(),
		byName:  make(map[string]*agent.Agent),
	}
	r.logger = logger.With("component", "runtime", "runtime_id", r.id)

	ticks, err := mp.Meter("lyfe").Int64Counter("runtime.ticks",
		metric.WithDescription("Agent ticks driven by the runtime"))
	if err != nil {
		r.logger.Warn("failed to create tick counter", "error", err)
	}
	r.ticks = ticks

	size := cfg.Pool.GetSize()
	queue := cfg.Pool.GetQueueSize()
	if rc.poolSize > 0 {
		size, queue = rc.poolSize, 4*rc.poolSize
	}
	r.pool = pool.New(pool.Options{Size: size, QueueSize: queue, Logger: logger})

	r.encoder = encoder.New(wrapEncode(encode), r.pool, append(cfg.Encoder.Options(),
		encoder.WithClock(clock),
		encoder.WithLogger(logger),
		encoder.WithMeterProvider(mp),
		encoder.WithTracerProvider(tp),
	)...)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	if err := r.encoder.Start(runCtx); err != nil {
		cancel()
		_ = r.pool.Close(cfg.Pool.GetShutdownTimeout())
		return nil, newError("Runtime.New", KindExecution, err)
	}

	switch {
	case rc.store != nil:
		r.store = rc.store
	case cfg.Store.Enabled():
		s, err := store.NewRedisStore(cfg.Store.RedisOptions())
		if err != nil {
			r.shutdown()
			return nil, newError("Runtime.New", KindStorage, err)
		}
		r.store, r.ownsStore = s, true
	}
	if hb, ok := r.store.(heartbeater); ok {
		r.wg.Add(1)
		go r.heartbeat(runCtx, hb)
	}

	r.logger.Info("runtime started",
		"pool_size", size,
		"store", r.store != nil,
	)
	return r, nil
}

func wrapEncode(encode encoder.EncodeFunc) encoder.EncodeFunc {
	return func(ctx context.Context, texts []string) ([][]float64, error) {
		out, err := encode(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
		}
		return out, nil
	}
}

func wrapDecide(decide agent.DecideFunc) agent.DecideFunc {
	return func(ctx context.Context, st action.State) (option.State, llm.TokenUsage, error) {
		s, usage, err := decide(ctx, st)
		if err != nil {
			return s, usage, fmt.Errorf("%w: %w", ErrDecideFailed, err)
		}
		return s, usage, nil
	}
}

func wrapConsolidate(summarize memory.Summarizer) memory.Summarizer {
	if summarize == nil {
		return nil
	}
	return func(ctx context.Context, items []string) (llm.Completion, error) {
		c, err := summarize(ctx, items)
		if err != nil {
			return c, fmt.Errorf("%w: %w", ErrSummarizeFailed, err)
		}
		return c, nil
	}
}

// heartbeat marks the runtime alive in the store until ctx ends.
func (r *Runtime) heartbeat(ctx context.Context, hb heartbeater) {
	defer r.wg.Done()
	beat := func() {
		if err := hb.Heartbeat(ctx, r.id); err != nil && ctx.Err() == nil {
			r.logger.Warn("heartbeat failed", "error", err)
		}
	}
	beat()

	ticker := r.clock.NewTicker(store.HeartbeatTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			beat()
		}
	}
}

// ID returns the runtime instance id.
func (r *Runtime) ID() string { return r.id }

// Config returns the active configuration.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Ledger returns the token ledger every agent records into.
func (r *Runtime) Ledger() *llm.Ledger { return r.ledger }

// Encoder returns the shared batching encoder.
func (r *Runtime) Encoder() *encoder.Manager { return r.encoder }

// Pool returns the shared worker pool.
func (r *Runtime) Pool() *pool.Pool { return r.pool }

// NewAgent builds an agent on the runtime's shared pool and encoder.
func (r *Runtime) NewAgent(ctx context.Context, ac AgentConfig) (*agent.Agent, error) {
	const op = "Runtime.NewAgent"
	if r.closed.Load() {
		return nil, newError(op, KindValidation, ErrClosed)
	}
	if ac.Decide == nil {
		return nil, newError(op, KindValidation, errors.New("decide function is required"))
	}

	r.mu.RLock()
	_, dup := r.byName[ac.Name]
	r.mu.RUnlock()
	if dup {
		return nil, newError(op, KindValidation, ErrDuplicateAgent).WithContext(map[string]any{"agent": ac.Name})
	}

	registry, err := action.NewRegistry(ac.Options)
	if err != nil {
		return nil, newError(op, KindValidation, err)
	}

	account := r.ledger.For(ac.Name)
	mem := memory.NewManager(ac.Name, r.cfg.Memory.ToMemory(), r.encoder, wrapConsolidate(ac.Consolidate), r.pool,
		memory.WithLogger(r.logger),
		memory.WithClock(r.clock),
		memory.WithTracker(account),
		memory.WithMeterProvider(r.meter),
		memory.WithTracerProvider(r.tp),
	)
	if len(ac.Seed) > 0 {
		if err := mem.Fill(ac.Seed); err != nil {
			return nil, newError(op, KindValidation, err)
		}
	}
	if ac.Restore && r.store != nil {
		snap, err := store.LoadSnapshot(ctx, r.store, ac.Name, persistentTiers...)
		if err != nil {
			return nil, newError(op, KindStorage, err).WithContext(map[string]any{"agent": ac.Name})
		}
		if err := mem.Restore(snap); err != nil {
			return nil, newError(op, KindInternal, err)
		}
	}
	var usage map[string]llm.TokenUsage
	if us, ok := r.store.(store.UsageStore); ok && ac.Restore {
		usage, err = us.LoadUsage(ctx, ac.Name)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, newError(op, KindStorage, err).WithContext(map[string]any{"agent": ac.Name})
		}
	}

	b := agent.NewConfig().
		SetName(ac.Name).
		SetRegistry(registry).
		SetDecideFunc(wrapDecide(ac.Decide)).
		SetMemory(mem).
		SetPool(r.pool).
		SetEncoder(r.encoder).
		SetTracker(account)
	if ac.Summarize != nil {
		b.SetSummarizeFunc(ac.Summarize)
	}
	r.cfg.ApplyAgent(b)
	if ac.OthersTalking != nil {
		b.SetOthersTalking(ac.OthersTalking)
	}
	if ac.Configure != nil {
		ac.Configure(b)
	}

	a, err := agent.New(b,
		agent.WithLogger(r.logger),
		agent.WithClock(r.clock),
		agent.WithMeterProvider(r.meter),
		agent.WithTracerProvider(r.tp),
	)
	if err != nil {
		return nil, newError(op, KindValidation, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[ac.Name]; dup {
		return nil, newError(op, KindValidation, ErrDuplicateAgent).WithContext(map[string]any{"agent": ac.Name})
	}
	r.agents = append(r.agents, a)
	r.byName[ac.Name] = a
	r.ledger.Restore(ac.Name, usage)
	r.logger.Info("agent added", "agent", ac.Name, "options", registry.Names())
	return a, nil
}

// Agent returns the agent with the given name.
func (r *Runtime) Agent(name string) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// Agents returns every agent in the order they were added.
func (r *Runtime) Agents() []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*agent.Agent(nil), r.agents...)
}

// Tick advances every agent by one step. obs maps agent names to their
// observations; agents without an entry tick with no observations. The
// result holds only non-empty actions.
func (r *Runtime) Tick(ctx context.Context, obs map[string]action.Observation) (map[string]action.Action, error) {
	if r.closed.Load() {
		return nil, newError("Runtime.Tick", KindExecution, ErrClosed)
	}
	ctx, span := r.tracer.Start(ctx, "runtime.tick")
	defer span.End()

	out := make(map[string]action.Action)
	for _, a := range r.Agents() {
		act := a.Tick(ctx, obs[a.Name()])
		if r.ticks != nil {
			r.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", a.Name())))
		}
		if !act.IsZero() {
			out[a.Name()] = act
		}
	}
	return out, nil
}

// Save writes every agent's persistent tiers to the store, and its token
// usage when the store keeps usage.
func (r *Runtime) Save(ctx context.Context) error {
	if r.store == nil {
		return newError("Runtime.Save", KindConfiguration, errors.New("no store configured"))
	}
	var errs []error
	for _, a := range r.Agents() {
		if err := store.SaveSnapshot(ctx, r.store, a.Name(), a.Memory().Snapshot()); err != nil {
			errs = append(errs, newError("Runtime.Save", KindStorage, err).WithContext(map[string]any{"agent": a.Name()}))
		}
		if us, ok := r.store.(store.UsageStore); ok {
			if err := us.SaveUsage(ctx, a.Name(), r.ledger.Usage(a.Name())); err != nil {
				errs = append(errs, newError("Runtime.Save", KindStorage, err).WithContext(map[string]any{"agent": a.Name()}))
			}
		}
	}
	return errors.Join(errs...)
}

// Health combines the pool, encoder pipeline and store checks.
func (r *Runtime) Health(ctx context.Context) health.Status {
	q, i := r.encoder.QueueLen()
	var pinger health.Pinger
	if r.store != nil {
		pinger = r.store
	}
	return health.Combine(
		health.PoolCheck(r.pool),
		health.PipelineCheck(q+i, r.cfg.Encoder.GetQueueThreshold()),
		health.StoreCheck(ctx, pinger),
	)
}

// Close consolidates every agent's memory, saves snapshots when the store
// is configured to, then stops the encoder and the pool. Queued embeddings
// are drained before consolidation and again before saving. Calling Close
// more than once is a no-op.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	timeout := r.cfg.Pool.GetShutdownTimeout()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	r.flush(ctx)
	for _, a := range r.Agents() {
		if err := a.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.flush(ctx)
	if r.store != nil && r.cfg.Store != nil && r.cfg.Store.SaveOnClose {
		if err := r.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, r.shutdown())

	r.logger.Info("runtime stopped", "tokens", r.ledger.Total().TotalTokens)
	return errors.Join(errs...)
}

func (r *Runtime) flush(ctx context.Context) {
	if err := r.encoder.Flush(ctx); err != nil {
		q, i := r.encoder.QueueLen()
		r.logger.Warn("encoder did not drain before shutdown", "queries", q, "inserts", i, "error", err)
	}
}

func (r *Runtime) shutdown() error {
	var errs []error
	timeout := r.cfg.Pool.GetShutdownTimeout()
	if err := r.encoder.Stop(timeout); err != nil && !errors.Is(err, encoder.ErrNotStarted) {
		errs = append(errs, newError("Runtime.Close", KindTimeout, fmt.Errorf("%w: %w", ErrTimeout, err)))
	}
	r.cancel()
	r.wg.Wait()
	if err := r.pool.Close(timeout); err != nil {
		errs = append(errs, newError("Runtime.Close", KindTimeout, fmt.Errorf("%w: %w", ErrTimeout, err)))
	}
	if r.ownsStore {
		CloseWithLog(r.store, r.logger, "snapshot store")
	}
	return errors.Join(errs...)
}
