package agent

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/metaconsciousgroup/lyfe-agent-paper/action"
	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
	"github.com/metaconsciousgroup/lyfe-agent-paper/slowfast"
)

// Frame is the input of one tick. Slow tasks compare frames by identity, so
// every tick submits a distinct input.
type Frame struct {
	Tick uint64
	Obs  action.Observation
}

// Interview reports whether the frame carries an interview question.
func (f *Frame) Interview() bool {
	return f != nil && f.Obs[action.ObsInterview] != ""
}

// controlKeys are observation keys that steer the agent but are not
// remembered.
var controlKeys = map[string]struct{}{
	action.ObsOthersTalking: {},
	action.ObsInterview:     {},
	"environment_details":   {},
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithClock sets the clock for slow-task timeouts and option expiry.
func WithClock(c clockwork.Clock) Option {
	return func(a *Agent) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithMeterProvider records agent and slow-task metrics on mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *Agent) { a.meterProvider = mp }
}

// WithTracerProvider traces slow calls on tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Agent) { a.tracerProvider = tp }
}

// WithRand sets the random source used for boredom.
func WithRand(r *rand.Rand) Option {
	return func(a *Agent) {
		if r != nil {
			a.rng = r
		}
	}
}

// Agent is one simulated agent. Tick is driven from a single loop and never
// blocks: language model and embedding work runs on the worker pool and
// surfaces on a later tick.
type Agent struct {
	cfg *Config

	logger         *slog.Logger
	clock          clockwork.Clock
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	rng            *rand.Rand
	actions        metric.Int64Counter

	memory   *memory.Manager
	registry *action.Registry
	tracker  llm.Tracker
	current  *option.Current
	gate     *option.Gate
	turns    *option.TurnTaking
	events   *EventFlag
	rep      *RepetitionDetector
	expiry   *ExpiryDetector

	selection  *Selection
	controller *Controller
	summary    *slowfast.Task[*Frame, map[string]string]

	mu         sync.Mutex
	time       string
	obs        action.Observation
	summaryMap map[string]string
	ticks      atomic.Uint64
}

// New creates an agent from the configuration.
// Returns an error if the configuration is invalid.
func New(cfg *Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	cfg = cfg.clone()

	a := &Agent{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		memory:   cfg.memory,
		registry: cfg.registry,
		tracker:  cfg.tracker,
		current:  option.NewCurrent(cfg.initial),
		events:   NewEventFlag(),
		time:     "init",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	a.logger = a.logger.With("component", "agent", "agent", cfg.name)
	if a.tracker == nil {
		a.tracker = llm.NewLedger().For(cfg.name)
	}
	if a.meterProvider == nil {
		a.meterProvider = metricnoop.NewMeterProvider()
	}

	counter, err := a.meterProvider.Meter("agent").Int64Counter(
		"agent.actions",
		metric.WithDescription("Actions emitted by kind"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		a.logger.Warn("failed to create action counter", "error", err)
	}
	a.actions = counter

	a.gate = option.NewGate(option.WithLogger(a.logger), option.WithRules(cfg.rules))
	for _, name := range cfg.registry.Names() {
		a.gate.AddVariable(name, option.DefaultLifespan)
	}
	othersTalking := cfg.othersTalking
	if othersTalking == nil {
		othersTalking = a.othersTalkingObserved
	}
	a.turns = option.NewTurnTaking(cfg.name, a.gate,
		option.WithDefaultLatency(cfg.latency),
		option.WithOthersTalking(othersTalking),
	)

	a.rep = NewRepetitionDetector(cfg.repetitionHistory, cfg.repetitionThreshold, cfg.maxRepeats)
	a.expiry = NewExpiryDetector(a.clock, cfg.expiry, cfg.timeBasedEvents)

	a.selection = newSelection(a)
	a.controller = newController(a)
	if cfg.summarize != nil {
		a.summary = slowfast.New(cfg.name+"_summary", cfg.pool, a.summarizeSlow,
			func(*Frame) map[string]string { return nil },
			a.taskOptions()...,
		)
	}
	return a, nil
}

func (a *Agent) taskOptions() []slowfast.Option {
	opts := []slowfast.Option{
		slowfast.WithClock(a.clock),
		slowfast.WithLogger(a.logger),
		slowfast.WithCompletionTimeout(a.cfg.completionTimeout),
		slowfast.WithIncompletionTimeout(a.cfg.incompletionTimeout),
		slowfast.WithMeterProvider(a.meterProvider),
	}
	if a.tracerProvider != nil {
		opts = append(opts, slowfast.WithTracerProvider(a.tracerProvider))
	}
	return opts
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.cfg.name }

// Memory returns the agent's memory.
func (a *Agent) Memory() *memory.Manager { return a.memory }

// Gate returns the agent's option gate.
func (a *Agent) Gate() *option.Gate { return a.gate }

// Current returns the option the agent is pursuing.
func (a *Agent) Current() option.State { return a.current.Get() }

// Expressions lists what other agents can perceive: the active option
// variables.
func (a *Agent) Expressions() []string { return a.gate.Active() }

// Ticks returns the number of ticks processed.
func (a *Agent) Ticks() uint64 { return a.ticks.Load() }

// Tick advances the agent by one step and returns the action for the
// environment. The steps are: count down the option gate, update detectors,
// remember observations, fold in a finished summary, let the cognitive
// controller revise the option, then select an action.
func (a *Agent) Tick(ctx context.Context, obs action.Observation) action.Action {
	n := a.ticks.Add(1)
	frame := &Frame{Tick: n, Obs: maps.Clone(obs)}

	a.gate.Tick()
	a.mu.Lock()
	a.obs = frame.Obs
	if t := obs[action.ObsTime]; t != "" {
		a.time = t
	}
	a.mu.Unlock()

	a.rep.Update()
	a.expiry.Update(a.current.Name())

	a.remember(obs)
	a.reflect(ctx, frame)

	a.controller.Execute(frame)
	act := a.selection.Execute(frame)

	if !act.IsZero() {
		if a.actions != nil {
			a.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", act.Kind.String())))
		}
		if a.cfg.encoder != nil && act.Text != "" {
			if err := a.cfg.encoder.EnqueueInsert(a.rep, act.Text, nil); err != nil {
				a.logger.Debug("could not embed output for repetition check", "error", err)
			}
		}
	}
	return act
}

func (a *Agent) remember(obs action.Observation) {
	content := make(map[string]string, len(obs))
	for k, v := range obs {
		if _, skip := controlKeys[k]; skip {
			continue
		}
		content[k] = v
	}
	if len(content) == 0 || (len(content) == 1 && content[action.ObsTime] != "") {
		return
	}
	a.memory.Add(content)
}

// reflect moves observations through memory on every tick. A summary
// produced in the background since the previous tick is passed along and may
// write recent memory.
func (a *Agent) reflect(ctx context.Context, frame *Frame) {
	var summary map[string]string
	if a.summary != nil {
		a.summary.Retrieve()
		if a.summary.CanSubmit(a.cfg.summaryInterval) {
			a.summary.Submit(frame)
		}
		summary = a.summary.Result(frame)
		if summary != nil {
			a.mu.Lock()
			a.summaryMap = maps.Clone(summary)
			a.mu.Unlock()
		}
	}
	a.memory.Update(ctx, summary, false)
}

func (a *Agent) summarizeSlow(ctx context.Context, f *Frame) (map[string]string, error) {
	st := a.snapshot(ctx)
	summary, usage, err := a.cfg.summarize(ctx, st)
	if err != nil {
		return nil, err
	}
	a.tracker.Add(llm.SlotSummary, usage)
	return summary, nil
}

// Shutdown consolidates what is left in recent memory.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.memory.Update(ctx, nil, true)
	a.logger.Info("agent stopped", "ticks", a.ticks.Load(), "tokens", a.tracker.Total().TotalTokens)
	return nil
}

func (a *Agent) othersTalkingObserved() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.obs[action.ObsOthersTalking]
	return v != "" && v != "false"
}

// summaryReady reports whether the agent has a usable summary, one with no
// value memory treats as a nonce. Agents without a summarizer are always ready.
func (a *Agent) summaryReady() bool {
	if a.summary == nil {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.summaryMap) == 0 {
		return false
	}
	for _, v := range a.summaryMap {
		if a.memory.IsNonce(v) {
			return false
		}
	}
	return true
}

// exitCurrentOption reports whether the agent should abandon its option.
func (a *Agent) exitCurrentOption() bool {
	return a.rep.Repetitive() || a.expiry.Expired()
}

// snapshot builds the read-only view handed to executors and deciders. It
// loads memory and therefore must only run on the worker pool.
func (a *Agent) snapshot(ctx context.Context) action.State {
	a.mu.Lock()
	t := a.time
	summary := maps.Clone(a.summaryMap)
	a.mu.Unlock()

	return action.State{
		Agent:   a.cfg.name,
		Option:  a.current.Get(),
		Time:    t,
		Summary: summary,
		Memory:  a.memory.Load(ctx),
		Active:  a.gate.Active(),
		Options: a.registry.Names(),
	}
}

func (a *Agent) currentTime() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.time
}
