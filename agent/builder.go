package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/metaconsciousgroup/lyfe-agent-paper/action"
	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
	"github.com/metaconsciousgroup/lyfe-agent-paper/slowfast"
)

// DecideFunc is the cognitive controller: it picks the option the agent
// should pursue next. It may block on a language model call.
type DecideFunc func(ctx context.Context, st action.State) (option.State, llm.TokenUsage, error)

// SummarizeFunc condenses the agent's recent experience into the summary
// that feeds recent memory. It may block on a language model call.
type SummarizeFunc func(ctx context.Context, st action.State) (map[string]string, llm.TokenUsage, error)

// Config holds configuration for building an agent.
type Config struct {
	name          string
	registry      *action.Registry
	decide        DecideFunc
	summarize     SummarizeFunc
	memory        *memory.Manager
	pool          slowfast.Submitter
	encoder       memory.Encoder
	tracker       llm.Tracker
	initial       option.State
	rules         map[string][]string
	othersTalking func() bool

	suspend             time.Duration
	summaryInterval     time.Duration
	probBoredom         float64
	alwaysRunSlow       bool
	expiry              time.Duration
	timeBasedEvents     bool
	latency             int
	repetitionHistory   int
	repetitionThreshold float64
	maxRepeats          int
	completionTimeout   time.Duration
	incompletionTimeout time.Duration
}

// NewConfig creates a new agent configuration with default values.
func NewConfig() *Config {
	return &Config{
		initial: option.State{
			OptionName: option.CognitiveController,
		},
		rules:               map[string][]string{},
		expiry:              DefaultExpiry,
		latency:             option.DefaultLatency,
		repetitionHistory:   DefaultRepetitionHistory,
		repetitionThreshold: DefaultRepetitionThreshold,
		maxRepeats:          DefaultMaxRepeats,
		completionTimeout:   slowfast.DefaultCompletionTimeout,
		incompletionTimeout: slowfast.DefaultIncompletionTimeout,
	}
}

// SetName sets the agent name. Parts of the name are matched against speech
// to detect being addressed.
func (c *Config) SetName(name string) *Config {
	c.name = name
	return c
}

// SetRegistry sets the option executors.
func (c *Config) SetRegistry(r *action.Registry) *Config {
	c.registry = r
	return c
}

// SetDecideFunc sets the cognitive controller.
func (c *Config) SetDecideFunc(fn DecideFunc) *Config {
	c.decide = fn
	return c
}

// SetSummarizeFunc sets the summary producer. Without one, observations still
// flow into working memory but recent memory is never written by the agent.
func (c *Config) SetSummarizeFunc(fn SummarizeFunc) *Config {
	c.summarize = fn
	return c
}

// SetMemory sets the agent's memory.
func (c *Config) SetMemory(m *memory.Manager) *Config {
	c.memory = m
	return c
}

// SetPool sets the worker pool slow computations run on.
func (c *Config) SetPool(p slowfast.Submitter) *Config {
	c.pool = p
	return c
}

// SetEncoder enables repetition detection by embedding the agent's output.
func (c *Config) SetEncoder(enc memory.Encoder) *Config {
	c.encoder = enc
	return c
}

// SetTracker sets where token usage is recorded.
func (c *Config) SetTracker(t llm.Tracker) *Config {
	c.tracker = t
	return c
}

// SetInitialOption sets the option the agent starts with.
func (c *Config) SetInitialOption(s option.State) *Config {
	c.initial = s
	return c
}

// AddRule makes activating name deactivate each of disables.
func (c *Config) AddRule(name string, disables ...string) *Config {
	c.rules[name] = append(c.rules[name], disables...)
	return c
}

// SetOthersTalking sets the probe for whether another nearby entity is
// talking. By default the agent reads the others_talking observation.
func (c *Config) SetOthersTalking(fn func() bool) *Config {
	c.othersTalking = fn
	return c
}

// SetSuspend sets the minimum time between slow action selections.
func (c *Config) SetSuspend(d time.Duration) *Config {
	c.suspend = d
	return c
}

// SetSummaryInterval sets the minimum time between summaries.
func (c *Config) SetSummaryInterval(d time.Duration) *Config {
	c.summaryInterval = d
	return c
}

// SetBoredom sets the probability that a tick triggers action selection
// without a new event.
func (c *Config) SetBoredom(p float64) *Config {
	c.probBoredom = p
	return c
}

// SetAlwaysRunSlow makes every tick eligible for slow action selection.
func (c *Config) SetAlwaysRunSlow(v bool) *Config {
	c.alwaysRunSlow = v
	return c
}

// SetExpiry enables time-based option expiry after d.
func (c *Config) SetExpiry(d time.Duration, enabled bool) *Config {
	c.expiry = d
	c.timeBasedEvents = enabled
	return c
}

// SetLatency sets the default turn-taking pause in ticks.
func (c *Config) SetLatency(ticks int) *Config {
	c.latency = ticks
	return c
}

// SetRepetition tunes repetition detection.
func (c *Config) SetRepetition(history int, threshold float64, maxRepeats int) *Config {
	c.repetitionHistory = history
	c.repetitionThreshold = threshold
	c.maxRepeats = maxRepeats
	return c
}

// SetTimeouts sets the completion and incompletion timeouts of every slow
// task the agent runs.
func (c *Config) SetTimeouts(completion, incompletion time.Duration) *Config {
	c.completionTimeout = completion
	c.incompletionTimeout = incompletion
	return c
}

// Validate checks if the configuration is valid and complete.
func (c *Config) Validate() error {
	var errs []error
	if c.name == "" {
		errs = append(errs, errors.New("agent name is required"))
	}
	if c.registry == nil {
		errs = append(errs, errors.New("option registry is required"))
	}
	if c.decide == nil {
		errs = append(errs, errors.New("decide function is required"))
	}
	if c.memory == nil {
		errs = append(errs, errors.New("memory is required"))
	}
	if c.pool == nil {
		errs = append(errs, errors.New("worker pool is required"))
	}
	if c.probBoredom < 0 || c.probBoredom > 1 {
		errs = append(errs, fmt.Errorf("boredom probability %v outside [0, 1]", c.probBoredom))
	}
	if c.suspend < 0 || c.summaryInterval < 0 {
		errs = append(errs, errors.New("suspend intervals must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) clone() *Config {
	cc := *c
	cc.rules = maps.Clone(c.rules)
	return &cc
}
