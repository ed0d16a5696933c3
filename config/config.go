// Package config provides loading and parsing of lyfe.yaml configuration files.
// A configuration tunes the worker pool, the encoder pipeline, the memory
// tiers, the dual-speed tasks, agent behaviour and the optional store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metaconsciousgroup/lyfe-agent-paper/agent"
	"github.com/metaconsciousgroup/lyfe-agent-paper/encoder"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
	"github.com/metaconsciousgroup/lyfe-agent-paper/slowfast"
	"github.com/metaconsciousgroup/lyfe-agent-paper/store"
)

// ErrInvalidConfig is returned by Validate and Load for unusable values.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents a lyfe.yaml configuration file. Every section is
// optional; accessors fall back to defaults for unset or invalid fields.
type Config struct {
	Pool     *PoolConfig     `yaml:"pool,omitempty"`
	Encoder  *EncoderConfig  `yaml:"encoder,omitempty"`
	Memory   *MemoryConfig   `yaml:"memory,omitempty"`
	SlowFast *SlowFastConfig `yaml:"slowfast,omitempty"`
	Agent    *AgentConfig    `yaml:"agent,omitempty"`
	Options  *OptionsConfig  `yaml:"options,omitempty"`
	Store    *StoreConfig    `yaml:"store,omitempty"`
}

// PoolConfig sizes the shared worker pool.
type PoolConfig struct {
	// Size is the number of worker goroutines.
	// Default: 4
	Size int `yaml:"size,omitempty"`

	// QueueSize is the capacity of the pending job queue.
	// Default: 4 * Size
	QueueSize int `yaml:"queue_size,omitempty"`

	// ShutdownTimeout is the time to wait for workers on Close.
	// Format: Go duration string (e.g., "5s")
	// Default: 5s
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`
}

// GetSize returns the configured size or the default value.
func (p *PoolConfig) GetSize() int {
	if p == nil || p.Size <= 0 {
		return 4
	}
	return p.Size
}

// GetQueueSize returns the configured queue size or 4 * GetSize.
func (p *PoolConfig) GetQueueSize() int {
	if p == nil || p.QueueSize <= 0 {
		return 4 * p.GetSize()
	}
	return p.QueueSize
}

// GetShutdownTimeout parses the shutdown timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (p *PoolConfig) GetShutdownTimeout() time.Duration {
	if p == nil {
		return 5 * time.Second
	}
	return parseDuration(p.ShutdownTimeout, 5*time.Second)
}

// EncoderConfig tunes the batching encoder pipeline.
type EncoderConfig struct {
	// BatchSize is the maximum number of texts per encode call.
	// Default: 10
	BatchSize int `yaml:"batch_size,omitempty"`

	// MaxWait is the initial time a partial batch waits for more jobs.
	// Default: 1s
	MaxWait string `yaml:"max_wait,omitempty"`

	// MinWait and MaxWaitCeiling bound the adaptive wait.
	// Defaults: 50ms and 1s
	MinWait        string `yaml:"min_wait,omitempty"`
	MaxWaitCeiling string `yaml:"max_wait_ceiling,omitempty"`

	// MonitorInterval is how often the wait is adjusted.
	// Default: 2s
	MonitorInterval string `yaml:"monitor_interval,omitempty"`

	// HighFrequency and LowFrequency are the request rates per second
	// that shrink or grow the wait.
	// Defaults: 8 and 3
	HighFrequency float64 `yaml:"high_frequency,omitempty"`
	LowFrequency  float64 `yaml:"low_frequency,omitempty"`

	// GrowFactor and ShrinkFactor scale the wait.
	// Defaults: 1.1 and 0.7
	GrowFactor   float64 `yaml:"grow_factor,omitempty"`
	ShrinkFactor float64 `yaml:"shrink_factor,omitempty"`

	// MaxRetries is the number of times a failed batch is retried.
	// Default: 0 (no retries)
	MaxRetries int `yaml:"max_retries,omitempty"`

	// QueueThreshold is the queue length above which the pipeline is
	// reported degraded. Default: 100
	QueueThreshold int `yaml:"queue_threshold,omitempty"`
}

// GetBatchSize returns the configured batch size or the default value.
func (e *EncoderConfig) GetBatchSize() int {
	if e == nil || e.BatchSize <= 0 {
		return encoder.DefaultBatchSize
	}
	return e.BatchSize
}

// GetMaxWait returns the initial wait or the default value.
func (e *EncoderConfig) GetMaxWait() time.Duration {
	if e == nil {
		return encoder.DefaultMaxWait
	}
	return parseDuration(e.MaxWait, encoder.DefaultMaxWait)
}

// GetWaitBounds returns the adaptive wait bounds.
func (e *EncoderConfig) GetWaitBounds() (minWait, maxWait time.Duration) {
	if e == nil {
		return encoder.DefaultMinWait, encoder.DefaultMaxWaitCeiling
	}
	return parseDuration(e.MinWait, encoder.DefaultMinWait), parseDuration(e.MaxWaitCeiling, encoder.DefaultMaxWaitCeiling)
}

// GetMonitorInterval returns the adjustment interval or the default value.
func (e *EncoderConfig) GetMonitorInterval() time.Duration {
	if e == nil {
		return encoder.DefaultMonitorInterval
	}
	return parseDuration(e.MonitorInterval, encoder.DefaultMonitorInterval)
}

// GetFrequencyBand returns the low and high request rates.
func (e *EncoderConfig) GetFrequencyBand() (low, high float64) {
	low, high = encoder.DefaultLowFrequency, encoder.DefaultHighFrequency
	if e == nil {
		return low, high
	}
	if e.LowFrequency > 0 {
		low = e.LowFrequency
	}
	if e.HighFrequency > 0 {
		high = e.HighFrequency
	}
	return low, high
}

// GetAdjustFactors returns the grow and shrink factors.
func (e *EncoderConfig) GetAdjustFactors() (grow, shrink float64) {
	grow, shrink = encoder.DefaultGrowFactor, encoder.DefaultShrinkFactor
	if e == nil {
		return grow, shrink
	}
	if e.GrowFactor > 0 {
		grow = e.GrowFactor
	}
	if e.ShrinkFactor > 0 {
		shrink = e.ShrinkFactor
	}
	return grow, shrink
}

// GetMaxRetries returns the retry count, never negative.
func (e *EncoderConfig) GetMaxRetries() int {
	if e == nil || e.MaxRetries < 0 {
		return 0
	}
	return e.MaxRetries
}

// GetQueueThreshold returns the degraded threshold or the default value.
func (e *EncoderConfig) GetQueueThreshold() int {
	if e == nil || e.QueueThreshold <= 0 {
		return 100
	}
	return e.QueueThreshold
}

// Options converts the section into encoder options.
func (e *EncoderConfig) Options() []encoder.Option {
	minWait, maxWait := e.GetWaitBounds()
	low, high := e.GetFrequencyBand()
	grow, shrink := e.GetAdjustFactors()
	return []encoder.Option{
		encoder.WithBatchSize(e.GetBatchSize()),
		encoder.WithWaitBounds(minWait, maxWait),
		encoder.WithMaxWait(e.GetMaxWait()),
		encoder.WithMonitorInterval(e.GetMonitorInterval()),
		encoder.WithFrequencyBand(low, high),
		encoder.WithAdjustFactors(grow, shrink),
		encoder.WithMaxRetries(e.GetMaxRetries()),
	}
}

// TierConfig sizes one embedding tier.
type TierConfig struct {
	Capacity int `yaml:"capacity,omitempty"`

	// Retrieve is the number of items returned by prompt lookups.
	// Default: 2
	Retrieve int `yaml:"retrieve,omitempty"`

	// Forgetting toggles similarity-based eviction.
	// Default: true
	Forgetting *bool `yaml:"forgetting,omitempty"`

	// ForgettingThreshold is the cosine similarity that evicts.
	// Default: 0.9
	ForgettingThreshold float64 `yaml:"forgetting_threshold,omitempty"`
}

func (t *TierConfig) apply(dst *memory.EmbeddingConfig) {
	if t == nil {
		return
	}
	if t.Capacity > 0 {
		dst.Capacity = t.Capacity
	}
	if t.Retrieve > 0 {
		dst.Retrieve = t.Retrieve
	}
	if t.Forgetting != nil {
		dst.Forgetting = *t.Forgetting
	}
	if t.ForgettingThreshold > 0 {
		dst.ForgettingThreshold = t.ForgettingThreshold
	}
}

// MemoryConfig sizes the memory hierarchy.
type MemoryConfig struct {
	// ObservationCapacity bounds the observation buffer.
	// Default: 1000
	ObservationCapacity int `yaml:"observation_capacity,omitempty"`

	// ObservationDelay is how long an observation stays buffered.
	// Default: 1m
	ObservationDelay string `yaml:"observation_delay,omitempty"`

	// WorkingCapacity bounds working memory.
	// Default: 10
	WorkingCapacity int `yaml:"working_capacity,omitempty"`

	// Recent and Long tune the embedding tiers.
	// Default capacities: 20 and 1000
	Recent *TierConfig `yaml:"recent,omitempty"`
	Long   *TierConfig `yaml:"long,omitempty"`

	// TickLimit is the number of summaries between recent memory writes.
	// Default: 5
	TickLimit int `yaml:"tick_limit,omitempty"`

	// ClusterEps is the consolidation clustering radius.
	// Default: 0.5
	ClusterEps float64 `yaml:"cluster_eps,omitempty"`

	// QueryTimeout bounds embedding lookups.
	// Default: 5s
	QueryTimeout string `yaml:"query_timeout,omitempty"`

	// InsertTimeout bounds how long consolidation waits for its entries to
	// be embedded into long-term memory.
	// Default: 30s
	InsertTimeout string `yaml:"insert_timeout,omitempty"`

	// Nonce lists summaries treated as empty.
	Nonce []string `yaml:"nonce,omitempty"`
}

// GetObservationDelay returns the buffer delay or the default value.
func (m *MemoryConfig) GetObservationDelay() time.Duration {
	if m == nil {
		return memory.DefaultObservationDelay
	}
	return parseDuration(m.ObservationDelay, memory.DefaultObservationDelay)
}

// GetQueryTimeout returns the lookup timeout or the default value.
func (m *MemoryConfig) GetQueryTimeout() time.Duration {
	if m == nil {
		return memory.DefaultQueryTimeout
	}
	return parseDuration(m.QueryTimeout, memory.DefaultQueryTimeout)
}

// GetInsertTimeout returns the consolidation insert timeout or the default value.
func (m *MemoryConfig) GetInsertTimeout() time.Duration {
	if m == nil {
		return memory.DefaultInsertTimeout
	}
	return parseDuration(m.InsertTimeout, memory.DefaultInsertTimeout)
}

// ToMemory converts the section into a memory.Config on top of the defaults.
func (m *MemoryConfig) ToMemory() memory.Config {
	cfg := memory.DefaultConfig()
	if m == nil {
		return cfg
	}
	if m.ObservationCapacity > 0 {
		cfg.ObservationCapacity = m.ObservationCapacity
	}
	cfg.ObservationDelay = m.GetObservationDelay()
	if m.WorkingCapacity > 0 {
		cfg.WorkingCapacity = m.WorkingCapacity
	}
	m.Recent.apply(&cfg.Recent)
	m.Long.apply(&cfg.Long)
	cfg.Recent.QueryTimeout = m.GetQueryTimeout()
	cfg.Long.QueryTimeout = m.GetQueryTimeout()
	cfg.Recent.InsertTimeout = m.GetInsertTimeout()
	cfg.Long.InsertTimeout = m.GetInsertTimeout()
	if m.TickLimit > 0 {
		cfg.TickLimit = m.TickLimit
	}
	if m.ClusterEps > 0 {
		cfg.ClusterEps = m.ClusterEps
	}
	if len(m.Nonce) > 0 {
		cfg.Nonce = append([]string(nil), m.Nonce...)
	}
	return cfg
}

// SlowFastConfig sets the dual-speed task timeouts.
type SlowFastConfig struct {
	// CompletionTimeout bounds how long a finished computation's outcome may
	// stay unreadable before it is abandoned.
	// Default: 5s
	CompletionTimeout string `yaml:"completion_timeout,omitempty"`

	// IncompletionTimeout bounds how long slow work may run.
	// Default: 10s
	IncompletionTimeout string `yaml:"incompletion_timeout,omitempty"`
}

// GetCompletionTimeout returns the completion timeout or the default value.
func (s *SlowFastConfig) GetCompletionTimeout() time.Duration {
	if s == nil {
		return slowfast.DefaultCompletionTimeout
	}
	return parseDuration(s.CompletionTimeout, slowfast.DefaultCompletionTimeout)
}

// GetIncompletionTimeout returns the incompletion timeout or the default value.
func (s *SlowFastConfig) GetIncompletionTimeout() time.Duration {
	if s == nil {
		return slowfast.DefaultIncompletionTimeout
	}
	return parseDuration(s.IncompletionTimeout, slowfast.DefaultIncompletionTimeout)
}

// AgentConfig tunes per-agent behaviour shared by every agent of a runtime.
type AgentConfig struct {
	// Suspend is the minimum time between slow action selections.
	Suspend string `yaml:"suspend,omitempty"`

	// SummaryInterval is the minimum time between summaries.
	SummaryInterval string `yaml:"summary_interval,omitempty"`

	// ProbBoredom is the chance per tick to select without a new event.
	ProbBoredom float64 `yaml:"prob_boredom,omitempty"`

	// AlwaysRunSlow makes every tick eligible for slow selection.
	AlwaysRunSlow bool `yaml:"always_run_slow,omitempty"`

	// Expiry is how long an option may run before it is abandoned.
	// Default: 1m
	Expiry string `yaml:"expiry,omitempty"`

	// TimeBasedEvents enables expiry.
	TimeBasedEvents bool `yaml:"time_based_events,omitempty"`

	// Repetition detection. Defaults: 20 outputs, 0.9 similarity, 3 repeats.
	RepetitionHistory   int     `yaml:"repetition_history,omitempty"`
	RepetitionThreshold float64 `yaml:"repetition_threshold,omitempty"`
	MaxRepeats          int     `yaml:"max_repeats,omitempty"`

	// InitialOption and InitialGoal set the starting option.
	// Default: cognitive_controller
	InitialOption string `yaml:"initial_option,omitempty"`
	InitialGoal   string `yaml:"initial_goal,omitempty"`
}

// GetSuspend returns the suspend duration, zero when unset.
func (a *AgentConfig) GetSuspend() time.Duration {
	if a == nil {
		return 0
	}
	return parseDuration(a.Suspend, 0)
}

// GetSummaryInterval returns the summary interval, zero when unset.
func (a *AgentConfig) GetSummaryInterval() time.Duration {
	if a == nil {
		return 0
	}
	return parseDuration(a.SummaryInterval, 0)
}

// GetExpiry returns the option expiry or the default value.
func (a *AgentConfig) GetExpiry() time.Duration {
	if a == nil {
		return agent.DefaultExpiry
	}
	return parseDuration(a.Expiry, agent.DefaultExpiry)
}

// GetInitialOption returns the starting option state.
func (a *AgentConfig) GetInitialOption() option.State {
	if a == nil || a.InitialOption == "" {
		return option.State{OptionName: option.CognitiveController}
	}
	return option.State{OptionName: a.InitialOption, OptionGoal: a.InitialGoal}
}

// OptionsConfig tunes the option gate.
type OptionsConfig struct {
	// Latency is the default turn-taking pause in ticks.
	// Default: 5
	Latency int `yaml:"latency,omitempty"`

	// Rules maps an option to the options its activation disables.
	Rules map[string][]string `yaml:"rules,omitempty"`
}

// GetLatency returns the latency or the default value.
func (o *OptionsConfig) GetLatency() int {
	if o == nil || o.Latency <= 0 {
		return option.DefaultLatency
	}
	return o.Latency
}

// StoreConfig configures snapshot persistence. An empty URL disables it.
type StoreConfig struct {
	URL            string `yaml:"url,omitempty"`
	Prefix         string `yaml:"prefix,omitempty"`
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
	ReadTimeout    string `yaml:"read_timeout,omitempty"`
	WriteTimeout   string `yaml:"write_timeout,omitempty"`

	// SaveOnClose persists every agent's memory when the runtime closes.
	SaveOnClose bool `yaml:"save_on_close,omitempty"`
}

// Enabled reports whether a store URL is configured.
func (s *StoreConfig) Enabled() bool {
	return s != nil && s.URL != ""
}

// RedisOptions converts the section into store options. Unset timeouts are
// left zero so the store applies its own defaults.
func (s *StoreConfig) RedisOptions() store.RedisOptions {
	if s == nil {
		return store.RedisOptions{}
	}
	return store.RedisOptions{
		URL:            s.URL,
		Prefix:         s.Prefix,
		ConnectTimeout: parseDuration(s.ConnectTimeout, 0),
		ReadTimeout:    parseDuration(s.ReadTimeout, 0),
		WriteTimeout:   parseDuration(s.WriteTimeout, 0),
	}
}

// ApplyAgent copies the agent, options and slowfast sections onto an agent
// builder.
func (c *Config) ApplyAgent(b *agent.Config) *agent.Config {
	a := c.Agent
	b.SetTimeouts(c.SlowFast.GetCompletionTimeout(), c.SlowFast.GetIncompletionTimeout()).
		SetLatency(c.Options.GetLatency()).
		SetExpiry(a.GetExpiry(), a != nil && a.TimeBasedEvents).
		SetSuspend(a.GetSuspend()).
		SetSummaryInterval(a.GetSummaryInterval()).
		SetInitialOption(a.GetInitialOption())
	if a != nil {
		b.SetBoredom(a.ProbBoredom).
			SetAlwaysRunSlow(a.AlwaysRunSlow).
			SetRepetition(a.RepetitionHistory, a.RepetitionThreshold, a.MaxRepeats)
	}
	if c.Options != nil {
		for name, disables := range c.Options.Rules {
			b.AddRule(name, disables...)
		}
	}
	return b
}

// Default returns a configuration with every section present and empty,
// so every accessor yields its default.
func Default() *Config {
	return &Config{
		Pool:     &PoolConfig{},
		Encoder:  &EncoderConfig{},
		Memory:   &MemoryConfig{},
		SlowFast: &SlowFastConfig{},
		Agent:    &AgentConfig{},
		Options:  &OptionsConfig{},
		Store:    &StoreConfig{},
	}
}

// Validate reports every invalid field. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	checkDuration := func(field, value string) {
		if value == "" {
			return
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			bad("%s: %q is not a valid duration", field, value)
		}
	}

	if p := c.Pool; p != nil {
		if p.Size < 0 {
			bad("pool.size must not be negative")
		}
		checkDuration("pool.shutdown_timeout", p.ShutdownTimeout)
	}
	if e := c.Encoder; e != nil {
		checkDuration("encoder.max_wait", e.MaxWait)
		checkDuration("encoder.min_wait", e.MinWait)
		checkDuration("encoder.max_wait_ceiling", e.MaxWaitCeiling)
		checkDuration("encoder.monitor_interval", e.MonitorInterval)
		minWait, maxWait := e.GetWaitBounds()
		if minWait > maxWait {
			bad("encoder.min_wait %s exceeds max_wait_ceiling %s", minWait, maxWait)
		}
		if low, high := e.GetFrequencyBand(); low > high {
			bad("encoder.low_frequency %g exceeds high_frequency %g", low, high)
		}
		if e.MaxRetries < 0 {
			bad("encoder.max_retries must not be negative")
		}
	}
	if m := c.Memory; m != nil {
		checkDuration("memory.observation_delay", m.ObservationDelay)
		checkDuration("memory.query_timeout", m.QueryTimeout)
		checkDuration("memory.insert_timeout", m.InsertTimeout)
		for name, t := range map[string]*TierConfig{"recent": m.Recent, "long": m.Long} {
			if t != nil && t.ForgettingThreshold > 1 {
				bad("memory.%s.forgetting_threshold must be at most 1", name)
			}
		}
	}
	if s := c.SlowFast; s != nil {
		checkDuration("slowfast.completion_timeout", s.CompletionTimeout)
		checkDuration("slowfast.incompletion_timeout", s.IncompletionTimeout)
	}
	if a := c.Agent; a != nil {
		checkDuration("agent.suspend", a.Suspend)
		checkDuration("agent.summary_interval", a.SummaryInterval)
		checkDuration("agent.expiry", a.Expiry)
		if a.ProbBoredom < 0 || a.ProbBoredom > 1 {
			bad("agent.prob_boredom must be within [0, 1]")
		}
		if a.RepetitionThreshold < 0 || a.RepetitionThreshold > 1 {
			bad("agent.repetition_threshold must be within [0, 1]")
		}
	}
	if s := c.Store; s != nil {
		checkDuration("store.connect_timeout", s.ConnectTimeout)
		checkDuration("store.read_timeout", s.ReadTimeout)
		checkDuration("store.write_timeout", s.WriteTimeout)
	}
	return errors.Join(errs...)
}

// Parse decodes YAML into a Config and validates it.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Load reads and parses a lyfe.yaml file from the given path.
// If the path is a directory, it looks for lyfe.yaml or lyfe.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"lyfe.yaml", "lyfe.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no lyfe.yaml or lyfe.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
