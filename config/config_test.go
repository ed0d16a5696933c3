package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
	"github.com/metaconsciousgroup/lyfe-agent-paper/slowfast"
)

const sampleYAML = `
pool:
  size: 8
  shutdown_timeout: 2s
encoder:
  batch_size: 32
  max_wait: 200ms
  min_wait: 10ms
  max_wait_ceiling: 500ms
  max_retries: 2
memory:
  working_capacity: 12
  recent:
    capacity: 30
    forgetting: false
  long:
    forgetting_threshold: 0.95
  tick_limit: 3
  query_timeout: 1s
  insert_timeout: 10s
slowfast:
  completion_timeout: 3s
agent:
  prob_boredom: 0.1
  expiry: 90s
  time_based_events: true
  initial_option: reflect
  initial_goal: plan the day
options:
  latency: 7
  rules:
    message: [talk]
store:
  url: redis://localhost:6379/2
  read_timeout: 2s
`

func TestDefaults(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil sections", &Config{}},
		{"empty sections", Default()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cfg
			assert.Equal(t, 4, c.Pool.GetSize())
			assert.Equal(t, 16, c.Pool.GetQueueSize())
			assert.Equal(t, 5*time.Second, c.Pool.GetShutdownTimeout())

			assert.Equal(t, 10, c.Encoder.GetBatchSize())
			assert.Equal(t, time.Second, c.Encoder.GetMaxWait())
			minWait, maxWait := c.Encoder.GetWaitBounds()
			assert.Equal(t, 50*time.Millisecond, minWait)
			assert.Equal(t, time.Second, maxWait)
			assert.Equal(t, 2*time.Second, c.Encoder.GetMonitorInterval())
			low, high := c.Encoder.GetFrequencyBand()
			assert.Equal(t, 3.0, low)
			assert.Equal(t, 8.0, high)
			grow, shrink := c.Encoder.GetAdjustFactors()
			assert.Equal(t, 1.1, grow)
			assert.Equal(t, 0.7, shrink)
			assert.Zero(t, c.Encoder.GetMaxRetries())
			assert.Len(t, c.Encoder.Options(), 7)

			assert.Equal(t, memory.DefaultConfig(), c.Memory.ToMemory())

			assert.Equal(t, slowfast.DefaultCompletionTimeout, c.SlowFast.GetCompletionTimeout())
			assert.Equal(t, slowfast.DefaultIncompletionTimeout, c.SlowFast.GetIncompletionTimeout())

			assert.Equal(t, time.Minute, c.Agent.GetExpiry())
			assert.Zero(t, c.Agent.GetSuspend())
			assert.Equal(t, option.State{OptionName: option.CognitiveController}, c.Agent.GetInitialOption())
			assert.Equal(t, option.DefaultLatency, c.Options.GetLatency())

			assert.False(t, c.Store.Enabled())
			assert.NoError(t, c.Validate())
		})
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 8, c.Pool.GetSize())
	assert.Equal(t, 32, c.Pool.GetQueueSize())
	assert.Equal(t, 2*time.Second, c.Pool.GetShutdownTimeout())
	assert.Equal(t, 32, c.Encoder.GetBatchSize())
	assert.Equal(t, 200*time.Millisecond, c.Encoder.GetMaxWait())
	assert.Equal(t, 2, c.Encoder.GetMaxRetries())

	mem := c.Memory.ToMemory()
	assert.Equal(t, 12, mem.WorkingCapacity)
	assert.Equal(t, 30, mem.Recent.Capacity)
	assert.False(t, mem.Recent.Forgetting)
	assert.True(t, mem.Long.Forgetting)
	assert.Equal(t, 0.95, mem.Long.ForgettingThreshold)
	assert.Equal(t, memory.DefaultLongCapacity, mem.Long.Capacity)
	assert.Equal(t, 3, mem.TickLimit)
	assert.Equal(t, time.Second, mem.Recent.QueryTimeout)
	assert.Equal(t, 10*time.Second, mem.Long.InsertTimeout)

	assert.Equal(t, 3*time.Second, c.SlowFast.GetCompletionTimeout())
	assert.Equal(t, slowfast.DefaultIncompletionTimeout, c.SlowFast.GetIncompletionTimeout())
	assert.Equal(t, 90*time.Second, c.Agent.GetExpiry())
	assert.Equal(t, option.State{OptionName: "reflect", OptionGoal: "plan the day"}, c.Agent.GetInitialOption())
	assert.Equal(t, 7, c.Options.GetLatency())
	assert.Equal(t, []string{"talk"}, c.Options.Rules["message"])

	require.True(t, c.Store.Enabled())
	opts := c.Store.RedisOptions()
	assert.Equal(t, "redis://localhost:6379/2", opts.URL)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Zero(t, opts.ConnectTimeout)
}

func TestInvalidDurationFallsBack(t *testing.T) {
	p := &PoolConfig{ShutdownTimeout: "soon"}
	assert.Equal(t, 5*time.Second, p.GetShutdownTimeout())

	err := (&Config{Pool: p}).Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "pool.shutdown_timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{
			name:    "negative pool",
			cfg:     &Config{Pool: &PoolConfig{Size: -1}},
			wantErr: "pool.size",
		},
		{
			name:    "inverted wait bounds",
			cfg:     &Config{Encoder: &EncoderConfig{MinWait: "2s", MaxWaitCeiling: "1s"}},
			wantErr: "encoder.min_wait",
		},
		{
			name:    "inverted frequency band",
			cfg:     &Config{Encoder: &EncoderConfig{LowFrequency: 9, HighFrequency: 2}},
			wantErr: "encoder.low_frequency",
		},
		{
			name:    "boredom above one",
			cfg:     &Config{Agent: &AgentConfig{ProbBoredom: 1.5}},
			wantErr: "agent.prob_boredom",
		},
		{
			name:    "forgetting threshold above one",
			cfg:     &Config{Memory: &MemoryConfig{Recent: &TierConfig{ForgettingThreshold: 2}}},
			wantErr: "memory.recent.forgetting_threshold",
		},
		{
			name:    "negative duration",
			cfg:     &Config{SlowFast: &SlowFastConfig{IncompletionTimeout: "-1s"}},
			wantErr: "slowfast.incompletion_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 8, c.Pool.GetSize())
	})

	t.Run("directory with lyfe.yml", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "lyfe.yml"), []byte("pool:\n  size: 2\n"), 0o644))
		c, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, 2, c.Pool.GetSize())
	})

	t.Run("lyfe.yaml preferred", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "lyfe.yaml"), []byte("pool:\n  size: 3\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "lyfe.yml"), []byte("pool:\n  size: 2\n"), 0o644))
		c, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, 3, c.Pool.GetSize())
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := Load(t.TempDir())
		assert.ErrorContains(t, err, "no lyfe.yaml or lyfe.yml found")
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorContains(t, err, "failed to stat path")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lyfe.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pool: [1, 2"), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lyfe.yaml")
		require.NoError(t, os.WriteFile(path, []byte("agent:\n  prob_boredom: 3\n"), 0o644))
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
