package lyfe

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/metaconsciousgroup/lyfe-agent-paper/config"
	"github.com/metaconsciousgroup/lyfe-agent-paper/store"
)

// Option configures a Runtime.
type Option func(*runtimeConfig)

type runtimeConfig struct {
	configPath string
	config     *config.Config
	logger     *slog.Logger
	meter      metric.MeterProvider
	tracer     trace.TracerProvider
	clock      clockwork.Clock
	store      store.Store
	poolSize   int
}

// WithConfigFile loads configuration from a lyfe.yaml file or a directory
// containing one.
func WithConfigFile(path string) Option {
	return func(c *runtimeConfig) {
		c.configPath = path
	}
}

// WithConfig sets an already parsed configuration. It takes precedence
// over WithConfigFile.
func WithConfig(cfg *config.Config) Option {
	return func(c *runtimeConfig) {
		c.config = cfg
	}
}

// WithLogger sets a custom logger for the runtime and everything it builds.
// If not provided, a JSON logger on stdout is created.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runtimeConfig) {
		c.logger = logger
	}
}

// WithMeterProvider enables metrics. Defaults to a noop provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *runtimeConfig) {
		c.meter = mp
	}
}

// WithTracerProvider enables tracing. Defaults to a noop provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *runtimeConfig) {
		c.tracer = tp
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *runtimeConfig) {
		c.clock = clock
	}
}

// WithStore sets the snapshot store. The runtime does not close a store
// it was given.
func WithStore(s store.Store) Option {
	return func(c *runtimeConfig) {
		c.store = s
	}
}

// WithPoolSize overrides pool.size from the configuration.
func WithPoolSize(n int) Option {
	return func(c *runtimeConfig) {
		c.poolSize = n
	}
}
