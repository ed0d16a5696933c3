package encoder

import (
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Defaults for the batching pipeline.
const (
	DefaultBatchSize       = 10
	DefaultMaxWait         = time.Second
	DefaultMinWait         = 50 * time.Millisecond
	DefaultMaxWaitCeiling  = time.Second
	DefaultMonitorInterval = 2 * time.Second
	DefaultHighFrequency   = 8.0
	DefaultLowFrequency    = 3.0
	DefaultGrowFactor      = 1.1
	DefaultShrinkFactor    = 0.7
	DefaultSmoothing       = 0.5
	DefaultQueryTimeout    = 5 * time.Second
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	batchSize       int
	maxWait         time.Duration
	minWait         time.Duration
	maxWaitCeiling  time.Duration
	monitorInterval time.Duration
	highFrequency   float64
	lowFrequency    float64
	growFactor      float64
	shrinkFactor    float64
	smoothing       float64
	maxRetries      int
	clock           clockwork.Clock
	logger          *slog.Logger
	meter           metric.Meter
	tracer          trace.Tracer
}

func defaultOptions() *options {
	return &options{
		batchSize:       DefaultBatchSize,
		maxWait:         DefaultMaxWait,
		minWait:         DefaultMinWait,
		maxWaitCeiling:  DefaultMaxWaitCeiling,
		monitorInterval: DefaultMonitorInterval,
		highFrequency:   DefaultHighFrequency,
		lowFrequency:    DefaultLowFrequency,
		growFactor:      DefaultGrowFactor,
		shrinkFactor:    DefaultShrinkFactor,
		smoothing:       DefaultSmoothing,
		clock:           clockwork.NewRealClock(),
		meter:           metricnoop.NewMeterProvider().Meter("encoder"),
		tracer:          tracenoop.NewTracerProvider().Tracer("encoder"),
	}
}

// WithBatchSize sets the maximum number of jobs per encode call.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithMaxWait sets the initial wait budget for forming a non-full batch.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

// WithWaitBounds sets the range the adaptive controller keeps the wait budget in.
func WithWaitBounds(minWait, maxWait time.Duration) Option {
	return func(o *options) {
		if minWait > 0 && maxWait >= minWait {
			o.minWait = minWait
			o.maxWaitCeiling = maxWait
		}
	}
}

// WithMonitorInterval sets how often the wait budget is re-evaluated.
func WithMonitorInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.monitorInterval = d
		}
	}
}

// WithFrequencyBand sets the request rates (per second) above which the wait
// budget grows and below which it shrinks. Rates in between leave it unchanged.
func WithFrequencyBand(low, high float64) Option {
	return func(o *options) {
		if low >= 0 && high >= low {
			o.lowFrequency = low
			o.highFrequency = high
		}
	}
}

// WithAdjustFactors sets the multiplicative grow and shrink factors.
func WithAdjustFactors(grow, shrink float64) Option {
	return func(o *options) {
		if grow >= 1 && shrink > 0 && shrink <= 1 {
			o.growFactor = grow
			o.shrinkFactor = shrink
		}
	}
}

// WithSmoothing sets the EWMA weight given to the newest frequency sample.
// 1 disables smoothing.
func WithSmoothing(alpha float64) Option {
	return func(o *options) {
		if alpha > 0 && alpha <= 1 {
			o.smoothing = alpha
		}
	}
}

// WithMaxRetries sets how many times a failed encode call is retried before
// the batch is dropped. The default 0 means at-most-once.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithClock sets the clock used for batch deadlines and the monitor ticker.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMeterProvider records batch metrics on the given provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meter = mp.Meter("encoder")
		}
	}
}

// WithTracerProvider traces encode calls on the given provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer("encoder")
		}
	}
}

func (o *options) resolveLogger() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
