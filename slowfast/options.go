package slowfast

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

const (
	// DefaultCompletionTimeout bounds how long a finished computation's
	// outcome may stay unreadable before the computation is abandoned.
	DefaultCompletionTimeout = 5 * time.Second

	// DefaultIncompletionTimeout is how long a slow task may run before it is
	// cancelled.
	DefaultIncompletionTimeout = 10 * time.Second

	// timeoutLogInterval rate-limits repeated incompletion warnings.
	timeoutLogInterval = 10 * time.Second
)

// Option configures a Task.
type Option func(*options)

type options struct {
	clock               clockwork.Clock
	logger              *slog.Logger
	completionTimeout   time.Duration
	incompletionTimeout time.Duration
	jitter              time.Duration
	enabled             bool
	logIO               bool
	meter               metric.Meter
	tracer              trace.Tracer
}

func defaultOptions() *options {
	return &options{
		clock:               clockwork.NewRealClock(),
		completionTimeout:   DefaultCompletionTimeout,
		incompletionTimeout: DefaultIncompletionTimeout,
		enabled:             true,
		meter:               metricnoop.NewMeterProvider().Meter("slowfast"),
		tracer:              tracenoop.NewTracerProvider().Tracer("slowfast"),
	}
}

// WithClock sets the clock used for submission timestamps and timeouts.
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

// WithCompletionTimeout overrides DefaultCompletionTimeout.
func WithCompletionTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.completionTimeout = d
		}
	}
}

// WithIncompletionTimeout overrides DefaultIncompletionTimeout.
func WithIncompletionTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.incompletionTimeout = d
		}
	}
}

// WithJitter offsets the initial submission time by a uniform random amount
// in [-d, d] so that many agents started together do not submit in lockstep.
func WithJitter(d time.Duration) Option {
	return func(o *options) {
		o.jitter = d
	}
}

// WithEnabled turns the slow path on or off. A disabled task always answers
// with the fast function.
func WithEnabled(enabled bool) Option {
	return func(o *options) {
		o.enabled = enabled
	}
}

// WithIOLog records every delivered slow input/output pair.
func WithIOLog() Option {
	return func(o *options) {
		o.logIO = true
	}
}

// WithMeterProvider records task outcomes on the given provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meter = mp.Meter("slowfast")
		}
	}
}

// WithTracerProvider traces slow calls on the given provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer("slowfast")
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
