package lyfe

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/metaconsciousgroup/lyfe-agent-paper/config"
)

// Sentinel errors for common runtime error conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = config.ErrInvalidConfig

	// ErrClosed indicates the runtime has been closed.
	ErrClosed = errors.New("runtime closed")

	// ErrTimeout indicates an operation did not finish in time.
	ErrTimeout = errors.New("operation timed out")

	// ErrEncodeFailed indicates the embedding function failed.
	ErrEncodeFailed = errors.New("encode failed")

	// ErrSummarizeFailed indicates the summarizer failed.
	ErrSummarizeFailed = errors.New("summarize failed")

	// ErrDecideFailed indicates the option decision function failed.
	ErrDecideFailed = errors.New("decide failed")

	// ErrDuplicateAgent indicates an agent name is already in use.
	ErrDuplicateAgent = errors.New("duplicate agent")
)

// Error kinds categorize errors by their type.
const (
	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindExecution represents errors that occur while running agents.
	KindExecution = "execution"

	// KindTimeout represents errors related to operation timeouts.
	KindTimeout = "timeout"

	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindStorage represents errors from the snapshot store.
	KindStorage = "storage"

	// KindInternal represents internal runtime errors.
	KindInternal = "internal"
)

// Error is a structured error type that wraps underlying errors with
// additional context about the operation that failed and the category of error.
//
// Error supports errors.Is() and errors.As():
//
//	err := &Error{
//		Op:   "Runtime.NewAgent",
//		Kind: KindValidation,
//		Err:  ErrDuplicateAgent,
//	}
//	errors.Is(err, ErrDuplicateAgent)           // true
//	errors.Is(err, &Error{Kind: KindValidation}) // true
type Error struct {
	// Op is the operation that failed (e.g., "Runtime.New").
	Op string

	// Kind categorizes the error (e.g., KindStorage).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context carries debugging values such as the agent name.
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("lyfe: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("lyfe: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("lyfe: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a target *Error by Kind, and by Op when the target sets one.
// Other targets are compared against the underlying error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of e with ctx merged into its context.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	newErr.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		newErr.Context[k] = v
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

func newError(op, kind string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. If logger is nil, slog.Default() is used.
//
//	defer lyfe.CloseWithLog(s, logger, "snapshot store")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
