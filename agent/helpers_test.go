package agent

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metaconsciousgroup/lyfe-agent-paper/action"
	"github.com/metaconsciousgroup/lyfe-agent-paper/encoder"
	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
	"github.com/metaconsciousgroup/lyfe-agent-paper/pool"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// syncEncoder embeds on the caller's goroutine with a text-seeded vector.
type syncEncoder struct{}

func textVector(text string) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	r := rand.New(rand.NewPCG(h.Sum64(), 11))
	v := make([]float64, 16)
	for i := range v {
		v[i] = r.NormFloat64()
	}
	return v
}

func (syncEncoder) EnqueueInsert(owner encoder.Owner, key string, value any) error {
	owner.Lock()
	defer owner.Unlock()
	owner.FillEncoded(key, textVector(key), value)
	return nil
}

func (syncEncoder) Query(ctx context.Context, text string, timeout time.Duration) ([]float64, bool) {
	return textVector(text), true
}

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Options{Size: 4, Logger: newTestLogger()})
	t.Cleanup(func() { _ = p.Close(time.Second) })
	return p
}

func joinSummary(ctx context.Context, items []string) (llm.Completion, error) {
	return llm.NewCompletion(strings.Join(items, " "), 1), nil
}

func newTestMemory(t *testing.T, p *pool.Pool, cfg memory.Config) *memory.Manager {
	t.Helper()
	return memory.NewManager("Alice Smith", cfg, syncEncoder{}, joinSummary, p, memory.WithLogger(newTestLogger()))
}

func talkExecutor(text string) action.Executor {
	return action.ExecutorFunc(func(ctx context.Context, obs action.Observation, st action.State) (action.Result, error) {
		return action.Result{
			Action: action.Action{Kind: action.KindTalk, Text: text},
			Memory: action.MemoryInput{"talk": "Alice Smith says: " + text},
			Usage:  llm.TokenUsage{InputTokens: 10, OutputTokens: 3, TotalTokens: 13},
		}, nil
	})
}

func mustRegistry(t *testing.T, executors map[string]action.Executor) *action.Registry {
	t.Helper()
	r, err := action.NewRegistry(executors)
	require.NoError(t, err)
	return r
}

func decideTo(name, goal string) DecideFunc {
	return func(ctx context.Context, st action.State) (option.State, llm.TokenUsage, error) {
		return option.State{OptionName: name, OptionGoal: goal}, llm.TokenUsage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7}, nil
	}
}

// blockingDecide never returns until its context is cancelled.
func blockingDecide(ctx context.Context, st action.State) (option.State, llm.TokenUsage, error) {
	<-ctx.Done()
	return option.State{}, llm.TokenUsage{}, ctx.Err()
}

func baseConfig(t *testing.T, p *pool.Pool, mem *memory.Manager, registry *action.Registry, decide DecideFunc) *Config {
	t.Helper()
	return NewConfig().
		SetName("Alice Smith").
		SetRegistry(registry).
		SetDecideFunc(decide).
		SetMemory(mem).
		SetPool(p).
		SetTracker(llm.NewLedger().For("Alice Smith"))
}
