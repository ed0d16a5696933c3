package agent

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaconsciousgroup/lyfe-agent-paper/action"
	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
	"github.com/metaconsciousgroup/lyfe-agent-paper/slowfast"
)

func TestConfig_Validate(t *testing.T) {
	err := NewConfig().SetBoredom(2).Validate()
	require.Error(t, err)
	for _, want := range []string{"name", "registry", "decide", "memory", "pool", "boredom"} {
		assert.Contains(t, err.Error(), want)
	}

	_, err = New(NewConfig())
	assert.ErrorContains(t, err, "invalid agent config")
}

func TestAgent_ControllerThenSelectionProducesTalk(t *testing.T) {
	p := newTestPool(t)
	mem := newTestMemory(t, p, memory.DefaultConfig())
	registry := mustRegistry(t, map[string]action.Executor{"talk": talkExecutor("hi Bob")})
	a, err := New(baseConfig(t, p, mem, registry, decideTo("talk", "greet Bob")), WithLogger(newTestLogger()))
	require.NoError(t, err)

	ctx := context.Background()
	var got action.Action
	require.Eventually(t, func() bool {
		got = a.Tick(ctx, action.Observation{"time": "9:00", "visual": "Bob is nearby"})
		return !got.IsZero()
	}, 3*time.Second, time.Millisecond)

	assert.Equal(t, action.Action{Kind: action.KindTalk, Text: "hi Bob"}, got)
	assert.Equal(t, option.State{OptionName: "talk", OptionGoal: "greet Bob"}, a.Current())
	assert.True(t, a.Gate().IsActive(option.Talk))
	assert.Contains(t, a.Expressions(), option.Talk)

	assert.Equal(t, 13, a.tracker.BySlot(llm.SlotActionSelection).TotalTokens)
	assert.Positive(t, a.tracker.BySlot(llm.SlotCognitiveController).TotalTokens)

	a.Tick(ctx, nil)
	assert.Contains(t, mem.Working().Items(), "Alice Smith said: hi Bob")
}

func TestAgent_TickNeverBlocksOnSlowWork(t *testing.T) {
	p := newTestPool(t)
	mem := newTestMemory(t, p, memory.DefaultConfig())
	registry := mustRegistry(t, map[string]action.Executor{"talk": talkExecutor("hi")})
	a, err := New(baseConfig(t, p, mem, registry, blockingDecide), WithLogger(newTestLogger()))
	require.NoError(t, err)

	start := time.Now()
	for range 200 {
		act := a.Tick(context.Background(), action.Observation{"talk": "Bob says: hello"})
		assert.True(t, act.IsZero(), "only the fast path is available")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(200), a.Ticks())
	assert.Equal(t, option.CognitiveController, a.Current().OptionName)
}

func TestAgent_ExpiryFallsBackToReflect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := newTestPool(t)
	mem := newTestMemory(t, p, memory.DefaultConfig())
	registry := mustRegistry(t, map[string]action.Executor{"message": talkExecutor("x"), "reflect": talkExecutor("y")})
	cfg := baseConfig(t, p, mem, registry, blockingDecide).
		SetInitialOption(option.State{OptionName: "message", OptionGoal: "invite Bob"}).
		SetExpiry(time.Minute, true).
		SetSuspend(time.Hour)
	a, err := New(cfg, WithLogger(newTestLogger()), WithClock(clock))
	require.NoError(t, err)

	ctx := context.Background()
	a.Tick(ctx, nil)
	assert.Equal(t, "message", a.Current().OptionName)

	clock.Advance(2 * time.Minute)
	a.Tick(ctx, nil)

	assert.Equal(t, option.State{OptionName: "reflect", OptionGoal: "invite Bob"}, a.Current())
	event, reason := a.events.Get()
	assert.True(t, event)
	assert.Equal(t, "repetition or expiration trigger", reason)
}

func TestAgent_ExitWithoutReflectGoesToController(t *testing.T) {
	p := newTestPool(t)
	mem := newTestMemory(t, p, memory.DefaultConfig())
	registry := mustRegistry(t, map[string]action.Executor{"message": talkExecutor("x")})
	a, err := New(baseConfig(t, p, mem, registry, blockingDecide), WithLogger(newTestLogger()))
	require.NoError(t, err)

	a.current.Set(option.State{OptionName: "message", OptionGoal: "invite Bob"})
	for range 4 {
		a.rep.Lock()
		a.rep.FillEncoded("same", []float64{1, 0}, nil)
		a.rep.Unlock()
	}
	a.rep.Update()
	a.selection.fast(nil)

	assert.Equal(t, option.State{OptionName: option.CognitiveController, OptionGoal: "current goal unavailable"}, a.Current())
}

func TestController_Apply(t *testing.T) {
	p := newTestPool(t)
	mem := newTestMemory(t, p, memory.DefaultConfig())
	registry := mustRegistry(t, map[string]action.Executor{"talk": talkExecutor("x"), "reflect": talkExecutor("y")})
	a, err := New(baseConfig(t, p, mem, registry, blockingDecide).
		SetInitialOption(option.State{OptionName: "reflect", OptionGoal: "think"}),
		WithLogger(newTestLogger()))
	require.NoError(t, err)
	a.events.Set(false, "test")

	a.controller.apply(Decision{})
	a.controller.apply(Decision{State: option.State{OptionName: "dance"}, OK: true})
	a.controller.apply(Decision{State: option.State{OptionName: "reflect", OptionGoal: "other"}, OK: true})
	assert.Equal(t, option.State{OptionName: "reflect", OptionGoal: "think"}, a.Current())
	event, _ := a.events.Get()
	assert.False(t, event)

	a.controller.apply(Decision{State: option.State{OptionName: "talk"}, OK: true})
	assert.Equal(t, option.State{OptionName: "talk", OptionGoal: "think"}, a.Current(), "empty goal keeps the current one")
	event, reason := a.events.Get()
	assert.True(t, event)
	assert.Equal(t, "cognitive controller trigger", reason)
}

func TestAgent_SummaryGatesSelectionAndFeedsRecentMemory(t *testing.T) {
	p := newTestPool(t)
	memCfg := memory.DefaultConfig()
	memCfg.TickLimit = 1
	mem := newTestMemory(t, p, memCfg)

	var executed atomic.Int32
	exec := action.ExecutorFunc(func(ctx context.Context, obs action.Observation, st action.State) (action.Result, error) {
		executed.Add(1)
		return action.Result{Action: action.Action{Kind: action.KindReflect, Text: "thinking"}}, nil
	})
	registry := mustRegistry(t, map[string]action.Executor{"reflect": exec})

	var ready atomic.Bool
	summarize := func(ctx context.Context, st action.State) (map[string]string, llm.TokenUsage, error) {
		if !ready.Load() {
			return map[string]string{"summary": "."}, llm.TokenUsage{}, nil
		}
		return map[string]string{"summary": "Alice met Bob at the cafe."}, llm.TokenUsage{TotalTokens: 4}, nil
	}
	cfg := baseConfig(t, p, mem, registry, blockingDecide).
		SetInitialOption(option.State{OptionName: "reflect"}).
		SetSummarizeFunc(summarize)
	a, err := New(cfg, WithLogger(newTestLogger()))
	require.NoError(t, err)

	ctx := context.Background()
	for range 50 {
		a.Tick(ctx, nil)
		time.Sleep(time.Millisecond)
	}
	assert.Zero(t, executed.Load(), "no selection before a usable summary")
	assert.False(t, a.summaryReady())

	ready.Store(true)
	require.Eventually(t, func() bool {
		a.Tick(ctx, nil)
		return executed.Load() > 0
	}, 3*time.Second, time.Millisecond)

	assert.Contains(t, mem.Recent().Items(), "Alice met Bob at the cafe.")
	assert.Positive(t, a.tracker.BySlot(llm.SlotSummary).TotalTokens)
}

func TestAgent_InterviewBypassesOption(t *testing.T) {
	p := newTestPool(t)
	mem := newTestMemory(t, p, memory.DefaultConfig())
	interview := action.ExecutorFunc(func(ctx context.Context, obs action.Observation, st action.State) (action.Result, error) {
		return action.Result{Action: action.Action{Kind: action.KindInterview, Text: "I am well, " + obs[action.ObsInterview]}}, nil
	})
	registry := mustRegistry(t, map[string]action.Executor{"interview": interview})
	a, err := New(baseConfig(t, p, mem, registry, blockingDecide), WithLogger(newTestLogger()))
	require.NoError(t, err)
	a.events.Set(false, "quiet")

	var got action.Action
	require.Eventually(t, func() bool {
		got = a.Tick(context.Background(), action.Observation{"interview": "how are you?"})
		return !got.IsZero()
	}, 3*time.Second, time.Millisecond)
	assert.Equal(t, "I am well, how are you?", got.Text)
	assert.Empty(t, mem.Observations().Items(), "interview questions are not remembered")
}

func TestAgent_ExecutorFailureFallsBack(t *testing.T) {
	p := newTestPool(t)
	mem := newTestMemory(t, p, memory.DefaultConfig())
	var calls atomic.Int32
	failing := action.ExecutorFunc(func(ctx context.Context, obs action.Observation, st action.State) (action.Result, error) {
		calls.Add(1)
		return action.Result{}, errors.New("model offline")
	})
	registry := mustRegistry(t, map[string]action.Executor{"talk": failing})
	cfg := baseConfig(t, p, mem, registry, blockingDecide).
		SetInitialOption(option.State{OptionName: "talk"})
	a, err := New(cfg, WithLogger(newTestLogger()))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		assert.True(t, a.Tick(context.Background(), nil).IsZero())
		return a.selection.Task().LastOutcome() == slowfast.Failed
	}, 3*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "the event that triggered selection is consumed")
}

func TestAgent_ShutdownConsolidates(t *testing.T) {
	p := newTestPool(t)
	mem := newTestMemory(t, p, memory.DefaultConfig())
	registry := mustRegistry(t, map[string]action.Executor{"talk": talkExecutor("x")})
	a, err := New(baseConfig(t, p, mem, registry, blockingDecide), WithLogger(newTestLogger()))
	require.NoError(t, err)

	mem.Recent().Add("Alice likes tea.")
	mem.Recent().Add("Bob plays chess.")
	require.NoError(t, a.Shutdown(context.Background()))

	assert.Equal(t, 0, mem.Recent().Size())
	long := mem.Long().Items()
	slices.Sort(long)
	assert.Equal(t, []string{"Alice likes tea.", "Bob plays chess."}, long)
}

func TestAgent_OthersTalkingFromObservation(t *testing.T) {
	p := newTestPool(t)
	mem := newTestMemory(t, p, memory.DefaultConfig())
	registry := mustRegistry(t, map[string]action.Executor{"talk": talkExecutor("x")})
	a, err := New(baseConfig(t, p, mem, registry, blockingDecide), WithLogger(newTestLogger()))
	require.NoError(t, err)

	a.Tick(context.Background(), action.Observation{action.ObsOthersTalking: "true"})
	assert.True(t, a.othersTalkingObserved())
	a.Tick(context.Background(), action.Observation{action.ObsOthersTalking: "false"})
	assert.False(t, a.othersTalkingObserved())
}

func TestAgent_SummaryReadyUsesMemoryNonce(t *testing.T) {
	p := newTestPool(t)
	memCfg := memory.DefaultConfig()
	memCfg.Nonce = []string{"", "nothing new"}
	mem := newTestMemory(t, p, memCfg)
	registry := mustRegistry(t, map[string]action.Executor{"reflect": talkExecutor("x")})
	cfg := baseConfig(t, p, mem, registry, blockingDecide).
		SetSummarizeFunc(func(ctx context.Context, st action.State) (map[string]string, llm.TokenUsage, error) {
			<-ctx.Done()
			return nil, llm.TokenUsage{}, ctx.Err()
		})
	a, err := New(cfg, WithLogger(newTestLogger()))
	require.NoError(t, err)

	tests := []struct {
		summary map[string]string
		want    bool
	}{
		{summary: nil, want: false},
		{summary: map[string]string{"summary": "nothing new"}, want: false},
		{summary: map[string]string{"summary": "."}, want: true},
		{summary: map[string]string{"summary": "Alice met Bob.", "goal": ""}, want: false},
	}
	for _, tt := range tests {
		a.mu.Lock()
		a.summaryMap = tt.summary
		a.mu.Unlock()
		assert.Equal(t, tt.want, a.summaryReady(), "%v", tt.summary)
	}
}
