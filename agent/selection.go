package agent

import (
	"context"
	"fmt"
	"maps"

	"github.com/metaconsciousgroup/lyfe-agent-paper/action"
	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
	"github.com/metaconsciousgroup/lyfe-agent-paper/slowfast"
)

const reflectOption = "reflect"

// Selection turns the current option into an action. The slow path runs the
// option's executor on the worker pool; the fast path only decides whether
// the option should be abandoned and otherwise emits nothing.
type Selection struct {
	a    *Agent
	task *slowfast.Task[*Frame, action.Action]
}

func newSelection(a *Agent) *Selection {
	s := &Selection{a: a}
	s.task = slowfast.New(a.cfg.name+"_action_selection", a.cfg.pool, s.slow, s.fast, a.taskOptions()...)
	return s
}

// Task exposes the underlying dual-speed task.
func (s *Selection) Task() *slowfast.Task[*Frame, action.Action] { return s.task }

// Execute polls the slow path, submits new work when warranted and returns
// the action for this tick.
func (s *Selection) Execute(f *Frame) action.Action {
	s.task.Retrieve()
	if (f.Interview() || s.shouldSubmit()) && s.task.CanSubmit(s.a.cfg.suspend) {
		s.task.Submit(f)
	}
	return s.task.Result(f)
}

// shouldSubmit requires a summary and one of: a new event, always-slow mode
// or boredom.
func (s *Selection) shouldSubmit() bool {
	bored := s.a.cfg.probBoredom > 0 && s.a.rng.Float64() < s.a.cfg.probBoredom
	event, _ := s.a.events.Get()
	return (event || s.a.cfg.alwaysRunSlow || bored) && s.a.summaryReady()
}

func (s *Selection) slow(ctx context.Context, f *Frame) (action.Action, error) {
	a := s.a
	opt := a.turns.Next(a.current.Name(), f.Obs[action.ObsTalk], false)
	if f.Interview() {
		opt = string(action.KindInterview)
	}

	ex, ok := a.registry.Lookup(opt)
	if !ok || opt == option.CognitiveController {
		return action.Action{}, nil
	}
	a.events.Set(false, "cancel new event within action selection")

	res, err := ex.Execute(ctx, f.Obs, a.snapshot(ctx))
	if err != nil {
		return action.Action{}, fmt.Errorf("option %s: %w", opt, err)
	}
	a.tracker.Add(llm.SlotActionSelection, res.Usage)

	act := res.Action
	if act.Text != "" {
		tokens := res.Usage.OutputTokens
		if tokens == 0 {
			tokens = llm.EstimateTokens(act.Text)
		}
		if act.Kind == action.KindTalk {
			a.turns.Next(option.Talk, act.Text, true)
		}
		a.gate.Activate(opt, option.Lifespan(tokens))
	}

	mem := maps.Clone(map[string]string(res.Memory))
	if len(mem) > 0 {
		mem[action.ObsTime] = a.currentTime()
		a.memory.Add(mem)
	}

	a.logger.Info("action selected",
		"option", opt,
		"action", act.String(),
		"time", a.currentTime(),
	)
	return act, nil
}

func (s *Selection) fast(*Frame) action.Action {
	a := s.a
	if a.exitCurrentOption() {
		if a.registry.Has(reflectOption) {
			a.current.Switch(reflectOption)
		} else {
			a.current.Set(option.State{
				OptionName: option.CognitiveController,
				OptionGoal: "current goal unavailable",
			})
		}
		a.events.Set(true, "repetition or expiration trigger")
	}
	return action.Action{}
}
