package agent

import (
	"context"

	"github.com/metaconsciousgroup/lyfe-agent-paper/action"
	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
	"github.com/metaconsciousgroup/lyfe-agent-paper/slowfast"
)

// Decision is the cognitive controller's output. A zero Decision means no
// change.
type Decision struct {
	State option.State
	OK    bool
}

// Controller revises the agent's option. It runs its own dual-speed task so
// that deciding what to do and doing it proceed independently.
type Controller struct {
	a    *Agent
	task *slowfast.Task[*Frame, Decision]
}

func newController(a *Agent) *Controller {
	c := &Controller{a: a}
	c.task = slowfast.New(a.cfg.name+"_cognitive_controller", a.cfg.pool, c.slow,
		func(*Frame) Decision { return Decision{} },
		a.taskOptions()...,
	)
	return c
}

// Task exposes the underlying dual-speed task.
func (c *Controller) Task() *slowfast.Task[*Frame, Decision] { return c.task }

// Execute applies a finished decision and submits a new one while the agent
// is in the controller option or someone spoke.
func (c *Controller) Execute(f *Frame) {
	c.task.Retrieve()
	c.apply(c.task.Result(f))

	should := c.a.current.Name() == option.CognitiveController || f.Obs[action.ObsTalk] != ""
	if should && c.task.CanSubmit(0) {
		c.task.Submit(f)
	}
}

// apply switches to a decided option. Unchanged and unknown options are
// ignored; an empty goal keeps the current one.
func (c *Controller) apply(d Decision) {
	a := c.a
	name := d.State.OptionName
	if !d.OK || name == "" {
		return
	}
	cur := a.current.Get()
	if name == cur.OptionName {
		return
	}
	if !a.registry.Has(name) && name != option.CognitiveController {
		a.logger.Debug("controller chose unknown option", "option", name)
		return
	}
	next := d.State
	if next.OptionGoal == "" {
		next.OptionGoal = cur.OptionGoal
	}
	a.current.Set(next)
	a.events.Set(true, "cognitive controller trigger")
	a.logger.Info("option changed", "from", cur.OptionName, "to", next.OptionName, "goal", next.OptionGoal)
}

func (c *Controller) slow(ctx context.Context, f *Frame) (Decision, error) {
	st, usage, err := c.a.cfg.decide(ctx, c.a.snapshot(ctx))
	if err != nil {
		return Decision{}, err
	}
	c.a.tracker.Add(llm.SlotCognitiveController, usage)
	return Decision{State: st, OK: true}, nil
}
