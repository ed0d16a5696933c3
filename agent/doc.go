// Package agent runs the per-tick loop of one simulated agent.
//
// Each call to Agent.Tick performs, without blocking:
//
//  1. count down the option gate and refresh the repetition and expiry
//     detectors;
//  2. buffer the tick's observations in memory and move them through the
//     reflection step, folding in any summary finished in the background;
//  3. let the cognitive controller apply a finished option decision and
//     start a new one when the agent is idle or was spoken to;
//  4. let action selection deliver a finished action, or fall back to the
//     fast path, and start a new selection when a new event occurred.
//
// Steps 3 and 4 are dual-speed tasks from package slowfast sharing one worker
// pool. Language model calls happen only inside their slow functions.
//
// Building an agent:
//
//	cfg := agent.NewConfig().
//		SetName("Alice Smith").
//		SetRegistry(registry).
//		SetDecideFunc(decide).
//		SetMemory(mem).
//		SetPool(p).
//		SetTracker(tracker)
//	a, err := agent.New(cfg, agent.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	act := a.Tick(ctx, action.Observation{"talk": "Bob says: hi Alice"})
package agent
