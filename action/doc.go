// Package action defines the closed set of actions an agent can emit and the
// executor table that produces them.
//
// Each option an agent can pursue maps to an Executor in a Registry built at
// startup. The agent's selection loop looks the current option up and runs
// its executor on the worker pool; the returned Result carries the Action
// for the environment, the MemoryInput to remember and the token usage of
// the call.
package action
