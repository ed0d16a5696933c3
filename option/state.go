package option

import "sync"

// State is the option the agent is pursuing and why.
type State struct {
	OptionName string `json:"option_name" yaml:"option_name"`
	OptionGoal string `json:"option_goal" yaml:"option_goal"`
}

// Current holds the agent's current option. Updates replace the whole State
// so readers never see a name from one decision paired with a goal from
// another.
type Current struct {
	mu sync.RWMutex
	s  State
}

// NewCurrent returns a Current starting at s.
func NewCurrent(s State) *Current {
	return &Current{s: s}
}

// Get returns the current state.
func (c *Current) Get() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s
}

// Name returns the current option name.
func (c *Current) Name() string { return c.Get().OptionName }

// Set replaces the state.
func (c *Current) Set(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = s
}

// Switch changes the option name and keeps the goal.
func (c *Current) Switch(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.OptionName = name
}
