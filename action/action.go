package action

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
)

// Kind identifies what an action does in the environment.
type Kind string

const (
	// KindNone is the empty action: the agent does nothing this tick.
	KindNone Kind = ""

	// KindTalk speaks Text aloud to nearby agents.
	KindTalk Kind = "talk"

	// KindListen keeps the agent attentive in a conversation.
	KindListen Kind = "listen"

	// KindWait pauses before the next conversational turn.
	KindWait Kind = "wait"

	// KindMessage sends Text to Target out of earshot.
	KindMessage Kind = "message"

	// KindChooseDestination moves the agent towards Destination.
	KindChooseDestination Kind = "choose_destination"

	// KindReflect produces an internal thought in Text.
	KindReflect Kind = "reflect"

	// KindCognitiveController reports an option change.
	KindCognitiveController Kind = "cognitive_controller"

	// KindInterview answers an external interviewer.
	KindInterview Kind = "interview"

	// KindSkill runs the named Skill.
	KindSkill Kind = "skill"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the kind is a recognized value.
func (k Kind) IsValid() bool {
	switch k {
	case KindNone, KindTalk, KindListen, KindWait, KindMessage, KindChooseDestination,
		KindReflect, KindCognitiveController, KindInterview, KindSkill:
		return true
	default:
		return false
	}
}

// KindOf maps an option name to the kind of action it produces. Names that
// are not built-in options are skills.
func KindOf(optionName string) Kind {
	k := Kind(optionName)
	if k == KindNone || k == KindSkill || !k.IsValid() {
		return KindSkill
	}
	return k
}

// Action is what the agent emits to the environment on one tick. Only the
// fields relevant to Kind are set.
type Action struct {
	Kind        Kind   `json:"kind"`
	Text        string `json:"text,omitempty"`
	Target      string `json:"target,omitempty"`
	Destination string `json:"destination,omitempty"`
	Skill       string `json:"skill,omitempty"`
}

// IsZero reports whether a is the empty action.
func (a Action) IsZero() bool { return a == Action{} }

// String renders the action for logs.
func (a Action) String() string {
	switch a.Kind {
	case KindNone:
		return "none"
	case KindMessage:
		return fmt.Sprintf("message(%s): %s", a.Target, a.Text)
	case KindChooseDestination:
		return fmt.Sprintf("choose_destination: %s", a.Destination)
	case KindSkill:
		return fmt.Sprintf("skill(%s)", a.Skill)
	default:
		if a.Text == "" {
			return string(a.Kind)
		}
		return fmt.Sprintf("%s: %s", a.Kind, a.Text)
	}
}

// Observation is the sensory input for one tick, keyed by channel name
// (talk, message, visual, time, ...).
type Observation map[string]string

// Well-known observation keys.
const (
	ObsTalk          = "talk"
	ObsTime          = "time"
	ObsInterview     = "interview"
	ObsOthersTalking = "others_talking"
)

// MemoryInput is what an executor wants remembered, keyed by the option that
// produced it. It is passed to memory.Manager.Add.
type MemoryInput map[string]string

// State is the read-only view of the agent handed to executors and deciders.
type State struct {
	Agent   string
	Option  option.State
	Time    string
	Summary map[string]string
	Memory  memory.Context
	Active  []string
	Options []string
}

// Result is an executor's output.
type Result struct {
	Action Action
	Memory MemoryInput
	Usage  llm.TokenUsage
}

// Executor runs one option. Implementations may block on language model
// calls; they are only invoked from the worker pool.
type Executor interface {
	Execute(ctx context.Context, obs Observation, st State) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, obs Observation, st State) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, obs Observation, st State) (Result, error) {
	return f(ctx, obs, st)
}

// Registry maps option names to executors. It is built once and never
// modified, so lookups need no locking.
type Registry struct {
	executors map[string]Executor
	names     []string
}

// NewRegistry copies executors into an immutable registry. Nil executors are
// rejected.
func NewRegistry(executors map[string]Executor) (*Registry, error) {
	r := &Registry{executors: make(map[string]Executor, len(executors))}
	for name, ex := range executors {
		if name == "" {
			return nil, fmt.Errorf("action: empty option name")
		}
		if ex == nil {
			return nil, fmt.Errorf("action: nil executor for option %q", name)
		}
		r.executors[name] = ex
	}
	r.names = slices.Sorted(maps.Keys(r.executors))
	return r, nil
}

// Lookup returns the executor for name.
func (r *Registry) Lookup(name string) (Executor, bool) {
	ex, ok := r.executors[name]
	return ex, ok
}

// Has reports whether name has an executor.
func (r *Registry) Has(name string) bool {
	_, ok := r.executors[name]
	return ok
}

// Names returns the registered option names, sorted.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}
