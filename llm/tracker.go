package llm

import (
	"maps"
	"slices"
	"sync"
)

// Slots under which an agent records usage.
const (
	SlotActionSelection     = "action_selection"
	SlotCognitiveController = "cognitive_controller"
	SlotConsolidation       = "consolidation"
	SlotSummary             = "summary"
)

// Tracker records the token usage of one agent by decision site ("slot").
type Tracker interface {
	// Add records usage under slot.
	Add(slot string, usage TokenUsage)

	// Record adds the usage of a completion to slot. Completions without
	// usage are ignored.
	Record(slot string, c Completion)

	// Total returns the usage recorded through this tracker.
	Total() TokenUsage

	// BySlot returns the usage recorded under slot.
	BySlot(slot string) TokenUsage
}

// Key identifies one ledger entry.
type Key struct {
	Agent string
	Slot  string
}

// Ledger accumulates token usage per agent and slot. A runtime owns one
// Ledger and hands each agent its own Account; nothing is global.
type Ledger struct {
	mu      sync.RWMutex
	entries map[Key]TokenUsage
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[Key]TokenUsage)}
}

// For returns the Tracker through which agent records its usage.
func (l *Ledger) For(agent string) *Account {
	return &Account{ledger: l, agent: agent}
}

func (l *Ledger) add(k Key, usage TokenUsage) {
	if usage.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[k] = l.entries[k].Add(usage)
}

// sum adds up the entries match accepts.
func (l *Ledger) sum(match func(Key) bool) TokenUsage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total TokenUsage
	for k, u := range l.entries {
		if match(k) {
			total = total.Add(u)
		}
	}
	return total
}

// Total returns the usage of every agent.
func (l *Ledger) Total() TokenUsage {
	return l.sum(func(Key) bool { return true })
}

// BySlot returns the usage recorded under slot by every agent.
func (l *Ledger) BySlot(slot string) TokenUsage {
	return l.sum(func(k Key) bool { return k.Slot == slot })
}

// ByAgent returns the usage of one agent.
func (l *Ledger) ByAgent(agent string) TokenUsage {
	return l.sum(func(k Key) bool { return k.Agent == agent })
}

// Agents returns the agents with recorded usage in sorted order.
func (l *Ledger) Agents() []string {
	l.mu.RLock()
	seen := make(map[string]struct{})
	for k := range l.entries {
		seen[k.Agent] = struct{}{}
	}
	l.mu.RUnlock()
	return slices.Sorted(maps.Keys(seen))
}

// Usage returns a copy of one agent's usage by slot, suitable for
// persisting next to its memory.
func (l *Ledger) Usage(agent string) map[string]TokenUsage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]TokenUsage)
	for k, u := range l.entries {
		if k.Agent == agent {
			out[k.Slot] = u
		}
	}
	return out
}

// Restore adds previously persisted usage for agent, so that a restored
// agent keeps counting from where it stopped.
func (l *Ledger) Restore(agent string, usage map[string]TokenUsage) {
	for slot, u := range usage {
		l.add(Key{Agent: agent, Slot: slot}, u)
	}
}

// Reset drops every entry.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.entries)
}

// Account is one agent's view of a Ledger.
type Account struct {
	ledger *Ledger
	agent  string
}

// Agent returns the name usage is recorded under.
func (a *Account) Agent() string { return a.agent }

// Add implements Tracker.
func (a *Account) Add(slot string, usage TokenUsage) {
	a.ledger.add(Key{Agent: a.agent, Slot: slot}, usage)
}

// Record implements Tracker.
func (a *Account) Record(slot string, c Completion) {
	a.Add(slot, c.Usage)
}

// Total implements Tracker.
func (a *Account) Total() TokenUsage { return a.ledger.ByAgent(a.agent) }

// BySlot implements Tracker.
func (a *Account) BySlot(slot string) TokenUsage {
	a.ledger.mu.RLock()
	defer a.ledger.mu.RUnlock()
	return a.ledger.entries[Key{Agent: a.agent, Slot: slot}]
}

var _ Tracker = (*Account)(nil)
