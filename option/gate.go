package option

import (
	"log/slog"
	"slices"
	"sync"
)

// DefaultLifespan is the lifespan of a variable added without one. It is
// large enough to behave as "until deactivated".
const DefaultLifespan = 1_000_000

// TimedVariable is a countdown flag. It is active while Remaining > 0.
type TimedVariable struct {
	Name      string
	Lifespan  int
	Remaining int
}

// NewTimedVariable returns an inactive variable.
func NewTimedVariable(name string, lifespan int) *TimedVariable {
	if lifespan <= 0 {
		lifespan = DefaultLifespan
	}
	return &TimedVariable{Name: name, Lifespan: lifespan}
}

// Activate sets Remaining to the variable's lifespan. A lifespan argument
// replaces the stored lifespan first, so later activations without one reuse
// it. A zero lifespan leaves the variable inactive.
func (v *TimedVariable) Activate(lifespan ...int) {
	if len(lifespan) > 0 {
		v.Lifespan = max(0, lifespan[0])
	}
	v.Remaining = v.Lifespan
}

// Deactivate clears the variable.
func (v *TimedVariable) Deactivate() { v.Remaining = 0 }

// Tick counts down by one, stopping at zero.
func (v *TimedVariable) Tick() {
	if v.Remaining > 0 {
		v.Remaining--
	}
}

// Active reports whether the variable has time left.
func (v *TimedVariable) Active() bool { return v.Remaining > 0 }

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger used for debug messages about unknown names.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRules installs disable rules. Rules may name variables that are added
// later.
func WithRules(rules map[string][]string) GateOption {
	return func(g *Gate) {
		for name, disables := range rules {
			g.rules[name] = slices.Clone(disables)
		}
	}
}

// WithReserved marks names that can be registered but never activated.
// Reserved names are also left out of Active.
func WithReserved(names ...string) GateOption {
	return func(g *Gate) {
		for _, n := range names {
			g.reserved[n] = struct{}{}
		}
	}
}

// Gate is a set of timed variables with disable rules: activating a variable
// first deactivates every variable in its rule set. It is safe for concurrent
// use.
type Gate struct {
	mu       sync.Mutex
	vars     map[string]*TimedVariable
	order    []string
	rules    map[string][]string
	reserved map[string]struct{}
	time     int
	logger   *slog.Logger
}

// NewGate returns an empty gate.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		vars:     make(map[string]*TimedVariable),
		rules:    make(map[string][]string),
		reserved: make(map[string]struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddVariable registers name with a default lifespan. Adding an existing
// name is a no-op.
func (g *Gate) AddVariable(name string, lifespan int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.vars[name]; ok {
		g.logger.Debug("variable already exists", "name", name)
		return
	}
	g.vars[name] = NewTimedVariable(name, lifespan)
	g.order = append(g.order, name)
}

// SetRules replaces the disable set of an existing variable.
func (g *Gate) SetRules(name string, disables []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.vars[name]; !ok {
		g.logger.Debug("cannot set rules for unknown variable", "name", name)
		return
	}
	g.rules[name] = slices.Clone(disables)
}

// AppendRules adds to the disable set of name.
func (g *Gate) AppendRules(name string, disables ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range disables {
		if !slices.Contains(g.rules[name], d) {
			g.rules[name] = append(g.rules[name], d)
		}
	}
}

// Activate deactivates the variables in name's disable set, then activates
// name for lifespan ticks (or its stored lifespan when omitted). Unknown and
// reserved names are ignored.
func (g *Gate) Activate(name string, lifespan ...int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activateLocked(name, lifespan...)
}

func (g *Gate) activateLocked(name string, lifespan ...int) {
	v, ok := g.vars[name]
	if _, reserved := g.reserved[name]; !ok || reserved {
		g.logger.Debug("variable to activate does not exist", "name", name)
		return
	}
	for _, other := range g.rules[name] {
		if ov, ok := g.vars[other]; ok {
			ov.Deactivate()
		} else {
			g.logger.Debug("variable to deactivate does not exist", "name", other)
		}
	}
	v.Activate(lifespan...)
}

// Deactivate clears name.
func (g *Gate) Deactivate(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.vars[name]
	if !ok {
		g.logger.Debug("variable to deactivate does not exist", "name", name)
		return
	}
	v.Deactivate()
}

// Tick advances gate time and counts down every variable.
func (g *Gate) Tick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.time++
	for _, v := range g.vars {
		v.Tick()
	}
}

// IsActive reports whether name exists and is active.
func (g *Gate) IsActive(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isActiveLocked(name)
}

func (g *Gate) isActiveLocked(name string) bool {
	v, ok := g.vars[name]
	return ok && v.Active()
}

// Remaining returns the ticks left on name, zero when unknown.
func (g *Gate) Remaining(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.vars[name]; ok {
		return v.Remaining
	}
	return 0
}

// Has reports whether name is registered.
func (g *Gate) Has(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.vars[name]
	return ok
}

// Active lists the active, non-reserved variables in registration order.
func (g *Gate) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, name := range g.order {
		if _, reserved := g.reserved[name]; reserved {
			continue
		}
		if g.vars[name].Active() {
			out = append(out, name)
		}
	}
	return out
}

// Time returns the number of ticks since the gate was created.
func (g *Gate) Time() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.time
}
