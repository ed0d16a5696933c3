package agent

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/metaconsciousgroup/lyfe-agent-paper/encoder"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
)

// EventFlag records whether something happened that warrants a new slow
// action selection, and why.
type EventFlag struct {
	mu     sync.Mutex
	set    bool
	reason string
}

// NewEventFlag returns a raised flag so the first tick triggers a decision.
func NewEventFlag() *EventFlag {
	return &EventFlag{set: true, reason: "initialization"}
}

// Set replaces the flag and its reason.
func (f *EventFlag) Set(v bool, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = v
	f.reason = reason
}

// Get returns the flag and the reason it was last set.
func (f *EventFlag) Get() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set, f.reason
}

// Defaults for repetition detection.
const (
	DefaultRepetitionHistory   = 20
	DefaultRepetitionThreshold = 0.9
	DefaultMaxRepeats          = 3
)

// RepetitionDetector flags an agent that keeps producing near-identical
// output. Embeddings of the agent's output arrive through the encoder, which
// calls FillEncoded with the detector's lock held.
type RepetitionDetector struct {
	sync.Mutex

	history    [][]float64
	size       int
	threshold  float64
	maxRepeats int
	repetitive bool
}

// NewRepetitionDetector keeps the last size embeddings. The latest output is
// repetitive when at least maxRepeats earlier outputs are more similar to it
// than threshold.
func NewRepetitionDetector(size int, threshold float64, maxRepeats int) *RepetitionDetector {
	if size <= 0 {
		size = DefaultRepetitionHistory
	}
	if threshold <= 0 {
		threshold = DefaultRepetitionThreshold
	}
	if maxRepeats <= 0 {
		maxRepeats = DefaultMaxRepeats
	}
	return &RepetitionDetector{size: size, threshold: threshold, maxRepeats: maxRepeats}
}

// FillEncoded records an output embedding. The caller must hold the lock.
func (d *RepetitionDetector) FillEncoded(_ string, embedding []float64, _ any) {
	d.history = append(d.history, embedding)
	if len(d.history) > d.size {
		d.history = d.history[len(d.history)-d.size:]
	}
}

// Update recomputes the flag from the history. A positive result clears the
// history so the same streak is reported once.
func (d *RepetitionDetector) Update() {
	d.Lock()
	defer d.Unlock()
	if len(d.history) <= 1 {
		d.repetitive = false
		return
	}
	latest := d.history[len(d.history)-1]
	repeats := 0
	for _, prev := range d.history[:len(d.history)-1] {
		if memory.Cosine(latest, prev) > d.threshold {
			repeats++
		}
	}
	d.repetitive = repeats >= d.maxRepeats
	if d.repetitive {
		d.history = nil
	}
}

// Repetitive reports the result of the last Update.
func (d *RepetitionDetector) Repetitive() bool {
	d.Lock()
	defer d.Unlock()
	return d.repetitive
}

var _ encoder.Owner = (*RepetitionDetector)(nil)

// DefaultExpiry is how long an option may run before time-based expiry.
const DefaultExpiry = time.Minute

// ExpiryDetector flags an option that has been pursued for too long. It only
// fires when time-based events are enabled.
type ExpiryDetector struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	delta     time.Duration
	enabled   bool
	option    string
	started   bool
	expiresAt time.Time
	expired   bool
}

// NewExpiryDetector returns a detector that expires an option delta after it
// was first seen.
func NewExpiryDetector(clock clockwork.Clock, delta time.Duration, enabled bool) *ExpiryDetector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if delta <= 0 {
		delta = DefaultExpiry
	}
	return &ExpiryDetector{
		clock:     clock,
		delta:     delta,
		enabled:   enabled,
		expiresAt: clock.Now().Add(delta),
	}
}

// Update restarts the countdown when option changes and re-evaluates expiry.
func (d *ExpiryDetector) Update(option string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	if option != "" && (!d.started || option != d.option) {
		d.option = option
		d.started = true
		d.expiresAt = now.Add(d.delta)
		d.expired = false
	}
	if d.enabled && now.After(d.expiresAt) {
		d.expired = true
	}
}

// Expired reports the result of the last Update.
func (d *ExpiryDetector) Expired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expired
}
