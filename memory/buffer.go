package memory

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Defaults for the observation buffer.
const (
	DefaultObservationCapacity = 1000
	DefaultObservationDelay    = time.Minute
)

// ObservationBuffer holds raw observations until they expire or are drained.
type ObservationBuffer struct {
	mu       sync.Mutex
	capacity int
	delay    time.Duration
	clock    clockwork.Clock
	items    []Observation
}

// NewObservationBuffer creates a buffer. Non-positive capacity or delay fall
// back to the defaults; a nil clock uses the real clock.
func NewObservationBuffer(capacity int, delay time.Duration, clock clockwork.Clock) *ObservationBuffer {
	if capacity <= 0 {
		capacity = DefaultObservationCapacity
	}
	if delay <= 0 {
		delay = DefaultObservationDelay
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ObservationBuffer{capacity: capacity, delay: delay, clock: clock}
}

// Add stores content, evicting the oldest observation when full.
func (b *ObservationBuffer) Add(content string, ch Channel, inWorldTime string) {
	now := b.clock.Now()
	obs := Observation{
		Content:     content,
		Channel:     ch,
		InWorldTime: inWorldTime,
		CreatedAt:   now,
		ExpiresAt:   now.Add(b.delay),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.capacity {
		b.items = b.items[1:]
	}
	b.items = append(b.items, obs)
}

// RemoveExpired drops every expired observation.
func (b *ObservationBuffer) RemoveExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeExpiredLocked()
}

func (b *ObservationBuffer) removeExpiredLocked() {
	now := b.clock.Now()
	kept := b.items[:0]
	for _, o := range b.items {
		if !o.Expired(now) {
			kept = append(kept, o)
		}
	}
	clear(b.items[len(kept):])
	b.items = kept
}

// Items returns the live observations, oldest first.
func (b *ObservationBuffer) Items() []Observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeExpiredLocked()
	out := make([]Observation, len(b.items))
	copy(out, b.items)
	return out
}

// Drain removes and returns every buffered observation.
func (b *ObservationBuffer) Drain() []Observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// Update expires old observations and trims the buffer to half its capacity.
func (b *ObservationBuffer) Update() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeExpiredLocked()
	if keep := b.capacity / 2; len(b.items) > keep {
		b.items = append([]Observation(nil), b.items[len(b.items)-keep:]...)
	}
}

// Clear drops every observation.
func (b *ObservationBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
}

// Size returns the number of buffered observations, expired ones included.
func (b *ObservationBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
