package memory

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Common errors returned by memory operations.
var (
	// ErrUnknownTier is returned when a tier name is not recognized.
	ErrUnknownTier = errors.New("memory: unknown tier")

	// ErrUnknownChannel is returned when an observation channel is not recognized.
	ErrUnknownChannel = errors.New("memory: unknown channel")

	// ErrNotQueryable is returned when querying a tier without embeddings.
	ErrNotQueryable = errors.New("memory: tier is not embedding-indexed")
)

// Channel is the sensory channel an observation arrived on.
type Channel int

const (
	Audio Channel = iota
	Visual
	Spatial
	Mental
)

// String returns the lowercase channel name.
func (c Channel) String() string {
	switch c {
	case Audio:
		return "audio"
	case Visual:
		return "visual"
	case Spatial:
		return "spatial"
	case Mental:
		return "mental"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ParseChannel converts a channel name into a Channel.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "audio":
		return Audio, nil
	case "visual":
		return Visual, nil
	case "spatial", "spacial":
		return Spatial, nil
	case "mental":
		return Mental, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
}

// Tier names one layer of the memory hierarchy.
type Tier string

const (
	TierObservation Tier = "obsbuffer"
	TierWorking     Tier = "workmem"
	TierRecent      Tier = "recentmem"
	TierLong        Tier = "longmem"
)

// Tiers lists every tier from rawest to most consolidated.
var Tiers = []Tier{TierObservation, TierWorking, TierRecent, TierLong}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !slices.Contains(Tiers, t) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Observation is one sensed event held by the observation buffer until it is
// consumed or expires.
type Observation struct {
	Content     string
	Channel     Channel
	InWorldTime string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the observation has expired at now.
func (o Observation) Expired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// Item is a memory entry in one tier. Embedding is nil until the encoder
// has filled it.
type Item struct {
	Text      string    `cbor:"1,keyasint"`
	Embedding []float64 `cbor:"2,keyasint,omitempty"`
	Channel   Channel   `cbor:"3,keyasint,omitempty"`
}

// Clone returns a deep copy. Tiers never share an Item's embedding slice.
func (i Item) Clone() Item {
	clone := i
	if i.Embedding != nil {
		clone.Embedding = slices.Clone(i.Embedding)
	}
	return clone
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// Context is the rendered view of every tier used to build prompts.
type Context struct {
	ObsBuffer  string
	WorkMem    string
	ConvoMem   string
	ReflectMem string
	RecentMem  string
	LongMem    string
}

// Map returns the context keyed by variable name.
func (c Context) Map() map[string]string {
	return map[string]string{
		"obsbuffer":  c.ObsBuffer,
		"workmem":    c.WorkMem,
		"convomem":   c.ConvoMem,
		"reflectmem": c.ReflectMem,
		"recentmem":  c.RecentMem,
		"longmem":    c.LongMem,
	}
}
