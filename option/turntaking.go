package option

import (
	"math"
	"strings"
	"sync"
)

// Names of the conversational variables and the controller pseudo-option.
const (
	CognitiveController = "cognitive_controller"
	Talk                = "talk"
	Wait                = "wait"
	Listen              = "listen"
)

// DefaultLatency is the number of ticks an agent waits before taking the
// next turn.
const DefaultLatency = 5

// speakerLatencyFactor stretches the pause after the agent's own utterance.
const speakerLatencyFactor = 1_000

// Reading-speed constants used by Lifespan.
const (
	readingSpeed   = 3.0
	decisionPeriod = 5.0 / 30.0
	magnifier      = 1.2
)

// Lifespan converts the number of tokens produced into the number of ticks
// the utterance should stay active. It is at least one.
func Lifespan(tokens int) int {
	if tokens <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(float64(tokens)/(readingSpeed*decisionPeriod*magnifier))))
}

// TurnOption configures a TurnTaking.
type TurnOption func(*TurnTaking)

// WithDefaultLatency overrides DefaultLatency.
func WithDefaultLatency(ticks int) TurnOption {
	return func(t *TurnTaking) {
		if ticks > 0 {
			t.defaultLatency = ticks
		}
	}
}

// WithOthersTalking sets the probe reporting whether another nearby entity
// is currently talking. Without a probe the agent is always free to talk.
func WithOthersTalking(fn func() bool) TurnOption {
	return func(t *TurnTaking) { t.othersTalking = fn }
}

// TurnTaking refines the chosen option during a conversation. Talk, wait and
// listen are mutually exclusive variables of the shared gate. Leaving talk
// starts a wait whose length depends on who spoke last; leaving wait goes to
// talk when nobody else is talking and to listen otherwise.
type TurnTaking struct {
	mu   sync.Mutex
	gate *Gate

	nameParts      []string
	defaultLatency int
	nextLatency    int
	last           string
	inConvo        bool
	speaking       bool
	othersTalking  func() bool
}

// NewTurnTaking registers the conversational variables on gate for the agent
// called agentName.
func NewTurnTaking(agentName string, gate *Gate, opts ...TurnOption) *TurnTaking {
	t := &TurnTaking{
		gate:           gate,
		nameParts:      strings.Fields(agentName),
		defaultLatency: DefaultLatency,
		last:           CognitiveController,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.nextLatency = t.defaultLatency

	gate.mu.Lock()
	gate.reserved[CognitiveController] = struct{}{}
	gate.mu.Unlock()

	names := []string{CognitiveController, Talk, Wait, Listen}
	for _, n := range names {
		gate.AddVariable(n, DefaultLifespan)
	}
	for _, n := range names {
		for _, other := range names {
			if other != n {
				gate.AppendRules(n, other)
			}
		}
	}
	return t
}

// Gate returns the underlying gate.
func (t *TurnTaking) Gate() *Gate { return t.gate }

// Latency returns the pause that follows an utterance. The agent's own
// utterance produces a long pause, an utterance mentioning the agent none,
// and anything else the default latency.
func (t *TurnTaking) Latency(talkObs string, speaker bool) int {
	if speaker {
		return speakerLatencyFactor * t.defaultLatency
	}
	for _, part := range t.nameParts {
		if strings.Contains(talkObs, part) {
			return 0
		}
	}
	return t.defaultLatency
}

// AbleToTalk reports whether no other nearby entity is talking.
func (t *TurnTaking) AbleToTalk() bool {
	return t.othersTalking == nil || !t.othersTalking()
}

// Next refines option and activates the resulting variable. Conversational
// options follow the turn-taking transitions; any other registered option is
// activated as is and ends the conversation. Unregistered options, such as
// skills, pass through untouched.
func (t *TurnTaking) Next(option, talkObs string, speaker bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch option {
	case Talk, Wait, Listen:
		return t.converse(talkObs, speaker)
	}
	if !t.gate.Has(option) {
		return option
	}
	t.inConvo = false
	t.last = option
	t.gate.Activate(option)
	return option
}

func (t *TurnTaking) converse(talkObs string, speaker bool) string {
	t.inConvo = true
	if talkObs != "" {
		t.nextLatency = t.Latency(talkObs, speaker)
		if speaker {
			t.speaking = true
		}
	}

	var option string
	switch t.last {
	case Wait:
		if t.gate.IsActive(Wait) {
			option = Wait
		} else {
			option = t.openTurn()
		}
	case Talk:
		if t.gate.IsActive(Talk) {
			option = Talk
		} else {
			option = Wait
			t.gate.Activate(Wait, t.nextLatency)
			t.speaking = false
		}
	case Listen:
		if !t.AbleToTalk() {
			option = Listen
		} else {
			option = Wait
			t.gate.Activate(Wait, t.nextLatency)
		}
	default:
		option = t.openTurn()
	}
	t.last = option
	return option
}

func (t *TurnTaking) openTurn() string {
	option := Listen
	if t.AbleToTalk() {
		option = Talk
	}
	t.gate.Activate(option, DefaultLifespan)
	return option
}

// InConversation reports whether the last refined option was conversational.
func (t *TurnTaking) InConversation() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inConvo
}

// Speaking reports whether the agent's own utterance is still being
// delivered.
func (t *TurnTaking) Speaking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speaking
}

// Last returns the last refined option.
func (t *TurnTaking) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
