package option

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTurns(othersTalking *bool) (*TurnTaking, *Gate) {
	g := NewGate()
	g.AddVariable("reflect", 0)
	tt := NewTurnTaking("Alice Smith", g, WithOthersTalking(func() bool { return *othersTalking }))
	return tt, g
}

func TestLifespan(t *testing.T) {
	assert.Equal(t, 1, Lifespan(0))
	assert.Equal(t, 2, Lifespan(1))
	assert.InDelta(t, 167, Lifespan(100), 1)
	assert.Greater(t, Lifespan(200), Lifespan(100), "longer utterances pause longer")
}

func TestTurnTaking_Latency(t *testing.T) {
	tt, _ := newTurns(new(bool))
	assert.Equal(t, speakerLatencyFactor*DefaultLatency, tt.Latency("anything", true))
	assert.Equal(t, 0, tt.Latency("Bob said: hi Alice", false))
	assert.Equal(t, 0, tt.Latency("Smith, are you there?", false))
	assert.Equal(t, DefaultLatency, tt.Latency("Bob said: nice weather", false))
}

func TestTurnTaking_VariablesAreMutuallyExclusive(t *testing.T) {
	tt, g := newTurns(new(bool))
	_ = tt
	g.Activate(Talk)
	g.Activate(Wait, 3)
	assert.False(t, g.IsActive(Talk))
	g.Activate(Listen)
	assert.False(t, g.IsActive(Wait))
	assert.Equal(t, []string{Listen}, g.Active())

	g.Activate(CognitiveController)
	assert.True(t, g.IsActive(Listen), "the controller pseudo-option is never activated")
}

func TestTurnTaking_TalkThenWaitThenTalk(t *testing.T) {
	others := false
	tt, g := newTurns(&others)

	assert.Equal(t, Talk, tt.Next(Talk, "", false))
	assert.True(t, tt.InConversation())

	// Own utterance produced: long pause once talk expires.
	g.Activate(Talk, 2)
	assert.Equal(t, Talk, tt.Next(Talk, "Alice said: hello", true))
	assert.True(t, tt.Speaking())
	g.Tick()
	g.Tick()

	assert.Equal(t, Wait, tt.Next(Talk, "", false))
	assert.False(t, tt.Speaking())
	assert.Equal(t, speakerLatencyFactor*DefaultLatency, g.Remaining(Wait))

	assert.Equal(t, Wait, tt.Next(Talk, "", false), "wait holds while active")

	g.Deactivate(Wait)
	assert.Equal(t, Talk, tt.Next(Talk, "", false))
	assert.True(t, g.IsActive(Talk))
}

func TestTurnTaking_WaitEndsInListenWhenOthersTalk(t *testing.T) {
	others := false
	tt, g := newTurns(&others)

	tt.Next(Talk, "", false)
	g.Deactivate(Talk)
	assert.Equal(t, Wait, tt.Next(Talk, "Bob said: nice weather", false))
	assert.Equal(t, DefaultLatency, g.Remaining(Wait))

	others = true
	for range DefaultLatency {
		g.Tick()
	}
	assert.Equal(t, Listen, tt.Next(Wait, "", false))
	assert.Equal(t, Listen, tt.Next(Listen, "", false), "listen holds while someone talks")

	others = false
	assert.Equal(t, Wait, tt.Next(Listen, "Bob said: Alice?", false))
	assert.False(t, g.IsActive(Wait), "a mention removes the pause")
	assert.Equal(t, Talk, tt.Next(Wait, "", false))
}

func TestTurnTaking_OtherOptionsLeaveConversation(t *testing.T) {
	others := false
	tt, g := newTurns(&others)

	tt.Next(Talk, "", false)
	assert.Equal(t, "reflect", tt.Next("reflect", "", false))
	assert.False(t, tt.InConversation())
	assert.True(t, g.IsActive("reflect"))
	assert.Equal(t, "reflect", tt.Last())

	assert.Equal(t, "make_coffee", tt.Next("make_coffee", "", false), "unregistered options pass through")
	assert.Equal(t, "reflect", tt.Last())
}

func TestTurnTaking_NoProbeMeansFreeToTalk(t *testing.T) {
	tt := NewTurnTaking("Bob", NewGate())
	assert.True(t, tt.AbleToTalk())
	assert.Equal(t, Talk, tt.Next(Listen, "", false))
}

func TestCurrent(t *testing.T) {
	c := NewCurrent(State{OptionName: CognitiveController, OptionGoal: "find Bob"})
	c.Switch("reflect")
	assert.Equal(t, State{OptionName: "reflect", OptionGoal: "find Bob"}, c.Get())

	c.Set(State{OptionName: Talk, OptionGoal: "greet Bob"})
	assert.Equal(t, Talk, c.Name())
}
