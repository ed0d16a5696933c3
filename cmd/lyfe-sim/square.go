package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	lyfe "github.com/metaconsciousgroup/lyfe-agent-paper"
	"github.com/metaconsciousgroup/lyfe-agent-paper/action"
	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
	"github.com/metaconsciousgroup/lyfe-agent-paper/option"
)

const embeddingDims = 32

var residents = []string{
	"Alice Smith",
	"Bob Jones",
	"Carol White",
	"Dan Brown",
	"Eve Clark",
	"Frank Green",
}

// square is the shared environment. Agents hear whatever was said in the
// previous tick.
type square struct {
	names []string
	said  map[string]string
}

func newSquare(names []string) *square {
	return &square{names: names, said: map[string]string{}}
}

func clockTime(tick int) string {
	minutes := 9*60 + tick
	return fmt.Sprintf("%02d:%02d", (minutes/60)%24, minutes%60)
}

func firstName(name string) string {
	first, _, _ := strings.Cut(name, " ")
	return first
}

// observe builds each agent's observation for tick n.
func (s *square) observe(n int) map[string]action.Observation {
	out := make(map[string]action.Observation, len(s.names))
	for i, name := range s.names {
		obs := action.Observation{action.ObsTime: clockTime(n)}

		var heard []string
		for _, other := range s.names {
			if other == name {
				continue
			}
			if text, ok := s.said[other]; ok {
				heard = append(heard, fmt.Sprintf("%s says: %s", other, text))
			}
		}
		sort.Strings(heard)
		if len(heard) > 0 {
			obs[action.ObsTalk] = strings.Join(heard, "\n")
			obs[action.ObsOthersTalking] = "true"
		}

		if len(s.names) > 1 && n%10 == i%10 {
			other := s.names[(i+1)%len(s.names)]
			obs["visual"] = other + " walks past the fountain."
		}
		out[name] = obs
	}
	return out
}

// apply records this tick's talk actions for the next observation.
func (s *square) apply(acts map[string]action.Action) {
	s.said = map[string]string{}
	for name, act := range acts {
		if act.Kind == action.KindTalk && act.Text != "" {
			s.said[name] = act.Text
		}
	}
}

func (s *square) agentConfig(name string) lyfe.AgentConfig {
	return lyfe.AgentConfig{
		Name: name,
		Options: map[string]action.Executor{
			"talk":    action.ExecutorFunc(talk),
			"reflect": action.ExecutorFunc(reflect),
		},
		Decide:      decide,
		Summarize:   summarize,
		Consolidate: consolidate,
		Seed: map[memory.Tier][]string{
			memory.TierLong: {name + " lives near the town square."},
		},
	}
}

// hashEncode maps each text to a unit vector seeded by its hash.
func hashEncode(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(strings.ToLower(text)))
		r := rand.New(rand.NewPCG(h.Sum64(), 0x5eed))
		v := make([]float64, embeddingDims)
		var norm float64
		for j := range v {
			v[j] = r.NormFloat64()
			norm += v[j] * v[j]
		}
		norm = math.Sqrt(norm)
		for j := range v {
			v[j] /= norm
		}
		out[i] = v
	}
	return out, nil
}

func talk(_ context.Context, obs action.Observation, st action.State) (action.Result, error) {
	text := "Lovely morning at the square, isn't it?"
	if heard := obs[action.ObsTalk]; heard != "" {
		speaker, _, _ := strings.Cut(heard, " says: ")
		text = fmt.Sprintf("Good to hear from you, %s.", firstName(speaker))
	}
	return action.Result{
		Action: action.Action{Kind: action.KindTalk, Text: text},
		Memory: action.MemoryInput{"talk": st.Agent + " says: " + text},
		Usage:  llm.TokenUsage{OutputTokens: llm.EstimateTokens(text), TotalTokens: llm.EstimateTokens(text)},
	}, nil
}

func reflect(_ context.Context, _ action.Observation, st action.State) (action.Result, error) {
	thought := fmt.Sprintf("%s thinks about %s.", st.Agent, strings.TrimSuffix(st.Option.OptionGoal, "."))
	return action.Result{
		Action: action.Action{Kind: action.KindReflect},
		Memory: action.MemoryInput{"reflect": thought},
	}, nil
}

// decide alternates between talking and reflecting.
func decide(_ context.Context, st action.State) (option.State, llm.TokenUsage, error) {
	usage := llm.TokenUsage{InputTokens: 20, OutputTokens: 4, TotalTokens: 24}
	if st.Option.OptionName == "talk" {
		return option.State{OptionName: "reflect", OptionGoal: "the last conversation"}, usage, nil
	}
	return option.State{OptionName: "talk", OptionGoal: "catch up with the neighbours"}, usage, nil
}

// summarize echoes the latest working memory.
func summarize(_ context.Context, st action.State) (map[string]string, llm.TokenUsage, error) {
	lines := strings.Split(strings.TrimSpace(st.Memory.WorkMem), "\n")
	latest := strings.TrimSpace(lines[len(lines)-1])
	if latest == "" {
		return map[string]string{"summary": "."}, llm.TokenUsage{}, nil
	}
	text := fmt.Sprintf("At %s, %s", st.Time, latest)
	return map[string]string{"summary": text}, llm.TokenUsage{OutputTokens: llm.EstimateTokens(text)}, nil
}

func consolidate(_ context.Context, items []string) (llm.Completion, error) {
	return llm.NewCompletion(strings.Join(items, " "), len(items)), nil
}
