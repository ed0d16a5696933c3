package llm

import (
	"reflect"
	"sync"
	"testing"
)

func TestLedger_Empty(t *testing.T) {
	ledger := NewLedger()

	if total := ledger.Total(); total != (TokenUsage{}) {
		t.Errorf("Initial total = %v, want zero", total)
	}
	if agents := ledger.Agents(); len(agents) != 0 {
		t.Errorf("Initial Agents() = %v, want empty", agents)
	}
	if got := ledger.For("Alice").Total(); got != (TokenUsage{}) {
		t.Errorf("Account total = %v, want zero", got)
	}
}

func TestLedger_AccountsArePerAgent(t *testing.T) {
	ledger := NewLedger()
	alice, bob := ledger.For("Alice"), ledger.For("Bob")

	selection := TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150}
	consolidation := TokenUsage{InputTokens: 200, OutputTokens: 100, TotalTokens: 300}

	alice.Add(SlotActionSelection, selection)
	alice.Add(SlotConsolidation, consolidation)
	bob.Add(SlotActionSelection, selection)

	if got, want := alice.Total(), selection.Add(consolidation); got != want {
		t.Errorf("alice.Total() = %v, want %v", got, want)
	}
	if got := bob.BySlot(SlotConsolidation); got != (TokenUsage{}) {
		t.Errorf("bob.BySlot(consolidation) = %v, want zero", got)
	}
	if got, want := ledger.BySlot(SlotActionSelection), selection.Add(selection); got != want {
		t.Errorf("ledger.BySlot(action_selection) = %v, want %v", got, want)
	}
	if got, want := ledger.Total().TotalTokens, 600; got != want {
		t.Errorf("ledger.Total() = %d tokens, want %d", got, want)
	}
	if got, want := ledger.Agents(), []string{"Alice", "Bob"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Agents() = %v, want %v", got, want)
	}
}

func TestAccount_Record(t *testing.T) {
	ledger := NewLedger()
	alice := ledger.For("Alice")

	alice.Record(SlotCognitiveController, Completion{
		Text:  "go home",
		Usage: TokenUsage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12},
	})
	alice.Record(SlotConsolidation, Completion{Text: "no usage reported"})

	if got := alice.BySlot(SlotCognitiveController).TotalTokens; got != 12 {
		t.Errorf("BySlot(cognitive_controller) = %d tokens, want 12", got)
	}
	if usage := ledger.Usage("Alice"); len(usage) != 1 {
		t.Errorf("a completion without usage should not create an entry: %v", usage)
	}
}

func TestLedger_UsageAndRestore(t *testing.T) {
	ledger := NewLedger()
	ledger.For("Alice").Add(SlotSummary, TokenUsage{InputTokens: 3, OutputTokens: 1, TotalTokens: 4})

	saved := ledger.Usage("Alice")
	saved[SlotSummary] = TokenUsage{TotalTokens: 999}
	if got := ledger.For("Alice").BySlot(SlotSummary).TotalTokens; got != 4 {
		t.Errorf("ledger changed through Usage copy: %d", got)
	}

	next := NewLedger()
	next.Restore("Alice", ledger.Usage("Alice"))
	next.For("Alice").Add(SlotSummary, TokenUsage{TotalTokens: 2})
	if got := next.ByAgent("Alice").TotalTokens; got != 6 {
		t.Errorf("restored total = %d, want 6", got)
	}
}

func TestLedger_Reset(t *testing.T) {
	ledger := NewLedger()
	ledger.For("Alice").Add(SlotActionSelection, TokenUsage{InputTokens: 5, TotalTokens: 5})

	ledger.Reset()

	if total := ledger.Total(); total != (TokenUsage{}) {
		t.Errorf("Total after Reset() = %v, want zero", total)
	}
	if agents := ledger.Agents(); len(agents) != 0 {
		t.Errorf("Agents after Reset() = %v, want empty", agents)
	}
}

func TestLedger_Concurrency(t *testing.T) {
	ledger := NewLedger()
	var wg sync.WaitGroup

	const agents, adds = 50, 100
	for i := 0; i < agents; i++ {
		account := ledger.For(string(rune('A' + i%26)))
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < adds; j++ {
				account.Add(SlotActionSelection, TokenUsage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2})
			}
		}()
		go func() {
			defer wg.Done()
			_ = ledger.Total()
			_ = ledger.Agents()
			_ = account.Total()
		}()
	}
	wg.Wait()

	if got := ledger.Total().TotalTokens; got != agents*adds*2 {
		t.Errorf("Total tokens = %d, want %d", got, agents*adds*2)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 2},
		{"hello there friend", 4},
		{"one two three four five six", 8},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestNewCompletion(t *testing.T) {
	c := NewCompletion("hello there friend", 10)
	want := TokenUsage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14}
	if c.Usage != want {
		t.Errorf("Usage = %v, want %v", c.Usage, want)
	}
}
