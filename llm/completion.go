package llm

import "strings"

// Completion is the text a model produced together with what it cost.
type Completion struct {
	// Text is the generated content.
	Text string

	// Usage contains token usage statistics.
	Usage TokenUsage
}

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	// InputTokens is the number of tokens in the input/prompt.
	InputTokens int `cbor:"1,keyasint"`

	// OutputTokens is the number of tokens generated in the response.
	OutputTokens int `cbor:"2,keyasint"`

	// TotalTokens is the sum of input and output tokens.
	TotalTokens int `cbor:"3,keyasint"`
}

// Add combines two TokenUsage instances.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// IsZero reports whether no tokens were recorded.
func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}

// EstimateTokens approximates the token count of text for callers whose
// model does not report usage. It counts whitespace-separated words and
// scales by 4/3, the usual words-to-tokens ratio for English.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}

// NewCompletion builds a Completion whose output usage is estimated from text.
func NewCompletion(text string, inputTokens int) Completion {
	out := EstimateTokens(text)
	return Completion{
		Text: text,
		Usage: TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: out,
			TotalTokens:  inputTokens + out,
		},
	}
}
