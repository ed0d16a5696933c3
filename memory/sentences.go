package memory

import (
	"strings"
	"sync"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// SplitFunc splits a paragraph into sentences.
type SplitFunc func(text string) []string

var englishTokenizer = sync.OnceValues(func() (*sentences.DefaultSentenceTokenizer, error) {
	return english.NewSentenceTokenizer(nil)
})

// SplitSentences splits text with the English Punkt model. Sentences are
// trimmed and empty ones dropped. If the model cannot be loaded the whole
// trimmed text is returned as one sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	tok, err := englishTokenizer()
	if err != nil {
		return []string{text}
	}

	var out []string
	for _, s := range tok.Tokenize(text) {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}
