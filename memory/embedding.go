package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/metaconsciousgroup/lyfe-agent-paper/encoder"
)

// Defaults for embedding tiers.
const (
	DefaultRecentCapacity      = 20
	DefaultLongCapacity        = 1000
	DefaultRetrieve            = 2
	DefaultForgettingThreshold = 0.9
	DefaultQueryTimeout        = 5 * time.Second
	DefaultInsertTimeout       = 30 * time.Second
)

// Encoder is the part of the batching pipeline an embedding tier uses.
type Encoder interface {
	EnqueueInsert(owner encoder.Owner, key string, value any) error
	Query(ctx context.Context, text string, timeout time.Duration) ([]float64, bool)
}

// EmbeddingConfig configures an EmbeddingMemory.
type EmbeddingConfig struct {
	// Capacity is the maximum number of items. Default: DefaultRecentCapacity.
	Capacity int

	// Retrieve is the default number of items returned by Load lookups.
	// Default: DefaultRetrieve.
	Retrieve int

	// Forgetting enables similarity-based deduplication on insert.
	Forgetting bool

	// ForgettingThreshold is the cosine similarity at or above which an
	// existing item is evicted. Default: DefaultForgettingThreshold.
	ForgettingThreshold float64

	// QueryTimeout bounds Query. Default: DefaultQueryTimeout.
	QueryTimeout time.Duration

	// InsertTimeout bounds AddWait. Default: DefaultInsertTimeout.
	InsertTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnForget is called with the number of items evicted by forgetting.
	OnForget func(n int)
}

// EmbeddingMemory is an embedding-indexed tier. It implements encoder.Owner:
// the encoder holds the tier's lock while calling FillEncoded.
type EmbeddingMemory struct {
	sync.Mutex

	name   string
	enc    Encoder
	cfg    EmbeddingConfig
	logger *slog.Logger

	items   []Item
	seqs    []uint64
	nextSeq uint64

	// guarded by repMu, separate from the owner lock
	repMu   sync.Mutex
	last    string
	hasLast bool
	ticks   int

	summarizing atomic.Bool
}

// NewEmbeddingMemory creates an empty tier named name that embeds through enc.
func NewEmbeddingMemory(name string, enc Encoder, cfg EmbeddingConfig) *EmbeddingMemory {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultRecentCapacity
	}
	if cfg.Retrieve <= 0 {
		cfg.Retrieve = DefaultRetrieve
	}
	if cfg.ForgettingThreshold <= 0 {
		cfg.ForgettingThreshold = DefaultForgettingThreshold
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = DefaultInsertTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingMemory{
		name:   name,
		enc:    enc,
		cfg:    cfg,
		logger: logger.With("tier", name),
	}
}

// Name returns the tier name.
func (m *EmbeddingMemory) Name() string { return m.name }

// pendingInsert is an insert whose caller waits for it to be filled.
type pendingInsert struct {
	text string
	done chan struct{}
}

// Add evicts the oldest item if the tier is full and enqueues text for
// embedding. The item becomes visible once the encoder fills it.
func (m *EmbeddingMemory) Add(text string) {
	m.makeRoom()
	if err := m.enc.EnqueueInsert(m, text, text); err != nil {
		m.logger.Warn("failed to enqueue memory", "error", err)
	}
}

// AddWait adds texts like Add and blocks until every one of them has been
// filled. It gives up after InsertTimeout or when ctx ends; texts still
// pending then may land later or, if their batch was dropped, never.
func (m *EmbeddingMemory) AddWait(ctx context.Context, texts []string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.InsertTimeout)
	defer cancel()

	pending := make([]pendingInsert, 0, len(texts))
	for _, text := range texts {
		m.makeRoom()
		p := pendingInsert{text: text, done: make(chan struct{})}
		if err := m.enc.EnqueueInsert(m, text, p); err != nil {
			return fmt.Errorf("memory: %s: enqueue %q: %w", m.name, text, err)
		}
		pending = append(pending, p)
	}
	for i, p := range pending {
		select {
		case <-p.done:
		case <-ctx.Done():
			return fmt.Errorf("memory: %s: %d of %d inserts not filled: %w", m.name, len(pending)-i, len(pending), ctx.Err())
		}
	}
	return nil
}

func (m *EmbeddingMemory) makeRoom() {
	m.Lock()
	defer m.Unlock()
	if len(m.items) >= m.cfg.Capacity {
		m.evictLocked(0)
	}
}

// FillEncoded appends an encoded item. With forgetting enabled every existing
// item at least ForgettingThreshold similar to the new one is evicted first.
// The caller must hold the tier's lock.
func (m *EmbeddingMemory) FillEncoded(key string, embedding []float64, value any) {
	text := key
	switch v := value.(type) {
	case string:
		text = v
	case pendingInsert:
		text = v.text
		defer close(v.done)
	}

	if m.cfg.Forgetting && len(m.items) > 0 {
		forgotten := 0
		for i := len(m.items) - 1; i >= 0; i-- {
			if Cosine(embedding, m.items[i].Embedding) >= m.cfg.ForgettingThreshold {
				m.evictLocked(i)
				forgotten++
			}
		}
		if forgotten > 0 {
			m.logger.Debug("forgot similar memories", "count", forgotten)
			if m.cfg.OnForget != nil {
				m.cfg.OnForget(forgotten)
			}
		}
	}

	if len(m.items) >= m.cfg.Capacity {
		m.evictLocked(0)
	}
	m.appendLocked(Item{Text: text, Embedding: append([]float64(nil), embedding...)})
}

func (m *EmbeddingMemory) appendLocked(it Item) {
	m.items = append(m.items, it)
	m.seqs = append(m.seqs, m.nextSeq)
	m.nextSeq++
}

func (m *EmbeddingMemory) evictLocked(i int) {
	m.items = append(m.items[:i], m.items[i+1:]...)
	m.seqs = append(m.seqs[:i], m.seqs[i+1:]...)
}

// Query embeds text and returns the texts of the k most similar items, best
// first, ties going to the most recent item. It blocks up to the configured
// query timeout and returns nil on timeout or failure, so it must only be
// called from background goroutines.
func (m *EmbeddingMemory) Query(ctx context.Context, text string, k int) []string {
	if k <= 0 {
		k = m.cfg.Retrieve
	}
	emb, ok := m.enc.Query(ctx, text, m.cfg.QueryTimeout)
	if !ok {
		m.logger.Warn("query returned no embedding", "query", text)
		return nil
	}

	m.Lock()
	defer m.Unlock()
	embeddings := make([][]float64, len(m.items))
	for i, it := range m.items {
		embeddings[i] = it.Embedding
	}
	var out []string
	for _, i := range topK(emb, embeddings, k) {
		out = append(out, m.items[i].Text)
	}
	return out
}

// Items returns the stored texts, oldest first.
func (m *EmbeddingMemory) Items() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.items))
	for i, it := range m.items {
		out[i] = it.Text
	}
	return out
}

// Embeddings returns copies of the stored embeddings, oldest first.
func (m *EmbeddingMemory) Embeddings() [][]float64 {
	m.Lock()
	defer m.Unlock()
	out := make([][]float64, len(m.items))
	for i, it := range m.items {
		out[i] = append([]float64(nil), it.Embedding...)
	}
	return out
}

// Size returns the number of encoded items.
func (m *EmbeddingMemory) Size() int {
	m.Lock()
	defer m.Unlock()
	return len(m.items)
}

// Capacity returns the maximum number of items.
func (m *EmbeddingMemory) Capacity() int { return m.cfg.Capacity }

// Retrieve returns the default lookup size.
func (m *EmbeddingMemory) Retrieve() int { return m.cfg.Retrieve }

// Clear drops every item.
func (m *EmbeddingMemory) Clear() {
	m.Lock()
	defer m.Unlock()
	m.items = nil
	m.seqs = nil
}

// IsRepetitive reports whether s equals the previous value passed in, and
// remembers s for the next call.
func (m *EmbeddingMemory) IsRepetitive(s string) bool {
	m.repMu.Lock()
	defer m.repMu.Unlock()
	rep := m.hasLast && s == m.last
	m.last = s
	m.hasLast = true
	return rep
}

// tick advances the summary counter and reports its new value.
func (m *EmbeddingMemory) tick() int {
	m.repMu.Lock()
	defer m.repMu.Unlock()
	m.ticks++
	return m.ticks
}

func (m *EmbeddingMemory) resetTicks() {
	m.repMu.Lock()
	defer m.repMu.Unlock()
	m.ticks = 0
}

// Ticks returns the summary counter.
func (m *EmbeddingMemory) Ticks() int {
	m.repMu.Lock()
	defer m.repMu.Unlock()
	return m.ticks
}

// Summarizing reports whether a consolidation of this tier is in flight.
func (m *EmbeddingMemory) Summarizing() bool { return m.summarizing.Load() }

// marked returns a deep copy of the items together with their sequence
// numbers so that a later removeSeqs touches exactly these items.
func (m *EmbeddingMemory) marked() ([]Item, []uint64) {
	m.Lock()
	defer m.Unlock()
	return cloneItems(m.items), append([]uint64(nil), m.seqs...)
}

// removeSeqs deletes the items with the given sequence numbers that are
// still present.
func (m *EmbeddingMemory) removeSeqs(seqs []uint64) {
	drop := make(map[uint64]struct{}, len(seqs))
	for _, s := range seqs {
		drop[s] = struct{}{}
	}
	m.Lock()
	defer m.Unlock()
	items, kept := m.items[:0], m.seqs[:0]
	for i, it := range m.items {
		if _, ok := drop[m.seqs[i]]; ok {
			continue
		}
		items = append(items, it)
		kept = append(kept, m.seqs[i])
	}
	m.items, m.seqs = items, kept
}

// Snapshot returns a deep copy of the stored items.
func (m *EmbeddingMemory) Snapshot() []Item {
	items, _ := m.marked()
	return items
}

// Restore replaces the tier's contents. Items with embeddings are installed
// directly; items without are re-enqueued for encoding.
func (m *EmbeddingMemory) Restore(items []Item) {
	var pending []string
	m.Lock()
	m.items, m.seqs = nil, nil
	for _, it := range items {
		if len(it.Embedding) == 0 {
			pending = append(pending, it.Text)
			continue
		}
		if len(m.items) >= m.cfg.Capacity {
			m.evictLocked(0)
		}
		m.appendLocked(it.Clone())
	}
	m.Unlock()

	for _, text := range pending {
		m.Add(text)
	}
}

var _ encoder.Owner = (*EmbeddingMemory)(nil)
