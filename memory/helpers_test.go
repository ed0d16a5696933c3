package memory

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/metaconsciousgroup/lyfe-agent-paper/encoder"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeEncoder embeds synchronously. Texts listed in vectors get that vector;
// everything else gets a pseudo-random vector seeded by the text.
type fakeEncoder struct {
	mu      sync.Mutex
	vectors map[string][]float64
	inserts []string
	fail    bool
}

func newFakeEncoder(vectors map[string][]float64) *fakeEncoder {
	if vectors == nil {
		vectors = map[string][]float64{}
	}
	return &fakeEncoder{vectors: vectors}
}

func (f *fakeEncoder) vector(text string) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vectors[text]; ok {
		return append([]float64(nil), v...)
	}
	return hashVector(text, 16)
}

func hashVector(text string, dim int) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	r := rand.New(rand.NewPCG(h.Sum64(), 7))
	v := make([]float64, dim)
	for i := range v {
		v[i] = r.NormFloat64()
	}
	return v
}

func (f *fakeEncoder) EnqueueInsert(owner encoder.Owner, key string, value any) error {
	f.mu.Lock()
	f.inserts = append(f.inserts, key)
	f.mu.Unlock()

	owner.Lock()
	defer owner.Unlock()
	owner.FillEncoded(key, f.vector(key), value)
	return nil
}

func (f *fakeEncoder) Query(ctx context.Context, text string, timeout time.Duration) ([]float64, bool) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, false
	}
	return f.vector(text), true
}

func (f *fakeEncoder) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts)
}

// heldEncoder keeps inserts queued until release fills them.
type heldEncoder struct {
	*fakeEncoder

	heldMu sync.Mutex
	held   []heldInsert
}

type heldInsert struct {
	owner encoder.Owner
	key   string
	value any
}

func newHeldEncoder(vectors map[string][]float64) *heldEncoder {
	return &heldEncoder{fakeEncoder: newFakeEncoder(vectors)}
}

func (h *heldEncoder) EnqueueInsert(owner encoder.Owner, key string, value any) error {
	h.heldMu.Lock()
	defer h.heldMu.Unlock()
	h.held = append(h.held, heldInsert{owner: owner, key: key, value: value})
	return nil
}

func (h *heldEncoder) heldCount() int {
	h.heldMu.Lock()
	defer h.heldMu.Unlock()
	return len(h.held)
}

func (h *heldEncoder) release() {
	h.heldMu.Lock()
	held := h.held
	h.held = nil
	h.heldMu.Unlock()

	for _, in := range held {
		in.owner.Lock()
		in.owner.FillEncoded(in.key, h.vector(in.key), in.value)
		in.owner.Unlock()
	}
}
