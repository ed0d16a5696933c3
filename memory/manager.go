package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/pool"
)

// DefaultTickLimit is the number of accepted summaries before recent memory
// is written.
const DefaultTickLimit = 5

// DefaultNonce lists the values treated as "nothing to remember".
var DefaultNonce = []string{"", " ", "\n", "."}

const noConversation = "No conversation history yet."

var (
	talkPattern    = regexp.MustCompile(`^(.+?) said: (.+)`)
	messagePattern = regexp.MustCompile(`^(.+?) messaged (.+?): (.+)`)

	audioRewrite = strings.NewReplacer("says", "said", "say", "said", "messages", "messaged")
)

// Summarizer condenses a cluster of related memories into one entry.
type Summarizer func(ctx context.Context, items []string) (llm.Completion, error)

// Submitter runs background consolidation. *pool.Pool satisfies it.
type Submitter interface {
	TrySubmit(fn pool.Job) (*pool.Future, error)
}

// Config sizes the tiers and tunes consolidation.
type Config struct {
	ObservationCapacity int
	ObservationDelay    time.Duration
	WorkingCapacity     int
	Recent              EmbeddingConfig
	Long                EmbeddingConfig

	// TickLimit is the number of accepted summaries before recent memory
	// is written. Default: DefaultTickLimit.
	TickLimit int

	// ClusterEps is the DBSCAN radius. Default: DefaultClusterEps.
	ClusterEps float64

	// Nonce overrides DefaultNonce.
	Nonce []string
}

// DefaultConfig returns the standard tier sizes with forgetting enabled.
func DefaultConfig() Config {
	return Config{
		ObservationCapacity: DefaultObservationCapacity,
		ObservationDelay:    DefaultObservationDelay,
		WorkingCapacity:     DefaultWorkingCapacity,
		Recent: EmbeddingConfig{
			Capacity:            DefaultRecentCapacity,
			Retrieve:            DefaultRetrieve,
			Forgetting:          true,
			ForgettingThreshold: DefaultForgettingThreshold,
			QueryTimeout:        DefaultQueryTimeout,
			InsertTimeout:       DefaultInsertTimeout,
		},
		Long: EmbeddingConfig{
			Capacity:            DefaultLongCapacity,
			Retrieve:            DefaultRetrieve,
			Forgetting:          true,
			ForgettingThreshold: DefaultForgettingThreshold,
			QueryTimeout:        DefaultQueryTimeout,
			InsertTimeout:       DefaultInsertTimeout,
		},
		TickLimit:  DefaultTickLimit,
		ClusterEps: DefaultClusterEps,
		Nonce:      DefaultNonce,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock sets the clock used for observation expiry.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithTracker records summarizer usage under llm.SlotConsolidation.
func WithTracker(t llm.Tracker) Option {
	return func(m *Manager) { m.tracker = t }
}

// WithSplitter overrides SplitSentences.
func WithSplitter(fn SplitFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.split = fn
		}
	}
}

// WithMeterProvider records consolidation metrics on the given provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) {
		if mp != nil {
			m.meter = mp.Meter("memory")
		}
	}
}

// WithTracerProvider traces consolidation on the given provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) {
		if tp != nil {
			m.tracer = tp.Tracer("memory")
		}
	}
}

// Manager owns the four tiers of one agent and moves content between them.
type Manager struct {
	name      string
	cfg       Config
	summarize Summarizer
	runner    Submitter
	tracker   llm.Tracker
	split     SplitFunc
	nonce     map[string]struct{}

	clock  clockwork.Clock
	logger *slog.Logger
	meter  metric.Meter
	tracer trace.Tracer

	clusterHist metric.Int64Histogram
	forgotten   metric.Int64Counter

	obs    *ObservationBuffer
	work   *WorkingMemory
	recent *EmbeddingMemory
	long   *EmbeddingMemory

	consolidateMu sync.Mutex
}

// NewManager builds the tiers for the agent called name. Embedding tiers
// encode through enc; background consolidation runs on runner.
func NewManager(name string, cfg Config, enc Encoder, summarize Summarizer, runner Submitter, opts ...Option) *Manager {
	m := &Manager{
		name:      name,
		summarize: summarize,
		runner:    runner,
		split:     SplitSentences,
		clock:     clockwork.NewRealClock(),
		meter:     metricnoop.NewMeterProvider().Meter("memory"),
		tracer:    tracenoop.NewTracerProvider().Tracer("memory"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	m.logger = m.logger.With("component", "memory", "agent", name)

	if cfg.TickLimit <= 0 {
		cfg.TickLimit = DefaultTickLimit
	}
	if cfg.ClusterEps <= 0 {
		cfg.ClusterEps = DefaultClusterEps
	}
	if cfg.Nonce == nil {
		cfg.Nonce = DefaultNonce
	}
	m.cfg = cfg
	m.nonce = make(map[string]struct{}, len(cfg.Nonce))
	for _, n := range cfg.Nonce {
		m.nonce[n] = struct{}{}
	}

	var err error
	m.clusterHist, err = m.meter.Int64Histogram(
		"memory.consolidation.clusters",
		metric.WithDescription("Clusters produced per consolidation"),
		metric.WithUnit("{cluster}"),
	)
	if err != nil {
		m.logger.Warn("failed to create cluster histogram", "error", err)
	}
	m.forgotten, err = m.meter.Int64Counter(
		"memory.forgotten",
		metric.WithDescription("Items evicted by similarity-based forgetting"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		m.logger.Warn("failed to create forgotten counter", "error", err)
	}

	m.obs = NewObservationBuffer(cfg.ObservationCapacity, cfg.ObservationDelay, m.clock)
	m.work = NewWorkingMemory(cfg.WorkingCapacity)
	m.recent = NewEmbeddingMemory(string(TierRecent), enc, m.tierConfig(cfg.Recent, TierRecent))
	m.long = NewEmbeddingMemory(string(TierLong), enc, m.tierConfig(cfg.Long, TierLong))
	return m
}

func (m *Manager) tierConfig(c EmbeddingConfig, tier Tier) EmbeddingConfig {
	if c.Logger == nil {
		c.Logger = m.logger
	}
	if c.OnForget == nil && m.forgotten != nil {
		c.OnForget = func(n int) {
			m.forgotten.Add(context.Background(), int64(n), metric.WithAttributes(
				attribute.String("tier", string(tier)),
			))
		}
	}
	return c
}

// Observations returns the observation buffer.
func (m *Manager) Observations() *ObservationBuffer { return m.obs }

// Working returns the working memory.
func (m *Manager) Working() *WorkingMemory { return m.work }

// Recent returns the recent memory tier.
func (m *Manager) Recent() *EmbeddingMemory { return m.recent }

// Long returns the long-term memory tier.
func (m *Manager) Long() *EmbeddingMemory { return m.long }

// IsNonce reports whether s is one of the configured "nothing to remember" values.
func (m *Manager) IsNonce(s string) bool {
	_, ok := m.nonce[s]
	return ok
}

// AddText buffers a plain visual observation.
func (m *Manager) AddText(s string) {
	m.obs.Add(s, Visual, "init")
}

// Add buffers an action-keyed observation. Keys name the action that
// produced the text: talk, message and interview go to the audio channel
// (reworded into past tense), reflect to mental, choose_destination to
// spatial and anything else to visual. The "time" key, when present, sets the
// in-world time. Nonce values are ignored. It returns the buffered texts.
func (m *Manager) Add(content map[string]string) []string {
	inWorld := "init"
	if t, ok := content["time"]; ok {
		inWorld = t
	}

	keys := make([]string, 0, len(content))
	for k := range content {
		if k != "time" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var added []string
	for _, k := range keys {
		text := content[k]
		if m.IsNonce(text) {
			continue
		}
		switch k {
		case "talk", "message", "interview":
			text = audioRewrite.Replace(text)
			m.obs.Add(text, Audio, inWorld)
		case "reflect":
			m.obs.Add(text, Mental, inWorld)
		case "choose_destination":
			m.obs.Add(text, Spatial, inWorld)
		default:
			m.obs.Add(text, Visual, inWorld)
		}
		added = append(added, text)
	}
	return added
}

// Update is the reflection step. It moves audio and mental observations into
// working memory and empties the buffer. A summary whose values are all
// meaningful and which differs from the previous one advances the recent
// memory counter; when the counter reaches the tick limit the summary is split
// into sentences, each written to recent memory, and the counter resets.
// A full recent memory starts a background consolidation unless one is
// already running. With last set, remaining recent memories are consolidated
// synchronously.
func (m *Manager) Update(ctx context.Context, summary map[string]string, last bool) {
	for _, o := range m.obs.Drain() {
		if o.Channel == Audio || o.Channel == Mental {
			m.work.Add(o.Content, o.Channel)
		}
	}

	if m.acceptSummary(summary) {
		if m.recent.tick() >= m.cfg.TickLimit {
			for _, s := range m.split(joinValues(summary)) {
				m.recent.Add(s)
			}
			m.recent.resetTicks()
		}
	}

	if m.recent.Size() >= m.recent.Capacity() && m.recent.summarizing.CompareAndSwap(false, true) {
		_, err := m.runner.TrySubmit(func(ctx context.Context) {
			defer m.recent.summarizing.Store(false)
			if _, err := m.Consolidate(ctx); err != nil {
				m.logger.Error("background consolidation failed", "error", err)
			}
		})
		if err != nil {
			m.recent.summarizing.Store(false)
			m.logger.Warn("could not schedule consolidation", "error", err)
		}
	}

	if last && m.recent.Size() > 1 {
		if _, err := m.Consolidate(ctx); err != nil {
			m.logger.Error("final consolidation failed", "error", err)
		}
	}
}

func (m *Manager) acceptSummary(summary map[string]string) bool {
	if len(summary) == 0 {
		return false
	}
	for _, v := range summary {
		if m.IsNonce(v) {
			return false
		}
	}
	return !m.recent.IsRepetitive(summaryKey(summary))
}

func sortedKeys(summary map[string]string) []string {
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinValues(summary map[string]string) string {
	keys := sortedKeys(summary)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = summary[k]
	}
	return strings.Join(vals, " ")
}

func summaryKey(summary map[string]string) string {
	var b strings.Builder
	for _, k := range sortedKeys(summary) {
		fmt.Fprintf(&b, "%s\x00%s\x00", k, summary[k])
	}
	return b.String()
}

// Consolidate moves recent memory into long-term memory. Recent items are
// clustered by embedding; a singleton is copied verbatim and a larger cluster
// is summarized into one entry. If summarizing a cluster fails its members
// are copied verbatim instead, so every item is represented exactly once.
// The consolidated items are removed from recent memory only after every
// entry has been embedded into long-term memory; if that does not happen
// recent memory is left untouched and an error is returned. It returns the
// number of clusters.
func (m *Manager) Consolidate(ctx context.Context) (int, error) {
	m.consolidateMu.Lock()
	defer m.consolidateMu.Unlock()

	items, seqs := m.recent.marked()
	if len(items) == 0 {
		return 0, nil
	}

	ctx, span := m.tracer.Start(ctx, "memory.consolidate",
		trace.WithAttributes(
			attribute.String("agent", m.name),
			attribute.Int("items", len(items)),
		),
	)
	defer span.End()

	vectors := make([][]float64, len(items))
	for i, it := range items {
		vectors[i] = it.Embedding
	}
	clusters := Cluster(vectors, m.cfg.ClusterEps)
	span.SetAttributes(attribute.Int("clusters", len(clusters)))
	if m.clusterHist != nil {
		m.clusterHist.Record(ctx, int64(len(clusters)))
	}

	var failed []error
	entries := make([]string, 0, len(clusters))
	for _, c := range clusters {
		texts := make([]string, len(c))
		for i, idx := range c {
			texts[i] = items[idx].Text
		}
		if len(texts) == 1 {
			entries = append(entries, texts[0])
			continue
		}

		summary, err := m.summarizeCluster(ctx, texts)
		if err != nil {
			failed = append(failed, err)
			m.logger.Error("summarizing cluster failed, keeping items verbatim",
				"size", len(texts), "error", err)
			entries = append(entries, texts...)
			continue
		}
		entries = append(entries, summary)
	}

	if err := m.long.AddWait(ctx, entries); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "long memory insert incomplete")
		m.logger.Error("consolidated entries did not reach long memory, keeping recent memory",
			"entries", len(entries), "error", err)
		return len(clusters), err
	}
	m.recent.removeSeqs(seqs)

	m.logger.Info("consolidated recent memory",
		"items", len(items),
		"clusters", len(clusters),
		"entries", len(entries),
	)

	if len(failed) > 0 {
		err := errors.Join(failed...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarizer failed")
		return len(clusters), fmt.Errorf("memory: %d of %d clusters kept verbatim: %w", len(failed), len(clusters), err)
	}
	return len(clusters), nil
}

func (m *Manager) summarizeCluster(ctx context.Context, texts []string) (text string, err error) {
	if m.summarize == nil {
		return "", errors.New("memory: no summarizer configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("memory: summarizer panicked: %v", r)
		}
	}()
	c, err := m.summarize(ctx, texts)
	if err != nil {
		return "", err
	}
	if m.tracker != nil {
		m.tracker.Record(llm.SlotConsolidation, c)
	}
	if strings.TrimSpace(c.Text) == "" {
		return "", errors.New("memory: summarizer returned empty text")
	}
	return c.Text, nil
}

// Query returns the k items of an embedding tier most similar to text. It
// blocks on the encoder and must only be called from background goroutines.
func (m *Manager) Query(ctx context.Context, tier Tier, text string, k int) ([]string, error) {
	switch tier {
	case TierRecent:
		return m.recent.Query(ctx, text, k), nil
	case TierLong:
		return m.long.Query(ctx, text, k), nil
	case TierObservation, TierWorking:
		return nil, fmt.Errorf("%w: %s", ErrNotQueryable, tier)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
}

// Latest returns the most recent working memory item.
func (m *Manager) Latest() string { return m.work.Latest() }

// Load renders every tier for prompt construction. The recent and long-term
// views are semantic lookups keyed by the latest working memory item, so Load
// blocks on the encoder and must only be called from background goroutines.
func (m *Manager) Load(ctx context.Context) Context {
	var c Context

	obs := m.obs.Items()
	texts := make([]string, len(obs))
	for i, o := range obs {
		texts[i] = o.Content
	}
	c.ObsBuffer = strings.Join(texts, "\n")

	work := m.work.Items()
	c.WorkMem = strings.Join(work, "\n")
	c.ConvoMem = conversation(work)

	recent := m.recent.Items()
	reflect := slices.Concat(work, recent)
	if n := (m.recent.Capacity() - len(recent)) / 5; n > 0 {
		long := m.long.Items()
		reflect = append(reflect, long[max(0, len(long)-n):]...)
	}
	c.ReflectMem = strings.Join(reflect, "\n")

	if latest := m.work.Latest(); latest != "" {
		c.RecentMem = strings.Join(dedupe(m.recent.Query(ctx, latest, m.recent.Retrieve())), "\n")
		c.LongMem = strings.Join(dedupe(m.long.Query(ctx, latest, m.long.Retrieve())), "\n")
	}
	return c
}

func conversation(work []string) string {
	var lines []string
	for _, s := range work {
		if talkPattern.MatchString(s) || messagePattern.MatchString(s) {
			lines = append(lines, s)
		}
	}
	switch len(lines) {
	case 0:
		return noConversation
	case 1:
		return lines[0]
	default:
		return strings.Join(lines[:len(lines)-1], "\n") + "\nMost recently\n" + lines[len(lines)-1]
	}
}

func dedupe(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := s[:0]
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Fill seeds tiers with initial memories. Working memory seeds are also
// buffered as visual observations.
func (m *Manager) Fill(seed map[Tier][]string) error {
	for tier, items := range seed {
		if _, err := ParseTier(string(tier)); err != nil {
			return err
		}
		for _, s := range items {
			switch tier {
			case TierObservation:
				m.obs.Add(s, Visual, "init")
			case TierWorking:
				m.work.Add(s, Visual)
				m.obs.Add(s, Visual, "init")
			case TierRecent:
				m.recent.Add(s)
			case TierLong:
				m.long.Add(s)
			}
		}
	}
	return nil
}

// Snapshot returns deep copies of the persistent tiers.
func (m *Manager) Snapshot() map[Tier][]Item {
	return map[Tier][]Item{
		TierWorking: m.work.snapshot(),
		TierRecent:  m.recent.Snapshot(),
		TierLong:    m.long.Snapshot(),
	}
}

// Restore replaces the persistent tiers present in snap.
func (m *Manager) Restore(snap map[Tier][]Item) error {
	for tier, items := range snap {
		switch tier {
		case TierWorking:
			m.work.restore(items)
		case TierRecent:
			m.recent.Restore(items)
		case TierLong:
			m.long.Restore(items)
		default:
			return fmt.Errorf("%w: %q cannot be restored", ErrUnknownTier, tier)
		}
	}
	return nil
}

// Clear empties every tier. Working memory keeps its latest item.
func (m *Manager) Clear() {
	m.obs.Clear()
	m.work.Clear()
	m.recent.Clear()
	m.long.Clear()
}
