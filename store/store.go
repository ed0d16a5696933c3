package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
)

// ErrNotFound is returned when no snapshot exists for an agent tier.
var ErrNotFound = errors.New("store: snapshot not found")

// HeartbeatTTL is how long a runtime heartbeat stays visible.
const HeartbeatTTL = 30 * time.Second

// Store persists memory tier snapshots between runs.
type Store interface {
	// Save replaces the stored items of one agent tier.
	Save(ctx context.Context, agent string, tier memory.Tier, items []memory.Item) error

	// Load returns the stored items of one agent tier, or ErrNotFound.
	Load(ctx context.Context, agent string, tier memory.Tier) ([]memory.Item, error)

	// Delete removes every stored tier of an agent.
	Delete(ctx context.Context, agent string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// UsageStore is implemented by stores that also keep each agent's token
// usage by slot.
type UsageStore interface {
	SaveUsage(ctx context.Context, agent string, usage map[string]llm.TokenUsage) error

	// LoadUsage returns the stored usage of agent, or ErrNotFound.
	LoadUsage(ctx context.Context, agent string) (map[string]llm.TokenUsage, error)
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	URL            string
	TLS            *tls.Config
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// Prefix is prepended to every key. Defaults to "agent".
	Prefix string
}

// RedisStore implements Store and UsageStore on top of Redis strings holding
// CBOR.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "agent"
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.TLS != nil {
		redisOpts.TLSConfig = opts.TLS
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, prefix: opts.Prefix}, nil
}

// tierKey follows the <prefix>:<agent>:mem:<tier> pattern.
func (s *RedisStore) tierKey(agent string, tier memory.Tier) string {
	return formatKeyName(s.prefix, agent, "mem", string(tier))
}

func (s *RedisStore) usageKey(agent string) string {
	return formatKeyName(s.prefix, agent, "usage")
}

func (s *RedisStore) heartbeatKey(instance string) string {
	return formatKeyName(s.prefix, "runtime", instance, "health")
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, agent string, tier memory.Tier, items []memory.Item) error {
	if items == nil {
		items = []memory.Item{}
	}
	data, err := encMode.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s snapshot: %w", tier, err)
	}
	if err := s.client.Set(ctx, s.tierKey(agent, tier), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save %s snapshot for %s: %w", tier, agent, err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, agent string, tier memory.Tier) ([]memory.Item, error) {
	data, err := s.client.Get(ctx, s.tierKey(agent, tier)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, agent, tier)
		}
		return nil, fmt.Errorf("failed to load %s snapshot for %s: %w", tier, agent, err)
	}

	var items []memory.Item
	if err := decMode.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", tier, err)
	}
	return items, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, agent string) error {
	keys := make([]string, 0, len(memory.Tiers)+1)
	for _, tier := range memory.Tiers {
		keys = append(keys, s.tierKey(agent, tier))
	}
	keys = append(keys, s.usageKey(agent))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshots for %s: %w", agent, err)
	}
	return nil
}

// SaveUsage implements UsageStore.
func (s *RedisStore) SaveUsage(ctx context.Context, agent string, usage map[string]llm.TokenUsage) error {
	data, err := encMode.Marshal(usage)
	if err != nil {
		return fmt.Errorf("failed to encode token usage: %w", err)
	}
	if err := s.client.Set(ctx, s.usageKey(agent), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save token usage for %s: %w", agent, err)
	}
	return nil
}

// LoadUsage implements UsageStore.
func (s *RedisStore) LoadUsage(ctx context.Context, agent string) (map[string]llm.TokenUsage, error) {
	data, err := s.client.Get(ctx, s.usageKey(agent)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s usage", ErrNotFound, agent)
		}
		return nil, fmt.Errorf("failed to load token usage for %s: %w", agent, err)
	}

	var usage map[string]llm.TokenUsage
	if err := decMode.Unmarshal(data, &usage); err != nil {
		return nil, fmt.Errorf("failed to decode token usage: %w", err)
	}
	return usage, nil
}

// Heartbeat marks a runtime instance alive for HeartbeatTTL.
func (s *RedisStore) Heartbeat(ctx context.Context, instance string) error {
	if err := s.client.Set(ctx, s.heartbeatKey(instance), "ok", HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat for %s: %w", instance, err)
	}
	return nil
}

// Alive reports whether a runtime instance has a live heartbeat.
func (s *RedisStore) Alive(ctx context.Context, instance string) (bool, error) {
	n, err := s.client.Exists(ctx, s.heartbeatKey(instance)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check heartbeat for %s: %w", instance, err)
	}
	return n > 0, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func formatKeyName(parts ...string) string {
	return strings.Join(parts, ":")
}

// SaveSnapshot writes every tier of a memory snapshot.
func SaveSnapshot(ctx context.Context, s Store, agent string, snap map[memory.Tier][]memory.Item) error {
	for tier, items := range snap {
		if err := s.Save(ctx, agent, tier, items); err != nil {
			return err
		}
	}
	return nil
}

// LoadSnapshot reads the given tiers. Tiers without a stored snapshot are
// left out of the result.
func LoadSnapshot(ctx context.Context, s Store, agent string, tiers ...memory.Tier) (map[memory.Tier][]memory.Item, error) {
	snap := make(map[memory.Tier][]memory.Item, len(tiers))
	for _, tier := range tiers {
		items, err := s.Load(ctx, agent, tier)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		snap[tier] = items
	}
	return snap, nil
}

var (
	_ Store      = (*RedisStore)(nil)
	_ UsageStore = (*RedisStore)(nil)
)
