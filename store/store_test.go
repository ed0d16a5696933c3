package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaconsciousgroup/lyfe-agent-paper/llm"
	"github.com/metaconsciousgroup/lyfe-agent-paper/memory"
)

func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s, mr
}

func TestNewRedisStore(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s, err := NewRedisStore(RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, "agent", s.prefix)
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisStore(RedisOptions{
			URL:            "redis://localhost:1",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisStore(RedisOptions{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestSaveLoad(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	items := []memory.Item{
		{Text: "Alice likes tea.", Embedding: []float64{0.5, -1, 2}},
		{Text: "Bob said: hi", Channel: memory.Audio},
	}
	require.NoError(t, s.Save(ctx, "Alice Smith", memory.TierRecent, items))
	assert.True(t, mr.Exists("agent:Alice Smith:mem:recentmem"))

	got, err := s.Load(ctx, "Alice Smith", memory.TierRecent)
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestSaveIsDeterministic(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	items := []memory.Item{{Text: "a", Embedding: []float64{1, 2}}}
	require.NoError(t, s.Save(ctx, "a1", memory.TierLong, items))
	require.NoError(t, s.Save(ctx, "a2", memory.TierLong, items))

	first, err := mr.Get("agent:a1:mem:longmem")
	require.NoError(t, err)
	second, err := mr.Get("agent:a2:mem:longmem")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadMissing(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.Load(context.Background(), "nobody", memory.TierLong)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorrupt(t *testing.T) {
	s, mr := setupTestStore(t)
	require.NoError(t, mr.Set("agent:x:mem:longmem", "not cbor"))
	_, err := s.Load(context.Background(), "x", memory.TierLong)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "failed to decode")
}

func TestSaveEmptyTier(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a", memory.TierWorking, nil))
	got, err := s.Load(ctx, "a", memory.TierWorking)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDelete(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a", memory.TierRecent, []memory.Item{{Text: "x"}}))
	require.NoError(t, s.Save(ctx, "a", memory.TierLong, []memory.Item{{Text: "y"}}))
	require.NoError(t, s.Save(ctx, "b", memory.TierLong, []memory.Item{{Text: "z"}}))

	require.NoError(t, s.SaveUsage(ctx, "a", map[string]llm.TokenUsage{llm.SlotSummary: {TotalTokens: 1}}))

	require.NoError(t, s.Delete(ctx, "a"))
	assert.False(t, mr.Exists("agent:a:mem:recentmem"))
	assert.False(t, mr.Exists("agent:a:mem:longmem"))
	assert.False(t, mr.Exists("agent:a:usage"))
	assert.True(t, mr.Exists("agent:b:mem:longmem"))
}

func TestUsageRoundTrip(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	_, err := s.LoadUsage(ctx, "Alice")
	assert.ErrorIs(t, err, ErrNotFound)

	usage := map[string]llm.TokenUsage{
		llm.SlotActionSelection: {InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		llm.SlotSummary:         {InputTokens: 5, OutputTokens: 1, TotalTokens: 6},
	}
	require.NoError(t, s.SaveUsage(ctx, "Alice", usage))
	assert.True(t, mr.Exists("agent:Alice:usage"))

	got, err := s.LoadUsage(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, usage, got)

	require.NoError(t, mr.Set("agent:Bob:usage", "not cbor"))
	_, err = s.LoadUsage(ctx, "Bob")
	assert.ErrorContains(t, err, "failed to decode")
}

func TestHeartbeat(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	alive, err := s.Alive(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, alive)

	require.NoError(t, s.Heartbeat(ctx, "r1"))
	assert.Equal(t, HeartbeatTTL, mr.TTL("agent:runtime:r1:health"))

	alive, err = s.Alive(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, alive)

	mr.FastForward(HeartbeatTTL + time.Second)
	alive, err = s.Alive(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestPing(t *testing.T) {
	s, mr := setupTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	snap := map[memory.Tier][]memory.Item{
		memory.TierWorking: {{Text: "Alice is at home."}},
		memory.TierLong:    {{Text: "Bob plays chess.", Embedding: []float64{1, 0}}},
	}
	require.NoError(t, SaveSnapshot(ctx, s, "Alice Smith", snap))

	got, err := LoadSnapshot(ctx, s, "Alice Smith", memory.TierWorking, memory.TierRecent, memory.TierLong)
	require.NoError(t, err)
	assert.Equal(t, snap, got, "tiers never saved are left out")
}
