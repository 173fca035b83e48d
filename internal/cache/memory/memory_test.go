package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	unlock, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))

	unlock()
	unlock() // idempotent

	unlock2, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	defer unlock2()
}

func TestLockManagerExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	stale, err := lm.Acquire(ctx, "k", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	fresh, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	defer fresh()

	stale()
	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestOnceGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	g := NewOnceGuard()
	g.now = func() time.Time { return now }

	ok, err := g.Claim(ctx, "presignal:tok:tier1:2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.Claim(ctx, "presignal:tok:tier1:2", time.Minute)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	g.Cleanup()
	assert.Empty(t, g.seen)

	ok, _ = g.Claim(ctx, "presignal:tok:tier1:2", time.Minute)
	assert.True(t, ok)
}

func TestSignalBusStreams(t *testing.T) {
	ctx := context.Background()
	b := NewSignalBus()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "exec:signals", []byte(p)))
	}

	all, err := b.StreamRead(ctx, "exec:signals", "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1-0", all[0].ID)

	next, err := b.StreamRead(ctx, "exec:signals", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "b", string(next[0].Payload))

	empty, err := b.StreamRead(ctx, "other", "", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewSignalBus()

	ch, err := b.Subscribe(ctx, "ch:signal")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "ch:signal", []byte("hello")))
	require.NoError(t, b.Publish(ctx, "ch:other", []byte("ignored")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMarketDataCache(t *testing.T) {
	ctx := context.Background()
	c := NewMarketDataCache()
	mcap := 250_000.0

	require.NoError(t, c.Set(ctx, domain.MarketSnapshot{TokenID: "tok", MarketCapUSD: &mcap}, time.Minute))
	got, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	require.NotNil(t, got.MarketCapUSD)
	assert.Equal(t, mcap, *got.MarketCapUSD)

	require.NoError(t, c.Set(ctx, domain.MarketSnapshot{TokenID: "stale"}, -time.Second))
	_, err = c.Get(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "k", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "other", 3, time.Minute)
	assert.True(t, ok)
}
