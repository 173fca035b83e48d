package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

func newMock(t *testing.T) (*Client, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return NewFromRedis(db), mock
}

func TestLockManagerAcquireAndRelease(t *testing.T) {
	c, mock := newMock(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	mock.Regexp().ExpectSetNX("lock:signal:tok:consensus", ".+", 10*time.Second).SetVal(true)
	mock.Regexp().ExpectEvalSha(lm.release.Hash(), []string{"lock:signal:tok:consensus"}, ".+").SetVal(int64(1))

	unlock, err := lm.Acquire(ctx, "signal:tok:consensus", 10*time.Second)
	require.NoError(t, err)
	unlock()
	unlock()
}

func TestLockManagerHeld(t *testing.T) {
	c, mock := newMock(t)
	lm := NewLockManager(c)

	mock.Regexp().ExpectSetNX("lock:k", ".+", time.Second).SetVal(false)
	_, err := lm.Acquire(context.Background(), "k", time.Second)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))
}

func TestLockManagerRedisError(t *testing.T) {
	c, mock := newMock(t)
	lm := NewLockManager(c)

	mock.Regexp().ExpectSetNX("lock:k", ".+", time.Second).SetErr(errors.New("conn refused"))
	_, err := lm.Acquire(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrLockHeld))
}

func TestOnceGuardClaim(t *testing.T) {
	c, mock := newMock(t)
	g := NewOnceGuard(c)
	ctx := context.Background()

	mock.ExpectSetNX("once:presignal:tok:tier3:4", 1, 12*time.Minute).SetVal(true)
	mock.ExpectSetNX("once:presignal:tok:tier3:4", 1, 12*time.Minute).SetVal(false)

	ok, err := g.Claim(ctx, "presignal:tok:tier3:4", 12*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "presignal:tok:tier3:4", 12*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusStreamAppend(t *testing.T) {
	c, mock := newMock(t)
	bus := NewSignalBusWithMaxLen(c, 500)
	payload := []byte(`{"signal_type":"consensus_buy"}`)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: domain.StreamExecSignals,
		MaxLen: 500,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).SetVal("1700000000000-0")

	require.NoError(t, bus.StreamAppend(context.Background(), domain.StreamExecSignals, payload))
}

func TestSignalBusStreamRead(t *testing.T) {
	c, mock := newMock(t)
	bus := NewSignalBus(c)

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{domain.StreamExecSignals, "0"},
		Count:   10,
		Block:   -1,
	}).SetVal([]redis.XStream{{
		Stream: domain.StreamExecSignals,
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]any{"payload": "a"}},
			{ID: "2-0", Values: map[string]any{"other": "skipped"}},
			{ID: "3-0", Values: map[string]any{"payload": "c"}},
		},
	}})

	msgs, err := bus.StreamRead(context.Background(), domain.StreamExecSignals, "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Equal(t, "c", string(msgs[1].Payload))
}

func TestSignalBusStreamReadEmpty(t *testing.T) {
	c, mock := newMock(t)
	bus := NewSignalBus(c)

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{"exec:presignals", "5-0"},
		Block:   -1,
	}).RedisNil()

	msgs, err := bus.StreamRead(context.Background(), "exec:presignals", "5-0", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSignalBusPublish(t *testing.T) {
	c, mock := newMock(t)
	bus := NewSignalBus(c)

	mock.ExpectPublish(domain.ChannelSignal, []byte("x")).SetErr(errors.New("down"))
	err := bus.Publish(context.Background(), domain.ChannelSignal, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ChannelSignal)
}

func TestMarketDataCache(t *testing.T) {
	c, mock := newMock(t)
	mc := NewMarketDataCache(c)
	ctx := context.Background()

	mcap, liq := 250_000.0, 30_000.0
	snap := domain.MarketSnapshot{
		TokenID:      "mint",
		MarketCapUSD: &mcap,
		LiquidityUSD: &liq,
		FetchedAt:    time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(snapshotJSON(snap))
	require.NoError(t, err)

	mock.ExpectSet("market:mint", data, 30*time.Second).SetVal("OK")
	require.NoError(t, mc.Set(ctx, snap, 30*time.Second))

	mock.ExpectGet("market:mint").SetVal(string(data))
	got, err := mc.Get(ctx, "mint")
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	mock.ExpectGet("market:gone").RedisNil()
	_, err = mc.Get(ctx, "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiterAllow(t *testing.T) {
	c, mock := newMock(t)
	rl := NewRateLimiter(c)
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	keys := []string{"ratelimit:webhook:1.2.3.4"}
	mock.ExpectEvalSha(rl.window.Hash(), keys, now.UnixMicro(), time.Minute.Microseconds(), 2).
		SetVal([]any{int64(1), int64(1)})
	mock.ExpectEvalSha(rl.window.Hash(), keys, now.UnixMicro(), time.Minute.Microseconds(), 2).
		SetVal([]any{int64(0), int64(0)})

	ok, err := rl.Allow(context.Background(), "webhook:1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rl.Allow(context.Background(), "webhook:1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
