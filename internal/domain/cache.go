package domain

import (
	"context"
	"time"
)

// MarketDataCache stores short-lived market snapshots.
type MarketDataCache interface {
	Set(ctx context.Context, snap MarketSnapshot, ttl time.Duration) error
	Get(ctx context.Context, tokenID string) (MarketSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// OnceGuard records that an action happened for a key. Claim returns true
// only for the first caller within ttl.
type OnceGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
