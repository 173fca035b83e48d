package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

type cachedSnapshot struct {
	snap    domain.MarketSnapshot
	expires time.Time
}

// MarketDataCache implements domain.MarketDataCache.
type MarketDataCache struct {
	mu    sync.RWMutex
	items map[string]cachedSnapshot
}

// NewMarketDataCache creates an empty MarketDataCache.
func NewMarketDataCache() *MarketDataCache {
	return &MarketDataCache{items: make(map[string]cachedSnapshot)}
}

func (c *MarketDataCache) Set(_ context.Context, snap domain.MarketSnapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[snap.TokenID] = cachedSnapshot{snap: snap, expires: time.Now().Add(ttl)}
	return nil
}

func (c *MarketDataCache) Get(_ context.Context, tokenID string) (domain.MarketSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[tokenID]
	if !ok || !time.Now().Before(item.expires) {
		return domain.MarketSnapshot{}, fmt.Errorf("memory: market snapshot %s: %w", tokenID, domain.ErrNotFound)
	}
	return item.snap, nil
}

// RateLimiter implements domain.RateLimiter with a sliding log per key.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time)}
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)
	hits := rl.hits[key][:0]
	for _, h := range rl.hits[key] {
		if h.After(cutoff) {
			hits = append(hits, h)
		}
	}
	if len(hits) >= limit {
		rl.hits[key] = hits
		return false, nil
	}
	rl.hits[key] = append(hits, now)
	return true, nil
}

var (
	_ domain.MarketDataCache = (*MarketDataCache)(nil)
	_ domain.RateLimiter     = (*RateLimiter)(nil)
)
