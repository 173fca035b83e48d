package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// MarketDataCache implements domain.MarketDataCache. Snapshots are stored
// as JSON strings at "market:{mint}" and expire with their TTL.
type MarketDataCache struct {
	rdb *redis.Client
}

// NewMarketDataCache creates a MarketDataCache backed by c.
func NewMarketDataCache(c *Client) *MarketDataCache {
	return &MarketDataCache{rdb: c.Underlying()}
}

func marketKey(tokenID string) string { return "market:" + tokenID }

type snapshotJSON struct {
	TokenID      string    `json:"token_id"`
	MarketCapUSD *float64  `json:"mcap_usd,omitempty"`
	LiquidityUSD *float64  `json:"liquidity_usd,omitempty"`
	PriceUSD     *float64  `json:"price_usd,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

func (mc *MarketDataCache) Set(ctx context.Context, snap domain.MarketSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshotJSON(snap))
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.TokenID, err)
	}
	if err := mc.rdb.Set(ctx, marketKey(snap.TokenID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.TokenID, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (mc *MarketDataCache) Get(ctx context.Context, tokenID string) (domain.MarketSnapshot, error) {
	data, err := mc.rdb.Get(ctx, marketKey(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, fmt.Errorf("redis: snapshot %s: %w", tokenID, domain.ErrNotFound)
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", tokenID, err)
	}

	var s snapshotJSON
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", tokenID, err)
	}
	return domain.MarketSnapshot(s), nil
}

var _ domain.MarketDataCache = (*MarketDataCache)(nil)
