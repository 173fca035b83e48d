package domain

import (
	"context"
	"time"
)

// MarketSnapshot is the latest known market state of a token. Nil fields
// are unknown.
type MarketSnapshot struct {
	TokenID      string
	MarketCapUSD *float64
	LiquidityUSD *float64
	PriceUSD     *float64
	FetchedAt    time.Time
}

// MarketDataProvider returns a market snapshot for a token. It is the
// fallback used when trade metadata lacks market cap or liquidity.
type MarketDataProvider interface {
	Lookup(ctx context.Context, tokenID string) (MarketSnapshot, error)
}
