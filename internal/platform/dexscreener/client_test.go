package dexscreener

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

const mint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:           srv.URL,
		RequestsPerMinute: 60_000,
		FailureThreshold:  2,
		OpenTimeout:       time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestLookupPicksMostLiquidPair(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/"+mint, r.URL.Path)
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":[
			{"chainId":"solana","baseToken":{"address":"` + mint + `"},"priceUsd":"0.00002","liquidity":{"usd":1000},"marketCap":150000},
			{"chainId":"solana","baseToken":{"address":"` + mint + `"},"priceUsd":"0.000021","liquidity":{"usd":42000},"fdv":210000},
			{"chainId":"ethereum","baseToken":{"address":"` + mint + `"},"liquidity":{"usd":9000000}},
			{"chainId":"solana","baseToken":{"address":"other"},"liquidity":{"usd":5000000}}
		]}`))
	})

	snap, err := c.Lookup(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, mint, snap.TokenID)
	require.NotNil(t, snap.LiquidityUSD)
	assert.InDelta(t, 42000.0, *snap.LiquidityUSD, 1e-9)
	require.NotNil(t, snap.MarketCapUSD)
	assert.InDelta(t, 210000.0, *snap.MarketCapUSD, 1e-9, "fdv is the market cap fallback")
	require.NotNil(t, snap.PriceUSD)
	assert.InDelta(t, 0.000021, *snap.PriceUSD, 1e-12)
	assert.Equal(t, time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC), snap.FetchedAt)
}

func TestLookupNoPairs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":null}`))
	})
	_, err := c.Lookup(context.Background(), mint)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Not-found answers never trip the breaker.
	for i := 0; i < 5; i++ {
		_, err = c.Lookup(context.Background(), mint)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func TestLookupBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		_, err := c.Lookup(context.Background(), mint)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrUnavailable)
	}

	_, err := c.Lookup(context.Background(), mint)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.EqualValues(t, 2, calls.Load(), "open breaker must not reach upstream")
}

func TestLookupRateLimitedUpstream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Lookup(context.Background(), mint)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestLookupContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Lookup(ctx, mint)
	require.Error(t, err)
}
