// Package dexscreener is the market-data fallback used when a trade carries
// no market cap or liquidity. Requests are rate limited client side and
// guarded by a circuit breaker so an unhealthy upstream fails fast.
package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// DefaultBaseURL is the public DexScreener API root.
const DefaultBaseURL = "https://api.dexscreener.com"

// Config tunes the client. Zero values take the defaults.
type Config struct {
	BaseURL string
	// RequestsPerMinute is the client-side budget; DexScreener allows 300.
	RequestsPerMinute int
	Timeout           time.Duration
	// FailureThreshold consecutive failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
	ChainID          string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 240
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.ChainID == "" {
		c.ChainID = "solana"
	}
	return c
}

// Client implements domain.MarketDataProvider against DexScreener.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	now        func() time.Time
	logger     *slog.Logger
}

// NewClient creates a DexScreener client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	logger = logger.With(slog.String("component", "dexscreener"))

	settings := gobreaker.Settings{
		Name:        "dexscreener",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A missing pair is an answer, not an upstream failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("dexscreener: breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		now:        time.Now,
		logger:     logger,
	}
}

// Lookup returns the snapshot of the mint's most liquid pair on the
// configured chain. It returns domain.ErrNotFound when no pair exists and
// domain.ErrUnavailable while the breaker is open.
func (c *Client) Lookup(ctx context.Context, mint string) (domain.MarketSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("dexscreener: rate limit wait: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, mint)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.MarketSnapshot{}, fmt.Errorf("dexscreener: lookup %s: %w: %v", mint, domain.ErrUnavailable, err)
		}
		return domain.MarketSnapshot{}, fmt.Errorf("dexscreener: lookup %s: %w", mint, err)
	}
	return out.(domain.MarketSnapshot), nil
}

func (c *Client) fetch(ctx context.Context, mint string) (domain.MarketSnapshot, error) {
	endpoint := c.cfg.BaseURL + "/latest/dex/tokens/" + url.PathEscape(mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.MarketSnapshot{}, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.MarketSnapshot{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("decode response: %w", err)
	}

	pair, ok := bestPair(tr.Pairs, c.cfg.ChainID, mint)
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return toSnapshot(mint, pair, c.now()), nil
}

// bestPair picks the chain's pair with the highest USD liquidity where mint
// is the base token.
func bestPair(pairs []apiPair, chainID, mint string) (apiPair, bool) {
	var (
		best  apiPair
		bestL = -1.0
	)
	for _, p := range pairs {
		if p.ChainID != chainID || p.BaseToken.Address != mint {
			continue
		}
		liq := 0.0
		if p.Liquidity.USD != nil {
			liq = *p.Liquidity.USD
		}
		if liq > bestL {
			best, bestL = p, liq
		}
	}
	return best, bestL >= 0
}

func toSnapshot(mint string, p apiPair, at time.Time) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		TokenID:      mint,
		LiquidityUSD: p.Liquidity.USD,
		FetchedAt:    at.UTC(),
	}
	switch {
	case p.MarketCap != nil:
		snap.MarketCapUSD = p.MarketCap
	case p.FDV != nil:
		snap.MarketCapUSD = p.FDV
	}
	if price, err := strconv.ParseFloat(p.PriceUSD, 64); err == nil && price > 0 {
		snap.PriceUSD = &price
	}
	return snap
}

var _ domain.MarketDataProvider = (*Client)(nil)
