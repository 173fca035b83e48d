package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// DefaultMarketTTL is how long a fetched snapshot is served from cache.
const DefaultMarketTTL = 30 * time.Second

// MarketDataService implements domain.MarketDataProvider by fronting an
// upstream provider with a snapshot cache. Concurrent misses for the same
// token share one upstream call.
type MarketDataService struct {
	cache    domain.MarketDataCache
	upstream domain.MarketDataProvider
	ttl      time.Duration
	group    singleflight.Group
	logger   *slog.Logger
}

// NewMarketDataService creates a MarketDataService. A non-positive ttl
// uses DefaultMarketTTL.
func NewMarketDataService(
	cache domain.MarketDataCache,
	upstream domain.MarketDataProvider,
	ttl time.Duration,
	logger *slog.Logger,
) *MarketDataService {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketDataService{
		cache:    cache,
		upstream: upstream,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "market_data")),
	}
}

// Lookup returns the cached snapshot or fetches and caches a fresh one.
// Cache failures degrade to an upstream call.
func (s *MarketDataService) Lookup(ctx context.Context, tokenID string) (domain.MarketSnapshot, error) {
	snap, err := s.cache.Get(ctx, tokenID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "market_data: cache read failed",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
	}

	v, err, _ := s.group.Do(tokenID, func() (any, error) {
		fresh, err := s.upstream.Lookup(ctx, tokenID)
		if err != nil {
			return domain.MarketSnapshot{}, err
		}
		if setErr := s.cache.Set(ctx, fresh, s.ttl); setErr != nil {
			s.logger.WarnContext(ctx, "market_data: cache write failed",
				slog.String("token", tokenID),
				slog.String("error", setErr.Error()),
			)
		}
		return fresh, nil
	})
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market_data: lookup %s: %w", tokenID, err)
	}
	return v.(domain.MarketSnapshot), nil
}

var _ domain.MarketDataProvider = (*MarketDataService)(nil)
