package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/consensusbot/internal/cache/memory"
	"github.com/alanyoungcy/consensusbot/internal/domain"
	storemem "github.com/alanyoungcy/consensusbot/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingProvider struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (p *countingProvider) Lookup(_ context.Context, tokenID string) (domain.MarketSnapshot, error) {
	p.calls.Add(1)
	time.Sleep(p.delay)
	if p.err != nil {
		return domain.MarketSnapshot{}, p.err
	}
	mcap := 250_000.0
	return domain.MarketSnapshot{TokenID: tokenID, MarketCapUSD: &mcap}, nil
}

func TestMarketDataServiceCaches(t *testing.T) {
	up := &countingProvider{}
	svc := NewMarketDataService(cachemem.NewMarketDataCache(), up, time.Minute, discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		snap, err := svc.Lookup(ctx, "mint")
		require.NoError(t, err)
		require.NotNil(t, snap.MarketCapUSD)
		assert.InDelta(t, 250_000.0, *snap.MarketCapUSD, 1e-9)
	}
	assert.EqualValues(t, 1, up.calls.Load())
}

func TestMarketDataServiceCollapsesConcurrentMisses(t *testing.T) {
	up := &countingProvider{delay: 50 * time.Millisecond}
	svc := NewMarketDataService(cachemem.NewMarketDataCache(), up, time.Minute, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Lookup(context.Background(), "mint")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, up.calls.Load(), int32(2))
}

func TestMarketDataServiceUpstreamError(t *testing.T) {
	up := &countingProvider{err: domain.ErrUnavailable}
	svc := NewMarketDataService(cachemem.NewMarketDataCache(), up, 0, discardLogger())

	_, err := svc.Lookup(context.Background(), "mint")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

type captureSink struct {
	mu    sync.Mutex
	notes []domain.Notification
	err   error
}

func (c *captureSink) Deliver(_ context.Context, n domain.Notification) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
	return "follow-up", c.err
}

func TestEnrichmentService(t *testing.T) {
	ctx := context.Background()
	wallets := storemem.NewWalletStore()
	signals := storemem.NewSignalStore()
	sink := &captureSink{}

	require.NoError(t, wallets.Upsert(ctx, domain.Wallet{Address: "a", Score: 0.9, Tier: 1}))
	require.NoError(t, wallets.Upsert(ctx, domain.Wallet{Address: "b", Score: 0.5, Tier: 2}))
	require.NoError(t, wallets.Upsert(ctx, domain.Wallet{Address: "c", Score: 0.4, Tier: 2}))

	sig := domain.Signal{
		ID:      "sig-1",
		TokenID: "mint",
		Model:   domain.SignalModelConsensus,
		Meta:    domain.SignalMeta{WalletCount: 4, WalletIDs: []string{"a", "b", "c", "unknown"}},
		Status:  domain.SignalStatusActive,
	}
	require.NoError(t, signals.Create(ctx, sig))

	svc := NewEnrichmentService(wallets, signals, sink, discardLogger())
	svc.now = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, svc.Enrich(ctx, sig, "n-1"))

	got, err := signals.GetByID(ctx, "sig-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.Enrichment["avg_wallet_score"], 1e-9)
	assert.Equal(t, 3, got.Enrichment["known_wallets"])
	assert.Equal(t, map[string]any{"tier1": 1, "tier2": 2}, got.Enrichment["tier_mix"])
	assert.Equal(t, "2025-01-15T12:00:00Z", got.Enrichment["enriched_at"])

	require.Len(t, sink.notes, 1)
	assert.Equal(t, domain.EventSignalEnriched, sink.notes[0].Event)
	assert.Equal(t, "n-1", sink.notes[0].ReplyTo)
	assert.Equal(t, "tier1=1 tier2=2", sink.notes[0].Fields["tier_mix"])
}

func TestEnrichmentServiceSkipsFollowUpWithoutNotificationID(t *testing.T) {
	ctx := context.Background()
	signals := storemem.NewSignalStore()
	sig := domain.Signal{ID: "sig-1", TokenID: "mint", Model: domain.SignalModelCluster, Status: domain.SignalStatusActive}
	require.NoError(t, signals.Create(ctx, sig))
	sink := &captureSink{err: errors.New("unused")}

	svc := NewEnrichmentService(storemem.NewWalletStore(), signals, sink, discardLogger())
	require.NoError(t, svc.Enrich(ctx, sig, ""))
	assert.Empty(t, sink.notes)

	got, err := signals.GetByID(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Enrichment["avg_wallet_score"])
}

func TestEnrichmentServiceMissingSignal(t *testing.T) {
	svc := NewEnrichmentService(storemem.NewWalletStore(), storemem.NewSignalStore(), nil, discardLogger())
	err := svc.Enrich(context.Background(), domain.Signal{ID: "gone"}, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
