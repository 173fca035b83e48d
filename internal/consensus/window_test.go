package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

func TestAggregateTier3Scenario(t *testing.T) {
	h := newHarness(t)
	h.tier3Scenario()
	th := DefaultThresholds()
	tier := tierByName(t, &th, "tier3")

	trades, err := h.trades.ListWindow(context.Background(), h.token, t0.Add(-24*time.Hour), t0)
	require.NoError(t, err)
	s := Aggregate(trades, t0, tier, &th)

	assert.Equal(t, []string{walletA, walletB, walletC, walletD}, s.TierWallets)
	assert.InDelta(t, 4700, s.WindowVolumeUSD, 1e-6)
	assert.Equal(t, 5, s.ActivityBuyers)
	assert.InDelta(t, 11750, s.HourVolumeUSD, 1e-6)

	spike, ok := s.VolumeSpike(tier.TimeWindowMinutes)
	require.True(t, ok)
	assert.InDelta(t, 2.0, spike, 1e-9)

	assert.InDelta(t, 2500, s.BuyVolumeUSD, 1e-6)
	assert.InDelta(t, 1000, s.SellVolumeUSD, 1e-6)
	assert.InDelta(t, 2.5, s.BuySellRatio(th.NoSellsRatio), 1e-9)
	require.Len(t, s.Sells, 1)
	assert.Equal(t, walletX, s.Sells[0].WalletID)

	momentum, ok := s.MomentumPct()
	require.True(t, ok)
	assert.InDelta(t, 12, momentum, 1e-6)

	require.NotNil(t, s.SMA1m)
	require.NotNil(t, s.SMA5m)
	assert.InDelta(t, 1.11, *s.SMA1m, 1e-9)
	assert.InDelta(t, 1.0675, *s.SMA5m, 1e-9)

	share, ok := s.Diversity()
	require.True(t, ok)
	assert.Equal(t, 30, s.DiversitySample)
	assert.InDelta(t, 0.8, share, 1e-9)

	require.NotNil(t, s.OldestBuyAt)
	assert.Equal(t, t0.Add(-90*time.Minute), *s.OldestBuyAt)

	require.Len(t, s.LiquiditySamples, 2)
	for _, ls := range s.LiquiditySamples {
		require.NotNil(t, ls.LiquidityUSD)
		assert.Equal(t, 30_000.0, *ls.LiquidityUSD)
	}
}

func TestAggregateIgnoresFutureAndVoid(t *testing.T) {
	th := DefaultThresholds()
	tier := tierByName(t, &th, "tier1")
	trades := []domain.TradeEvent{
		{ID: "1", WalletID: walletA, Side: domain.TradeSideBuy, ValueUSD: 100, AmountToken: 100, Timestamp: t0.Add(-time.Minute)},
		{ID: "2", WalletID: walletB, Side: domain.TradeSideVoid, ValueUSD: 100, AmountToken: 100, Timestamp: t0.Add(-time.Minute)},
		{ID: "3", WalletID: walletC, Side: domain.TradeSideBuy, ValueUSD: 100, AmountToken: 100, Timestamp: t0.Add(time.Second)},
	}

	s := Aggregate(trades, t0, tier, &th)
	assert.Equal(t, []string{walletA}, s.TierWallets)
	assert.InDelta(t, 100, s.WindowVolumeUSD, 1e-9)
	assert.Nil(t, s.SMA1m, "one sample is below the minimum")
	_, ok := s.MomentumPct()
	assert.False(t, ok)
}

func TestAggregateWithoutTier(t *testing.T) {
	th := DefaultThresholds()
	trades := []domain.TradeEvent{
		{ID: "1", WalletID: walletA, Side: domain.TradeSideBuy, ValueUSD: 100, AmountToken: 100, Timestamp: t0.Add(-time.Minute)},
	}
	s := Aggregate(trades, t0, nil, &th)
	assert.Empty(t, s.TierWallets)
	assert.Zero(t, s.ActivityBuyers)
	assert.InDelta(t, 100, s.BuyVolumeUSD, 1e-9)
}

func TestLiquidityNearPicksClosestWithinTolerance(t *testing.T) {
	c := LiquidityCheck{LookbackMinutes: 15, ToleranceMinutes: 5, MaxDropPct: 20}
	trades := []domain.TradeEvent{
		{Timestamp: t0.Add(-21 * time.Minute), LiquidityUSD: f64(1)},
		{Timestamp: t0.Add(-18 * time.Minute), LiquidityUSD: f64(2)},
		{Timestamp: t0.Add(-14 * time.Minute), LiquidityUSD: f64(3)},
		{Timestamp: t0.Add(-14 * time.Minute)},
	}
	got := liquidityNear(trades, t0, c)
	require.NotNil(t, got)
	assert.Equal(t, 3.0, *got)

	assert.Nil(t, liquidityNear(trades[:1], t0, c))
}
