package consensus

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

func tierByName(t *testing.T, th *Thresholds, name string) *domain.TierConfig {
	t.Helper()
	for i := range th.Tiers {
		if th.Tiers[i].Name == name {
			tier := th.Tiers[i]
			return &tier
		}
	}
	t.Fatalf("no tier %s", name)
	return nil
}

func TestWhaleDumpBoundary(t *testing.T) {
	th := DefaultThresholds()
	in := &Input{
		MarketCapUSD: f64(600_000), // above the USD ceiling, supply check only
		TokenSupply:  f64(1e9),
	}

	in.Stats.Sells = []domain.TradeEvent{{ID: "s1", Side: domain.TradeSideSell, AmountToken: 1e7, ValueUSD: 100}}
	res := checkWhaleDump(in, &th)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Reason, "s1")

	in.Stats.Sells = []domain.TradeEvent{{ID: "s2", Side: domain.TradeSideSell, AmountToken: 1e7 - 1, ValueUSD: 100}}
	res = checkWhaleDump(in, &th)
	assert.True(t, res.Passed)
}

func TestWhaleDumpUSDCheck(t *testing.T) {
	th := DefaultThresholds()
	sells := []domain.TradeEvent{{ID: "s1", Side: domain.TradeSideSell, AmountToken: 10, ValueUSD: 5_000}}

	low := &Input{MarketCapUSD: f64(300_000), Stats: WindowStats{Sells: sells}}
	assert.False(t, checkWhaleDump(low, &th).Passed)

	high := &Input{MarketCapUSD: f64(500_000), Stats: WindowStats{Sells: sells}}
	assert.True(t, checkWhaleDump(high, &th).Passed)
}

func TestWhaleDumpImpliedSupply(t *testing.T) {
	th := DefaultThresholds()
	in := &Input{
		MarketCapUSD: f64(600_000),
		Stats: WindowStats{
			CurrentPriceUSD: f64(0.001), // implied supply 6e8
			Sells:           []domain.TradeEvent{{ID: "s1", Side: domain.TradeSideSell, AmountToken: 7e6}},
		},
	}
	assert.False(t, checkWhaleDump(in, &th).Passed)
}

func TestMcapRange(t *testing.T) {
	th := DefaultThresholds()
	assert.False(t, checkMcapRange(&Input{}, &th).Passed)
	assert.False(t, checkMcapRange(&Input{MarketCapUSD: f64(79_999)}, &th).Passed)
	assert.False(t, checkMcapRange(&Input{MarketCapUSD: f64(1_000_000)}, &th).Passed)
	assert.True(t, checkMcapRange(&Input{MarketCapUSD: f64(80_000)}, &th).Passed)
}

func TestLiquidityGates(t *testing.T) {
	th := DefaultThresholds()

	res := checkLiquidityFloor(&Input{}, &th)
	assert.True(t, res.Passed)
	assert.True(t, res.Skipped)
	assert.False(t, checkLiquidityFloor(&Input{LiquidityUSD: f64(9_999)}, &th).Passed)

	// 10k liquidity on a 250k token is 4%, below the 5% ratio.
	assert.False(t, checkLiquidityRatio(&Input{LiquidityUSD: f64(10_000), MarketCapUSD: f64(250_000)}, &th).Passed)
	assert.True(t, checkLiquidityRatio(&Input{LiquidityUSD: f64(12_500), MarketCapUSD: f64(250_000)}, &th).Passed)
}

func TestLiquidityTrend(t *testing.T) {
	th := DefaultThresholds()
	samples := func(five, fifteen *float64) []LiquiditySample {
		return []LiquiditySample{
			{Check: th.LiquidityChecks[0], LiquidityUSD: five},
			{Check: th.LiquidityChecks[1], LiquidityUSD: fifteen},
		}
	}

	cases := []struct {
		name    string
		current float64
		five    *float64
		fifteen *float64
		pass    bool
		skip    bool
	}{
		{name: "stable", current: 30_000, five: f64(30_000), fifteen: f64(31_000), pass: true},
		{name: "10pct drop allowed", current: 27_000, five: f64(30_000), pass: true},
		{name: "5m drop", current: 26_000, five: f64(30_000), pass: false},
		{name: "15m drop", current: 30_000, five: f64(30_000), fifteen: f64(40_000), pass: false},
		{name: "no history", current: 30_000, pass: true, skip: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := &Input{LiquidityUSD: f64(tc.current), Stats: WindowStats{LiquiditySamples: samples(tc.five, tc.fifteen)}}
			res := checkLiquidityTrend(in, &th)
			assert.Equal(t, tc.pass, res.Passed)
			assert.Equal(t, tc.skip, res.Skipped)
		})
	}
}

func TestTierQuality(t *testing.T) {
	th := DefaultThresholds()
	tier := tierByName(t, &th, "tier3") // 2 quality wallets, buy >= $500

	in := &Input{
		Tier: tier,
		Stats: WindowStats{
			TierWallets: []string{walletA, walletB, walletC},
			TierBuys: []domain.TradeEvent{
				{WalletID: walletA, ValueUSD: 100},
				{WalletID: walletB, ValueUSD: 100},
				{WalletID: walletC, ValueUSD: 100},
			},
		},
		Wallets: map[string]domain.Wallet{
			walletA: {Address: walletA, Tier: 1},
			walletB: {Address: walletB, Tier: 3},
		},
	}
	assert.False(t, checkTierQuality(in, &th).Passed)

	// A large buy qualifies an untagged wallet.
	in.Stats.TierBuys = append(in.Stats.TierBuys, domain.TradeEvent{WalletID: walletC, ValueUSD: 500})
	assert.True(t, checkTierQuality(in, &th).Passed)

	res := checkTierQuality(&Input{Tier: tierByName(t, &th, "tier1")}, &th)
	assert.True(t, res.Skipped)
}

func TestBuyPressure(t *testing.T) {
	th := DefaultThresholds()

	res := checkBuyPressure(&Input{}, &th)
	assert.True(t, res.Skipped)

	res = checkBuyPressure(&Input{Stats: WindowStats{BuyVolumeUSD: 1_100, SellVolumeUSD: 1_000, UniqueBuyers: 1, UniqueSellers: 1}}, &th)
	assert.False(t, res.Passed)

	res = checkBuyPressure(&Input{Stats: WindowStats{BuyVolumeUSD: 1_300, SellVolumeUSD: 1_000, UniqueBuyers: 1, UniqueSellers: 2}}, &th)
	assert.True(t, res.Passed)
	require.Len(t, res.Warnings, 2)
	assert.True(t, strings.HasPrefix(res.Warnings[0], "weak buy/sell ratio"))

	res = checkBuyPressure(&Input{Stats: WindowStats{BuyVolumeUSD: 500, UniqueBuyers: 2}}, &th)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Warnings)
}

func TestMomentum(t *testing.T) {
	th := DefaultThresholds()
	prices := func(first, last float64) WindowStats {
		return WindowStats{Prices: []PricePoint{{At: t0, PriceUSD: first}, {At: t0.Add(time.Minute), PriceUSD: last}}}
	}

	res := checkMomentum(&Input{Stats: prices(1, 1.12)}, &th)
	assert.True(t, res.Passed)
	assert.Len(t, res.Notes, 1)

	res = checkMomentum(&Input{Stats: prices(1, 1.02)}, &th)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Notes)

	assert.False(t, checkMomentum(&Input{Stats: prices(1, 0.94)}, &th).Passed)
	assert.False(t, checkMomentum(&Input{Stats: prices(1, 1.51)}, &th).Passed)
	assert.True(t, checkMomentum(&Input{}, &th).Skipped)
}

func TestMovingAverage(t *testing.T) {
	th := DefaultThresholds()

	assert.True(t, checkMovingAverage(&Input{Stats: WindowStats{CurrentPriceUSD: f64(1)}}, &th).Skipped)
	assert.True(t, checkMovingAverage(&Input{Stats: WindowStats{CurrentPriceUSD: f64(1.1), SMA1m: f64(1.05), SMA5m: f64(1.0)}}, &th).Passed)
	assert.False(t, checkMovingAverage(&Input{Stats: WindowStats{CurrentPriceUSD: f64(1.0), SMA1m: f64(1.05)}}, &th).Passed)
	assert.False(t, checkMovingAverage(&Input{Stats: WindowStats{CurrentPriceUSD: f64(1.0), SMA5m: f64(1.01)}}, &th).Passed)
}

func TestDiversityAndAge(t *testing.T) {
	th := DefaultThresholds()

	assert.False(t, checkDiversity(&Input{Stats: WindowStats{DiversitySample: 30, DiversityUnique: 17}}, &th).Passed)
	assert.True(t, checkDiversity(&Input{Stats: WindowStats{DiversitySample: 30, DiversityUnique: 18}}, &th).Passed)
	assert.True(t, checkDiversity(&Input{}, &th).Skipped)

	young := t0.Add(-29 * time.Minute)
	assert.False(t, checkTokenAge(&Input{Stats: WindowStats{At: t0, OldestBuyAt: &young}}, &th).Passed)
	old := t0.Add(-30 * time.Minute)
	assert.True(t, checkTokenAge(&Input{Stats: WindowStats{At: t0, OldestBuyAt: &old}}, &th).Passed)
}

func TestCascadeShortCircuits(t *testing.T) {
	th := DefaultThresholds()
	var calls []string
	track := func(name string, pass bool) Gate {
		return Gate{Name: name, Check: func(*Input, *Thresholds) GateResult {
			calls = append(calls, name)
			if !pass {
				return rejected("%s failed", name)
			}
			return GateResult{Passed: true, Warnings: []string{name + " warning"}}
		}}
	}

	c := NewCascade(&th, track("a", true), track("b", false), track("c", true))
	v := c.Evaluate(&Input{})
	assert.False(t, v.Passed)
	assert.Equal(t, "b", v.FailedGate)
	assert.Equal(t, "b failed", v.Reason)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, []string{"a warning"}, v.Warnings)

	calls = nil
	v = c.WithGate("b", AlwaysPass).Evaluate(&Input{})
	assert.True(t, v.Passed)
	assert.Equal(t, []string{"a", "c"}, calls)

	// The original cascade is unchanged.
	assert.False(t, c.Evaluate(&Input{}).Passed)
}

func TestDefaultGateOrder(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, []string{
		GateMcapRange, GateTier,
		GateLiquidityFloor, GateLiquidityRatio, GateLiquidityTrend,
		GateTierWallets, GateTierActivity, GateTierQuality,
		GateVolumeSpike, GateBuyPressure, GateMomentum, GateMovingAverage,
		GateWhaleDump, GateDiversity, GateTokenAge,
	}, NewCascade(&th).Gates())
}
