package consensus

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// Gate names, in default evaluation order.
const (
	GateMcapRange      = "mcap_range"
	GateTier           = "tier"
	GateLiquidityFloor = "liquidity_floor"
	GateLiquidityRatio = "liquidity_ratio"
	GateLiquidityTrend = "liquidity_trend"
	GateTierWallets    = "tier_wallets"
	GateTierActivity   = "tier_activity"
	GateTierQuality    = "tier_quality"
	GateVolumeSpike    = "volume_spike"
	GateBuyPressure    = "buy_pressure"
	GateMomentum       = "momentum"
	GateMovingAverage  = "moving_average"
	GateWhaleDump      = "whale_dump"
	GateDiversity      = "diversity"
	GateTokenAge       = "token_age"
)

// Input is everything the gates look at. Nil pointers are unknown values.
type Input struct {
	MarketCapUSD *float64
	LiquidityUSD *float64
	TokenSupply  *float64
	Tier         *domain.TierConfig
	Stats        WindowStats
	Wallets      map[string]domain.Wallet
}

// GateResult is the outcome of a single gate.
type GateResult struct {
	Passed   bool
	Skipped  bool
	Reason   string
	Warnings []string
	Notes    []string
}

// GateFunc is a pure predicate over the input and thresholds.
type GateFunc func(in *Input, th *Thresholds) GateResult

// Gate is a named cascade stage.
type Gate struct {
	Name  string
	Check GateFunc
}

func passed() GateResult { return GateResult{Passed: true} }

func skipped(reason string) GateResult {
	return GateResult{Passed: true, Skipped: true, Reason: reason}
}

func rejected(format string, args ...any) GateResult {
	return GateResult{Reason: fmt.Sprintf(format, args...)}
}

// AlwaysPass is a gate that never rejects.
func AlwaysPass(*Input, *Thresholds) GateResult { return passed() }

// DefaultGates returns the fifteen gates in evaluation order.
func DefaultGates() []Gate {
	return []Gate{
		{Name: GateMcapRange, Check: checkMcapRange},
		{Name: GateTier, Check: checkTier},
		{Name: GateLiquidityFloor, Check: checkLiquidityFloor},
		{Name: GateLiquidityRatio, Check: checkLiquidityRatio},
		{Name: GateLiquidityTrend, Check: checkLiquidityTrend},
		{Name: GateTierWallets, Check: checkTierWallets},
		{Name: GateTierActivity, Check: checkTierActivity},
		{Name: GateTierQuality, Check: checkTierQuality},
		{Name: GateVolumeSpike, Check: checkVolumeSpike},
		{Name: GateBuyPressure, Check: checkBuyPressure},
		{Name: GateMomentum, Check: checkMomentum},
		{Name: GateMovingAverage, Check: checkMovingAverage},
		{Name: GateWhaleDump, Check: checkWhaleDump},
		{Name: GateDiversity, Check: checkDiversity},
		{Name: GateTokenAge, Check: checkTokenAge},
	}
}

func checkMcapRange(in *Input, th *Thresholds) GateResult {
	if in.MarketCapUSD == nil {
		return rejected("market cap unknown")
	}
	mcap := *in.MarketCapUSD
	if mcap < th.GlobalMinMcap || mcap >= th.GlobalMaxMcap {
		return rejected("market cap %.0f outside [%.0f, %.0f)", mcap, th.GlobalMinMcap, th.GlobalMaxMcap)
	}
	return passed()
}

func checkTier(in *Input, _ *Thresholds) GateResult {
	if in.Tier == nil {
		return rejected("no tier matches market cap")
	}
	return passed()
}

func checkLiquidityFloor(in *Input, th *Thresholds) GateResult {
	if in.LiquidityUSD == nil {
		return skipped("liquidity unknown")
	}
	if *in.LiquidityUSD < th.MinLiquidityUSD {
		return rejected("liquidity %.0f below floor %.0f", *in.LiquidityUSD, th.MinLiquidityUSD)
	}
	return passed()
}

func checkLiquidityRatio(in *Input, th *Thresholds) GateResult {
	if in.LiquidityUSD == nil || in.MarketCapUSD == nil || *in.MarketCapUSD <= 0 {
		return skipped("liquidity or market cap unknown")
	}
	ratio := *in.LiquidityUSD / *in.MarketCapUSD
	if ratio < th.MinLiquidityRatio {
		return rejected("liquidity/mcap %.3f below %.3f", ratio, th.MinLiquidityRatio)
	}
	return passed()
}

func checkLiquidityTrend(in *Input, _ *Thresholds) GateResult {
	if in.LiquidityUSD == nil {
		return skipped("current liquidity unknown")
	}
	current := *in.LiquidityUSD
	checked := 0
	for _, sample := range in.Stats.LiquiditySamples {
		if sample.LiquidityUSD == nil || *sample.LiquidityUSD <= 0 {
			continue
		}
		checked++
		past := *sample.LiquidityUSD
		dropPct := (past - current) / past * 100
		if dropPct > sample.Check.MaxDropPct {
			return rejected("liquidity dropped %.1f%% over %dm (max %.1f%%)",
				dropPct, sample.Check.LookbackMinutes, sample.Check.MaxDropPct)
		}
	}
	if checked == 0 {
		return skipped("no historical liquidity samples")
	}
	return passed()
}

func checkTierWallets(in *Input, _ *Thresholds) GateResult {
	if in.Tier == nil {
		return rejected("no tier")
	}
	if n := in.Stats.WalletCount(); n < in.Tier.MinWallets {
		return rejected("%d wallets in %dm window, need %d", n, in.Tier.TimeWindowMinutes, in.Tier.MinWallets)
	}
	return passed()
}

func checkTierActivity(in *Input, _ *Thresholds) GateResult {
	if in.Tier == nil {
		return rejected("no tier")
	}
	if n := in.Stats.ActivityBuyers; n < in.Tier.MinUniqueBuyers {
		return rejected("%d unique buyers in %dm window, need %d", n, in.Tier.ActivityWindowMinutes, in.Tier.MinUniqueBuyers)
	}
	return passed()
}

func checkTierQuality(in *Input, th *Thresholds) GateResult {
	if in.Tier == nil || in.Tier.Quality == nil {
		return skipped("tier has no quality requirement")
	}
	req := in.Tier.Quality

	largest := make(map[string]float64, len(in.Stats.TierWallets))
	for _, b := range in.Stats.TierBuys {
		if b.ValueUSD > largest[b.WalletID] {
			largest[b.WalletID] = b.ValueUSD
		}
	}

	quality := 0
	for _, addr := range in.Stats.TierWallets {
		w, ok := in.Wallets[addr]
		tagged := ok && w.Tier > 0 && w.Tier <= th.QualityWalletMaxTier
		bigBuy := req.MinBuyAmountUSD != nil && largest[addr] >= *req.MinBuyAmountUSD
		if tagged || bigBuy {
			quality++
		}
	}
	if quality < req.MinQualityWallets {
		return rejected("%d quality wallets, need %d", quality, req.MinQualityWallets)
	}
	return passed()
}

func checkVolumeSpike(in *Input, th *Thresholds) GateResult {
	if in.Tier == nil {
		return skipped("no tier")
	}
	ratio, ok := in.Stats.VolumeSpike(in.Tier.TimeWindowMinutes)
	if !ok {
		return skipped("no trailing-hour volume")
	}
	if ratio < th.MinVolumeSpike {
		return rejected("volume spike %.2fx below %.2fx", ratio, th.MinVolumeSpike)
	}
	return passed()
}

func checkBuyPressure(in *Input, th *Thresholds) GateResult {
	s := in.Stats
	if s.BuyVolumeUSD <= 0 && s.SellVolumeUSD <= 0 {
		return skipped("no volume in pressure window")
	}
	ratio := s.BuySellRatio(th.NoSellsRatio)
	if ratio < th.BuySellBlockRatio {
		return rejected("buy/sell ratio %.2f below %.2f", ratio, th.BuySellBlockRatio)
	}
	res := passed()
	if ratio < th.BuySellWeakRatio {
		res.Warnings = append(res.Warnings, fmt.Sprintf("weak buy/sell ratio %.2f", ratio))
	}
	if br := s.BuyerSellerRatio(th.NoSellsRatio); br < th.BuyerSellerWeakRatio {
		res.Warnings = append(res.Warnings, fmt.Sprintf("more sellers than buyers (%.2f)", br))
	}
	return res
}

func checkMomentum(in *Input, th *Thresholds) GateResult {
	pct, ok := in.Stats.MomentumPct()
	if !ok {
		return skipped("fewer than two prices in pressure window")
	}
	if pct < th.MinMomentumPct {
		return rejected("momentum %.1f%% below %.1f%%", pct, th.MinMomentumPct)
	}
	if pct > th.MaxMomentumPct {
		return rejected("momentum %.1f%% above %.1f%% (overheated)", pct, th.MaxMomentumPct)
	}
	res := passed()
	if pct >= th.OptimalMomentumMin && pct <= th.OptimalMomentumMax {
		res.Notes = append(res.Notes, fmt.Sprintf("momentum %.1f%% in optimal range", pct))
	}
	return res
}

func checkMovingAverage(in *Input, _ *Thresholds) GateResult {
	s := in.Stats
	if s.CurrentPriceUSD == nil || (s.SMA1m == nil && s.SMA5m == nil) {
		return skipped("not enough price samples")
	}
	price := *s.CurrentPriceUSD
	if s.SMA1m != nil && price < *s.SMA1m {
		return rejected("price %.8g below 1m SMA %.8g", price, *s.SMA1m)
	}
	if s.SMA5m != nil && price < *s.SMA5m {
		return rejected("price %.8g below 5m SMA %.8g", price, *s.SMA5m)
	}
	return passed()
}

func checkWhaleDump(in *Input, th *Thresholds) GateResult {
	sells := in.Stats.Sells
	if len(sells) == 0 {
		return passed()
	}

	supply := in.TokenSupply
	if supply == nil && in.MarketCapUSD != nil && in.Stats.CurrentPriceUSD != nil && *in.Stats.CurrentPriceUSD > 0 {
		implied := *in.MarketCapUSD / *in.Stats.CurrentPriceUSD
		supply = &implied
	}
	usdCheck := in.MarketCapUSD != nil && *in.MarketCapUSD < th.WhaleUSDMcapCeiling

	for _, s := range sells {
		if supply != nil && *supply > 0 {
			limit := *supply * th.WhaleSupplyPct / 100
			if s.AmountToken >= limit {
				return rejected("sell %s of %.0f tokens is >= %.2f%% of supply", s.ID, s.AmountToken, th.WhaleSupplyPct)
			}
		}
		if usdCheck && s.ValueUSD >= th.WhaleMaxSellUSD {
			return rejected("sell %s of $%.0f is >= $%.0f", s.ID, s.ValueUSD, th.WhaleMaxSellUSD)
		}
	}
	return passed()
}

func checkDiversity(in *Input, th *Thresholds) GateResult {
	share, ok := in.Stats.Diversity()
	if !ok {
		return skipped("no buys in lookback")
	}
	if share < th.MinDiversity {
		return rejected("diversity %.2f below %.2f over %d buys", share, th.MinDiversity, in.Stats.DiversitySample)
	}
	return passed()
}

func checkTokenAge(in *Input, th *Thresholds) GateResult {
	if in.Stats.OldestBuyAt == nil {
		return skipped("no buys in lookback")
	}
	age := in.Stats.At.Sub(*in.Stats.OldestBuyAt)
	if age < minutes(th.MinTokenAgeMinutes) {
		return rejected("token age %s below %dm", age.Truncate(time.Second), th.MinTokenAgeMinutes)
	}
	return passed()
}
