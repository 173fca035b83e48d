package consensus

import (
	"math"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// PricePoint is one trade price observation.
type PricePoint struct {
	At       time.Time
	PriceUSD float64
}

// LiquiditySample is the historical liquidity found for one LiquidityCheck.
// LiquidityUSD is nil when no trade fell inside the tolerance.
type LiquiditySample struct {
	Check        LiquidityCheck
	LiquidityUSD *float64
}

// WindowStats is the set of windowed aggregates for one evaluation. It is
// derived fresh from trade history on every run and never cached.
type WindowStats struct {
	At time.Time

	// Tier window.
	TierWallets     []string
	TierBuys        []domain.TradeEvent
	WindowVolumeUSD float64

	// Activity window.
	ActivityBuyers int

	// Trailing hour.
	HourVolumeUSD float64

	// Pressure window (5 min by default).
	BuyVolumeUSD  float64
	SellVolumeUSD float64
	UniqueBuyers  int
	UniqueSellers int
	Sells         []domain.TradeEvent
	Prices        []PricePoint

	CurrentPriceUSD *float64
	SMA1m           *float64
	SMA5m           *float64

	LiquiditySamples []LiquiditySample

	DiversitySample int
	DiversityUnique int

	OldestBuyAt *time.Time
}

// WalletCount is the number of distinct wallets buying in the tier window.
func (s WindowStats) WalletCount() int { return len(s.TierWallets) }

// BuySellRatio returns buy volume over sell volume in the pressure window.
// With no sells it returns noSells.
func (s WindowStats) BuySellRatio(noSells float64) float64 {
	if s.SellVolumeUSD <= 0 {
		if s.BuyVolumeUSD <= 0 {
			return 0
		}
		return noSells
	}
	return s.BuyVolumeUSD / s.SellVolumeUSD
}

// BuyerSellerRatio returns unique buyers over unique sellers in the
// pressure window, or noSells when nobody sold.
func (s WindowStats) BuyerSellerRatio(noSells float64) float64 {
	if s.UniqueSellers == 0 {
		if s.UniqueBuyers == 0 {
			return 0
		}
		return noSells
	}
	return float64(s.UniqueBuyers) / float64(s.UniqueSellers)
}

// MomentumPct is the percentage change from the earliest to the latest
// price in the pressure window. ok is false with fewer than two prices.
func (s WindowStats) MomentumPct() (pct float64, ok bool) {
	if len(s.Prices) < 2 {
		return 0, false
	}
	first := s.Prices[0].PriceUSD
	last := s.Prices[len(s.Prices)-1].PriceUSD
	if first <= 0 {
		return 0, false
	}
	return (last - first) / first * 100, true
}

// VolumeSpike returns the tier-window volume divided by the volume expected
// from the trailing-hour rate. ok is false when the expectation is zero.
func (s WindowStats) VolumeSpike(windowMinutes int) (ratio float64, ok bool) {
	expected := s.HourVolumeUSD / 60 * float64(windowMinutes)
	if expected <= 0 {
		return 0, false
	}
	return s.WindowVolumeUSD / expected, true
}

// Diversity returns the unique-wallet share of the recent buy sample.
func (s WindowStats) Diversity() (share float64, ok bool) {
	if s.DiversitySample == 0 {
		return 0, false
	}
	return float64(s.DiversityUnique) / float64(s.DiversitySample), true
}

// Aggregate computes WindowStats at time at from trades, which must be the
// token's trades over the lookback ordered by timestamp ascending. Trades
// after at are ignored. A nil tier leaves the tier and activity windows
// empty.
func Aggregate(trades []domain.TradeEvent, at time.Time, tier *domain.TierConfig, th *Thresholds) WindowStats {
	s := WindowStats{At: at}

	var tierStart, activityStart time.Time
	if tier != nil {
		tierStart = at.Add(-minutes(tier.TimeWindowMinutes))
		activityStart = at.Add(-minutes(tier.ActivityWindowMinutes))
	}
	hourStart := at.Add(-time.Hour)
	pressureStart := at.Add(-minutes(th.PressureWindowMinutes))
	oneMinStart := at.Add(-time.Minute)
	fiveMinStart := at.Add(-5 * time.Minute)

	tierSeen := make(map[string]bool)
	activitySeen := make(map[string]bool)
	buyersSeen := make(map[string]bool)
	sellersSeen := make(map[string]bool)

	var sma1, sma5 []float64
	var buys []domain.TradeEvent

	for _, t := range trades {
		if t.Timestamp.After(at) || t.Side == domain.TradeSideVoid {
			continue
		}
		price := t.PriceUSD()

		if t.IsBuy() {
			buys = append(buys, t)
			if s.OldestBuyAt == nil || t.Timestamp.Before(*s.OldestBuyAt) {
				ts := t.Timestamp
				s.OldestBuyAt = &ts
			}
		}

		if tier != nil && !t.Timestamp.Before(tierStart) {
			s.WindowVolumeUSD += t.ValueUSD
			if t.IsBuy() {
				s.TierBuys = append(s.TierBuys, t)
				if !tierSeen[t.WalletID] {
					tierSeen[t.WalletID] = true
					s.TierWallets = append(s.TierWallets, t.WalletID)
				}
			}
		}
		if tier != nil && t.IsBuy() && !t.Timestamp.Before(activityStart) {
			activitySeen[t.WalletID] = true
		}
		if !t.Timestamp.Before(hourStart) {
			s.HourVolumeUSD += t.ValueUSD
		}

		if !t.Timestamp.Before(pressureStart) {
			if t.IsBuy() {
				s.BuyVolumeUSD += t.ValueUSD
				buyersSeen[t.WalletID] = true
			} else {
				s.SellVolumeUSD += t.ValueUSD
				sellersSeen[t.WalletID] = true
				s.Sells = append(s.Sells, t)
			}
			if price > 0 {
				s.Prices = append(s.Prices, PricePoint{At: t.Timestamp, PriceUSD: price})
			}
		}

		if price > 0 {
			p := price
			s.CurrentPriceUSD = &p
			if !t.Timestamp.Before(oneMinStart) {
				sma1 = append(sma1, price)
			}
			if !t.Timestamp.Before(fiveMinStart) {
				sma5 = append(sma5, price)
			}
		}
	}

	s.ActivityBuyers = len(activitySeen)
	s.UniqueBuyers = len(buyersSeen)
	s.UniqueSellers = len(sellersSeen)
	s.SMA1m = mean(sma1, th.MinSamplesSMA1m)
	s.SMA5m = mean(sma5, th.MinSamplesSMA5m)

	for _, c := range th.LiquidityChecks {
		s.LiquiditySamples = append(s.LiquiditySamples, LiquiditySample{
			Check:        c,
			LiquidityUSD: liquidityNear(trades, at, c),
		})
	}

	sample := buys
	if len(sample) > th.DiversitySampleSize {
		sample = sample[len(sample)-th.DiversitySampleSize:]
	}
	unique := make(map[string]bool, len(sample))
	for _, b := range sample {
		unique[b.WalletID] = true
	}
	s.DiversitySample = len(sample)
	s.DiversityUnique = len(unique)

	return s
}

// liquidityNear returns the liquidity of the trade closest to
// at - c.LookbackMinutes, provided it lies within the tolerance.
func liquidityNear(trades []domain.TradeEvent, at time.Time, c LiquidityCheck) *float64 {
	target := at.Add(-minutes(c.LookbackMinutes))
	tolerance := minutes(c.ToleranceMinutes)

	var best *float64
	bestDiff := time.Duration(math.MaxInt64)
	for _, t := range trades {
		if t.LiquidityUSD == nil || t.Timestamp.After(at) {
			continue
		}
		diff := t.Timestamp.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance || diff >= bestDiff {
			continue
		}
		v := *t.LiquidityUSD
		best = &v
		bestDiff = diff
	}
	return best
}

func mean(values []float64, minSamples int) *float64 {
	if len(values) == 0 || len(values) < minSamples {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
