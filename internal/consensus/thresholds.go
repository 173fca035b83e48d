package consensus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// Thresholds is the versioned threshold document driving the cascade. The
// engine treats it as immutable after construction.
type Thresholds struct {
	Version       string              `toml:"version" yaml:"version" json:"version"`
	GlobalMinMcap float64             `toml:"global_min_mcap" yaml:"global_min_mcap" json:"global_min_mcap"`
	GlobalMaxMcap float64             `toml:"global_max_mcap" yaml:"global_max_mcap" json:"global_max_mcap"`
	Tiers         []domain.TierConfig `toml:"tiers" yaml:"tiers" json:"tiers"`

	LookbackHours int `toml:"lookback_hours" yaml:"lookback_hours" json:"lookback_hours"`

	MinLiquidityUSD   float64          `toml:"min_liquidity_usd" yaml:"min_liquidity_usd" json:"min_liquidity_usd"`
	MinLiquidityRatio float64          `toml:"min_liquidity_ratio" yaml:"min_liquidity_ratio" json:"min_liquidity_ratio"`
	LiquidityChecks   []LiquidityCheck `toml:"liquidity_checks" yaml:"liquidity_checks" json:"liquidity_checks"`

	MinVolumeSpike float64 `toml:"min_volume_spike" yaml:"min_volume_spike" json:"min_volume_spike"`

	PressureWindowMinutes int     `toml:"pressure_window_minutes" yaml:"pressure_window_minutes" json:"pressure_window_minutes"`
	BuySellBlockRatio     float64 `toml:"buy_sell_block_ratio" yaml:"buy_sell_block_ratio" json:"buy_sell_block_ratio"`
	BuySellWeakRatio      float64 `toml:"buy_sell_weak_ratio" yaml:"buy_sell_weak_ratio" json:"buy_sell_weak_ratio"`
	BuyerSellerWeakRatio  float64 `toml:"buyer_seller_weak_ratio" yaml:"buyer_seller_weak_ratio" json:"buyer_seller_weak_ratio"`
	NoSellsRatio          float64 `toml:"no_sells_ratio" yaml:"no_sells_ratio" json:"no_sells_ratio"`

	MinMomentumPct     float64 `toml:"min_momentum_pct" yaml:"min_momentum_pct" json:"min_momentum_pct"`
	MaxMomentumPct     float64 `toml:"max_momentum_pct" yaml:"max_momentum_pct" json:"max_momentum_pct"`
	OptimalMomentumMin float64 `toml:"optimal_momentum_min" yaml:"optimal_momentum_min" json:"optimal_momentum_min"`
	OptimalMomentumMax float64 `toml:"optimal_momentum_max" yaml:"optimal_momentum_max" json:"optimal_momentum_max"`

	MinSamplesSMA1m int `toml:"min_samples_sma_1m" yaml:"min_samples_sma_1m" json:"min_samples_sma_1m"`
	MinSamplesSMA5m int `toml:"min_samples_sma_5m" yaml:"min_samples_sma_5m" json:"min_samples_sma_5m"`

	WhaleSupplyPct      float64 `toml:"whale_supply_pct" yaml:"whale_supply_pct" json:"whale_supply_pct"`
	WhaleMaxSellUSD     float64 `toml:"whale_max_sell_usd" yaml:"whale_max_sell_usd" json:"whale_max_sell_usd"`
	WhaleUSDMcapCeiling float64 `toml:"whale_usd_mcap_ceiling" yaml:"whale_usd_mcap_ceiling" json:"whale_usd_mcap_ceiling"`

	DiversitySampleSize int     `toml:"diversity_sample_size" yaml:"diversity_sample_size" json:"diversity_sample_size"`
	MinDiversity        float64 `toml:"min_diversity" yaml:"min_diversity" json:"min_diversity"`

	MinTokenAgeMinutes int `toml:"min_token_age_minutes" yaml:"min_token_age_minutes" json:"min_token_age_minutes"`

	QualityWalletMaxTier int `toml:"quality_wallet_max_tier" yaml:"quality_wallet_max_tier" json:"quality_wallet_max_tier"`

	ScoreBands []ScoreBand     `toml:"score_bands" yaml:"score_bands" json:"score_bands"`
	Priority   PriorityConfig  `toml:"priority" yaml:"priority" json:"priority"`
	Exit       ExitConfig      `toml:"exit" yaml:"exit" json:"exit"`
	Cluster    ClusterSettings `toml:"cluster" yaml:"cluster" json:"cluster"`
}

// LiquidityCheck compares current liquidity against the sample closest to
// LookbackMinutes ago (within ToleranceMinutes) and rejects drops larger
// than MaxDropPct.
type LiquidityCheck struct {
	LookbackMinutes  int     `toml:"lookback_minutes" yaml:"lookback_minutes" json:"lookback_minutes"`
	ToleranceMinutes int     `toml:"tolerance_minutes" yaml:"tolerance_minutes" json:"tolerance_minutes"`
	MaxDropPct       float64 `toml:"max_drop_pct" yaml:"max_drop_pct" json:"max_drop_pct"`
}

// ScoreBand maps a minimum wallet count to a quality score and risk level.
type ScoreBand struct {
	MinWallets int              `toml:"min_wallets" yaml:"min_wallets" json:"min_wallets"`
	Score      int              `toml:"score" yaml:"score" json:"score"`
	Risk       domain.RiskLevel `toml:"risk" yaml:"risk" json:"risk"`
}

// PriorityConfig holds the priority-fee bands. Fees are in SOL.
type PriorityConfig struct {
	VeryStrongRatio       float64 `toml:"very_strong_ratio" yaml:"very_strong_ratio" json:"very_strong_ratio"`
	VeryStrongMomentumMin float64 `toml:"very_strong_momentum_min" yaml:"very_strong_momentum_min" json:"very_strong_momentum_min"`
	VeryStrongMomentumMax float64 `toml:"very_strong_momentum_max" yaml:"very_strong_momentum_max" json:"very_strong_momentum_max"`
	StandardRatio         float64 `toml:"standard_ratio" yaml:"standard_ratio" json:"standard_ratio"`
	StandardMomentumMin   float64 `toml:"standard_momentum_min" yaml:"standard_momentum_min" json:"standard_momentum_min"`
	VeryStrongFeeSOL      string  `toml:"very_strong_fee_sol" yaml:"very_strong_fee_sol" json:"very_strong_fee_sol"`
	StandardFeeSOL        string  `toml:"standard_fee_sol" yaml:"standard_fee_sol" json:"standard_fee_sol"`
	WeakFeeSOL            string  `toml:"weak_fee_sol" yaml:"weak_fee_sol" json:"weak_fee_sol"`
}

// ExitConfig holds the risk parameters attached to execution signals and
// the share of signal wallets that must sell before a signal closes.
type ExitConfig struct {
	StopLossPercent   float64 `toml:"stop_loss_percent" yaml:"stop_loss_percent" json:"stop_loss_percent"`
	TakeProfitPercent float64 `toml:"take_profit_percent" yaml:"take_profit_percent" json:"take_profit_percent"`
	WalletShare       float64 `toml:"wallet_share" yaml:"wallet_share" json:"wallet_share"`
}

// ClusterSettings configures the cluster correlation check.
type ClusterSettings struct {
	MinClusterWallets int     `toml:"min_cluster_wallets" yaml:"min_cluster_wallets" json:"min_cluster_wallets"`
	MinCorrelation    float64 `toml:"min_correlation" yaml:"min_correlation" json:"min_correlation"`
	WindowMinutes     int     `toml:"window_minutes" yaml:"window_minutes" json:"window_minutes"`
}

func usd(v float64) *float64 { return &v }

// DefaultThresholds returns the production threshold document.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Version:       "2025-01",
		GlobalMinMcap: 80_000,
		GlobalMaxMcap: 1_000_000,
		Tiers: []domain.TierConfig{
			{Name: "tier1", MinMcap: 80_000, MaxMcap: 120_000, TimeWindowMinutes: 5, MinWallets: 2, ActivityWindowMinutes: 10, MinUniqueBuyers: 3},
			{Name: "tier2", MinMcap: 120_000, MaxMcap: 200_000, TimeWindowMinutes: 8, MinWallets: 3, ActivityWindowMinutes: 12, MinUniqueBuyers: 4},
			{Name: "tier3", MinMcap: 200_000, MaxMcap: 350_000, TimeWindowMinutes: 12, MinWallets: 4, ActivityWindowMinutes: 15, MinUniqueBuyers: 5,
				Quality: &domain.QualityRequirement{MinQualityWallets: 2, MinBuyAmountUSD: usd(500)}},
			{Name: "tier4", MinMcap: 350_000, MaxMcap: 600_000, TimeWindowMinutes: 15, MinWallets: 5, ActivityWindowMinutes: 20, MinUniqueBuyers: 6,
				Quality: &domain.QualityRequirement{MinQualityWallets: 3, MinBuyAmountUSD: usd(1000)}},
			{Name: "tier5", MinMcap: 600_000, MaxMcap: 1_000_000, TimeWindowMinutes: 20, MinWallets: 6, ActivityWindowMinutes: 30, MinUniqueBuyers: 8,
				Quality: &domain.QualityRequirement{MinQualityWallets: 3, MinBuyAmountUSD: usd(2000)}},
		},
		LookbackHours:     24,
		MinLiquidityUSD:   10_000,
		MinLiquidityRatio: 0.05,
		LiquidityChecks: []LiquidityCheck{
			{LookbackMinutes: 5, ToleranceMinutes: 2, MaxDropPct: 10},
			{LookbackMinutes: 15, ToleranceMinutes: 5, MaxDropPct: 20},
		},
		MinVolumeSpike:        1.5,
		PressureWindowMinutes: 5,
		BuySellBlockRatio:     1.2,
		BuySellWeakRatio:      1.5,
		BuyerSellerWeakRatio:  1.0,
		NoSellsRatio:          999,
		MinMomentumPct:        -5,
		MaxMomentumPct:        50,
		OptimalMomentumMin:    5,
		OptimalMomentumMax:    30,
		MinSamplesSMA1m:       2,
		MinSamplesSMA5m:       3,
		WhaleSupplyPct:        1,
		WhaleMaxSellUSD:       5_000,
		WhaleUSDMcapCeiling:   500_000,
		DiversitySampleSize:   30,
		MinDiversity:          0.6,
		MinTokenAgeMinutes:    30,
		QualityWalletMaxTier:  2,
		ScoreBands: []ScoreBand{
			{MinWallets: 4, Score: 85, Risk: domain.RiskLow},
			{MinWallets: 3, Score: 70, Risk: domain.RiskMedium},
			{MinWallets: 0, Score: 55, Risk: domain.RiskMedium},
		},
		Priority: PriorityConfig{
			VeryStrongRatio:       3,
			VeryStrongMomentumMin: 10,
			VeryStrongMomentumMax: 40,
			StandardRatio:         1.5,
			StandardMomentumMin:   3,
			VeryStrongFeeSOL:      "0.001",
			StandardFeeSOL:        "0.0005",
			WeakFeeSOL:            "0.0001",
		},
		Exit: ExitConfig{
			StopLossPercent:   25,
			TakeProfitPercent: 100,
			WalletShare:       0.5,
		},
		Cluster: ClusterSettings{
			MinClusterWallets: 3,
			MinCorrelation:    0.7,
			WindowMinutes:     15,
		},
	}
}

// Classify returns the tier whose half-open band contains mcap. Bands are
// scanned in ascending order and the first match wins.
func (t *Thresholds) Classify(mcap float64) (domain.TierConfig, bool) {
	if mcap < t.GlobalMinMcap || mcap >= t.GlobalMaxMcap {
		return domain.TierConfig{}, false
	}
	for _, tier := range t.Tiers {
		if tier.Contains(mcap) {
			return tier, true
		}
	}
	return domain.TierConfig{}, false
}

// ScoreFor returns the quality score and risk level for a wallet count.
func (t *Thresholds) ScoreFor(walletCount int) (int, domain.RiskLevel) {
	for _, b := range t.ScoreBands {
		if walletCount >= b.MinWallets {
			return b.Score, b.Risk
		}
	}
	return 0, domain.RiskHigh
}

// Validate checks the document for structural problems. Tiers are sorted
// by MinMcap in place; they must be contiguous and cover exactly
// [GlobalMinMcap, GlobalMaxMcap).
func (t *Thresholds) Validate() error {
	var errs []string

	if t.Version == "" {
		errs = append(errs, "version must not be empty")
	}
	if t.GlobalMinMcap < 0 || t.GlobalMaxMcap <= t.GlobalMinMcap {
		errs = append(errs, fmt.Sprintf("global mcap range [%g, %g) is empty", t.GlobalMinMcap, t.GlobalMaxMcap))
	}
	if len(t.Tiers) == 0 {
		errs = append(errs, "at least one tier is required")
	}

	sort.SliceStable(t.Tiers, func(i, j int) bool { return t.Tiers[i].MinMcap < t.Tiers[j].MinMcap })
	for i, tier := range t.Tiers {
		if tier.Name == "" {
			errs = append(errs, fmt.Sprintf("tier %d: name must not be empty", i))
		}
		if tier.MaxMcap <= tier.MinMcap {
			errs = append(errs, fmt.Sprintf("tier %s: max_mcap must exceed min_mcap", tier.Name))
		}
		if tier.TimeWindowMinutes <= 0 || tier.ActivityWindowMinutes <= 0 {
			errs = append(errs, fmt.Sprintf("tier %s: windows must be positive", tier.Name))
		}
		if tier.MinWallets < 1 || tier.MinUniqueBuyers < 1 {
			errs = append(errs, fmt.Sprintf("tier %s: min_wallets and min_unique_buyers must be >= 1", tier.Name))
		}
		if tier.Quality != nil && tier.Quality.MinQualityWallets < 0 {
			errs = append(errs, fmt.Sprintf("tier %s: min_quality_wallets must be >= 0", tier.Name))
		}
		if i == 0 && tier.MinMcap != t.GlobalMinMcap {
			errs = append(errs, fmt.Sprintf("tier %s: first tier must start at global_min_mcap", tier.Name))
		}
		if i > 0 && tier.MinMcap != t.Tiers[i-1].MaxMcap {
			errs = append(errs, fmt.Sprintf("tier %s: must start where tier %s ends", tier.Name, t.Tiers[i-1].Name))
		}
		if i == len(t.Tiers)-1 && tier.MaxMcap != t.GlobalMaxMcap {
			errs = append(errs, fmt.Sprintf("tier %s: last tier must end at global_max_mcap", tier.Name))
		}
	}

	if t.LookbackHours <= 0 {
		errs = append(errs, "lookback_hours must be > 0")
	}
	for _, c := range t.LiquidityChecks {
		if c.LookbackMinutes <= 0 || c.ToleranceMinutes < 0 || c.MaxDropPct <= 0 {
			errs = append(errs, fmt.Sprintf("liquidity check %dm: invalid parameters", c.LookbackMinutes))
		}
	}
	if t.PressureWindowMinutes <= 0 {
		errs = append(errs, "pressure_window_minutes must be > 0")
	}
	if t.BuySellWeakRatio < t.BuySellBlockRatio {
		errs = append(errs, "buy_sell_weak_ratio must be >= buy_sell_block_ratio")
	}
	if t.MaxMomentumPct <= t.MinMomentumPct {
		errs = append(errs, "max_momentum_pct must exceed min_momentum_pct")
	}
	if t.DiversitySampleSize <= 0 {
		errs = append(errs, "diversity_sample_size must be > 0")
	}
	if len(t.ScoreBands) == 0 {
		errs = append(errs, "at least one score band is required")
	}
	sort.SliceStable(t.ScoreBands, func(i, j int) bool { return t.ScoreBands[i].MinWallets > t.ScoreBands[j].MinWallets })
	for _, fee := range []string{t.Priority.VeryStrongFeeSOL, t.Priority.StandardFeeSOL, t.Priority.WeakFeeSOL} {
		if _, err := lamportsFromSOL(fee); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if t.Exit.WalletShare <= 0 || t.Exit.WalletShare > 1 {
		errs = append(errs, "exit.wallet_share must be in (0, 1]")
	}
	if t.Cluster.MinClusterWallets < 2 {
		errs = append(errs, "cluster.min_cluster_wallets must be >= 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: thresholds %s:\n  - %s", domain.ErrInvalidConfig, t.Version, strings.Join(errs, "\n  - "))
	}
	return nil
}

// LoadThresholdsFile decodes a threshold document from a TOML or YAML file
// on top of the defaults.
func LoadThresholdsFile(path string) (Thresholds, error) {
	th := DefaultThresholds()

	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("consensus: read thresholds %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		// Replace rather than merge list-valued sections.
		th.Tiers, th.ScoreBands, th.LiquidityChecks = nil, nil, nil
		if _, err := toml.Decode(string(data), &th); err != nil {
			return Thresholds{}, fmt.Errorf("consensus: decode thresholds %s: %w", path, err)
		}
	case ".yaml", ".yml":
		th.Tiers, th.ScoreBands, th.LiquidityChecks = nil, nil, nil
		if err := yaml.Unmarshal(data, &th); err != nil {
			return Thresholds{}, fmt.Errorf("consensus: decode thresholds %s: %w", path, err)
		}
	default:
		return Thresholds{}, errors.New("consensus: thresholds file must be .toml, .yaml or .yml")
	}

	def := DefaultThresholds()
	if len(th.Tiers) == 0 {
		th.Tiers = def.Tiers
	}
	if len(th.ScoreBands) == 0 {
		th.ScoreBands = def.ScoreBands
	}
	if th.LiquidityChecks == nil {
		th.LiquidityChecks = def.LiquidityChecks
	}
	return th, nil
}
