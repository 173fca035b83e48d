package domain

// QualityRequirement is the optional per-tier floor on how many of the
// converging wallets must be high quality.
type QualityRequirement struct {
	MinQualityWallets int      `toml:"min_quality_wallets" yaml:"min_quality_wallets" json:"min_quality_wallets"`
	MinBuyAmountUSD   *float64 `toml:"min_buy_amount_usd" yaml:"min_buy_amount_usd" json:"min_buy_amount_usd,omitempty"`
}

// TierConfig is one market-cap band of the tier table. The band covers
// [MinMcap, MaxMcap).
type TierConfig struct {
	Name                  string              `toml:"name" yaml:"name" json:"name"`
	MinMcap               float64             `toml:"min_mcap" yaml:"min_mcap" json:"min_mcap"`
	MaxMcap               float64             `toml:"max_mcap" yaml:"max_mcap" json:"max_mcap"`
	TimeWindowMinutes     int                 `toml:"time_window_minutes" yaml:"time_window_minutes" json:"time_window_minutes"`
	MinWallets            int                 `toml:"min_wallets" yaml:"min_wallets" json:"min_wallets"`
	ActivityWindowMinutes int                 `toml:"activity_window_minutes" yaml:"activity_window_minutes" json:"activity_window_minutes"`
	MinUniqueBuyers       int                 `toml:"min_unique_buyers" yaml:"min_unique_buyers" json:"min_unique_buyers"`
	Quality               *QualityRequirement `toml:"quality" yaml:"quality" json:"quality,omitempty"`
}

// Contains reports whether mcap falls inside the half-open band.
func (t TierConfig) Contains(mcap float64) bool {
	return mcap >= t.MinMcap && mcap < t.MaxMcap
}
