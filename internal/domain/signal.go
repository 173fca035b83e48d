package domain

import "time"

// SignalModel identifies the detector that produced a signal. At most one
// active signal exists per (token, model).
type SignalModel string

const (
	SignalModelConsensus SignalModel = "consensus"
	SignalModelCluster   SignalModel = "cluster"
)

// SignalStatus tracks whether a signal is still open.
type SignalStatus string

const (
	SignalStatusActive SignalStatus = "active"
	SignalStatusClosed SignalStatus = "closed"
)

// RiskLevel is the coarse risk label attached to a signal.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SignalMeta carries the detection details of a signal. WalletCount never
// decreases across updates.
type SignalMeta struct {
	WalletCount       int      `json:"wallet_count"`
	LastUpdateTradeID string   `json:"last_update_trade_id"`
	Tier              string   `json:"tier"`
	TimeWindowMinutes int      `json:"time_window_minutes"`
	WalletIDs         []string `json:"wallet_ids"`
	NotificationID    string   `json:"notification_id,omitempty"`
}

// Signal is a persisted consensus (or cluster) detection for a token.
type Signal struct {
	ID           string         `json:"id"`
	TokenID      string         `json:"token_id"`
	Model        SignalModel    `json:"model"`
	Meta         SignalMeta     `json:"meta"`
	QualityScore int            `json:"quality_score"`
	RiskLevel    RiskLevel      `json:"risk_level"`
	Status       SignalStatus   `json:"status"`
	Enrichment   map[string]any `json:"enrichment,omitempty"`
	CloseReason  string         `json:"close_reason,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
}

// PriorityTier is the discrete execution priority derived from buy pressure
// and momentum.
type PriorityTier string

const (
	PriorityVeryStrong PriorityTier = "very_strong"
	PriorityStandard   PriorityTier = "standard"
	PriorityWeak       PriorityTier = "weak"
)

// Execution signal types.
const (
	SignalTypeConsensusBuy  = "consensus_buy"
	SignalTypeClusterBuy    = "cluster_buy"
	SignalTypeConsensusExit = "consensus_exit"
)

// Channels and streams used for outbound pushes.
const (
	StreamExecSignals    = "exec:signals"
	StreamExecPreSignals = "exec:presignals"
	ChannelSignal        = "ch:signal"
	ChannelPreSignal     = "ch:presignal"
	ChannelExit          = "ch:exit"
)

// PreSignalEvent is the speculative "get ready" payload emitted when a token
// is one wallet short of its tier threshold.
type PreSignalEvent struct {
	TokenMint       string    `json:"token_mint"`
	TokenSymbol     string    `json:"token_symbol"`
	MarketCapUSD    float64   `json:"market_cap_usd"`
	LiquidityUSD    *float64  `json:"liquidity_usd,omitempty"`
	EntryPriceUSD   *float64  `json:"entry_price_usd,omitempty"`
	Tier            string    `json:"tier"`
	CurrentWallets  int       `json:"current_wallets"`
	RequiredWallets int       `json:"required_wallets"`
	Wallets         []string  `json:"wallets"`
	EmittedAt       time.Time `json:"emitted_at"`
}

// ExecutionSignal is the immutable payload pushed to the execution queue.
type ExecutionSignal struct {
	SignalID            string       `json:"signal_id"`
	SignalType          string       `json:"signal_type"`
	TokenMint           string       `json:"token_mint"`
	TokenSymbol         string       `json:"token_symbol,omitempty"`
	MarketCapUSD        *float64     `json:"market_cap_usd,omitempty"`
	LiquidityUSD        *float64     `json:"liquidity_usd,omitempty"`
	EntryPriceUSD       *float64     `json:"entry_price_usd,omitempty"`
	StopLossPercent     float64      `json:"stop_loss_percent"`
	TakeProfitPercent   float64      `json:"take_profit_percent"`
	Strength            PriorityTier `json:"strength"`
	Wallets             []string     `json:"wallets"`
	PriorityFeeLamports uint64       `json:"priority_fee_lamports"`
	CreatedAt           time.Time    `json:"created_at"`
}

// SignalLockKey is the exclusivity key guarding every mutation of the
// active signal for (token, model).
func SignalLockKey(tokenID string, model SignalModel) string {
	return "signal:" + tokenID + ":" + string(model)
}
