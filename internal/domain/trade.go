package domain

import (
	"fmt"
	"time"
)

// TradeSide is the direction of a swap from the wallet's point of view.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
	TradeSideVoid TradeSide = "void"
)

// TradeEvent is a single confirmed swap by a tracked wallet. Trades are
// immutable once persisted; the engine only reads them.
type TradeEvent struct {
	ID                string
	TokenID           string // token mint address
	WalletID          string // wallet owner address
	Side              TradeSide
	AmountToken       float64
	AmountBase        float64 // SOL
	ValueUSD          float64
	PriceBasePerToken float64
	MarketCapUSD      *float64
	LiquidityUSD      *float64
	Timestamp         time.Time
}

// PriceUSD returns the USD price per token implied by the trade, or 0 when
// the token amount is not positive.
func (t TradeEvent) PriceUSD() float64 {
	if t.AmountToken <= 0 {
		return 0
	}
	return t.ValueUSD / t.AmountToken
}

// IsBuy reports whether the trade is a buy.
func (t TradeEvent) IsBuy() bool { return t.Side == TradeSideBuy }

// IsSell reports whether the trade is a sell.
func (t TradeEvent) IsSell() bool { return t.Side == TradeSideSell }

// Validate checks the structural invariants of a trade event received from
// an external source. It wraps ErrInvalidTrade.
func (t TradeEvent) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTrade)
	}
	if !ValidAddress(t.TokenID) {
		return fmt.Errorf("%w: token %q is not a valid address", ErrInvalidTrade, t.TokenID)
	}
	if !ValidAddress(t.WalletID) {
		return fmt.Errorf("%w: wallet %q is not a valid address", ErrInvalidTrade, t.WalletID)
	}
	switch t.Side {
	case TradeSideBuy, TradeSideSell, TradeSideVoid:
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidTrade, t.Side)
	}
	if t.AmountToken < 0 || t.AmountBase < 0 || t.ValueUSD < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidTrade)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTrade)
	}
	if t.MarketCapUSD != nil && *t.MarketCapUSD < 0 {
		return fmt.Errorf("%w: negative market cap", ErrInvalidTrade)
	}
	if t.LiquidityUSD != nil && *t.LiquidityUSD < 0 {
		return fmt.Errorf("%w: negative liquidity", ErrInvalidTrade)
	}
	return nil
}
