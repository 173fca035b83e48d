package domain

import "context"

// ExitDecision is the outcome of a position monitor evaluating a sell.
type ExitDecision struct {
	Signal      Signal
	Reason      string
	SoldWallets []string
	SoldShare   float64
}

// PositionMonitor decides whether a sell closes any active signal. Only
// signals it closed are returned.
type PositionMonitor interface {
	OnSell(ctx context.Context, trade TradeEvent) ([]ExitDecision, error)
}
