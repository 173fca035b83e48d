package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// SellResult is the outcome of EvaluateSell.
type SellResult struct {
	Closed      bool                     `json:"closed"`
	SignalIDs   []string                 `json:"signal_ids,omitempty"`
	ExitSignals []domain.ExecutionSignal `json:"exit_signals,omitempty"`
}

// EvaluateSell hands a sell to the position monitor and announces every
// signal it closed. Exits carry the very-strong fee.
func (e *Engine) EvaluateSell(ctx context.Context, tradeID string) (SellResult, error) {
	start := time.Now()
	res, err := e.evaluateSell(ctx, tradeID)

	result := ResultIgnored
	switch {
	case err != nil:
		result = ResultError
	case res.Closed:
		result = ResultSignal
	}
	e.deps.Metrics.ObserveEvaluation("sell", result, time.Since(start))
	return res, err
}

func (e *Engine) evaluateSell(ctx context.Context, tradeID string) (SellResult, error) {
	var res SellResult

	trade, err := e.deps.Trades.GetByID(ctx, tradeID)
	if err != nil {
		return res, fmt.Errorf("consensus: load trade %s: %w", tradeID, err)
	}
	if !trade.IsSell() || e.deps.Monitor == nil {
		return res, nil
	}

	decisions, err := e.deps.Monitor.OnSell(ctx, trade)
	if err != nil {
		return res, fmt.Errorf("consensus: position monitor %s: %w", tradeID, err)
	}
	if len(decisions) == 0 {
		return res, nil
	}

	mv := e.marketState(ctx, trade.TokenID, marketView{
		MarketCapUSD: trade.MarketCapUSD,
		LiquidityUSD: trade.LiquidityUSD,
		PriceUSD:     positive(trade.PriceUSD()),
	})
	symbol := e.lookupToken(ctx, trade.TokenID).Symbol

	for _, d := range decisions {
		e.deps.Metrics.LifecycleOutcome(d.Signal.Model, "closed")
		res.Closed = true
		res.SignalIDs = append(res.SignalIDs, d.Signal.ID)

		em := emission{
			signal:     d.Signal,
			signalType: domain.SignalTypeConsensusExit,
			symbol:     symbol,
			market:     mv,
			strength:   domain.PriorityVeryStrong,
		}
		es := e.executionSignal(em)
		es.Wallets = append([]string(nil), d.SoldWallets...)
		es.CreatedAt = trade.Timestamp
		res.ExitSignals = append(res.ExitSignals, es)

		if e.opts.ExecutionPushEnabled {
			e.push(ctx, es, domain.StreamExecSignals, domain.ChannelExit)
		}
		if e.deps.Notifier != nil {
			e.notify(domain.Notification{
				Event:   domain.EventSignalClosed,
				Title:   "Exit " + displayToken(symbol, trade.TokenID),
				Message: fmt.Sprintf("%s: %d of %d wallets sold", d.Reason, len(d.SoldWallets), d.Signal.Meta.WalletCount),
				Fields: map[string]string{
					"token":      trade.TokenID,
					"signal_id":  d.Signal.ID,
					"reason":     d.Reason,
					"sold_share": strconv.FormatFloat(d.SoldShare, 'f', 2, 64),
				},
				ReplyTo: d.Signal.Meta.NotificationID,
			}, nil)
		}

		e.logger.InfoContext(ctx, "consensus: signal closed",
			slog.String("token", trade.TokenID),
			slog.String("signal_id", d.Signal.ID),
			slog.String("reason", d.Reason),
			slog.Float64("sold_share", d.SoldShare),
		)
	}
	return res, nil
}
