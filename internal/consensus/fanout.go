package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// emission is everything needed to announce a signal.
type emission struct {
	signal     domain.Signal
	signalType string
	symbol     string
	market     marketView
	strength   domain.PriorityTier
}

// executionSignal builds the immutable execution payload for em.
func (e *Engine) executionSignal(em emission) domain.ExecutionSignal {
	return domain.ExecutionSignal{
		SignalID:            em.signal.ID,
		SignalType:          em.signalType,
		TokenMint:           em.signal.TokenID,
		TokenSymbol:         em.symbol,
		MarketCapUSD:        em.market.MarketCapUSD,
		LiquidityUSD:        em.market.LiquidityUSD,
		EntryPriceUSD:       em.market.PriceUSD,
		StopLossPercent:     e.th.Exit.StopLossPercent,
		TakeProfitPercent:   e.th.Exit.TakeProfitPercent,
		Strength:            em.strength,
		Wallets:             append([]string(nil), em.signal.Meta.WalletIDs...),
		PriorityFeeLamports: e.th.Priority.FeeLamports(em.strength),
		CreatedAt:           em.signal.UpdatedAt,
	}
}

// announceCreated notifies operators, schedules enrichment once the
// notification id is known and pushes the execution signal. It reports
// whether the push was handed to the task runner.
func (e *Engine) announceCreated(ctx context.Context, em emission) bool {
	if e.deps.Notifier != nil {
		sig := em.signal
		e.notify(e.signalNotification(domain.EventSignalCreated, em), func(ctx context.Context, id string) error {
			if err := e.deps.Signals.SetNotificationID(ctx, sig.ID, id); err != nil {
				return fmt.Errorf("set notification id %s: %w", sig.ID, err)
			}
			if e.opts.EnrichmentEnabled && e.deps.Enricher != nil {
				e.deps.Tasks.Go("enrich", func(ctx context.Context) error {
					return e.deps.Enricher.Enrich(ctx, sig, id)
				})
			}
			return nil
		})
	}
	if !e.opts.ExecutionPushEnabled {
		return false
	}
	return e.push(ctx, e.executionSignal(em), domain.StreamExecSignals, domain.ChannelSignal)
}

// announceUpdated sends the update notification variant. Updates are not
// re-pushed for execution.
func (e *Engine) announceUpdated(_ context.Context, em emission) {
	if e.deps.Notifier == nil {
		return
	}
	n := e.signalNotification(domain.EventSignalUpdated, em)
	n.ReplyTo = em.signal.Meta.NotificationID
	e.notify(n, nil)
}

func (e *Engine) push(ctx context.Context, es domain.ExecutionSignal, stream, channel string) bool {
	payload, err := json.Marshal(es)
	if err != nil {
		e.logger.ErrorContext(ctx, "consensus: marshal execution signal",
			slog.String("signal_id", es.SignalID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return e.deps.Tasks.Go("push:"+es.SignalType, func(ctx context.Context) error {
		if err := e.deps.Bus.StreamAppend(ctx, stream, payload); err != nil {
			return fmt.Errorf("push %s %s: %w", es.SignalType, es.SignalID, err)
		}
		if err := e.deps.Bus.Publish(ctx, channel, payload); err != nil {
			return fmt.Errorf("publish %s %s: %w", es.SignalType, es.SignalID, err)
		}
		return nil
	})
}

// notify delivers n in the background and hands the correlation id to then.
func (e *Engine) notify(n domain.Notification, then func(ctx context.Context, id string) error) {
	e.deps.Tasks.Go("notify:"+n.Event, func(ctx context.Context) error {
		id, err := e.deps.Notifier.Deliver(ctx, n)
		if err != nil {
			return fmt.Errorf("deliver %s: %w", n.Event, err)
		}
		if then != nil {
			return then(ctx, id)
		}
		return nil
	})
}

func (e *Engine) signalNotification(event string, em emission) domain.Notification {
	sig := em.signal
	var title string
	switch event {
	case domain.EventSignalCreated:
		title = "New signal "
	case domain.EventSignalUpdated:
		title = "Signal update "
	default:
		title = "Signal "
	}
	fields := map[string]string{
		"token":    sig.TokenID,
		"model":    string(sig.Model),
		"tier":     sig.Meta.Tier,
		"wallets":  strconv.Itoa(sig.Meta.WalletCount),
		"score":    strconv.Itoa(sig.QualityScore),
		"risk":     string(sig.RiskLevel),
		"strength": string(em.strength),
	}
	if em.market.MarketCapUSD != nil {
		fields["mcap_usd"] = strconv.FormatFloat(*em.market.MarketCapUSD, 'f', 0, 64)
	}
	if em.market.LiquidityUSD != nil {
		fields["liquidity_usd"] = strconv.FormatFloat(*em.market.LiquidityUSD, 'f', 0, 64)
	}
	return domain.Notification{
		Event:   event,
		Title:   title + displayToken(em.symbol, sig.TokenID),
		Message: fmt.Sprintf("%d wallets: %s", sig.Meta.WalletCount, strings.Join(sig.Meta.WalletIDs, ", ")),
		Fields:  fields,
	}
}

func displayToken(symbol, mint string) string {
	if symbol != "" {
		return "$" + symbol
	}
	if len(mint) > 8 {
		return mint[:4] + ".." + mint[len(mint)-4:]
	}
	return mint
}
