package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

type preSignal struct {
	tokenID string
	symbol  string
	tier    domain.TierConfig
	stats   WindowStats
	market  marketView
	at      time.Time
}

// PreSignalKey is the once-guard key for a token reaching one wallet short
// of a tier threshold.
func PreSignalKey(tokenID, tier string, required int) string {
	return fmt.Sprintf("presignal:%s:%s:%d", tokenID, tier, required)
}

// maybePreSignal emits a PreSignalEvent when the tier window holds exactly
// MinWallets-1 wallets and no event was emitted for this threshold yet. It
// never fails the evaluation.
func (e *Engine) maybePreSignal(ctx context.Context, p preSignal) bool {
	required := p.tier.MinWallets
	// Counted over the tier window, not the full lookback, so it matches the consensus count.
	current := p.stats.WalletCount()
	if required < 2 || current != required-1 {
		return false
	}

	if e.deps.Once != nil {
		first, err := e.deps.Once.Claim(ctx, PreSignalKey(p.tokenID, p.tier.Name, required), minutes(p.tier.TimeWindowMinutes))
		if err != nil {
			e.logger.WarnContext(ctx, "consensus: presignal claim failed",
				slog.String("token", p.tokenID),
				slog.String("error", err.Error()),
			)
			return false
		}
		if !first {
			return false
		}
	}

	var mcap float64
	if p.market.MarketCapUSD != nil {
		mcap = *p.market.MarketCapUSD
	}
	evt := domain.PreSignalEvent{
		TokenMint:       p.tokenID,
		TokenSymbol:     p.symbol,
		MarketCapUSD:    mcap,
		LiquidityUSD:    p.market.LiquidityUSD,
		EntryPriceUSD:   p.market.PriceUSD,
		Tier:            p.tier.Name,
		CurrentWallets:  current,
		RequiredWallets: required,
		Wallets:         append([]string(nil), p.stats.TierWallets...),
		EmittedAt:       p.at,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.ErrorContext(ctx, "consensus: marshal presignal", slog.String("error", err.Error()))
		return false
	}

	accepted := e.deps.Tasks.Go("presignal", func(ctx context.Context) error {
		if err := e.deps.Bus.StreamAppend(ctx, domain.StreamExecPreSignals, payload); err != nil {
			return fmt.Errorf("push presignal %s: %w", p.tokenID, err)
		}
		if err := e.deps.Bus.Publish(ctx, domain.ChannelPreSignal, payload); err != nil {
			return fmt.Errorf("publish presignal %s: %w", p.tokenID, err)
		}
		return nil
	})
	if !accepted {
		return false
	}

	e.deps.Metrics.PreSignalFired(p.tier.Name)
	e.logger.InfoContext(ctx, "consensus: presignal fired",
		slog.String("token", p.tokenID),
		slog.String("tier", p.tier.Name),
		slog.Int("wallets", current),
		slog.Int("required", required),
	)
	if e.deps.Notifier != nil {
		e.notify(domain.Notification{
			Event:   domain.EventPreSignal,
			Title:   "Pre-signal " + displayToken(p.symbol, p.tokenID),
			Message: fmt.Sprintf("%d of %d wallets in %s", current, required, p.tier.Name),
			Fields: map[string]string{
				"token": p.tokenID,
				"tier":  p.tier.Name,
			},
		}, nil)
	}
	return true
}
