// Package monitor closes active signals when the wallets behind them exit.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/consensus"
	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// ReasonWalletExit is the close reason recorded by WalletExitMonitor.
const ReasonWalletExit = "smart_wallet_exit"

// Config controls the exit rule.
type Config struct {
	// WalletShare is the fraction of a signal's wallets that must have sold
	// before the signal closes.
	WalletShare float64
	Lookback    time.Duration
	LockTTL     time.Duration
	LockWait    time.Duration
}

// WalletExitMonitor implements domain.PositionMonitor. A sell by one of a
// signal's wallets closes the signal once the share of its wallets that
// sold since the signal opened reaches Config.WalletShare.
type WalletExitMonitor struct {
	signals domain.SignalStore
	trades  domain.TradeStore
	locks   domain.LockManager
	cfg     Config
	logger  *slog.Logger
}

// NewWalletExitMonitor creates a WalletExitMonitor.
func NewWalletExitMonitor(signals domain.SignalStore, trades domain.TradeStore, locks domain.LockManager, cfg Config, logger *slog.Logger) *WalletExitMonitor {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	return &WalletExitMonitor{
		signals: signals,
		trades:  trades,
		locks:   locks,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "monitor")),
	}
}

var models = []domain.SignalModel{domain.SignalModelConsensus, domain.SignalModelCluster}

// OnSell evaluates a sell against the token's active signals.
func (m *WalletExitMonitor) OnSell(ctx context.Context, trade domain.TradeEvent) ([]domain.ExitDecision, error) {
	if !trade.IsSell() {
		return nil, nil
	}

	var decisions []domain.ExitDecision
	for _, model := range models {
		d, ok, err := m.check(ctx, trade, model)
		if err != nil {
			return decisions, err
		}
		if ok {
			decisions = append(decisions, d)
		}
	}
	return decisions, nil
}

func (m *WalletExitMonitor) check(ctx context.Context, trade domain.TradeEvent, model domain.SignalModel) (domain.ExitDecision, bool, error) {
	unlock, err := consensus.AcquireLock(ctx, m.locks, domain.SignalLockKey(trade.TokenID, model), m.cfg.LockTTL, m.cfg.LockWait)
	if err != nil {
		return domain.ExitDecision{}, false, fmt.Errorf("monitor: %s: %w", trade.TokenID, err)
	}
	defer unlock()

	sig, err := m.signals.GetActive(ctx, trade.TokenID, model)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ExitDecision{}, false, nil
		}
		return domain.ExitDecision{}, false, fmt.Errorf("monitor: get active signal %s: %w", trade.TokenID, err)
	}
	if !contains(sig.Meta.WalletIDs, trade.WalletID) {
		return domain.ExitDecision{}, false, nil
	}

	since := sig.CreatedAt
	if floor := trade.Timestamp.Add(-m.cfg.Lookback); since.Before(floor) {
		since = floor
	}

	var sold []string
	for _, w := range sig.Meta.WalletIDs {
		if w == trade.WalletID {
			sold = append(sold, w)
			continue
		}
		trades, err := m.trades.ListByWallet(ctx, w, trade.TokenID, since)
		if err != nil {
			return domain.ExitDecision{}, false, fmt.Errorf("monitor: wallet trades %s: %w", w, err)
		}
		for _, t := range trades {
			if t.IsSell() {
				sold = append(sold, w)
				break
			}
		}
	}

	share := float64(len(sold)) / float64(len(sig.Meta.WalletIDs))
	if share < m.cfg.WalletShare {
		m.logger.DebugContext(ctx, "monitor: partial exit",
			slog.String("token", trade.TokenID),
			slog.String("signal_id", sig.ID),
			slog.Float64("sold_share", share),
		)
		return domain.ExitDecision{}, false, nil
	}

	if err := m.signals.Close(ctx, sig.ID, ReasonWalletExit, trade.Timestamp); err != nil {
		return domain.ExitDecision{}, false, fmt.Errorf("monitor: close signal %s: %w", sig.ID, err)
	}
	sig.Status = domain.SignalStatusClosed
	sig.CloseReason = ReasonWalletExit
	closedAt := trade.Timestamp
	sig.ClosedAt = &closedAt

	return domain.ExitDecision{
		Signal:      sig,
		Reason:      ReasonWalletExit,
		SoldWallets: sold,
		SoldShare:   share,
	}, true, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

var _ domain.PositionMonitor = (*WalletExitMonitor)(nil)
