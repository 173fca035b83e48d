package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// ClusterResult is the outcome of EvaluateClusterCorrelation.
type ClusterResult struct {
	ClusterFound    bool     `json:"cluster_found"`
	SignalCreated   bool     `json:"signal_created"`
	SignalUpdated   bool     `json:"signal_updated"`
	ExecutionPushed bool     `json:"execution_pushed"`
	ClusterID       string   `json:"cluster_id,omitempty"`
	SignalID        string   `json:"signal_id,omitempty"`
	Correlation     float64  `json:"correlation,omitempty"`
	Wallets         []string `json:"wallets,omitempty"`
}

// EvaluateClusterCorrelation checks whether walletIDs contain enough members
// of one correlated cluster to signal the token. It does not run the
// cascade. With no wallets given, the buyers of the last cluster window are
// used. Nothing is evaluated when Options.ClusterEnabled is off.
func (e *Engine) EvaluateClusterCorrelation(ctx context.Context, tokenID string, walletIDs []string, at time.Time) (ClusterResult, error) {
	start := time.Now()
	res, err := e.evaluateCluster(ctx, tokenID, walletIDs, at)

	result := ResultRejected
	switch {
	case err != nil:
		result = ResultError
	case res.ClusterFound:
		result = ResultSignal
	}
	e.deps.Metrics.ObserveEvaluation("cluster", result, time.Since(start))
	return res, err
}

func (e *Engine) evaluateCluster(ctx context.Context, tokenID string, walletIDs []string, at time.Time) (ClusterResult, error) {
	var res ClusterResult
	if !e.opts.ClusterEnabled || e.deps.Clusters == nil {
		return res, nil
	}
	cfg := e.th.Cluster
	window := &domain.TierConfig{
		Name:                  string(domain.SignalModelCluster),
		TimeWindowMinutes:     cfg.WindowMinutes,
		ActivityWindowMinutes: cfg.WindowMinutes,
	}

	trades, err := e.deps.Trades.ListWindow(ctx, tokenID, at.Add(-minutes(max(cfg.WindowMinutes, e.th.PressureWindowMinutes))), at)
	if err != nil {
		return res, fmt.Errorf("consensus: load cluster window %s: %w", tokenID, err)
	}
	stats := Aggregate(trades, at, window, e.th)

	wallets := dedupe(walletIDs)
	if len(wallets) == 0 {
		wallets = stats.TierWallets
	}
	if len(wallets) < cfg.MinClusterWallets {
		return res, nil
	}

	clusters, err := e.deps.Clusters.ListForWallets(ctx, wallets)
	if err != nil {
		return res, fmt.Errorf("consensus: list clusters %s: %w", tokenID, err)
	}
	best, members := bestCluster(clusters, wallets, cfg)
	if best == nil {
		return res, nil
	}
	res.ClusterFound = true
	res.ClusterID = best.ID
	res.Correlation = best.Correlation
	res.Wallets = members

	outcome, sig, err := e.lifecycle.Apply(ctx, Proposal{
		TokenID:           tokenID,
		Model:             domain.SignalModelCluster,
		WalletIDs:         members,
		Tier:              best.Label,
		TimeWindowMinutes: cfg.WindowMinutes,
		At:                at,
	})
	if err != nil {
		return res, err
	}
	e.deps.Metrics.LifecycleOutcome(domain.SignalModelCluster, string(outcome))
	res.SignalID = sig.ID

	e.logger.InfoContext(ctx, "consensus: cluster correlation found",
		slog.String("token", tokenID),
		slog.String("cluster", best.ID),
		slog.Float64("correlation", best.Correlation),
		slog.Int("wallets", len(members)),
		slog.String("outcome", string(outcome)),
	)

	mv := e.marketState(ctx, tokenID, marketView{PriceUSD: stats.CurrentPriceUSD})
	momentum, _ := stats.MomentumPct()
	em := emission{
		signal:     sig,
		signalType: domain.SignalTypeClusterBuy,
		symbol:     e.lookupToken(ctx, tokenID).Symbol,
		market:     mv,
		strength:   e.th.Priority.PriorityFor(stats.BuySellRatio(e.th.NoSellsRatio), momentum),
	}
	switch outcome {
	case OutcomeCreated:
		res.SignalCreated = true
		res.ExecutionPushed = e.announceCreated(ctx, em)
	case OutcomeUpdated:
		res.SignalUpdated = true
		e.announceUpdated(ctx, em)
	}
	return res, nil
}

// bestCluster picks the qualifying cluster with the most members among
// wallets, breaking ties by correlation. Members keep the order of wallets.
func bestCluster(clusters []domain.WalletCluster, wallets []string, cfg ClusterSettings) (*domain.WalletCluster, []string) {
	var (
		best    *domain.WalletCluster
		members []string
	)
	for i := range clusters {
		c := &clusters[i]
		if c.Correlation < cfg.MinCorrelation {
			continue
		}
		var in []string
		for _, w := range wallets {
			if c.Contains(w) {
				in = append(in, w)
			}
		}
		if len(in) < cfg.MinClusterWallets {
			continue
		}
		if best == nil || len(in) > len(members) || (len(in) == len(members) && c.Correlation > best.Correlation) {
			best, members = c, in
		}
	}
	return best, members
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
