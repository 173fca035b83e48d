package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// EnrichmentService computes auxiliary fields for a new signal from the
// scores and tiers of its wallets. It only ever writes Signal.Enrichment.
type EnrichmentService struct {
	wallets  domain.WalletStore
	signals  domain.SignalStore
	notifier domain.NotificationSink
	now      func() time.Time
	logger   *slog.Logger
}

// NewEnrichmentService creates an EnrichmentService. notifier may be nil.
func NewEnrichmentService(
	wallets domain.WalletStore,
	signals domain.SignalStore,
	notifier domain.NotificationSink,
	logger *slog.Logger,
) *EnrichmentService {
	return &EnrichmentService{
		wallets:  wallets,
		signals:  signals,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "enrichment")),
	}
}

// Enrich writes the average wallet score and tier mix of sig's wallets and,
// when notificationID is known, sends a follow-up under it.
func (s *EnrichmentService) Enrich(ctx context.Context, sig domain.Signal, notificationID string) error {
	known, err := s.wallets.GetMany(ctx, sig.Meta.WalletIDs)
	if err != nil {
		return fmt.Errorf("enrichment: load wallets for %s: %w", sig.ID, err)
	}

	var (
		sum     float64
		tierMix = make(map[string]any)
	)
	for _, w := range known {
		sum += w.Score
		key := "tier" + strconv.Itoa(w.Tier)
		n, _ := tierMix[key].(int)
		tierMix[key] = n + 1
	}
	avg := 0.0
	if len(known) > 0 {
		avg = sum / float64(len(known))
	}

	enrichment := map[string]any{
		"avg_wallet_score": avg,
		"known_wallets":    len(known),
		"tier_mix":         tierMix,
		"enriched_at":      s.now().UTC().Format(time.RFC3339),
	}
	if err := s.signals.UpdateEnrichment(ctx, sig.ID, enrichment); err != nil {
		return fmt.Errorf("enrichment: update %s: %w", sig.ID, err)
	}

	s.logger.DebugContext(ctx, "enrichment: signal enriched",
		slog.String("signal_id", sig.ID),
		slog.Float64("avg_wallet_score", avg),
		slog.Int("known_wallets", len(known)),
	)

	if s.notifier == nil || notificationID == "" {
		return nil
	}
	if _, err := s.notifier.Deliver(ctx, domain.Notification{
		Event:   domain.EventSignalEnriched,
		Title:   "Signal enriched " + sig.TokenID,
		Message: fmt.Sprintf("avg wallet score %.2f across %d known wallets", avg, len(known)),
		Fields:  map[string]string{"tier_mix": formatMix(tierMix)},
		ReplyTo: notificationID,
	}); err != nil {
		return fmt.Errorf("enrichment: notify %s: %w", sig.ID, err)
	}
	return nil
}

func formatMix(mix map[string]any) string {
	keys := make([]string, 0, len(mix))
	for k := range mix {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, mix[k]))
	}
	return strings.Join(parts, " ")
}
