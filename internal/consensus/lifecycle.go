package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

const lockPollInterval = 25 * time.Millisecond

// Outcome is what the lifecycle did with a proposal.
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeUpdated         Outcome = "updated"
	OutcomeAlreadyNotified Outcome = "already_notified"
)

// Proposal asks the lifecycle to record a detection for a token.
type Proposal struct {
	TokenID           string
	Model             domain.SignalModel
	WalletIDs         []string
	TradeID           string
	Tier              string
	TimeWindowMinutes int
	At                time.Time
}

// Lifecycle creates and updates signals. Every mutation for a (token, model)
// pair happens under the pair's lock, so concurrent evaluations of the same
// token produce at most one active signal.
type Lifecycle struct {
	signals  domain.SignalStore
	locks    domain.LockManager
	th       *Thresholds
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(signals domain.SignalStore, locks domain.LockManager, th *Thresholds, lockTTL, lockWait time.Duration) *Lifecycle {
	return &Lifecycle{
		signals:  signals,
		locks:    locks,
		th:       th,
		lockTTL:  lockTTL,
		lockWait: lockWait,
	}
}

// Apply records p. A proposal whose wallet count does not exceed the stored
// count is reported as already notified and leaves the signal untouched.
func (l *Lifecycle) Apply(ctx context.Context, p Proposal) (Outcome, domain.Signal, error) {
	unlock, err := AcquireLock(ctx, l.locks, domain.SignalLockKey(p.TokenID, p.Model), l.lockTTL, l.lockWait)
	if err != nil {
		return "", domain.Signal{}, fmt.Errorf("consensus: lifecycle %s: %w", p.TokenID, err)
	}
	defer unlock()

	existing, err := l.signals.GetActive(ctx, p.TokenID, p.Model)
	switch {
	case err == nil:
		return l.update(ctx, existing, p)
	case !errors.Is(err, domain.ErrNotFound):
		return "", domain.Signal{}, fmt.Errorf("consensus: get active signal %s: %w", p.TokenID, err)
	}

	sig := l.build(p)
	if err := l.signals.Create(ctx, sig); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return "", domain.Signal{}, fmt.Errorf("consensus: create signal %s: %w", p.TokenID, err)
		}
		// Another process won the insert without holding our lock.
		existing, err = l.signals.GetActive(ctx, p.TokenID, p.Model)
		if err != nil {
			return "", domain.Signal{}, fmt.Errorf("consensus: reread signal %s: %w", p.TokenID, err)
		}
		return l.update(ctx, existing, p)
	}
	return OutcomeCreated, sig, nil
}

func (l *Lifecycle) build(p Proposal) domain.Signal {
	score, risk := l.th.ScoreFor(len(p.WalletIDs))
	return domain.Signal{
		ID:      uuid.New().String(),
		TokenID: p.TokenID,
		Model:   p.Model,
		Meta: domain.SignalMeta{
			WalletCount:       len(p.WalletIDs),
			LastUpdateTradeID: p.TradeID,
			Tier:              p.Tier,
			TimeWindowMinutes: p.TimeWindowMinutes,
			WalletIDs:         append([]string(nil), p.WalletIDs...),
		},
		QualityScore: score,
		RiskLevel:    risk,
		Status:       domain.SignalStatusActive,
		CreatedAt:    p.At,
		UpdatedAt:    p.At,
	}
}

func (l *Lifecycle) update(ctx context.Context, sig domain.Signal, p Proposal) (Outcome, domain.Signal, error) {
	if len(p.WalletIDs) <= sig.Meta.WalletCount {
		return OutcomeAlreadyNotified, sig, nil
	}

	score, risk := l.th.ScoreFor(len(p.WalletIDs))
	sig.Meta.WalletCount = len(p.WalletIDs)
	sig.Meta.WalletIDs = append([]string(nil), p.WalletIDs...)
	sig.Meta.LastUpdateTradeID = p.TradeID
	sig.Meta.Tier = p.Tier
	sig.Meta.TimeWindowMinutes = p.TimeWindowMinutes
	sig.QualityScore = score
	sig.RiskLevel = risk
	sig.UpdatedAt = p.At

	if err := l.signals.Update(ctx, sig); err != nil {
		return "", domain.Signal{}, fmt.Errorf("consensus: update signal %s: %w", sig.ID, err)
	}
	return OutcomeUpdated, sig, nil
}

// AcquireLock takes key, retrying while it is held by someone else for up
// to wait.
func AcquireLock(ctx context.Context, locks domain.LockManager, key string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		unlock, err := locks.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
