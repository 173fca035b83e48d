package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// SignalStore implements domain.SignalStore. Like the Postgres unique
// index, it refuses a second active signal for the same (token, model).
type SignalStore struct {
	mu      sync.RWMutex
	byID    map[string]domain.Signal
	active  map[string]string // token|model -> id
	creates int
}

// NewSignalStore creates an empty SignalStore.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		byID:   make(map[string]domain.Signal),
		active: make(map[string]string),
	}
}

func activeKey(tokenID string, model domain.SignalModel) string {
	return tokenID + "|" + string(model)
}

func cloneSignal(sig domain.Signal) domain.Signal {
	sig.Meta.WalletIDs = append([]string(nil), sig.Meta.WalletIDs...)
	if sig.Enrichment != nil {
		sig.Enrichment = maps.Clone(sig.Enrichment)
	}
	return sig
}

// Create inserts a new signal.
func (s *SignalStore) Create(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[sig.ID]; ok {
		return fmt.Errorf("memory: signal %s: %w", sig.ID, domain.ErrAlreadyExists)
	}
	if sig.Status == domain.SignalStatusActive {
		key := activeKey(sig.TokenID, sig.Model)
		if _, ok := s.active[key]; ok {
			return fmt.Errorf("memory: active signal %s: %w", key, domain.ErrAlreadyExists)
		}
		s.active[key] = sig.ID
	}
	s.byID[sig.ID] = cloneSignal(sig)
	s.creates++
	return nil
}

// Update replaces the detection fields of an existing signal. The
// notification id is only written by SetNotificationID.
func (s *SignalStore) Update(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[sig.ID]
	if !ok {
		return fmt.Errorf("memory: signal %s: %w", sig.ID, domain.ErrNotFound)
	}
	notificationID := cur.Meta.NotificationID
	cur.Meta = sig.Meta
	cur.Meta.NotificationID = notificationID
	cur.Meta.WalletIDs = append([]string(nil), sig.Meta.WalletIDs...)
	cur.QualityScore = sig.QualityScore
	cur.RiskLevel = sig.RiskLevel
	cur.UpdatedAt = sig.UpdatedAt
	s.byID[sig.ID] = cur
	return nil
}

// GetByID returns a signal or domain.ErrNotFound.
func (s *SignalStore) GetByID(_ context.Context, id string) (domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.byID[id]
	if !ok {
		return domain.Signal{}, fmt.Errorf("memory: signal %s: %w", id, domain.ErrNotFound)
	}
	return cloneSignal(sig), nil
}

// GetActive returns the active signal for (token, model).
func (s *SignalStore) GetActive(_ context.Context, tokenID string, model domain.SignalModel) (domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[activeKey(tokenID, model)]
	if !ok {
		return domain.Signal{}, fmt.Errorf("memory: active signal %s: %w", tokenID, domain.ErrNotFound)
	}
	return cloneSignal(s.byID[id]), nil
}

// ListActive returns active signals, newest first.
func (s *SignalStore) ListActive(_ context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Signal, 0, len(s.active))
	for _, id := range s.active {
		out = append(out, cloneSignal(s.byID[id]))
	}
	return page(out, opts), nil
}

// ListByToken returns every signal for a token, newest first.
func (s *SignalStore) ListByToken(_ context.Context, tokenID string, opts domain.ListOpts) ([]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Signal
	for _, sig := range s.byID {
		if sig.TokenID == tokenID {
			out = append(out, cloneSignal(sig))
		}
	}
	return page(out, opts), nil
}

// Close marks a signal closed and frees its (token, model) slot.
func (s *SignalStore) Close(_ context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: signal %s: %w", id, domain.ErrNotFound)
	}
	if sig.Status == domain.SignalStatusClosed {
		return nil
	}
	sig.Status = domain.SignalStatusClosed
	sig.CloseReason = reason
	sig.ClosedAt = &at
	sig.UpdatedAt = at
	s.byID[id] = sig
	delete(s.active, activeKey(sig.TokenID, sig.Model))
	return nil
}

// SetNotificationID stores the notification correlation id.
func (s *SignalStore) SetNotificationID(_ context.Context, id, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: signal %s: %w", id, domain.ErrNotFound)
	}
	sig.Meta.NotificationID = notificationID
	s.byID[id] = sig
	return nil
}

// UpdateEnrichment replaces the enrichment fields.
func (s *SignalStore) UpdateEnrichment(_ context.Context, id string, enrichment map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: signal %s: %w", id, domain.ErrNotFound)
	}
	sig.Enrichment = maps.Clone(enrichment)
	s.byID[id] = sig
	return nil
}

// Creates returns how many signals were created.
func (s *SignalStore) Creates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creates
}

func page(sigs []domain.Signal, opts domain.ListOpts) []domain.Signal {
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].CreatedAt.After(sigs[j].CreatedAt) })

	filtered := sigs[:0]
	for _, sig := range sigs {
		if opts.Since != nil && sig.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && sig.CreatedAt.After(*opts.Until) {
			continue
		}
		filtered = append(filtered, sig)
	}
	if opts.Offset >= len(filtered) {
		return []domain.Signal{}
	}
	filtered = filtered[opts.Offset:]
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered
}

var _ domain.SignalStore = (*SignalStore)(nil)
