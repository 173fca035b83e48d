// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" storage mode and the engine tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	mu    sync.RWMutex
	byID  map[string]domain.TradeEvent
	byTok map[string][]domain.TradeEvent
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		byID:  make(map[string]domain.TradeEvent),
		byTok: make(map[string][]domain.TradeEvent),
	}
}

// Insert stores the trade, keeping the per-token slice ordered by time.
func (s *TradeStore) Insert(_ context.Context, t domain.TradeEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[t.ID]; ok {
		return false, nil
	}
	s.byID[t.ID] = t

	trades := s.byTok[t.TokenID]
	i := sort.Search(len(trades), func(i int) bool { return trades[i].Timestamp.After(t.Timestamp) })
	trades = append(trades, domain.TradeEvent{})
	copy(trades[i+1:], trades[i:])
	trades[i] = t
	s.byTok[t.TokenID] = trades
	return true, nil
}

// GetByID returns a trade or domain.ErrNotFound.
func (s *TradeStore) GetByID(_ context.Context, id string) (domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return domain.TradeEvent{}, fmt.Errorf("memory: trade %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// ListWindow returns the token's trades with start <= ts <= end.
func (s *TradeStore) ListWindow(_ context.Context, tokenID string, start, end time.Time) ([]domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradeEvent
	for _, t := range s.byTok[tokenID] {
		if t.Timestamp.Before(start) {
			continue
		}
		if t.Timestamp.After(end) {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// ListByWallet returns the wallet's trades for a token since the given time.
func (s *TradeStore) ListByWallet(_ context.Context, walletID, tokenID string, since time.Time) ([]domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradeEvent
	for _, t := range s.byTok[tokenID] {
		if t.WalletID == walletID && !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListBefore returns every trade older than before, oldest first.
func (s *TradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TradeEvent
	for _, t := range s.byID {
		if t.Timestamp.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// DeleteBefore removes every trade older than before.
func (s *TradeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for tok, trades := range s.byTok {
		kept := trades[:0]
		for _, t := range trades {
			if t.Timestamp.Before(before) {
				delete(s.byID, t.ID)
				n++
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(s.byTok, tok)
		} else {
			s.byTok[tok] = kept
		}
	}
	return n, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
