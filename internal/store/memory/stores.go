package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// WalletStore implements domain.WalletStore.
type WalletStore struct {
	mu      sync.RWMutex
	wallets map[string]domain.Wallet
}

// NewWalletStore creates an empty WalletStore.
func NewWalletStore() *WalletStore {
	return &WalletStore{wallets: make(map[string]domain.Wallet)}
}

func (s *WalletStore) Upsert(_ context.Context, w domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.Address] = w
	return nil
}

func (s *WalletStore) Get(_ context.Context, address string) (domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[address]
	if !ok {
		return domain.Wallet{}, fmt.Errorf("memory: wallet %s: %w", address, domain.ErrNotFound)
	}
	return w, nil
}

func (s *WalletStore) GetMany(_ context.Context, addresses []string) (map[string]domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Wallet, len(addresses))
	for _, a := range addresses {
		if w, ok := s.wallets[a]; ok {
			out[a] = w
		}
	}
	return out, nil
}

// TokenStore implements domain.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]domain.Token
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]domain.Token)}
}

func (s *TokenStore) Upsert(_ context.Context, t domain.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.MintAddress] = t
	return nil
}

func (s *TokenStore) Get(_ context.Context, mint string) (domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[mint]
	if !ok {
		return domain.Token{}, fmt.Errorf("memory: token %s: %w", mint, domain.ErrNotFound)
	}
	return t, nil
}

// ClusterStore implements domain.ClusterStore.
type ClusterStore struct {
	mu       sync.RWMutex
	clusters map[string]domain.WalletCluster
}

// NewClusterStore creates an empty ClusterStore.
func NewClusterStore() *ClusterStore {
	return &ClusterStore{clusters: make(map[string]domain.WalletCluster)}
}

func (s *ClusterStore) Upsert(_ context.Context, c domain.WalletCluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.WalletIDs = append([]string(nil), c.WalletIDs...)
	s.clusters[c.ID] = c
	return nil
}

func (s *ClusterStore) Get(_ context.Context, id string) (domain.WalletCluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	if !ok {
		return domain.WalletCluster{}, fmt.Errorf("memory: cluster %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (s *ClusterStore) ListForWallets(_ context.Context, walletIDs []string) ([]domain.WalletCluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.WalletCluster
	for _, c := range s.clusters {
		for _, w := range walletIDs {
			if c.Contains(w) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore { return &AuditStore{} }

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	if opts.Offset >= len(out) {
		return []domain.AuditEntry{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var (
	_ domain.WalletStore  = (*WalletStore)(nil)
	_ domain.TokenStore   = (*TokenStore)(nil)
	_ domain.ClusterStore = (*ClusterStore)(nil)
	_ domain.AuditStore   = (*AuditStore)(nil)
)
