package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// WalletStore implements domain.WalletStore.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a WalletStore backed by pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

func (s *WalletStore) Upsert(ctx context.Context, w domain.Wallet) error {
	const query = `
		INSERT INTO wallets (address, label, score, tier, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			label = EXCLUDED.label,
			score = EXCLUDED.score,
			tier = EXCLUDED.tier,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, w.Address, w.Label, w.Score, w.Tier, w.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: upsert wallet %s: %w", w.Address, err)
	}
	return nil
}

func (s *WalletStore) Get(ctx context.Context, address string) (domain.Wallet, error) {
	var w domain.Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT address, label, score, tier, updated_at FROM wallets WHERE address = $1`, address,
	).Scan(&w.Address, &w.Label, &w.Score, &w.Tier, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, fmt.Errorf("postgres: wallet %s: %w", address, domain.ErrNotFound)
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %s: %w", address, err)
	}
	return w, nil
}

// GetMany loads the known wallets among addresses in one round trip.
func (s *WalletStore) GetMany(ctx context.Context, addresses []string) (map[string]domain.Wallet, error) {
	out := make(map[string]domain.Wallet, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT address, label, score, tier, updated_at FROM wallets WHERE address = ANY($1)`, addresses)
	if err != nil {
		return nil, fmt.Errorf("postgres: get wallets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(&w.Address, &w.Label, &w.Score, &w.Tier, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan wallet: %w", err)
		}
		out[w.Address] = w
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get wallets rows: %w", err)
	}
	return out, nil
}

var _ domain.WalletStore = (*WalletStore)(nil)
