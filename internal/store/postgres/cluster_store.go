package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// ClusterStore implements domain.ClusterStore. Membership lookups use the
// GIN index on wallet_ids.
type ClusterStore struct {
	pool *pgxpool.Pool
}

// NewClusterStore creates a ClusterStore backed by pool.
func NewClusterStore(pool *pgxpool.Pool) *ClusterStore {
	return &ClusterStore{pool: pool}
}

func (s *ClusterStore) Upsert(ctx context.Context, c domain.WalletCluster) error {
	const query = `
		INSERT INTO wallet_clusters (id, label, wallet_ids, correlation, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			wallet_ids = EXCLUDED.wallet_ids,
			correlation = EXCLUDED.correlation,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, c.ID, c.Label, c.WalletIDs, c.Correlation, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert cluster %s: %w", c.ID, err)
	}
	return nil
}

func (s *ClusterStore) Get(ctx context.Context, id string) (domain.WalletCluster, error) {
	var c domain.WalletCluster
	err := s.pool.QueryRow(ctx,
		`SELECT id, label, wallet_ids, correlation, updated_at FROM wallet_clusters WHERE id = $1`, id,
	).Scan(&c.ID, &c.Label, &c.WalletIDs, &c.Correlation, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WalletCluster{}, fmt.Errorf("postgres: cluster %s: %w", id, domain.ErrNotFound)
		}
		return domain.WalletCluster{}, fmt.Errorf("postgres: get cluster %s: %w", id, err)
	}
	return c, nil
}

// ListForWallets returns clusters overlapping walletIDs, strongest first.
func (s *ClusterStore) ListForWallets(ctx context.Context, walletIDs []string) ([]domain.WalletCluster, error) {
	if len(walletIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, label, wallet_ids, correlation, updated_at FROM wallet_clusters
		 WHERE wallet_ids && $1
		 ORDER BY correlation DESC, id ASC`, walletIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list clusters: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletCluster
	for rows.Next() {
		var c domain.WalletCluster
		if err := rows.Scan(&c.ID, &c.Label, &c.WalletIDs, &c.Correlation, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan cluster: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list clusters rows: %w", err)
	}
	return out, nil
}

var _ domain.ClusterStore = (*ClusterStore)(nil)
