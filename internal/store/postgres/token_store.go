package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// TokenStore implements domain.TokenStore.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a TokenStore backed by pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

func (s *TokenStore) Upsert(ctx context.Context, t domain.Token) error {
	const query = `
		INSERT INTO tokens (mint_address, symbol, name, total_supply, decimals, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (mint_address) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			total_supply = COALESCE(EXCLUDED.total_supply, tokens.total_supply),
			decimals = EXCLUDED.decimals,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, t.MintAddress, t.Symbol, t.Name, t.TotalSupply, t.Decimals, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert token %s: %w", t.MintAddress, err)
	}
	return nil
}

func (s *TokenStore) Get(ctx context.Context, mint string) (domain.Token, error) {
	var t domain.Token
	err := s.pool.QueryRow(ctx,
		`SELECT mint_address, symbol, name, total_supply, decimals, updated_at
		 FROM tokens WHERE mint_address = $1`, mint,
	).Scan(&t.MintAddress, &t.Symbol, &t.Name, &t.TotalSupply, &t.Decimals, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, fmt.Errorf("postgres: token %s: %w", mint, domain.ErrNotFound)
		}
		return domain.Token{}, fmt.Errorf("postgres: get token %s: %w", mint, err)
	}
	return t, nil
}

var _ domain.TokenStore = (*TokenStore)(nil)
