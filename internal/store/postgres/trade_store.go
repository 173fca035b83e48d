package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, token_id, wallet_id, side, amount_token, amount_base,
	value_usd, price_base_per_token, market_cap_usd, liquidity_usd, ts`

func scanTrade(row pgx.Row) (domain.TradeEvent, error) {
	var (
		t    domain.TradeEvent
		side string
	)
	err := row.Scan(
		&t.ID, &t.TokenID, &t.WalletID, &side,
		&t.AmountToken, &t.AmountBase, &t.ValueUSD, &t.PriceBasePerToken,
		&t.MarketCapUSD, &t.LiquidityUSD, &t.Timestamp,
	)
	t.Side = domain.TradeSide(side)
	t.Timestamp = t.Timestamp.UTC()
	return t, err
}

func collectTrades(rows pgx.Rows) ([]domain.TradeEvent, error) {
	defer rows.Close()
	var out []domain.TradeEvent
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Insert stores the trade. Redelivered trades hit ON CONFLICT and report
// false.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeEvent) (bool, error) {
	const query = `
		INSERT INTO trades (` + tradeCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.TokenID, t.WalletID, string(t.Side),
		t.AmountToken, t.AmountBase, t.ValueUSD, t.PriceBasePerToken,
		t.MarketCapUSD, t.LiquidityUSD, t.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeEvent, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx, `SELECT `+tradeCols+` FROM trades WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeEvent{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
		}
		return domain.TradeEvent{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

func (s *TradeStore) ListWindow(ctx context.Context, tokenID string, start, end time.Time) ([]domain.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM trades
		 WHERE token_id = $1 AND ts >= $2 AND ts <= $3
		 ORDER BY ts ASC, id ASC`,
		tokenID, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list window %s: %w", tokenID, err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan window %s: %w", tokenID, err)
	}
	return trades, nil
}

func (s *TradeStore) ListByWallet(ctx context.Context, walletID, tokenID string, since time.Time) ([]domain.TradeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeCols+` FROM trades
		 WHERE wallet_id = $1 AND token_id = $2 AND ts >= $3
		 ORDER BY ts ASC`,
		walletID, tokenID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallet trades %s: %w", walletID, err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan wallet trades %s: %w", walletID, err)
	}
	return trades, nil
}

// ListBefore returns trades older than before, oldest first, for archival.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tradeCols+` FROM trades WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
