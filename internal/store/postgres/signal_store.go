package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// SignalStore implements domain.SignalStore. The partial unique index
// uq_signals_active backs the one-active-per-(token, model) rule.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a SignalStore backed by pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalCols = `id, token_id, model, wallet_count, last_update_trade_id, tier,
	time_window_minutes, wallet_ids, notification_id, quality_score, risk_level,
	status, enrichment, close_reason, created_at, updated_at, closed_at`

func scanSignal(row pgx.Row) (domain.Signal, error) {
	var (
		sig                 domain.Signal
		model, risk, status string
		enrichment          []byte
	)
	err := row.Scan(
		&sig.ID, &sig.TokenID, &model,
		&sig.Meta.WalletCount, &sig.Meta.LastUpdateTradeID, &sig.Meta.Tier,
		&sig.Meta.TimeWindowMinutes, &sig.Meta.WalletIDs, &sig.Meta.NotificationID,
		&sig.QualityScore, &risk, &status, &enrichment, &sig.CloseReason,
		&sig.CreatedAt, &sig.UpdatedAt, &sig.ClosedAt,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	sig.Model = domain.SignalModel(model)
	sig.RiskLevel = domain.RiskLevel(risk)
	sig.Status = domain.SignalStatus(status)
	if len(enrichment) > 0 {
		if err := json.Unmarshal(enrichment, &sig.Enrichment); err != nil {
			return domain.Signal{}, fmt.Errorf("unmarshal enrichment: %w", err)
		}
	}
	return sig, nil
}

func collectSignals(rows pgx.Rows) ([]domain.Signal, error) {
	defer rows.Close()
	var out []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func marshalEnrichment(e map[string]any) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	return json.Marshal(e)
}

// Create inserts sig. A second active signal for the same (token, model)
// violates uq_signals_active and is reported as domain.ErrAlreadyExists.
func (s *SignalStore) Create(ctx context.Context, sig domain.Signal) error {
	enrichment, err := marshalEnrichment(sig.Enrichment)
	if err != nil {
		return fmt.Errorf("postgres: marshal enrichment %s: %w", sig.ID, err)
	}
	walletIDs := sig.Meta.WalletIDs
	if walletIDs == nil {
		walletIDs = []string{}
	}

	const query = `
		INSERT INTO signals (` + signalCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = s.pool.Exec(ctx, query,
		sig.ID, sig.TokenID, string(sig.Model),
		sig.Meta.WalletCount, sig.Meta.LastUpdateTradeID, sig.Meta.Tier,
		sig.Meta.TimeWindowMinutes, walletIDs, sig.Meta.NotificationID,
		sig.QualityScore, string(sig.RiskLevel), string(sig.Status), enrichment, sig.CloseReason,
		sig.CreatedAt, sig.UpdatedAt, sig.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: signal %s/%s: %w", sig.TokenID, sig.Model, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create signal %s: %w", sig.ID, err)
	}
	return nil
}

// Update rewrites the detection fields of an existing signal.
func (s *SignalStore) Update(ctx context.Context, sig domain.Signal) error {
	walletIDs := sig.Meta.WalletIDs
	if walletIDs == nil {
		walletIDs = []string{}
	}
	const query = `
		UPDATE signals SET
			wallet_count = $2, last_update_trade_id = $3, tier = $4,
			time_window_minutes = $5, wallet_ids = $6, quality_score = $7,
			risk_level = $8, updated_at = $9
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		sig.ID, sig.Meta.WalletCount, sig.Meta.LastUpdateTradeID, sig.Meta.Tier,
		sig.Meta.TimeWindowMinutes, walletIDs, sig.QualityScore,
		string(sig.RiskLevel), sig.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update signal %s: %w", sig.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: signal %s: %w", sig.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *SignalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	sig, err := scanSignal(s.pool.QueryRow(ctx, `SELECT `+signalCols+` FROM signals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, fmt.Errorf("postgres: signal %s: %w", id, domain.ErrNotFound)
		}
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, err)
	}
	return sig, nil
}

func (s *SignalStore) GetActive(ctx context.Context, tokenID string, model domain.SignalModel) (domain.Signal, error) {
	sig, err := scanSignal(s.pool.QueryRow(ctx,
		`SELECT `+signalCols+` FROM signals
		 WHERE token_id = $1 AND model = $2 AND status = 'active'`,
		tokenID, string(model)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, fmt.Errorf("postgres: active signal %s/%s: %w", tokenID, model, domain.ErrNotFound)
		}
		return domain.Signal{}, fmt.Errorf("postgres: get active signal %s: %w", tokenID, err)
	}
	return sig, nil
}

func (s *SignalStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	query, args := listQuery(`SELECT `+signalCols+` FROM signals WHERE status = 'active'`, nil, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active signals: %w", err)
	}
	sigs, err := collectSignals(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active signals: %w", err)
	}
	return sigs, nil
}

func (s *SignalStore) ListByToken(ctx context.Context, tokenID string, opts domain.ListOpts) ([]domain.Signal, error) {
	query, args := listQuery(`SELECT `+signalCols+` FROM signals WHERE token_id = $1`, []any{tokenID}, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals %s: %w", tokenID, err)
	}
	sigs, err := collectSignals(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals %s: %w", tokenID, err)
	}
	return sigs, nil
}

// Close marks the signal closed. Closing an already closed signal is a
// no-op.
func (s *SignalStore) Close(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET status = 'closed', close_reason = $2, closed_at = $3, updated_at = $3
		 WHERE id = $1 AND status = 'active'`,
		id, reason, at)
	if err != nil {
		return fmt.Errorf("postgres: close signal %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM signals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: close signal %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: signal %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *SignalStore) SetNotificationID(ctx context.Context, id, notificationID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE signals SET notification_id = $2 WHERE id = $1`, id, notificationID)
	if err != nil {
		return fmt.Errorf("postgres: set notification id %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: signal %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *SignalStore) UpdateEnrichment(ctx context.Context, id string, enrichment map[string]any) error {
	data, err := marshalEnrichment(enrichment)
	if err != nil {
		return fmt.Errorf("postgres: marshal enrichment %s: %w", id, err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE signals SET enrichment = $2 WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("postgres: update enrichment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: signal %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.SignalStore = (*SignalStore)(nil)
