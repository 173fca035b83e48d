package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// multipartThreshold is the payload size above which uploads go through
// the multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// TradeArchiveStore is the slice of domain.TradeStore the archiver needs.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeArchiver implements domain.Archiver: trades older than the cutoff are
// written to one JSONL object per run, then pruned from the primary store.
// Pruning only happens after a successful upload.
type TradeArchiver struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// NewTradeArchiver creates a TradeArchiver.
func NewTradeArchiver(writer domain.BlobWriter, trades TradeArchiveStore, audit domain.AuditStore, logger *slog.Logger) *TradeArchiver {
	return &TradeArchiver{
		writer: writer,
		trades: trades,
		audit:  audit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// archivedTrade is the JSONL line format.
type archivedTrade struct {
	ID                string   `json:"id"`
	TokenID           string   `json:"token_id"`
	WalletID          string   `json:"wallet_id"`
	Side              string   `json:"side"`
	AmountToken       float64  `json:"amount_token"`
	AmountBase        float64  `json:"amount_base"`
	ValueUSD          float64  `json:"value_usd"`
	PriceBasePerToken float64  `json:"price_base_per_token"`
	MarketCapUSD      *float64 `json:"market_cap_usd,omitempty"`
	LiquidityUSD      *float64 `json:"liquidity_usd,omitempty"`
	Timestamp         string   `json:"ts"`
}

func toArchived(t domain.TradeEvent) archivedTrade {
	return archivedTrade{
		ID:                t.ID,
		TokenID:           t.TokenID,
		WalletID:          t.WalletID,
		Side:              string(t.Side),
		AmountToken:       t.AmountToken,
		AmountBase:        t.AmountBase,
		ValueUSD:          t.ValueUSD,
		PriceBasePerToken: t.PriceBasePerToken,
		MarketCapUSD:      t.MarketCapUSD,
		LiquidityUSD:      t.LiquidityUSD,
		Timestamp:         t.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// ArchiveTrades uploads every trade before the cutoff and deletes them. It
// returns how many trades were archived.
func (a *TradeArchiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	records := make([]archivedTrade, len(trades))
	for i, t := range trades {
		records[i] = toArchived(t)
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath(before, a.now())
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold/2)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune archived trades: %w", err)
	}

	count := int64(len(trades))
	if deleted != count {
		a.logger.WarnContext(ctx, "s3blob: pruned count differs from archived count",
			slog.Int64("archived", count),
			slog.Int64("deleted", deleted),
		)
	}

	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}
	return count, nil
}

// archivePath builds the object key for one run, partitioned by the
// cutoff's month.
//
//	archive/trades/2025-01/20250115T120000Z.jsonl
func archivePath(before, runAt time.Time) string {
	return fmt.Sprintf("archive/trades/%s/%s.jsonl",
		before.UTC().Format("2006-01"), runAt.UTC().Format("20060102T150405Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*TradeArchiver)(nil)
