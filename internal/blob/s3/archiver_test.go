package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/consensusbot/internal/domain"
	"github.com/alanyoungcy/consensusbot/internal/store/memory"
)

type captureWriter struct {
	path        string
	contentType string
	data        []byte
	err         error
}

func (w *captureWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.path, w.contentType, w.data = path, contentType, b
	return nil
}

func (w *captureWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "multipart")
}

func seedTrades(t *testing.T, store *memory.TradeStore, base time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.Insert(context.Background(), domain.TradeEvent{
			ID:          fmt.Sprintf("tx-%d", i),
			TokenID:     "mint",
			WalletID:    "w",
			Side:        domain.TradeSideBuy,
			AmountToken: 10,
			AmountBase:  1,
			ValueUSD:    200,
			Timestamp:   base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
}

func TestArchiveTrades(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	trades := memory.NewTradeStore()
	audit := memory.NewAuditStore()
	seedTrades(t, trades, base, 4)

	w := &captureWriter{}
	a := NewTradeArchiver(w, trades, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }

	n, err := a.ArchiveTrades(ctx, base.Add(150*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, "archive/trades/2025-01/20250115T120000Z.jsonl", w.path)
	assert.Equal(t, jsonlContentType, w.contentType)

	var lines []archivedTrade
	sc := bufio.NewScanner(bytes.NewReader(w.data))
	for sc.Scan() {
		var rec archivedTrade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "tx-0", lines[0].ID)
	assert.Equal(t, "2025-01-10T00:00:00Z", lines[0].Timestamp)

	left, err := trades.ListBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "tx-3", left[0].ID)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.trades", entries[0].Event)
	assert.EqualValues(t, 3, entries[0].Detail["count"])
}

func TestArchiveTradesNothingToDo(t *testing.T) {
	w := &captureWriter{}
	a := NewTradeArchiver(w, memory.NewTradeStore(), memory.NewAuditStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.path)
}

func TestArchiveTradesUploadFailureKeepsRows(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	trades := memory.NewTradeStore()
	seedTrades(t, trades, base, 2)

	w := &captureWriter{err: errors.New("503")}
	a := NewTradeArchiver(w, trades, memory.NewAuditStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := a.ArchiveTrades(ctx, base.Add(24*time.Hour))
	require.Error(t, err)

	left, err := trades.ListBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://r2.example.com", normaliseEndpoint("https://r2.example.com", false))
}
