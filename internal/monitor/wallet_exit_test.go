package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/consensusbot/internal/cache/memory"
	"github.com/alanyoungcy/consensusbot/internal/domain"
	storemem "github.com/alanyoungcy/consensusbot/internal/store/memory"
)

var t0 = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	signals *storemem.SignalStore
	trades  *storemem.TradeStore
	mon     *WalletExitMonitor
	seq     int
}

func newFixture(t *testing.T, wallets ...string) *fixture {
	t.Helper()
	f := &fixture{
		signals: storemem.NewSignalStore(),
		trades:  storemem.NewTradeStore(),
	}
	f.mon = NewWalletExitMonitor(f.signals, f.trades, cachemem.NewLockManager(),
		Config{WalletShare: 0.5}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, f.signals.Create(context.Background(), domain.Signal{
		ID:        "sig-1",
		TokenID:   "tok",
		Model:     domain.SignalModelConsensus,
		Status:    domain.SignalStatusActive,
		Meta:      domain.SignalMeta{WalletCount: len(wallets), WalletIDs: wallets},
		CreatedAt: t0,
		UpdatedAt: t0,
	}))
	return f
}

func (f *fixture) trade(t *testing.T, wallet string, side domain.TradeSide, at time.Time) domain.TradeEvent {
	t.Helper()
	f.seq++
	tr := domain.TradeEvent{
		ID:          fmt.Sprintf("tx-%d", f.seq),
		TokenID:     "tok",
		WalletID:    wallet,
		Side:        side,
		AmountToken: 100,
		ValueUSD:    100,
		Timestamp:   at,
	}
	ok, err := f.trades.Insert(context.Background(), tr)
	require.NoError(t, err)
	require.True(t, ok)
	return tr
}

func TestOnSellClosesAtShare(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b", "c", "d")

	first := f.trade(t, "a", domain.TradeSideSell, t0.Add(time.Minute))
	decisions, err := f.mon.OnSell(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, decisions, "1 of 4 wallets sold")

	second := f.trade(t, "c", domain.TradeSideSell, t0.Add(2*time.Minute))
	decisions, err = f.mon.OnSell(ctx, second)
	require.NoError(t, err)
	require.Len(t, decisions, 1)

	d := decisions[0]
	assert.Equal(t, ReasonWalletExit, d.Reason)
	assert.Equal(t, []string{"a", "c"}, d.SoldWallets)
	assert.Equal(t, 0.5, d.SoldShare)
	assert.Equal(t, domain.SignalStatusClosed, d.Signal.Status)

	_, err = f.signals.GetActive(ctx, "tok", domain.SignalModelConsensus)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOnSellIgnoresSellsBeforeSignal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")

	f.trade(t, "a", domain.TradeSideSell, t0.Add(-time.Minute))
	f.trade(t, "a", domain.TradeSideBuy, t0.Add(time.Minute))
	decisions, err := f.mon.OnSell(ctx, f.trade(t, "b", domain.TradeSideSell, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	require.Len(t, decisions, 1, "b alone is half of two wallets")
	assert.Equal(t, []string{"b"}, decisions[0].SoldWallets)
}

func TestOnSellIgnoresOutsiders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a", "b")

	decisions, err := f.mon.OnSell(ctx, f.trade(t, "z", domain.TradeSideSell, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, decisions)

	decisions, err = f.mon.OnSell(ctx, f.trade(t, "a", domain.TradeSideBuy, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, decisions)

	sig, err := f.signals.GetActive(ctx, "tok", domain.SignalModelConsensus)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalStatusActive, sig.Status)
}

func TestOnSellWithoutActiveSignal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a")
	require.NoError(t, f.signals.Close(ctx, "sig-1", "manual", t0))

	decisions, err := f.mon.OnSell(ctx, f.trade(t, "a", domain.TradeSideSell, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, decisions)
}
