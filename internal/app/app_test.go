package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/consensusbot/internal/config"
	"github.com/alanyoungcy/consensusbot/internal/dispatch"
	"github.com/alanyoungcy/consensusbot/internal/domain"
)

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage = "memory"
	cfg.MarketData.Enabled = false
	return &cfg
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWireMemory(t *testing.T) {
	cfg := memoryConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Engine)
	assert.NotNil(t, deps.Dispatcher)
	assert.NotNil(t, deps.janitor)
	assert.Nil(t, deps.Archiver, "archive is off in engine mode")
	assert.Empty(t, deps.HealthChecks)
	assert.Equal(t, deps.Thresholds.Version, deps.Engine.Thresholds().Version)
}

func TestWireRejectsMissingThresholdsFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.Consensus.ThresholdsFile = "/nonexistent/thresholds.yaml"
	_, _, err := Wire(context.Background(), cfg, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds")
}

func TestDrainFailuresRecordsMetrics(t *testing.T) {
	cfg := memoryConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	a := New(cfg, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.drainFailures(ctx, deps)
		close(done)
	}()

	require.True(t, deps.Dispatcher.Go("enrich", func(context.Context) error {
		return errors.New("wallet store down")
	}))
	deps.Dispatcher.Wait()

	counter := deps.Metrics.DispatchFailures.WithLabelValues("enrich", "error")
	assert.Eventually(t, func() bool { return testutil.ToFloat64(counter) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "saturated", failureReason(fmt.Errorf("task x: %w", dispatch.ErrSaturated)))
	assert.Equal(t, "timeout", failureReason(context.DeadlineExceeded))
	assert.Equal(t, "error", failureReason(errors.New("boom")))
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "trade"
	a := New(cfg, discard())
	defer a.Close()
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestWireExitShareFromThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: exit-all\nexit:\n  stop_loss_percent: 20\n  take_profit_percent: 50\n  wallet_share: 1.0\n"), 0o600))

	cfg := memoryConfig()
	cfg.Consensus.ThresholdsFile = path
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()
	require.InDelta(t, 1.0, deps.Thresholds.Exit.WalletShare, 1e-9)

	ctx := context.Background()
	opened := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	wallets := []string{"a", "b", "c", "d"}
	require.NoError(t, deps.SignalStore.Create(ctx, domain.Signal{
		ID:        "sig-1",
		TokenID:   "tok",
		Model:     domain.SignalModelConsensus,
		Status:    domain.SignalStatusActive,
		Meta:      domain.SignalMeta{WalletCount: len(wallets), WalletIDs: wallets},
		CreatedAt: opened,
		UpdatedAt: opened,
	}))

	sell := func(i int, wallet string) string {
		id := fmt.Sprintf("sell-%d", i)
		ok, err := deps.TradeStore.Insert(ctx, domain.TradeEvent{
			ID: id, TokenID: "tok", WalletID: wallet, Side: domain.TradeSideSell,
			AmountToken: 100, ValueUSD: 50, Timestamp: opened.Add(time.Duration(i+1) * time.Minute),
		})
		require.NoError(t, err)
		require.True(t, ok)
		return id
	}

	// Half the wallets sold; the default share would close here.
	sell(0, "a")
	res, err := deps.Engine.EvaluateSell(ctx, sell(1, "b"))
	require.NoError(t, err)
	assert.False(t, res.Closed)

	sell(2, "c")
	res, err = deps.Engine.EvaluateSell(ctx, sell(3, "d"))
	require.NoError(t, err)
	assert.True(t, res.Closed)
	deps.Dispatcher.Wait()
}
