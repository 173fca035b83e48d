package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/consensusbot/internal/cache/memory"
	"github.com/alanyoungcy/consensusbot/internal/domain"
	storemem "github.com/alanyoungcy/consensusbot/internal/store/memory"
)

var t0 = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func addr(seed byte) string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed
	}
	b[0] = 1
	return base58.Encode(b)
}

func f64(v float64) *float64 { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []domain.Notification
	fail  bool
	count int
}

func (n *recordingNotifier) Deliver(_ context.Context, msg domain.Notification) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return "", errors.New("sink down")
	}
	n.count++
	n.sent = append(n.sent, msg)
	return fmt.Sprintf("msg-%d", n.count), nil
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, m := range n.sent {
		out[i] = m.Event
	}
	return out
}

type recordingEnricher struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingEnricher) Enrich(_ context.Context, sig domain.Signal, notificationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sig.ID+"@"+notificationID)
	return nil
}

type staticMarket struct {
	snap domain.MarketSnapshot
	err  error
}

func (m staticMarket) Lookup(_ context.Context, tokenID string) (domain.MarketSnapshot, error) {
	if m.err != nil {
		return domain.MarketSnapshot{}, m.err
	}
	s := m.snap
	s.TokenID = tokenID
	return s, nil
}

type harness struct {
	t        *testing.T
	token    string
	trades   *storemem.TradeStore
	signals  *storemem.SignalStore
	wallets  *storemem.WalletStore
	tokens   *storemem.TokenStore
	clusters *storemem.ClusterStore
	bus      *cachemem.SignalBus
	notifier *recordingNotifier
	enricher *recordingEnricher
	deps     Deps
	seq      int

	// Market metadata stamped on new trades.
	mcap *float64
	liq  *float64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		token:    addr(200),
		trades:   storemem.NewTradeStore(),
		signals:  storemem.NewSignalStore(),
		wallets:  storemem.NewWalletStore(),
		tokens:   storemem.NewTokenStore(),
		clusters: storemem.NewClusterStore(),
		bus:      cachemem.NewSignalBus(),
		notifier: &recordingNotifier{},
		enricher: &recordingEnricher{},
		mcap:     f64(250_000),
		liq:      f64(30_000),
	}
	h.deps = Deps{
		Trades:   h.trades,
		Signals:  h.signals,
		Locks:    cachemem.NewLockManager(),
		Bus:      h.bus,
		Wallets:  h.wallets,
		Tokens:   h.tokens,
		Clusters: h.clusters,
		Once:     cachemem.NewOnceGuard(),
		Notifier: h.notifier,
		Enricher: h.enricher,
	}
	require.NoError(t, h.tokens.Upsert(context.Background(), domain.Token{
		MintAddress: h.token,
		Symbol:      "CNS",
		TotalSupply: f64(1e9),
	}))
	return h
}

func (h *harness) engine(opts Options, gates ...Gate) *Engine {
	h.t.Helper()
	e, err := NewEngine(DefaultThresholds(), h.deps, opts, discardLogger(), gates...)
	require.NoError(h.t, err)
	return e
}

// trade stores a trade for the harness token stamped with h.mcap and h.liq.
func (h *harness) trade(side domain.TradeSide, wallet string, at time.Time, valueUSD, priceUSD float64) domain.TradeEvent {
	h.t.Helper()
	h.seq++
	tr := domain.TradeEvent{
		ID:           fmt.Sprintf("tx-%03d", h.seq),
		TokenID:      h.token,
		WalletID:     wallet,
		Side:         side,
		AmountToken:  valueUSD / priceUSD,
		AmountBase:   valueUSD / 200,
		ValueUSD:     valueUSD,
		MarketCapUSD: h.mcap,
		LiquidityUSD: h.liq,
		Timestamp:    at,
	}
	h.insert(tr)
	return tr
}

func (h *harness) insert(tr domain.TradeEvent) {
	h.t.Helper()
	ok, err := h.trades.Insert(context.Background(), tr)
	require.NoError(h.t, err)
	require.True(h.t, ok)
}

func (h *harness) buy(wallet string, at time.Time, valueUSD, priceUSD float64) domain.TradeEvent {
	return h.trade(domain.TradeSideBuy, wallet, at, valueUSD, priceUSD)
}

func (h *harness) sell(wallet string, at time.Time, valueUSD, priceUSD float64) domain.TradeEvent {
	return h.trade(domain.TradeSideSell, wallet, at, valueUSD, priceUSD)
}

func (h *harness) wallet(address string, tier int) {
	h.t.Helper()
	require.NoError(h.t, h.wallets.Upsert(context.Background(), domain.Wallet{Address: address, Tier: tier, Score: 80}))
}

func (h *harness) stream(name string) []domain.StreamMessage {
	h.t.Helper()
	msgs, err := h.bus.StreamRead(context.Background(), name, "0", 0)
	require.NoError(h.t, err)
	return msgs
}

func (h *harness) executionSignals() []domain.ExecutionSignal {
	h.t.Helper()
	var out []domain.ExecutionSignal
	for _, m := range h.stream(domain.StreamExecSignals) {
		var es domain.ExecutionSignal
		require.NoError(h.t, json.Unmarshal(m.Payload, &es))
		out = append(out, es)
	}
	return out
}

// Scenario wallets.
var (
	walletA = addr(1)
	walletB = addr(2)
	walletC = addr(3)
	walletD = addr(4)
	walletE = addr(5)
	walletX = addr(6)
	walletF = addr(7)
)

// tier3Scenario seeds a token at 250k mcap where a buy by walletD at t0
// completes a tier-3 consensus of A, B, C and D:
//
//   - tier window (12m) volume 4700 against 11750 over the hour: spike 2.0
//   - five buyers in the 15m activity window (E, A, B, C, D)
//   - 5m buys 2500 vs sells 1000: ratio 2.5; price 1.00 -> 1.12: +12%
//   - SMA1m 1.11 and SMA5m 1.0675 below the current 1.12
//   - 24 unique wallets in the last 30 buys; oldest buy 90m ago
//
// It returns the trigger trade.
func (h *harness) tier3Scenario() domain.TradeEvent {
	h.t.Helper()
	h.tier3History()
	return h.buy(walletD, t0, 1500, 1.12)
}

// tier3History seeds everything in tier3Scenario except the trigger.
func (h *harness) tier3History() {
	h.t.Helper()
	for i := 0; i < 24; i++ {
		idx := i
		if idx >= 19 {
			idx -= 19
		}
		h.buy(addr(byte(100+idx)), t0.Add(-90*time.Minute+time.Duration(i)*3*time.Minute), 500, 0.9)
	}
	h.buy(walletE, t0.Add(-14*time.Minute), 50, 1.0)
	h.buy(walletA, t0.Add(-11*time.Minute), 600, 1.0)
	h.buy(walletB, t0.Add(-8*time.Minute), 600, 1.0)
	h.buy(walletC, t0.Add(-4*time.Minute), 500, 1.00)
	h.sell(walletX, t0.Add(-3*time.Minute), 1000, 1.05)
	h.buy(walletA, t0.Add(-30*time.Second), 500, 1.10)

	h.wallet(walletA, 1)
	h.wallet(walletB, 2)
	h.wallet(walletC, 4)
	h.wallet(walletD, 5)
}

func request(tr domain.TradeEvent) BuyRequest {
	return BuyRequest{TradeID: tr.ID, TokenID: tr.TokenID, WalletID: tr.WalletID, Timestamp: tr.Timestamp}
}

func gatesWith(name string, check GateFunc) []Gate {
	gates := DefaultGates()
	for i := range gates {
		if gates[i].Name == name {
			gates[i].Check = check
		}
	}
	return gates
}
