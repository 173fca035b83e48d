// Package consensus implements the tiered smart-wallet consensus engine:
// tier classification, the gate cascade, the pre-signal and signal
// lifecycle, and execution priority.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// TaskRunner runs work off the decision path. Go reports whether the task
// was accepted; failures are the runner's to report.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// Enricher computes auxiliary fields for a freshly created signal.
type Enricher interface {
	Enrich(ctx context.Context, sig domain.Signal, notificationID string) error
}

// Recorder receives engine measurements.
type Recorder interface {
	ObserveEvaluation(kind, result string, d time.Duration)
	GateRejected(gate string)
	PreSignalFired(tier string)
	LifecycleOutcome(model domain.SignalModel, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvaluation(string, string, time.Duration) {}
func (nopRecorder) GateRejected(string) {}
func (nopRecorder) PreSignalFired(string) {}
func (nopRecorder) LifecycleOutcome(domain.SignalModel, string) {}

// Evaluation results reported to the Recorder.
const (
	ResultSignal   = "signal"
	ResultRejected = "rejected"
	ResultIgnored  = "ignored"
	ResultError    = "error"
)

// Deps are the engine's collaborators. Trades, Signals, Locks and Bus are
// required; a nil optional collaborator disables what depends on it.
type Deps struct {
	Trades   domain.TradeStore
	Signals  domain.SignalStore
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Wallets  domain.WalletStore
	Tokens   domain.TokenStore
	Clusters domain.ClusterStore
	Market   domain.MarketDataProvider
	Once     domain.OnceGuard
	Notifier domain.NotificationSink
	Monitor  domain.PositionMonitor
	Enricher Enricher
	Tasks    TaskRunner
	Metrics  Recorder
}

// Options are the engine's feature switches and lock timings.
type Options struct {
	PreSignalEnabled     bool
	ExecutionPushEnabled bool
	EnrichmentEnabled    bool
	ClusterEnabled       bool
	LockTTL              time.Duration
	LockWait             time.Duration
}

// DefaultOptions enables every feature.
func DefaultOptions() Options {
	return Options{
		PreSignalEnabled:     true,
		ExecutionPushEnabled: true,
		EnrichmentEnabled:    true,
		ClusterEnabled:       true,
		LockTTL:              10 * time.Second,
		LockWait:             2 * time.Second,
	}
}

// Engine evaluates trades against the threshold document.
type Engine struct {
	th        *Thresholds
	cascade   *Cascade
	lifecycle *Lifecycle
	deps      Deps
	opts      Options
	logger    *slog.Logger
}

// NewEngine validates th and builds an Engine. Gates default to
// DefaultGates.
func NewEngine(th Thresholds, deps Deps, opts Options, logger *slog.Logger, gates ...Gate) (*Engine, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Trades == nil:
		return nil, errors.New("consensus: trade store is required")
	case deps.Signals == nil:
		return nil, errors.New("consensus: signal store is required")
	case deps.Locks == nil:
		return nil, errors.New("consensus: lock manager is required")
	case deps.Bus == nil:
		return nil, errors.New("consensus: signal bus is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "consensus"))
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Tasks == nil {
		deps.Tasks = inlineRunner{logger: logger}
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultOptions().LockTTL
	}
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultOptions().LockWait
	}

	t := &th
	return &Engine{
		th:        t,
		cascade:   NewCascade(t, gates...),
		lifecycle: NewLifecycle(deps.Signals, deps.Locks, t, opts.LockTTL, opts.LockWait),
		deps:      deps,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Thresholds returns the document the engine was built with.
func (e *Engine) Thresholds() Thresholds { return *e.th }

// Cascade returns the engine's gate cascade.
func (e *Engine) Cascade() *Cascade { return e.cascade }

// BuyRequest identifies the buy that triggered an evaluation. TokenID and
// WalletID, when set, must match the stored trade. A zero Timestamp
// defaults to the trade's.
type BuyRequest struct {
	TradeID   string
	TokenID   string
	WalletID  string
	Timestamp time.Time
}

// BuyResult is the outcome of EvaluateBuy.
type BuyResult struct {
	ConsensusFound  bool                `json:"consensus_found"`
	SignalCreated   bool                `json:"signal_created"`
	SignalUpdated   bool                `json:"signal_updated"`
	ExecutionPushed bool                `json:"execution_pushed"`
	PreSignalFired  bool                `json:"presignal_fired"`
	SignalID        string              `json:"signal_id,omitempty"`
	Tier            string              `json:"tier,omitempty"`
	WalletCount     int                 `json:"wallet_count"`
	FailedGate      string              `json:"failed_gate,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	Warnings        []string            `json:"warnings,omitempty"`
	Wallets         []string            `json:"wallets,omitempty"`
	Priority        domain.PriorityTier `json:"priority,omitempty"`
}

// EvaluateBuy runs the cascade for the token bought in req and records a
// signal when it passes. Rejections are reported in the result, not as
// errors; errors mean the mandatory read path or the signal store failed.
func (e *Engine) EvaluateBuy(ctx context.Context, req BuyRequest) (BuyResult, error) {
	start := time.Now()
	res, err := e.evaluateBuy(ctx, req)

	result := ResultRejected
	switch {
	case err != nil:
		result = ResultError
	case res.ConsensusFound:
		result = ResultSignal
	case res.FailedGate == "":
		result = ResultIgnored
	}
	e.deps.Metrics.ObserveEvaluation("buy", result, time.Since(start))
	return res, err
}

func (e *Engine) evaluateBuy(ctx context.Context, req BuyRequest) (BuyResult, error) {
	var res BuyResult

	trade, err := e.deps.Trades.GetByID(ctx, req.TradeID)
	if err != nil {
		return res, fmt.Errorf("consensus: load trade %s: %w", req.TradeID, err)
	}
	if req.TokenID != "" && req.TokenID != trade.TokenID {
		return res, fmt.Errorf("consensus: trade %s is for token %s, not %s: %w", trade.ID, trade.TokenID, req.TokenID, domain.ErrInvalidTrade)
	}
	if req.WalletID != "" && req.WalletID != trade.WalletID {
		return res, fmt.Errorf("consensus: trade %s is from wallet %s, not %s: %w", trade.ID, trade.WalletID, req.WalletID, domain.ErrInvalidTrade)
	}
	if !trade.IsBuy() {
		res.Reason = "trade is not a buy"
		return res, nil
	}
	tokenID := trade.TokenID
	at := req.Timestamp
	if at.IsZero() {
		at = trade.Timestamp
	}

	mv := e.marketState(ctx, tokenID, marketView{
		MarketCapUSD: trade.MarketCapUSD,
		LiquidityUSD: trade.LiquidityUSD,
		PriceUSD:     positive(trade.PriceUSD()),
	})
	in := &Input{MarketCapUSD: mv.MarketCapUSD, LiquidityUSD: mv.LiquidityUSD}
	if mv.MarketCapUSD != nil {
		if tier, ok := e.th.Classify(*mv.MarketCapUSD); ok {
			in.Tier = &tier
			res.Tier = tier.Name
		}
	}
	if in.Tier == nil {
		return e.reject(ctx, res, tokenID, e.cascade.Evaluate(in)), nil
	}

	trades, err := e.deps.Trades.ListWindow(ctx, tokenID, at.Add(-time.Duration(e.th.LookbackHours)*time.Hour), at)
	if err != nil {
		return res, fmt.Errorf("consensus: load window %s: %w", tokenID, err)
	}
	in.Stats = Aggregate(trades, at, in.Tier, e.th)
	res.WalletCount = in.Stats.WalletCount()
	res.Wallets = in.Stats.TierWallets

	token := e.lookupToken(ctx, tokenID)
	in.TokenSupply = token.TotalSupply
	if mv.PriceUSD == nil {
		mv.PriceUSD = in.Stats.CurrentPriceUSD
	}

	if e.opts.PreSignalEnabled {
		res.PreSignalFired = e.maybePreSignal(ctx, preSignal{
			tokenID: tokenID,
			symbol:  token.Symbol,
			tier:    *in.Tier,
			stats:   in.Stats,
			market:  mv,
			at:      at,
		})
	}

	in.Wallets = e.lookupWallets(ctx, in.Stats.TierWallets)
	verdict := e.cascade.Evaluate(in)
	res.Warnings = verdict.Warnings
	if !verdict.Passed {
		return e.reject(ctx, res, tokenID, verdict), nil
	}
	res.ConsensusFound = true

	momentum, _ := in.Stats.MomentumPct()
	res.Priority = e.th.Priority.PriorityFor(in.Stats.BuySellRatio(e.th.NoSellsRatio), momentum)

	outcome, sig, err := e.lifecycle.Apply(ctx, Proposal{
		TokenID:           tokenID,
		Model:             domain.SignalModelConsensus,
		WalletIDs:         in.Stats.TierWallets,
		TradeID:           trade.ID,
		Tier:              in.Tier.Name,
		TimeWindowMinutes: in.Tier.TimeWindowMinutes,
		At:                at,
	})
	if err != nil {
		return res, err
	}
	e.deps.Metrics.LifecycleOutcome(domain.SignalModelConsensus, string(outcome))
	res.SignalID = sig.ID

	e.logger.InfoContext(ctx, "consensus: cascade passed",
		slog.String("token", tokenID),
		slog.String("tier", in.Tier.Name),
		slog.Int("wallets", res.WalletCount),
		slog.String("outcome", string(outcome)),
		slog.String("priority", string(res.Priority)),
		slog.Any("notes", verdict.Notes),
		slog.Any("warnings", verdict.Warnings),
	)

	em := emission{
		signal:     sig,
		signalType: domain.SignalTypeConsensusBuy,
		symbol:     token.Symbol,
		market:     mv,
		strength:   res.Priority,
	}
	switch outcome {
	case OutcomeCreated:
		res.SignalCreated = true
		res.ExecutionPushed = e.announceCreated(ctx, em)
	case OutcomeUpdated:
		res.SignalUpdated = true
		e.announceUpdated(ctx, em)
	}
	return res, nil
}

func (e *Engine) reject(ctx context.Context, res BuyResult, tokenID string, v Verdict) BuyResult {
	res.FailedGate = v.FailedGate
	res.Reason = v.Reason
	res.Warnings = v.Warnings
	if v.FailedGate != "" {
		e.deps.Metrics.GateRejected(v.FailedGate)
	}
	e.logger.DebugContext(ctx, "consensus: cascade rejected",
		slog.String("token", tokenID),
		slog.String("tier", res.Tier),
		slog.String("gate", v.FailedGate),
		slog.String("reason", v.Reason),
	)
	return res
}

type marketView struct {
	MarketCapUSD *float64
	LiquidityUSD *float64
	PriceUSD     *float64
}

// marketState fills the gaps in base from the market-data provider. Lookup
// failures leave the values unknown.
func (e *Engine) marketState(ctx context.Context, tokenID string, base marketView) marketView {
	if e.deps.Market == nil || (base.MarketCapUSD != nil && base.LiquidityUSD != nil) {
		return base
	}
	snap, err := e.deps.Market.Lookup(ctx, tokenID)
	if err != nil {
		e.logger.WarnContext(ctx, "consensus: market data lookup failed",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
		return base
	}
	if base.MarketCapUSD == nil {
		base.MarketCapUSD = snap.MarketCapUSD
	}
	if base.LiquidityUSD == nil {
		base.LiquidityUSD = snap.LiquidityUSD
	}
	if base.PriceUSD == nil {
		base.PriceUSD = snap.PriceUSD
	}
	return base
}

func (e *Engine) lookupToken(ctx context.Context, tokenID string) domain.Token {
	if e.deps.Tokens == nil {
		return domain.Token{MintAddress: tokenID}
	}
	tok, err := e.deps.Tokens.Get(ctx, tokenID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.WarnContext(ctx, "consensus: token lookup failed",
				slog.String("token", tokenID),
				slog.String("error", err.Error()),
			)
		}
		return domain.Token{MintAddress: tokenID}
	}
	return tok
}

func (e *Engine) lookupWallets(ctx context.Context, addrs []string) map[string]domain.Wallet {
	if e.deps.Wallets == nil || len(addrs) == 0 {
		return map[string]domain.Wallet{}
	}
	wallets, err := e.deps.Wallets.GetMany(ctx, addrs)
	if err != nil {
		e.logger.WarnContext(ctx, "consensus: wallet lookup failed",
			slog.Int("wallets", len(addrs)),
			slog.String("error", err.Error()),
		)
		return map[string]domain.Wallet{}
	}
	return wallets
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// inlineRunner runs tasks on the caller's goroutine. It is the fallback
// when no dispatcher is wired.
type inlineRunner struct {
	logger *slog.Logger
}

func (r inlineRunner) Go(name string, fn func(ctx context.Context) error) bool {
	if err := fn(context.Background()); err != nil {
		r.logger.Warn("consensus: task failed",
			slog.String("task", name),
			slog.String("error", err.Error()),
		)
	}
	return true
}
