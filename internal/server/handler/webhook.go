package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/consensus"
	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// maxWebhookTrades bounds the number of trades accepted per delivery.
const maxWebhookTrades = 500

// Evaluator is the slice of consensus.Engine the HTTP layer drives.
type Evaluator interface {
	EvaluateBuy(ctx context.Context, req consensus.BuyRequest) (consensus.BuyResult, error)
	EvaluateSell(ctx context.Context, tradeID string) (consensus.SellResult, error)
	EvaluateClusterCorrelation(ctx context.Context, tokenID string, walletIDs []string, at time.Time) (consensus.ClusterResult, error)
}

// TradeWriter persists inbound trades idempotently.
type TradeWriter interface {
	Insert(ctx context.Context, t domain.TradeEvent) (bool, error)
}

// WebhookRecorder counts webhook outcomes.
type WebhookRecorder interface {
	WebhookTrade(outcome string)
}

// Webhook outcomes, one per delivered trade.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// TradePayload is one trade in a webhook delivery.
type TradePayload struct {
	ID                string    `json:"id"`
	Token             string    `json:"token"`
	Wallet            string    `json:"wallet"`
	Side              string    `json:"side"`
	AmountToken       float64   `json:"amount_token"`
	AmountBase        float64   `json:"amount_base"`
	ValueUSD          float64   `json:"value_usd"`
	PriceBasePerToken float64   `json:"price_base_per_token"`
	MarketCapUSD      *float64  `json:"market_cap_usd,omitempty"`
	LiquidityUSD      *float64  `json:"liquidity_usd,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Trade converts the payload to a domain trade, normalising side and time.
func (p TradePayload) Trade() domain.TradeEvent {
	return domain.TradeEvent{
		ID:                strings.TrimSpace(p.ID),
		TokenID:           strings.TrimSpace(p.Token),
		WalletID:          strings.TrimSpace(p.Wallet),
		Side:              domain.TradeSide(strings.ToLower(strings.TrimSpace(p.Side))),
		AmountToken:       p.AmountToken,
		AmountBase:        p.AmountBase,
		ValueUSD:          p.ValueUSD,
		PriceBasePerToken: p.PriceBasePerToken,
		MarketCapUSD:      p.MarketCapUSD,
		LiquidityUSD:      p.LiquidityUSD,
		Timestamp:         p.Timestamp.UTC(),
	}
}

// TradeOutcome reports what happened to one delivered trade.
type TradeOutcome struct {
	ID      string                   `json:"id"`
	Outcome string                   `json:"outcome"`
	Error   string                   `json:"error,omitempty"`
	Buy     *consensus.BuyResult     `json:"buy,omitempty"`
	Cluster *consensus.ClusterResult `json:"cluster,omitempty"`
	Sell    *consensus.SellResult    `json:"sell,omitempty"`
}

// WebhookHandler ingests trade deliveries and runs the engine once per new
// trade.
type WebhookHandler struct {
	trades         TradeWriter
	engine         Evaluator
	recorder       WebhookRecorder
	clusterEnabled bool
	logger         *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. recorder may be nil.
func NewWebhookHandler(trades TradeWriter, engine Evaluator, recorder WebhookRecorder, clusterEnabled bool, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		trades:         trades,
		engine:         engine,
		recorder:       recorder,
		clusterEnabled: clusterEnabled,
		logger:         logHandler(logger, "webhook"),
	}
}

// IngestTrades accepts a JSON array of trades. Each trade is validated and
// stored; new buys and sells are evaluated in delivery order. Redelivered
// trades are acknowledged without re-evaluation.
// POST /api/webhooks/trades
func (h *WebhookHandler) IngestTrades(w http.ResponseWriter, r *http.Request) {
	var payload []TradePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array of trades")
		return
	}
	if len(payload) > maxWebhookTrades {
		writeError(w, http.StatusRequestEntityTooLarge, "too many trades in one delivery")
		return
	}

	out := make([]TradeOutcome, 0, len(payload))
	for _, p := range payload {
		res := h.ingest(r.Context(), p.Trade())
		if h.recorder != nil {
			h.recorder.WebhookTrade(res.Outcome)
		}
		out = append(out, res)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (h *WebhookHandler) ingest(ctx context.Context, t domain.TradeEvent) TradeOutcome {
	res := TradeOutcome{ID: t.ID}

	if err := t.Validate(); err != nil {
		res.Outcome, res.Error = OutcomeInvalid, err.Error()
		return res
	}

	inserted, err := h.trades.Insert(ctx, t)
	if err != nil {
		h.logger.Error("webhook: store trade failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
		res.Outcome, res.Error = OutcomeError, "store trade failed"
		return res
	}
	if !inserted {
		res.Outcome = OutcomeDuplicate
		return res
	}
	res.Outcome = OutcomeAccepted

	switch t.Side {
	case domain.TradeSideBuy:
		buy, err := h.engine.EvaluateBuy(ctx, consensus.BuyRequest{
			TradeID:   t.ID,
			TokenID:   t.TokenID,
			WalletID:  t.WalletID,
			Timestamp: t.Timestamp,
		})
		if err != nil {
			return h.evalFailed(res, t, "buy", err)
		}
		res.Buy = &buy
		if h.clusterEnabled && !buy.ConsensusFound {
			cl, err := h.engine.EvaluateClusterCorrelation(ctx, t.TokenID, nil, t.Timestamp)
			if err != nil {
				return h.evalFailed(res, t, "cluster", err)
			}
			res.Cluster = &cl
		}
	case domain.TradeSideSell:
		sell, err := h.engine.EvaluateSell(ctx, t.ID)
		if err != nil {
			return h.evalFailed(res, t, "sell", err)
		}
		res.Sell = &sell
	}
	return res
}

func (h *WebhookHandler) evalFailed(res TradeOutcome, t domain.TradeEvent, kind string, err error) TradeOutcome {
	level := slog.LevelError
	if errors.Is(err, domain.ErrLockHeld) {
		level = slog.LevelWarn
	}
	h.logger.Log(context.Background(), level, "webhook: evaluation failed",
		slog.String("kind", kind),
		slog.String("trade_id", t.ID),
		slog.String("token", t.TokenID),
		slog.String("error", err.Error()),
	)
	res.Outcome, res.Error = OutcomeError, kind+" evaluation failed"
	return res
}
