package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

type clusterRequest struct {
	Token     string     `json:"token"`
	Wallets   []string   `json:"wallets"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ClusterHandler exposes explicit cluster correlation requests.
type ClusterHandler struct {
	engine Evaluator
	now    func() time.Time
	logger *slog.Logger
}

// NewClusterHandler creates a ClusterHandler.
func NewClusterHandler(engine Evaluator, logger *slog.Logger) *ClusterHandler {
	return &ClusterHandler{engine: engine, now: time.Now, logger: logHandler(logger, "clusters")}
}

// Evaluate checks the given wallets (or, when empty, the token's recent
// buyers) against known clusters.
// POST /api/clusters/evaluate
func (h *ClusterHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.ValidAddress(req.Token) {
		writeError(w, http.StatusBadRequest, "token must be a base58 mint address")
		return
	}
	for _, wallet := range req.Wallets {
		if !domain.ValidAddress(wallet) {
			writeError(w, http.StatusBadRequest, "invalid wallet address: "+wallet)
			return
		}
	}

	at := h.now().UTC()
	if req.Timestamp != nil {
		at = req.Timestamp.UTC()
	}

	res, err := h.engine.EvaluateClusterCorrelation(r.Context(), req.Token, req.Wallets, at)
	if err != nil {
		h.logger.Error("clusters: evaluation failed",
			slog.String("token", req.Token),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "cluster evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
