package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// SignalHandler serves read-only signal queries.
type SignalHandler struct {
	signals domain.SignalStore
	logger  *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(signals domain.SignalStore, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{signals: signals, logger: logHandler(logger, "signals")}
}

// ListActive returns active signals, newest first.
// GET /api/signals?limit=50&offset=0
func (h *SignalHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	sigs, err := h.signals.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("signals: list active failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "failed to list signals")
		return
	}
	if sigs == nil {
		sigs = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": sigs, "count": len(sigs)})
}

// ListByToken returns every signal recorded for one token.
// GET /api/signals/{token}
func (h *SignalHandler) ListByToken(w http.ResponseWriter, r *http.Request) {
	token := pathParam(r, "token")
	if !domain.ValidAddress(token) {
		writeError(w, http.StatusBadRequest, "token must be a base58 mint address")
		return
	}
	sigs, err := h.signals.ListByToken(r.Context(), token, parseListOpts(r))
	if err != nil {
		h.logger.Error("signals: list by token failed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "failed to list signals")
		return
	}
	if sigs == nil {
		sigs = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "signals": sigs, "count": len(sigs)})
}
