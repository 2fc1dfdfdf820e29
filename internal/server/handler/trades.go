package handler

import (
	"log/slog"
	"net/http"

	"github.com/riptide-quant/riptide/internal/domain"
)

// TradesSource exposes the in-memory ring of recent trades.
// *live.Orchestrator implements it.
type TradesSource interface {
	RecentTrades(n int) []domain.TradeRecord
}

// TradesHandler serves the trade log. When a trade store is wired it
// queries the full history; otherwise it falls back to the in-memory
// ring, which only covers the current process lifetime.
type TradesHandler struct {
	recent  TradesSource
	store   domain.TradeStore // nil when Postgres is not configured
	session string
	logger  *slog.Logger
}

// NewTradesHandler creates a TradesHandler. store may be nil.
func NewTradesHandler(recent TradesSource, store domain.TradeStore, session string, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{
		recent:  recent,
		store:   store,
		session: session,
		logger:  logger,
	}
}

// listTradesResponse wraps the trade list response.
type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// ListTrades returns trade log rows, newest first.
// GET /api/trades?limit=50&offset=0&since=...&until=...
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	if h.store != nil {
		trades, err := h.store.List(r.Context(), h.session, opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list trades failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
		writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
		return
	}

	// Ring buffer is oldest-first; the API serves newest-first.
	recent := h.recent.RecentTrades(opts.Limit)
	trades := make([]domain.TradeRecord, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		trades = append(trades, recent[i])
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
