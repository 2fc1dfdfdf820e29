package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/riptide-quant/riptide/internal/domain"
)

// PortfolioSource exposes an isolated snapshot of the portfolio.
// *live.Orchestrator implements it.
type PortfolioSource interface {
	Portfolio() *domain.PortfolioState
}

// PortfolioHandler serves the current account state.
type PortfolioHandler struct {
	src PortfolioSource
}

// NewPortfolioHandler creates a PortfolioHandler over the given source.
func NewPortfolioHandler(src PortfolioSource) *PortfolioHandler {
	return &PortfolioHandler{src: src}
}

// positionView is the wire form of one position.
type positionView struct {
	Instrument    string  `json:"instrument"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	Strategy      string  `json:"strategy,omitempty"`
	OpenedAt      string  `json:"opened_at,omitempty"`
}

// portfolioResponse wraps the portfolio endpoint response.
type portfolioResponse struct {
	Cash           float64        `json:"cash"`
	Equity         float64        `json:"equity"`
	DayStartEquity float64        `json:"day_start_equity"`
	Halted         bool           `json:"halted"`
	OpenOrders     int            `json:"open_orders"`
	Positions      []positionView `json:"positions"`
	LastTick       time.Time      `json:"last_tick"`
}

// GetPortfolio responds with cash, equity, and open positions.
// GET /api/portfolio
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	state := h.src.Portfolio()

	positions := make([]positionView, 0, len(state.Positions))
	for _, pos := range state.Positions {
		if pos.State != domain.PositionOpen {
			continue
		}
		view := positionView{
			Instrument:    pos.Instrument,
			Quantity:      pos.Quantity,
			AvgEntryPrice: pos.AvgEntryPrice,
			MarkPrice:     pos.MarkPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
			RealizedPnL:   pos.RealizedPnL,
			StopLoss:      pos.StopLoss,
			TakeProfit:    pos.TakeProfit,
			Strategy:      pos.Strategy,
		}
		if !pos.OpenedAt.IsZero() {
			view.OpenedAt = pos.OpenedAt.UTC().Format(time.RFC3339)
		}
		positions = append(positions, view)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Instrument < positions[j].Instrument
	})

	writeJSON(w, http.StatusOK, portfolioResponse{
		Cash:           state.Cash,
		Equity:         state.Equity(),
		DayStartEquity: state.DayStartEquity,
		Halted:         state.Halted,
		OpenOrders:     len(state.OpenOrders()),
		Positions:      positions,
		LastTick:       state.LastTick,
	})
}
