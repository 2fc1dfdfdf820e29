package handler

import (
	"net/http"

	"github.com/riptide-quant/riptide/internal/live"
)

// StatusSource exposes the live loop's health view. *live.Orchestrator
// implements it.
type StatusSource interface {
	Status() live.Status
}

// StatusHandler serves the session status for dashboards.
type StatusHandler struct {
	src StatusSource
}

// NewStatusHandler creates a StatusHandler over the given source.
func NewStatusHandler(src StatusSource) *StatusHandler {
	return &StatusHandler{src: src}
}

// GetStatus responds with the running session's state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Status())
}
