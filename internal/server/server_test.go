package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/live"
	"github.com/riptide-quant/riptide/internal/server/handler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLive stands in for the orchestrator behind the read-only API.
type fakeLive struct {
	status live.Status
	state  *domain.PortfolioState
	trades []domain.TradeRecord
}

func (f *fakeLive) Status() live.Status { return f.status }

func (f *fakeLive) Portfolio() *domain.PortfolioState { return f.state }

func (f *fakeLive) RecentTrades(n int) []domain.TradeRecord {
	if n <= 0 || n > len(f.trades) {
		n = len(f.trades)
	}
	out := make([]domain.TradeRecord, n)
	copy(out, f.trades[len(f.trades)-n:])
	return out
}

func newFakeLive() *fakeLive {
	state := domain.NewPortfolioState(100_000)
	state.Positions["BTC-USD"] = domain.Position{
		Instrument:    "BTC-USD",
		Quantity:      0.5,
		AvgEntryPrice: 100,
		MarkPrice:     110,
		UnrealizedPnL: 5,
		State:         domain.PositionOpen,
		Strategy:      "ma_cross",
	}
	state.Positions["ETH-USD"] = domain.Position{
		Instrument: "ETH-USD",
		State:      domain.PositionClosed,
	}
	return &fakeLive{
		status: live.Status{
			Session:  "default",
			BarsSeen: 64,
			Equity:   100_055,
		},
		state: state,
		trades: []domain.TradeRecord{
			{OrderID: "o1", Instrument: "BTC-USD"},
			{OrderID: "o2", Instrument: "BTC-USD"},
			{OrderID: "o3", Instrument: "BTC-USD"},
		},
	}
}

func newTestServer(cfg Config, fl *fakeLive, limiter domain.RateLimiter) *Server {
	logger := discardLogger()
	return NewServer(cfg, Handlers{
		Health:    handler.NewHealthHandler(logger),
		Status:    handler.NewStatusHandler(fl),
		Portfolio: handler.NewPortfolioHandler(fl),
		Trades:    handler.NewTradesHandler(fl, nil, "default", logger),
	}, limiter, logger)
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutesServeJSON(t *testing.T) {
	srv := newTestServer(Config{Port: 0}, newFakeLive(), nil)
	h := srv.Handler()

	rec := get(t, h, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = get(t, h, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status status = %d", rec.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("status body: %v", err)
	}
	if status["session"] != "default" || status["bars_seen"] != float64(64) {
		t.Fatalf("status = %v", status)
	}

	rec = get(t, h, "/api/portfolio", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("portfolio status = %d", rec.Code)
	}
	var pf struct {
		Cash      float64 `json:"cash"`
		Equity    float64 `json:"equity"`
		Positions []struct {
			Instrument string  `json:"instrument"`
			MarkPrice  float64 `json:"mark_price"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pf); err != nil {
		t.Fatalf("portfolio body: %v", err)
	}
	if pf.Cash != 100_000 {
		t.Fatalf("cash = %v", pf.Cash)
	}
	if pf.Equity != 100_055 { // cash + 0.5*110
		t.Fatalf("equity = %v", pf.Equity)
	}
	if len(pf.Positions) != 1 || pf.Positions[0].Instrument != "BTC-USD" {
		t.Fatalf("positions = %+v, want only the open BTC position", pf.Positions)
	}
}

func TestTradesServedNewestFirstFromRing(t *testing.T) {
	srv := newTestServer(Config{}, newFakeLive(), nil)

	rec := get(t, srv.Handler(), "/api/trades?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Trades []domain.TradeRecord `json:"trades"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body: %v", err)
	}
	if len(resp.Trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(resp.Trades))
	}
	if resp.Trades[0].OrderID != "o3" || resp.Trades[1].OrderID != "o2" {
		t.Fatalf("order = [%s %s], want newest first", resp.Trades[0].OrderID, resp.Trades[1].OrderID)
	}
}

func TestAuthGuardsRoutes(t *testing.T) {
	srv := newTestServer(Config{APIKey: "k3y"}, newFakeLive(), nil)
	h := srv.Handler()

	if rec := get(t, h, "/api/status", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/api/status", map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/api/status", map[string]string{"Authorization": "Bearer k3y"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", rec.Code)
	}
	if rec := get(t, h, "/api/status", map[string]string{"X-API-Key": "k3y"}); rec.Code != http.StatusOK {
		t.Fatalf("x-api-key status = %d, want 200", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(Config{CORSOrigins: []string{"http://localhost:3000"}}, newFakeLive(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow-origin = %q", got)
	}

	// Disallowed origin gets no CORS headers.
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin for disallowed origin = %q", got)
	}
}

// denyLimiter rejects every request, to exercise the 429 path.
type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func (denyLimiter) Wait(context.Context, string) error { return nil }

func TestRateLimitRejects(t *testing.T) {
	srv := newTestServer(Config{RateLimit: 1, RateLimitWindow: time.Minute}, newFakeLive(), denyLimiter{})

	rec := get(t, srv.Handler(), "/api/status", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestMetricsMount(t *testing.T) {
	srv := newTestServer(Config{Metrics: true}, newFakeLive(), nil)
	if rec := get(t, srv.Handler(), "/metrics", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}

	srv = newTestServer(Config{Metrics: false}, newFakeLive(), nil)
	if rec := get(t, srv.Handler(), "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics status without mount = %d, want 404", rec.Code)
	}
}
