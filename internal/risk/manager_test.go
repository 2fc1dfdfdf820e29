package risk

import (
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

var day1 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newManager(cash float64, cfg config.RiskConfig) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(cfg, domain.ExitStopFirst, domain.NewPortfolioState(cash), logger)
	m.Tick(day1)
	return m
}

func defaultRisk() config.RiskConfig { return config.Defaults().Risk }

func scored(conf float64, dir domain.Direction) domain.ScoredSignal {
	return domain.ScoredSignal{
		Signal: domain.Signal{
			ID:          "sig-1",
			Instrument:  "BTC-USD",
			Timestamp:   day1,
			Strategy:    "ma_cross",
			Direction:   dir,
			RawStrength: 0.7,
		},
		Confidence:   conf,
		ModelVersion: "test-1",
	}
}

// mark feeds one bar so the manager knows the instrument's price.
func mark(m *Manager, close float64) {
	m.MarkToMarket(domain.Bar{
		Instrument: "BTC-USD", Timestamp: day1,
		Open: close, High: close, Low: close, Close: close, Volume: 1000,
	})
}

func TestSizeOrderBasics(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	order, err := m.SizeOrder(scored(0.7, domain.DirectionBuy), day1)
	if err != nil {
		t.Fatalf("SizeOrder: %v", err)
	}
	if order.Side != domain.OrderSideBuy || order.Type != domain.OrderTypeMarket {
		t.Fatalf("order = %s %s, want buy MARKET", order.Side, order.Type)
	}
	// 10% of 100k equity at price 100.
	if order.RequestedQuantity != 100 {
		t.Fatalf("quantity = %v, want 100", order.RequestedQuantity)
	}
	if order.StopLoss != 98 || order.TakeProfit != 104 {
		t.Fatalf("levels = %v/%v, want 98/104", order.StopLoss, order.TakeProfit)
	}
	if order.Status != domain.OrderStatusCreated {
		t.Fatalf("status = %s, want CREATED", order.Status)
	}
}

func TestSizeOrderConfidenceVeto(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	_, err := m.SizeOrder(scored(0.59, domain.DirectionBuy), day1)
	reason, ok := domain.IsRiskRejected(err)
	if !ok || reason != domain.RejectConfidence {
		t.Fatalf("err = %v, want %s veto", err, domain.RejectConfidence)
	}
}

func TestSizeOrderVetoesRatherThanTruncates(t *testing.T) {
	cfg := defaultRisk()
	cfg.BaseOrderPct = 0.25   // sized above...
	cfg.MaxPositionPct = 0.20 // ...the position cap
	m := newManager(100_000, cfg)
	mark(m, 100)

	_, err := m.SizeOrder(scored(0.9, domain.DirectionBuy), day1)
	reason, ok := domain.IsRiskRejected(err)
	if !ok || reason != domain.RejectPositionLimit {
		t.Fatalf("err = %v, want %s veto, never a truncated order", err, domain.RejectPositionLimit)
	}
}

func TestSizeOrderPortfolioRiskVeto(t *testing.T) {
	cfg := defaultRisk()
	cfg.MaxPortfolioRisk = 0.001 // 100 on a 100k book; a 10k order risks 200
	m := newManager(100_000, cfg)
	mark(m, 100)

	_, err := m.SizeOrder(scored(0.9, domain.DirectionBuy), day1)
	reason, ok := domain.IsRiskRejected(err)
	if !ok || reason != domain.RejectPortfolioRisk {
		t.Fatalf("err = %v, want %s veto", err, domain.RejectPortfolioRisk)
	}
}

func TestSizeOrderInsufficientCash(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	// Deploy nearly all cash into another instrument so equity stays
	// high while cash cannot cover the next buy. Stop at entry keeps
	// its open risk at zero so only the cash check can veto.
	open := domain.Order{
		ID: "ord-open", Instrument: "ETH-USD", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeMarket, RequestedQuantity: 40, StopLoss: 2485,
		Status: domain.OrderStatusSubmitted, CreatedAt: day1,
	}
	if _, err := m.ApplyFill(open, domain.Fill{
		OrderID: "ord-open", Instrument: "ETH-USD", Side: domain.OrderSideBuy,
		ExecutedQuantity: 40, ExecutedPrice: 2485, Timestamp: day1,
	}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	_, err := m.SizeOrder(scored(0.9, domain.DirectionBuy), day1)
	reason, ok := domain.IsRiskRejected(err)
	if !ok || reason != domain.RejectInsufficientCash {
		t.Fatalf("err = %v, want %s veto", err, domain.RejectInsufficientCash)
	}
}

func TestHaltedRejectsEntriesButAllowsReversal(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	// Open a long, then trip the breaker by marking far below.
	order, err := m.SizeOrder(scored(0.9, domain.DirectionBuy), day1)
	if err != nil {
		t.Fatalf("SizeOrder: %v", err)
	}
	if _, err := m.ApplyFill(order, domain.Fill{
		OrderID: order.ID, Instrument: "BTC-USD", Side: domain.OrderSideBuy,
		ExecutedQuantity: order.RequestedQuantity, ExecutedPrice: 100, Timestamp: day1,
	}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if !m.MarkToMarket(domain.Bar{Instrument: "BTC-USD", Timestamp: day1.Add(time.Hour),
		Open: 100, High: 100, Low: 30, Close: 30, Volume: 1000}) {
		t.Fatal("breaker should have tripped on a 7% equity loss")
	}
	if !m.Halted() {
		t.Fatal("manager should report halted")
	}

	// New entries on another instrument are vetoed...
	sig := scored(0.9, domain.DirectionBuy)
	sig.Instrument = "ETH-USD"
	_, err = m.SizeOrder(sig, day1.Add(time.Hour))
	reason, ok := domain.IsRiskRejected(err)
	if !ok || reason != domain.RejectHalted {
		t.Fatalf("err = %v, want %s veto", err, domain.RejectHalted)
	}

	// ...but an accepted opposing signal still closes the open long.
	exit, err := m.SizeOrder(scored(0.9, domain.DirectionSell), day1.Add(time.Hour))
	if err != nil {
		t.Fatalf("SizeOrder(reversal): %v", err)
	}
	if exit.CloseReason != domain.CloseReasonReversal {
		t.Fatalf("close reason = %q, want %s", exit.CloseReason, domain.CloseReasonReversal)
	}
	if exit.Side != domain.OrderSideSell || exit.RequestedQuantity != order.RequestedQuantity {
		t.Fatalf("exit = %s %v, want sell of the full position", exit.Side, exit.RequestedQuantity)
	}
}

func TestDailyBreakerResetsNextDay(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	order, _ := m.SizeOrder(scored(0.9, domain.DirectionBuy), day1)
	if _, err := m.ApplyFill(order, domain.Fill{
		OrderID: order.ID, Instrument: "BTC-USD", Side: domain.OrderSideBuy,
		ExecutedQuantity: order.RequestedQuantity, ExecutedPrice: 100, Timestamp: day1,
	}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	m.MarkToMarket(domain.Bar{Instrument: "BTC-USD", Timestamp: day1.Add(time.Hour),
		Open: 100, High: 100, Low: 30, Close: 30, Volume: 1000})
	if !m.Halted() {
		t.Fatal("breaker should be tripped")
	}

	m.Tick(day1.Add(24 * time.Hour))
	if m.Halted() {
		t.Fatal("breaker should reset on the next UTC day")
	}
}

func TestApplyFillCashConservation(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	buy := domain.Order{
		ID: "ord-1", Instrument: "BTC-USD", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeMarket, RequestedQuantity: 100,
		StopLoss: 98, TakeProfit: 104,
		Status: domain.OrderStatusSubmitted, CreatedAt: day1,
	}
	realized, err := m.ApplyFill(buy, domain.Fill{
		OrderID: "ord-1", Instrument: "BTC-USD", Side: domain.OrderSideBuy,
		ExecutedQuantity: 100, ExecutedPrice: 100, Commission: 10, Timestamp: day1,
	})
	if err != nil {
		t.Fatalf("ApplyFill(buy): %v", err)
	}
	if realized != 0 {
		t.Fatalf("entry realized %v, want 0", realized)
	}

	snap := m.Snapshot()
	if snap.Cash != 100_000-10_000-10 {
		t.Fatalf("cash = %v, want 89990", snap.Cash)
	}
	pos, ok := snap.OpenPosition("BTC-USD")
	if !ok || pos.Quantity != 100 || pos.AvgEntryPrice != 100 {
		t.Fatalf("position = %+v, want 100 @ 100", pos)
	}

	sell := domain.Order{
		ID: "ord-2", Instrument: "BTC-USD", Side: domain.OrderSideSell,
		Type: domain.OrderTypeMarket, RequestedQuantity: 100,
		CloseReason: domain.CloseReasonReversal,
		Status:      domain.OrderStatusSubmitted, CreatedAt: day1,
	}
	realized, err = m.ApplyFill(sell, domain.Fill{
		OrderID: "ord-2", Instrument: "BTC-USD", Side: domain.OrderSideSell,
		ExecutedQuantity: 100, ExecutedPrice: 110, Commission: 11, Timestamp: day1.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ApplyFill(sell): %v", err)
	}
	if realized != 1000 {
		t.Fatalf("realized = %v, want 1000", realized)
	}

	snap = m.Snapshot()
	if snap.Cash != 89_990+11_000-11 {
		t.Fatalf("cash = %v, want 100979", snap.Cash)
	}
	pos = snap.Positions["BTC-USD"]
	if pos.State != domain.PositionClosed {
		t.Fatalf("position state = %s, want CLOSED", pos.State)
	}
	if pos.CloseReason != domain.CloseReasonReversal {
		t.Fatalf("close reason = %q, want %s", pos.CloseReason, domain.CloseReasonReversal)
	}
}

func TestApplyFillWeightedAverageEntry(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	mkOrder := func(id string) domain.Order {
		return domain.Order{
			ID: id, Instrument: "BTC-USD", Side: domain.OrderSideBuy,
			Type: domain.OrderTypeMarket, RequestedQuantity: 10,
			StopLoss: 98, Status: domain.OrderStatusSubmitted, CreatedAt: day1,
		}
	}
	if _, err := m.ApplyFill(mkOrder("a"), domain.Fill{
		OrderID: "a", Instrument: "BTC-USD", Side: domain.OrderSideBuy,
		ExecutedQuantity: 10, ExecutedPrice: 100, Timestamp: day1,
	}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if _, err := m.ApplyFill(mkOrder("b"), domain.Fill{
		OrderID: "b", Instrument: "BTC-USD", Side: domain.OrderSideBuy,
		ExecutedQuantity: 10, ExecutedPrice: 110, Timestamp: day1,
	}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	pos, _ := m.Snapshot().OpenPosition("BTC-USD")
	if pos.Quantity != 20 || pos.AvgEntryPrice != 105 {
		t.Fatalf("position = %v @ %v, want 20 @ 105", pos.Quantity, pos.AvgEntryPrice)
	}
}

func TestTriggeredExitStopFirst(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	order, _ := m.SizeOrder(scored(0.9, domain.DirectionBuy), day1)
	if _, err := m.ApplyFill(order, domain.Fill{
		OrderID: order.ID, Instrument: "BTC-USD", Side: domain.OrderSideBuy,
		ExecutedQuantity: order.RequestedQuantity, ExecutedPrice: 100, Timestamp: day1,
	}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	// Quiet bar: nothing triggers.
	if _, hit := m.TriggeredExit(domain.Bar{Instrument: "BTC-USD", Timestamp: day1.Add(time.Hour),
		Open: 100, High: 101, Low: 99, Close: 100, Volume: 100}, day1.Add(time.Hour)); hit {
		t.Fatal("no exit expected inside the protective levels")
	}

	// A bar spanning both levels resolves to the stop under stop_first.
	exit, hit := m.TriggeredExit(domain.Bar{Instrument: "BTC-USD", Timestamp: day1.Add(2 * time.Hour),
		Open: 100, High: 105, Low: 97, Close: 99, Volume: 100}, day1.Add(2*time.Hour))
	if !hit {
		t.Fatal("expected a triggered exit")
	}
	if exit.CloseReason != domain.CloseReasonStop {
		t.Fatalf("close reason = %q, want %s under stop_first", exit.CloseReason, domain.CloseReasonStop)
	}
	if exit.TriggerPrice != 98 {
		t.Fatalf("trigger = %v, want the 98 stop", exit.TriggerPrice)
	}
	if exit.Side != domain.OrderSideSell {
		t.Fatalf("exit side = %s, want sell", exit.Side)
	}
}

func TestTerminalOrdersAreImmutableInArena(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	order, err := m.SizeOrder(scored(0.9, domain.DirectionBuy), day1)
	if err != nil {
		t.Fatalf("SizeOrder: %v", err)
	}

	filled := order
	filled.Status = domain.OrderStatusFilled
	filled.FilledQuantity = order.RequestedQuantity
	m.PutOrder(filled)

	// Writes after a terminal status must be dropped.
	mangled := filled
	mangled.Status = domain.OrderStatusCancelled
	mangled.FilledQuantity = 0
	m.PutOrder(mangled)

	got := m.Snapshot().Orders[order.ID]
	if got.Status != domain.OrderStatusFilled {
		t.Fatalf("status = %s, want FILLED to stick", got.Status)
	}
	if got.FilledQuantity != order.RequestedQuantity {
		t.Fatalf("filled = %v, want %v preserved", got.FilledQuantity, order.RequestedQuantity)
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	order, _ := m.SizeOrder(scored(0.9, domain.DirectionBuy), day1)
	if _, err := m.ApplyFill(order, domain.Fill{
		OrderID: order.ID, Instrument: "BTC-USD", Side: domain.OrderSideBuy,
		ExecutedQuantity: order.RequestedQuantity, ExecutedPrice: 100,
		Commission: 12.5, Timestamp: day1,
	}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	m.RecordEquity(day1)

	snap := m.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got domain.PortfolioState
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Cash != snap.Cash {
		t.Fatalf("cash = %v, want %v", got.Cash, snap.Cash)
	}
	if !reflect.DeepEqual(got.Positions, snap.Positions) {
		t.Fatalf("positions changed:\n got %+v\nwant %+v", got.Positions, snap.Positions)
	}
	if !reflect.DeepEqual(got.Orders, snap.Orders) {
		t.Fatalf("orders changed:\n got %+v\nwant %+v", got.Orders, snap.Orders)
	}
	if !reflect.DeepEqual(got.EquityCurve, snap.EquityCurve) {
		t.Fatalf("equity curve changed:\n got %+v\nwant %+v", got.EquityCurve, snap.EquityCurve)
	}
	if !got.DayStart.Equal(snap.DayStart) || got.DayStartEquity != snap.DayStartEquity {
		t.Fatalf("day anchor = %v/%v, want %v/%v",
			got.DayStart, got.DayStartEquity, snap.DayStart, snap.DayStartEquity)
	}
	if got.Halted != snap.Halted {
		t.Fatalf("halted = %v, want %v", got.Halted, snap.Halted)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	m := newManager(100_000, defaultRisk())
	mark(m, 100)

	order, _ := m.SizeOrder(scored(0.9, domain.DirectionBuy), day1)
	if _, err := m.ApplyFill(order, domain.Fill{
		OrderID: order.ID, Instrument: "BTC-USD", Side: domain.OrderSideBuy,
		ExecutedQuantity: order.RequestedQuantity, ExecutedPrice: 100, Timestamp: day1,
	}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	snap := m.Snapshot()
	delete(snap.Positions, "BTC-USD")
	snap.Cash = -1

	if _, ok := m.Snapshot().OpenPosition("BTC-USD"); !ok {
		t.Fatal("mutating a snapshot must not affect the manager")
	}
}
