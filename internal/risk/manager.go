// Package risk owns the portfolio. It is the only component that
// creates orders and the only one that mutates cash or positions, and
// it does both exclusively from confirmed fills. Strategies propose,
// the model scores, but nothing trades without passing this manager.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// Manager sizes accepted signals into orders, enforces exposure and
// loss limits, and applies fills to the single authoritative
// PortfolioState. All methods are safe for concurrent use; the HTTP
// status endpoints read through Snapshot while the pipeline writes.
type Manager struct {
	cfg    config.RiskConfig
	policy domain.ExitPolicy
	logger *slog.Logger

	mu    sync.RWMutex
	state *domain.PortfolioState
	last  map[string]float64 // mark price per instrument
	seq   int                // order ID counter
}

// NewManager wraps an existing portfolio state, which may be freshly
// created or restored from a snapshot. The order ID sequence resumes
// after the restored arena so recovered sessions never reuse IDs.
func NewManager(cfg config.RiskConfig, policy domain.ExitPolicy, state *domain.PortfolioState, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		policy: policy,
		logger: logger.With(slog.String("component", "risk")),
		state:  state,
		last:   make(map[string]float64),
		seq:    len(state.Orders),
	}
	for _, pos := range state.Positions {
		if pos.MarkPrice > 0 {
			m.last[pos.Instrument] = pos.MarkPrice
		}
	}
	return m
}

// Tick rolls the daily loss window when the UTC date changes. A new
// day re-bases the reference equity and clears a tripped breaker.
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := now.UTC().Truncate(24 * time.Hour)
	if m.state.DayStart.IsZero() || day.After(m.state.DayStart) {
		m.state.DayStart = day
		m.state.DayStartEquity = m.state.Equity()
		if m.state.Halted {
			m.logger.Info("daily loss breaker reset",
				slog.Time("day", day),
				slog.Float64("equity", m.state.DayStartEquity),
			)
			m.state.Halted = false
		}
	}
	m.state.LastTick = now
}

// MarkToMarket revalues the instrument at the bar's close and checks
// the daily loss breaker. It returns true when this call tripped it.
func (m *Manager) MarkToMarket(bar domain.Bar) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last[bar.Instrument] = bar.Close
	if pos, ok := m.state.OpenPosition(bar.Instrument); ok {
		pos.MarkPrice = bar.Close
		pos.UnrealizedPnL = (bar.Close - pos.AvgEntryPrice) * pos.Quantity
		m.state.Positions[bar.Instrument] = pos
	}

	if m.state.Halted || m.state.DayStartEquity <= 0 {
		return false
	}
	loss := (m.state.DayStartEquity - m.state.Equity()) / m.state.DayStartEquity
	if loss > m.cfg.MaxDailyLossPct {
		m.state.Halted = true
		m.logger.Warn("daily loss breaker tripped",
			slog.Float64("loss_pct", loss*100),
			slog.Float64("limit_pct", m.cfg.MaxDailyLossPct*100),
			slog.Float64("equity", m.state.Equity()),
		)
		return true
	}
	return false
}

// TriggeredExit checks the open position for the bar's instrument
// against its protective levels and, when one touched, emits the exit
// order. Exits fire even while halted: the breaker blocks new
// exposure, never de-risking.
func (m *Manager) TriggeredExit(bar domain.Bar, now time.Time) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.state.OpenPosition(bar.Instrument)
	if !ok {
		return domain.Order{}, false
	}
	reason, trigger, hit := domain.FirstTouch(pos.Long(), pos.StopLoss, pos.TakeProfit, bar, m.policy)
	if !hit {
		return domain.Order{}, false
	}
	return m.exitOrderLocked(pos, reason, trigger, pos.SignalID, pos.Strategy, now), true
}

// SizeOrder turns an accepted scored signal into an order, or vetoes
// it with a RiskRejectedError naming the reason. An accepted signal
// opposing an open position produces a closing order instead of a new
// entry; the flip, if still wanted, needs a fresh signal next tick.
func (m *Manager) SizeOrder(sc domain.ScoredSignal, now time.Time) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	side, ok := domain.SideFor(sc.Direction)
	if !ok {
		return domain.Order{}, domain.RiskRejected(domain.RejectNoSide, "direction %q", sc.Direction)
	}
	if sc.Confidence < m.cfg.ConfidenceThreshold {
		return domain.Order{}, domain.RiskRejected(domain.RejectConfidence,
			"confidence %.4f below threshold %.4f", sc.Confidence, m.cfg.ConfidenceThreshold)
	}

	// Reversal: close the opposing position at market. Allowed even
	// while halted, since it reduces exposure.
	if pos, open := m.state.OpenPosition(sc.Instrument); open {
		posDir := domain.DirectionSell
		if pos.Long() {
			posDir = domain.DirectionBuy
		}
		if sc.Direction.Opposes(posDir) {
			trigger := m.last[sc.Instrument]
			return m.exitOrderLocked(pos, domain.CloseReasonReversal, trigger, sc.ID, sc.Strategy, now), nil
		}
	}

	if m.state.Halted {
		return domain.Order{}, domain.RiskRejected(domain.RejectHalted, "daily loss breaker is tripped")
	}

	price := m.last[sc.Instrument]
	if sc.EntryLimit > 0 {
		price = sc.EntryLimit
	}
	if price <= 0 {
		return domain.Order{}, domain.RiskRejected(domain.RejectNoPrice, "no mark price for %s", sc.Instrument)
	}

	equity := m.state.Equity()
	notional := equity * m.cfg.BaseOrderPct
	if notional < m.cfg.MinOrderNotional {
		return domain.Order{}, domain.RiskRejected(domain.RejectInsufficientCash,
			"sized notional %.2f below minimum %.2f", notional, m.cfg.MinOrderNotional)
	}
	qty := notional / price
	stop, target := m.levels(sc, price)

	existing := 0.0
	if pos, open := m.state.OpenPosition(sc.Instrument); open {
		existing = pos.Notional()
	}
	if limit := equity * m.cfg.MaxPositionPct; existing+notional > limit {
		return domain.Order{}, domain.RiskRejected(domain.RejectPositionLimit,
			"position %.2f + order %.2f exceeds cap %.2f", existing, notional, limit)
	}

	newRisk := qty * math.Abs(price-stop)
	if limit := equity * m.cfg.MaxPortfolioRisk; m.state.OpenRisk()+newRisk > limit {
		return domain.Order{}, domain.RiskRejected(domain.RejectPortfolioRisk,
			"open risk %.2f + order risk %.2f exceeds cap %.2f", m.state.OpenRisk(), newRisk, limit)
	}

	if side == domain.OrderSideBuy && notional > m.state.Cash {
		return domain.Order{}, domain.RiskRejected(domain.RejectInsufficientCash,
			"order notional %.2f exceeds cash %.2f", notional, m.state.Cash)
	}

	order := domain.Order{
		ID:                m.nextIDLocked(),
		Instrument:        sc.Instrument,
		Side:              side,
		Type:              domain.OrderTypeMarket,
		RequestedQuantity: qty,
		StopLoss:          stop,
		TakeProfit:        target,
		SignalID:          sc.ID,
		Strategy:          sc.Strategy,
		Status:            domain.OrderStatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if sc.EntryLimit > 0 {
		order.Type = domain.OrderTypeLimit
		order.LimitPrice = sc.EntryLimit
	}
	m.state.PutOrder(order)
	return order, nil
}

// levels resolves protective levels, preferring the strategy's own.
func (m *Manager) levels(sc domain.ScoredSignal, entry float64) (stop, target float64) {
	stop = sc.StopLoss
	target = sc.TakeProfit
	long := sc.Direction == domain.DirectionBuy
	if long {
		if stop <= 0 {
			stop = entry * (1 - m.cfg.StopLossPct)
		}
		if target <= 0 {
			target = entry * (1 + m.cfg.TakeProfitPct)
		}
	} else {
		if stop <= 0 {
			stop = entry * (1 + m.cfg.StopLossPct)
		}
		if target <= 0 {
			target = entry * (1 - m.cfg.TakeProfitPct)
		}
	}
	return stop, target
}

func (m *Manager) exitOrderLocked(pos domain.Position, reason domain.CloseReason, trigger float64, signalID, strat string, now time.Time) domain.Order {
	side := domain.OrderSideSell
	if !pos.Long() {
		side = domain.OrderSideBuy
	}
	o := domain.Order{
		ID:                m.nextIDLocked(),
		Instrument:        pos.Instrument,
		Side:              side,
		Type:              domain.OrderTypeMarket,
		RequestedQuantity: math.Abs(pos.Quantity),
		TriggerPrice:      trigger,
		CloseReason:       reason,
		SignalID:          signalID,
		Strategy:          strat,
		Status:            domain.OrderStatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.state.PutOrder(o)
	return o
}

// ApplyFill mutates cash and the instrument's position from one
// confirmed fill and returns the PnL this fill realized (zero for
// entries). The fill must be positive in quantity and price; anything
// else is a simulator bug.
func (m *Manager) ApplyFill(order domain.Order, fill domain.Fill) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fill.ExecutedQuantity <= 0 || fill.ExecutedPrice <= 0 {
		return 0, domain.Invariant(order.Instrument, fill.Timestamp,
			"fill must be positive: qty %v price %v", fill.ExecutedQuantity, fill.ExecutedPrice)
	}

	signed := fill.ExecutedQuantity * fill.Side.Sign()

	// Cash conservation: buys debit, sells credit, commission debits.
	m.state.Cash -= signed * fill.ExecutedPrice
	m.state.Cash -= fill.Commission

	var realized float64
	pos := m.state.Positions[order.Instrument]
	switch {
	case pos.State != domain.PositionOpen:
		pos = domain.Position{
			Instrument:    order.Instrument,
			Quantity:      signed,
			AvgEntryPrice: fill.ExecutedPrice,
			MarkPrice:     fill.ExecutedPrice,
			StopLoss:      order.StopLoss,
			TakeProfit:    order.TakeProfit,
			SignalID:      order.SignalID,
			Strategy:      order.Strategy,
			State:         domain.PositionOpen,
			OpenedAt:      fill.Timestamp,
		}

	case sameDirection(pos.Quantity, signed):
		total := pos.Quantity + signed
		pos.AvgEntryPrice = (pos.AvgEntryPrice*math.Abs(pos.Quantity) +
			fill.ExecutedPrice*math.Abs(signed)) / math.Abs(total)
		pos.Quantity = total

	default:
		closeQty := math.Min(math.Abs(signed), math.Abs(pos.Quantity))
		if math.Abs(signed) > math.Abs(pos.Quantity)+1e-9 {
			return 0, domain.Invariant(order.Instrument, fill.Timestamp,
				"exit qty %v exceeds position %v", math.Abs(signed), math.Abs(pos.Quantity))
		}
		dir := 1.0
		if !pos.Long() {
			dir = -1
		}
		realized = (fill.ExecutedPrice - pos.AvgEntryPrice) * closeQty * dir
		pos.RealizedPnL += realized
		pos.Quantity += signed
		if math.Abs(pos.Quantity) < 1e-9 {
			pos.Quantity = 0
			pos.State = domain.PositionClosed
			ts := fill.Timestamp
			pos.ClosedAt = &ts
			pos.CloseReason = order.CloseReason
			pos.UnrealizedPnL = 0
		}
	}

	pos.MarkPrice = fill.ExecutedPrice
	m.last[order.Instrument] = fill.ExecutedPrice
	if pos.State == domain.PositionOpen {
		pos.UnrealizedPnL = (pos.MarkPrice - pos.AvgEntryPrice) * pos.Quantity
	}
	m.state.Positions[order.Instrument] = pos
	m.state.PutOrder(order)
	return realized, nil
}

// PutOrder records an order's latest non-terminal-to-terminal state in
// the arena (writes after terminal are ignored by the state).
func (m *Manager) PutOrder(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.PutOrder(o)
}

// RecordEquity appends one point to the equity curve. The pipeline
// calls this exactly once per replay timestamp or live tick.
func (m *Manager) RecordEquity(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.EquityCurve = append(m.state.EquityCurve, domain.EquityPoint{
		Timestamp: ts,
		Equity:    m.state.Equity(),
	})
	m.state.LastTick = ts
}

// Halted reports whether the daily loss breaker is tripped.
func (m *Manager) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Halted
}

// Equity returns current cash plus marked open positions.
func (m *Manager) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Equity()
}

// Snapshot returns a deep copy of the portfolio state, safe to
// serialize or serve while the pipeline keeps trading.
func (m *Manager) Snapshot() *domain.PortfolioState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := &domain.PortfolioState{
		Cash:           m.state.Cash,
		Positions:      make(map[string]domain.Position, len(m.state.Positions)),
		Orders:         make(map[string]domain.Order, len(m.state.Orders)),
		EquityCurve:    make([]domain.EquityPoint, len(m.state.EquityCurve)),
		DayStart:       m.state.DayStart,
		DayStartEquity: m.state.DayStartEquity,
		Halted:         m.state.Halted,
		LastTick:       m.state.LastTick,
	}
	for k, v := range m.state.Positions {
		if v.ClosedAt != nil {
			ts := *v.ClosedAt
			v.ClosedAt = &ts
		}
		cp.Positions[k] = v
	}
	for k, v := range m.state.Orders {
		cp.Orders[k] = v
	}
	copy(cp.EquityCurve, m.state.EquityCurve)
	return cp
}

func (m *Manager) nextIDLocked() string {
	m.seq++
	return fmt.Sprintf("ord-%06d", m.seq)
}

func sameDirection(a, b float64) bool {
	return (a > 0) == (b > 0)
}
