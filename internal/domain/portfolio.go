package domain

import (
	"sort"
	"time"
)

// EquityPoint is one sample of the portfolio equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// PortfolioState is the single authoritative account state for one
// backtest run or live session. Positions and orders live in owned
// collections keyed by opaque IDs; nothing holds a pointer back into
// the state. The whole struct round-trips losslessly through JSON for
// snapshot persistence.
type PortfolioState struct {
	Cash        float64
	Positions   map[string]Position // by instrument
	Orders      map[string]Order    // arena of every order this session
	EquityCurve []EquityPoint

	// Daily circuit breaker bookkeeping, restored on crash recovery.
	DayStart       time.Time
	DayStartEquity float64
	Halted         bool

	LastTick time.Time
}

// NewPortfolioState returns a flat portfolio with the given cash.
func NewPortfolioState(cash float64) *PortfolioState {
	return &PortfolioState{
		Cash:      cash,
		Positions: make(map[string]Position),
		Orders:    make(map[string]Order),
	}
}

// Equity returns cash plus the marked value of all open positions.
func (p *PortfolioState) Equity() float64 {
	eq := p.Cash
	for _, pos := range p.Positions {
		if pos.State == PositionOpen {
			eq += pos.Quantity * pos.MarkPrice
		}
	}
	return eq
}

// OpenRisk returns the summed stop distance exposure of open positions.
func (p *PortfolioState) OpenRisk() float64 {
	var risk float64
	for _, pos := range p.Positions {
		if pos.State == PositionOpen {
			risk += pos.StopRisk()
		}
	}
	return risk
}

// OpenPosition returns the open position for an instrument, if any.
func (p *PortfolioState) OpenPosition(instrument string) (Position, bool) {
	pos, ok := p.Positions[instrument]
	if !ok || pos.State != PositionOpen {
		return Position{}, false
	}
	return pos, true
}

// PutOrder stores an order in the arena. Once the stored copy is
// terminal further writes for the same ID are ignored.
func (p *PortfolioState) PutOrder(o Order) {
	if prev, ok := p.Orders[o.ID]; ok && prev.Status.Terminal() {
		return
	}
	p.Orders[o.ID] = o
}

// OpenOrders returns non-terminal orders, oldest first with ID as the
// tiebreak so iteration order is reproducible.
func (p *PortfolioState) OpenOrders() []Order {
	var out []Order
	for _, o := range p.Orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
