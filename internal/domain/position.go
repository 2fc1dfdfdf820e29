package domain

import "time"

// PositionState tracks the per-instrument position machine:
// FLAT -> OPEN -> CLOSED (via stop, target, or signal reversal).
type PositionState string

const (
	PositionFlat   PositionState = "FLAT"
	PositionOpen   PositionState = "OPEN"
	PositionClosed PositionState = "CLOSED"
)

// CloseReason records which exit path closed a position.
type CloseReason string

const (
	CloseReasonStop     CloseReason = "stop_loss"
	CloseReasonTarget   CloseReason = "take_profit"
	CloseReasonReversal CloseReason = "signal_reversal"
)

// Position is the portfolio's holding in one instrument. Quantity is
// signed: positive long, negative short. Positions are mutated only
// through confirmed fills, never by strategies or the model. StopLoss
// and TakeProfit are fixed at entry and immutable for the life of the
// position; only an explicit reversal signal closes it early.
type Position struct {
	Instrument    string
	Quantity      float64
	AvgEntryPrice float64
	MarkPrice     float64
	UnrealizedPnL float64
	RealizedPnL   float64
	StopLoss      float64
	TakeProfit    float64
	SignalID      string // signal that opened the position
	Strategy      string // strategy that opened it
	State         PositionState
	OpenedAt      time.Time
	ClosedAt      *time.Time
	CloseReason   CloseReason
}

// Long reports whether the position is net long.
func (p Position) Long() bool { return p.Quantity > 0 }

// Notional returns |quantity| * mark price.
func (p Position) Notional() float64 {
	q := p.Quantity
	if q < 0 {
		q = -q
	}
	return q * p.MarkPrice
}

// StopRisk returns the cash at risk between entry and stop.
func (p Position) StopRisk() float64 {
	if p.StopLoss <= 0 {
		return 0
	}
	q := p.Quantity
	if q < 0 {
		q = -q
	}
	d := p.AvgEntryPrice - p.StopLoss
	if d < 0 {
		d = -d
	}
	return q * d
}

// StopHit reports whether the bar's range touched the stop for this
// position's direction.
func (p Position) StopHit(b Bar) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Long() {
		return b.Low <= p.StopLoss
	}
	return b.High >= p.StopLoss
}

// TargetHit reports whether the bar's range touched the take profit.
func (p Position) TargetHit(b Bar) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Long() {
		return b.High >= p.TakeProfit
	}
	return b.Low <= p.TakeProfit
}
