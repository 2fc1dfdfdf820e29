package domain

import "time"

// Direction is a strategy's directional opinion.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Opposes reports whether two directions are tradeable opposites.
func (d Direction) Opposes(other Direction) bool {
	return (d == DirectionBuy && other == DirectionSell) ||
		(d == DirectionSell && other == DirectionBuy)
}

// Signal is a strategy's raw directional opinion for one bar, before
// model scoring. A bar may yield zero, one, or many signals; strategies
// never see each other's output.
type Signal struct {
	ID          string // UUID
	Instrument  string
	Timestamp   time.Time // the bar that produced the signal
	Strategy    string
	Direction   Direction
	RawStrength float64 // [0,1]
	StopLoss    float64 // 0 = let the risk manager place it
	TakeProfit  float64 // 0 = let the risk manager place it
	EntryLimit  float64 // 0 = enter at market; else rest a limit here
	Tags        map[string]string
	Reason      string
}

// ScoredSignal is a Signal with a calibrated confidence attached.
// Confidence is a probability, not a raw model output. Degraded marks
// signals scored by the raw-strength fallback when no model was
// available.
type ScoredSignal struct {
	Signal
	Confidence   float64
	ModelVersion string
	Degraded     bool
}
