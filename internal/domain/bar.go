package domain

import "time"

// Bar is one OHLCV sample for an instrument at a fixed resolution.
// Series are append-only; timestamps are strictly increasing per
// instrument and gaps are never assumed filled.
type Bar struct {
	Instrument string
	Timestamp  time.Time // UTC
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

// Typical returns the typical price (H+L+C)/3 used for VWAP.
func (b Bar) Typical() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Range returns the high-low span of the bar.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Crosses reports whether price falls within the bar's traded range.
func (b Bar) Crosses(price float64) bool {
	return price >= b.Low && price <= b.High
}
