package features

import (
	"math"

	"github.com/riptide-quant/riptide/internal/domain"
)

// Indicator helpers are pure functions over ordered bar slices. Each
// documents its minimum input length; callers guarantee it.

// EMA returns the exponential moving average of closes with an SMA
// seed over the first period bars. Requires len(bars) >= period.
func EMA(bars []domain.Bar, period int) float64 {
	var seed float64
	for i := 0; i < period; i++ {
		seed += bars[i].Close
	}
	ema := seed / float64(period)

	k := 2.0 / (float64(period) + 1.0)
	for i := period; i < len(bars); i++ {
		ema = bars[i].Close*k + ema*(1-k)
	}
	return ema
}

// RSI returns the Wilder relative strength index over the given
// period. Requires len(bars) >= period+1. A window with no losses
// returns 100, no gains returns 0, and a perfectly flat window is
// neutral 50.
func RSI(bars []domain.Bar, period int) float64 {
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := bars[i].Close - bars[i-1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(bars); i++ {
		d := bars[i].Close - bars[i-1].Close
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgGain == 0 && avgLoss == 0 {
		return 50
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// VWAP returns the volume-weighted average of typical prices over the
// bars. Zero total volume falls back to the mean typical price.
func VWAP(bars []domain.Bar) float64 {
	var pv, vol float64
	for _, b := range bars {
		pv += b.Typical() * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		var sum float64
		for _, b := range bars {
			sum += b.Typical()
		}
		return sum / float64(len(bars))
	}
	return pv / vol
}

// VWAPDeviation returns the z-score of the last close against the
// window VWAP, using the population stddev of closes as the scale.
// A zero-variance window has zero deviation.
func VWAPDeviation(bars []domain.Bar) float64 {
	n := len(bars)
	vwap := VWAP(bars)

	var mean float64
	for _, b := range bars {
		mean += b.Close
	}
	mean /= float64(n)

	var variance float64
	for _, b := range bars {
		d := b.Close - mean
		variance += d * d
	}
	variance /= float64(n)
	if variance == 0 {
		return 0
	}
	return (bars[n-1].Close - vwap) / math.Sqrt(variance)
}

// VolumeRatio returns the last bar's volume relative to the window
// average. An all-zero-volume window returns 0.
func VolumeRatio(bars []domain.Bar) float64 {
	var total float64
	for _, b := range bars {
		total += b.Volume
	}
	if total == 0 {
		return 0
	}
	avg := total / float64(len(bars))
	return bars[len(bars)-1].Volume / avg
}

// LogReturns returns ln(close[i]/close[i-1]) for consecutive bars,
// skipping non-positive closes.
func LogReturns(bars []domain.Bar) []float64 {
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Close, bars[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility returns the annualized sample stddev of log
// returns. Requires at least two returns; fewer return 0.
func RealizedVolatility(returns []float64, barsPerYear int) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	return math.Sqrt(variance) * math.Sqrt(float64(barsPerYear))
}
