// Package features turns bar windows into feature vectors. The engine
// is stateless given a window: the same bars always produce the same
// vector, and no formula ever reads past the window's last bar.
package features

import (
	"fmt"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// Engine computes one FeatureVector per bar window.
type Engine struct {
	rsiPeriod    int
	emaFast      int
	emaSlow      int
	slopeSpan    int
	vwapWindow   int
	volumeWindow int
	volWindow    int
	barsPerYear  int
}

// NewEngine builds an Engine from the features configuration.
func NewEngine(cfg config.FeaturesConfig) *Engine {
	return &Engine{
		rsiPeriod:    cfg.RSIPeriod,
		emaFast:      cfg.EMAFast,
		emaSlow:      cfg.EMASlow,
		slopeSpan:    cfg.SlopeSpan,
		vwapWindow:   cfg.VWAPWindow,
		volumeWindow: cfg.VolumeWindow,
		volWindow:    cfg.VolWindow,
		barsPerYear:  cfg.BarsPerYear,
	}
}

// MinBars returns the window length required to compute every
// configured indicator. Windows shorter than this are rejected rather
// than zero-filled: a fabricated indicator value corrupts everything
// downstream.
func (e *Engine) MinBars() int {
	min := e.rsiPeriod + 1
	for _, n := range []int{
		e.emaSlow + 1,
		e.emaFast + e.slopeSpan,
		e.vwapWindow,
		e.volumeWindow,
		e.volWindow + 1,
	} {
		if n > min {
			min = n
		}
	}
	return min
}

// Compute returns the FeatureVector for the window's last bar. The
// window must be ascending and hold at least MinBars() bars; short
// windows fail with ErrInsufficientHistory.
func (e *Engine) Compute(window []domain.Bar) (domain.FeatureVector, error) {
	n := len(window)
	if n < e.MinBars() {
		return domain.FeatureVector{}, fmt.Errorf("%w: have %d bars, need %d",
			domain.ErrInsufficientHistory, n, e.MinBars())
	}
	last := window[n-1]
	for i := 1; i < n; i++ {
		if !window[i].Timestamp.After(window[i-1].Timestamp) {
			return domain.FeatureVector{}, domain.Invariant(last.Instrument, last.Timestamp,
				"feature window not strictly ascending at index %d", i)
		}
	}

	emaFast := EMA(window, e.emaFast)
	emaSlow := EMA(window, e.emaSlow)

	// Slope of the fast EMA over slopeSpan bars, as pct per bar.
	var slope float64
	prevFast := EMA(window[:n-e.slopeSpan], e.emaFast)
	if prevFast != 0 {
		slope = (emaFast - prevFast) / prevFast / float64(e.slopeSpan)
	}

	var changePct float64
	if prev := window[n-2].Close; prev != 0 {
		changePct = (last.Close - prev) / prev
	}

	returns := LogReturns(window[n-e.volWindow-1:])

	return domain.FeatureVector{
		Instrument:     last.Instrument,
		Timestamp:      last.Timestamp,
		RSI:            RSI(window[n-e.rsiPeriod-1:], e.rsiPeriod),
		EMAFast:        emaFast,
		EMASlow:        emaSlow,
		EMASlope:       slope,
		VWAPDev:        VWAPDeviation(window[n-e.vwapWindow:]),
		VolumeRatio:    VolumeRatio(window[n-e.volumeWindow:]),
		RealizedVol:    RealizedVolatility(returns, e.barsPerYear),
		PriceChangePct: changePct,
	}, nil
}
