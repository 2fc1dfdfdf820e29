package domain

import "time"

// FeatureNames is the canonical ordering of feature fields. Model
// artifacts store weights in this order; changing it invalidates
// every trained artifact.
var FeatureNames = []string{
	"rsi_14",
	"ema_fast",
	"ema_slow",
	"ema_slope",
	"vwap_dev",
	"volume_ratio",
	"realized_vol",
	"price_change_pct",
}

// FeatureVector holds the indicator values computed for one bar.
// Every field is derived only from bars at or before Timestamp.
type FeatureVector struct {
	Instrument     string
	Timestamp      time.Time
	RSI            float64 // Wilder RSI over the configured period
	EMAFast        float64
	EMASlow        float64
	EMASlope       float64 // fast EMA slope, pct per bar over the slope span
	VWAPDev        float64 // z-score of close vs window VWAP
	VolumeRatio    float64 // bar volume / rolling average volume
	RealizedVol    float64 // annualized stddev of log returns
	PriceChangePct float64
}

// Values returns the fields in FeatureNames order.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.RSI,
		f.EMAFast,
		f.EMASlow,
		f.EMASlope,
		f.VWAPDev,
		f.VolumeRatio,
		f.RealizedVol,
		f.PriceChangePct,
	}
}
