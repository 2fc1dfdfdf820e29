package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/marketdata"
)

func testConfig() config.FeaturesConfig {
	return config.FeaturesConfig{
		RSIPeriod:    14,
		EMAFast:      9,
		EMASlow:      21,
		SlopeSpan:    3,
		VWAPWindow:   20,
		VolumeWindow: 20,
		VolWindow:    20,
		BarsPerYear:  8760,
	}
}

// series builds count bars at hourly resolution from a close function.
func series(inst string, count int, closeAt func(i int) float64) []domain.Bar {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, count)
	for i := 0; i < count; i++ {
		c := closeAt(i)
		bars[i] = domain.Bar{
			Instrument: inst,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Open:       c,
			High:       c * 1.001,
			Low:        c * 0.999,
			Close:      c,
			Volume:     1000,
		}
	}
	return bars
}

func TestComputeRejectsShortWindow(t *testing.T) {
	eng := NewEngine(testConfig())
	bars := series("BTC-USD", eng.MinBars()-1, func(i int) float64 { return 100 })

	_, err := eng.Compute(bars)
	if !errors.Is(err, domain.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestComputeFlatSeriesIsNeutral(t *testing.T) {
	eng := NewEngine(testConfig())
	bars := series("BTC-USD", 100, func(i int) float64 { return 100 })

	fv, err := eng.Compute(bars)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if fv.RSI != 50 {
		t.Fatalf("flat series RSI should be neutral 50, got %.2f", fv.RSI)
	}
	if fv.VWAPDev != 0 {
		t.Fatalf("flat series VWAP deviation should be 0, got %.4f", fv.VWAPDev)
	}
	if fv.RealizedVol != 0 {
		t.Fatalf("flat series realized vol should be 0, got %.6f", fv.RealizedVol)
	}
	if fv.EMASlope != 0 {
		t.Fatalf("flat series EMA slope should be 0, got %.6f", fv.EMASlope)
	}
	if fv.PriceChangePct != 0 {
		t.Fatalf("flat series price change should be 0, got %.6f", fv.PriceChangePct)
	}
	if math.Abs(fv.VolumeRatio-1) > 1e-9 {
		t.Fatalf("constant volume ratio should be 1, got %.4f", fv.VolumeRatio)
	}
}

func TestComputeTimestampAndOrdering(t *testing.T) {
	eng := NewEngine(testConfig())
	bars := series("BTC-USD", 50, func(i int) float64 { return 100 + float64(i) })

	fv, err := eng.Compute(bars)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !fv.Timestamp.Equal(bars[len(bars)-1].Timestamp) {
		t.Fatalf("vector must be stamped at the window's last bar")
	}
	if fv.EMAFast <= fv.EMASlow {
		t.Fatalf("rising series should have fast EMA above slow, got %.2f <= %.2f", fv.EMAFast, fv.EMASlow)
	}
	if fv.EMASlope <= 0 {
		t.Fatalf("rising series should have positive slope, got %.6f", fv.EMASlope)
	}

	// An unordered window is a pipeline bug, not a recoverable miss.
	swapped := make([]domain.Bar, len(bars))
	copy(swapped, bars)
	swapped[10], swapped[11] = swapped[11], swapped[10]
	var iv *domain.InvariantViolationError
	if _, err := eng.Compute(swapped); !errors.As(err, &iv) {
		t.Fatalf("expected invariant violation for unordered window, got %v", err)
	}
}

// Altering bars after the vector's timestamp must not change the
// vector: windows are sliced strictly at the decision point.
func TestNoLookahead(t *testing.T) {
	eng := NewEngine(testConfig())
	store := marketdata.New()
	bars := series("BTC-USD", 80, func(i int) float64 {
		return 100 + 10*math.Sin(float64(i)/5)
	})
	if err := store.AppendBatch(bars); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	decision := bars[59].Timestamp
	before, err := eng.Compute(store.Window("BTC-USD", decision, eng.MinBars()))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	// Rebuild the store with every future bar mutated beyond recognition.
	mutated := marketdata.New()
	for i, b := range bars {
		if b.Timestamp.After(decision) {
			b.Close = 1e6 + float64(i)
			b.High = b.Close * 2
			b.Low = 1
			b.Volume = 0
		}
		if err := mutated.Append(b); err != nil {
			t.Fatalf("seed mutated store: %v", err)
		}
	}
	after, err := eng.Compute(mutated.Window("BTC-USD", decision, eng.MinBars()))
	if err != nil {
		t.Fatalf("compute mutated: %v", err)
	}

	if before != after {
		t.Fatalf("future bars leaked into features:\n before %+v\n after  %+v", before, after)
	}
}
