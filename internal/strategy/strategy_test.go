package strategy

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/features"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flatWindow returns n identical bars closing at px, one hour apart.
func flatWindow(n int, px float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Instrument: "BTC-USD",
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
			Open:       px, High: px, Low: px, Close: px,
			Volume: 1000,
		}
	}
	return bars
}

func fvAt(window []domain.Bar) domain.FeatureVector {
	last := window[len(window)-1]
	return domain.FeatureVector{
		Instrument: last.Instrument,
		Timestamp:  last.Timestamp,
	}
}

// ── ma_cross ──

func TestMACrossEmitsBuyOnConfirmedCrossUp(t *testing.T) {
	mc := NewMACross(config.MACrossConfig{MinSlopePct: 0.001}, 3, 5, discardLogger())

	// Nine flat bars pin both prior EMAs at 100; the tenth bar jumps.
	window := flatWindow(10, 100)
	window[9].Close = 120
	window[9].High = 120

	fv := fvAt(window)
	fv.EMAFast = 105
	fv.EMASlow = 102
	fv.EMASlope = 0.02

	sigs, err := mc.Evaluate(fv, window)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("signals = %d, want 1", len(sigs))
	}
	sig := sigs[0]
	if sig.Direction != domain.DirectionBuy {
		t.Fatalf("direction = %s, want BUY", sig.Direction)
	}
	if sig.Strategy != "ma_cross" || sig.Instrument != "BTC-USD" {
		t.Fatalf("attribution = %s/%s", sig.Strategy, sig.Instrument)
	}
	if sig.RawStrength <= 0 || sig.RawStrength > 1 {
		t.Fatalf("raw strength = %v, want in (0, 1]", sig.RawStrength)
	}
	if !strings.HasPrefix(sig.ID, "ma_cross-BTC-USD-") {
		t.Fatalf("signal id = %q", sig.ID)
	}
	if sig.Tags["ema_fast"] == "" || sig.Tags["slope"] == "" {
		t.Fatalf("tags missing: %v", sig.Tags)
	}
}

func TestMACrossEmitsSellOnConfirmedCrossDown(t *testing.T) {
	mc := NewMACross(config.MACrossConfig{MinSlopePct: 0.001}, 3, 5, discardLogger())

	window := flatWindow(10, 100)
	window[9].Close = 80
	window[9].Low = 80

	fv := fvAt(window)
	fv.EMAFast = 95
	fv.EMASlow = 98
	fv.EMASlope = -0.02

	sigs, err := mc.Evaluate(fv, window)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Direction != domain.DirectionSell {
		t.Fatalf("signals = %+v, want one SELL", sigs)
	}
}

func TestMACrossFlatMarketStaysSilent(t *testing.T) {
	mc := NewMACross(config.MACrossConfig{MinSlopePct: 0.001}, 3, 5, discardLogger())

	window := flatWindow(10, 100)
	fv := fvAt(window)
	fv.EMAFast = 100
	fv.EMASlow = 100

	sigs, err := mc.Evaluate(fv, window)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 0 {
		t.Fatalf("flat market produced %d signals", len(sigs))
	}
}

func TestMACrossUnconfirmedSlopeIsSkipped(t *testing.T) {
	mc := NewMACross(config.MACrossConfig{MinSlopePct: 0.01}, 3, 5, discardLogger())

	window := flatWindow(10, 100)
	fv := fvAt(window)
	fv.EMAFast = 100.5
	fv.EMASlow = 100.2
	fv.EMASlope = 0.001 // below min_slope_pct

	sigs, err := mc.Evaluate(fv, window)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 0 {
		t.Fatalf("unconfirmed cross produced %d signals", len(sigs))
	}
}

func TestMACrossShortWindowStaysSilent(t *testing.T) {
	mc := NewMACross(config.MACrossConfig{}, 3, 5, discardLogger())

	window := flatWindow(5, 100)
	fv := fvAt(window)
	fv.EMAFast = 105
	fv.EMASlow = 100

	sigs, err := mc.Evaluate(fv, window)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 0 {
		t.Fatalf("window of 5 bars produced %d signals", len(sigs))
	}
}

// crossSeries is flat at 100 for 50 bars, then climbs 3 per bar. Both
// EMAs sit exactly on 100 through the flat stretch, so the fast one
// crosses above the slow one on the first climbing bar and stays above
// for the rest of the series.
func crossSeries(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	px := 100.0
	for i := range bars {
		open := px
		if i >= 50 {
			px += 3
		}
		bars[i] = domain.Bar{
			Instrument: "BTC-USD",
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
			Open:       open, High: px, Low: open, Close: px,
			Volume: 1000,
		}
	}
	return bars
}

func TestMACrossFiresExactlyOnceOverSeries(t *testing.T) {
	fcfg := config.Defaults().Features
	eng := features.NewEngine(fcfg)
	mc := NewMACross(config.MACrossConfig{MinSlopePct: 0.001}, fcfg.EMAFast, fcfg.EMASlow, discardLogger())

	series := crossSeries(60)
	var got []domain.Signal
	for n := eng.MinBars(); n <= len(series); n++ {
		window := series[:n]
		fv, err := eng.Compute(window)
		if err != nil {
			t.Fatalf("Compute at %d bars: %v", n, err)
		}
		sigs, err := mc.Evaluate(fv, window)
		if err != nil {
			t.Fatalf("Evaluate at %d bars: %v", n, err)
		}
		got = append(got, sigs...)
	}

	if len(got) != 1 {
		t.Fatalf("signals over the series = %d, want exactly 1", len(got))
	}
	sig := got[0]
	if sig.Direction != domain.DirectionBuy {
		t.Fatalf("direction = %s, want BUY", sig.Direction)
	}
	if !sig.Timestamp.Equal(series[50].Timestamp) {
		t.Fatalf("signal at %s, want the first climbing bar %s", sig.Timestamp, series[50].Timestamp)
	}
}

// ── vwap_reversion ──

func vwapCfg() config.VWAPReversionConfig {
	return config.VWAPReversionConfig{ZThreshold: 2, RSIOverbought: 70, RSIOversold: 30}
}

func TestVWAPReversionBuysStretchWithOversoldRSI(t *testing.T) {
	vr := NewVWAPReversion(vwapCfg(), discardLogger())

	fv := domain.FeatureVector{
		Instrument: "ETH-USD", Timestamp: t0,
		VWAPDev: -2.5, RSI: 25,
	}
	sigs, err := vr.Evaluate(fv, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Direction != domain.DirectionBuy {
		t.Fatalf("signals = %+v, want one BUY", sigs)
	}
	if sigs[0].RawStrength < 0.5 || sigs[0].RawStrength > 1 {
		t.Fatalf("raw strength = %v, want in [0.5, 1]", sigs[0].RawStrength)
	}
}

func TestVWAPReversionSellsStretchWithOverboughtRSI(t *testing.T) {
	vr := NewVWAPReversion(vwapCfg(), discardLogger())

	fv := domain.FeatureVector{
		Instrument: "ETH-USD", Timestamp: t0,
		VWAPDev: 2.5, RSI: 78,
	}
	sigs, err := vr.Evaluate(fv, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Direction != domain.DirectionSell {
		t.Fatalf("signals = %+v, want one SELL", sigs)
	}
}

func TestVWAPReversionRequiresRSIConfirmation(t *testing.T) {
	vr := NewVWAPReversion(vwapCfg(), discardLogger())

	// Stretched below VWAP but momentum neutral.
	fv := domain.FeatureVector{Instrument: "ETH-USD", Timestamp: t0, VWAPDev: -2.5, RSI: 50}
	sigs, err := vr.Evaluate(fv, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 0 {
		t.Fatalf("unconfirmed stretch produced %d signals", len(sigs))
	}
}

func TestVWAPReversionInsideBandStaysSilent(t *testing.T) {
	vr := NewVWAPReversion(vwapCfg(), discardLogger())

	fv := domain.FeatureVector{Instrument: "ETH-USD", Timestamp: t0, VWAPDev: 1.0, RSI: 25}
	sigs, err := vr.Evaluate(fv, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 0 {
		t.Fatalf("in-band deviation produced %d signals", len(sigs))
	}
}

func TestVWAPReversionStrengthScalesWithStretch(t *testing.T) {
	vr := NewVWAPReversion(vwapCfg(), discardLogger())

	shallow := vr.strength(-2.0, 29, 30)
	deep := vr.strength(-4.0, 15, 30)
	if deep <= shallow {
		t.Fatalf("strength(deep)=%v <= strength(shallow)=%v", deep, shallow)
	}
}

// ── order_block ──

func obCfg() config.OrderBlockConfig {
	return config.OrderBlockConfig{Lookback: 3, MaxRangePct: 0.02, RiskReward: 2}
}

// obWindow builds: a 3-bar zone [100, 101], an upward breakout, a bar
// holding clear above the zone, then a tap back into the top edge.
func obWindow() []domain.Bar {
	mk := func(i int, o, h, l, c float64) domain.Bar {
		return domain.Bar{
			Instrument: "BTC-USD",
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
			Open:       o, High: h, Low: l, Close: c,
			Volume: 1000,
		}
	}
	return []domain.Bar{
		mk(0, 100.2, 101, 100, 100.8),
		mk(1, 100.8, 101, 100, 100.3),
		mk(2, 100.3, 101, 100, 100.6),
		mk(3, 100.6, 105.5, 100.5, 105), // breakout
		mk(4, 105, 105.5, 103, 104),     // holds above
		mk(5, 104, 104, 100.5, 103),     // taps the zone edge
	}
}

func TestOrderBlockBuysReturnToZone(t *testing.T) {
	ob := NewOrderBlock(obCfg(), discardLogger())

	window := obWindow()
	sigs, err := ob.Evaluate(fvAt(window), window)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("signals = %d, want 1", len(sigs))
	}
	sig := sigs[0]
	if sig.Direction != domain.DirectionBuy {
		t.Fatalf("direction = %s, want BUY", sig.Direction)
	}
	// Stop at the zone's far edge, target at 2x the stop distance.
	if sig.StopLoss != 100 {
		t.Fatalf("stop = %v, want 100", sig.StopLoss)
	}
	if sig.TakeProfit != 109 {
		t.Fatalf("target = %v, want 109 (entry 103 + 2*3)", sig.TakeProfit)
	}
	if sig.Tags["zone_high"] != "101.000000" || sig.Tags["zone_low"] != "100.000000" {
		t.Fatalf("zone tags = %v", sig.Tags)
	}
}

func TestOrderBlockGrindingAlongEdgeStaysSilent(t *testing.T) {
	ob := NewOrderBlock(obCfg(), discardLogger())

	// The bar before the tap dips into the zone itself, so there is no
	// clean departure-and-return.
	window := obWindow()
	window[4].Low = 100.9

	sigs, err := ob.Evaluate(fvAt(window), window)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 0 {
		t.Fatalf("edge grind produced %d signals", len(sigs))
	}
}

func TestOrderBlockNoDepartureStaysSilent(t *testing.T) {
	ob := NewOrderBlock(obCfg(), discardLogger())

	window := flatWindow(6, 100)
	sigs, err := ob.Evaluate(fvAt(window), window)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(sigs) != 0 {
		t.Fatalf("flat window produced %d signals", len(sigs))
	}
}

// ── set ──

type stubStrategy struct {
	name string
	sigs []domain.Signal
	err  error
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Evaluate(domain.FeatureVector, []domain.Bar) ([]domain.Signal, error) {
	return s.sigs, s.err
}

func mkSignal(strategy string, dir domain.Direction, strength float64) domain.Signal {
	return domain.Signal{
		ID: strategy + "-1", Instrument: "BTC-USD", Timestamp: t0,
		Strategy: strategy, Direction: dir, RawStrength: strength,
	}
}

func TestSetDropsHoldAndZeroStrength(t *testing.T) {
	set := NewSet([]Strategy{
		&stubStrategy{name: "a", sigs: []domain.Signal{
			mkSignal("a", domain.DirectionHold, 0.9),
			mkSignal("a", domain.DirectionBuy, 0),
		}},
		&stubStrategy{name: "b", sigs: []domain.Signal{
			mkSignal("b", domain.DirectionBuy, 0.7),
		}},
	}, discardLogger())

	out, err := set.Evaluate(domain.FeatureVector{Instrument: "BTC-USD", Timestamp: t0}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out) != 1 || out[0].Strategy != "b" {
		t.Fatalf("kept = %+v, want only b's BUY", out)
	}
}

func TestSetPreservesRosterOrder(t *testing.T) {
	set := NewSet([]Strategy{
		&stubStrategy{name: "first", sigs: []domain.Signal{mkSignal("first", domain.DirectionBuy, 0.6)}},
		&stubStrategy{name: "second", sigs: []domain.Signal{mkSignal("second", domain.DirectionSell, 0.6)}},
	}, discardLogger())

	out, err := set.Evaluate(domain.FeatureVector{}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out) != 2 || out[0].Strategy != "first" || out[1].Strategy != "second" {
		t.Fatalf("order = %+v", out)
	}
	if names := set.Names(); len(names) != 2 || names[0] != "first" {
		t.Fatalf("names = %v", names)
	}
}

func TestSetSurfacesStrategyErrors(t *testing.T) {
	boom := errors.New("boom")
	set := NewSet([]Strategy{&stubStrategy{name: "bad", err: boom}}, discardLogger())

	_, err := set.Evaluate(domain.FeatureVector{}, nil)
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v, want strategy name in message", err)
	}
}

// ── opposing resolution ──

func scoredSig(strategy string, dir domain.Direction, conf float64) domain.ScoredSignal {
	return domain.ScoredSignal{Signal: mkSignal(strategy, dir, 0.5), Confidence: conf}
}

func TestResolveOpposingKeepsWinningSide(t *testing.T) {
	kept := ResolveOpposing([]domain.ScoredSignal{
		scoredSig("a", domain.DirectionBuy, 0.8),
		scoredSig("b", domain.DirectionBuy, 0.5),
		scoredSig("c", domain.DirectionSell, 0.6),
	}, discardLogger())

	if len(kept) != 2 {
		t.Fatalf("kept = %d signals, want 2", len(kept))
	}
	for _, sc := range kept {
		if sc.Direction != domain.DirectionBuy {
			t.Fatalf("kept %s signal from %s, want only BUY", sc.Direction, sc.Strategy)
		}
	}
}

func TestResolveOpposingTieDropsBothSides(t *testing.T) {
	kept := ResolveOpposing([]domain.ScoredSignal{
		scoredSig("a", domain.DirectionBuy, 0.7),
		scoredSig("b", domain.DirectionSell, 0.7),
	}, discardLogger())

	if len(kept) != 0 {
		t.Fatalf("kept = %d signals on a tie, want 0", len(kept))
	}
}

func TestResolveOpposingSingleSidePassesThrough(t *testing.T) {
	in := []domain.ScoredSignal{
		scoredSig("a", domain.DirectionBuy, 0.7),
		scoredSig("b", domain.DirectionBuy, 0.2),
	}
	kept := ResolveOpposing(in, discardLogger())
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want all 2", len(kept))
	}
}

// ── registry ──

func TestFromConfigRegistersEnabledStrategies(t *testing.T) {
	cfg := config.Defaults()
	reg := FromConfig(cfg.Strategy, cfg.Features, discardLogger())

	want := []string{"ma_cross", "order_block", "vwap_reversion"}
	got := reg.List()
	if len(got) != len(want) {
		t.Fatalf("registered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("registered = %v, want %v", got, want)
		}
	}

	cfg.Strategy.MACross.Enabled = false
	reg = FromConfig(cfg.Strategy, cfg.Features, discardLogger())
	if _, err := reg.Get("ma_cross"); err == nil {
		t.Fatal("disabled strategy still registered")
	}
}

func TestSelectResolvesInNameOrder(t *testing.T) {
	cfg := config.Defaults()
	reg := FromConfig(cfg.Strategy, cfg.Features, discardLogger())

	active, err := reg.Select([]string{"vwap_reversion", "ma_cross"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(active) != 2 || active[0].Name() != "ma_cross" || active[1].Name() != "vwap_reversion" {
		t.Fatalf("selection order = %v", []string{active[0].Name(), active[1].Name()})
	}

	if _, err := reg.Select([]string{"momentum"}); err == nil {
		t.Fatal("unknown strategy name did not error")
	}
}
