package label

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/features"
	"github.com/riptide-quant/riptide/internal/marketdata"
	"github.com/riptide-quant/riptide/internal/strategy"
)

var testBase = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testLabeler(horizon int, policy domain.ExitPolicy) *Labeler {
	return New(
		config.LabelConfig{HorizonBars: horizon, Holdout: 0.3},
		config.RiskConfig{StopLossPct: 0.02, TakeProfitPct: 0.04},
		policy,
	)
}

func buySignal() domain.Signal {
	return domain.Signal{
		ID:          "sig-1",
		Instrument:  "BTC-USD",
		Timestamp:   testBase,
		Strategy:    "ma_cross",
		Direction:   domain.DirectionBuy,
		RawStrength: 0.7,
	}
}

// fwd builds the n-th forward bar with the given extremes.
func fwd(n int, high, low float64) domain.Bar {
	return domain.Bar{
		Instrument: "BTC-USD",
		Timestamp:  testBase.Add(time.Duration(n) * time.Hour),
		Open:       (high + low) / 2,
		High:       high,
		Low:        low,
		Close:      (high + low) / 2,
		Volume:     1000,
	}
}

func TestLabelWinOnTargetTouch(t *testing.T) {
	l := testLabeler(24, domain.ExitStopFirst)

	// Entry 100: default stop 98, target 104. Second bar tags the target.
	forward := []domain.Bar{
		fwd(1, 102, 99),
		fwd(2, 104.5, 101),
		fwd(3, 103, 100),
	}
	out, err := l.Label(buySignal(), 100, forward)
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if out.Class != domain.LabelWin {
		t.Fatalf("class = %s, want WIN", out.Class)
	}
	if out.BarsHeld != 2 {
		t.Fatalf("bars held = %d, want 2", out.BarsHeld)
	}
	if out.ExitPrice != 104 {
		t.Fatalf("exit price = %v, want 104 (the target, not the bar high)", out.ExitPrice)
	}
}

func TestLabelLossOnStopTouch(t *testing.T) {
	l := testLabeler(24, domain.ExitStopFirst)

	forward := []domain.Bar{
		fwd(1, 101, 97.5), // low pierces the 98 stop
	}
	out, err := l.Label(buySignal(), 100, forward)
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if out.Class != domain.LabelLoss {
		t.Fatalf("class = %s, want LOSS", out.Class)
	}
	if out.ExitPrice != 98 {
		t.Fatalf("exit price = %v, want 98", out.ExitPrice)
	}
}

func TestLabelFlatWhenHorizonExpires(t *testing.T) {
	l := testLabeler(3, domain.ExitStopFirst)

	forward := []domain.Bar{
		fwd(1, 101, 99),
		fwd(2, 101.5, 99.5),
		fwd(3, 102, 100),
		fwd(4, 110, 90), // beyond the horizon, must be ignored
	}
	out, err := l.Label(buySignal(), 100, forward)
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if out.Class != domain.LabelFlat {
		t.Fatalf("class = %s, want FLAT", out.Class)
	}
	if out.BarsHeld != 3 {
		t.Fatalf("bars held = %d, want 3", out.BarsHeld)
	}
}

func TestLabelSameBarPolicyDecides(t *testing.T) {
	// One bar spans both the 98 stop and the 104 target.
	forward := []domain.Bar{fwd(1, 105, 97)}

	out, err := testLabeler(24, domain.ExitStopFirst).Label(buySignal(), 100, forward)
	if err != nil {
		t.Fatalf("Label(stop_first): %v", err)
	}
	if out.Class != domain.LabelLoss {
		t.Fatalf("stop_first class = %s, want LOSS", out.Class)
	}

	out, err = testLabeler(24, domain.ExitTargetFirst).Label(buySignal(), 100, forward)
	if err != nil {
		t.Fatalf("Label(target_first): %v", err)
	}
	if out.Class != domain.LabelWin {
		t.Fatalf("target_first class = %s, want WIN", out.Class)
	}
}

func TestLabelShortDirection(t *testing.T) {
	l := testLabeler(24, domain.ExitStopFirst)

	sig := buySignal()
	sig.Direction = domain.DirectionSell

	// Entry 100 short: stop 102, target 96.
	forward := []domain.Bar{
		fwd(1, 101, 98),
		fwd(2, 99, 95.9), // low tags the 96 target
	}
	out, err := l.Label(sig, 100, forward)
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if out.Class != domain.LabelWin {
		t.Fatalf("class = %s, want WIN", out.Class)
	}
	if out.ExitPrice != 96 {
		t.Fatalf("exit price = %v, want 96", out.ExitPrice)
	}
}

func TestLabelStrategyLevelsWin(t *testing.T) {
	l := testLabeler(24, domain.ExitStopFirst)

	sig := buySignal()
	sig.StopLoss = 99.5
	sig.TakeProfit = 101

	forward := []domain.Bar{fwd(1, 101.2, 99.8)} // inside default levels, outside custom
	out, err := l.Label(sig, 100, forward)
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if out.Class != domain.LabelWin {
		t.Fatalf("class = %s, want WIN from the strategy's own target", out.Class)
	}
	if out.ExitPrice != 101 {
		t.Fatalf("exit price = %v, want 101", out.ExitPrice)
	}
}

func TestLabelRejectsLeakedBars(t *testing.T) {
	l := testLabeler(24, domain.ExitStopFirst)

	// A "forward" bar stamped at the signal's own timestamp is leakage.
	forward := []domain.Bar{
		{Instrument: "BTC-USD", Timestamp: testBase, High: 101, Low: 99, Close: 100},
	}
	_, err := l.Label(buySignal(), 100, forward)
	if !errors.Is(err, domain.ErrLabelLeakage) {
		t.Fatalf("err = %v, want ErrLabelLeakage", err)
	}
}

func TestLabelRejectsHold(t *testing.T) {
	l := testLabeler(24, domain.ExitStopFirst)

	sig := buySignal()
	sig.Direction = domain.DirectionHold
	if _, err := l.Label(sig, 100, nil); err == nil {
		t.Fatal("expected error for HOLD signal")
	}
}

func TestBuilderFlatSeriesYieldsNoExamples(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := marketdata.New()
	for i := 0; i < 80; i++ {
		if err := store.Append(domain.Bar{
			Instrument: "BTC-USD",
			Timestamp:  testBase.Add(time.Duration(i) * time.Hour),
			Open:       100, High: 100.01, Low: 99.99, Close: 100,
			Volume: 1000,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	cfg := config.Defaults()
	eng := features.NewEngine(cfg.Features)
	reg := strategy.FromConfig(cfg.Strategy, cfg.Features, logger)
	strats, err := reg.Select(cfg.Strategy.Active)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	set := strategy.NewSet(strats, logger)

	b := NewBuilder(store, eng, set, testLabeler(24, domain.ExitStopFirst), logger)
	examples, err := b.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(examples) != 0 {
		t.Fatalf("examples = %d, want 0 for a dead-flat series", len(examples))
	}
}
