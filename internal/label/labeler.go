// Package label turns historical signals into supervised training
// examples using the first-touch rule: walk forward bar by bar from the
// signal and record whether the stop or the target traded first within
// the horizon. The same exit policy the fill simulator uses resolves
// bars that touch both levels, so labels describe the exits the
// simulator would actually have taken.
package label

import (
	"fmt"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// Outcome is the realized result of walking a signal forward.
type Outcome struct {
	Class     domain.LabelClass
	BarsHeld  int
	ExitPrice float64
}

// Labeler assigns first-touch outcomes to signals. Signals that carry
// no stop or target get the risk manager's default protective levels,
// anchored at the signal bar's close, so labels line up with the
// orders the live pipeline would have placed.
type Labeler struct {
	horizon       int
	policy        domain.ExitPolicy
	stopLossPct   float64
	takeProfitPct float64
}

// New builds a Labeler from the label and risk sections of the config.
func New(cfg config.LabelConfig, risk config.RiskConfig, policy domain.ExitPolicy) *Labeler {
	return &Labeler{
		horizon:       cfg.HorizonBars,
		policy:        policy,
		stopLossPct:   risk.StopLossPct,
		takeProfitPct: risk.TakeProfitPct,
	}
}

// Horizon returns the forward-looking window length in bars.
func (l *Labeler) Horizon() int { return l.horizon }

// Label walks the forward bars and returns the first-touch outcome for
// the signal. entry is the price the trade would have entered at (the
// signal bar's close). Every forward bar must be strictly after the
// signal's timestamp; anything else is label leakage and aborts the
// whole labeling run rather than silently corrupting the dataset.
func (l *Labeler) Label(sig domain.Signal, entry float64, forward []domain.Bar) (Outcome, error) {
	if sig.Direction != domain.DirectionBuy && sig.Direction != domain.DirectionSell {
		return Outcome{}, fmt.Errorf("label %s signal %s: direction %q is not tradeable",
			sig.Strategy, sig.ID, sig.Direction)
	}
	if entry <= 0 {
		return Outcome{}, fmt.Errorf("label signal %s: entry price must be > 0, got %v", sig.ID, entry)
	}

	long := sig.Direction == domain.DirectionBuy
	stop, target := l.levels(sig, entry, long)

	prev := sig.Timestamp
	held := 0
	last := entry
	for _, b := range forward {
		if held >= l.horizon {
			break
		}
		if !b.Timestamp.After(prev) {
			return Outcome{}, fmt.Errorf("%w: signal %s at %s saw bar at %s",
				domain.ErrLabelLeakage, sig.ID, sig.Timestamp.UTC(), b.Timestamp.UTC())
		}
		if b.Instrument != sig.Instrument {
			return Outcome{}, fmt.Errorf("label signal %s: forward bar instrument %q does not match %q",
				sig.ID, b.Instrument, sig.Instrument)
		}
		prev = b.Timestamp
		held++
		last = b.Close

		reason, price, hit := domain.FirstTouch(long, stop, target, b, l.policy)
		if !hit {
			continue
		}
		out := Outcome{BarsHeld: held, ExitPrice: price}
		if reason == domain.CloseReasonTarget {
			out.Class = domain.LabelWin
		} else {
			out.Class = domain.LabelLoss
		}
		return out, nil
	}

	// Neither level traded within the horizon.
	return Outcome{Class: domain.LabelFlat, BarsHeld: held, ExitPrice: last}, nil
}

// levels resolves the protective levels for a signal, falling back to
// the default percentages when the strategy did not supply its own.
func (l *Labeler) levels(sig domain.Signal, entry float64, long bool) (stop, target float64) {
	stop = sig.StopLoss
	target = sig.TakeProfit
	if long {
		if stop <= 0 {
			stop = entry * (1 - l.stopLossPct)
		}
		if target <= 0 {
			target = entry * (1 + l.takeProfitPct)
		}
	} else {
		if stop <= 0 {
			stop = entry * (1 + l.stopLossPct)
		}
		if target <= 0 {
			target = entry * (1 - l.takeProfitPct)
		}
	}
	return stop, target
}
