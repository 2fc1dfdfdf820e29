package backtest

import (
	"math"

	"github.com/riptide-quant/riptide/internal/domain"
)

// ComputeMetrics derives summary statistics from an equity curve and the
// realized trade log. Round trips are the fills that closed (or reduced)
// a position; entry fills carry zero realized PnL and are not counted.
func ComputeMetrics(initialCash float64, curve []domain.EquityPoint, trades []domain.TradeRecord, barsPerYear int) domain.Metrics {
	m := domain.Metrics{
		InitialEquity: initialCash,
		FinalEquity:   initialCash,
	}
	if len(curve) > 0 {
		m.FinalEquity = curve[len(curve)-1].Equity
	}
	if initialCash > 0 {
		m.TotalReturnPct = (m.FinalEquity - initialCash) / initialCash * 100
	}

	for _, tr := range trades {
		if tr.RealizedPnL > 0 {
			m.Wins++
			m.GrossProfit += tr.RealizedPnL
		} else if tr.RealizedPnL < 0 {
			m.Losses++
			m.GrossLoss += -tr.RealizedPnL
		}
	}
	m.Trades = m.Wins + m.Losses
	if m.Trades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.Trades)
	}
	// A run with no losing trades has an undefined profit factor; report
	// zero rather than +Inf, which JSON cannot encode.
	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	}

	m.MaxDrawdownPct = maxDrawdown(curve)
	m.SharpeRatio = sharpe(curve, barsPerYear)
	return m
}

// maxDrawdown returns the largest peak-to-trough equity decline as a
// percentage of the peak.
func maxDrawdown(curve []domain.EquityPoint) float64 {
	var peak, worst float64
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - pt.Equity) / peak * 100
		if dd > worst {
			worst = dd
		}
	}
	return worst
}

// sharpe computes the annualized Sharpe ratio over per-bar equity returns,
// assuming a zero risk-free rate. Fewer than two curve points, or a flat
// curve, yield zero.
func sharpe(curve []domain.EquityPoint, barsPerYear int) float64 {
	if len(curve) < 2 || barsPerYear <= 0 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(barsPerYear))
}
