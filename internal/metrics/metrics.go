// Package metrics exposes the pipeline's Prometheus instrumentation.
// Collectors are package-level and registered once at init; the status
// server mounts Handler at /metrics when metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "riptide_bars_processed_total", Help: "Bars consumed by the pipeline"},
		[]string{"instrument"},
	)
	SignalsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "riptide_signals_total", Help: "Raw signals emitted by strategies"},
		[]string{"strategy", "direction"},
	)
	SignalsDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "riptide_signals_degraded_total", Help: "Signals scored by the raw-strength fallback"},
	)
	RiskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "riptide_risk_rejections_total", Help: "Signals vetoed by the risk manager"},
		[]string{"reason"},
	)
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "riptide_orders_submitted_total", Help: "Orders handed to the execution gateway"},
		[]string{"side", "type"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "riptide_fills_total", Help: "Fills applied to the portfolio"},
		[]string{"side", "partial"},
	)
	ExecRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "riptide_exec_rejections_total", Help: "Orders the execution backend refused"},
		[]string{"reason"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "riptide_equity", Help: "Current portfolio equity"},
	)
	Halted = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "riptide_halted", Help: "1 while the daily loss breaker is tripped"},
	)
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "riptide_tick_duration_seconds",
			Help:    "Wall time spent processing one live tick",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		BarsProcessed,
		SignalsGenerated,
		SignalsDegraded,
		RiskRejections,
		OrdersSubmitted,
		FillsTotal,
		ExecRejections,
		Equity,
		Halted,
		TickDuration,
	)
}

// Handler serves the default registry; the status server mounts it.
func Handler() http.Handler {
	return promhttp.Handler()
}
