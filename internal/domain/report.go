package domain

import "time"

// TradeRecord is one row of the trade log: an order and its terminal
// outcome, flattened for the reporting boundary.
type TradeRecord struct {
	OrderID       string      `json:"order_id"`
	SignalID      string      `json:"signal_id"`
	Instrument    string      `json:"instrument"`
	Strategy      string      `json:"strategy"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"type"`
	RequestedQty  float64     `json:"requested_quantity"`
	ExecutedQty   float64     `json:"executed_quantity"`
	ExecutedPrice float64     `json:"executed_price"`
	Commission    float64     `json:"commission"`
	SlippageBps   float64     `json:"slippage_bps"`
	StopLoss      float64     `json:"stop_loss"`
	TakeProfit    float64     `json:"take_profit"`
	Status        OrderStatus `json:"status"`
	RejectReason  string      `json:"reject_reason,omitempty"`
	Confidence    float64     `json:"confidence"`
	ModelVersion  string      `json:"model_version,omitempty"`
	Degraded      bool        `json:"degraded,omitempty"`
	CloseReason   CloseReason `json:"close_reason,omitempty"`
	RealizedPnL   float64     `json:"realized_pnl"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Metrics are the aggregate performance statistics of one run.
type Metrics struct {
	TotalReturnPct float64 `json:"total_return_pct"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"`
	FinalEquity    float64 `json:"final_equity"`
	InitialEquity  float64 `json:"initial_equity"`
}

// BacktestReport is the structured output of one backtest run,
// consumed by external dashboards.
type BacktestReport struct {
	RunID        string        `json:"run_id"`
	Instruments  []string      `json:"instruments"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	BarsReplayed int           `json:"bars_replayed"`
	Metrics      Metrics       `json:"metrics"`
	Trades       []TradeRecord `json:"trades"`
	EquityCurve  []EquityPoint `json:"equity_curve"`
	Degradations int           `json:"model_degradations"`
	// RiskRejections counts vetoed signals by reason. Rejections never
	// reach the trade log because no order is ever created for them.
	RiskRejections map[string]int `json:"risk_rejections,omitempty"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
