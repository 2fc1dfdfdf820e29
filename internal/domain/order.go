package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SideFor maps a signal direction to an order side. HOLD has no side.
func SideFor(d Direction) (OrderSide, bool) {
	switch d {
	case DirectionBuy:
		return OrderSideBuy, true
	case DirectionSell:
		return OrderSideSell, true
	default:
		return "", false
	}
}

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType selects the execution style.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus tracks the order lifecycle:
// CREATED -> VALIDATED -> SUBMITTED -> {FILLED | PARTIALLY_FILLED |
// REJECTED | CANCELLED}. Resting limit orders sit in PENDING after
// submission until filled or expired. Terminal orders are immutable.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusValidated       OrderStatus = "VALIDATED"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
// PARTIALLY_FILLED is not terminal: the residual continues as PENDING.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// validNext enumerates the permitted lifecycle transitions.
var validNext = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:         {OrderStatusValidated, OrderStatusRejected},
	OrderStatusValidated:       {OrderStatusSubmitted, OrderStatusRejected},
	OrderStatusSubmitted:       {OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusPending, OrderStatusRejected, OrderStatusCancelled},
	OrderStatusPending:         {OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusCancelled},
	OrderStatusPartiallyFilled: {OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusPending, OrderStatusCancelled},
}

// CanTransition reports whether moving from s to next is legal.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, n := range validNext[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Order is a sized, risk-approved instruction to trade. Orders are
// created only by the risk manager from a scored signal that passed
// the confidence threshold, and are referenced by opaque ID from the
// portfolio's order arena.
type Order struct {
	ID                string
	Instrument        string
	Side              OrderSide
	Type              OrderType
	RequestedQuantity float64
	FilledQuantity    float64
	LimitPrice        float64 // 0 for market orders
	StopLoss          float64
	TakeProfit        float64
	SignalID          string
	Strategy          string
	Status            OrderStatus
	RejectReason      string

	// TriggerPrice and CloseReason are set only on exit orders: the
	// protective level (or reversal mark) the exit executes at, before
	// adverse slippage. Exit orders always fill in full.
	TriggerPrice float64
	CloseReason  CloseReason

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 {
	return o.RequestedQuantity - o.FilledQuantity
}

// Exit reports whether this order closes an existing position rather
// than opening or extending one.
func (o Order) Exit() bool { return o.CloseReason != "" }

// Fill is the execution backend's report for one bar of execution
// against an order. Partial fills are a distinct outcome from full
// fills and from rejection.
type Fill struct {
	OrderID          string
	Instrument       string
	Side             OrderSide
	ExecutedQuantity float64
	ExecutedPrice    float64
	Commission       float64
	SlippageBps      float64
	Partial          bool
	Timestamp        time.Time
}

// Notional returns the cash value of the fill before commission.
func (f Fill) Notional() float64 {
	return f.ExecutedQuantity * f.ExecutedPrice
}
