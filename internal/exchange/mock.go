// Package exchange simulates order execution against historical bars
// and fronts it with the gateway that owns the order lifecycle. The
// simulator is deliberately pessimistic: slippage grows with order
// size, fills are capped by bar volume, and ambiguous exit bars
// resolve against the trade.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// Backend executes what it can of an order against the current market
// and returns the updated order plus the fill, if any. Orders that
// cannot execute yet rest on the backend's book.
type Backend interface {
	Submit(ctx context.Context, order domain.Order) (domain.Order, *domain.Fill, error)
}

// Event is one outcome produced while advancing the simulated market:
// a fill against a resting order, or an expiry cancellation (Fill nil).
type Event struct {
	Order domain.Order
	Fill  *domain.Fill
}

// restingOrder is an open order on the simulated book.
type restingOrder struct {
	order    domain.Order
	barsLive int
}

// MockExchange fills orders against bars. Advance moves the market one
// bar forward for one instrument and works the book; Submit executes
// against the most recently advanced bar. Fill rules:
//
//   - market orders fill at close adjusted by size-dependent slippage,
//     capped per bar at max_fill_per_bar of the bar's volume; the
//     residual rests and continues on subsequent bars
//   - limit orders rest on submission and fill at the limit price when
//     a later bar's range crosses it, expiring after limit_bars_to_live
//     bars without a complete fill
//   - exit orders fill in full at their trigger price with adverse
//     slippage; protection must execute, so no volume cap applies
type MockExchange struct {
	cfg    config.ExecutionConfig
	vols   *VolumeTracker
	logger *slog.Logger

	mu      sync.Mutex
	current map[string]domain.Bar
	resting []*restingOrder
}

var _ Backend = (*MockExchange)(nil)

// NewMockExchange builds a simulator with an empty book.
func NewMockExchange(cfg config.ExecutionConfig, logger *slog.Logger) *MockExchange {
	return &MockExchange{
		cfg:     cfg,
		vols:    NewVolumeTracker(cfg.AvgVolumeWindow),
		logger:  logger.With(slog.String("component", "mock_exchange")),
		current: make(map[string]domain.Bar),
	}
}

// Advance moves the simulated market to this bar and works every
// resting order on the bar's instrument, in submission order. The
// returned events carry fills and expiries for the caller to apply.
func (x *MockExchange) Advance(bar domain.Bar) []Event {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.current[bar.Instrument] = bar
	x.vols.Track(bar.Instrument, bar.Volume)

	var events []Event
	keep := x.resting[:0]
	for _, r := range x.resting {
		if r.order.Instrument != bar.Instrument {
			keep = append(keep, r)
			continue
		}
		evs, done := x.workRestingLocked(r, bar)
		events = append(events, evs...)
		if !done {
			keep = append(keep, r)
		}
	}
	x.resting = keep
	return events
}

// workRestingLocked executes one bar of life for a resting order and
// reports whether it left the book. A limit order can produce two
// events on its final bar: a partial fill and the expiry of the rest.
func (x *MockExchange) workRestingLocked(r *restingOrder, bar domain.Bar) ([]Event, bool) {
	r.barsLive++
	var events []Event

	switch r.order.Type {
	case domain.OrderTypeLimit:
		if bar.Crosses(r.order.LimitPrice) {
			if fill := x.fillLocked(&r.order, bar, r.order.LimitPrice, 0); fill != nil {
				events = append(events, Event{Order: r.order, Fill: fill})
				if r.order.Status == domain.OrderStatusFilled {
					return events, true
				}
				r.order.Status = domain.OrderStatusPending
			}
		}
		if r.barsLive >= x.cfg.LimitBarsToLive {
			r.order.Status = domain.OrderStatusCancelled
			r.order.UpdatedAt = bar.Timestamp
			x.logger.Debug("limit order expired",
				slog.String("order_id", r.order.ID),
				slog.Int("bars_lived", r.barsLive),
			)
			return append(events, Event{Order: r.order}), true
		}
		return events, false

	default: // market residual
		price, slipBps := x.marketPrice(r.order, bar)
		if fill := x.fillLocked(&r.order, bar, price, slipBps); fill != nil {
			events = append(events, Event{Order: r.order, Fill: fill})
			if r.order.Status == domain.OrderStatusFilled {
				return events, true
			}
			r.order.Status = domain.OrderStatusPending
		}
		return events, false
	}
}

// Submit executes an order against the most recently advanced bar.
func (x *MockExchange) Submit(ctx context.Context, order domain.Order) (domain.Order, *domain.Fill, error) {
	if err := ctx.Err(); err != nil {
		return order, nil, domain.ExecutionRejectedTransient(domain.ExecRejectTimeout, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if order.Status != domain.OrderStatusSubmitted {
		return order, nil, domain.ExecutionRejected(domain.ExecRejectBadTransition,
			fmt.Errorf("order %s arrived as %s, want SUBMITTED", order.ID, order.Status))
	}
	bar, ok := x.current[order.Instrument]
	if !ok {
		return order, nil, domain.ExecutionRejected(domain.ExecRejectNoLiquidity,
			fmt.Errorf("no market data for %s", order.Instrument))
	}

	// Exit orders execute in full at the trigger: protective levels
	// are guarantees to the portfolio, not liquidity-limited wishes.
	if order.Exit() {
		if order.TriggerPrice <= 0 {
			return order, nil, domain.ExecutionRejected(domain.ExecRejectUnknownOrder,
				fmt.Errorf("exit order %s has no trigger price", order.ID))
		}
		price, slipBps := x.adversePrice(order.Side, order.TriggerPrice, order.RequestedQuantity, order.Instrument)
		fill := x.fullFillLocked(&order, bar, price, slipBps)
		return order, fill, nil
	}

	switch order.Type {
	case domain.OrderTypeLimit:
		// Limits rest until a later bar crosses the price.
		order.Status = domain.OrderStatusPending
		order.UpdatedAt = bar.Timestamp
		x.resting = append(x.resting, &restingOrder{order: order})
		return order, nil, nil

	default:
		if bar.Volume <= 0 {
			return order, nil, domain.ExecutionRejected(domain.ExecRejectNoLiquidity,
				fmt.Errorf("bar at %s has no volume", bar.Timestamp.UTC()))
		}
		price, slipBps := x.marketPrice(order, bar)
		fill := x.fillLocked(&order, bar, price, slipBps)
		if fill == nil {
			return order, nil, domain.ExecutionRejected(domain.ExecRejectNoLiquidity,
				fmt.Errorf("bar at %s cannot fill any quantity", bar.Timestamp.UTC()))
		}
		if order.Status == domain.OrderStatusPartiallyFilled {
			// Residual keeps working on later bars.
			rest := order
			rest.Status = domain.OrderStatusPending
			x.resting = append(x.resting, &restingOrder{order: rest})
		}
		return order, fill, nil
	}
}

// fillLocked executes up to the per-bar volume cap against the order,
// mutating its status and filled quantity. Returns nil when the cap
// leaves no room this bar.
func (x *MockExchange) fillLocked(order *domain.Order, bar domain.Bar, price, slipBps float64) *domain.Fill {
	budget := x.cfg.MaxFillPerBar * bar.Volume
	if budget <= 0 {
		return nil
	}
	qty := math.Min(order.Remaining(), budget)
	if qty <= 0 {
		return nil
	}

	order.FilledQuantity += qty
	order.UpdatedAt = bar.Timestamp
	partial := order.Remaining() > 1e-9
	if partial {
		order.Status = domain.OrderStatusPartiallyFilled
	} else {
		order.Status = domain.OrderStatusFilled
	}

	fill := &domain.Fill{
		OrderID:          order.ID,
		Instrument:       order.Instrument,
		Side:             order.Side,
		ExecutedQuantity: qty,
		ExecutedPrice:    price,
		Commission:       x.commission(qty * price),
		SlippageBps:      slipBps,
		Partial:          partial,
		Timestamp:        bar.Timestamp,
	}
	x.logger.Debug("fill",
		slog.String("order_id", order.ID),
		slog.String("side", string(order.Side)),
		slog.Float64("qty", qty),
		slog.Float64("price", price),
		slog.Bool("partial", partial),
	)
	return fill
}

// fullFillLocked executes the whole remaining quantity regardless of
// bar volume. Exit orders use this path.
func (x *MockExchange) fullFillLocked(order *domain.Order, bar domain.Bar, price, slipBps float64) *domain.Fill {
	qty := order.Remaining()
	order.FilledQuantity = order.RequestedQuantity
	order.Status = domain.OrderStatusFilled
	order.UpdatedAt = bar.Timestamp
	return &domain.Fill{
		OrderID:          order.ID,
		Instrument:       order.Instrument,
		Side:             order.Side,
		ExecutedQuantity: qty,
		ExecutedPrice:    price,
		Commission:       x.commission(qty * price),
		SlippageBps:      slipBps,
		Timestamp:        bar.Timestamp,
	}
}

// marketPrice prices a market order against the bar close with
// size-dependent slippage.
func (x *MockExchange) marketPrice(order domain.Order, bar domain.Bar) (price, slipBps float64) {
	return x.adversePrice(order.Side, bar.Close, order.Remaining(), order.Instrument)
}

// adversePrice moves the reference price against the taker. Slippage
// starts at the configured floor and grows linearly with order size
// relative to the tolerated fraction of average volume, capped at ten
// times the floor.
func (x *MockExchange) adversePrice(side domain.OrderSide, ref, qty float64, instrument string) (price, slipBps float64) {
	slipBps = x.cfg.SlippageBps
	if avg := x.vols.Average(instrument); avg > 0 && x.cfg.AvgVolumeFraction > 0 {
		impact := qty / (x.cfg.AvgVolumeFraction * avg)
		if impact > 9 {
			impact = 9
		}
		slipBps *= 1 + impact
	}
	price = ref * (1 + side.Sign()*slipBps/10_000)
	return price, slipBps
}

func (x *MockExchange) commission(notional float64) float64 {
	return math.Abs(notional)*x.cfg.CommissionBps/10_000 + x.cfg.CommissionFlat
}

// CancelResting pulls every resting order for the instrument off the
// book, returning the cancellation events. Callers use it when a
// strategy reversal makes pending entries stale.
func (x *MockExchange) CancelResting(instrument string, ts time.Time) []Event {
	x.mu.Lock()
	defer x.mu.Unlock()

	var events []Event
	keep := x.resting[:0]
	for _, r := range x.resting {
		if r.order.Instrument != instrument {
			keep = append(keep, r)
			continue
		}
		r.order.Status = domain.OrderStatusCancelled
		r.order.UpdatedAt = ts
		x.logger.Debug("resting order cancelled",
			slog.String("order_id", r.order.ID),
			slog.String("instrument", instrument),
		)
		events = append(events, Event{Order: r.order})
	}
	x.resting = keep
	return events
}

// RestingCount reports how many orders sit on the book.
func (x *MockExchange) RestingCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.resting)
}
