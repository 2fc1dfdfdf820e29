package exchange

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
)

// Gateway fronts an execution backend and owns the order lifecycle:
// it validates, submits under a deadline, and retries a transient
// rejection exactly once before surfacing it. Orders leave the gateway
// either filled (possibly partially), resting, or terminally rejected
// with a reason.
type Gateway struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// NewGateway wraps a backend with the configured submit timeout.
func NewGateway(backend Backend, cfg config.ExecutionConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		backend: backend,
		timeout: cfg.SubmitTimeout.Duration,
		logger:  logger.With(slog.String("component", "gateway")),
	}
}

// Submit walks the order CREATED -> VALIDATED -> SUBMITTED and hands
// it to the backend. The returned order carries its final status; on
// error it is REJECTED with RejectReason set.
func (g *Gateway) Submit(ctx context.Context, order domain.Order) (domain.Order, *domain.Fill, error) {
	for _, next := range []domain.OrderStatus{domain.OrderStatusValidated, domain.OrderStatusSubmitted} {
		from := order.Status
		if !from.CanTransition(next) {
			order.Status = domain.OrderStatusRejected
			order.RejectReason = domain.ExecRejectBadTransition
			return order, nil, domain.ExecutionRejected(domain.ExecRejectBadTransition,
				errors.New("order "+order.ID+" cannot move "+string(from)+" -> "+string(next)))
		}
		order.Status = next
	}

	upd, fill, err := g.attempt(ctx, order)
	if err != nil && g.transient(err) && ctx.Err() == nil {
		g.logger.Warn("transient rejection, retrying once",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		upd, fill, err = g.attempt(ctx, order)
	}
	if err != nil {
		order.Status = domain.OrderStatusRejected
		order.RejectReason = rejectReason(err)
		g.logger.Warn("order rejected",
			slog.String("order_id", order.ID),
			slog.String("reason", order.RejectReason),
		)
		return order, nil, err
	}
	return upd, fill, nil
}

func (g *Gateway) attempt(ctx context.Context, order domain.Order) (domain.Order, *domain.Fill, error) {
	cctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	upd, fill, err := g.backend.Submit(cctx, order)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return upd, fill, domain.ExecutionRejectedTransient(domain.ExecRejectTimeout, err)
	}
	return upd, fill, err
}

func (g *Gateway) transient(err error) bool {
	er, ok := domain.IsExecutionRejected(err)
	return ok && er.Transient
}

func rejectReason(err error) string {
	if er, ok := domain.IsExecutionRejected(err); ok {
		return er.Reason
	}
	return domain.ExecRejectConnectivity
}
