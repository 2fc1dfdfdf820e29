// Package backtest replays stored bars through the full decision path —
// features, strategies, model scoring, risk sizing and the mock exchange —
// and produces a structured report. Replays are deterministic: two runs
// over the same bars and configuration yield identical trade logs, equity
// curves and metrics.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/exchange"
	"github.com/riptide-quant/riptide/internal/features"
	"github.com/riptide-quant/riptide/internal/marketdata"
	"github.com/riptide-quant/riptide/internal/model"
	"github.com/riptide-quant/riptide/internal/risk"
	"github.com/riptide-quant/riptide/internal/strategy"
)

// Deps bundles the collaborators an Engine replays through. All of them
// are constructed by the caller so the same wiring serves tests and the
// application entrypoint.
type Deps struct {
	Store      *marketdata.Store
	Features   *features.Engine
	Strategies *strategy.Set
	Scorer     model.Scorer
	Risk       *risk.Manager
	Exchange   *exchange.MockExchange
	Gateway    *exchange.Gateway
	Logger     *slog.Logger
}

// scoreMeta preserves the model attribution of an accepted order so that
// fills arriving bars later (resting limits, partial-fill residue) still
// produce fully attributed trade records.
type scoreMeta struct {
	confidence   float64
	modelVersion string
	degraded     bool
	stopLoss     float64
	takeProfit   float64
}

// Engine drives one replay. It is single-use: construct, Run, discard.
type Engine struct {
	store      *marketdata.Store
	features   *features.Engine
	strategies *strategy.Set
	scorer     model.Scorer
	risk       *risk.Manager
	exchange   *exchange.MockExchange
	gateway    *exchange.Gateway
	cfg         config.BacktestConfig
	barsPerYear int
	logger      *slog.Logger

	meta         map[string]scoreMeta
	trades       []domain.TradeRecord
	rejections   map[string]int
	degradations int
	barsReplayed int
}

// NewEngine builds a replay engine. barsPerYear annualizes the Sharpe
// ratio and should match the bar interval of the stored data.
func NewEngine(deps Deps, cfg config.BacktestConfig, barsPerYear int) *Engine {
	return &Engine{
		store:       deps.Store,
		features:    deps.Features,
		strategies:  deps.Strategies,
		scorer:      deps.Scorer,
		risk:        deps.Risk,
		exchange:    deps.Exchange,
		gateway:     deps.Gateway,
		cfg:         cfg,
		barsPerYear: barsPerYear,
		logger:      deps.Logger.With(slog.String("component", "backtest")),
		meta:        make(map[string]scoreMeta),
		rejections:  make(map[string]int),
	}
}

// Run replays every stored timestamp inside the configured window and
// returns the report. The context is checked between timestamps, so a
// cancelled run returns promptly with ctx.Err().
func (e *Engine) Run(ctx context.Context) (*domain.BacktestReport, error) {
	instruments := e.store.Instruments()
	if len(instruments) == 0 {
		return nil, errors.New("backtest: no instruments loaded")
	}
	timeline := e.store.Timestamps(e.cfg.Start, e.cfg.End)
	if len(timeline) == 0 {
		return nil, errors.New("backtest: no bars in configured window")
	}

	runID := uuid.NewString()
	e.logger.Info("replay starting",
		slog.String("run_id", runID),
		slog.Any("instruments", instruments),
		slog.Int("timestamps", len(timeline)),
		slog.Time("first", timeline[0]),
		slog.Time("last", timeline[len(timeline)-1]),
	)

	for _, ts := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest interrupted: %w", err)
		}
		if err := e.tick(ctx, ts, instruments); err != nil {
			return nil, err
		}
		e.risk.RecordEquity(ts)
	}

	snap := e.risk.Snapshot()
	report := &domain.BacktestReport{
		RunID:          runID,
		Instruments:    instruments,
		Start:          timeline[0],
		End:            timeline[len(timeline)-1],
		BarsReplayed:   e.barsReplayed,
		Metrics:        ComputeMetrics(e.cfg.InitialCash, snap.EquityCurve, e.trades, e.barsPerYear),
		Trades:         e.trades,
		EquityCurve:    snap.EquityCurve,
		Degradations:   e.degradations,
		RiskRejections: e.rejections,
		GeneratedAt:    time.Now().UTC(),
	}
	e.logger.Info("replay complete",
		slog.String("run_id", runID),
		slog.Int("bars", e.barsReplayed),
		slog.Int("trades", len(e.trades)),
		slog.Float64("final_equity", report.Metrics.FinalEquity),
		slog.Float64("return_pct", report.Metrics.TotalReturnPct),
	)
	return report, nil
}

// tick processes one timestamp: the market moves first (resting orders
// work, marks update, protective exits trigger), then strategies evaluate
// the bar close and new orders go out. Entries made on this close can
// therefore only be stopped out by a later bar.
func (e *Engine) tick(ctx context.Context, ts time.Time, instruments []string) error {
	e.risk.Tick(ts)

	for _, inst := range instruments {
		bar, ok := e.store.BarAt(inst, ts)
		if !ok {
			continue
		}
		e.barsReplayed++

		for _, ev := range e.exchange.Advance(bar) {
			e.applyEvent(ev)
		}
		if tripped := e.risk.MarkToMarket(bar); tripped {
			e.logger.Warn("daily loss breaker tripped",
				slog.String("instrument", inst),
				slog.Time("ts", ts),
				slog.Float64("equity", e.risk.Equity()),
			)
		}
		if exit, ok := e.risk.TriggeredExit(bar, ts); ok {
			if err := e.submit(ctx, exit); err != nil {
				return fmt.Errorf("exit order %s: %w", exit.ID, err)
			}
		}
	}

	scored, err := e.evaluateAll(ctx, ts, instruments)
	if err != nil {
		return err
	}
	for i := range instruments {
		e.processSignals(ctx, ts, scored[i])
	}
	return nil
}

// evaluateAll computes features and scores signals for every instrument
// with a bar at ts. Results land in an instrument-indexed slice so the
// parallel path joins in the same order the serial path produces.
func (e *Engine) evaluateAll(ctx context.Context, ts time.Time, instruments []string) ([][]domain.ScoredSignal, error) {
	out := make([][]domain.ScoredSignal, len(instruments))
	if e.cfg.Parallel && len(instruments) > 1 {
		g, _ := errgroup.WithContext(ctx)
		for i, inst := range instruments {
			i, inst := i, inst
			g.Go(func() error {
				slot, err := e.evaluate(inst, ts)
				if err != nil {
					return err
				}
				out[i] = slot
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}
	for i, inst := range instruments {
		slot, err := e.evaluate(inst, ts)
		if err != nil {
			return nil, err
		}
		out[i] = slot
	}
	return out, nil
}

// evaluate runs the feature/strategy/model chain for one instrument at one
// timestamp. Insufficient history is normal during warmup and yields no
// signals rather than an error.
func (e *Engine) evaluate(inst string, ts time.Time) ([]domain.ScoredSignal, error) {
	if _, ok := e.store.BarAt(inst, ts); !ok {
		return nil, nil
	}
	window := e.store.Window(inst, ts, e.features.MinBars())
	fv, err := e.features.Compute(window)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientHistory) {
			return nil, nil
		}
		return nil, fmt.Errorf("features %s@%s: %w", inst, ts.Format(time.RFC3339), err)
	}
	signals, err := e.strategies.Evaluate(fv, window)
	if err != nil {
		return nil, fmt.Errorf("strategies %s@%s: %w", inst, ts.Format(time.RFC3339), err)
	}

	scored := make([]domain.ScoredSignal, 0, len(signals))
	for _, sig := range signals {
		sc, err := e.scorer.Score(fv, sig)
		if err != nil {
			return nil, fmt.Errorf("score signal %s: %w", sig.ID, err)
		}
		if sc.Degraded {
			e.degradations++
		}
		scored = append(scored, sc)
	}
	return scored, nil
}

// processSignals resolves conflicts, then walks candidates best-first.
// The first order the risk manager accepts wins the tick for this
// instrument; the rest are recorded as rejections.
func (e *Engine) processSignals(ctx context.Context, ts time.Time, scored []domain.ScoredSignal) {
	if len(scored) == 0 {
		return
	}
	resolved := strategy.ResolveOpposing(scored, e.logger)
	sort.SliceStable(resolved, func(i, j int) bool {
		if resolved[i].Confidence != resolved[j].Confidence {
			return resolved[i].Confidence > resolved[j].Confidence
		}
		return resolved[i].ID < resolved[j].ID
	})

	placed := false
	for _, sc := range resolved {
		if placed {
			e.reject(domain.RejectSuperseded, sc)
			continue
		}
		order, err := e.risk.SizeOrder(sc, ts)
		if err != nil {
			var rr *domain.RiskRejectedError
			if errors.As(err, &rr) {
				e.reject(rr.Reason, sc)
				continue
			}
			e.logger.Error("sizing failed", slog.String("signal", sc.ID), slog.Any("error", err))
			continue
		}
		e.meta[order.ID] = scoreMeta{
			confidence:   sc.Confidence,
			modelVersion: sc.ModelVersion,
			degraded:     sc.Degraded,
			stopLoss:     order.StopLoss,
			takeProfit:   order.TakeProfit,
		}
		if order.CloseReason == domain.CloseReasonReversal {
			// The strategy flipped; stale pending entries come off the
			// book before the close executes.
			for _, ev := range e.exchange.CancelResting(order.Instrument, ts) {
				e.applyEvent(ev)
			}
		}
		if err := e.submit(ctx, order); err != nil {
			e.logger.Error("submit failed", slog.String("order", order.ID), slog.Any("error", err))
			continue
		}
		placed = true
	}
}

func (e *Engine) reject(reason string, sc domain.ScoredSignal) {
	e.rejections[reason]++
	e.logger.Debug("signal vetoed",
		slog.String("signal", sc.ID),
		slog.String("instrument", sc.Instrument),
		slog.String("reason", reason),
		slog.Float64("confidence", sc.Confidence),
	)
}

// submit pushes an order through the gateway and settles any immediate
// fill. Permanent rejections become trade records; resting limit orders
// settle later through Advance events.
func (e *Engine) submit(ctx context.Context, order domain.Order) error {
	done, fill, err := e.gateway.Submit(ctx, order)
	if err != nil {
		var er *domain.ExecutionRejectedError
		if errors.As(err, &er) {
			e.risk.PutOrder(done)
			e.trades = append(e.trades, e.record(done, nil, 0))
			return nil
		}
		return err
	}
	e.risk.PutOrder(done)
	if fill == nil {
		// Limit order resting on the book; nothing to settle yet.
		return nil
	}
	realized, err := e.risk.ApplyFill(done, *fill)
	if err != nil {
		return fmt.Errorf("apply fill %s: %w", done.ID, err)
	}
	e.trades = append(e.trades, e.record(done, fill, realized))
	return nil
}

// applyEvent settles one exchange event produced while a bar replayed:
// either a fill against a resting order or its expiry.
func (e *Engine) applyEvent(ev exchange.Event) {
	if ev.Fill == nil {
		e.risk.PutOrder(ev.Order)
		e.trades = append(e.trades, e.record(ev.Order, nil, 0))
		return
	}
	realized, err := e.risk.ApplyFill(ev.Order, *ev.Fill)
	if err != nil {
		e.logger.Error("apply resting fill",
			slog.String("order", ev.Order.ID),
			slog.Any("error", err),
		)
		return
	}
	e.risk.PutOrder(ev.Order)
	e.trades = append(e.trades, e.record(ev.Order, ev.Fill, realized))
}

// record flattens an order and an optional fill into one trade log row.
func (e *Engine) record(order domain.Order, fill *domain.Fill, realized float64) domain.TradeRecord {
	tr := domain.TradeRecord{
		OrderID:      order.ID,
		SignalID:     order.SignalID,
		Instrument:   order.Instrument,
		Strategy:     order.Strategy,
		Side:         order.Side,
		Type:         order.Type,
		RequestedQty: order.RequestedQuantity,
		ExecutedQty:  order.FilledQuantity,
		StopLoss:     order.StopLoss,
		TakeProfit:   order.TakeProfit,
		Status:       order.Status,
		RejectReason: order.RejectReason,
		CloseReason:  order.CloseReason,
		RealizedPnL:  realized,
		Timestamp:    order.UpdatedAt,
	}
	if m, ok := e.meta[order.ID]; ok {
		tr.Confidence = m.confidence
		tr.ModelVersion = m.modelVersion
		tr.Degraded = m.degraded
	}
	if fill != nil {
		tr.ExecutedQty = order.FilledQuantity
		tr.ExecutedPrice = fill.ExecutedPrice
		tr.Commission = fill.Commission
		tr.SlippageBps = fill.SlippageBps
		tr.Timestamp = fill.Timestamp
	}
	return tr
}
