// Package live runs the trading loop against a streaming bar feed. Each
// bar walks the same pipeline the backtester replays — features,
// strategies, model scoring, risk sizing, execution — and then persists
// portfolio state and trades, publishes scored signals, and emits
// notifications. The loop is single-threaded per portfolio; only feature
// and strategy evaluation is pure enough to parallelize, and in live mode
// bars arrive one instrument at a time anyway.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/riptide-quant/riptide/internal/config"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/exchange"
	"github.com/riptide-quant/riptide/internal/features"
	"github.com/riptide-quant/riptide/internal/feed"
	"github.com/riptide-quant/riptide/internal/marketdata"
	"github.com/riptide-quant/riptide/internal/metrics"
	"github.com/riptide-quant/riptide/internal/model"
	"github.com/riptide-quant/riptide/internal/notify"
	"github.com/riptide-quant/riptide/internal/risk"
	"github.com/riptide-quant/riptide/internal/strategy"
)

// dedupTTL bounds how long signal IDs are remembered. IDs embed the bar
// timestamp, so the window only has to cover feed re-delivery, not the
// whole session.
const dedupTTL = time.Hour

// recentTradeCap bounds the in-memory trade ring served by the HTTP API.
const recentTradeCap = 256

// SignalPublisher pushes scored signals and decision audit rows to
// downstream consumers. The Redis stream bus implements it; a nil
// publisher disables publishing.
type SignalPublisher interface {
	Publish(ctx context.Context, sc domain.ScoredSignal) error
	PublishDecision(ctx context.Context, dec domain.Decision) error
}

// Notifier delivers operator alerts. *notify.Notifier implements it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarkPublisher mirrors the latest mark per instrument to shared storage
// for out-of-process readers. The Redis mark cache implements it.
type MarkPublisher interface {
	SetMark(ctx context.Context, instrument string, price float64, ts time.Time) error
}

// Deps bundles the orchestrator's collaborators. Store, Features,
// Strategies, Scorer, Risk, Exchange and Gateway are required; the
// persistence and messaging fields may be nil, which disables that sink.
type Deps struct {
	Feed       feed.Source
	Store      *marketdata.Store
	Features   *features.Engine
	Strategies *strategy.Set
	Scorer     model.Scorer
	Risk       *risk.Manager
	Exchange   *exchange.MockExchange
	Gateway    *exchange.Gateway
	Portfolios domain.PortfolioStore
	Trades     domain.TradeStore
	Decisions  domain.DecisionStore
	Bus        SignalPublisher
	Marks      MarkPublisher
	Notifier   Notifier
	Logger     *slog.Logger
}

// Status is the read-only view served by the HTTP API.
type Status struct {
	Session        string    `json:"session"`
	StartedAt      time.Time `json:"started_at"`
	BarsSeen       int64     `json:"bars_seen"`
	LastBar        time.Time `json:"last_bar"`
	LastInstrument string    `json:"last_instrument,omitempty"`
	Equity         float64   `json:"equity"`
	Halted         bool      `json:"halted"`
	OpenPositions  int       `json:"open_positions"`
}

// Orchestrator consumes a bar feed and trades it.
type Orchestrator struct {
	session      string
	snapshotKeep int

	feed       feed.Source
	store      *marketdata.Store
	features   *features.Engine
	strategies *strategy.Set
	scorer     model.Scorer
	risk       *risk.Manager
	exchange   *exchange.MockExchange
	gateway    *exchange.Gateway
	portfolios domain.PortfolioStore
	trades     domain.TradeStore
	decisions  domain.DecisionStore
	bus        SignalPublisher
	marks      MarkPublisher
	notifier   Notifier
	dedup      *Dedup
	logger     *slog.Logger

	meta map[string]scoreMeta

	mu        sync.RWMutex
	startedAt time.Time
	barsSeen  int64
	lastBar   domain.Bar
	recent    []domain.TradeRecord
}

// scoreMeta preserves model attribution for fills that settle bars after
// their order was accepted.
type scoreMeta struct {
	confidence   float64
	modelVersion string
	degraded     bool
}

// NewOrchestrator wires a live loop for cfg.Session.
func NewOrchestrator(deps Deps, cfg config.LiveConfig) *Orchestrator {
	return &Orchestrator{
		session:      cfg.Session,
		snapshotKeep: cfg.SnapshotKeep,
		feed:         deps.Feed,
		store:        deps.Store,
		features:     deps.Features,
		strategies:   deps.Strategies,
		scorer:       deps.Scorer,
		risk:         deps.Risk,
		exchange:     deps.Exchange,
		gateway:      deps.Gateway,
		portfolios:   deps.Portfolios,
		trades:       deps.Trades,
		decisions:    deps.Decisions,
		bus:          deps.Bus,
		marks:        deps.Marks,
		notifier:     deps.Notifier,
		dedup:        NewDedup(dedupTTL),
		logger:       deps.Logger.With(slog.String("component", "live")),
		meta:         make(map[string]scoreMeta),
	}
}

// Run consumes the feed until the context is cancelled or the feed
// closes. Per-instrument failures are logged and skipped; only invariant
// violations terminate the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.startedAt = time.Now().UTC()
	o.mu.Unlock()

	o.logger.Info("live loop starting", slog.String("session", o.session))

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("live loop stopping", slog.String("session", o.session))
			return nil
		case bar, ok := <-o.feed.Bars():
			if !ok {
				o.logger.Info("feed closed, live loop done", slog.String("session", o.session))
				o.notify(ctx, notify.EventRunComplete, "Run complete",
					fmt.Sprintf("session %s: feed exhausted after %d bars", o.session, o.bars()))
				return nil
			}
			if err := o.handleBar(ctx, bar); err != nil {
				o.notify(ctx, notify.EventError, "Live loop aborted", err.Error())
				return err
			}
		}
	}
}

// handleBar advances one tick. The returned error is nil unless the
// pipeline hit a fatal invariant violation.
func (o *Orchestrator) handleBar(ctx context.Context, bar domain.Bar) error {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	if err := o.store.Append(bar); err != nil {
		// Out-of-order delivery is expected on reconnects; drop and move on.
		o.logger.Warn("dropping stale bar",
			slog.String("instrument", bar.Instrument),
			slog.Time("ts", bar.Timestamp),
			slog.String("error", err.Error()),
		)
		return nil
	}
	metrics.BarsProcessed.WithLabelValues(bar.Instrument).Inc()
	o.observeBar(bar)
	o.publishMark(ctx, bar)

	o.risk.Tick(bar.Timestamp)

	// Settle what the moving market owes: resting orders, marks,
	// protective exits.
	for _, ev := range o.exchange.Advance(bar) {
		if err := o.applyEvent(ctx, ev); err != nil {
			return err
		}
	}
	if tripped := o.risk.MarkToMarket(bar); tripped {
		o.logger.Warn("daily loss breaker tripped",
			slog.String("session", o.session),
			slog.String("instrument", bar.Instrument),
			slog.Float64("equity", o.risk.Equity()),
		)
		o.notify(ctx, notify.EventRiskHalted, "Trading halted",
			fmt.Sprintf("session %s: daily loss limit reached, equity %.2f", o.session, o.risk.Equity()))
	}
	if exit, ok := o.risk.TriggeredExit(bar, bar.Timestamp); ok {
		if err := o.submit(ctx, exit); err != nil {
			return err
		}
	}

	if err := o.decide(ctx, bar); err != nil {
		return err
	}

	o.risk.RecordEquity(bar.Timestamp)
	metrics.Equity.Set(o.risk.Equity())
	if o.risk.Halted() {
		metrics.Halted.Set(1)
	} else {
		metrics.Halted.Set(0)
	}
	o.persist(ctx)

	if o.bars()%1024 == 0 {
		o.dedup.Cleanup()
	}
	return nil
}

// decide runs features, strategies and the model for the bar's
// instrument, then walks the surviving candidates through risk and
// execution. Evaluation failures abort this instrument's tick only.
func (o *Orchestrator) decide(ctx context.Context, bar domain.Bar) error {
	window := o.store.Window(bar.Instrument, bar.Timestamp, o.features.MinBars())
	fv, err := o.features.Compute(window)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientHistory) {
			return nil
		}
		var iv *domain.InvariantViolationError
		if errors.As(err, &iv) {
			return err
		}
		o.logger.Error("feature computation failed",
			slog.String("instrument", bar.Instrument),
			slog.Any("error", err),
		)
		return nil
	}

	signals, err := o.strategies.Evaluate(fv, window)
	if err != nil {
		o.logger.Error("strategy evaluation failed",
			slog.String("instrument", bar.Instrument),
			slog.Any("error", err),
		)
		return nil
	}

	scored := make([]domain.ScoredSignal, 0, len(signals))
	for _, sig := range signals {
		if o.dedup.IsDuplicate(sig.ID) {
			o.logger.Debug("duplicate signal dropped", slog.String("signal", sig.ID))
			continue
		}
		sc, err := o.scorer.Score(fv, sig)
		if err != nil {
			o.logger.Error("scoring failed", slog.String("signal", sig.ID), slog.Any("error", err))
			continue
		}
		metrics.SignalsGenerated.WithLabelValues(sc.Strategy, string(sc.Direction)).Inc()
		if sc.Degraded {
			metrics.SignalsDegraded.Inc()
			o.recordDecision(ctx, sc, domain.StageScore, domain.OutcomeDegraded, sc.ModelVersion, "")
		}
		o.publish(ctx, sc)
		scored = append(scored, sc)
	}
	if len(scored) == 0 {
		return nil
	}

	resolved := strategy.ResolveOpposing(scored, o.logger)
	sort.SliceStable(resolved, func(i, j int) bool {
		if resolved[i].Confidence != resolved[j].Confidence {
			return resolved[i].Confidence > resolved[j].Confidence
		}
		return resolved[i].ID < resolved[j].ID
	})

	placed := false
	for _, sc := range resolved {
		if placed {
			o.rejectSignal(ctx, sc, domain.RejectSuperseded)
			continue
		}
		order, err := o.risk.SizeOrder(sc, bar.Timestamp)
		if err != nil {
			if reason, ok := domain.IsRiskRejected(err); ok {
				o.rejectSignal(ctx, sc, reason)
				continue
			}
			var iv *domain.InvariantViolationError
			if errors.As(err, &iv) {
				return err
			}
			o.logger.Error("sizing failed", slog.String("signal", sc.ID), slog.Any("error", err))
			continue
		}
		o.meta[order.ID] = scoreMeta{
			confidence:   sc.Confidence,
			modelVersion: sc.ModelVersion,
			degraded:     sc.Degraded,
		}
		o.recordDecision(ctx, sc, domain.StageRisk, domain.OutcomeAccepted, "",
			fmt.Sprintf("order %s qty %.6f", order.ID, order.RequestedQuantity))
		if order.CloseReason == domain.CloseReasonReversal {
			// The strategy flipped; pending entries for this instrument
			// are stale and come off the book before the close executes.
			for _, ev := range o.exchange.CancelResting(order.Instrument, bar.Timestamp) {
				if err := o.applyEvent(ctx, ev); err != nil {
					return err
				}
			}
		}
		if err := o.submit(ctx, order); err != nil {
			return err
		}
		placed = true
	}
	return nil
}

// submit pushes an order through the gateway and settles the outcome.
// Execution rejections are recorded and counted, never fatal.
func (o *Orchestrator) submit(ctx context.Context, order domain.Order) error {
	metrics.OrdersSubmitted.WithLabelValues(string(order.Side), string(order.Type)).Inc()
	done, fill, err := o.gateway.Submit(ctx, order)
	if err != nil {
		if er, ok := domain.IsExecutionRejected(err); ok {
			metrics.ExecRejections.WithLabelValues(er.Reason).Inc()
			o.risk.PutOrder(done)
			o.appendTrade(ctx, o.record(done, nil, 0))
			o.logger.Warn("order rejected by execution",
				slog.String("order", done.ID),
				slog.String("reason", er.Reason),
			)
			return nil
		}
		o.logger.Error("gateway failure", slog.String("order", order.ID), slog.Any("error", err))
		return nil
	}
	o.risk.PutOrder(done)
	if fill == nil {
		return nil // resting limit order
	}
	return o.settleFill(ctx, done, *fill)
}

// applyEvent settles one exchange event raised while the bar replayed
// through the book: a fill against a resting order, or its expiry.
func (o *Orchestrator) applyEvent(ctx context.Context, ev exchange.Event) error {
	if ev.Fill == nil {
		o.risk.PutOrder(ev.Order)
		o.appendTrade(ctx, o.record(ev.Order, nil, 0))
		return nil
	}
	return o.settleFill(ctx, ev.Order, *ev.Fill)
}

func (o *Orchestrator) settleFill(ctx context.Context, order domain.Order, fill domain.Fill) error {
	realized, err := o.risk.ApplyFill(order, fill)
	if err != nil {
		return fmt.Errorf("apply fill %s: %w", order.ID, err)
	}
	o.risk.PutOrder(order)
	metrics.FillsTotal.WithLabelValues(string(fill.Side), fmt.Sprintf("%t", fill.Partial)).Inc()
	rec := o.record(order, &fill, realized)
	o.appendTrade(ctx, rec)

	o.notify(ctx, notify.EventOrderFilled, "Order filled",
		fmt.Sprintf("%s %s %.6f %s @ %.4f (pnl %.2f)",
			o.session, fill.Side, fill.ExecutedQuantity, fill.Instrument, fill.ExecutedPrice, realized))
	return nil
}

// record flattens an order and optional fill into a trade log row.
func (o *Orchestrator) record(order domain.Order, fill *domain.Fill, realized float64) domain.TradeRecord {
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
	if m, ok := o.meta[order.ID]; ok {
		tr.Confidence = m.confidence
		tr.ModelVersion = m.modelVersion
		tr.Degraded = m.degraded
	}
	if fill != nil {
		tr.ExecutedPrice = fill.ExecutedPrice
		tr.Commission = fill.Commission
		tr.SlippageBps = fill.SlippageBps
		tr.Timestamp = fill.Timestamp
	}
	return tr
}

// appendTrade stores a trade row in the in-memory ring and, when a trade
// store is wired, persists it.
func (o *Orchestrator) appendTrade(ctx context.Context, rec domain.TradeRecord) {
	o.mu.Lock()
	o.recent = append(o.recent, rec)
	if len(o.recent) > recentTradeCap {
		o.recent = o.recent[len(o.recent)-recentTradeCap:]
	}
	o.mu.Unlock()

	if o.trades == nil {
		return
	}
	if err := o.trades.Insert(ctx, o.session, rec); err != nil {
		o.logger.Error("persist trade", slog.String("order", rec.OrderID), slog.Any("error", err))
	}
}

func (o *Orchestrator) rejectSignal(ctx context.Context, sc domain.ScoredSignal, reason string) {
	metrics.RiskRejections.WithLabelValues(reason).Inc()
	o.recordDecision(ctx, sc, domain.StageRisk, domain.OutcomeRejected, reason, "")
	o.logger.Debug("signal vetoed",
		slog.String("signal", sc.ID),
		slog.String("reason", reason),
		slog.Float64("confidence", sc.Confidence),
	)
}

func (o *Orchestrator) recordDecision(ctx context.Context, sc domain.ScoredSignal, stage domain.DecisionStage, outcome domain.DecisionOutcome, reason, detail string) {
	if o.decisions == nil && o.bus == nil {
		return
	}
	dec := domain.Decision{
		Session:    o.session,
		Timestamp:  sc.Timestamp,
		Instrument: sc.Instrument,
		Strategy:   sc.Strategy,
		SignalID:   sc.ID,
		Stage:      stage,
		Outcome:    outcome,
		Reason:     reason,
		Confidence: sc.Confidence,
		Detail:     detail,
	}
	if o.decisions != nil {
		if err := o.decisions.Insert(ctx, dec); err != nil {
			o.logger.Error("persist decision", slog.String("signal", sc.ID), slog.Any("error", err))
		}
	}
	if o.bus != nil {
		if err := o.bus.PublishDecision(ctx, dec); err != nil {
			o.logger.Warn("publish decision", slog.String("signal", sc.ID), slog.Any("error", err))
		}
	}
}

// persist saves the portfolio snapshot and prunes old ones. Persistence
// failures are logged and the loop keeps trading; the next tick retries.
func (o *Orchestrator) persist(ctx context.Context) {
	if o.portfolios == nil {
		return
	}
	snap := o.risk.Snapshot()
	if err := o.portfolios.Save(ctx, o.session, snap); err != nil {
		o.logger.Error("persist portfolio", slog.Any("error", err))
		return
	}
	if o.snapshotKeep > 0 {
		if err := o.portfolios.Prune(ctx, o.session, o.snapshotKeep); err != nil {
			o.logger.Warn("prune snapshots", slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, sc domain.ScoredSignal) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, sc); err != nil {
		o.logger.Warn("publish signal", slog.String("signal", sc.ID), slog.Any("error", err))
	}
}

func (o *Orchestrator) publishMark(ctx context.Context, bar domain.Bar) {
	if o.marks == nil {
		return
	}
	if err := o.marks.SetMark(ctx, bar.Instrument, bar.Close, bar.Timestamp); err != nil {
		o.logger.Warn("publish mark", slog.String("instrument", bar.Instrument), slog.Any("error", err))
	}
}

func (o *Orchestrator) notify(ctx context.Context, event, title, message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, title, message); err != nil {
		o.logger.Warn("notification failed", slog.String("event", event), slog.Any("error", err))
	}
}

func (o *Orchestrator) observeBar(bar domain.Bar) {
	o.mu.Lock()
	o.barsSeen++
	o.lastBar = bar
	o.mu.Unlock()
}

func (o *Orchestrator) bars() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.barsSeen
}

// Status reports the loop's health for the HTTP API.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap := o.risk.Snapshot()
	open := 0
	for _, pos := range snap.Positions {
		if pos.State == domain.PositionOpen {
			open++
		}
	}
	return Status{
		Session:        o.session,
		StartedAt:      o.startedAt,
		BarsSeen:       o.barsSeen,
		LastBar:        o.lastBar.Timestamp,
		LastInstrument: o.lastBar.Instrument,
		Equity:         snap.Equity(),
		Halted:         snap.Halted,
		OpenPositions:  open,
	}
}

// Portfolio returns an isolated snapshot of the portfolio.
func (o *Orchestrator) Portfolio() *domain.PortfolioState {
	return o.risk.Snapshot()
}

// RecentTrades returns up to n of the most recent trade rows, newest
// last.
func (o *Orchestrator) RecentTrades(n int) []domain.TradeRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if n <= 0 || n > len(o.recent) {
		n = len(o.recent)
	}
	out := make([]domain.TradeRecord, n)
	copy(out, o.recent[len(o.recent)-n:])
	return out
}
