package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riptide-quant/riptide/internal/backtest"
	"github.com/riptide-quant/riptide/internal/domain"
	"github.com/riptide-quant/riptide/internal/exchange"
	"github.com/riptide-quant/riptide/internal/features"
	"github.com/riptide-quant/riptide/internal/feed"
	"github.com/riptide-quant/riptide/internal/label"
	"github.com/riptide-quant/riptide/internal/live"
	"github.com/riptide-quant/riptide/internal/marketdata"
	"github.com/riptide-quant/riptide/internal/model"
	"github.com/riptide-quant/riptide/internal/notify"
	"github.com/riptide-quant/riptide/internal/risk"
	"github.com/riptide-quant/riptide/internal/server"
	"github.com/riptide-quant/riptide/internal/server/handler"
	"github.com/riptide-quant/riptide/internal/strategy"
)

// pipeline bundles the in-process decision path shared by replay and
// live trading: features, strategies, scorer, risk and the simulated
// exchange behind its gateway.
type pipeline struct {
	features   *features.Engine
	strategies *strategy.Set
	scorer     model.Scorer
	risk       *risk.Manager
	exchange   *exchange.MockExchange
	gateway    *exchange.Gateway
}

// buildPipeline assembles the decision path around the given portfolio
// state. A missing model artifact degrades to raw-strength scoring
// instead of aborting; any other scorer error is fatal.
func (a *App) buildPipeline(ctx context.Context, deps *Dependencies, state *domain.PortfolioState) (*pipeline, error) {
	reg := strategy.FromConfig(a.cfg.Strategy, a.cfg.Features, a.logger)
	active, err := reg.Select(a.cfg.Strategy.Active)
	if err != nil {
		return nil, fmt.Errorf("app: select strategies: %w", err)
	}

	scorer, err := a.loadScorer(ctx, deps)
	if err != nil {
		if !errors.Is(err, domain.ErrModelUnavailable) {
			return nil, err
		}
		a.logger.Warn("model unavailable, scoring with raw strategy strength",
			slog.String("error", err.Error()),
		)
		scorer = model.Fallback{}
	}

	mock := exchange.NewMockExchange(a.cfg.Execution, a.logger)
	return &pipeline{
		features:   features.NewEngine(a.cfg.Features),
		strategies: strategy.NewSet(active, a.logger),
		scorer:     scorer,
		risk:       risk.NewManager(a.cfg.Risk, domain.ExitPolicy(a.cfg.Execution.ExitPolicy), state, a.logger),
		exchange:   mock,
		gateway:    exchange.NewGateway(mock, a.cfg.Execution, a.logger),
	}, nil
}

// loadScorer builds the configured scorer. Artifacts named by an s3://
// path are fetched from object storage; everything else reads the local
// filesystem.
func (a *App) loadScorer(ctx context.Context, deps *Dependencies) (model.Scorer, error) {
	cfg := a.cfg.Model
	if cfg.Backend == "none" || !strings.HasPrefix(cfg.Path, "s3://") {
		return model.Load(cfg, a.logger)
	}
	if deps.BlobReader == nil {
		return nil, fmt.Errorf("app: model path %s requires s3 to be configured", cfg.Path)
	}
	data, err := fetchArtifact(ctx, deps.BlobReader, strings.TrimPrefix(cfg.Path, "s3://"))
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", domain.ErrModelUnavailable, cfg.Path, err)
	}
	return model.FromBytes(data, cfg, "", a.logger)
}

// fetchArtifact downloads a model artifact. A key ending in "/" is a
// prefix and resolves to the lexically last object under it, so
// versioned uploads pick up the newest artifact.
func fetchArtifact(ctx context.Context, reader domain.BlobReader, key string) ([]byte, error) {
	if strings.HasSuffix(key, "/") {
		infos, err := reader.List(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(infos) == 0 {
			return nil, fmt.Errorf("no artifacts under %s", key)
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
		key = infos[len(infos)-1].Path
	}
	rc, err := reader.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// loadHistory stages the configured data source into an in-memory bar
// store for replay-style modes.
func (a *App) loadHistory(ctx context.Context, deps *Dependencies) (*marketdata.Store, error) {
	switch a.cfg.Data.Source {
	case "csv":
		store, err := marketdata.LoadCSVDir(a.cfg.Data.CSVDir, a.cfg.Data.Instruments)
		if err != nil {
			return nil, fmt.Errorf("app: load csv history: %w", err)
		}
		return store, nil
	case "postgres":
		if deps.Bars == nil {
			return nil, errors.New("app: postgres data source is not wired")
		}
		store := marketdata.New()
		for _, instrument := range a.cfg.Data.Instruments {
			bars, err := deps.Bars.Range(ctx, instrument, time.Time{}, time.Time{})
			if err != nil {
				return nil, fmt.Errorf("app: load %s history: %w", instrument, err)
			}
			if len(bars) == 0 {
				return nil, fmt.Errorf("app: no stored bars for %s", instrument)
			}
			if err := store.AppendBatch(bars); err != nil {
				return nil, fmt.Errorf("app: stage %s history: %w", instrument, err)
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown data source %q", a.cfg.Data.Source)
	}
}

// BacktestMode replays stored history through the decision pipeline,
// writes the report and optionally persists and archives the run.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backtest mode")

	store, err := a.loadHistory(ctx, deps)
	if err != nil {
		return err
	}
	pipe, err := a.buildPipeline(ctx, deps, domain.NewPortfolioState(a.cfg.Backtest.InitialCash))
	if err != nil {
		return err
	}

	engine := backtest.NewEngine(backtest.Deps{
		Store:      store,
		Features:   pipe.features,
		Strategies: pipe.strategies,
		Scorer:     pipe.scorer,
		Risk:       pipe.risk,
		Exchange:   pipe.exchange,
		Gateway:    pipe.gateway,
		Logger:     a.logger,
	}, a.cfg.Backtest, a.cfg.Features.BarsPerYear)

	report, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("app: backtest: %w", err)
	}

	path, err := backtest.WriteReport(a.cfg.Backtest.ReportDir, report)
	if err != nil {
		return fmt.Errorf("app: write report: %w", err)
	}
	a.logger.InfoContext(ctx, "backtest complete",
		slog.String("run_id", report.RunID),
		slog.Int("trades", report.Metrics.Trades),
		slog.Float64("total_return_pct", report.Metrics.TotalReturnPct),
		slog.Float64("sharpe", report.Metrics.SharpeRatio),
		slog.Float64("max_drawdown_pct", report.Metrics.MaxDrawdownPct),
		slog.String("report", path),
	)

	if a.cfg.Backtest.PersistTrades && deps.Trades != nil && len(report.Trades) > 0 {
		session := "backtest:" + report.RunID
		if err := deps.Trades.InsertBatch(ctx, session, report.Trades); err != nil {
			return fmt.Errorf("app: persist trades: %w", err)
		}
		a.logger.InfoContext(ctx, "trades persisted",
			slog.String("session", session),
			slog.Int("count", len(report.Trades)),
		)
	}
	if a.cfg.Backtest.Archive && deps.Archiver != nil {
		prefix, err := deps.Archiver.ArchiveReport(ctx, report)
		if err != nil {
			return fmt.Errorf("app: archive report: %w", err)
		}
		a.logger.InfoContext(ctx, "report archived", slog.String("prefix", prefix))
	}

	if err := deps.Notifier.Notify(ctx, notify.EventRunComplete, "Backtest complete",
		fmt.Sprintf("run %s: %d trades, %.2f%% return, sharpe %.2f",
			report.RunID, report.Metrics.Trades, report.Metrics.TotalReturnPct, report.Metrics.SharpeRatio),
	); err != nil {
		a.logger.Warn("notify run complete", slog.String("error", err.Error()))
	}
	return nil
}

// LiveMode recovers or creates the session portfolio, then runs the bar
// feed, the orchestrator and (when enabled) the HTTP API until the
// context is cancelled or the feed ends.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg.Live
	a.logger.InfoContext(ctx, "starting live mode", slog.String("session", cfg.Session))

	if deps.Locks != nil {
		ttl := cfg.LockTTL.Duration
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		release, err := deps.Locks.Acquire(ctx, "live:"+cfg.Session, ttl)
		if err != nil {
			return fmt.Errorf("app: acquire session lock: %w", err)
		}
		defer release()
	}

	state := domain.NewPortfolioState(cfg.InitialCash)
	if cfg.RecoverOnStart && deps.Portfolios != nil {
		snap, err := deps.Portfolios.Load(ctx, cfg.Session)
		switch {
		case err == nil:
			state = snap
			a.logger.InfoContext(ctx, "session snapshot recovered",
				slog.String("session", cfg.Session),
				slog.Float64("equity", state.Equity()),
			)
		case errors.Is(err, domain.ErrNotFound):
			a.logger.InfoContext(ctx, "no snapshot for session, starting fresh",
				slog.String("session", cfg.Session),
			)
		default:
			return fmt.Errorf("app: recover session: %w", err)
		}
	}

	pipe, err := a.buildPipeline(ctx, deps, state)
	if err != nil {
		return err
	}

	// The sim feed replays stored history; stream feeds start empty.
	var feedStore *marketdata.Store
	if a.cfg.Feed.Kind == "sim" {
		feedStore, err = a.loadHistory(ctx, deps)
		if err != nil {
			return err
		}
	}
	src, err := feed.New(a.cfg.Feed, a.cfg.Data.Instruments, feedStore, a.logger)
	if err != nil {
		return fmt.Errorf("app: feed: %w", err)
	}

	ldeps := live.Deps{
		Feed:       src,
		Store:      marketdata.New(),
		Features:   pipe.features,
		Strategies: pipe.strategies,
		Scorer:     pipe.scorer,
		Risk:       pipe.risk,
		Exchange:   pipe.exchange,
		Gateway:    pipe.gateway,
		Portfolios: deps.Portfolios,
		Trades:     deps.Trades,
		Decisions:  deps.Decisions,
		Notifier:   deps.Notifier,
		Logger:     a.logger,
	}
	// Concrete nils must not become non-nil interfaces.
	if deps.SignalBus != nil {
		ldeps.Bus = deps.SignalBus
	}
	if deps.Marks != nil {
		ldeps.Marks = deps.Marks
	}
	orch := live.NewOrchestrator(ldeps, cfg)

	// The session ends when the orchestrator returns, even cleanly (the
	// sim feed runs out of history); stop the feed and API with it.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return src.Run(gctx) })
	g.Go(func() error {
		defer stop()
		return orch.Run(gctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, orch, deps)
	}
	return g.Wait()
}

// startHTTPServer mounts the read-only API over the orchestrator and
// shuts it down when the group context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, orch *live.Orchestrator, deps *Dependencies) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Status:    handler.NewStatusHandler(orch),
		Portfolio: handler.NewPortfolioHandler(orch),
		Trades:    handler.NewTradesHandler(orch, deps.Trades, a.cfg.Live.Session, a.logger),
	}
	srv := server.NewServer(server.FromConfig(a.cfg.Server), handlers, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// TrainMode builds a labeled dataset from stored history, fits the
// logistic model and writes the artifact to the configured destination.
func (a *App) TrainMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting train mode")

	store, err := a.loadHistory(ctx, deps)
	if err != nil {
		return err
	}

	reg := strategy.FromConfig(a.cfg.Strategy, a.cfg.Features, a.logger)
	active, err := reg.Select(a.cfg.Strategy.Active)
	if err != nil {
		return fmt.Errorf("app: select strategies: %w", err)
	}
	labeler := label.New(a.cfg.Label, a.cfg.Risk, domain.ExitPolicy(a.cfg.Execution.ExitPolicy))
	builder := label.NewBuilder(store, features.NewEngine(a.cfg.Features), strategy.NewSet(active, a.logger), labeler, a.logger)

	examples, err := builder.Build(a.cfg.Data.Instruments)
	if err != nil {
		return fmt.Errorf("app: build dataset: %w", err)
	}

	result, err := model.Train(examples, a.cfg.Train, a.cfg.Label.Holdout, a.logger)
	if err != nil {
		return fmt.Errorf("app: train: %w", err)
	}
	a.logger.InfoContext(ctx, "training complete",
		slog.String("version", result.Artifact.Version),
		slog.Int("train_examples", result.TrainExamples),
		slog.Int("holdout_examples", result.HoldoutExamples),
		slog.Float64("holdout_accuracy", result.HoldoutAccuracy),
		slog.Float64("final_loss", result.FinalLoss),
	)

	data, err := result.Artifact.Encode()
	if err != nil {
		return fmt.Errorf("app: encode artifact: %w", err)
	}

	dest := a.cfg.Model.Path
	if strings.HasPrefix(dest, "s3://") {
		if deps.Archiver == nil {
			return fmt.Errorf("app: model path %s requires s3 to be configured", dest)
		}
		key, err := deps.Archiver.ArchiveModel(ctx, result.Artifact.Version, data)
		if err != nil {
			return fmt.Errorf("app: upload artifact: %w", err)
		}
		a.logger.InfoContext(ctx, "artifact uploaded", slog.String("key", key))
	} else {
		if dir := filepath.Dir(dest); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("app: create artifact dir: %w", err)
			}
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("app: write artifact: %w", err)
		}
		a.logger.InfoContext(ctx, "artifact written", slog.String("path", dest))
	}

	if err := deps.Notifier.Notify(ctx, notify.EventRunComplete, "Training complete",
		fmt.Sprintf("model %s: %.1f%% holdout accuracy over %d examples",
			result.Artifact.Version, result.HoldoutAccuracy*100, result.HoldoutExamples),
	); err != nil {
		a.logger.Warn("notify run complete", slog.String("error", err.Error()))
	}
	return nil
}

// IngestMode bulk-loads the CSV bar files into Postgres. Inserts are
// idempotent, so re-running over the same files is safe.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode", slog.String("dir", a.cfg.Data.CSVDir))

	if deps.Bars == nil {
		return errors.New("app: ingest requires postgres")
	}

	var total int
	for _, instrument := range a.cfg.Data.Instruments {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(a.cfg.Data.CSVDir, instrument+".csv")
		bars, err := marketdata.ReadCSVFile(path, instrument)
		if err != nil {
			return fmt.Errorf("app: read %s: %w", path, err)
		}
		if err := deps.Bars.InsertBatch(ctx, bars); err != nil {
			return fmt.Errorf("app: insert %s bars: %w", instrument, err)
		}
		stored, err := deps.Bars.Count(ctx, instrument)
		if err != nil {
			return fmt.Errorf("app: count %s bars: %w", instrument, err)
		}
		a.logger.InfoContext(ctx, "instrument ingested",
			slog.String("instrument", instrument),
			slog.Int("file_rows", len(bars)),
			slog.Int64("stored", stored),
		)
		total += len(bars)
	}

	a.logger.InfoContext(ctx, "ingest complete",
		slog.Int("instruments", len(a.cfg.Data.Instruments)),
		slog.Int("rows", total),
	)
	return nil
}
