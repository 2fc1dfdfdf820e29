package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/riptide-quant/riptide/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeInsertQuery = `
	INSERT INTO trades (
		session, order_id, signal_id, instrument, strategy,
		side, order_type, requested_qty, executed_qty, executed_price,
		commission, slippage_bps, stop_loss, take_profit, status,
		reject_reason, confidence, model_version, degraded, close_reason,
		realized_pnl, ts
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20,
		$21, $22
	) ON CONFLICT (session, order_id, status, ts) DO NOTHING`

const tradeSelectCols = `order_id, signal_id, instrument, strategy,
	side, order_type, requested_qty, executed_qty, executed_price,
	commission, slippage_bps, stop_loss, take_profit, status,
	reject_reason, confidence, model_version, degraded, close_reason,
	realized_pnl, ts`

func tradeArgs(session string, r domain.TradeRecord) []any {
	return []any{
		session, r.OrderID, r.SignalID, r.Instrument, r.Strategy,
		string(r.Side), string(r.Type), r.RequestedQty, r.ExecutedQty, r.ExecutedPrice,
		r.Commission, r.SlippageBps, r.StopLoss, r.TakeProfit, string(r.Status),
		r.RejectReason, r.Confidence, r.ModelVersion, r.Degraded, string(r.CloseReason),
		r.RealizedPnL, r.Timestamp.UTC(),
	}
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var side, otype, status, closeReason string
		if err := rows.Scan(
			&r.OrderID, &r.SignalID, &r.Instrument, &r.Strategy,
			&side, &otype, &r.RequestedQty, &r.ExecutedQty, &r.ExecutedPrice,
			&r.Commission, &r.SlippageBps, &r.StopLoss, &r.TakeProfit, &status,
			&r.RejectReason, &r.Confidence, &r.ModelVersion, &r.Degraded, &closeReason,
			&r.RealizedPnL, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Side = domain.OrderSide(side)
		r.Type = domain.OrderType(otype)
		r.Status = domain.OrderStatus(status)
		r.CloseReason = domain.CloseReason(closeReason)
		r.Timestamp = r.Timestamp.UTC()
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Insert appends one trade row. Re-inserting the same terminal row (same
// session, order, status, timestamp) is a no-op, so redelivered ticks do
// not duplicate the log.
func (s *TradeStore) Insert(ctx context.Context, session string, rec domain.TradeRecord) error {
	if _, err := s.pool.Exec(ctx, tradeInsertQuery, tradeArgs(session, rec)...); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", rec.OrderID, err)
	}
	return nil
}

// InsertBatch inserts trade rows efficiently using a pgx batch.
func (s *TradeStore) InsertBatch(ctx context.Context, session string, recs []domain.TradeRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(tradeInsertQuery, tradeArgs(session, r)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns trades for the session, newest first, with pagination and
// optional time filtering.
func (s *TradeStore) List(ctx context.Context, session string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE session = $1`
	args := []any{session}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return recs, nil
}

// LastTimestamp returns the most recent trade timestamp for the session,
// or the zero time when the log is empty.
func (s *TradeStore) LastTimestamp(ctx context.Context, session string) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(ts) FROM trades WHERE session = $1`, session).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last trade timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return ts.UTC(), nil
}
