package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/riptide-quant/riptide/internal/domain"
)

// BarStore implements domain.BarStore using PostgreSQL.
type BarStore struct {
	pool *pgxpool.Pool
}

var _ domain.BarStore = (*BarStore)(nil)

// NewBarStore creates a BarStore backed by the given connection pool.
func NewBarStore(pool *pgxpool.Pool) *BarStore {
	return &BarStore{pool: pool}
}

const barSelectCols = `instrument, ts, open, high, low, close, volume`

func scanBarRows(rows pgx.Rows) ([]domain.Bar, error) {
	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(
			&b.Instrument, &b.Timestamp,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
		); err != nil {
			return nil, err
		}
		b.Timestamp = b.Timestamp.UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// InsertBatch inserts bars using a pgx batch. Re-ingesting the same
// (instrument, ts) is a no-op via ON CONFLICT DO NOTHING, so loaders can
// resume safely.
func (s *BarStore) InsertBatch(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO bars (instrument, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instrument, ts) DO NOTHING`

	for _, b := range bars {
		batch.Queue(query,
			b.Instrument, b.Timestamp.UTC(),
			b.Open, b.High, b.Low, b.Close, b.Volume,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range bars {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert bar batch item %d: %w", i, err)
		}
	}
	return nil
}

// Window returns the most recent `length` bars at or before end, oldest
// first.
func (s *BarStore) Window(ctx context.Context, instrument string, end time.Time, length int) ([]domain.Bar, error) {
	query := `SELECT ` + barSelectCols + `
		FROM bars
		WHERE instrument = $1 AND ts <= $2
		ORDER BY ts DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, instrument, end.UTC(), length)
	if err != nil {
		return nil, fmt.Errorf("postgres: bar window: %w", err)
	}
	defer rows.Close()

	bars, err := scanBarRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bar window: %w", err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// Range returns bars in [from, to] ascending. Zero bounds are open.
func (s *BarStore) Range(ctx context.Context, instrument string, from, to time.Time) ([]domain.Bar, error) {
	query := `SELECT ` + barSelectCols + ` FROM bars WHERE instrument = $1`
	args := []any{instrument}
	argIdx := 2

	if !from.IsZero() {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, from.UTC())
		argIdx++
	}
	if !to.IsZero() {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, to.UTC())
	}
	query += " ORDER BY ts ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: bar range: %w", err)
	}
	defer rows.Close()

	bars, err := scanBarRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bar range: %w", err)
	}
	return bars, nil
}

// Instruments returns the distinct instruments present, sorted.
func (s *BarStore) Instruments(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT instrument FROM bars ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var inst string
		if err := rows.Scan(&inst); err != nil {
			return nil, fmt.Errorf("postgres: scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// LastTimestamp returns the newest bar timestamp for an instrument, or
// the zero time when none exist.
func (s *BarStore) LastTimestamp(ctx context.Context, instrument string) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(ts) FROM bars WHERE instrument = $1`, instrument).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last bar timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return ts.UTC(), nil
}

// Count returns the number of stored bars for an instrument.
func (s *BarStore) Count(ctx context.Context, instrument string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bars WHERE instrument = $1`, instrument).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bars: %w", err)
	}
	return n, nil
}
