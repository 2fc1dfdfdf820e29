package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/riptide-quant/riptide/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL. The
// decision log is the audit trail of why each signal was accepted,
// rejected or degraded.
type DecisionStore struct {
	pool *pgxpool.Pool
}

var _ domain.DecisionStore = (*DecisionStore)(nil)

// NewDecisionStore creates a DecisionStore backed by the given pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Insert appends one decision row.
func (s *DecisionStore) Insert(ctx context.Context, dec domain.Decision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decisions (
			session, ts, instrument, strategy, signal_id,
			stage, outcome, reason, confidence, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		dec.Session, dec.Timestamp.UTC(), dec.Instrument, dec.Strategy, dec.SignalID,
		string(dec.Stage), string(dec.Outcome), dec.Reason, dec.Confidence, dec.Detail,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert decision %s: %w", dec.SignalID, err)
	}
	return nil
}

// List returns decisions for the session, newest first, with pagination
// and optional time filtering.
func (s *DecisionStore) List(ctx context.Context, session string, opts domain.ListOpts) ([]domain.Decision, error) {
	query := `SELECT session, ts, instrument, strategy, signal_id,
		stage, outcome, reason, confidence, detail
		FROM decisions WHERE session = $1`
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
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var stage, outcome string
		if err := rows.Scan(
			&d.Session, &d.Timestamp, &d.Instrument, &d.Strategy, &d.SignalID,
			&stage, &outcome, &d.Reason, &d.Confidence, &d.Detail,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		d.Stage = domain.DecisionStage(stage)
		d.Outcome = domain.DecisionOutcome(outcome)
		d.Timestamp = d.Timestamp.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}
