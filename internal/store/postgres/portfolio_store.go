package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/riptide-quant/riptide/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
// Snapshots are stored as JSONB rows per session; Load returns the most
// recent one, which is what crash recovery resumes from.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

var _ domain.PortfolioStore = (*PortfolioStore)(nil)

// NewPortfolioStore creates a PortfolioStore backed by the given pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

// Save appends a snapshot row for the session.
func (s *PortfolioStore) Save(ctx context.Context, session string, state *domain.PortfolioState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: encode portfolio snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolio_snapshots (session, state) VALUES ($1, $2)`,
		session, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: save portfolio snapshot: %w", err)
	}
	return nil
}

// Load returns the most recent snapshot for the session, or
// domain.ErrNotFound when the session has none.
func (s *PortfolioStore) Load(ctx context.Context, session string) (*domain.PortfolioState, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM portfolio_snapshots
		 WHERE session = $1
		 ORDER BY id DESC
		 LIMIT 1`,
		session,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: portfolio snapshot for %q: %w", session, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load portfolio snapshot: %w", err)
	}

	var state domain.PortfolioState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("postgres: decode portfolio snapshot: %w", err)
	}
	return &state, nil
}

// Prune deletes all but the newest keep snapshots for the session.
func (s *PortfolioStore) Prune(ctx context.Context, session string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM portfolio_snapshots
		 WHERE session = $1 AND id NOT IN (
			SELECT id FROM portfolio_snapshots
			WHERE session = $1
			ORDER BY id DESC
			LIMIT $2
		 )`,
		session, keep,
	)
	if err != nil {
		return fmt.Errorf("postgres: prune portfolio snapshots: %w", err)
	}
	return nil
}
