package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/babylonsim/babylond/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Position
// rows are written by MarketStore.ApplyTrade and Resolve inside the trade
// transaction; this store only reads them.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, user_id, market_id, side, shares, cost_basis,
	realized_pnl, status, opened_at, closed_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p      domain.Position
		side   string
		status string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.MarketID, &side,
		&p.Shares, &p.CostBasis, &p.RealizedPnL,
		&status, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Get retrieves a single position by its (user, market, side) key.
func (s *PositionStore) Get(ctx context.Context, userID, marketID string, side domain.Side) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND side = $3`,
		userID, marketID, string(side))
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

// ListOpenByUser returns all open positions held by a user.
func (s *PositionStore) ListOpenByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	return s.listOpen(ctx, "user_id", userID)
}

// ListOpenByMarket returns all open positions on a market.
func (s *PositionStore) ListOpenByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	return s.listOpen(ctx, "market_id", marketID)
}

func (s *PositionStore) listOpen(ctx context.Context, col, val string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE `+col+` = $1 AND status = 'open'
		 ORDER BY opened_at DESC`, val)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions by %s: %w", col, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	return positions, nil
}
