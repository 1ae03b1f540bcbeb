package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/babylonsim/babylond/internal/domain"
)

// PerpStore implements domain.PerpStore using PostgreSQL.
type PerpStore struct {
	pool *pgxpool.Pool
}

// NewPerpStore creates a new PerpStore backed by the given connection pool.
func NewPerpStore(pool *pgxpool.Pool) *PerpStore {
	return &PerpStore{pool: pool}
}

const perpCols = `ticker, name, mark_price, open_price, sentiment, updated_at`

func scanPerp(row pgx.Row) (domain.Perp, error) {
	var p domain.Perp
	err := row.Scan(&p.Ticker, &p.Name, &p.MarkPrice, &p.OpenPrice, &p.Sentiment, &p.UpdatedAt)
	return p, err
}

// Upsert inserts or updates a perp ticker.
func (s *PerpStore) Upsert(ctx context.Context, p domain.Perp) error {
	const query = `
		INSERT INTO perps (ticker, name, mark_price, open_price, sentiment, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (ticker) DO UPDATE SET
			name       = EXCLUDED.name,
			mark_price = EXCLUDED.mark_price,
			open_price = EXCLUDED.open_price,
			sentiment  = EXCLUDED.sentiment,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query,
		p.Ticker, p.Name, p.MarkPrice, p.OpenPrice, p.Sentiment,
	); err != nil {
		return fmt.Errorf("postgres: upsert perp %s: %w", p.Ticker, err)
	}
	return nil
}

// Get retrieves a perp by ticker.
func (s *PerpStore) Get(ctx context.Context, ticker string) (domain.Perp, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+perpCols+` FROM perps WHERE ticker = $1`, ticker)
	p, err := scanPerp(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Perp{}, domain.ErrNotFound
		}
		return domain.Perp{}, fmt.Errorf("postgres: get perp %s: %w", ticker, err)
	}
	return p, nil
}

// List returns all perp tickers in alphabetical order.
func (s *PerpStore) List(ctx context.Context) ([]domain.Perp, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+perpCols+` FROM perps ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list perps: %w", err)
	}
	defer rows.Close()

	var perps []domain.Perp
	for rows.Next() {
		p, err := scanPerp(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan perp: %w", err)
		}
		perps = append(perps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list perps rows: %w", err)
	}
	return perps, nil
}

// SetMarkPrice updates a ticker's mark price.
func (s *PerpStore) SetMarkPrice(ctx context.Context, ticker string, price float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE perps SET mark_price = $2, updated_at = $3 WHERE ticker = $1`,
		ticker, price, at)
	if err != nil {
		return fmt.Errorf("postgres: set mark price %s: %w", ticker, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
