package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/babylonsim/babylond/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question, slug, yes_shares, no_shares, liquidity,
	volume, status, outcome, created_by, closes_at, resolved_at,
	created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m         domain.Market
		status    string
		outcome   string
		createdBy *string
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Slug,
		&m.YesShares, &m.NoShares, &m.Liquidity,
		&m.Volume, &status, &outcome, &createdBy,
		&m.ClosesAt, &m.ResolvedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.Outcome = domain.Outcome(outcome)
	if createdBy != nil {
		m.CreatedBy = *createdBy
	}
	return m, nil
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, slug, yes_shares, no_shares, liquidity,
			volume, status, outcome, created_by, closes_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, NOW()
		)`

	var createdBy *string
	if m.CreatedBy != "" {
		createdBy = &m.CreatedBy
	}

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Slug,
		m.YesShares, m.NoShares, m.Liquidity,
		m.Volume, string(m.Status), string(m.Outcome),
		createdBy, m.ClosesAt, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetBySlug retrieves a market by its URL slug.
func (s *MarketStore) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE slug = $1`, slug)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by slug %s: %w", slug, err)
	}
	return m, nil
}

// ListActive returns active markets with pagination and optional time filtering.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.listByStatus(ctx, domain.MarketStatusActive, opts)
}

// ListResolved returns resolved markets with pagination.
func (s *MarketStore) ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.listByStatus(ctx, domain.MarketStatusResolved, opts)
}

func (s *MarketStore) listByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list %s markets: %w", status, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s market: %w", status, err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list %s markets rows: %w", status, err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// reserveEpsilon tolerates float round-trip noise when comparing the priced
// reserves with the locked row.
const reserveEpsilon = 1e-9

// ApplyTrade applies one AMM swap atomically. The market row is locked with
// SELECT ... FOR UPDATE and its reserves are checked against the snapshot
// the execution was priced from; an execution priced against reserves the
// row no longer holds fails with ErrStaleMarket so the caller can reprice.
// The new reserves, the trade row, the trader's balance, and the trader's
// position all commit or roll back together.
func (s *MarketStore) ApplyTrade(ctx context.Context, exec domain.TradeExecution) (domain.Market, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t := exec.Trade

	// Lock and re-check the market.
	row := tx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, t.MarketID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: lock market %s: %w", t.MarketID, err)
	}
	if !m.Tradable() {
		return domain.Market{}, domain.ErrMarketNotTradable
	}
	if math.Abs(m.YesShares-exec.PrevYesShares) > reserveEpsilon ||
		math.Abs(m.NoShares-exec.PrevNoShares) > reserveEpsilon {
		return domain.Market{}, domain.ErrStaleMarket
	}

	// Sells must be covered by an existing position.
	if exec.SharesDelta < 0 {
		var held float64
		err := tx.QueryRow(ctx,
			`SELECT shares FROM positions
			 WHERE user_id = $1 AND market_id = $2 AND side = $3
			 FOR UPDATE`,
			t.UserID, t.MarketID, string(t.Side),
		).Scan(&held)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && held+exec.SharesDelta < -1e-9) {
			return domain.Market{}, domain.ErrInsufficientShare
		}
		if err != nil {
			return domain.Market{}, fmt.Errorf("postgres: lock position: %w", err)
		}
	}

	// Write the new reserves.
	row = tx.QueryRow(ctx,
		`UPDATE markets
		 SET yes_shares = $2, no_shares = $3, liquidity = $4,
		     volume = volume + $5, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+marketCols,
		t.MarketID, exec.NewYesShares, exec.NewNoShares,
		exec.NewLiquidity, exec.VolumeDelta,
	)
	m, err = scanMarket(row)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: update market %s: %w", t.MarketID, err)
	}

	// Insert the trade row.
	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, user_id, side, direction,
		                     usd_amount, shares, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.MarketID, t.UserID, string(t.Side), string(t.Direction),
		t.USDAmount, t.Shares, t.Price, t.CreatedAt,
	); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}

	// Adjust the trader's balance; the CHECK constraint rejects overdrafts.
	tag, err := tx.Exec(ctx,
		`UPDATE users
		 SET balance = balance + $2, realized_pnl = realized_pnl + $3,
		     updated_at = NOW()
		 WHERE id = $1 AND balance + $2 >= 0`,
		t.UserID, exec.BalanceDelta, exec.PnLDelta,
	)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: adjust balance for %s: %w", t.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Market{}, domain.ErrInsufficientFunds
	}

	// Upsert the position. Shares may go to zero on a full sell, which
	// closes the position.
	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (id, user_id, market_id, side, shares,
		                        cost_basis, realized_pnl, status, opened_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'open', $8, NOW())
		 ON CONFLICT (user_id, market_id, side) DO UPDATE SET
			shares       = positions.shares + EXCLUDED.shares,
			cost_basis   = GREATEST(positions.cost_basis + $9, 0),
			realized_pnl = positions.realized_pnl + $7,
			status       = CASE WHEN positions.shares + EXCLUDED.shares <= 1e-9
			                    THEN 'closed' ELSE 'open' END,
			closed_at    = CASE WHEN positions.shares + EXCLUDED.shares <= 1e-9
			                    THEN NOW() ELSE NULL END,
			updated_at   = NOW()`,
		uuid.New().String(), t.UserID, t.MarketID, string(t.Side),
		exec.SharesDelta, exec.CostDelta, exec.PnLDelta, t.CreatedAt, exec.CostDelta,
	); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: upsert position: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Market{}, fmt.Errorf("postgres: commit trade tx: %w", err)
	}
	return m, nil
}

// Resolve settles a market: winning shares redeem at $1 each, losing shares
// at $0. Every open position is closed and the payouts are credited inside a
// single transaction.
func (s *MarketStore) Resolve(ctx context.Context, id string, outcome domain.Outcome, at time.Time) error {
	if outcome != domain.OutcomeYes && outcome != domain.OutcomeNo {
		return fmt.Errorf("postgres: resolve market %s with outcome %q: %w", id, outcome, domain.ErrInvalidTrade)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin resolve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the market and verify it has not already been resolved.
	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM markets WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: lock market %s: %w", id, err)
	}
	if domain.MarketStatus(status) == domain.MarketStatusResolved {
		return domain.ErrMarketNotTradable
	}

	if _, err := tx.Exec(ctx,
		`UPDATE markets
		 SET status = 'resolved', outcome = $2, resolved_at = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, string(outcome), at,
	); err != nil {
		return fmt.Errorf("postgres: mark market %s resolved: %w", id, err)
	}

	// Pay out winners: $1 per share, booked against cost basis.
	if _, err := tx.Exec(ctx,
		`UPDATE users u
		 SET balance = u.balance + p.shares,
		     realized_pnl = u.realized_pnl + (p.shares - p.cost_basis),
		     updated_at = NOW()
		 FROM positions p
		 WHERE p.user_id = u.id AND p.market_id = $1
		   AND p.status = 'open' AND p.side = $2`,
		id, string(outcome),
	); err != nil {
		return fmt.Errorf("postgres: pay out winners for %s: %w", id, err)
	}

	// Book losses for the losing side.
	if _, err := tx.Exec(ctx,
		`UPDATE users u
		 SET realized_pnl = u.realized_pnl - p.cost_basis,
		     updated_at = NOW()
		 FROM positions p
		 WHERE p.user_id = u.id AND p.market_id = $1
		   AND p.status = 'open' AND p.side <> $2`,
		id, string(outcome),
	); err != nil {
		return fmt.Errorf("postgres: book losses for %s: %w", id, err)
	}

	// Close every open position with its settlement PnL.
	if _, err := tx.Exec(ctx,
		`UPDATE positions
		 SET realized_pnl = realized_pnl + CASE WHEN side = $2
		                                        THEN shares - cost_basis
		                                        ELSE -cost_basis END,
		     shares = 0, status = 'closed', closed_at = $3, updated_at = NOW()
		 WHERE market_id = $1 AND status = 'open'`,
		id, string(outcome), at,
	); err != nil {
		return fmt.Errorf("postgres: close positions for %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit resolve tx: %w", err)
	}
	return nil
}
