package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeExecution is the atomic write set produced by one AMM swap. The
// market store applies all of it in a single transaction so concurrent
// trades against the same market serialize on the market row lock.
type TradeExecution struct {
	Trade Trade
	// PrevYesShares/PrevNoShares are the reserves the swap was priced
	// against. ApplyTrade rejects the execution with ErrStaleMarket when
	// the locked row no longer holds them, and the caller reprices.
	PrevYesShares float64
	PrevNoShares  float64
	NewYesShares  float64
	NewNoShares   float64
	NewLiquidity  float64
	VolumeDelta   float64
	BalanceDelta  float64 // signed change to the trader's free balance
	SharesDelta   float64 // signed change to the trader's position shares
	CostDelta     float64 // signed change to the position cost basis
	PnLDelta      float64 // realized PnL booked by this trade (sells only)
}

// MarketStore persists prediction markets and applies trades atomically.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	GetBySlug(ctx context.Context, slug string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	ListResolved(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
	// ApplyTrade re-reads the market row under SELECT ... FOR UPDATE,
	// verifies it is still tradable and that its reserves match the ones
	// the execution was priced against, writes the new reserves, inserts
	// the trade, and adjusts the trader's balance and position, all in one
	// transaction. It returns the market as persisted, or ErrStaleMarket
	// when the reserves moved after pricing.
	ApplyTrade(ctx context.Context, exec TradeExecution) (Market, error)
	// Resolve marks the market resolved with the given outcome and pays out
	// every open position: winning shares redeem at $1, losing shares at $0.
	Resolve(ctx context.Context, id string, outcome Outcome, at time.Time) error
}

// UserStore persists users and balances.
type UserStore interface {
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	List(ctx context.Context, opts ListOpts) ([]User, error)
	ListNPCs(ctx context.Context) ([]User, error)
	AdjustBalance(ctx context.Context, adj BalanceAdjustment) error
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// PositionStore persists share positions.
type PositionStore interface {
	Get(ctx context.Context, userID, marketID string, side Side) (Position, error)
	ListOpenByUser(ctx context.Context, userID string) ([]Position, error)
	ListOpenByMarket(ctx context.Context, marketID string) ([]Position, error)
}

// TradeStore persists executed trades.
type TradeStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
	// ListResolvedBefore returns trades belonging to markets resolved before
	// the cutoff, for archival to cold storage.
	ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trade, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// PostStore persists feed posts.
type PostStore interface {
	Create(ctx context.Context, post Post) error
	GetByID(ctx context.Context, id string) (Post, error)
	ListFeed(ctx context.Context, opts ListOpts) ([]Post, error)
	ListByAuthor(ctx context.Context, authorID string, opts ListOpts) ([]Post, error)
	IncrementLikes(ctx context.Context, id string) error
}

// PerpStore persists simulated perpetual tickers.
type PerpStore interface {
	Upsert(ctx context.Context, perp Perp) error
	Get(ctx context.Context, ticker string) (Perp, error)
	List(ctx context.Context) ([]Perp, error)
	SetMarkPrice(ctx context.Context, ticker string, price float64, at time.Time) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
