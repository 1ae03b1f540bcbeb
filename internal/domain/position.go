package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position represents a user's share holdings on one side of a market.
// CostBasis accumulates the USD spent acquiring the current shares; realized
// PnL is booked on sells and on market resolution.
type Position struct {
	ID          string
	UserID      string
	MarketID    string
	Side        Side
	Shares      float64
	CostBasis   float64
	RealizedPnL float64
	Status      PositionStatus
	OpenedAt    time.Time
	ClosedAt    *time.Time
	UpdatedAt   time.Time
}

// AvgPrice returns the average USD price paid per currently-held share.
func (p Position) AvgPrice() float64 {
	if p.Shares <= 0 {
		return 0
	}
	return p.CostBasis / p.Shares
}

// UnrealizedPnL marks the open shares against the given implied probability
// (the share's current value in USD).
func (p Position) UnrealizedPnL(prob float64) float64 {
	if p.Shares <= 0 {
		return 0
	}
	return p.Shares*prob - p.CostBasis
}
