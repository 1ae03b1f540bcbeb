package domain

import "time"

// User is a participant in the simulated economy. NPC users are driven by
// the simulation engine; human users arrive through the HTTP API. Both trade
// through the same pipeline.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Bio         string
	Balance     float64 // free USD balance
	RealizedPnL float64
	IsNPC       bool
	Persona     string // NPC persona name, empty for humans
	Followers   int64
	Following   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LeaderboardEntry is a user ranked by realized PnL.
type LeaderboardEntry struct {
	UserID      string
	Username    string
	RealizedPnL float64
	Balance     float64
	Rank        int
}

// BalanceAdjustment describes a signed change to a user's free balance.
// Negative deltas that would overdraw the balance are rejected by the store.
type BalanceAdjustment struct {
	UserID string
	Delta  float64
	Reason string
	At     time.Time
}
