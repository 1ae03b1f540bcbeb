package domain

import "time"

// MarketStatus represents the lifecycle state of a prediction market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Outcome is the final resolution of a prediction market.
type Outcome string

const (
	OutcomeYes        Outcome = "yes"
	OutcomeNo         Outcome = "no"
	OutcomeUnresolved Outcome = "unresolved"
)

// Market represents a binary YES/NO prediction market priced by a
// constant-product AMM. YesShares and NoShares are the pooled reserves
// backing each side; their product is conserved across buys and sells
// that do not add or remove liquidity.
type Market struct {
	ID         string
	Question   string
	Slug       string
	YesShares  float64
	NoShares   float64
	Liquidity  float64
	Volume     float64
	Status     MarketStatus
	Outcome    Outcome
	CreatedBy  string
	ClosesAt   *time.Time
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// YesProbability returns the implied probability of the YES side. Reserves
// are inversely related to price, so the opposite side's share count sits in
// the numerator.
func (m Market) YesProbability() float64 {
	total := m.YesShares + m.NoShares
	if total <= 0 {
		return 0
	}
	return m.NoShares / total
}

// NoProbability returns the implied probability of the NO side.
func (m Market) NoProbability() float64 {
	total := m.YesShares + m.NoShares
	if total <= 0 {
		return 0
	}
	return m.YesShares / total
}

// Tradable reports whether the market currently accepts buy/sell operations.
func (m Market) Tradable() bool {
	return m.Status == MarketStatusActive
}
