package domain

import "time"

// Side identifies which half of a binary market a trade targets.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is one of the two recognized sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// TradeDirection indicates whether shares were bought from or sold back to
// the pool.
type TradeDirection string

const (
	TradeDirectionBuy  TradeDirection = "buy"
	TradeDirectionSell TradeDirection = "sell"
)

// Trade is a single executed swap against a market's AMM pool.
type Trade struct {
	ID        string
	MarketID  string
	UserID    string
	Side      Side
	Direction TradeDirection
	USDAmount float64 // USD paid (buy) or received (sell)
	Shares    float64 // shares received (buy) or returned (sell)
	Price     float64 // USD per share for this fill
	CreatedAt time.Time
}

// TradeIntent is a validated request to trade against a market. Exactly one
// of USDAmount (buys) or Shares (sells) is meaningful depending on Direction.
type TradeIntent struct {
	MarketID  string
	UserID    string
	Side      Side
	Direction TradeDirection
	USDAmount float64
	Shares    float64
}
