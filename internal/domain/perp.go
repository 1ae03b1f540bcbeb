package domain

import "time"

// Perp is a simulated perpetual-futures ticker. Mark prices follow a random
// walk driven by the simulation engine; there is no order book.
type Perp struct {
	Ticker    string
	Name      string
	MarkPrice float64
	OpenPrice float64 // price 24h ago, for change display
	Sentiment string  // "bullish", "bearish", "neutral"
	UpdatedAt time.Time
}

// Change24h returns the fractional mark-price move against the open price.
func (p Perp) Change24h() float64 {
	if p.OpenPrice <= 0 {
		return 0
	}
	return (p.MarkPrice - p.OpenPrice) / p.OpenPrice
}
