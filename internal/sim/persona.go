// Package sim drives the NPC economy: persona traders that swap against
// market pools on a fixed tick, a random-walk process for perp mark prices,
// and occasional feed chatter.
package sim

import (
	"fmt"
	"math/rand"

	"github.com/babylonsim/babylond/internal/domain"
)

// Decision is a persona's intent for one tick against one market. SizeFrac
// is the fraction of the trader's balance (buys) or held shares (sells) to
// commit.
type Decision struct {
	Side      domain.Side
	Direction domain.TradeDirection
	SizeFrac  float64
}

// Persona decides whether and how an NPC trades a market on a given tick.
// Implementations must be stateless; all randomness comes from the supplied
// source so runs are reproducible under a fixed seed.
type Persona interface {
	Name() string
	Decide(rng *rand.Rand, m domain.Market) (Decision, bool)
}

// NewPersona returns the persona registered under name.
func NewPersona(name string) (Persona, error) {
	switch name {
	case "momentum":
		return momentumPersona{}, nil
	case "contrarian":
		return contrarianPersona{}, nil
	case "noise":
		return noisePersona{}, nil
	default:
		return nil, fmt.Errorf("sim: unknown persona %q", name)
	}
}

// momentumPersona piles onto whichever side the market already favors. The
// further the implied probability sits from 50%, the more likely it trades.
type momentumPersona struct{}

func (momentumPersona) Name() string { return "momentum" }

func (momentumPersona) Decide(rng *rand.Rand, m domain.Market) (Decision, bool) {
	yesProb := m.YesProbability()
	edge := yesProb - 0.5
	if edge > -0.03 && edge < 0.03 {
		// No trend to chase yet.
		return Decision{}, false
	}
	if rng.Float64() > 0.3+absf(edge) {
		return Decision{}, false
	}

	side := domain.SideYes
	if edge < 0 {
		side = domain.SideNo
	}
	return Decision{
		Side:      side,
		Direction: domain.TradeDirectionBuy,
		SizeFrac:  0.02 + rng.Float64()*0.05,
	}, true
}

// contrarianPersona fades the crowd: it buys the unfavored side when the
// implied probability strays from 50%, and takes profit on the favored side.
type contrarianPersona struct{}

func (contrarianPersona) Name() string { return "contrarian" }

func (contrarianPersona) Decide(rng *rand.Rand, m domain.Market) (Decision, bool) {
	yesProb := m.YesProbability()
	edge := yesProb - 0.5
	if edge > -0.08 && edge < 0.08 {
		return Decision{}, false
	}
	if rng.Float64() > 0.25+absf(edge) {
		return Decision{}, false
	}

	// Buy the cheap side.
	side := domain.SideNo
	if edge < 0 {
		side = domain.SideYes
	}

	// Occasionally unwind instead of adding.
	if rng.Float64() < 0.2 {
		return Decision{
			Side:      side.Opposite(),
			Direction: domain.TradeDirectionSell,
			SizeFrac:  0.3 + rng.Float64()*0.4,
		}, true
	}

	return Decision{
		Side:      side,
		Direction: domain.TradeDirectionBuy,
		SizeFrac:  0.02 + rng.Float64()*0.06,
	}, true
}

// noisePersona trades small and at random, keeping pools liquid and prices
// jittering.
type noisePersona struct{}

func (noisePersona) Name() string { return "noise" }

func (noisePersona) Decide(rng *rand.Rand, m domain.Market) (Decision, bool) {
	if rng.Float64() > 0.4 {
		return Decision{}, false
	}

	side := domain.SideYes
	if rng.Float64() < 0.5 {
		side = domain.SideNo
	}

	direction := domain.TradeDirectionBuy
	sizeFrac := 0.005 + rng.Float64()*0.02
	if rng.Float64() < 0.35 {
		direction = domain.TradeDirectionSell
		sizeFrac = 0.1 + rng.Float64()*0.3
	}

	return Decision{Side: side, Direction: direction, SizeFrac: sizeFrac}, true
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
