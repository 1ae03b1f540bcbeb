// Package amm implements the constant-product pricing engine used by
// prediction markets. Every market holds two share reserves (YES and NO);
// buys and sells swap against the pool so that the product of the reserves
// is conserved. The functions here are pure: they never touch storage, and
// callers persist the returned reserves themselves.
package amm

import (
	"fmt"

	"github.com/babylonsim/babylond/internal/domain"
)

// BuyResult is the outcome of a buy swap.
type BuyResult struct {
	SharesBought float64
	NewYesShares float64
	NewNoShares  float64
}

// SellResult is the outcome of a sell swap.
type SellResult struct {
	NewYesShares float64
	NewNoShares  float64
	USDReceived  float64
}

// CalculateBuy swaps usdAmount of currency into the pool and returns the
// shares bought on the requested side along with the new reserves.
//
// The purchase deposits usdAmount into the opposite side's reserve and takes
// shares out of the purchased side per the constant-product formula:
//
//	k    = yes * no
//	in'  = in + usd
//	out' = k / in'
//
// The product of the returned reserves equals the pre-trade product up to
// floating-point rounding.
func CalculateBuy(yesShares, noShares float64, side domain.Side, usdAmount float64) (BuyResult, error) {
	if err := checkReserves(yesShares, noShares); err != nil {
		return BuyResult{}, err
	}
	if usdAmount <= 0 {
		return BuyResult{}, fmt.Errorf("amm: usd amount must be positive, got %v: %w", usdAmount, domain.ErrInvalidTrade)
	}
	if !side.Valid() {
		return BuyResult{}, fmt.Errorf("amm: unknown side %q: %w", side, domain.ErrInvalidTrade)
	}

	k := yesShares * noShares

	var newYes, newNo float64
	if side == domain.SideYes {
		newNo = noShares + usdAmount
		newYes = k / newNo
	} else {
		newYes = yesShares + usdAmount
		newNo = k / newYes
	}

	res := BuyResult{
		NewYesShares: newYes,
		NewNoShares:  newNo,
	}
	if side == domain.SideYes {
		res.SharesBought = yesShares - newYes
	} else {
		res.SharesBought = noShares - newNo
	}
	return res, nil
}

// CalculateSell returns shareAmount of previously-bought shares to the pool
// and computes the USD paid out. The sold side's reserve increases by the
// returned shares; the opposite reserve shrinks to keep the product constant
// and the difference is the payout.
func CalculateSell(yesShares, noShares float64, side domain.Side, shareAmount float64) (SellResult, error) {
	if err := checkReserves(yesShares, noShares); err != nil {
		return SellResult{}, err
	}
	if shareAmount <= 0 {
		return SellResult{}, fmt.Errorf("amm: share amount must be positive, got %v: %w", shareAmount, domain.ErrInvalidTrade)
	}
	if !side.Valid() {
		return SellResult{}, fmt.Errorf("amm: unknown side %q: %w", side, domain.ErrInvalidTrade)
	}

	k := yesShares * noShares

	var newYes, newNo, usdOut float64
	if side == domain.SideYes {
		newYes = yesShares + shareAmount
		newNo = k / newYes
		usdOut = noShares - newNo
	} else {
		newNo = noShares + shareAmount
		newYes = k / newNo
		usdOut = yesShares - newYes
	}

	return SellResult{
		NewYesShares: newYes,
		NewNoShares:  newNo,
		USDReceived:  usdOut,
	}, nil
}

// Probability returns the implied probability of the given side. Reserves
// are inversely related to price, so the opposite side's reserve is the
// numerator.
func Probability(yesShares, noShares float64, side domain.Side) float64 {
	total := yesShares + noShares
	if total <= 0 {
		return 0
	}
	if side == domain.SideYes {
		return noShares / total
	}
	return yesShares / total
}

func checkReserves(yesShares, noShares float64) error {
	if yesShares <= 0 || noShares <= 0 {
		return fmt.Errorf("amm: reserves must be positive, got yes=%v no=%v: %w",
			yesShares, noShares, domain.ErrInvalidTrade)
	}
	return nil
}
