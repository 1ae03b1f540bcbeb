package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTrade      = errors.New("invalid trade parameters")
	ErrMarketNotTradable = errors.New("market is not tradable")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInsufficientShare = errors.New("insufficient shares")
	ErrLockHeld          = errors.New("lock already held")
	ErrStaleMarket       = errors.New("market reserves changed")
)
