package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babylonsim/babylond/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type tradeEnv struct {
	svc       *TradeService
	markets   *fakeMarketStore
	trades    *fakeTradeStore
	positions *fakePositionStore
	cache     *fakeMarketCache
	prices    *fakePriceCache
	locks     *fakeLockManager
	limiter   *fakeRateLimiter
	bus       *fakeSignalBus
	audit     *fakeAuditStore
}

func newTradeEnv(t *testing.T, maxTradeUSD float64, rateLimit int, markets ...domain.Market) *tradeEnv {
	t.Helper()
	env := &tradeEnv{
		markets:   newFakeMarketStore(markets...),
		trades:    &fakeTradeStore{},
		positions: newFakePositionStore(),
		cache:     newFakeMarketCache(),
		prices:    newFakePriceCache(),
		locks:     &fakeLockManager{},
		limiter:   &fakeRateLimiter{allow: true},
		bus:       newFakeSignalBus(),
		audit:     &fakeAuditStore{},
	}
	env.svc = NewTradeService(
		env.markets, env.trades, env.positions,
		env.cache, env.prices, env.locks, env.limiter,
		env.bus, env.audit, testLogger(),
		maxTradeUSD, rateLimit, time.Minute,
	)
	return env
}

func activeMarket(id string) domain.Market {
	now := time.Now().UTC()
	return domain.Market{
		ID:        id,
		Question:  "Will the ziggurat be finished this year?",
		Slug:      "will-the-ziggurat-be-finished-this-year",
		YesShares: 500,
		NoShares:  500,
		Status:    domain.MarketStatusActive,
		Outcome:   domain.OutcomeUnresolved,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestExecuteTrade_Buy(t *testing.T) {
	env := newTradeEnv(t, 0, 0, activeMarket("m1"))

	trade, market, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionBuy,
		USDAmount: 100,
	})
	require.NoError(t, err)

	// $100 into a 500/500 pool: NO reserve rises to 600, YES falls to
	// 250000/600, the trader pockets the difference.
	wantShares := 500.0 - 250_000.0/600.0
	assert.InDelta(t, wantShares, trade.Shares, 1e-9)
	assert.Equal(t, 100.0, trade.USDAmount)
	assert.InDelta(t, 100.0/wantShares, trade.Price, 1e-9)
	assert.Equal(t, domain.TradeDirectionBuy, trade.Direction)

	assert.InDelta(t, 250_000.0/600.0, market.YesShares, 1e-9)
	assert.InDelta(t, 600.0, market.NoShares, 1e-9)
	assert.Equal(t, 100.0, market.Volume)

	require.Len(t, env.markets.applied, 1)
	exec := env.markets.applied[0]
	assert.Equal(t, -100.0, exec.BalanceDelta)
	assert.InDelta(t, wantShares, exec.SharesDelta, 1e-9)
	assert.Equal(t, 100.0, exec.CostDelta)
	assert.Zero(t, exec.PnLDelta)
	assert.Equal(t, 100.0, exec.NewLiquidity)

	// Lock taken and released around the swap.
	assert.Equal(t, []string{"market:m1"}, env.locks.acquired)
	assert.Equal(t, 1, env.locks.unlocks)

	// Caches refreshed, events fanned out, audit written.
	assert.InDelta(t, market.YesProbability(), env.prices.prices["m1"], 1e-9)
	assert.Contains(t, env.cache.byID, "m1")
	assert.Len(t, env.bus.published["trades"], 1)
	assert.Len(t, env.bus.published["prices"], 1)
	assert.Len(t, env.bus.streams["stream:trades"], 1)
	assert.Equal(t, []string{"trade_executed"}, env.audit.events())
}

func TestExecuteTrade_SellBooksRealizedPnL(t *testing.T) {
	env := newTradeEnv(t, 0, 0, activeMarket("m1"))
	env.positions = newFakePositionStore(domain.Position{
		UserID:    "u1",
		MarketID:  "m1",
		Side:      domain.SideYes,
		Shares:    50,
		CostBasis: 20, // average entry at $0.40
		Status:    domain.PositionStatusOpen,
	})
	env.svc.positions = env.positions

	trade, market, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionSell,
		Shares:    50,
	})
	require.NoError(t, err)

	// 50 shares back into a 500/500 pool: YES reserve becomes 550, NO
	// drops to 250000/550, and the difference is paid out.
	wantUSD := 500.0 - 250_000.0/550.0
	assert.InDelta(t, wantUSD, trade.USDAmount, 1e-9)
	assert.Equal(t, 50.0, trade.Shares)
	assert.InDelta(t, 550.0, market.YesShares, 1e-9)

	require.Len(t, env.markets.applied, 1)
	exec := env.markets.applied[0]
	assert.InDelta(t, wantUSD, exec.BalanceDelta, 1e-9)
	assert.Equal(t, -50.0, exec.SharesDelta)
	assert.Equal(t, -20.0, exec.CostDelta)
	assert.InDelta(t, wantUSD-20.0, exec.PnLDelta, 1e-9)
}

func TestExecuteTrade_SellCostReductionCappedAtBasis(t *testing.T) {
	env := newTradeEnv(t, 0, 0, activeMarket("m1"))
	env.positions = newFakePositionStore(domain.Position{
		UserID:    "u1",
		MarketID:  "m1",
		Side:      domain.SideNo,
		Shares:    40,
		CostBasis: 18,
		Status:    domain.PositionStatusOpen,
	})
	env.svc.positions = env.positions

	_, _, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideNo,
		Direction: domain.TradeDirectionSell,
		Shares:    40,
	})
	require.NoError(t, err)

	// Selling the entire position must never reduce cost below zero.
	exec := env.markets.applied[0]
	assert.InDelta(t, -18.0, exec.CostDelta, 1e-9)
}

func TestExecuteTrade_RepricesWhenReservesMove(t *testing.T) {
	env := newTradeEnv(t, 0, 0, activeMarket("m1"))

	// A concurrent fill moves the pool after the first read, so the first
	// execution is priced against reserves the store no longer holds.
	env.markets.onGetByID = func(calls int) {
		if calls == 1 {
			m := env.markets.markets["m1"]
			m.NoShares = 520
			m.YesShares = 250_000.0 / 520.0
			env.markets.markets["m1"] = m
		}
	}

	trade, market, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionBuy,
		USDAmount: 100,
	})
	require.NoError(t, err)

	// The committed execution was repriced against the moved reserves.
	assert.Equal(t, 2, env.markets.getByIDCalls)
	require.Len(t, env.markets.applied, 1)
	exec := env.markets.applied[0]
	assert.InDelta(t, 250_000.0/520.0, exec.PrevYesShares, 1e-9)
	assert.InDelta(t, 520.0, exec.PrevNoShares, 1e-9)

	wantShares := 250_000.0/520.0 - 250_000.0/620.0
	assert.InDelta(t, wantShares, trade.Shares, 1e-9)
	assert.InDelta(t, 620.0, market.NoShares, 1e-9)
	assert.InDelta(t, 250_000.0/620.0, market.YesShares, 1e-9)
}

func TestExecuteTrade_StaleReservesExhaustRetries(t *testing.T) {
	env := newTradeEnv(t, 0, 0, activeMarket("m1"))

	// The pool moves after every read, so no priced snapshot ever matches
	// the row at commit time.
	env.markets.onGetByID = func(int) {
		m := env.markets.markets["m1"]
		m.YesShares++
		env.markets.markets["m1"] = m
	}

	_, _, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionBuy,
		USDAmount: 100,
	})
	require.ErrorIs(t, err, domain.ErrStaleMarket)

	// Three attempts, nothing committed, lock still released.
	assert.Equal(t, 3, env.markets.getByIDCalls)
	assert.Empty(t, env.markets.applied)
	assert.Equal(t, 1, env.locks.unlocks)
}

func TestExecuteTrade_ValidationErrors(t *testing.T) {
	env := newTradeEnv(t, 1000, 0, activeMarket("m1"))

	base := domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionBuy,
		USDAmount: 50,
	}

	cases := []struct {
		name   string
		mutate func(*domain.TradeIntent)
	}{
		{"empty market id", func(i *domain.TradeIntent) { i.MarketID = "" }},
		{"empty user id", func(i *domain.TradeIntent) { i.UserID = "" }},
		{"bad side", func(i *domain.TradeIntent) { i.Side = "maybe" }},
		{"bad direction", func(i *domain.TradeIntent) { i.Direction = "hold" }},
		{"zero buy amount", func(i *domain.TradeIntent) { i.USDAmount = 0 }},
		{"negative buy amount", func(i *domain.TradeIntent) { i.USDAmount = -10 }},
		{"buy above cap", func(i *domain.TradeIntent) { i.USDAmount = 1001 }},
		{"zero sell shares", func(i *domain.TradeIntent) {
			i.Direction = domain.TradeDirectionSell
			i.Shares = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := base
			tc.mutate(&intent)
			_, _, err := env.svc.ExecuteTrade(context.Background(), intent)
			require.ErrorIs(t, err, domain.ErrInvalidTrade)
		})
	}

	// Nothing reached the store.
	assert.Empty(t, env.markets.applied)
}

func TestExecuteTrade_RateLimited(t *testing.T) {
	env := newTradeEnv(t, 0, 5, activeMarket("m1"))
	env.limiter.allow = false

	_, _, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionBuy,
		USDAmount: 10,
	})
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, []string{"trade:u1"}, env.limiter.keys)
	assert.Empty(t, env.locks.acquired)
}

func TestExecuteTrade_RateLimiterSkippedWhenDisabled(t *testing.T) {
	env := newTradeEnv(t, 0, 0, activeMarket("m1"))
	env.limiter.allow = false // would reject if consulted

	_, _, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionBuy,
		USDAmount: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, env.limiter.keys)
}

func TestExecuteTrade_LockHeld(t *testing.T) {
	env := newTradeEnv(t, 0, 0, activeMarket("m1"))
	env.locks.held = true

	_, _, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionBuy,
		USDAmount: 10,
	})
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, env.markets.applied)
}

func TestExecuteTrade_MarketNotTradable(t *testing.T) {
	m := activeMarket("m1")
	m.Status = domain.MarketStatusResolved
	env := newTradeEnv(t, 0, 0, m)

	_, _, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionBuy,
		USDAmount: 10,
	})
	require.ErrorIs(t, err, domain.ErrMarketNotTradable)
}

func TestExecuteTrade_SellWithoutPosition(t *testing.T) {
	env := newTradeEnv(t, 0, 0, activeMarket("m1"))

	_, _, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionSell,
		Shares:    10,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShare)
}

func TestExecuteTrade_SellMoreThanHeld(t *testing.T) {
	env := newTradeEnv(t, 0, 0, activeMarket("m1"))
	env.positions = newFakePositionStore(domain.Position{
		UserID:    "u1",
		MarketID:  "m1",
		Side:      domain.SideYes,
		Shares:    5,
		CostBasis: 2,
		Status:    domain.PositionStatusOpen,
	})
	env.svc.positions = env.positions

	_, _, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "m1",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionSell,
		Shares:    10,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShare)
	assert.Empty(t, env.markets.applied)
}

func TestExecuteTrade_UnknownMarket(t *testing.T) {
	env := newTradeEnv(t, 0, 0)

	_, _, err := env.svc.ExecuteTrade(context.Background(), domain.TradeIntent{
		MarketID:  "missing",
		UserID:    "u1",
		Side:      domain.SideYes,
		Direction: domain.TradeDirectionBuy,
		USDAmount: 10,
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
