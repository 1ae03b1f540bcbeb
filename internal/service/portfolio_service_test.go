package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babylonsim/babylond/internal/domain"
)

type portfolioEnv struct {
	svc       *PortfolioService
	users     *fakeUserStore
	positions *fakePositionStore
	markets   *fakeMarketStore
	prices    *fakePriceCache
	audit     *fakeAuditStore
}

func newPortfolioEnv(t *testing.T, initialBalance float64) *portfolioEnv {
	t.Helper()
	env := &portfolioEnv{
		users:     newFakeUserStore(),
		positions: newFakePositionStore(),
		markets:   newFakeMarketStore(),
		prices:    newFakePriceCache(),
		audit:     &fakeAuditStore{},
	}
	env.svc = NewPortfolioService(
		env.users, env.positions, env.markets,
		env.prices, env.audit, testLogger(), initialBalance,
	)
	return env
}

func TestCreateUser(t *testing.T) {
	env := newPortfolioEnv(t, 1000)

	u, err := env.svc.CreateUser(context.Background(), "hammurabi", "", "lawgiver")
	require.NoError(t, err)

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "hammurabi", u.Username)
	assert.Equal(t, "hammurabi", u.DisplayName, "display name defaults to username")
	assert.Equal(t, 1000.0, u.Balance)
	assert.False(t, u.IsNPC)
	assert.Equal(t, []string{"user_created"}, env.audit.events())
}

func TestCreateUser_InvalidUsername(t *testing.T) {
	env := newPortfolioEnv(t, 1000)

	cases := []string{"ab", "Has Spaces", "UPPER", "way_too_long_username_far_beyond_the_limit", "emoji🔥"}
	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.CreateUser(context.Background(), name, "", "")
			require.ErrorIs(t, err, domain.ErrInvalidTrade)
		})
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	env := newPortfolioEnv(t, 1000)

	_, err := env.svc.CreateUser(context.Background(), "gilgamesh", "", "")
	require.NoError(t, err)

	_, err = env.svc.CreateUser(context.Background(), "gilgamesh", "", "")
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestGetPortfolio(t *testing.T) {
	env := newPortfolioEnv(t, 1000)
	env.users.users["u1"] = domain.User{ID: "u1", Username: "enkidu", Balance: 100}

	m1 := activeMarket("m1")
	m2 := activeMarket("m2")
	// m2 carries a 60% implied YES probability in its reserves.
	m2.YesShares, m2.NoShares = 400, 600
	env.markets.markets["m1"] = m1
	env.markets.markets["m2"] = m2

	env.positions = newFakePositionStore(
		domain.Position{
			UserID: "u1", MarketID: "m1", Side: domain.SideYes,
			Shares: 50, CostBasis: 20, Status: domain.PositionStatusOpen,
		},
		domain.Position{
			UserID: "u1", MarketID: "m2", Side: domain.SideNo,
			Shares: 10, CostBasis: 5, Status: domain.PositionStatusOpen,
		},
	)
	env.svc.positions = env.positions

	// Only m1 has a cached price; m2 falls back to its stored reserves.
	require.NoError(t, env.prices.SetPrice(context.Background(), "m1", 0.7, time.Now()))

	pf, err := env.svc.GetPortfolio(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, pf.Positions, 2)
	byMarket := map[string]PositionView{}
	for _, pv := range pf.Positions {
		byMarket[pv.Position.MarketID] = pv
	}

	// YES position marked at the cached probability, labeled with the
	// market's question.
	pv1 := byMarket["m1"]
	assert.Equal(t, m1.Question, pv1.Question)
	assert.InDelta(t, 0.7, pv1.CurrentProb, 1e-12)
	assert.InDelta(t, 35.0, pv1.CurrentValue, 1e-9)
	assert.InDelta(t, 15.0, pv1.UnrealizedPnL, 1e-9)

	// NO position values at 1 - yesProb, yesProb from reserves = 0.6.
	pv2 := byMarket["m2"]
	assert.Equal(t, m2.Question, pv2.Question)
	assert.InDelta(t, 0.4, pv2.CurrentProb, 1e-12)
	assert.InDelta(t, 4.0, pv2.CurrentValue, 1e-9)

	assert.InDelta(t, 100.0+35.0+4.0, pf.Equity, 1e-9)
}

func TestGetPortfolio_SkipsVanishedMarkets(t *testing.T) {
	env := newPortfolioEnv(t, 1000)
	env.users.users["u1"] = domain.User{ID: "u1", Username: "enkidu", Balance: 50}

	env.positions = newFakePositionStore(domain.Position{
		UserID: "u1", MarketID: "gone", Side: domain.SideYes,
		Shares: 10, CostBasis: 5, Status: domain.PositionStatusOpen,
	})
	env.svc.positions = env.positions

	pf, err := env.svc.GetPortfolio(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, pf.Positions)
	assert.Equal(t, 50.0, pf.Equity)
}

func TestGetPortfolio_UnknownUser(t *testing.T) {
	env := newPortfolioEnv(t, 1000)

	_, err := env.svc.GetPortfolio(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
