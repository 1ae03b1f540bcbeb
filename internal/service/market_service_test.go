package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babylonsim/babylond/internal/domain"
)

type marketEnv struct {
	svc    *MarketService
	store  *fakeMarketStore
	perps  *fakePerpStore
	cache  *fakeMarketCache
	prices *fakePriceCache
	bus    *fakeSignalBus
	audit  *fakeAuditStore
}

func newMarketEnv(t *testing.T, initialShares float64, markets ...domain.Market) *marketEnv {
	t.Helper()
	env := &marketEnv{
		store:  newFakeMarketStore(markets...),
		perps:  newFakePerpStore(),
		cache:  newFakeMarketCache(),
		prices: newFakePriceCache(),
		bus:    newFakeSignalBus(),
		audit:  &fakeAuditStore{},
	}
	env.svc = NewMarketService(
		env.store, env.perps, env.cache, env.prices,
		env.bus, env.audit, testLogger(), initialShares,
	)
	return env
}

func TestCreateMarket(t *testing.T) {
	env := newMarketEnv(t, 500)

	m, err := env.svc.CreateMarket(context.Background(), "  Will it rain tomorrow?  ", "u1", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "Will it rain tomorrow?", m.Question)
	assert.Equal(t, "will-it-rain-tomorrow", m.Slug)
	assert.Equal(t, 500.0, m.YesShares)
	assert.Equal(t, 500.0, m.NoShares)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
	assert.Equal(t, domain.OutcomeUnresolved, m.Outcome)
	assert.InDelta(t, 0.5, m.YesProbability(), 1e-12)

	// Persisted, cache warmed, opening price seeded, event + audit emitted.
	stored, err := env.store.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Slug, stored.Slug)
	assert.Contains(t, env.cache.byID, m.ID)
	assert.InDelta(t, 0.5, env.prices.prices[m.ID], 1e-12)
	assert.Len(t, env.bus.published["markets"], 1)
	assert.Equal(t, []string{"market_created"}, env.audit.events())
}

func TestCreateMarket_EmptyQuestion(t *testing.T) {
	env := newMarketEnv(t, 500)

	_, err := env.svc.CreateMarket(context.Background(), "   ", "u1", nil)
	require.ErrorIs(t, err, domain.ErrInvalidTrade)
	assert.Empty(t, env.store.markets)
}

func TestGetMarket_CacheHitSkipsStore(t *testing.T) {
	m := activeMarket("m1")
	env := newMarketEnv(t, 500, m)
	require.NoError(t, env.cache.Set(context.Background(), m))

	got, err := env.svc.GetMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
	assert.Zero(t, env.store.getByIDCalls)
}

func TestGetMarket_CacheMissBackfills(t *testing.T) {
	env := newMarketEnv(t, 500, activeMarket("m1"))

	got, err := env.svc.GetMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, 1, env.store.getByIDCalls)
	assert.Contains(t, env.cache.byID, "m1")
}

func TestGetMarketBySlug(t *testing.T) {
	m := activeMarket("m1")
	env := newMarketEnv(t, 500, m)

	got, err := env.svc.GetMarketBySlug(context.Background(), m.Slug)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	_, err = env.svc.GetMarketBySlug(context.Background(), "no-such-market")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolve(t *testing.T) {
	m := activeMarket("m1")
	env := newMarketEnv(t, 500, m)
	require.NoError(t, env.cache.Set(context.Background(), m))

	resolved, err := env.svc.Resolve(context.Background(), "m1", domain.OutcomeYes)
	require.NoError(t, err)

	assert.Equal(t, domain.MarketStatusResolved, resolved.Status)
	assert.Equal(t, domain.OutcomeYes, resolved.Outcome)
	require.NotNil(t, resolved.ResolvedAt)

	assert.Equal(t, []string{"m1"}, env.cache.invalidated)
	assert.Len(t, env.bus.published["markets"], 1)
	assert.Equal(t, []string{"market_resolved"}, env.audit.events())
}

func TestResolve_UnknownMarket(t *testing.T) {
	env := newMarketEnv(t, 500)

	_, err := env.svc.Resolve(context.Background(), "missing", domain.OutcomeNo)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPerp_UppercasesTicker(t *testing.T) {
	env := newMarketEnv(t, 500)
	require.NoError(t, env.perps.Upsert(context.Background(), domain.Perp{
		Ticker:    "BBLX",
		Name:      "Babylon Index",
		MarkPrice: 42,
		OpenPrice: 40,
		UpdatedAt: time.Now().UTC(),
	}))

	p, err := env.svc.GetPerp(context.Background(), "bblx")
	require.NoError(t, err)
	assert.Equal(t, "BBLX", p.Ticker)
	assert.InDelta(t, 0.05, p.Change24h(), 1e-12)
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Will it rain tomorrow?", "will-it-rain-tomorrow"},
		{"BTC > $100k by 2027!?", "btc-100k-by-2027"},
		{"  spaces   everywhere  ", "spaces-everywhere"},
		{"---", ""},
		{"already-slugged", "already-slugged"},
		{"MiXeD CaSe", "mixed-case"},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Slugify(tc.in))
		})
	}
}
