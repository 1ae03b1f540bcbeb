package service

import (
	"context"
	"fmt"
	"time"

	"github.com/babylonsim/babylond/internal/domain"
)

// In-memory fakes backing the service tests. Each fake records enough call
// state for assertions without reaching for a mock framework.

type fakeMarketStore struct {
	markets      map[string]domain.Market
	applied      []domain.TradeExecution
	getByIDCalls int
	// onGetByID, when set, runs after each read with the call count so
	// tests can move reserves between a read and the following apply.
	onGetByID func(calls int)
}

func newFakeMarketStore(markets ...domain.Market) *fakeMarketStore {
	s := &fakeMarketStore{markets: make(map[string]domain.Market)}
	for _, m := range markets {
		s.markets[m.ID] = m
	}
	return s
}

func (s *fakeMarketStore) Create(_ context.Context, m domain.Market) error {
	if _, ok := s.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.markets[m.ID] = m
	return nil
}

func (s *fakeMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.getByIDCalls++
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if s.onGetByID != nil {
		s.onGetByID(s.getByIDCalls)
	}
	return m, nil
}

func (s *fakeMarketStore) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	for _, m := range s.markets {
		if m.Slug == slug {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *fakeMarketStore) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status == domain.MarketStatusActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) ListResolved(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status == domain.MarketStatusResolved {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.markets)), nil
}

func (s *fakeMarketStore) ApplyTrade(_ context.Context, exec domain.TradeExecution) (domain.Market, error) {
	m, ok := s.markets[exec.Trade.MarketID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if !m.Tradable() {
		return domain.Market{}, domain.ErrMarketNotTradable
	}
	if m.YesShares != exec.PrevYesShares || m.NoShares != exec.PrevNoShares {
		return domain.Market{}, domain.ErrStaleMarket
	}
	m.YesShares = exec.NewYesShares
	m.NoShares = exec.NewNoShares
	m.Liquidity = exec.NewLiquidity
	m.Volume += exec.VolumeDelta
	m.UpdatedAt = exec.Trade.CreatedAt
	s.markets[m.ID] = m
	s.applied = append(s.applied, exec)
	return m, nil
}

func (s *fakeMarketStore) Resolve(_ context.Context, id string, outcome domain.Outcome, at time.Time) error {
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = domain.MarketStatusResolved
	m.Outcome = outcome
	m.ResolvedAt = &at
	s.markets[id] = m
	return nil
}

type fakeTradeStore struct {
	trades []domain.Trade
}

func (s *fakeTradeStore) ListByMarket(_ context.Context, marketID string, _ domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) ListResolvedBefore(_ context.Context, _ time.Time, _ int) ([]domain.Trade, error) {
	return nil, nil
}

func (s *fakeTradeStore) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	return int64(len(ids)), nil
}

type fakePositionStore struct {
	positions map[string]domain.Position
}

func positionKey(userID, marketID string, side domain.Side) string {
	return fmt.Sprintf("%s|%s|%s", userID, marketID, side)
}

func newFakePositionStore(positions ...domain.Position) *fakePositionStore {
	s := &fakePositionStore{positions: make(map[string]domain.Position)}
	for _, p := range positions {
		s.positions[positionKey(p.UserID, p.MarketID, p.Side)] = p
	}
	return s
}

func (s *fakePositionStore) Get(_ context.Context, userID, marketID string, side domain.Side) (domain.Position, error) {
	p, ok := s.positions[positionKey(userID, marketID, side)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePositionStore) ListOpenByUser(_ context.Context, userID string) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.UserID == userID && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ListOpenByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.positions {
		if p.MarketID == marketID && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeUserStore struct {
	users map[string]domain.User
}

func newFakeUserStore(users ...domain.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]domain.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) Create(_ context.Context, u domain.User) error {
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return domain.ErrAlreadyExists
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *fakeUserStore) GetByID(_ context.Context, id string) (domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) GetByUsername(_ context.Context, username string) (domain.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *fakeUserStore) List(_ context.Context, _ domain.ListOpts) ([]domain.User, error) {
	var out []domain.User
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *fakeUserStore) ListNPCs(_ context.Context) ([]domain.User, error) {
	var out []domain.User
	for _, u := range s.users {
		if u.IsNPC {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeUserStore) AdjustBalance(_ context.Context, adj domain.BalanceAdjustment) error {
	u, ok := s.users[adj.UserID]
	if !ok {
		return domain.ErrNotFound
	}
	if u.Balance+adj.Delta < 0 {
		return domain.ErrInsufficientFunds
	}
	u.Balance += adj.Delta
	s.users[adj.UserID] = u
	return nil
}

func (s *fakeUserStore) Leaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	var out []domain.LeaderboardEntry
	for _, u := range s.users {
		if len(out) >= limit {
			break
		}
		out = append(out, domain.LeaderboardEntry{
			UserID:      u.ID,
			Username:    u.Username,
			RealizedPnL: u.RealizedPnL,
			Balance:     u.Balance,
		})
	}
	return out, nil
}

type fakePostStore struct {
	posts map[string]domain.Post
}

func newFakePostStore() *fakePostStore {
	return &fakePostStore{posts: make(map[string]domain.Post)}
}

func (s *fakePostStore) Create(_ context.Context, p domain.Post) error {
	s.posts[p.ID] = p
	return nil
}

func (s *fakePostStore) GetByID(_ context.Context, id string) (domain.Post, error) {
	p, ok := s.posts[id]
	if !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePostStore) ListFeed(_ context.Context, _ domain.ListOpts) ([]domain.Post, error) {
	var out []domain.Post
	for _, p := range s.posts {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakePostStore) ListByAuthor(_ context.Context, authorID string, _ domain.ListOpts) ([]domain.Post, error) {
	var out []domain.Post
	for _, p := range s.posts {
		if p.AuthorID == authorID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePostStore) IncrementLikes(_ context.Context, id string) error {
	p, ok := s.posts[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Likes++
	s.posts[id] = p
	return nil
}

type fakePerpStore struct {
	perps map[string]domain.Perp
}

func newFakePerpStore(perps ...domain.Perp) *fakePerpStore {
	s := &fakePerpStore{perps: make(map[string]domain.Perp)}
	for _, p := range perps {
		s.perps[p.Ticker] = p
	}
	return s
}

func (s *fakePerpStore) Upsert(_ context.Context, p domain.Perp) error {
	s.perps[p.Ticker] = p
	return nil
}

func (s *fakePerpStore) Get(_ context.Context, ticker string) (domain.Perp, error) {
	p, ok := s.perps[ticker]
	if !ok {
		return domain.Perp{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePerpStore) List(_ context.Context) ([]domain.Perp, error) {
	var out []domain.Perp
	for _, p := range s.perps {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakePerpStore) SetMarkPrice(_ context.Context, ticker string, price float64, at time.Time) error {
	p, ok := s.perps[ticker]
	if !ok {
		return domain.ErrNotFound
	}
	p.MarkPrice = price
	p.UpdatedAt = at
	s.perps[ticker] = p
	return nil
}

type auditRecord struct {
	event  string
	detail map[string]any
}

type fakeAuditStore struct {
	records []auditRecord
}

func (s *fakeAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.records = append(s.records, auditRecord{event: event, detail: detail})
	return nil
}

func (s *fakeAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *fakeAuditStore) events() []string {
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.event)
	}
	return out
}

type fakePriceCache struct {
	prices map[string]float64
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{prices: make(map[string]float64)}
}

func (c *fakePriceCache) SetPrice(_ context.Context, assetID string, price float64, _ time.Time) error {
	c.prices[assetID] = price
	return nil
}

func (c *fakePriceCache) GetPrice(_ context.Context, assetID string) (float64, time.Time, error) {
	p, ok := c.prices[assetID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (c *fakePriceCache) GetPrices(_ context.Context, assetIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range assetIDs {
		if p, ok := c.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeMarketCache struct {
	byID        map[string]domain.Market
	setCalls    int
	invalidated []string
}

func newFakeMarketCache() *fakeMarketCache {
	return &fakeMarketCache{byID: make(map[string]domain.Market)}
}

func (c *fakeMarketCache) Set(_ context.Context, m domain.Market) error {
	c.setCalls++
	c.byID[m.ID] = m
	return nil
}

func (c *fakeMarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	m, ok := c.byID[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *fakeMarketCache) GetBySlug(_ context.Context, slug string) (domain.Market, error) {
	for _, m := range c.byID {
		if m.Slug == slug {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (c *fakeMarketCache) Invalidate(_ context.Context, id string) error {
	delete(c.byID, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type fakeRateLimiter struct {
	allow bool
	keys  []string
}

func (l *fakeRateLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, nil
}

type fakeLockManager struct {
	held     bool
	acquired []string
	unlocks  int
}

func (m *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if m.held {
		return nil, domain.ErrLockHeld
	}
	m.acquired = append(m.acquired, key)
	return func() { m.unlocks++ }, nil
}

type fakeSignalBus struct {
	published map[string][][]byte
	streams   map[string][][]byte
}

func newFakeSignalBus() *fakeSignalBus {
	return &fakeSignalBus{
		published: make(map[string][][]byte),
		streams:   make(map[string][][]byte),
	}
}

func (b *fakeSignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeSignalBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeSignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeSignalBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// Interface conformance for the fakes.
var (
	_ domain.MarketStore   = (*fakeMarketStore)(nil)
	_ domain.TradeStore    = (*fakeTradeStore)(nil)
	_ domain.PositionStore = (*fakePositionStore)(nil)
	_ domain.UserStore     = (*fakeUserStore)(nil)
	_ domain.PostStore     = (*fakePostStore)(nil)
	_ domain.PerpStore     = (*fakePerpStore)(nil)
	_ domain.AuditStore    = (*fakeAuditStore)(nil)
	_ domain.PriceCache    = (*fakePriceCache)(nil)
	_ domain.MarketCache   = (*fakeMarketCache)(nil)
	_ domain.RateLimiter   = (*fakeRateLimiter)(nil)
	_ domain.LockManager   = (*fakeLockManager)(nil)
	_ domain.SignalBus     = (*fakeSignalBus)(nil)
)
