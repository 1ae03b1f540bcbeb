// Package service contains the application services that sit between the
// HTTP/simulation layers and the stores.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/babylonsim/babylond/internal/domain"
)

// MarketService handles market lifecycle: creation, lookup, and resolution.
type MarketService struct {
	markets       domain.MarketStore
	perps         domain.PerpStore
	cache         domain.MarketCache
	prices        domain.PriceCache
	bus           domain.SignalBus
	audit         domain.AuditStore
	logger        *slog.Logger
	initialShares float64
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	perps domain.PerpStore,
	cache domain.MarketCache,
	prices domain.PriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
	initialShares float64,
) *MarketService {
	return &MarketService{
		markets:       markets,
		perps:         perps,
		cache:         cache,
		prices:        prices,
		bus:           bus,
		audit:         audit,
		logger:        logger,
		initialShares: initialShares,
	}
}

// CreateMarket creates a new prediction market seeded with equal YES and NO
// reserves, so the opening implied probability is 50%.
func (s *MarketService) CreateMarket(ctx context.Context, question, createdBy string, closesAt *time.Time) (domain.Market, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Market{}, fmt.Errorf("market_service: question must not be empty: %w", domain.ErrInvalidTrade)
	}

	now := time.Now().UTC()
	m := domain.Market{
		ID:        uuid.New().String(),
		Question:  question,
		Slug:      Slugify(question),
		YesShares: s.initialShares,
		NoShares:  s.initialShares,
		Liquidity: 0,
		Volume:    0,
		Status:    domain.MarketStatusActive,
		Outcome:   domain.OutcomeUnresolved,
		CreatedBy: createdBy,
		ClosesAt:  closesAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	// Warm the caches; failures here are non-fatal.
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.prices.SetPrice(ctx, m.ID, m.YesProbability(), now); err != nil {
		s.logger.WarnContext(ctx, "market_service: price cache set failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publishMarketEvent(ctx, "market_created", m)

	if err := s.audit.Log(ctx, "market_created", map[string]any{
		"market_id":  m.ID,
		"question":   m.Question,
		"created_by": createdBy,
	}); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.String("slug", m.Slug),
	)

	return m, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the persistent store on a cache miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.cache.Get(ctx, id)
	if err == nil {
		return m, nil
	}

	m, err = s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %q: %w", id, err)
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	return m, nil
}

// GetMarketBySlug retrieves a market by its URL slug, checking the cache
// first and falling back to the persistent store.
func (s *MarketService) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	m, err := s.cache.GetBySlug(ctx, slug)
	if err == nil {
		return m, nil
	}

	m, err = s.markets.GetBySlug(ctx, slug)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by slug %q: %w", slug, err)
	}

	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("slug", slug),
			slog.String("error", cacheErr.Error()),
		)
	}

	return m, nil
}

// ListActive returns active markets directly from the persistent store.
func (s *MarketService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active: %w", err)
	}
	return markets, nil
}

// ListResolved returns resolved markets from the persistent store.
func (s *MarketService) ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListResolved(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list resolved: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the persistent store.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// Resolve settles a market with the given outcome. The store pays out every
// open position in the same transaction: winning shares redeem at $1, losing
// shares at $0.
func (s *MarketService) Resolve(ctx context.Context, id string, outcome domain.Outcome) (domain.Market, error) {
	now := time.Now().UTC()
	if err := s.markets.Resolve(ctx, id, outcome, now); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve %q: %w", id, err)
	}

	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: reload resolved %q: %w", id, err)
	}

	s.publishMarketEvent(ctx, "market_resolved", m)

	if err := s.audit.Log(ctx, "market_resolved", map[string]any{
		"market_id": m.ID,
		"outcome":   string(outcome),
	}); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "market_service: market resolved",
		slog.String("market_id", m.ID),
		slog.String("outcome", string(outcome)),
	)

	return m, nil
}

// ListPerps returns all simulated perpetual tickers.
func (s *MarketService) ListPerps(ctx context.Context) ([]domain.Perp, error) {
	perps, err := s.perps.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service: list perps: %w", err)
	}
	return perps, nil
}

// GetPerp returns one perpetual ticker.
func (s *MarketService) GetPerp(ctx context.Context, ticker string) (domain.Perp, error) {
	p, err := s.perps.Get(ctx, strings.ToUpper(ticker))
	if err != nil {
		return domain.Perp{}, fmt.Errorf("market_service: get perp %q: %w", ticker, err)
	}
	return p, nil
}

func (s *MarketService) publishMarketEvent(ctx context.Context, event string, m domain.Market) {
	evt, _ := json.Marshal(map[string]any{
		"event":     event,
		"market_id": m.ID,
		"slug":      m.Slug,
		"question":  m.Question,
		"yes_prob":  m.YesProbability(),
		"status":    string(m.Status),
		"outcome":   string(m.Outcome),
	})
	if err := s.bus.Publish(ctx, "markets", evt); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish event failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Slugify converts a market question into a URL-safe slug. Consecutive
// non-alphanumeric runs collapse into single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
