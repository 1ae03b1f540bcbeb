package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/babylonsim/babylond/internal/amm"
	"github.com/babylonsim/babylond/internal/domain"
)

// lockTTL bounds how long a market trade lock can be held if its owner dies
// before releasing it.
const lockTTL = 5 * time.Second

// maxPriceAttempts bounds how often a trade is repriced when the store
// reports that the reserves moved between pricing and commit.
const maxPriceAttempts = 3

// TradeService executes swaps against market AMM pools. Every trade runs
// under a per-market distributed lock and is persisted atomically by the
// market store's transaction.
type TradeService struct {
	markets   domain.MarketStore
	trades    domain.TradeStore
	positions domain.PositionStore
	cache     domain.MarketCache
	prices    domain.PriceCache
	locks     domain.LockManager
	limiter   domain.RateLimiter
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger

	maxTradeUSD float64
	rateLimit   int
	rateWindow  time.Duration
}

// NewTradeService creates a TradeService with all required dependencies.
// A maxTradeUSD of 0 disables the per-trade cap; a rateLimit of 0 disables
// per-user rate limiting.
func NewTradeService(
	markets domain.MarketStore,
	trades domain.TradeStore,
	positions domain.PositionStore,
	cache domain.MarketCache,
	prices domain.PriceCache,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
	maxTradeUSD float64,
	rateLimit int,
	rateWindow time.Duration,
) *TradeService {
	return &TradeService{
		markets:     markets,
		trades:      trades,
		positions:   positions,
		cache:       cache,
		prices:      prices,
		locks:       locks,
		limiter:     limiter,
		bus:         bus,
		audit:       audit,
		logger:      logger,
		maxTradeUSD: maxTradeUSD,
		rateLimit:   rateLimit,
		rateWindow:  rateWindow,
	}
}

// ExecuteTrade validates the intent, prices it against the market's AMM
// pool, and applies the resulting write set in one store transaction. It
// returns the persisted trade and the market's post-trade state.
func (s *TradeService) ExecuteTrade(ctx context.Context, intent domain.TradeIntent) (domain.Trade, domain.Market, error) {
	if err := s.validateIntent(intent); err != nil {
		return domain.Trade{}, domain.Market{}, err
	}

	if s.rateLimit > 0 {
		allowed, err := s.limiter.Allow(ctx, "trade:"+intent.UserID, s.rateLimit, s.rateWindow)
		if err != nil {
			return domain.Trade{}, domain.Market{}, fmt.Errorf("trade_service: rate limit check: %w", err)
		}
		if !allowed {
			return domain.Trade{}, domain.Market{}, domain.ErrRateLimited
		}
	}

	// Smooth contention per market across processes. Correctness does not
	// depend on this lock: the store transaction re-checks the priced
	// reserves under its row lock and rejects stale executions.
	unlock, err := s.locks.Acquire(ctx, "market:"+intent.MarketID, lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Trade{}, domain.Market{}, domain.ErrLockHeld
		}
		return domain.Trade{}, domain.Market{}, fmt.Errorf("trade_service: acquire lock: %w", err)
	}
	defer unlock()

	var (
		exec    domain.TradeExecution
		updated domain.Market
	)
	for attempt := 1; ; attempt++ {
		market, err := s.markets.GetByID(ctx, intent.MarketID)
		if err != nil {
			return domain.Trade{}, domain.Market{}, fmt.Errorf("trade_service: load market %q: %w", intent.MarketID, err)
		}
		if !market.Tradable() {
			return domain.Trade{}, domain.Market{}, domain.ErrMarketNotTradable
		}

		switch intent.Direction {
		case domain.TradeDirectionBuy:
			exec, err = s.buildBuy(market, intent)
		case domain.TradeDirectionSell:
			exec, err = s.buildSell(ctx, market, intent)
		default:
			err = fmt.Errorf("trade_service: unknown direction %q: %w", intent.Direction, domain.ErrInvalidTrade)
		}
		if err != nil {
			return domain.Trade{}, domain.Market{}, err
		}

		updated, err = s.markets.ApplyTrade(ctx, exec)
		if err == nil {
			break
		}
		// Another process committed between the read and the apply.
		// Reprice against the fresh row.
		if errors.Is(err, domain.ErrStaleMarket) && attempt < maxPriceAttempts {
			s.logger.DebugContext(ctx, "trade_service: reserves moved, repricing",
				slog.String("market_id", intent.MarketID),
				slog.Int("attempt", attempt),
			)
			continue
		}
		return domain.Trade{}, domain.Market{}, fmt.Errorf("trade_service: apply trade: %w", err)
	}

	s.afterTrade(ctx, exec.Trade, updated)

	return exec.Trade, updated, nil
}

// buildBuy prices a buy against the pool. The USD deposit moves the opposite
// reserve up and the purchased reserve down; the trader receives the
// difference in shares.
func (s *TradeService) buildBuy(market domain.Market, intent domain.TradeIntent) (domain.TradeExecution, error) {
	res, err := amm.CalculateBuy(market.YesShares, market.NoShares, intent.Side, intent.USDAmount)
	if err != nil {
		return domain.TradeExecution{}, err
	}

	trade := domain.Trade{
		ID:        uuid.New().String(),
		MarketID:  market.ID,
		UserID:    intent.UserID,
		Side:      intent.Side,
		Direction: domain.TradeDirectionBuy,
		USDAmount: intent.USDAmount,
		Shares:    res.SharesBought,
		Price:     intent.USDAmount / res.SharesBought,
		CreatedAt: time.Now().UTC(),
	}

	return domain.TradeExecution{
		Trade:         trade,
		PrevYesShares: market.YesShares,
		PrevNoShares:  market.NoShares,
		NewYesShares:  res.NewYesShares,
		NewNoShares:   res.NewNoShares,
		NewLiquidity:  market.Liquidity + intent.USDAmount,
		VolumeDelta:   intent.USDAmount,
		BalanceDelta:  -intent.USDAmount,
		SharesDelta:   res.SharesBought,
		CostDelta:     intent.USDAmount,
	}, nil
}

// buildSell prices a sell against the pool and books realized PnL against
// the position's average cost.
func (s *TradeService) buildSell(ctx context.Context, market domain.Market, intent domain.TradeIntent) (domain.TradeExecution, error) {
	pos, err := s.positions.Get(ctx, intent.UserID, intent.MarketID, intent.Side)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TradeExecution{}, domain.ErrInsufficientShare
		}
		return domain.TradeExecution{}, fmt.Errorf("trade_service: load position: %w", err)
	}
	if pos.Shares < intent.Shares {
		return domain.TradeExecution{}, domain.ErrInsufficientShare
	}

	res, err := amm.CalculateSell(market.YesShares, market.NoShares, intent.Side, intent.Shares)
	if err != nil {
		return domain.TradeExecution{}, err
	}

	costReduction := pos.AvgPrice() * intent.Shares
	if costReduction > pos.CostBasis {
		costReduction = pos.CostBasis
	}

	trade := domain.Trade{
		ID:        uuid.New().String(),
		MarketID:  market.ID,
		UserID:    intent.UserID,
		Side:      intent.Side,
		Direction: domain.TradeDirectionSell,
		USDAmount: res.USDReceived,
		Shares:    intent.Shares,
		Price:     res.USDReceived / intent.Shares,
		CreatedAt: time.Now().UTC(),
	}

	return domain.TradeExecution{
		Trade:         trade,
		PrevYesShares: market.YesShares,
		PrevNoShares:  market.NoShares,
		NewYesShares:  res.NewYesShares,
		NewNoShares:   res.NewNoShares,
		NewLiquidity:  market.Liquidity - res.USDReceived,
		VolumeDelta:   res.USDReceived,
		BalanceDelta:  res.USDReceived,
		SharesDelta:   -intent.Shares,
		CostDelta:     -costReduction,
		PnLDelta:      res.USDReceived - costReduction,
	}, nil
}

// afterTrade refreshes caches and fans the fill out to subscribers. All of
// it is best-effort; the trade is already committed.
func (s *TradeService) afterTrade(ctx context.Context, trade domain.Trade, market domain.Market) {
	now := time.Now().UTC()

	if err := s.prices.SetPrice(ctx, market.ID, market.YesProbability(), now); err != nil {
		s.logger.WarnContext(ctx, "trade_service: price cache set failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cache.Set(ctx, market); err != nil {
		s.logger.WarnContext(ctx, "trade_service: market cache set failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "trade_executed",
		"trade_id":  trade.ID,
		"market_id": trade.MarketID,
		"user_id":   trade.UserID,
		"side":      string(trade.Side),
		"direction": string(trade.Direction),
		"usd":       trade.USDAmount,
		"shares":    trade.Shares,
		"price":     trade.Price,
		"yes_prob":  market.YesProbability(),
		"timestamp": trade.CreatedAt.Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, "trades", evt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish event failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, "stream:trades", evt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: stream append failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}

	priceEvt, _ := json.Marshal(map[string]any{
		"event":     "price_updated",
		"market_id": market.ID,
		"yes_prob":  market.YesProbability(),
		"no_prob":   market.NoProbability(),
		"timestamp": now.Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, "prices", priceEvt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish price failed",
			slog.String("market_id", market.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "trade_executed", map[string]any{
		"trade_id":  trade.ID,
		"market_id": trade.MarketID,
		"user_id":   trade.UserID,
		"side":      string(trade.Side),
		"direction": string(trade.Direction),
		"usd":       trade.USDAmount,
		"shares":    trade.Shares,
	}); err != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "trade_service: trade executed",
		slog.String("trade_id", trade.ID),
		slog.String("market_id", trade.MarketID),
		slog.String("direction", string(trade.Direction)),
		slog.Float64("usd", trade.USDAmount),
		slog.Float64("shares", trade.Shares),
	)
}

func (s *TradeService) validateIntent(intent domain.TradeIntent) error {
	if intent.MarketID == "" {
		return fmt.Errorf("trade_service: market id must not be empty: %w", domain.ErrInvalidTrade)
	}
	if intent.UserID == "" {
		return fmt.Errorf("trade_service: user id must not be empty: %w", domain.ErrInvalidTrade)
	}
	if !intent.Side.Valid() {
		return fmt.Errorf("trade_service: unknown side %q: %w", intent.Side, domain.ErrInvalidTrade)
	}

	switch intent.Direction {
	case domain.TradeDirectionBuy:
		if intent.USDAmount <= 0 {
			return fmt.Errorf("trade_service: buy amount must be positive: %w", domain.ErrInvalidTrade)
		}
		if s.maxTradeUSD > 0 && intent.USDAmount > s.maxTradeUSD {
			return fmt.Errorf("trade_service: buy amount %v exceeds cap %v: %w",
				intent.USDAmount, s.maxTradeUSD, domain.ErrInvalidTrade)
		}
	case domain.TradeDirectionSell:
		if intent.Shares <= 0 {
			return fmt.Errorf("trade_service: sell shares must be positive: %w", domain.ErrInvalidTrade)
		}
	default:
		return fmt.Errorf("trade_service: unknown direction %q: %w", intent.Direction, domain.ErrInvalidTrade)
	}

	return nil
}

// ListByMarket returns trades for a specific market with pagination.
func (s *TradeService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by market %q: %w", marketID, err)
	}
	return trades, nil
}

// ListByUser returns trades placed by a specific user with pagination.
func (s *TradeService) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by user %q: %w", userID, err)
	}
	return trades, nil
}
