package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/babylonsim/babylond/internal/domain"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

// PositionView is an open position marked against the current implied
// probability.
type PositionView struct {
	Position      domain.Position
	Question      string
	CurrentProb   float64
	CurrentValue  float64
	UnrealizedPnL float64
}

// Portfolio is a user's full financial snapshot: free balance plus open
// positions at market value.
type Portfolio struct {
	User      domain.User
	Positions []PositionView
	Equity    float64 // balance + sum of position values
}

// PortfolioService handles users, balances, positions, and the leaderboard.
type PortfolioService struct {
	users     domain.UserStore
	positions domain.PositionStore
	markets   domain.MarketStore
	prices    domain.PriceCache
	audit     domain.AuditStore
	logger    *slog.Logger

	initialBalance float64
}

// NewPortfolioService creates a PortfolioService with all required
// dependencies.
func NewPortfolioService(
	users domain.UserStore,
	positions domain.PositionStore,
	markets domain.MarketStore,
	prices domain.PriceCache,
	audit domain.AuditStore,
	logger *slog.Logger,
	initialBalance float64,
) *PortfolioService {
	return &PortfolioService{
		users:          users,
		positions:      positions,
		markets:        markets,
		prices:         prices,
		audit:          audit,
		logger:         logger,
		initialBalance: initialBalance,
	}
}

// CreateUser registers a new user with the configured starting balance.
func (s *PortfolioService) CreateUser(ctx context.Context, username, displayName, bio string) (domain.User, error) {
	if !usernameRe.MatchString(username) {
		return domain.User{}, fmt.Errorf("portfolio_service: username must match %s: %w",
			usernameRe.String(), domain.ErrInvalidTrade)
	}
	if displayName == "" {
		displayName = username
	}

	now := time.Now().UTC()
	u := domain.User{
		ID:          uuid.New().String(),
		Username:    username,
		DisplayName: displayName,
		Bio:         bio,
		Balance:     s.initialBalance,
		IsNPC:       false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.users.Create(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("portfolio_service: create user %q: %w", username, err)
	}

	if err := s.audit.Log(ctx, "user_created", map[string]any{
		"user_id":  u.ID,
		"username": u.Username,
		"is_npc":   false,
	}); err != nil {
		s.logger.WarnContext(ctx, "portfolio_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "portfolio_service: user created",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)

	return u, nil
}

// GetUser retrieves a user by ID.
func (s *PortfolioService) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("portfolio_service: get user %q: %w", id, err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (s *PortfolioService) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return domain.User{}, fmt.Errorf("portfolio_service: get user by username %q: %w", username, err)
	}
	return u, nil
}

// ListUsers returns users with pagination.
func (s *PortfolioService) ListUsers(ctx context.Context, opts domain.ListOpts) ([]domain.User, error) {
	users, err := s.users.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: list users: %w", err)
	}
	return users, nil
}

// GetPortfolio assembles a user's portfolio: free balance plus every open
// position marked to the current implied probability. The market row
// supplies the question; prices come from the cache where available and
// fall back to the market's stored reserves.
func (s *PortfolioService) GetPortfolio(ctx context.Context, userID string) (Portfolio, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Portfolio{}, fmt.Errorf("portfolio_service: get user %q: %w", userID, err)
	}

	positions, err := s.positions.ListOpenByUser(ctx, userID)
	if err != nil {
		return Portfolio{}, fmt.Errorf("portfolio_service: list positions %q: %w", userID, err)
	}

	marketIDs := make([]string, 0, len(positions))
	for _, p := range positions {
		marketIDs = append(marketIDs, p.MarketID)
	}
	cached, err := s.prices.GetPrices(ctx, marketIDs)
	if err != nil {
		s.logger.WarnContext(ctx, "portfolio_service: price cache read failed",
			slog.String("error", err.Error()),
		)
		cached = map[string]float64{}
	}

	pf := Portfolio{User: u, Equity: u.Balance}
	for _, p := range positions {
		m, err := s.markets.GetByID(ctx, p.MarketID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return Portfolio{}, fmt.Errorf("portfolio_service: load market %q: %w", p.MarketID, err)
		}

		yesProb, ok := cached[p.MarketID]
		if !ok {
			yesProb = m.YesProbability()
		}

		prob := yesProb
		if p.Side == domain.SideNo {
			prob = 1 - yesProb
		}

		value := p.Shares * prob
		pf.Positions = append(pf.Positions, PositionView{
			Position:      p,
			Question:      m.Question,
			CurrentProb:   prob,
			CurrentValue:  value,
			UnrealizedPnL: p.UnrealizedPnL(prob),
		})
		pf.Equity += value
	}

	return pf, nil
}

// Leaderboard returns the top users ranked by realized PnL.
func (s *PortfolioService) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	entries, err := s.users.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: leaderboard: %w", err)
	}
	return entries, nil
}
