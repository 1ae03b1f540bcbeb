package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/babylonsim/babylond/internal/domain"
	"github.com/babylonsim/babylond/internal/service"
)

// PortfolioService defines the methods the user handler requires from the
// service layer.
type PortfolioService interface {
	CreateUser(ctx context.Context, username, displayName, bio string) (domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	ListUsers(ctx context.Context, opts domain.ListOpts) ([]domain.User, error)
	GetPortfolio(ctx context.Context, userID string) (service.Portfolio, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// UserHandler serves user, portfolio, and leaderboard endpoints.
type UserHandler struct {
	portfolios PortfolioService
	logger     *slog.Logger
}

// NewUserHandler creates a UserHandler with the given service and logger.
func NewUserHandler(portfolios PortfolioService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		portfolios: portfolios,
		logger:     logHandler(logger, "user"),
	}
}

// createUserRequest is the body for user registration.
type createUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
}

// CreateUser registers a new user with the configured starting balance.
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.portfolios.CreateUser(r.Context(), req.Username, req.DisplayName, req.Bio)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "create user failed",
			slog.String("username", req.Username),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// GetUser returns a user by ID, or by username via ?username=.
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	u, err := h.portfolios.GetUser(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "get user failed",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// ListUsers returns users with pagination. Pass ?username= for an exact
// username lookup.
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if username := r.URL.Query().Get("username"); username != "" {
		u, err := h.portfolios.GetUserByUsername(r.Context(), username)
		if err != nil {
			if writeDomainError(w, err) {
				return
			}
			h.logger.ErrorContext(r.Context(), "get user by username failed",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to get user")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": []domain.User{u}})
		return
	}

	users, err := h.portfolios.ListUsers(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list users failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// GetPortfolio returns a user's balance, open positions at market value, and
// total equity.
// GET /api/users/{id}/portfolio
func (h *UserHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	pf, err := h.portfolios.GetPortfolio(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "get portfolio failed",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get portfolio")
		return
	}

	writeJSON(w, http.StatusOK, pf)
}

// Leaderboard returns the top users ranked by realized PnL.
// GET /api/leaderboard?limit=20
func (h *UserHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := h.portfolios.Leaderboard(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "leaderboard failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}
