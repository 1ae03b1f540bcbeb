package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/babylonsim/babylond/internal/domain"
)

// TradeService defines the methods the trade handler requires from the
// service layer.
type TradeService interface {
	ExecuteTrade(ctx context.Context, intent domain.TradeIntent) (domain.Trade, domain.Market, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves trade execution and trade history endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logHandler(logger, "trade"),
	}
}

// buyRequest is the body for buy orders: spend USD, receive shares.
type buyRequest struct {
	UserID    string  `json:"user_id"`
	Side      string  `json:"side"`
	USDAmount float64 `json:"usd_amount"`
}

// sellRequest is the body for sell orders: return shares, receive USD.
type sellRequest struct {
	UserID string  `json:"user_id"`
	Side   string  `json:"side"`
	Shares float64 `json:"shares"`
}

// tradeResponse reports the executed fill and the market's post-trade state.
type tradeResponse struct {
	Trade  domain.Trade `json:"trade"`
	Market marketView   `json:"market"`
}

// Buy swaps USD into shares on one side of a market.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req buyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.execute(w, r, domain.TradeIntent{
		MarketID:  marketID,
		UserID:    req.UserID,
		Side:      domain.Side(req.Side),
		Direction: domain.TradeDirectionBuy,
		USDAmount: req.USDAmount,
	})
}

// Sell swaps shares back into USD.
// POST /api/markets/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req sellRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.execute(w, r, domain.TradeIntent{
		MarketID:  marketID,
		UserID:    req.UserID,
		Side:      domain.Side(req.Side),
		Direction: domain.TradeDirectionSell,
		Shares:    req.Shares,
	})
}

func (h *TradeHandler) execute(w http.ResponseWriter, r *http.Request, intent domain.TradeIntent) {
	trade, market, err := h.trades.ExecuteTrade(r.Context(), intent)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "execute trade failed",
			slog.String("market_id", intent.MarketID),
			slog.String("user_id", intent.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to execute trade")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{
		Trade:  trade,
		Market: toMarketView(market),
	})
}

// ListMarketTrades returns a market's trade history, newest first.
// GET /api/markets/{id}/trades
func (h *TradeHandler) ListMarketTrades(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	trades, err := h.trades.ListByMarket(r.Context(), marketID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list market trades failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListUserTrades returns a user's trade history, newest first.
// GET /api/users/{id}/trades
func (h *TradeHandler) ListUserTrades(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	trades, err := h.trades.ListByUser(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list user trades failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
