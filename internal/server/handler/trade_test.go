package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babylonsim/babylond/internal/domain"
)

type stubTradeService struct {
	executeFn func(ctx context.Context, intent domain.TradeIntent) (domain.Trade, domain.Market, error)
	trades    []domain.Trade
}

func (s *stubTradeService) ExecuteTrade(ctx context.Context, intent domain.TradeIntent) (domain.Trade, domain.Market, error) {
	return s.executeFn(ctx, intent)
}

func (s *stubTradeService) ListByMarket(_ context.Context, _ string, _ domain.ListOpts) ([]domain.Trade, error) {
	return s.trades, nil
}

func (s *stubTradeService) ListByUser(_ context.Context, _ string, _ domain.ListOpts) ([]domain.Trade, error) {
	return s.trades, nil
}

func tradeMux(h *TradeHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets/{id}/buy", h.Buy)
	mux.HandleFunc("POST /api/markets/{id}/sell", h.Sell)
	mux.HandleFunc("GET /api/markets/{id}/trades", h.ListMarketTrades)
	mux.HandleFunc("GET /api/users/{id}/trades", h.ListUserTrades)
	return mux
}

func TestBuy(t *testing.T) {
	svc := &stubTradeService{
		executeFn: func(_ context.Context, intent domain.TradeIntent) (domain.Trade, domain.Market, error) {
			assert.Equal(t, "m1", intent.MarketID)
			assert.Equal(t, "u1", intent.UserID)
			assert.Equal(t, domain.SideYes, intent.Side)
			assert.Equal(t, domain.TradeDirectionBuy, intent.Direction)
			assert.Equal(t, 100.0, intent.USDAmount)

			trade := domain.Trade{
				ID:        "t1",
				MarketID:  intent.MarketID,
				UserID:    intent.UserID,
				Side:      intent.Side,
				Direction: intent.Direction,
				USDAmount: 100,
				Shares:    83.33,
				Price:     1.2,
				CreatedAt: time.Now().UTC(),
			}
			return trade, sampleMarket(), nil
		},
	}
	mux := tradeMux(NewTradeHandler(svc, testLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/buy",
		strings.NewReader(`{"user_id":"u1","side":"yes","usd_amount":100}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Trade  domain.Trade   `json:"trade"`
		Market map[string]any `json:"market"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.Trade.ID)
	assert.Equal(t, "m1", resp.Market["id"])
}

func TestSell(t *testing.T) {
	svc := &stubTradeService{
		executeFn: func(_ context.Context, intent domain.TradeIntent) (domain.Trade, domain.Market, error) {
			assert.Equal(t, domain.TradeDirectionSell, intent.Direction)
			assert.Equal(t, 25.0, intent.Shares)
			return domain.Trade{ID: "t2"}, sampleMarket(), nil
		},
	}
	mux := tradeMux(NewTradeHandler(svc, testLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/sell",
		strings.NewReader(`{"user_id":"u1","side":"no","shares":25}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTrade_DomainErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid trade", domain.ErrInvalidTrade, http.StatusBadRequest},
		{"market not tradable", domain.ErrMarketNotTradable, http.StatusConflict},
		{"insufficient balance", domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"insufficient shares", domain.ErrInsufficientShare, http.StatusUnprocessableEntity},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"lock held", domain.ErrLockHeld, http.StatusConflict},
		{"stale reserves", domain.ErrStaleMarket, http.StatusConflict},
		{"market missing", domain.ErrNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubTradeService{
				executeFn: func(_ context.Context, _ domain.TradeIntent) (domain.Trade, domain.Market, error) {
					return domain.Trade{}, domain.Market{}, tc.err
				},
			}
			mux := tradeMux(NewTradeHandler(svc, testLogger()))

			req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/buy",
				strings.NewReader(`{"user_id":"u1","side":"yes","usd_amount":10}`))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestBuy_BadBody(t *testing.T) {
	mux := tradeMux(NewTradeHandler(&stubTradeService{}, testLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/markets/m1/buy",
		strings.NewReader(`{"user_id":"u1","bogus":true}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMarketTrades(t *testing.T) {
	svc := &stubTradeService{trades: []domain.Trade{{ID: "t1"}, {ID: "t2"}}}
	mux := tradeMux(NewTradeHandler(svc, testLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/markets/m1/trades", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Trades []domain.Trade `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Trades, 2)
}
