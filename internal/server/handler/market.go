package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/babylonsim/babylond/internal/domain"
)

// MarketService defines the methods that the market handler requires from
// the service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, question, createdBy string, closesAt *time.Time) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	Count(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id string, outcome domain.Outcome) (domain.Market, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

// marketView is the JSON representation of a market, including the derived
// implied probabilities.
type marketView struct {
	ID             string     `json:"id"`
	Question       string     `json:"question"`
	Slug           string     `json:"slug"`
	YesShares      float64    `json:"yes_shares"`
	NoShares       float64    `json:"no_shares"`
	YesProbability float64    `json:"yes_probability"`
	NoProbability  float64    `json:"no_probability"`
	Liquidity      float64    `json:"liquidity"`
	Volume         float64    `json:"volume"`
	Status         string     `json:"status"`
	Outcome        string     `json:"outcome"`
	CreatedBy      string     `json:"created_by,omitempty"`
	ClosesAt       *time.Time `json:"closes_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toMarketView(m domain.Market) marketView {
	return marketView{
		ID:             m.ID,
		Question:       m.Question,
		Slug:           m.Slug,
		YesShares:      m.YesShares,
		NoShares:       m.NoShares,
		YesProbability: m.YesProbability(),
		NoProbability:  m.NoProbability(),
		Liquidity:      m.Liquidity,
		Volume:         m.Volume,
		Status:         string(m.Status),
		Outcome:        string(m.Outcome),
		CreatedBy:      m.CreatedBy,
		ClosesAt:       m.ClosesAt,
		ResolvedAt:     m.ResolvedAt,
		CreatedAt:      m.CreatedAt,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int64        `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets with pagination. Pass ?status=resolved for
// settled markets; the default is active markets.
// GET /api/markets?status=active&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		markets []domain.Market
		err     error
	)
	if r.URL.Query().Get("status") == "resolved" {
		markets, err = h.markets.ListResolved(r.Context(), opts)
	} else {
		markets, err = h.markets.ListActive(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, toMarketView(m))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// createMarketRequest is the body for market creation.
type createMarketRequest struct {
	Question  string     `json:"question"`
	CreatedBy string     `json:"created_by"`
	ClosesAt  *time.Time `json:"closes_at"`
}

// CreateMarket opens a new market seeded at 50/50.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), req.Question, req.CreatedBy, req.ClosesAt)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "create market failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, toMarketView(m))
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, toMarketView(m))
}

// GetMarketBySlug returns a single market by its URL slug.
// GET /api/markets/slug/{slug}
func (h *MarketHandler) GetMarketBySlug(w http.ResponseWriter, r *http.Request) {
	slug := pathParam(r, "slug")
	if slug == "" {
		writeError(w, http.StatusBadRequest, "missing market slug")
		return
	}

	m, err := h.markets.GetMarketBySlug(r.Context(), slug)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "get market by slug failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, toMarketView(m))
}

// resolveMarketRequest is the body for market resolution.
type resolveMarketRequest struct {
	Outcome string `json:"outcome"`
}

// ResolveMarket settles a market. Winning shares pay out $1 each.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req resolveMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome := domain.Outcome(req.Outcome)
	if outcome != domain.OutcomeYes && outcome != domain.OutcomeNo {
		writeError(w, http.StatusBadRequest, "outcome must be yes or no")
		return
	}

	m, err := h.markets.Resolve(r.Context(), id, outcome)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "resolve market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to resolve market")
		return
	}

	writeJSON(w, http.StatusOK, toMarketView(m))
}
