package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/babylonsim/babylond/internal/domain"
)

// PerpService defines the methods the perp handler requires from the service
// layer.
type PerpService interface {
	ListPerps(ctx context.Context) ([]domain.Perp, error)
	GetPerp(ctx context.Context, ticker string) (domain.Perp, error)
}

// PerpHandler serves the simulated perpetual ticker endpoints.
type PerpHandler struct {
	perps  PerpService
	logger *slog.Logger
}

// NewPerpHandler creates a PerpHandler with the given service and logger.
func NewPerpHandler(perps PerpService, logger *slog.Logger) *PerpHandler {
	return &PerpHandler{
		perps:  perps,
		logger: logHandler(logger, "perp"),
	}
}

// perpView is the JSON representation of a perp ticker, including the
// derived 24h change.
type perpView struct {
	Ticker    string    `json:"ticker"`
	Name      string    `json:"name"`
	MarkPrice float64   `json:"mark_price"`
	OpenPrice float64   `json:"open_price"`
	Change24h float64   `json:"change_24h"`
	Sentiment string    `json:"sentiment"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPerpView(p domain.Perp) perpView {
	return perpView{
		Ticker:    p.Ticker,
		Name:      p.Name,
		MarkPrice: p.MarkPrice,
		OpenPrice: p.OpenPrice,
		Change24h: p.Change24h(),
		Sentiment: p.Sentiment,
		UpdatedAt: p.UpdatedAt,
	}
}

// ListPerps returns all perp tickers.
// GET /api/perps
func (h *PerpHandler) ListPerps(w http.ResponseWriter, r *http.Request) {
	perps, err := h.perps.ListPerps(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list perps failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list perps")
		return
	}

	views := make([]perpView, 0, len(perps))
	for _, p := range perps {
		views = append(views, toPerpView(p))
	}

	writeJSON(w, http.StatusOK, map[string]any{"perps": views})
}

// GetPerp returns a single perp ticker.
// GET /api/perps/{ticker}
func (h *PerpHandler) GetPerp(w http.ResponseWriter, r *http.Request) {
	ticker := pathParam(r, "ticker")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "missing ticker")
		return
	}

	p, err := h.perps.GetPerp(r.Context(), ticker)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "get perp failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get perp")
		return
	}

	writeJSON(w, http.StatusOK, toPerpView(p))
}
