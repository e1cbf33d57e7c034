package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// MarketReader is the read side of the market service.
type MarketReader interface {
	List(ctx context.Context, address string) []domain.MarketSnapshot
	Get(ctx context.Context, id int64, address string) (domain.MarketSnapshot, error)
	Stats(ctx context.Context, address string) domain.MarketStats
}

// MarketEngine groups the operations that go through the purchase
// orchestrator so they serialize with purchases.
type MarketEngine interface {
	Quote(ctx context.Context, marketID int64, option domain.Option, amount float64) (domain.Quote, error)
	CloseMarket(ctx context.Context, id int64) (domain.MarketSnapshot, error)
	ResolveMarket(ctx context.Context, id int64, winner domain.Option) (domain.MarketSnapshot, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets MarketReader
	engine  MarketEngine
	logger  *slog.Logger
}

func NewMarketHandler(markets MarketReader, engine MarketEngine, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, engine: engine, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.MarketSnapshot `json:"markets"`
	Total   int                     `json:"total"`
}

// ListMarkets returns every market with the caller's holdings.
// GET /api/markets?address=0x...
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	markets := h.markets.List(r.Context(), addr)
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Total: len(markets)})
}

// GET /api/markets/{id}?address=0x...
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	addr, ok := addressParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	m, err := h.markets.Get(r.Context(), id, addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GET /api/markets/stats?address=0x...
func (h *MarketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	writeJSON(w, http.StatusOK, h.markets.Stats(r.Context(), addr))
}

type quoteRequest struct {
	Option string  `json:"option" validate:"required,oneof=A B"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

// Quote previews a purchase without changing state.
// POST /api/markets/{id}/quote
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := h.engine.Quote(r.Context(), id, domain.Option(req.Option), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// POST /api/markets/{id}/close
func (h *MarketHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	m, err := h.engine.CloseMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: market closed", slog.Int64("market_id", id))
	writeJSON(w, http.StatusOK, m)
}

type resolveRequest struct {
	Winner string `json:"winner" validate:"required,oneof=A B"`
}

// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.engine.ResolveMarket(r.Context(), id, domain.Option(req.Winner))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: market resolved",
		slog.Int64("market_id", id),
		slog.String("winner", req.Winner),
	)
	writeJSON(w, http.StatusOK, m)
}
