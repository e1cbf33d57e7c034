package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/service"
)

// Buyer executes purchases.
type Buyer interface {
	Buy(ctx context.Context, req service.BuyRequest) (service.Receipt, error)
}

// PurchaseHandler serves the buy endpoint.
type PurchaseHandler struct {
	buyer  Buyer
	logger *slog.Logger
}

func NewPurchaseHandler(buyer Buyer, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{buyer: buyer, logger: logger}
}

type buyRequest struct {
	Address  string  `json:"address" validate:"required,wallet"`
	MarketID int64   `json:"marketId" validate:"gt=0"`
	Option   string  `json:"option" validate:"required,oneof=A B"`
	Amount   float64 `json:"amount" validate:"gt=0"`
}

// Buy places a purchase. The receipt carries success=false with the error
// message when the purchase is rejected.
// POST /api/purchases
func (h *PurchaseHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBuyFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := h.buyer.Buy(r.Context(), service.BuyRequest{
		Address:  req.Address,
		MarketID: req.MarketID,
		Option:   domain.Option(req.Option),
		Amount:   req.Amount,
	})
	if err != nil {
		status, msg := domainStatus(err)
		writeBuyFailure(w, status, msg)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func writeBuyFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
