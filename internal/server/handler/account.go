package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// AccountService is the balance ledger as seen by the API.
type AccountService interface {
	GetOrCreate(ctx context.Context, address string) (domain.UserAccount, error)
	Purchases(ctx context.Context, address string) ([]domain.Purchase, error)
}

// AccountResetter replaces account state through the purchase orchestrator,
// so neither call interleaves with a running purchase.
type AccountResetter interface {
	ResetBalance(ctx context.Context, address string) (domain.UserAccount, error)
	Refresh(ctx context.Context, address string) (domain.UserAccount, error)
}

type AccountHandler struct {
	accounts AccountService
	resetter AccountResetter
	logger   *slog.Logger
}

func NewAccountHandler(accounts AccountService, resetter AccountResetter, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, resetter: resetter, logger: logger}
}

// GetAccount returns the account, creating it with the initial balance on
// first contact.
// GET /api/accounts/{address}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	acct, err := h.accounts.GetOrCreate(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GET /api/accounts/{address}/purchases
func (h *AccountHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	purchases, err := h.accounts.Purchases(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if purchases == nil {
		purchases = []domain.Purchase{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases, "total": len(purchases)})
}

// POST /api/accounts/{address}/reset
func (h *AccountHandler) Reset(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	acct, err := h.resetter.ResetBalance(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: balance reset", slog.String("address", addr))
	writeJSON(w, http.StatusOK, acct)
}

// Refresh reloads the account from storage once pending writes land.
// POST /api/accounts/{address}/refresh
func (h *AccountHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	acct, err := h.resetter.Refresh(r.Context(), addr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
