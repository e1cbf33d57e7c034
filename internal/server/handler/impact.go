package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// ImpactReader is the read side of the impact ledger.
type ImpactReader interface {
	ScopeFor(marketID int64) string
	Stats(ctx context.Context, scope string) domain.ImpactStats
	Causes(ctx context.Context, scope string) []domain.Cause
	Donations(ctx context.Context, scope string, opts domain.ListOpts) []domain.Donation
}

type ImpactResetter interface {
	ResetImpact(ctx context.Context, scope string) error
}

type ImpactHandler struct {
	impact   ImpactReader
	resetter ImpactResetter
	logger   *slog.Logger
}

func NewImpactHandler(impact ImpactReader, resetter ImpactResetter, logger *slog.Logger) *ImpactHandler {
	return &ImpactHandler{impact: impact, resetter: resetter, logger: logger}
}

// scope resolves ?scope= or ?marketId=, defaulting to the global ledger.
func (h *ImpactHandler) scope(r *http.Request) string {
	q := r.URL.Query()
	if s := q.Get("scope"); s != "" {
		return s
	}
	if id, err := strconv.ParseInt(q.Get("marketId"), 10, 64); err == nil {
		return h.impact.ScopeFor(id)
	}
	return domain.ImpactScopeGlobal
}

// GET /api/impact
func (h *ImpactHandler) Stats(w http.ResponseWriter, r *http.Request) {
	scope := h.scope(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"scope": scope,
		"stats": h.impact.Stats(r.Context(), scope),
	})
}

// GET /api/impact/causes
func (h *ImpactHandler) Causes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"causes": h.impact.Causes(r.Context(), h.scope(r))})
}

// GET /api/impact/donations?limit=&offset=
func (h *ImpactHandler) Donations(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	donations := h.impact.Donations(r.Context(), h.scope(r), opts)
	if donations == nil {
		donations = []domain.Donation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"donations": donations,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}

// POST /api/impact/reset
func (h *ImpactHandler) Reset(w http.ResponseWriter, r *http.Request) {
	scope := h.scope(r)
	if err := h.resetter.ResetImpact(r.Context(), scope); err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: impact reset", slog.String("scope", scope))
	writeJSON(w, http.StatusOK, map[string]any{
		"scope": scope,
		"stats": h.impact.Stats(r.Context(), scope),
	})
}
