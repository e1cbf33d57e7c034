// Package server exposes the engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/metrics"
	"github.com/alanyoungcy/kiniela/internal/server/handler"
	"github.com/alanyoungcy/kiniela/internal/server/middleware"
	"github.com/alanyoungcy/kiniela/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects admin and reset routes. Empty disables auth.
	APIKey          string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Purchases *handler.PurchaseHandler
	Accounts  *handler.AccountHandler
	Impact    *handler.ImpactHandler
}

// Deps are optional collaborators; nil fields disable the feature.
type Deps struct {
	Hub         *ws.Hub
	RateLimiter domain.RateLimiter
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTP
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(cfg Config, h Handlers, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(cfg, h, deps, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter registers every route and wraps the mux in the middleware
// chain. The metrics middleware sits innermost so it sees the matched
// route pattern.
func NewRouter(cfg Config, h Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.APIKey)
	protect := func(f http.HandlerFunc) http.Handler { return admin(f) }

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/stats", h.Markets.Stats)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/quote", h.Markets.Quote)
	mux.Handle("POST /api/markets/{id}/close", protect(h.Markets.Close))
	mux.Handle("POST /api/markets/{id}/resolve", protect(h.Markets.Resolve))

	mux.HandleFunc("POST /api/purchases", h.Purchases.Buy)

	mux.HandleFunc("GET /api/accounts/{address}", h.Accounts.GetAccount)
	mux.HandleFunc("GET /api/accounts/{address}/purchases", h.Accounts.ListPurchases)
	mux.HandleFunc("POST /api/accounts/{address}/refresh", h.Accounts.Refresh)
	mux.Handle("POST /api/accounts/{address}/reset", protect(h.Accounts.Reset))

	mux.HandleFunc("GET /api/impact", h.Impact.Stats)
	mux.HandleFunc("GET /api/impact/causes", h.Impact.Causes)
	mux.HandleFunc("GET /api/impact/donations", h.Impact.Donations)
	mux.Handle("POST /api/impact/reset", protect(h.Impact.Reset))

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var out http.Handler = mux
	out = deps.HTTPMetrics.Middleware(out)
	out = middleware.RateLimit(deps.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(out)
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start blocks until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
