package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kiniela/internal/notify"
	"github.com/alanyoungcy/kiniela/internal/server"
	"github.com/alanyoungcy/kiniela/internal/server/handler"
	"github.com/alanyoungcy/kiniela/internal/server/ws"
)

// ServerMode runs the engine background loops together with the HTTP and
// WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering server mode")

	g, gctx := errgroup.WithContext(ctx)
	a.startBackground(gctx, g, deps)
	a.startHTTPServer(gctx, g, deps)

	return a.wait(ctx, g, deps)
}

// EngineMode runs the background loops without an HTTP surface. It is used
// when another process serves the API against the same Redis bus.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering engine mode")

	g, gctx := errgroup.WithContext(ctx)
	a.startBackground(gctx, g, deps)
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	return a.wait(ctx, g, deps)
}

// SnapshotMode archives one snapshot of the persisted state and exits.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering snapshot mode")
	if deps.Archiver == nil {
		return errors.New("app: snapshot mode requires s3")
	}

	prefix, err := deps.Archiver.ArchiveSnapshot(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("app: snapshot: %w", err)
	}
	if deps.BlobReader != nil {
		ok, err := deps.BlobReader.Exists(ctx, prefix+"manifest.json")
		if err != nil {
			return fmt.Errorf("app: snapshot verify: %w", err)
		}
		if !ok {
			return fmt.Errorf("app: snapshot verify: manifest missing under %s", prefix)
		}
	}
	a.logger.InfoContext(ctx, "snapshot complete", slog.String("prefix", prefix))
	return nil
}

// wait blocks on the group and then drains the persistence queues so every
// accepted write reaches the backend before connections close. ctx is the
// caller's context, not the group's.
func (a *App) wait(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	for _, q := range deps.Queues {
		if ferr := q.Flush(flushCtx); ferr != nil {
			a.logger.WarnContext(flushCtx, "persist queue flush failed", slog.String("error", ferr.Error()))
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// startBackground adds the relay, sweeper and archiver loops to g.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		relay := notify.NewRelay(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	if a.cfg.Engine.AutoClose && a.cfg.Engine.SweepInterval.Duration > 0 {
		g.Go(func() error {
			return a.every(ctx, a.cfg.Engine.SweepInterval.Duration, func(ctx context.Context) {
				n, err := deps.Purchases.SweepExpired(ctx, time.Now().UTC())
				if err != nil {
					a.logger.WarnContext(ctx, "sweep expired markets failed", slog.String("error", err.Error()))
					return
				}
				if n > 0 {
					a.logger.InfoContext(ctx, "closed expired markets", slog.Int("count", n))
				}
			})
		})
	}

	if deps.Archiver != nil && a.cfg.S3.ArchiveInterval.Duration > 0 {
		g.Go(func() error {
			return a.every(ctx, a.cfg.S3.ArchiveInterval.Duration, func(ctx context.Context) {
				for _, q := range deps.Queues {
					if err := q.Flush(ctx); err != nil {
						a.logger.WarnContext(ctx, "archive: flush failed", slog.String("error", err.Error()))
						return
					}
				}
				if _, err := deps.Archiver.ArchiveSnapshot(ctx, time.Now().UTC()); err != nil {
					a.logger.ErrorContext(ctx, "archive: snapshot failed", slog.String("error", err.Error()))
				}
			})
		})
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.Server.ShutdownTimeout.Duration; d > 0 {
		return d
	}
	return 10 * time.Second
}

// every calls fn on each tick until ctx is done.
func (a *App) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// startHTTPServer adds the WebSocket hub and the HTTP server to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{StartedAt: time.Now().UTC()})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Markets:   handler.NewMarketHandler(deps.Markets, deps.Purchases, a.logger),
		Purchases: handler.NewPurchaseHandler(deps.Purchases, a.logger),
		Accounts:  handler.NewAccountHandler(deps.Balances, deps.Purchases, a.logger),
		Impact:    handler.NewImpactHandler(deps.Impact, deps.Purchases, a.logger),
	}, server.Deps{
		Hub:         hub,
		RateLimiter: deps.RateLimiter,
		Gatherer:    deps.Registry,
		HTTPMetrics: deps.HTTPMetrics,
	}, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
