package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/kiniela/internal/blob/s3"
	"github.com/alanyoungcy/kiniela/internal/cache/local"
	"github.com/alanyoungcy/kiniela/internal/cache/redis"
	"github.com/alanyoungcy/kiniela/internal/config"
	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/metrics"
	"github.com/alanyoungcy/kiniela/internal/notify"
	"github.com/alanyoungcy/kiniela/internal/persist"
	"github.com/alanyoungcy/kiniela/internal/pricing"
	"github.com/alanyoungcy/kiniela/internal/server/handler"
	"github.com/alanyoungcy/kiniela/internal/service"
	"github.com/alanyoungcy/kiniela/internal/store/file"
	"github.com/alanyoungcy/kiniela/internal/store/postgres"
	"github.com/alanyoungcy/kiniela/internal/store/sqlite"
)

// Dependencies bundles everything the application modes need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Stores domain.Stores

	// Coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil unless S3 is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Engine
	Balances  *service.BalanceService
	Markets   *service.MarketService
	Impact    *service.ImpactService
	Purchases *service.PurchaseService
	Queues    []*persist.Queue

	// Observability
	Registry    *prometheus.Registry
	Metrics     *metrics.Engine
	HTTPMetrics *metrics.HTTP
	Checks      map[string]handler.Check

	Notifier *notify.Notifier
}

// needsS3 reports whether object storage must be wired.
func needsS3(cfg *config.Config) bool {
	return cfg.S3.Enabled || cfg.Mode == "snapshot"
}

// Wire constructs all concrete dependency implementations from the given
// configuration. The returned cleanup drains the persistence queues before
// closing the connections they write to.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Storage backend ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Stores = pgClient.Stores()
		deps.Checks["postgres"] = pgClient.Ping

	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Stores = db.Stores()
		deps.Checks["sqlite"] = db.Ping

	default:
		fs, err := file.Open(cfg.Storage.FileDir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: file store: %w", err)
		}
		deps.Stores = fs.Stores()
	}

	// --- Redis, or in-process coordination when disabled ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen, cfg.Redis.MirrorStreams)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "redis disabled; using in-process bus and locks")
		deps.LockManager = local.NewLockManager()
		deps.SignalBus = local.NewBus(int(cfg.Redis.StreamMaxLen))
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewSnapshotArchiver(deps.BlobWriter, deps.Stores, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.NewEngine(deps.Registry)
	deps.HTTPMetrics = metrics.NewHTTP(deps.Registry)

	// --- Engine services ---
	newQueue := func(name string) *persist.Queue {
		q := persist.New(persist.Options{
			Name:         name,
			Buffer:       cfg.Storage.QueueBuffer,
			MaxAttempts:  cfg.Storage.WriteRetryAttempts,
			Backoff:      cfg.Storage.WriteRetryBackoff.Duration,
			WriteTimeout: cfg.Storage.WriteTimeout.Duration,
			Logger:       logger,
			Observer:     deps.Metrics,
		})
		deps.Queues = append(deps.Queues, q)
		return q
	}

	audit := deps.Stores.Audit
	deps.Balances = service.NewBalanceService(deps.Stores.Accounts, newQueue("accounts"), audit, cfg.Engine.InitialBalance, logger)
	deps.Markets = service.NewMarketService(deps.Stores.Markets, newQueue("markets"),
		pricing.NewCurve(cfg.Engine.InitialPool), deps.SignalBus, audit, logger)
	deps.Impact = service.NewImpactService(deps.Stores.Impact, newQueue("impact"), service.ImpactConfig{
		FeeRate:     cfg.Engine.FeeRate,
		MonthlyGoal: cfg.Engine.MonthlyGoal,
		Causes:      cfg.CauseList(),
		ScopeMode:   cfg.Engine.ImpactScope,
	}, deps.SignalBus, audit, logger)
	deps.Purchases = service.NewPurchaseService(deps.Balances, deps.Markets, deps.Impact,
		deps.LockManager, deps.SignalBus, audit, deps.Metrics, logger)

	// Queues close before the backends: registered after them, run first.
	closers = append(closers, func() {
		for _, q := range deps.Queues {
			q.Close()
		}
	})

	if err := openServices(ctx, cfg, deps); err != nil {
		cleanup()
		return nil, nil, err
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// openServices loads persisted state into the in-memory services and seeds
// configured markets.
func openServices(ctx context.Context, cfg *config.Config, deps *Dependencies) error {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := deps.Balances.Open(loadCtx); err != nil {
		return fmt.Errorf("wire: open balances: %w", err)
	}
	if err := deps.Markets.Open(loadCtx, cfg.SeedMarkets()); err != nil {
		return fmt.Errorf("wire: open markets: %w", err)
	}
	if err := deps.Impact.Open(loadCtx); err != nil {
		return fmt.Errorf("wire: open impact: %w", err)
	}
	return nil
}
