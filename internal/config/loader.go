package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load starts from Defaults, decodes the TOML file at path on top, loads a
// .env file if present and applies KINIELA_* overrides. A missing config
// file is not an error: defaults plus environment are enough to run. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// engine
	setFloat64(&cfg.Engine.InitialBalance, "KINIELA_ENGINE_INITIAL_BALANCE")
	setFloat64(&cfg.Engine.InitialPool, "KINIELA_ENGINE_INITIAL_POOL")
	setFloat64(&cfg.Engine.FeeRate, "KINIELA_ENGINE_FEE_RATE")
	setFloat64(&cfg.Engine.MonthlyGoal, "KINIELA_ENGINE_MONTHLY_GOAL")
	setStr(&cfg.Engine.ImpactScope, "KINIELA_ENGINE_IMPACT_SCOPE")
	setBool(&cfg.Engine.AutoClose, "KINIELA_ENGINE_AUTO_CLOSE")
	setDuration(&cfg.Engine.SweepInterval, "KINIELA_ENGINE_SWEEP_INTERVAL")

	// storage
	setStr(&cfg.Storage.Backend, "KINIELA_STORAGE_BACKEND")
	setStr(&cfg.Storage.FileDir, "KINIELA_STORAGE_FILE_DIR")
	setStr(&cfg.Storage.SQLitePath, "KINIELA_STORAGE_SQLITE_PATH")
	setInt(&cfg.Storage.WriteRetryAttempts, "KINIELA_STORAGE_WRITE_RETRY_ATTEMPTS")
	setDuration(&cfg.Storage.WriteRetryBackoff, "KINIELA_STORAGE_WRITE_RETRY_BACKOFF")

	// supabase
	setStr(&cfg.Supabase.DSN, "KINIELA_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL")
	setStr(&cfg.Supabase.Host, "KINIELA_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "KINIELA_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "KINIELA_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "KINIELA_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "KINIELA_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "KINIELA_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "KINIELA_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "KINIELA_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "KINIELA_SUPABASE_RUN_MIGRATIONS")

	// redis
	setBool(&cfg.Redis.Enabled, "KINIELA_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KINIELA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KINIELA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KINIELA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KINIELA_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "KINIELA_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "KINIELA_REDIS_KEY_PREFIX")
	setBool(&cfg.Redis.MirrorStreams, "KINIELA_REDIS_MIRROR_STREAMS")

	// s3
	setBool(&cfg.S3.Enabled, "KINIELA_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KINIELA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KINIELA_S3_REGION")
	setStr(&cfg.S3.Bucket, "KINIELA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KINIELA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KINIELA_S3_SECRET_KEY")
	setStr(&cfg.S3.Prefix, "KINIELA_S3_PREFIX")
	setBool(&cfg.S3.UseSSL, "KINIELA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KINIELA_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "KINIELA_S3_ARCHIVE_INTERVAL")

	// server
	setInt(&cfg.Server.Port, "KINIELA_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "KINIELA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "KINIELA_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "KINIELA_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "KINIELA_SERVER_RATE_LIMIT_WINDOW")

	// notify
	setStr(&cfg.Notify.TelegramToken, "KINIELA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KINIELA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KINIELA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KINIELA_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "KINIELA_MODE")
	setStr(&cfg.LogLevel, "KINIELA_LOG_LEVEL")
}

// Typed env helpers. Each only mutates the target when the variable is set
// to a parseable, non-empty value.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = n
	}
}

func setFloat64(dst *float64, key string) {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		*dst = f
	}
}

func setBool(dst *bool, key string) {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = b
	}
}

func setDuration(dst *duration, key string) {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		dst.Duration = d
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
