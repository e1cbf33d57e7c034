// Package config defines the kiniela service configuration and its
// validation.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by KINIELA_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Causes   []CauseConfig  `toml:"causes"`
	Markets  []MarketConfig `toml:"markets"`
	Storage  StorageConfig  `toml:"storage"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the market and impact parameters.
type EngineConfig struct {
	InitialBalance float64 `toml:"initial_balance"`
	InitialPool    float64 `toml:"initial_pool"`
	FeeRate        float64 `toml:"fee_rate"`
	MonthlyGoal    float64 `toml:"monthly_goal"`
	// ImpactScope is "global" (one ledger) or "market" (one per market).
	ImpactScope   string   `toml:"impact_scope"`
	AutoClose     bool     `toml:"auto_close"`
	SweepInterval duration `toml:"sweep_interval"`
}

// CauseConfig describes one beneficiary.
type CauseConfig struct {
	ID            string  `toml:"id"`
	Name          string  `toml:"name"`
	Description   string  `toml:"description"`
	FeePercentage float64 `toml:"fee_percentage"`
	Website       string  `toml:"website"`
	Color         string  `toml:"color"`
}

// MarketConfig seeds one market. EndTime accepts 2006-01-02 or RFC 3339.
type MarketConfig struct {
	ID       int64  `toml:"id"`
	Question string `toml:"question"`
	OptionA  string `toml:"option_a"`
	OptionB  string `toml:"option_b"`
	EndTime  string `toml:"end_time"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	// Backend is "file", "postgres" or "sqlite".
	Backend            string   `toml:"backend"`
	FileDir            string   `toml:"file_dir"`
	SQLitePath         string   `toml:"sqlite_path"`
	QueueBuffer        int      `toml:"queue_buffer"`
	WriteRetryAttempts int      `toml:"write_retry_attempts"`
	WriteRetryBackoff  duration `toml:"write_retry_backoff"`
	WriteTimeout       duration `toml:"write_timeout"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the engine
// uses in-process locks and bus.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
	// MirrorStreams also appends every published event to a durable stream.
	MirrorStreams bool `toml:"mirror_streams"`
}

// S3Config holds snapshot storage parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	Prefix          string   `toml:"prefix"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards admin and reset routes; empty disables auth.
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns the built-in configuration: the demo market list, the
// two default causes and local file storage.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			InitialBalance: 1000,
			InitialPool:    100,
			FeeRate:        0.10,
			MonthlyGoal:    500,
			ImpactScope:    "global",
			SweepInterval:  duration{time.Minute},
		},
		Causes: []CauseConfig{
			{
				ID:            "education",
				Name:          "Educación Digital",
				Description:   "Llevando tecnología y educación digital a comunidades rurales de México",
				FeePercentage: 5,
				Website:       "https://educaciondigital.mx",
				Color:         "#3B82F6",
			},
			{
				ID:            "environment",
				Name:          "Medio Ambiente",
				Description:   "Proyectos de reforestación y conservación ambiental en Latinoamérica",
				FeePercentage: 5,
				Website:       "https://bosquesparatodos.org",
				Color:         "#22C55E",
			},
		},
		Markets: []MarketConfig{
			{1, "¿Bitcoin llegará a $100,000 USD antes del 31 de diciembre 2024?", "Sí llegará", "No llegará", "2024-12-31"},
			{2, "¿Ethereum tendrá más de $5,000 USD en 2024?", "Sí tendrá", "No tendrá", "2024-12-31"},
			{3, "¿Monad mainnet se lanzará en Q1 2025?", "Sí se lanzará", "No se lanzará", "2025-03-31"},
			{4, "¿El precio de MONAD superará $10 USD en 2024?", "Sí superará", "No superará", "2024-12-31"},
			{5, "¿Habrá una nueva criptomoneda en el top 10 en 2025?", "Sí habrá", "No habrá", "2025-12-31"},
			{6, "¿Solana superará a Ethereum en transacciones diarias en 2025?", "Sí superará", "No superará", "2025-12-31"},
		},
		Storage: StorageConfig{
			Backend:            "file",
			FileDir:            "data",
			SQLitePath:         "kiniela.db",
			QueueBuffer:        256,
			WriteRetryAttempts: 3,
			WriteRetryBackoff:  duration{100 * time.Millisecond},
			WriteTimeout:       duration{10 * time.Second},
		},
		Supabase: SupabaseConfig{
			Port:         5432,
			Database:     "postgres",
			User:         "postgres",
			SSLMode:      "require",
			PoolMaxConns: 10,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "kiniela:",
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:          "us-east-1",
			UseSSL:          true,
			ForcePathStyle:  true,
			ArchiveInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:8081"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{domain.EventMarketBootstrapped, domain.EventMarketResolved, domain.EventGoalReached},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":   true,
	"engine":   true,
	"snapshot": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"file":     true,
	"postgres": true,
	"sqlite":   true,
}

// Validate checks every section and reports all problems in one error.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, engine, snapshot)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	e := c.Engine
	if !(e.InitialBalance > 0) {
		errs = append(errs, "engine: initial_balance must be > 0")
	}
	if !(e.InitialPool > 0) {
		errs = append(errs, "engine: initial_pool must be > 0")
	}
	if e.FeeRate < 0 || e.FeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("engine: fee_rate must be in [0, 1), got %v", e.FeeRate))
	}
	if e.MonthlyGoal < 0 {
		errs = append(errs, "engine: monthly_goal must be >= 0")
	}
	if e.ImpactScope != "global" && e.ImpactScope != "market" {
		errs = append(errs, fmt.Sprintf("engine: impact_scope must be global or market, got %q", e.ImpactScope))
	}
	if e.AutoClose && e.SweepInterval.Duration <= 0 {
		errs = append(errs, "engine: sweep_interval must be > 0 when auto_close is set")
	}

	if len(c.Causes) == 0 {
		errs = append(errs, "causes: at least one cause is required")
	}
	causeIDs := make(map[string]bool, len(c.Causes))
	var feeSum float64
	for i, cause := range c.Causes {
		if cause.ID == "" {
			errs = append(errs, fmt.Sprintf("causes[%d]: id must not be empty", i))
		} else if causeIDs[cause.ID] {
			errs = append(errs, fmt.Sprintf("causes[%d]: duplicate id %q", i, cause.ID))
		}
		causeIDs[cause.ID] = true
		if cause.FeePercentage < 0 {
			errs = append(errs, fmt.Sprintf("causes[%d]: fee_percentage must be >= 0", i))
		}
		feeSum += cause.FeePercentage
	}
	if len(c.Causes) > 0 && math.Abs(feeSum-e.FeeRate*100) > 1e-9 {
		errs = append(errs, fmt.Sprintf("causes: fee percentages sum to %v, want fee_rate*100 = %v", feeSum, e.FeeRate*100))
	}

	marketIDs := make(map[int64]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.ID <= 0 {
			errs = append(errs, fmt.Sprintf("markets[%d]: id must be > 0", i))
		} else if marketIDs[m.ID] {
			errs = append(errs, fmt.Sprintf("markets[%d]: duplicate id %d", i, m.ID))
		}
		marketIDs[m.ID] = true
		if strings.TrimSpace(m.Question) == "" || m.OptionA == "" || m.OptionB == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: question, option_a and option_b are required", i))
		}
		if _, err := parseEndTime(m.EndTime); err != nil {
			errs = append(errs, fmt.Sprintf("markets[%d]: %v", i, err))
		}
	}

	s := c.Storage
	switch {
	case !validBackends[s.Backend]:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: file, postgres, sqlite)", s.Backend))
	case s.Backend == "file" && s.FileDir == "":
		errs = append(errs, "storage: file_dir must not be empty")
	case s.Backend == "sqlite" && s.SQLitePath == "":
		errs = append(errs, "storage: sqlite_path must not be empty")
	case s.Backend == "postgres":
		if strings.TrimSpace(c.Supabase.DSN) == "" && c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if s.WriteRetryAttempts < 1 {
		errs = append(errs, "storage: write_retry_attempts must be >= 1")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled || mode == "snapshot" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if mode == "server" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SeedMarkets converts the configured market list into domain markets.
// Call after Validate.
func (c *Config) SeedMarkets() []domain.Market {
	out := make([]domain.Market, 0, len(c.Markets))
	for _, m := range c.Markets {
		end, _ := parseEndTime(m.EndTime)
		out = append(out, domain.Market{
			ID:        m.ID,
			Question:  m.Question,
			OptionA:   m.OptionA,
			OptionB:   m.OptionB,
			CloseTime: end,
			State:     domain.MarketStateUninitialized,
		})
	}
	return out
}

// CauseList converts the configured causes with zero totals.
func (c *Config) CauseList() []domain.Cause {
	out := make([]domain.Cause, 0, len(c.Causes))
	for _, cause := range c.Causes {
		out = append(out, domain.Cause{
			ID:            cause.ID,
			Name:          cause.Name,
			Description:   cause.Description,
			FeePercentage: cause.FeePercentage,
			Website:       cause.Website,
			Color:         cause.Color,
		})
	}
	return out
}

// parseEndTime accepts an empty string (no close time), a date or an
// RFC 3339 timestamp. Dates close at the end of that UTC day.
func parseEndTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("end_time %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return d.Add(24*time.Hour - time.Second), nil
}
