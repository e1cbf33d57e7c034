package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	markets := cfg.SeedMarkets()
	require.Len(t, markets, 6)
	assert.Equal(t, int64(1), markets[0].ID)
	assert.Equal(t, domain.MarketStateUninitialized, markets[0].State)
	assert.Equal(t, time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC), markets[0].CloseTime)

	causes := cfg.CauseList()
	require.Len(t, causes, 2)
	assert.Equal(t, "education", causes[0].ID)
	assert.Zero(t, causes[0].TotalDonated)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Engine.FeeRate = 0.2
	cfg.Engine.ImpactScope = "user"
	cfg.Storage.Backend = "mongo"
	cfg.Markets = append(cfg.Markets, MarketConfig{ID: 1, Question: "dup", OptionA: "a", OptionB: "b", EndTime: "soon"})

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		"fee percentages sum to 10",
		"impact_scope",
		`unknown backend "mongo"`,
		"duplicate id 1",
		`end_time "soon"`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateConditionalSections(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "postgres"
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	cfg.Mode = "snapshot"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supabase: host")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "engine"

[engine]
initial_balance = 250
fee_rate = 0.04

[[causes]]
id = "only"
name = "Only cause"
fee_percentage = 4

[storage]
backend = "sqlite"
write_retry_backoff = "250ms"
`), 0o600))

	t.Setenv("KINIELA_STORAGE_SQLITE_PATH", "/tmp/k.db")
	t.Setenv("KINIELA_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("KINIELA_ENGINE_MONTHLY_GOAL", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, 250.0, cfg.Engine.InitialBalance)
	assert.Equal(t, 100.0, cfg.Engine.InitialPool, "unset keys keep defaults")
	assert.Equal(t, 500.0, cfg.Engine.MonthlyGoal, "unparseable env is ignored")
	require.Len(t, cfg.Causes, 1)
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.WriteRetryBackoff.Duration)
	assert.Equal(t, "/tmp/k.db", cfg.Storage.SQLitePath)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
}

func TestLoad_BadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = ["), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.DSN = "postgres://u:p@h/db"
	cfg.Server.APIKey = "k"
	cfg.S3.SecretKey = "s"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Supabase.DSN)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.S3.SecretKey)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "postgres://u:p@h/db", cfg.Supabase.DSN)

	out.Notify.Events[0] = "changed"
	assert.False(t, strings.EqualFold(cfg.Notify.Events[0], "changed"))
}
