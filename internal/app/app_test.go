package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kiniela/internal/config"
	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/service"
)

const trader = "0x2222222222222222222222222222222222222222"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.FileDir = t.TempDir()
	cfg.Mode = "engine"
	return &cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWire_FileBackendPersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	deps, cleanup, err := Wire(ctx, cfg, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Archiver)
	assert.Len(t, deps.Markets.List(ctx, ""), len(cfg.Markets))

	receipt, err := deps.Purchases.Buy(ctx, service.BuyRequest{
		Address:  trader,
		MarketID: 1,
		Option:   domain.OptionA,
		Amount:   20,
	})
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.InDelta(t, 980, receipt.Balance, 1e-9)
	cleanup()

	deps, cleanup, err = Wire(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	bal, err := deps.Balances.Balance(ctx, trader)
	require.NoError(t, err)
	assert.InDelta(t, 980, bal, 1e-9)

	snap, err := deps.Markets.Get(ctx, 1, trader)
	require.NoError(t, err)
	assert.InDelta(t, 220, snap.TotalFunds, 1e-9)
	assert.InDelta(t, 2, deps.Impact.Stats(ctx, domain.ImpactScopeGlobal).TotalDonated, 1e-9)
}

func TestRun_EngineModeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a := New(cfg, quietLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine mode did not stop")
	}
}

func TestRun_UnknownMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "trade"
	a := New(cfg, quietLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}
