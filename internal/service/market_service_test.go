package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

func TestMarketService_OpenSeedsAndKeepsStoredState(t *testing.T) {
	e := newTestEngine(t, seedMarkets())
	ctx := context.Background()

	list := e.markets.List(ctx, "")
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, "active", list[0].Status)
	assert.Equal(t, domain.MarketStateUninitialized, list[0].State)
	assert.Equal(t, 0.5, list[0].PriceA)

	_, _, err := e.markets.ApplyPurchase(ctx, 1, "alice", domain.OptionA, 10)
	require.NoError(t, err)
	e.flush(t)

	reopened := NewMarketService(e.marketRepo, e.queues[1], e.markets.curve, nil, nil, discardLogger())
	require.NoError(t, reopened.Open(ctx, seedMarkets()))
	snap, err := reopened.Get(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateActive, snap.State)
	assert.InDelta(t, 110, snap.TotalFunds, 1e-9)
	assert.InDelta(t, 20, snap.UserSharesA, 1e-9)
}

func TestMarketService_GetUnknown(t *testing.T) {
	e := newTestEngine(t, seedMarkets())
	_, err := e.markets.Get(context.Background(), 99, "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketService_CloseAndResolve(t *testing.T) {
	e := newTestEngine(t, seedMarkets())
	ctx := context.Background()

	_, err := e.markets.Resolve(ctx, 1, domain.OptionA)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	snap, err := e.markets.Close(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "closed", snap.Status)

	_, err = e.markets.Close(ctx, 1)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = e.markets.Resolve(ctx, 1, domain.Option("Z"))
	require.ErrorIs(t, err, domain.ErrInvalidOption)

	snap, err = e.markets.Resolve(ctx, 1, domain.OptionB)
	require.NoError(t, err)
	assert.Equal(t, "resolved", snap.Status)
	assert.Equal(t, domain.OptionB, snap.Winner)

	active := e.markets.ListActive(ctx, "")
	require.Len(t, active, 1)
	assert.Equal(t, int64(2), active[0].ID)
	assert.Equal(t, 2, e.bus.count(domain.ChannelMarkets))
}

func TestMarketService_SweepExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seeds := seedMarkets()
	seeds[0].CloseTime = now.Add(-time.Hour)
	seeds[1].CloseTime = now.Add(time.Hour)
	e := newTestEngine(t, seeds)

	n, err := e.markets.SweepExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := e.markets.Get(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateClosed, snap.State)
}

func TestMarketService_Stats(t *testing.T) {
	e := newTestEngine(t, seedMarkets())
	ctx := context.Background()

	_, _, err := e.markets.ApplyPurchase(ctx, 1, "alice", domain.OptionA, 10)
	require.NoError(t, err)
	_, _, err = e.markets.ApplyPurchase(ctx, 2, "bob", domain.OptionB, 20)
	require.NoError(t, err)

	st := e.markets.Stats(ctx, "alice")
	assert.Equal(t, 2, st.TotalMarkets)
	assert.Equal(t, 2, st.ActiveMarkets)
	assert.InDelta(t, 110+120, st.TotalVolume, 1e-9)
	assert.InDelta(t, 10, st.UserTotalInvested, 1e-9)
	// 20 shares of A at 20/220 pay 220, minus 10 invested.
	assert.InDelta(t, 210, st.UserPotentialWinnings, 1e-9)
}

func TestMarketService_QuoteDoesNotMutate(t *testing.T) {
	e := newTestEngine(t, seedMarkets())
	ctx := context.Background()

	fill, after, err := e.markets.Quote(ctx, 1, domain.OptionA, 10)
	require.NoError(t, err)
	assert.True(t, fill.Bootstrap)
	assert.InDelta(t, 20, fill.Shares, 1e-9)
	assert.InDelta(t, 20.0/220.0, after.Price(domain.OptionA), 1e-9)

	snap, err := e.markets.Get(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateUninitialized, snap.State)
	assert.Zero(t, snap.TotalFunds)
}
