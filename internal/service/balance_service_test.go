package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/persist"
)

func TestBalanceService_GetOrCreatePersistsInitialBalance(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	acct, err := e.balances.GetOrCreate(ctx, "0xAbC")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, acct.InitialBalance)
	assert.Equal(t, 1000.0, acct.CurrentBalance)
	assert.Empty(t, acct.Purchases)

	e.flush(t)
	stored, err := e.balanceRepo.Get(ctx, "0xAbC")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, stored.CurrentBalance)

	// Addresses are case-sensitive keys.
	_, err = e.balances.Get(ctx, "0xabc")
	require.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestBalanceService_DebitRejectsWithoutMutation(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.balances.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	_, err = e.balances.Debit(ctx, "alice", domain.Purchase{MarketID: 1, Option: domain.OptionA, Amount: 1500})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = e.balances.Debit(ctx, "alice", domain.Purchase{MarketID: 1, Option: domain.OptionA, Amount: 0})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.balances.Debit(ctx, "nobody", domain.Purchase{MarketID: 1, Option: domain.OptionA, Amount: 1})
	require.ErrorIs(t, err, domain.ErrNotInitialized)

	acct, err := e.balances.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, acct.CurrentBalance)
	assert.Empty(t, acct.Purchases)
}

func TestBalanceService_DebitKeepsBalanceInvariant(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.balances.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	for _, amt := range []float64{0.1, 0.2, 10, 33.33, 250} {
		p, err := e.balances.Debit(ctx, "alice", domain.Purchase{MarketID: 1, Option: domain.OptionB, Amount: amt})
		require.NoError(t, err)
		assert.NotEmpty(t, p.ID)
		assert.False(t, p.Timestamp.IsZero())
	}

	acct, err := e.balances.Get(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, acct.Purchases, 5)
	assert.InDelta(t, acct.InitialBalance-acct.TotalSpent(), acct.CurrentBalance, 1e-9)
	assert.GreaterOrEqual(t, acct.CurrentBalance, 0.0)
}

func TestBalanceService_ResetRestoresInitialBalance(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.balances.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := e.balances.Debit(ctx, "alice", domain.Purchase{MarketID: 1, Option: domain.OptionA, Amount: 50})
		require.NoError(t, err)
	}

	acct, err := e.balances.Reset(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, acct.InitialBalance, acct.CurrentBalance)
	assert.Empty(t, acct.Purchases)

	e.flush(t)
	stored, err := e.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, stored.CurrentBalance)
	assert.Empty(t, stored.Purchases)
	assert.Equal(t, 1, e.balanceRepo.deletes)
}

func TestBalanceService_RoundTripThroughRepository(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.balances.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	_, err = e.balances.Debit(ctx, "alice", domain.Purchase{
		MarketID: 3, Option: domain.OptionB, Amount: 12.5,
		MarketQuestion: "¿Monad mainnet?", OptionText: "No",
	})
	require.NoError(t, err)
	before, err := e.balances.Get(ctx, "alice")
	require.NoError(t, err)

	reloaded := NewBalanceService(e.balanceRepo, e.queues[0], nil, 1000, discardLogger())
	e.flush(t)
	require.NoError(t, reloaded.Open(ctx))
	after, err := reloaded.Get(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, before.CurrentBalance, after.CurrentBalance)
	assert.Equal(t, before.Purchases, after.Purchases)

	// JSON layout round-trip keeps the same purchase list.
	raw, err := json.Marshal(before)
	require.NoError(t, err)
	var decoded domain.UserAccount
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Purchases, 1)
	assert.Equal(t, before.Purchases[0].ID, decoded.Purchases[0].ID)
	assert.True(t, before.Purchases[0].Timestamp.Equal(decoded.Purchases[0].Timestamp))
	assert.Equal(t, before.CurrentBalance, decoded.CurrentBalance)
}

func TestBalanceService_PersistenceFailureIsNonFatal(t *testing.T) {
	repo := newFakeBalanceRepo()
	repo.saveErr = errors.New("disk full")
	q := persist.New(persist.Options{Name: "accounts", MaxAttempts: 2, Backoff: time.Millisecond})
	t.Cleanup(q.Close)
	svc := NewBalanceService(repo, q, nil, 1000, discardLogger())
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "alice", domain.Purchase{MarketID: 1, Option: domain.OptionA, Amount: 10})
	require.NoError(t, err)

	require.NoError(t, q.Flush(ctx))
	assert.Contains(t, q.Failed(), "alice")

	bal, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 990.0, bal)
}

func TestBalanceService_RefreshReloadsFromRepository(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := e.balances.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	e.flush(t)

	edited := domain.NewUserAccount("alice", 1000, time.Now())
	edited.CurrentBalance = 777
	require.NoError(t, e.balanceRepo.Save(ctx, edited))

	acct, err := e.balances.Refresh(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 777.0, acct.CurrentBalance)

	_, err = e.balances.Refresh(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestBalanceService_RefreshKeepsAccountWhoseWriteFailed(t *testing.T) {
	repo := newFakeBalanceRepo()
	repo.saveErr = errors.New("disk full")
	q := persist.New(persist.Options{Name: "accounts", MaxAttempts: 1, Backoff: time.Millisecond})
	t.Cleanup(q.Close)
	svc := NewBalanceService(repo, q, nil, 1000, discardLogger())
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "alice", domain.Purchase{MarketID: 1, Option: domain.OptionA, Amount: 10})
	require.NoError(t, err)

	acct, err := svc.Refresh(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 990.0, acct.CurrentBalance)
	assert.Len(t, acct.Purchases, 1)
}

func TestBalanceService_RefreshIgnoresOlderStoredCopy(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	created, err := e.balances.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	e.flush(t)

	stale := domain.NewUserAccount("alice", 1000, created.LastUpdated.Add(-time.Hour))
	stale.CurrentBalance = 500
	require.NoError(t, e.balanceRepo.Save(ctx, stale))

	acct, err := e.balances.Refresh(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, acct.CurrentBalance)
}
