package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

func TestBus_PatternSubscribe(t *testing.T) {
	b := NewBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all, err := b.Subscribe(ctx, "*")
	require.NoError(t, err)
	impact, err := b.Subscribe(ctx, "impact")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "markets", []byte("m")))
	require.NoError(t, b.Publish(ctx, "impact", []byte("i")))

	assert.Equal(t, "m", string(<-all))
	assert.Equal(t, "i", string(<-all))
	assert.Equal(t, "i", string(<-impact))
}

func TestBus_SubscriptionClosesOnCancel(t *testing.T) {
	b := NewBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "markets")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestBus_StreamTrimAndRead(t *testing.T) {
	b := NewBus(2)
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "events:markets", []byte(p)))
	}

	msgs, err := b.StreamRead(ctx, "events:markets", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", string(msgs[0].Payload))

	msgs, err = b.StreamRead(ctx, "events:markets", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", string(msgs[0].Payload))
}

func TestLockManager_ExclusiveUntilReleased(t *testing.T) {
	l := NewLockManager()
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "purchase:a", time.Minute)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "purchase:a", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Acquire(ctx, "purchase:b", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := l.Acquire(ctx, "purchase:a", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManager_WaiterGetsLeaseOnRelease(t *testing.T) {
	l := NewLockManager()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	unlock, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		next, err := l.Acquire(ctx, "k", time.Minute)
		if err == nil {
			next()
		}
		got <- err
	}()

	select {
	case err := <-got:
		t.Fatalf("second holder acquired while the lease was held: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	unlock()
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by unlock")
	}
}

func TestLockManager_WaiterGetsLeaseOnExpiry(t *testing.T) {
	l := NewLockManager()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.Acquire(ctx, "k", 30*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	next, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	next()
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLockManager_ExpiredLeaseIsFree(t *testing.T) {
	l := NewLockManager()
	now := time.Now()
	l.clock = func() time.Time { return now }

	stale, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	stale()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld, "stale unlock must not free the new lease")
	fresh()
}
