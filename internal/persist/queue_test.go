package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	writes []string
}

func (r *recorder) write(v string) WriteFunc {
	return func(context.Context) error {
		r.mu.Lock()
		r.writes = append(r.writes, v)
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

type countingObserver struct {
	completed, retried, failed, superseded atomic.Int32
}

func (o *countingObserver) WriteCompleted(string, time.Duration) { o.completed.Add(1) }
func (o *countingObserver) WriteRetried(string)                  { o.retried.Add(1) }
func (o *countingObserver) WriteFailed(string)                   { o.failed.Add(1) }
func (o *countingObserver) WriteSuperseded(string)               { o.superseded.Add(1) }

func TestQueue_WritesInOrder(t *testing.T) {
	q := New(Options{Name: "test"})
	defer q.Close()
	rec := &recorder{}
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, k, rec.write(k)))
	}
	require.NoError(t, q.Flush(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, rec.snapshot())
}

func TestQueue_NewerSnapshotSupersedesOlder(t *testing.T) {
	obs := &countingObserver{}
	q := New(Options{Name: "test", Observer: obs})
	defer q.Close()
	rec := &recorder{}
	ctx := context.Background()

	gate := make(chan struct{})
	require.NoError(t, q.Enqueue(ctx, "block", func(context.Context) error {
		<-gate
		return nil
	}))
	require.NoError(t, q.Enqueue(ctx, "acct", rec.write("v1")))
	require.NoError(t, q.Enqueue(ctx, "acct", rec.write("v2")))
	require.NoError(t, q.Enqueue(ctx, "acct", rec.write("v3")))
	close(gate)

	require.NoError(t, q.Flush(ctx))
	assert.Equal(t, []string{"v3"}, rec.snapshot())
	assert.Equal(t, int32(2), obs.superseded.Load())
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	obs := &countingObserver{}
	q := New(Options{Name: "test", MaxAttempts: 3, Backoff: time.Millisecond, Observer: obs})
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Enqueue(context.Background(), "k", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, q.Flush(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(2), obs.retried.Load())
	assert.Equal(t, int32(1), obs.completed.Load())
	assert.Empty(t, q.Failed())
}

func TestQueue_RecordsExhaustedWrites(t *testing.T) {
	obs := &countingObserver{}
	q := New(Options{Name: "test", MaxAttempts: 2, Backoff: time.Millisecond, Observer: obs})
	defer q.Close()
	ctx := context.Background()

	boom := errors.New("disk full")
	require.NoError(t, q.Enqueue(ctx, "k", func(context.Context) error { return boom }))
	require.NoError(t, q.Flush(ctx))

	failed := q.Failed()
	require.Contains(t, failed, "k")
	assert.ErrorIs(t, failed["k"], boom)
	assert.Equal(t, int32(1), obs.failed.Load())

	rec := &recorder{}
	require.NoError(t, q.Enqueue(ctx, "k", rec.write("ok")))
	require.NoError(t, q.Flush(ctx))
	assert.Empty(t, q.Failed())
}

func TestQueue_CloseDrainsAndRejects(t *testing.T) {
	q := New(Options{Name: "test"})
	rec := &recorder{}
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		require.NoError(t, q.Enqueue(ctx, k, rec.write(k)))
	}
	q.Close()
	assert.Equal(t, []string{"a", "b"}, rec.snapshot())

	err := q.Enqueue(ctx, "c", rec.write("c"))
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, q.Flush(ctx))
	q.Close()
}
