// Package persist serializes writes to a backing store. Each store gets one
// Queue with a single worker goroutine, so snapshots reach the store in the
// order they were produced and an older snapshot never overwrites a newer one.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned when enqueueing on a closed queue.
var ErrClosed = errors.New("persist: queue closed")

// WriteFunc performs one write against the backing store.
type WriteFunc func(ctx context.Context) error

// Observer receives queue outcomes, typically for metrics.
type Observer interface {
	WriteCompleted(store string, elapsed time.Duration)
	WriteRetried(store string)
	WriteFailed(store string)
	WriteSuperseded(store string)
}

// Options configures a Queue.
type Options struct {
	Name         string
	Buffer       int
	MaxAttempts  int
	Backoff      time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Observer     Observer
}

type job struct {
	key     string
	seq     uint64
	write   WriteFunc
	barrier chan struct{}
}

// Queue is a single-writer, ordered persistence queue.
type Queue struct {
	opts   Options
	logger *slog.Logger
	jobs   chan job
	done   chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu     sync.Mutex
	seq    uint64
	latest map[string]uint64
	failed map[string]error
}

// New starts a queue worker. Call Close to drain and stop it.
func New(opts Options) *Queue {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		opts:   opts,
		logger: logger.With(slog.String("component", "persist"), slog.String("store", opts.Name)),
		jobs:   make(chan job, opts.Buffer),
		done:   make(chan struct{}),
		latest: make(map[string]uint64),
		failed: make(map[string]error),
	}
	go q.run()
	return q
}

// Enqueue schedules write for key. A later Enqueue for the same key
// supersedes this one if the worker has not started it yet.
func (q *Queue) Enqueue(ctx context.Context, key string, write WriteFunc) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	q.mu.Lock()
	q.seq++
	seq := q.seq
	q.latest[key] = seq
	q.mu.Unlock()

	select {
	case q.jobs <- job{key: key, seq: seq, write: write}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("persist: enqueue %s/%s: %w", q.opts.Name, key, ctx.Err())
	}
}

// Flush blocks until every write enqueued before the call has been attempted.
func (q *Queue) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	q.closeMu.RLock()
	if q.closed {
		q.closeMu.RUnlock()
		return nil
	}
	select {
	case q.jobs <- job{barrier: barrier}:
	case <-ctx.Done():
		q.closeMu.RUnlock()
		return ctx.Err()
	}
	q.closeMu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes, drains the queue and waits for the worker.
func (q *Queue) Close() {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.jobs)
	q.closeMu.Unlock()
	<-q.done
}

// Pending returns the number of queued jobs.
func (q *Queue) Pending() int { return len(q.jobs) }

// Failed returns the keys whose latest write exhausted its retries. A key is
// cleared once a later write for it succeeds.
func (q *Queue) Failed() map[string]error {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]error, len(q.failed))
	for k, v := range q.failed {
		out[k] = v
	}
	return out
}

func (q *Queue) run() {
	defer close(q.done)
	for j := range q.jobs {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		if q.superseded(j) {
			if q.opts.Observer != nil {
				q.opts.Observer.WriteSuperseded(q.opts.Name)
			}
			continue
		}
		q.execute(j)
	}
}

func (q *Queue) superseded(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latest[j.key] != j.seq
}

func (q *Queue) execute(j job) {
	start := time.Now()
	backoff := q.opts.Backoff
	var err error
	for attempt := 1; attempt <= q.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.opts.WriteTimeout)
		err = j.write(ctx)
		cancel()
		if err == nil {
			q.mu.Lock()
			delete(q.failed, j.key)
			q.mu.Unlock()
			if q.opts.Observer != nil {
				q.opts.Observer.WriteCompleted(q.opts.Name, time.Since(start))
			}
			return
		}
		if attempt == q.opts.MaxAttempts || q.superseded(j) {
			break
		}
		q.logger.Warn("persist: write failed, retrying",
			slog.String("key", j.key),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if q.opts.Observer != nil {
			q.opts.Observer.WriteRetried(q.opts.Name)
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	if q.superseded(j) {
		if q.opts.Observer != nil {
			q.opts.Observer.WriteSuperseded(q.opts.Name)
		}
		return
	}
	q.mu.Lock()
	q.failed[j.key] = err
	q.mu.Unlock()
	q.logger.Error("persist: write failed",
		slog.String("key", j.key),
		slog.String("error", err.Error()),
	)
	if q.opts.Observer != nil {
		q.opts.Observer.WriteFailed(q.opts.Name)
	}
}
