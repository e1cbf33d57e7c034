package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/store/file"
)

type memWriter struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
	fail      error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	return w.store(path, data)
}

func (w *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	w.mu.Lock()
	w.multipart++
	w.mu.Unlock()
	return w.store(path, data)
}

func (w *memWriter) store(path string, data io.Reader) error {
	if w.fail != nil {
		return w.fail
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = b
	return nil
}

func seededStores(t *testing.T) domain.Stores {
	t.Helper()
	fs, err := file.Open(t.TempDir())
	require.NoError(t, err)
	stores := fs.Stores()
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, stores.Accounts.Save(ctx, domain.NewUserAccount("0xaaa", 1000, now)))
	require.NoError(t, stores.Accounts.Save(ctx, domain.NewUserAccount("0xbbb", 1000, now)))
	require.NoError(t, stores.Markets.Save(ctx, domain.Market{ID: 1, Question: "Q?", OptionA: "Yes", OptionB: "No"}))
	require.NoError(t, stores.Impact.Save(ctx, domain.ImpactLedger{Scope: domain.ImpactScopeGlobal, MonthlyGoal: 500}))
	return stores
}

func countLines(b []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		n++
	}
	return n
}

func TestSnapshotArchiver_UploadsEveryDocument(t *testing.T) {
	stores := seededStores(t)
	w := &memWriter{}
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	prefix, err := NewSnapshotArchiver(w, stores, nil).ArchiveSnapshot(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, SnapshotPrefix(at), prefix)

	require.Contains(t, w.objects, prefix+"accounts.jsonl")
	assert.Equal(t, 2, countLines(w.objects[prefix+"accounts.jsonl"]))
	assert.Equal(t, 1, countLines(w.objects[prefix+"markets.jsonl"]))
	assert.Equal(t, 1, countLines(w.objects[prefix+"impact.jsonl"]))
	assert.Zero(t, w.multipart)

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(w.objects[prefix+"manifest.json"], &manifest))
	assert.EqualValues(t, 2, manifest["accounts"])

	entries, err := stores.Audit.List(context.Background(), domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "snapshot.archived", entries[0].Event)
}

func TestSnapshotArchiver_UploadFailure(t *testing.T) {
	w := &memWriter{fail: errors.New("bucket gone")}
	_, err := NewSnapshotArchiver(w, seededStores(t), nil).ArchiveSnapshot(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestSnapshotPrefix(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "snapshots/2026/01/02/1767319445/", SnapshotPrefix(at))
}

func TestClientKeyPrefix(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/kiniela/")}
	assert.Equal(t, "kiniela/snapshots/x", c.key("/snapshots/x"))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
