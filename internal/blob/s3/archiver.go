package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// SnapshotArchiver copies the persisted engine state into object storage
// under snapshots/YYYY/MM/DD/<unix>/. Nothing is deleted from the source
// stores.
type SnapshotArchiver struct {
	writer domain.BlobWriter
	stores domain.Stores
	logger *slog.Logger
}

func NewSnapshotArchiver(writer domain.BlobWriter, stores domain.Stores, logger *slog.Logger) *SnapshotArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotArchiver{writer: writer, stores: stores, logger: logger}
}

// ArchiveSnapshot uploads accounts, impact ledgers and markets as JSONL and
// a manifest as JSON. It returns the snapshot prefix.
func (a *SnapshotArchiver) ArchiveSnapshot(ctx context.Context, at time.Time) (string, error) {
	prefix := SnapshotPrefix(at)

	accounts, err := a.stores.Accounts.List(ctx)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot accounts: %w", err)
	}
	ledgers, err := a.stores.Impact.List(ctx)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot impact: %w", err)
	}
	markets, err := a.stores.Markets.List(ctx)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot markets: %w", err)
	}

	parts := []struct {
		name string
		data func() ([]byte, error)
	}{
		{"accounts.jsonl", func() ([]byte, error) { return marshalJSONL(accounts) }},
		{"impact.jsonl", func() ([]byte, error) { return marshalJSONL(ledgers) }},
		{"markets.jsonl", func() ([]byte, error) { return marshalJSONL(markets) }},
	}
	for _, p := range parts {
		buf, err := p.data()
		if err != nil {
			return "", fmt.Errorf("s3blob: snapshot marshal %s: %w", p.name, err)
		}
		if err := a.upload(ctx, prefix+p.name, buf, "application/x-ndjson"); err != nil {
			return "", err
		}
	}

	manifest, err := json.Marshal(map[string]any{
		"takenAt":  at.UTC().Format(time.RFC3339),
		"accounts": len(accounts),
		"ledgers":  len(ledgers),
		"markets":  len(markets),
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot manifest: %w", err)
	}
	if err := a.upload(ctx, prefix+"manifest.json", manifest, "application/json"); err != nil {
		return "", err
	}

	if a.stores.Audit != nil {
		if err := a.stores.Audit.Log(ctx, "snapshot.archived", map[string]any{
			"prefix":   prefix,
			"accounts": len(accounts),
			"ledgers":  len(ledgers),
			"markets":  len(markets),
		}); err != nil {
			a.logger.WarnContext(ctx, "snapshot: audit log failed", slog.String("error", err.Error()))
		}
	}
	a.logger.InfoContext(ctx, "snapshot: archived",
		slog.String("prefix", prefix),
		slog.Int("accounts", len(accounts)),
		slog.Int("markets", len(markets)),
	)
	return prefix, nil
}

func (a *SnapshotArchiver) upload(ctx context.Context, path string, buf []byte, contentType string) error {
	var err error
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: snapshot upload: %w", err)
	}
	return nil
}

// SnapshotPrefix is the key prefix for a snapshot taken at t:
//
//	snapshots/2026/10/15/1760486400/
func SnapshotPrefix(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("snapshots/%s/%d/", t.Format("2006/01/02"), t.Unix())
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*SnapshotArchiver)(nil)
