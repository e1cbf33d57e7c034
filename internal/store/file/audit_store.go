package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// AuditStore appends audit entries as JSON lines.
type AuditStore struct {
	s    *Store
	next int64
}

type auditLine struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if a.next == 0 {
		entries, err := a.readAll()
		if err != nil {
			return err
		}
		a.next = int64(len(entries))
	}
	a.next++

	line, err := json.Marshal(auditLine{ID: a.next, Event: event, Detail: detail, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("file: encode audit %s: %w", event, err)
	}
	f, err := os.OpenFile(a.s.path(auditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file: open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("file: append audit: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	entries, err := a.readAll()
	if err != nil {
		return nil, err
	}

	out := make([]domain.AuditEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, domain.AuditEntry{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (a *AuditStore) readAll() ([]auditLine, error) {
	f, err := os.Open(a.s.path(auditFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: open audit log: %w", err)
	}
	defer f.Close()

	var out []auditLine
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var l auditLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, sc.Err()
}

var _ domain.AuditStore = (*AuditStore)(nil)
