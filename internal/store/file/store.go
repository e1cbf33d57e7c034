// Package file persists engine state as JSON documents on local disk, using
// the same layouts the mobile client kept in device storage.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

const (
	accountsFile = "la_kiniela_user_data.json"
	impactFile   = "la_kiniela_social_impact.json"
	marketsFile  = "la_kiniela_markets.json"
	auditFile    = "la_kiniela_audit.jsonl"
)

// Store is a directory of JSON documents. One Store serves every repository
// interface; a single mutex serializes file access.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates dir if needed and returns a Store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Stores returns the repositories backed by s.
func (s *Store) Stores() domain.Stores {
	return domain.Stores{
		Accounts: &AccountStore{s: s},
		Impact:   &ImpactStore{s: s},
		Markets:  &MarketStore{s: s},
		Audit:    &AuditStore{s: s},
	}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readJSON decodes name into v. A missing file leaves v untouched.
func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file: read %s: %w", name, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("file: decode %s: %w", name, err)
	}
	return nil
}

// writeJSON replaces name atomically via a temp file and rename.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("file: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		return fmt.Errorf("file: rename %s: %w", name, err)
	}
	return nil
}

// impactName maps a scope to its document. The global scope keeps the
// original single-record file.
func impactName(scope string) string {
	if scope == "" || scope == domain.ImpactScopeGlobal {
		return impactFile
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, scope)
	return "la_kiniela_social_impact." + safe + ".json"
}
