package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// ImpactStore keeps one JSON document per impact scope.
type ImpactStore struct {
	s *Store
}

func (i *ImpactStore) Get(_ context.Context, scope string) (domain.ImpactLedger, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return i.get(scope)
}

func (i *ImpactStore) get(scope string) (domain.ImpactLedger, error) {
	name := impactName(scope)
	if _, err := os.Stat(i.s.path(name)); os.IsNotExist(err) {
		return domain.ImpactLedger{}, domain.ErrNotFound
	}
	var l domain.ImpactLedger
	if err := i.s.readJSON(name, &l); err != nil {
		return domain.ImpactLedger{}, err
	}
	if l.Scope == "" {
		l.Scope = domain.ImpactScopeGlobal
	}
	if l.Donations == nil {
		l.Donations = []domain.Donation{}
	}
	return l, nil
}

func (i *ImpactStore) List(_ context.Context) ([]domain.ImpactLedger, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	matches, err := filepath.Glob(filepath.Join(i.s.dir, "la_kiniela_social_impact*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make([]domain.ImpactLedger, 0, len(matches))
	for _, m := range matches {
		var l domain.ImpactLedger
		if err := i.s.readJSON(filepath.Base(m), &l); err != nil {
			return nil, err
		}
		if l.Scope == "" {
			l.Scope = domain.ImpactScopeGlobal
		}
		if l.Donations == nil {
			l.Donations = []domain.Donation{}
		}
		out = append(out, l)
	}
	return out, nil
}

func (i *ImpactStore) Save(_ context.Context, l domain.ImpactLedger) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if strings.TrimSpace(l.Scope) == "" {
		l.Scope = domain.ImpactScopeGlobal
	}
	return i.s.writeJSON(impactName(l.Scope), l)
}

var _ domain.ImpactRepository = (*ImpactStore)(nil)
