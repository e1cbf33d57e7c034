package file

import (
	"context"
	"sort"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// AccountStore keeps every account in one JSON object keyed by address.
type AccountStore struct {
	s *Store
}

func (a *AccountStore) load() (map[string]domain.UserAccount, error) {
	accounts := make(map[string]domain.UserAccount)
	if err := a.s.readJSON(accountsFile, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (a *AccountStore) Get(_ context.Context, address string) (domain.UserAccount, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	accounts, err := a.load()
	if err != nil {
		return domain.UserAccount{}, err
	}
	acct, ok := accounts[address]
	if !ok {
		return domain.UserAccount{}, domain.ErrNotFound
	}
	if acct.Purchases == nil {
		acct.Purchases = []domain.Purchase{}
	}
	return acct, nil
}

func (a *AccountStore) List(_ context.Context) ([]domain.UserAccount, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	accounts, err := a.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserAccount, 0, len(accounts))
	for _, acct := range accounts {
		if acct.Purchases == nil {
			acct.Purchases = []domain.Purchase{}
		}
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (a *AccountStore) Save(_ context.Context, acct domain.UserAccount) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	accounts, err := a.load()
	if err != nil {
		return err
	}
	accounts[acct.Address] = acct
	return a.s.writeJSON(accountsFile, accounts)
}

func (a *AccountStore) Delete(_ context.Context, address string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	accounts, err := a.load()
	if err != nil {
		return err
	}
	if _, ok := accounts[address]; !ok {
		return domain.ErrNotFound
	}
	delete(accounts, address)
	return a.s.writeJSON(accountsFile, accounts)
}

var _ domain.BalanceRepository = (*AccountStore)(nil)
