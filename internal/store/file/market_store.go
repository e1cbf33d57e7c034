package file

import (
	"context"
	"sort"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// MarketStore keeps every market in one JSON array ordered by id.
type MarketStore struct {
	s *Store
}

func (m *MarketStore) load() ([]domain.Market, error) {
	var markets []domain.Market
	if err := m.s.readJSON(marketsFile, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

func (m *MarketStore) Get(_ context.Context, id int64) (domain.Market, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	markets, err := m.load()
	if err != nil {
		return domain.Market{}, err
	}
	for _, mk := range markets {
		if mk.ID == id {
			return mk, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (m *MarketStore) List(_ context.Context) ([]domain.Market, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.load()
}

func (m *MarketStore) Save(_ context.Context, market domain.Market) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	markets, err := m.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range markets {
		if markets[i].ID == market.ID {
			markets[i] = market
			replaced = true
			break
		}
	}
	if !replaced {
		markets = append(markets, market)
		sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })
	}
	return m.s.writeJSON(marketsFile, markets)
}

var _ domain.MarketRepository = (*MarketStore)(nil)
