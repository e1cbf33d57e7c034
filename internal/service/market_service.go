package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/persist"
	"github.com/alanyoungcy/kiniela/internal/pricing"
)

// MarketService is the pricing engine: it owns share and price state for
// every market and applies purchases against the pricing curve.
type MarketService struct {
	repo   domain.MarketRepository
	queue  *persist.Queue
	curve  pricing.Curve
	now    func() time.Time
	pub    publisher
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[int64]domain.Market
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	repo domain.MarketRepository,
	queue *persist.Queue,
	curve pricing.Curve,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		repo:    repo,
		queue:   queue,
		curve:   curve,
		now:     time.Now,
		pub:     publisher{bus: bus, audit: audit, logger: logger, prefix: "market_service"},
		logger:  logger,
		markets: make(map[int64]domain.Market),
	}
}

// Open loads persisted markets and adds any seed market the repository does
// not know yet. Persisted state wins over the seed for known ids.
func (s *MarketService) Open(ctx context.Context, seeds []domain.Market) error {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("market_service: load markets: %w: %w", domain.ErrPersistence, err)
	}

	s.mu.Lock()
	for _, m := range stored {
		s.markets[m.ID] = m
	}
	var added []int64
	now := s.now().UTC()
	for _, seed := range seeds {
		if _, ok := s.markets[seed.ID]; ok {
			continue
		}
		m := seed.Clone()
		if m.State == "" {
			m.State = domain.MarketStateUninitialized
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		s.markets[m.ID] = m
		added = append(added, m.ID)
	}
	s.mu.Unlock()

	for _, id := range added {
		s.commit(ctx, id)
	}
	s.logger.InfoContext(ctx, "market_service: markets loaded",
		slog.Int("stored", len(stored)),
		slog.Int("seeded", len(added)),
	)
	return nil
}

// List returns every market ordered by id, as seen by address.
func (s *MarketService) List(_ context.Context, address string) []domain.MarketSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MarketSnapshot, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m.Snapshot(address))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListActive returns the markets that still accept purchases.
func (s *MarketService) ListActive(ctx context.Context, address string) []domain.MarketSnapshot {
	all := s.List(ctx, address)
	out := all[:0]
	for _, m := range all {
		if m.State.AcceptsPurchases() {
			out = append(out, m)
		}
	}
	return out
}

// Get returns one market as seen by address.
func (s *MarketService) Get(_ context.Context, id int64, address string) (domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: market %d: %w", id, domain.ErrNotFound)
	}
	return m.Snapshot(address), nil
}

// Quote prices a purchase without applying it.
func (s *MarketService) Quote(_ context.Context, id int64, option domain.Option, amount float64) (pricing.Fill, domain.Market, error) {
	m, ok := s.snapshot(id)
	if !ok {
		return pricing.Fill{}, domain.Market{}, fmt.Errorf("market_service: market %d: %w: %w", id, domain.ErrMarketNotActive, domain.ErrNotFound)
	}
	fill, err := s.curve.Quote(m, option, amount)
	if err != nil {
		return pricing.Fill{}, domain.Market{}, fmt.Errorf("market_service: quote market %d: %w", id, err)
	}
	preview := m.Clone()
	if _, err := s.curve.Apply(&preview, "", option, amount, s.now()); err != nil {
		return pricing.Fill{}, domain.Market{}, fmt.Errorf("market_service: quote market %d: %w", id, err)
	}
	return fill, preview, nil
}

// ApplyPurchase applies a purchase by address and persists the market.
func (s *MarketService) ApplyPurchase(ctx context.Context, id int64, address string, option domain.Option, amount float64) (domain.MarketSnapshot, pricing.Fill, error) {
	snap, fill, err := s.applyPurchase(id, address, option, amount)
	if err != nil {
		return domain.MarketSnapshot{}, pricing.Fill{}, err
	}
	s.commit(ctx, id)
	return snap, fill, nil
}

// Close stops a market from accepting purchases.
func (s *MarketService) Close(ctx context.Context, id int64) (domain.MarketSnapshot, error) {
	snap, err := s.transition(id, func(m *domain.Market) error {
		if !m.State.AcceptsPurchases() {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, m.State, domain.MarketStateClosed)
		}
		m.State = domain.MarketStateClosed
		return nil
	})
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	s.commit(ctx, id)
	s.logger.InfoContext(ctx, "market_service: market closed", slog.Int64("market_id", id))
	s.pub.record(ctx, "market_closed", map[string]any{"market_id": id})
	s.pub.publish(ctx, domain.ChannelMarkets, domain.EventMarketClosed, snap)
	return snap, nil
}

// Resolve fixes the winning option of a closed market.
func (s *MarketService) Resolve(ctx context.Context, id int64, winner domain.Option) (domain.MarketSnapshot, error) {
	if !winner.Valid() {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: resolve market %d: %w: %q", id, domain.ErrInvalidOption, winner)
	}
	snap, err := s.transition(id, func(m *domain.Market) error {
		if m.State != domain.MarketStateClosed {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, m.State, domain.MarketStateResolved)
		}
		m.State = domain.MarketStateResolved
		m.Winner = winner
		return nil
	})
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	s.commit(ctx, id)
	s.logger.InfoContext(ctx, "market_service: market resolved",
		slog.Int64("market_id", id),
		slog.String("winner", string(winner)),
	)
	s.pub.record(ctx, "market_resolved", map[string]any{"market_id": id, "winner": string(winner)})
	s.pub.publish(ctx, domain.ChannelMarkets, domain.EventMarketResolved, snap)
	return snap, nil
}

// SweepExpired closes every open market whose close time is before now and
// returns how many were closed.
func (s *MarketService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	var due []int64
	for id, m := range s.markets {
		if m.State.AcceptsPurchases() && !m.CloseTime.IsZero() && m.CloseTime.Before(now) {
			due = append(due, id)
		}
	}
	s.mu.RUnlock()

	var closed int
	for _, id := range due {
		if _, err := s.Close(ctx, id); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// Stats aggregates market figures and the holdings of address.
func (s *MarketService) Stats(_ context.Context, address string) domain.MarketStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st domain.MarketStats
	for _, m := range s.markets {
		st.TotalMarkets++
		if m.State.AcceptsPurchases() {
			st.ActiveMarkets++
		}
		st.TotalVolume += m.TotalFunds
		if address == "" {
			continue
		}
		h, ok := m.Holdings[address]
		if !ok {
			continue
		}
		st.UserTotalInvested += h.Invested
		st.UserPotentialWinnings += pricing.PotentialWinnings(m, h)
	}
	return st
}

func (s *MarketService) applyPurchase(id int64, address string, option domain.Option, amount float64) (domain.MarketSnapshot, pricing.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.MarketSnapshot{}, pricing.Fill{}, fmt.Errorf("market_service: market %d: %w: %w", id, domain.ErrMarketNotActive, domain.ErrNotFound)
	}
	m = m.Clone()
	fill, err := s.curve.Apply(&m, address, option, amount, s.now().UTC())
	if err != nil {
		return domain.MarketSnapshot{}, pricing.Fill{}, fmt.Errorf("market_service: apply purchase: %w", err)
	}
	s.markets[id] = m
	return m.Snapshot(address), fill, nil
}

func (s *MarketService) transition(id int64, fn func(*domain.Market) error) (domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: market %d: %w", id, domain.ErrNotFound)
	}
	m = m.Clone()
	if err := fn(&m); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: market %d: %w", id, err)
	}
	m.UpdatedAt = s.now().UTC()
	s.markets[id] = m
	return m.Snapshot(""), nil
}

func (s *MarketService) snapshot(id int64) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, false
	}
	return m.Clone(), true
}

func (s *MarketService) restore(m domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
}

func (s *MarketService) commit(ctx context.Context, id int64) {
	m, ok := s.snapshot(id)
	if !ok {
		return
	}
	key := strconv.FormatInt(id, 10)
	err := s.queue.Enqueue(context.WithoutCancel(ctx), key, func(ctx context.Context) error {
		return s.repo.Save(ctx, m)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "market_service: enqueue save failed",
			slog.Int64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}
