package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/persist"
)

// BalanceService is the balance ledger: one spendable balance and purchase
// history per wallet address. The in-memory map is authoritative; every
// mutation hands a full account snapshot to the write queue.
type BalanceService struct {
	repo    domain.BalanceRepository
	queue   *persist.Queue
	initial float64
	now     func() time.Time
	pub     publisher
	logger  *slog.Logger

	mu       sync.RWMutex
	accounts map[string]domain.UserAccount
}

// NewBalanceService creates a BalanceService. Accounts are created with
// initialBalance.
func NewBalanceService(
	repo domain.BalanceRepository,
	queue *persist.Queue,
	audit domain.AuditStore,
	initialBalance float64,
	logger *slog.Logger,
) *BalanceService {
	return &BalanceService{
		repo:     repo,
		queue:    queue,
		initial:  initialBalance,
		now:      time.Now,
		pub:      publisher{audit: audit, logger: logger, prefix: "balance_service"},
		logger:   logger,
		accounts: make(map[string]domain.UserAccount),
	}
}

// Open loads every persisted account into memory.
func (s *BalanceService) Open(ctx context.Context) error {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("balance_service: load accounts: %w: %w", domain.ErrPersistence, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accounts {
		s.accounts[a.Address] = a
	}
	s.logger.InfoContext(ctx, "balance_service: accounts loaded", slog.Int("count", len(accounts)))
	return nil
}

// InitialBalance returns the balance new accounts start with.
func (s *BalanceService) InitialBalance() float64 { return s.initial }

// GetOrCreate returns the account for address, creating and persisting a
// fresh one on first sight.
func (s *BalanceService) GetOrCreate(ctx context.Context, address string) (domain.UserAccount, error) {
	if address == "" {
		return domain.UserAccount{}, fmt.Errorf("balance_service: %w: empty address", domain.ErrInvalidAddress)
	}

	s.mu.Lock()
	acct, ok := s.accounts[address]
	if ok {
		s.mu.Unlock()
		return acct.Clone(), nil
	}
	acct = domain.NewUserAccount(address, s.initial, s.now().UTC())
	s.accounts[address] = acct
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "balance_service: account created",
		slog.String("address", address),
		slog.Float64("balance", s.initial),
	)
	s.commit(ctx, address)
	s.pub.record(ctx, "account_created", map[string]any{"address": address, "balance": s.initial})
	return acct.Clone(), nil
}

// Get returns the account for address or domain.ErrNotInitialized.
func (s *BalanceService) Get(_ context.Context, address string) (domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[address]
	if !ok {
		return domain.UserAccount{}, fmt.Errorf("balance_service: account %q: %w", address, domain.ErrNotInitialized)
	}
	return acct.Clone(), nil
}

// Balance returns the current balance of address.
func (s *BalanceService) Balance(ctx context.Context, address string) (float64, error) {
	acct, err := s.Get(ctx, address)
	if err != nil {
		return 0, err
	}
	return acct.CurrentBalance, nil
}

// Purchases returns the purchase history of address in the order made.
func (s *BalanceService) Purchases(ctx context.Context, address string) ([]domain.Purchase, error) {
	acct, err := s.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	return acct.Purchases, nil
}

// Debit appends a purchase to address and lowers its balance by amount. It
// fails without mutating anything when amount is not positive or exceeds the
// balance.
func (s *BalanceService) Debit(ctx context.Context, address string, p domain.Purchase) (domain.Purchase, error) {
	purchase, _, err := s.debit(address, p)
	if err != nil {
		return domain.Purchase{}, err
	}
	s.commit(ctx, address)
	return purchase, nil
}

// Reset deletes the persisted account and recreates it with the initial
// balance and no purchases.
func (s *BalanceService) Reset(ctx context.Context, address string) (domain.UserAccount, error) {
	if address == "" {
		return domain.UserAccount{}, fmt.Errorf("balance_service: %w: empty address", domain.ErrInvalidAddress)
	}
	acct := domain.NewUserAccount(address, s.initial, s.now().UTC())

	s.mu.Lock()
	s.accounts[address] = acct
	s.mu.Unlock()

	snapshot := acct.Clone()
	err := s.queue.Enqueue(context.WithoutCancel(ctx), address, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, address); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return s.repo.Save(ctx, snapshot)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "balance_service: enqueue reset failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "balance_service: account reset", slog.String("address", address))
	s.pub.record(ctx, "account_reset", map[string]any{"address": address})
	return acct.Clone(), nil
}

// Refresh waits for pending writes and reloads address from the repository.
// The stored copy only replaces memory when it is at least as new: an
// account whose latest write failed, or that changed after the stored
// write, keeps its in-memory state. Callers that mutate accounts concurrently
// must serialize with Refresh; PurchaseService.Refresh does that.
func (s *BalanceService) Refresh(ctx context.Context, address string) (domain.UserAccount, error) {
	if err := s.queue.Flush(ctx); err != nil {
		return domain.UserAccount{}, fmt.Errorf("balance_service: flush: %w", err)
	}
	stored, err := s.repo.Get(ctx, address)
	notFound := errors.Is(err, domain.ErrNotFound)
	if err != nil && !notFound {
		return domain.UserAccount{}, fmt.Errorf("balance_service: reload %q: %w: %w", address, domain.ErrPersistence, err)
	}
	_, failed := s.queue.Failed()[address]

	s.mu.Lock()
	defer s.mu.Unlock()
	mem, inMemory := s.accounts[address]
	switch {
	case inMemory && (failed || notFound || stored.LastUpdated.Before(mem.LastUpdated.Truncate(time.Microsecond))):
		s.logger.WarnContext(ctx, "balance_service: refresh kept in-memory account",
			slog.String("address", address),
			slog.Bool("write_failed", failed),
			slog.Bool("stored", !notFound),
		)
		return mem.Clone(), nil
	case notFound:
		return domain.UserAccount{}, fmt.Errorf("balance_service: account %q: %w", address, domain.ErrNotInitialized)
	}
	s.accounts[address] = stored
	return stored.Clone(), nil
}

// debit mutates memory only. It returns the recorded purchase and the
// balance left after it.
func (s *BalanceService) debit(address string, p domain.Purchase) (domain.Purchase, float64, error) {
	if !(p.Amount > 0) {
		return domain.Purchase{}, 0, fmt.Errorf("balance_service: debit %v: %w", p.Amount, domain.ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[address]
	if !ok {
		return domain.Purchase{}, 0, fmt.Errorf("balance_service: account %q: %w", address, domain.ErrNotInitialized)
	}

	balance := decimal.NewFromFloat(acct.CurrentBalance)
	amount := decimal.NewFromFloat(p.Amount)
	if balance.LessThan(amount) {
		return domain.Purchase{}, 0, fmt.Errorf("balance_service: debit %v from %v: %w",
			p.Amount, acct.CurrentBalance, domain.ErrInsufficientFunds)
	}

	now := s.now().UTC()
	if p.ID == "" {
		p.ID = domain.NewPurchaseID(now)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}

	acct = acct.Clone()
	acct.CurrentBalance = balance.Sub(amount).InexactFloat64()
	acct.Purchases = append(acct.Purchases, p)
	acct.LastUpdated = now
	s.accounts[address] = acct
	return p, acct.CurrentBalance, nil
}

// amendLast replaces the newest purchase of address when ids match.
func (s *BalanceService) amendLast(address string, p domain.Purchase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[address]
	if !ok || len(acct.Purchases) == 0 {
		return
	}
	last := len(acct.Purchases) - 1
	if acct.Purchases[last].ID != p.ID {
		return
	}
	acct.Purchases[last] = p
	s.accounts[address] = acct
}

func (s *BalanceService) snapshot(address string) (domain.UserAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[address]
	if !ok {
		return domain.UserAccount{}, false
	}
	return acct.Clone(), true
}

func (s *BalanceService) restore(address string, acct domain.UserAccount, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !existed {
		delete(s.accounts, address)
		return
	}
	s.accounts[address] = acct
}

// commit enqueues the current state of address. Persistence failures are
// logged, not returned: memory keeps serving reads and the queue retries.
func (s *BalanceService) commit(ctx context.Context, address string) {
	acct, ok := s.snapshot(address)
	if !ok {
		return
	}
	err := s.queue.Enqueue(context.WithoutCancel(ctx), address, func(ctx context.Context) error {
		return s.repo.Save(ctx, acct)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "balance_service: enqueue save failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
	}
}
