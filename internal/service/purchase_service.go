package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// PurchaseObserver receives purchase outcomes, typically for metrics.
type PurchaseObserver interface {
	PurchaseCompleted(option string, amount float64, bootstrap bool)
	PurchaseRejected(reason string)
	DonationRecorded(causeID string, amount float64)
}

type nopObserver struct{}

func (nopObserver) PurchaseCompleted(string, float64, bool) {}
func (nopObserver) PurchaseRejected(string)                 {}
func (nopObserver) DonationRecorded(string, float64)        {}

// BuyRequest is one "buy shares" action.
type BuyRequest struct {
	Address        string
	MarketID       int64
	Option         domain.Option
	Amount         float64
	MarketQuestion string
	OptionText     string
}

// Receipt is the result of a purchase. Success is false whenever Buy
// returns an error.
type Receipt struct {
	Success   bool                  `json:"success"`
	Purchase  domain.Purchase       `json:"purchase"`
	Market    domain.MarketSnapshot `json:"market"`
	Donations []domain.Donation     `json:"donations"`
	Bootstrap bool                  `json:"bootstrap"`
	Balance   float64               `json:"balance"`
}

// PurchaseService sequences the ledger debit, the market update and the
// donation as one unit. State is snapshotted before the first step; any
// failure restores all three components and nothing is persisted.
type PurchaseService struct {
	balances *BalanceService
	markets  *MarketService
	impact   *ImpactService
	locks    domain.LockManager
	lockTTL  time.Duration
	observer PurchaseObserver
	pub      publisher
	logger   *slog.Logger

	mu sync.Mutex
}

// NewPurchaseService creates the orchestrator. locks may be nil, in which
// case only the in-process mutex serializes purchases.
func NewPurchaseService(
	balances *BalanceService,
	markets *MarketService,
	impact *ImpactService,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	observer PurchaseObserver,
	logger *slog.Logger,
) *PurchaseService {
	if observer == nil {
		observer = nopObserver{}
	}
	return &PurchaseService{
		balances: balances,
		markets:  markets,
		impact:   impact,
		locks:    locks,
		lockTTL:  10 * time.Second,
		observer: observer,
		pub:      publisher{bus: bus, audit: audit, logger: logger, prefix: "purchase_service"},
		logger:   logger,
	}
}

// Buy executes one purchase. On any failure no component is left mutated.
func (s *PurchaseService) Buy(ctx context.Context, req BuyRequest) (Receipt, error) {
	receipt, err := s.buy(ctx, req)
	if err != nil {
		reason := rejectReason(err)
		s.observer.PurchaseRejected(reason)
		s.logger.WarnContext(ctx, "purchase_service: purchase rejected",
			slog.String("address", req.Address),
			slog.Int64("market_id", req.MarketID),
			slog.String("option", string(req.Option)),
			slog.Float64("amount", req.Amount),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		s.pub.record(ctx, "purchase_rejected", map[string]any{
			"address":   req.Address,
			"market_id": req.MarketID,
			"option":    string(req.Option),
			"amount":    req.Amount,
			"reason":    reason,
		})
		s.pub.publish(ctx, domain.ChannelPurchases, domain.EventPurchaseFailed, map[string]any{
			"address":  req.Address,
			"marketId": req.MarketID,
			"reason":   reason,
		})
		return Receipt{}, err
	}
	return receipt, nil
}

func (s *PurchaseService) buy(ctx context.Context, req BuyRequest) (Receipt, error) {
	if !req.Option.Valid() {
		return Receipt{}, fmt.Errorf("purchase_service: %w: %q", domain.ErrInvalidOption, req.Option)
	}
	if !(req.Amount > 0) {
		return Receipt{}, fmt.Errorf("purchase_service: %w: %v", domain.ErrInvalidAmount, req.Amount)
	}
	if _, err := s.balances.GetOrCreate(ctx, req.Address); err != nil {
		return Receipt{}, fmt.Errorf("purchase_service: %w", err)
	}

	// Acquire blocks while another purchase for the address holds the lease.
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "purchase:"+req.Address, s.lockTTL)
		if err != nil {
			return Receipt{}, fmt.Errorf("purchase_service: lock %q: %w", req.Address, err)
		}
		defer unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scope := s.impact.ScopeFor(req.MarketID)
	acctBefore, acctExisted := s.balances.snapshot(req.Address)
	mktBefore, mktExisted := s.markets.snapshot(req.MarketID)
	ledgerBefore, ledgerExisted := s.impact.snapshot(scope)

	rollback := func() {
		s.balances.restore(req.Address, acctBefore, acctExisted)
		if mktExisted {
			s.markets.restore(mktBefore)
		}
		s.impact.restore(scope, ledgerBefore, ledgerExisted)
	}

	question, optionText := req.MarketQuestion, req.OptionText
	if mktExisted {
		if question == "" {
			question = mktBefore.Question
		}
		if optionText == "" {
			optionText = mktBefore.OptionText(req.Option)
		}
	}

	purchase, balance, err := s.balances.debit(req.Address, domain.Purchase{
		MarketID:       req.MarketID,
		Option:         req.Option,
		Amount:         req.Amount,
		MarketQuestion: question,
		OptionText:     optionText,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("purchase_service: debit: %w", err)
	}

	snap, fill, err := s.markets.applyPurchase(req.MarketID, req.Address, req.Option, req.Amount)
	if err != nil {
		rollback()
		return Receipt{}, fmt.Errorf("purchase_service: apply: %w", err)
	}

	donations, crossed, err := s.impact.processDonation(scope, req.Amount, req.MarketID, question)
	if err != nil {
		rollback()
		return Receipt{}, fmt.Errorf("purchase_service: donate: %w", err)
	}

	// The account keeps the executed shares and price alongside the debit.
	purchase.Shares = fill.Shares
	purchase.Price = fill.ExecutionPrice
	s.balances.amendLast(req.Address, purchase)

	s.balances.commit(ctx, req.Address)
	s.markets.commit(ctx, req.MarketID)
	s.impact.commit(ctx, scope)

	receipt := Receipt{
		Success:   true,
		Purchase:  purchase,
		Market:    snap,
		Donations: donations,
		Bootstrap: fill.Bootstrap,
		Balance:   balance,
	}
	s.afterCommit(ctx, req.Address, scope, receipt, crossed)
	return receipt, nil
}

func (s *PurchaseService) afterCommit(ctx context.Context, address, scope string, r Receipt, crossed bool) {
	s.observer.PurchaseCompleted(string(r.Purchase.Option), r.Purchase.Amount, r.Bootstrap)
	for _, d := range r.Donations {
		s.observer.DonationRecorded(d.CauseID, d.Amount)
	}

	s.logger.InfoContext(ctx, "purchase_service: purchase completed",
		slog.String("purchase_id", r.Purchase.ID),
		slog.String("address", address),
		slog.Int64("market_id", r.Purchase.MarketID),
		slog.String("option", string(r.Purchase.Option)),
		slog.Float64("amount", r.Purchase.Amount),
		slog.Float64("shares", r.Purchase.Shares),
		slog.Bool("bootstrap", r.Bootstrap),
	)
	s.pub.record(ctx, "purchase_completed", map[string]any{
		"purchase_id": r.Purchase.ID,
		"address":     address,
		"market_id":   r.Purchase.MarketID,
		"option":      string(r.Purchase.Option),
		"amount":      r.Purchase.Amount,
		"shares":      r.Purchase.Shares,
		"bootstrap":   r.Bootstrap,
	})

	if r.Bootstrap {
		s.pub.publish(ctx, domain.ChannelMarkets, domain.EventMarketBootstrapped, r.Market)
	} else {
		s.pub.publish(ctx, domain.ChannelMarkets, domain.EventMarketUpdated, r.Market)
	}
	s.pub.publish(ctx, domain.ChannelPurchases, domain.EventPurchaseCompleted, r.Purchase)
	s.impact.announce(ctx, scope, r.Donations, crossed)
}

// Quote previews a purchase: shares, post-trade prices and the social fee.
func (s *PurchaseService) Quote(ctx context.Context, marketID int64, option domain.Option, amount float64) (domain.Quote, error) {
	fill, after, err := s.markets.Quote(ctx, marketID, option, amount)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("purchase_service: %w", err)
	}
	priceA, priceB := after.Prices()
	return domain.Quote{
		MarketID:       marketID,
		Option:         option,
		Amount:         amount,
		ExecutionPrice: fill.ExecutionPrice,
		Shares:         fill.Shares,
		Bootstrap:      fill.Bootstrap,
		PoolShares:     fill.PoolShares,
		PriceA:         priceA,
		PriceB:         priceB,
		SocialFee:      s.impact.Fee(amount),
	}, nil
}

// ResetBalance restores address to the initial balance with no purchases.
func (s *PurchaseService) ResetBalance(ctx context.Context, address string) (domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances.Reset(ctx, address)
}

// Refresh reloads address from storage once pending writes land. It holds
// the purchase mutex so no purchase runs between the read and the swap.
func (s *PurchaseService) Refresh(ctx context.Context, address string) (domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances.Refresh(ctx, address)
}

// ResetImpact clears the impact ledger at scope.
func (s *PurchaseService) ResetImpact(ctx context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.impact.Reset(ctx, scope)
}

// CloseMarket stops a market from accepting purchases.
func (s *PurchaseService) CloseMarket(ctx context.Context, id int64) (domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markets.Close(ctx, id)
}

// ResolveMarket fixes the winner of a closed market.
func (s *PurchaseService) ResolveMarket(ctx context.Context, id int64, winner domain.Option) (domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markets.Resolve(ctx, id, winner)
}

// SweepExpired closes markets whose close time has passed.
func (s *PurchaseService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markets.SweepExpired(ctx, now)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, domain.ErrInvalidOption):
		return "invalid_option"
	case errors.Is(err, domain.ErrMarketNotActive):
		return "market_not_active"
	case errors.Is(err, domain.ErrLockHeld):
		return "concurrent_purchase"
	case errors.Is(err, domain.ErrNotInitialized), errors.Is(err, domain.ErrInvalidAddress):
		return "not_initialized"
	default:
		return "internal"
	}
}
