package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/persist"
)

// Impact scope modes.
const (
	ScopeModeGlobal = "global"
	ScopeModeMarket = "market"
)

// ImpactConfig configures the social impact allocator.
type ImpactConfig struct {
	FeeRate     float64
	MonthlyGoal float64
	Causes      []domain.Cause
	ScopeMode   string
}

// ImpactService is the social impact allocator. Each purchase yields a fee
// of FeeRate times the amount, split evenly across the configured causes.
// Ledgers are kept per scope: one global ledger, or one per market.
type ImpactService struct {
	repo   domain.ImpactRepository
	queue  *persist.Queue
	cfg    ImpactConfig
	now    func() time.Time
	pub    publisher
	logger *slog.Logger

	mu      sync.RWMutex
	ledgers map[string]domain.ImpactLedger
}

// NewImpactService creates an ImpactService.
func NewImpactService(
	repo domain.ImpactRepository,
	queue *persist.Queue,
	cfg ImpactConfig,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ImpactService {
	if cfg.ScopeMode == "" {
		cfg.ScopeMode = ScopeModeGlobal
	}
	return &ImpactService{
		repo:    repo,
		queue:   queue,
		cfg:     cfg,
		now:     time.Now,
		pub:     publisher{bus: bus, audit: audit, logger: logger, prefix: "impact_service"},
		logger:  logger,
		ledgers: make(map[string]domain.ImpactLedger),
	}
}

// Open loads persisted ledgers and makes sure the global ledger exists.
func (s *ImpactService) Open(ctx context.Context) error {
	ledgers, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("impact_service: load ledgers: %w: %w", domain.ErrPersistence, err)
	}
	s.mu.Lock()
	for _, l := range ledgers {
		s.ledgers[l.Scope] = l
	}
	_, hasGlobal := s.ledgers[domain.ImpactScopeGlobal]
	if !hasGlobal {
		s.ledgers[domain.ImpactScopeGlobal] = s.newLedger(domain.ImpactScopeGlobal)
	}
	s.mu.Unlock()

	if !hasGlobal {
		s.commit(ctx, domain.ImpactScopeGlobal)
	}
	s.logger.InfoContext(ctx, "impact_service: ledgers loaded", slog.Int("count", len(ledgers)))
	return nil
}

// FeeRate returns the fraction of each purchase diverted to causes.
func (s *ImpactService) FeeRate() float64 { return s.cfg.FeeRate }

// ScopeFor returns the ledger scope a purchase on marketID credits.
func (s *ImpactService) ScopeFor(marketID int64) string {
	if s.cfg.ScopeMode == ScopeModeMarket {
		return domain.MarketImpactScope(marketID)
	}
	return domain.ImpactScopeGlobal
}

// Fee returns the total fee charged on amount.
func (s *ImpactService) Fee(amount float64) float64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(s.cfg.FeeRate)).InexactFloat64()
}

// ProcessDonation records the fee of a purchase of purchaseAmount on
// marketID and persists the ledger.
func (s *ImpactService) ProcessDonation(ctx context.Context, purchaseAmount float64, marketID int64, marketQuestion string) ([]domain.Donation, error) {
	scope := s.ScopeFor(marketID)
	donations, crossed, err := s.processDonation(scope, purchaseAmount, marketID, marketQuestion)
	if err != nil {
		return nil, err
	}
	s.commit(ctx, scope)
	s.announce(ctx, scope, donations, crossed)
	return donations, nil
}

// Stats returns the summary of the ledger at scope.
func (s *ImpactService) Stats(_ context.Context, scope string) domain.ImpactStats {
	return s.ledger(scope).Stats()
}

// Causes returns the causes of the ledger at scope with their totals.
func (s *ImpactService) Causes(_ context.Context, scope string) []domain.Cause {
	return s.ledger(scope).Causes
}

// Donations returns donations at scope, newest first.
func (s *ImpactService) Donations(_ context.Context, scope string, opts domain.ListOpts) []domain.Donation {
	all := s.ledger(scope).Donations
	out := make([]domain.Donation, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		d := all[i]
		if opts.Since != nil && d.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && d.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, d)
	}
	if opts.Offset >= len(out) {
		return []domain.Donation{}
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

// Scopes lists the scopes that have a ledger.
func (s *ImpactService) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ledgers))
	for k := range s.ledgers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Reset zeroes every cause total and empties the donation log at scope.
func (s *ImpactService) Reset(ctx context.Context, scope string) error {
	if scope == "" {
		scope = domain.ImpactScopeGlobal
	}
	s.mu.Lock()
	s.ledgers[scope] = s.newLedger(scope)
	s.mu.Unlock()

	s.commit(ctx, scope)
	s.logger.InfoContext(ctx, "impact_service: ledger reset", slog.String("scope", scope))
	s.pub.record(ctx, "impact_reset", map[string]any{"scope": scope})
	s.pub.publish(ctx, domain.ChannelImpact, domain.EventImpactReset, map[string]any{
		"scope": scope,
		"stats": s.ledger(scope).Stats(),
	})
	return nil
}

func (s *ImpactService) newLedger(scope string) domain.ImpactLedger {
	causes := make([]domain.Cause, len(s.cfg.Causes))
	copy(causes, s.cfg.Causes)
	for i := range causes {
		causes[i].TotalDonated = 0
	}
	return domain.ImpactLedger{
		Scope:       scope,
		Causes:      causes,
		Donations:   []domain.Donation{},
		MonthlyGoal: s.cfg.MonthlyGoal,
		LastUpdated: s.now().UTC(),
	}
}

func (s *ImpactService) ledger(scope string) domain.ImpactLedger {
	s.mu.RLock()
	l, ok := s.ledgers[scope]
	s.mu.RUnlock()
	if !ok {
		return s.newLedger(scope)
	}
	return l.Clone()
}

// processDonation mutates memory only. It reports whether this donation
// carried the ledger across its monthly goal.
func (s *ImpactService) processDonation(scope string, purchaseAmount float64, marketID int64, marketQuestion string) ([]domain.Donation, bool, error) {
	if !(purchaseAmount > 0) {
		return nil, false, fmt.Errorf("impact_service: donation from %v: %w", purchaseAmount, domain.ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[scope]
	if !ok {
		l = s.newLedger(scope)
	} else {
		l = l.Clone()
	}
	if len(l.Causes) == 0 {
		return nil, false, fmt.Errorf("impact_service: scope %q has no causes", scope)
	}

	totalFee := decimal.NewFromFloat(purchaseAmount).Mul(decimal.NewFromFloat(s.cfg.FeeRate))
	perCause := totalFee.Div(decimal.NewFromInt(int64(len(l.Causes))))
	now := s.now().UTC()

	donations := make([]domain.Donation, 0, len(l.Causes))
	for i := range l.Causes {
		c := &l.Causes[i]
		c.TotalDonated = decimal.NewFromFloat(c.TotalDonated).Add(perCause).InexactFloat64()
		donations = append(donations, domain.Donation{
			ID:             domain.NewDonationID(now, c.ID),
			CauseID:        c.ID,
			Amount:         perCause.InexactFloat64(),
			FromPurchase:   purchaseAmount,
			Timestamp:      now,
			MarketQuestion: marketQuestion,
			MarketID:       marketID,
		})
	}

	before := l.TotalDonated
	l.TotalDonated = decimal.NewFromFloat(l.TotalDonated).Add(totalFee).InexactFloat64()
	l.Donations = append(l.Donations, donations...)
	l.LastUpdated = now
	s.ledgers[scope] = l

	crossed := l.MonthlyGoal > 0 && before < l.MonthlyGoal && l.TotalDonated >= l.MonthlyGoal
	return donations, crossed, nil
}

func (s *ImpactService) snapshot(scope string) (domain.ImpactLedger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ledgers[scope]
	if !ok {
		return domain.ImpactLedger{}, false
	}
	return l.Clone(), true
}

func (s *ImpactService) restore(scope string, l domain.ImpactLedger, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !existed {
		delete(s.ledgers, scope)
		return
	}
	s.ledgers[scope] = l
}

// announce publishes the post-donation stats and the goal event.
func (s *ImpactService) announce(ctx context.Context, scope string, donations []domain.Donation, crossed bool) {
	stats := s.ledger(scope).Stats()
	s.pub.publish(ctx, domain.ChannelImpact, domain.EventDonationRecorded, map[string]any{
		"scope":     scope,
		"donations": donations,
		"stats":     stats,
	})
	if crossed {
		s.logger.InfoContext(ctx, "impact_service: monthly goal reached",
			slog.String("scope", scope),
			slog.Float64("total_donated", stats.TotalDonated),
		)
		s.pub.publish(ctx, domain.ChannelImpact, domain.EventGoalReached, map[string]any{
			"scope": scope,
			"stats": stats,
		})
	}
}

func (s *ImpactService) commit(ctx context.Context, scope string) {
	l, ok := s.snapshot(scope)
	if !ok {
		return
	}
	err := s.queue.Enqueue(context.WithoutCancel(ctx), scope, func(ctx context.Context) error {
		return s.repo.Save(ctx, l)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "impact_service: enqueue save failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
	}
}
