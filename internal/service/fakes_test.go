package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/kiniela/internal/cache/local"
	"github.com/alanyoungcy/kiniela/internal/domain"
	"github.com/alanyoungcy/kiniela/internal/persist"
	"github.com/alanyoungcy/kiniela/internal/pricing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBalanceRepo struct {
	mu       sync.Mutex
	accounts map[string]domain.UserAccount
	deletes  int
	saveErr  error
	// afterGet runs once Get has read its row, outside the repo mutex.
	afterGet func()
}

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{accounts: make(map[string]domain.UserAccount)}
}

func (r *fakeBalanceRepo) Get(_ context.Context, address string) (domain.UserAccount, error) {
	r.mu.Lock()
	a, ok := r.accounts[address]
	a = a.Clone()
	hook := r.afterGet
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return domain.UserAccount{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *fakeBalanceRepo) List(context.Context) ([]domain.UserAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (r *fakeBalanceRepo) Save(_ context.Context, a domain.UserAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.accounts[a.Address] = a.Clone()
	return nil
}

func (r *fakeBalanceRepo) Delete(_ context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	if _, ok := r.accounts[address]; !ok {
		return domain.ErrNotFound
	}
	delete(r.accounts, address)
	return nil
}

type fakeImpactRepo struct {
	mu      sync.Mutex
	ledgers map[string]domain.ImpactLedger
}

func newFakeImpactRepo() *fakeImpactRepo {
	return &fakeImpactRepo{ledgers: make(map[string]domain.ImpactLedger)}
}

func (r *fakeImpactRepo) Get(_ context.Context, scope string) (domain.ImpactLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[scope]
	if !ok {
		return domain.ImpactLedger{}, domain.ErrNotFound
	}
	return l.Clone(), nil
}

func (r *fakeImpactRepo) List(context.Context) ([]domain.ImpactLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ImpactLedger, 0, len(r.ledgers))
	for _, l := range r.ledgers {
		out = append(out, l.Clone())
	}
	return out, nil
}

func (r *fakeImpactRepo) Save(_ context.Context, l domain.ImpactLedger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[l.Scope] = l.Clone()
	return nil
}

type fakeMarketRepo struct {
	mu      sync.Mutex
	markets map[int64]domain.Market
}

func newFakeMarketRepo() *fakeMarketRepo {
	return &fakeMarketRepo{markets: make(map[int64]domain.Market)}
}

func (r *fakeMarketRepo) Get(_ context.Context, id int64) (domain.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (r *fakeMarketRepo) List(context.Context) ([]domain.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (r *fakeMarketRepo) Save(_ context.Context, m domain.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[m.ID] = m.Clone()
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events map[string][]string
}

func newFakeBus() *fakeBus { return &fakeBus{events: make(map[string][]string)} }

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[channel] = append(b.events[channel], string(payload))
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[channel])
}

type recordingObserver struct {
	mu        sync.Mutex
	completed int
	rejected  map[string]int
	donated   float64
}

func (o *recordingObserver) PurchaseCompleted(string, float64, bool) {
	o.mu.Lock()
	o.completed++
	o.mu.Unlock()
}

func (o *recordingObserver) PurchaseRejected(reason string) {
	o.mu.Lock()
	if o.rejected == nil {
		o.rejected = make(map[string]int)
	}
	o.rejected[reason]++
	o.mu.Unlock()
}

func (o *recordingObserver) DonationRecorded(_ string, amount float64) {
	o.mu.Lock()
	o.donated += amount
	o.mu.Unlock()
}

var testCauses = []domain.Cause{
	{ID: "education", Name: "Educación Digital", FeePercentage: 5},
	{ID: "environment", Name: "Medio Ambiente", FeePercentage: 5},
}

type testEngine struct {
	balanceRepo *fakeBalanceRepo
	impactRepo  *fakeImpactRepo
	marketRepo  *fakeMarketRepo
	bus         *fakeBus
	observer    *recordingObserver

	balances  *BalanceService
	markets   *MarketService
	impact    *ImpactService
	purchases *PurchaseService

	queues []*persist.Queue
}

func (e *testEngine) flush(t *testing.T) {
	t.Helper()
	for _, q := range e.queues {
		if err := q.Flush(context.Background()); err != nil {
			t.Fatalf("flush: %v", err)
		}
	}
}

type engineOption func(*ImpactConfig)

func withScope(mode string) engineOption {
	return func(c *ImpactConfig) { c.ScopeMode = mode }
}

func withCauses(causes []domain.Cause) engineOption {
	return func(c *ImpactConfig) { c.Causes = causes }
}

func newTestEngine(t *testing.T, seeds []domain.Market, opts ...engineOption) *testEngine {
	t.Helper()
	logger := discardLogger()
	e := &testEngine{
		balanceRepo: newFakeBalanceRepo(),
		impactRepo:  newFakeImpactRepo(),
		marketRepo:  newFakeMarketRepo(),
		bus:         newFakeBus(),
		observer:    &recordingObserver{},
	}
	newQueue := func(name string) *persist.Queue {
		q := persist.New(persist.Options{Name: name, Backoff: time.Millisecond, Logger: logger})
		e.queues = append(e.queues, q)
		t.Cleanup(q.Close)
		return q
	}

	cfg := ImpactConfig{FeeRate: 0.10, MonthlyGoal: 500, Causes: testCauses}
	for _, o := range opts {
		o(&cfg)
	}

	e.balances = NewBalanceService(e.balanceRepo, newQueue("accounts"), nil, 1000, logger)
	e.markets = NewMarketService(e.marketRepo, newQueue("markets"), pricing.NewCurve(100), e.bus, nil, logger)
	e.impact = NewImpactService(e.impactRepo, newQueue("impact"), cfg, e.bus, nil, logger)
	e.purchases = NewPurchaseService(e.balances, e.markets, e.impact, local.NewLockManager(), e.bus, nil, e.observer, logger)

	ctx := context.Background()
	if err := e.balances.Open(ctx); err != nil {
		t.Fatalf("open balances: %v", err)
	}
	if err := e.markets.Open(ctx, seeds); err != nil {
		t.Fatalf("open markets: %v", err)
	}
	if err := e.impact.Open(ctx); err != nil {
		t.Fatalf("open impact: %v", err)
	}
	return e
}

func seedMarkets() []domain.Market {
	return []domain.Market{
		{ID: 1, Question: "¿Bitcoin llegará a $100,000?", OptionA: "Sí llegará", OptionB: "No llegará"},
		{ID: 2, Question: "¿Ethereum superará $5,000?", OptionA: "Sí", OptionB: "No"},
	}
}
