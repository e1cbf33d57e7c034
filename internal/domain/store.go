package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BalanceRepository persists user accounts keyed by address. Addresses are
// case-sensitive keys.
type BalanceRepository interface {
	Get(ctx context.Context, address string) (UserAccount, error)
	List(ctx context.Context) ([]UserAccount, error)
	Save(ctx context.Context, account UserAccount) error
	Delete(ctx context.Context, address string) error
}

// ImpactRepository persists impact ledgers keyed by scope.
type ImpactRepository interface {
	Get(ctx context.Context, scope string) (ImpactLedger, error)
	List(ctx context.Context) ([]ImpactLedger, error)
	Save(ctx context.Context, ledger ImpactLedger) error
}

// MarketRepository persists market state.
type MarketRepository interface {
	Get(ctx context.Context, id int64) (Market, error)
	List(ctx context.Context) ([]Market, error)
	Save(ctx context.Context, market Market) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores bundles the repositories of one storage backend.
type Stores struct {
	Accounts BalanceRepository
	Impact   ImpactRepository
	Markets  MarketRepository
	Audit    AuditStore
}
