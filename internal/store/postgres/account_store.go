package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// AccountStore implements domain.BalanceRepository using PostgreSQL.
// Purchases live in their own table ordered by seq.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Get returns the account for address with its purchases.
func (s *AccountStore) Get(ctx context.Context, address string) (domain.UserAccount, error) {
	const query = `
		SELECT address, initial_balance, current_balance, created_at, last_updated
		FROM accounts WHERE address = $1`

	var a domain.UserAccount
	err := s.pool.QueryRow(ctx, query, address).Scan(
		&a.Address, &a.InitialBalance, &a.CurrentBalance, &a.CreatedAt, &a.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserAccount{}, domain.ErrNotFound
		}
		return domain.UserAccount{}, fmt.Errorf("postgres: get account %s: %w", address, err)
	}

	purchases, err := s.purchases(ctx, address)
	if err != nil {
		return domain.UserAccount{}, err
	}
	a.Purchases = purchases
	return a, nil
}

// List returns every account with its purchases.
func (s *AccountStore) List(ctx context.Context) ([]domain.UserAccount, error) {
	const query = `
		SELECT address, initial_balance, current_balance, created_at, last_updated
		FROM accounts ORDER BY address`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	var accounts []domain.UserAccount
	for rows.Next() {
		var a domain.UserAccount
		if err := rows.Scan(&a.Address, &a.InitialBalance, &a.CurrentBalance, &a.CreatedAt, &a.LastUpdated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}

	for i := range accounts {
		p, err := s.purchases(ctx, accounts[i].Address)
		if err != nil {
			return nil, err
		}
		accounts[i].Purchases = p
	}
	return accounts, nil
}

func (s *AccountStore) purchases(ctx context.Context, address string) ([]domain.Purchase, error) {
	const query = `
		SELECT id, market_id, option, amount, shares, price, market_question, option_text, created_at
		FROM purchases WHERE address = $1 ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("postgres: list purchases %s: %w", address, err)
	}
	defer rows.Close()

	out := []domain.Purchase{}
	for rows.Next() {
		var p domain.Purchase
		var option string
		if err := rows.Scan(&p.ID, &p.MarketID, &option, &p.Amount, &p.Shares, &p.Price,
			&p.MarketQuestion, &p.OptionText, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan purchase: %w", err)
		}
		p.Option = domain.Option(option)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list purchases rows: %w", err)
	}
	return out, nil
}

// Save upserts the account and makes its purchase rows match a.Purchases.
// Purchases are immutable, so existing rows are kept and only new ones are
// inserted.
func (s *AccountStore) Save(ctx context.Context, a domain.UserAccount) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save account %s: %w", a.Address, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const upsert = `
		INSERT INTO accounts (address, initial_balance, current_balance, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			initial_balance = EXCLUDED.initial_balance,
			current_balance = EXCLUDED.current_balance,
			last_updated    = EXCLUDED.last_updated`
	if _, err := tx.Exec(ctx, upsert, a.Address, a.InitialBalance, a.CurrentBalance, a.CreatedAt, a.LastUpdated); err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", a.Address, err)
	}

	ids := make([]string, len(a.Purchases))
	for i, p := range a.Purchases {
		ids[i] = p.ID
	}
	if _, err := tx.Exec(ctx, `DELETE FROM purchases WHERE address = $1 AND NOT (id = ANY($2))`, a.Address, ids); err != nil {
		return fmt.Errorf("postgres: prune purchases %s: %w", a.Address, err)
	}

	if len(a.Purchases) > 0 {
		const insert = `
			INSERT INTO purchases (
				id, address, seq, market_id, option, amount, shares, price,
				market_question, option_text, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				seq    = EXCLUDED.seq,
				shares = EXCLUDED.shares,
				price  = EXCLUDED.price`
		batch := &pgx.Batch{}
		for i, p := range a.Purchases {
			batch.Queue(insert, p.ID, a.Address, i, p.MarketID, string(p.Option), p.Amount,
				p.Shares, p.Price, p.MarketQuestion, p.OptionText, p.Timestamp)
		}
		br := tx.SendBatch(ctx, batch)
		for range a.Purchases {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("postgres: insert purchase for %s: %w", a.Address, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close purchase batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit account %s: %w", a.Address, err)
	}
	return nil
}

// Delete removes the account and, by cascade, its purchases.
func (s *AccountStore) Delete(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("postgres: delete account %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.BalanceRepository = (*AccountStore)(nil)
