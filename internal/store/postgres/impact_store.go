package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// ImpactStore implements domain.ImpactRepository using PostgreSQL. Causes are
// stored as JSONB on the ledger row, donations in their own table.
type ImpactStore struct {
	pool *pgxpool.Pool
}

// NewImpactStore creates a new ImpactStore backed by the given connection pool.
func NewImpactStore(pool *pgxpool.Pool) *ImpactStore {
	return &ImpactStore{pool: pool}
}

const selectLedger = `
	SELECT scope, causes, total_donated, monthly_goal, updated_at
	FROM impact_ledgers`

func scanLedger(row pgx.Row) (domain.ImpactLedger, error) {
	var l domain.ImpactLedger
	var causesJSON []byte
	if err := row.Scan(&l.Scope, &causesJSON, &l.TotalDonated, &l.MonthlyGoal, &l.LastUpdated); err != nil {
		return domain.ImpactLedger{}, err
	}
	if len(causesJSON) > 0 {
		if err := json.Unmarshal(causesJSON, &l.Causes); err != nil {
			return domain.ImpactLedger{}, fmt.Errorf("postgres: unmarshal causes: %w", err)
		}
	}
	return l, nil
}

// Get returns the ledger at scope with its donations.
func (s *ImpactStore) Get(ctx context.Context, scope string) (domain.ImpactLedger, error) {
	l, err := scanLedger(s.pool.QueryRow(ctx, selectLedger+` WHERE scope = $1`, scope))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImpactLedger{}, domain.ErrNotFound
		}
		return domain.ImpactLedger{}, fmt.Errorf("postgres: get impact ledger %s: %w", scope, err)
	}
	l.Donations, err = s.donations(ctx, scope)
	if err != nil {
		return domain.ImpactLedger{}, err
	}
	return l, nil
}

// List returns every ledger with its donations.
func (s *ImpactStore) List(ctx context.Context) ([]domain.ImpactLedger, error) {
	rows, err := s.pool.Query(ctx, selectLedger+` ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list impact ledgers: %w", err)
	}
	var ledgers []domain.ImpactLedger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan impact ledger: %w", err)
		}
		ledgers = append(ledgers, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list impact ledgers rows: %w", err)
	}

	for i := range ledgers {
		d, err := s.donations(ctx, ledgers[i].Scope)
		if err != nil {
			return nil, err
		}
		ledgers[i].Donations = d
	}
	return ledgers, nil
}

func (s *ImpactStore) donations(ctx context.Context, scope string) ([]domain.Donation, error) {
	const query = `
		SELECT id, cause_id, amount, from_purchase, market_id, market_question, created_at
		FROM donations WHERE scope = $1 ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, scope)
	if err != nil {
		return nil, fmt.Errorf("postgres: list donations %s: %w", scope, err)
	}
	defer rows.Close()

	out := []domain.Donation{}
	for rows.Next() {
		var d domain.Donation
		if err := rows.Scan(&d.ID, &d.CauseID, &d.Amount, &d.FromPurchase, &d.MarketID, &d.MarketQuestion, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan donation: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list donations rows: %w", err)
	}
	return out, nil
}

// Save upserts the ledger row and brings the donation rows in line with
// l.Donations. A reset ledger prunes every donation row.
func (s *ImpactStore) Save(ctx context.Context, l domain.ImpactLedger) error {
	causesJSON, err := json.Marshal(l.Causes)
	if err != nil {
		return fmt.Errorf("postgres: marshal causes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save impact %s: %w", l.Scope, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const upsert = `
		INSERT INTO impact_ledgers (scope, causes, total_donated, monthly_goal, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope) DO UPDATE SET
			causes        = EXCLUDED.causes,
			total_donated = EXCLUDED.total_donated,
			monthly_goal  = EXCLUDED.monthly_goal,
			updated_at    = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, upsert, l.Scope, causesJSON, l.TotalDonated, l.MonthlyGoal, l.LastUpdated); err != nil {
		return fmt.Errorf("postgres: upsert impact ledger %s: %w", l.Scope, err)
	}

	ids := make([]string, len(l.Donations))
	for i, d := range l.Donations {
		ids[i] = d.ID
	}
	if _, err := tx.Exec(ctx, `DELETE FROM donations WHERE scope = $1 AND NOT (id = ANY($2))`, l.Scope, ids); err != nil {
		return fmt.Errorf("postgres: prune donations %s: %w", l.Scope, err)
	}

	if len(l.Donations) > 0 {
		const insert = `
			INSERT INTO donations (
				id, scope, seq, cause_id, amount, from_purchase,
				market_id, market_question, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`
		batch := &pgx.Batch{}
		for i, d := range l.Donations {
			batch.Queue(insert, d.ID, l.Scope, i, d.CauseID, d.Amount, d.FromPurchase,
				d.MarketID, d.MarketQuestion, d.Timestamp)
		}
		br := tx.SendBatch(ctx, batch)
		for range l.Donations {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("postgres: insert donation for %s: %w", l.Scope, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close donation batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit impact %s: %w", l.Scope, err)
	}
	return nil
}

var _ domain.ImpactRepository = (*ImpactStore)(nil)
