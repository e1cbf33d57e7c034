package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// MarketStore implements domain.MarketRepository using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const selectMarket = `
	SELECT id, question, option_a, option_b, shares_a, shares_b, total_funds,
	       close_time, state, winner, created_at, updated_at
	FROM markets`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var closeTime *time.Time
	var state, winner string
	err := row.Scan(&m.ID, &m.Question, &m.OptionA, &m.OptionB, &m.SharesA, &m.SharesB,
		&m.TotalFunds, &closeTime, &state, &winner, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Market{}, err
	}
	if closeTime != nil {
		m.CloseTime = *closeTime
	}
	m.State = domain.MarketState(state)
	m.Winner = domain.Option(winner)
	return m, nil
}

// Get returns the market with its holdings.
func (s *MarketStore) Get(ctx context.Context, id int64) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, selectMarket+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	m.Holdings, err = s.holdings(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// List returns every market ordered by id.
func (s *MarketStore) List(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, selectMarket+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}

	for i := range markets {
		h, err := s.holdings(ctx, markets[i].ID)
		if err != nil {
			return nil, err
		}
		markets[i].Holdings = h
	}
	return markets, nil
}

func (s *MarketStore) holdings(ctx context.Context, id int64) (map[string]domain.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, shares_a, shares_b, invested FROM market_holdings WHERE market_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: list holdings %d: %w", id, err)
	}
	defer rows.Close()

	var out map[string]domain.Holding
	for rows.Next() {
		var addr string
		var h domain.Holding
		if err := rows.Scan(&addr, &h.SharesA, &h.SharesB, &h.Invested); err != nil {
			return nil, fmt.Errorf("postgres: scan holding: %w", err)
		}
		if out == nil {
			out = make(map[string]domain.Holding)
		}
		out[addr] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list holdings rows: %w", err)
	}
	return out, nil
}

// Save upserts the market row and its holdings.
func (s *MarketStore) Save(ctx context.Context, m domain.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save market %d: %w", m.ID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var closeTime *time.Time
	if !m.CloseTime.IsZero() {
		ct := m.CloseTime
		closeTime = &ct
	}

	const upsert = `
		INSERT INTO markets (
			id, question, option_a, option_b, shares_a, shares_b, total_funds,
			close_time, state, winner, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			question    = EXCLUDED.question,
			option_a    = EXCLUDED.option_a,
			option_b    = EXCLUDED.option_b,
			shares_a    = EXCLUDED.shares_a,
			shares_b    = EXCLUDED.shares_b,
			total_funds = EXCLUDED.total_funds,
			close_time  = EXCLUDED.close_time,
			state       = EXCLUDED.state,
			winner      = EXCLUDED.winner,
			updated_at  = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, upsert, m.ID, m.Question, m.OptionA, m.OptionB, m.SharesA, m.SharesB,
		m.TotalFunds, closeTime, string(m.State), string(m.Winner), m.CreatedAt, m.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}

	if len(m.Holdings) > 0 {
		const holding = `
			INSERT INTO market_holdings (market_id, address, shares_a, shares_b, invested)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (market_id, address) DO UPDATE SET
				shares_a = EXCLUDED.shares_a,
				shares_b = EXCLUDED.shares_b,
				invested = EXCLUDED.invested`
		batch := &pgx.Batch{}
		for addr, h := range m.Holdings {
			batch.Queue(holding, m.ID, addr, h.SharesA, h.SharesB, h.Invested)
		}
		br := tx.SendBatch(ctx, batch)
		for range m.Holdings {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("postgres: upsert holding for market %d: %w", m.ID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close holding batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit market %d: %w", m.ID, err)
	}
	return nil
}

var _ domain.MarketRepository = (*MarketStore)(nil)
