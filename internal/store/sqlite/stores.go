package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// AccountStore implements domain.BalanceRepository.
type AccountStore struct {
	d *DB
}

func (s *AccountStore) Get(ctx context.Context, address string) (domain.UserAccount, error) {
	var m accountModel
	err := s.d.conn(ctx).Where("address = ?", address).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.UserAccount{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("sqlite: get account %s: %w", address, err)
	}
	var purchases []purchaseModel
	if err := s.d.conn(ctx).Where("address = ?", address).Order("seq").Find(&purchases).Error; err != nil {
		return domain.UserAccount{}, fmt.Errorf("sqlite: list purchases %s: %w", address, err)
	}
	return m.toDomain(purchases), nil
}

func (s *AccountStore) List(ctx context.Context) ([]domain.UserAccount, error) {
	var models []accountModel
	if err := s.d.conn(ctx).Order("address").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list accounts: %w", err)
	}
	var purchases []purchaseModel
	if err := s.d.conn(ctx).Order("address, seq").Find(&purchases).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list purchases: %w", err)
	}
	byAddr := make(map[string][]purchaseModel)
	for _, p := range purchases {
		byAddr[p.Address] = append(byAddr[p.Address], p)
	}
	out := make([]domain.UserAccount, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain(byAddr[m.Address]))
	}
	return out, nil
}

func (s *AccountStore) Save(ctx context.Context, a domain.UserAccount) error {
	return s.d.conn(ctx).Transaction(func(tx *gorm.DB) error {
		m := toAccountModel(a)
		if err := tx.Save(&m).Error; err != nil {
			return fmt.Errorf("sqlite: save account %s: %w", a.Address, err)
		}

		prune := tx.Where("address = ?", a.Address)
		if len(a.Purchases) > 0 {
			ids := make([]string, len(a.Purchases))
			for i, p := range a.Purchases {
				ids[i] = p.ID
			}
			prune = prune.Where("id NOT IN ?", ids)
		}
		if err := prune.Delete(&purchaseModel{}).Error; err != nil {
			return fmt.Errorf("sqlite: prune purchases %s: %w", a.Address, err)
		}
		if len(a.Purchases) == 0 {
			return nil
		}

		rows := make([]purchaseModel, len(a.Purchases))
		for i, p := range a.Purchases {
			rows[i] = purchaseModel{
				ID:             p.ID,
				Address:        a.Address,
				Seq:            i,
				MarketID:       p.MarketID,
				Option:         string(p.Option),
				Amount:         decimal.NewFromFloat(p.Amount),
				Shares:         p.Shares,
				Price:          p.Price,
				MarketQuestion: p.MarketQuestion,
				OptionText:     p.OptionText,
				Timestamp:      p.Timestamp,
			}
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"seq", "shares", "price"}),
		}).Create(&rows).Error
		if err != nil {
			return fmt.Errorf("sqlite: upsert purchases %s: %w", a.Address, err)
		}
		return nil
	})
}

func (s *AccountStore) Delete(ctx context.Context, address string) error {
	return s.d.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("address = ?", address).Delete(&accountModel{})
		if res.Error != nil {
			return fmt.Errorf("sqlite: delete account %s: %w", address, res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		if err := tx.Where("address = ?", address).Delete(&purchaseModel{}).Error; err != nil {
			return fmt.Errorf("sqlite: delete purchases %s: %w", address, err)
		}
		return nil
	})
}

// ImpactStore implements domain.ImpactRepository.
type ImpactStore struct {
	d *DB
}

func (s *ImpactStore) Get(ctx context.Context, scope string) (domain.ImpactLedger, error) {
	var m impactModel
	err := s.d.conn(ctx).Where("scope = ?", scope).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ImpactLedger{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ImpactLedger{}, fmt.Errorf("sqlite: get impact %s: %w", scope, err)
	}
	var donations []donationModel
	if err := s.d.conn(ctx).Where("scope = ?", scope).Order("seq").Find(&donations).Error; err != nil {
		return domain.ImpactLedger{}, fmt.Errorf("sqlite: list donations %s: %w", scope, err)
	}
	return m.toDomain(donations), nil
}

func (s *ImpactStore) List(ctx context.Context) ([]domain.ImpactLedger, error) {
	var models []impactModel
	if err := s.d.conn(ctx).Order("scope").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list impact: %w", err)
	}
	out := make([]domain.ImpactLedger, 0, len(models))
	for _, m := range models {
		var donations []donationModel
		if err := s.d.conn(ctx).Where("scope = ?", m.Scope).Order("seq").Find(&donations).Error; err != nil {
			return nil, fmt.Errorf("sqlite: list donations %s: %w", m.Scope, err)
		}
		out = append(out, m.toDomain(donations))
	}
	return out, nil
}

func (s *ImpactStore) Save(ctx context.Context, l domain.ImpactLedger) error {
	return s.d.conn(ctx).Transaction(func(tx *gorm.DB) error {
		m := impactModel{
			Scope:        l.Scope,
			Causes:       l.Causes,
			TotalDonated: decimal.NewFromFloat(l.TotalDonated),
			MonthlyGoal:  decimal.NewFromFloat(l.MonthlyGoal),
			UpdatedAt:    l.LastUpdated,
		}
		if err := tx.Save(&m).Error; err != nil {
			return fmt.Errorf("sqlite: save impact %s: %w", l.Scope, err)
		}

		prune := tx.Where("scope = ?", l.Scope)
		if len(l.Donations) > 0 {
			ids := make([]string, len(l.Donations))
			for i, d := range l.Donations {
				ids[i] = d.ID
			}
			prune = prune.Where("id NOT IN ?", ids)
		}
		if err := prune.Delete(&donationModel{}).Error; err != nil {
			return fmt.Errorf("sqlite: prune donations %s: %w", l.Scope, err)
		}
		if len(l.Donations) == 0 {
			return nil
		}

		rows := make([]donationModel, len(l.Donations))
		for i, d := range l.Donations {
			rows[i] = donationModel{
				ID:             d.ID,
				Scope:          l.Scope,
				Seq:            i,
				CauseID:        d.CauseID,
				Amount:         decimal.NewFromFloat(d.Amount),
				FromPurchase:   decimal.NewFromFloat(d.FromPurchase),
				MarketID:       d.MarketID,
				MarketQuestion: d.MarketQuestion,
				Timestamp:      d.Timestamp,
			}
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 200).Error; err != nil {
			return fmt.Errorf("sqlite: insert donations %s: %w", l.Scope, err)
		}
		return nil
	})
}

// MarketStore implements domain.MarketRepository.
type MarketStore struct {
	d *DB
}

func (s *MarketStore) Get(ctx context.Context, id int64) (domain.Market, error) {
	var m marketModel
	err := s.d.conn(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("sqlite: get market %d: %w", id, err)
	}
	return m.toDomain(), nil
}

func (s *MarketStore) List(ctx context.Context) ([]domain.Market, error) {
	var models []marketModel
	if err := s.d.conn(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	out := make([]domain.Market, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (s *MarketStore) Save(ctx context.Context, m domain.Market) error {
	row := toMarketModel(m)
	if err := s.d.conn(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("sqlite: save market %d: %w", m.ID, err)
	}
	return nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	d *DB
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	row := auditModel{Event: event, Detail: detail}
	if err := s.d.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("sqlite: log audit %s: %w", event, err)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	q := s.d.conn(ctx).Model(&auditModel{})
	if opts.Since != nil {
		q = q.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		q = q.Where("created_at <= ?", *opts.Until)
	}
	q = q.Order("id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	var rows []auditModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list audit: %w", err)
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.AuditEntry{ID: r.ID, Event: r.Event, Detail: r.Detail, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

var (
	_ domain.BalanceRepository = (*AccountStore)(nil)
	_ domain.ImpactRepository  = (*ImpactStore)(nil)
	_ domain.MarketRepository  = (*MarketStore)(nil)
	_ domain.AuditStore        = (*AuditStore)(nil)
)
