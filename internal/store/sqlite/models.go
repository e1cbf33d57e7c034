package sqlite

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

type accountModel struct {
	Address        string          `gorm:"primaryKey"`
	InitialBalance decimal.Decimal `gorm:"type:decimal(20,6)"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt      time.Time       `gorm:"autoCreateTime:false"`
	LastUpdated    time.Time
}

func (accountModel) TableName() string { return "accounts" }

type purchaseModel struct {
	ID             string `gorm:"primaryKey"`
	Address        string `gorm:"index:idx_purchase_address_seq,priority:1"`
	Seq            int    `gorm:"index:idx_purchase_address_seq,priority:2"`
	MarketID       int64
	Option         string
	Amount         decimal.Decimal `gorm:"type:decimal(20,6)"`
	Shares         float64
	Price          float64
	MarketQuestion string
	OptionText     string
	Timestamp      time.Time
}

func (purchaseModel) TableName() string { return "purchases" }

type marketModel struct {
	ID         int64 `gorm:"primaryKey;autoIncrement:false"`
	Question   string
	OptionA    string
	OptionB    string
	SharesA    float64
	SharesB    float64
	TotalFunds decimal.Decimal `gorm:"type:decimal(20,6)"`
	CloseTime  *time.Time
	State      string
	Winner     string
	Holdings   map[string]domain.Holding `gorm:"serializer:json"`
	CreatedAt  time.Time                 `gorm:"autoCreateTime:false"`
	UpdatedAt  time.Time                 `gorm:"autoUpdateTime:false"`
}

func (marketModel) TableName() string { return "markets" }

type impactModel struct {
	Scope        string         `gorm:"primaryKey"`
	Causes       []domain.Cause `gorm:"serializer:json"`
	TotalDonated decimal.Decimal `gorm:"type:decimal(20,6)"`
	MonthlyGoal  decimal.Decimal `gorm:"type:decimal(20,6)"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime:false"`
}

func (impactModel) TableName() string { return "impact_ledgers" }

type donationModel struct {
	ID             string `gorm:"primaryKey"`
	Scope          string `gorm:"index:idx_donation_scope_seq,priority:1"`
	Seq            int    `gorm:"index:idx_donation_scope_seq,priority:2"`
	CauseID        string
	Amount         decimal.Decimal `gorm:"type:decimal(20,6)"`
	FromPurchase   decimal.Decimal `gorm:"type:decimal(20,6)"`
	MarketID       int64
	MarketQuestion string
	Timestamp      time.Time
}

func (donationModel) TableName() string { return "donations" }

type auditModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	Event     string         `gorm:"index"`
	Detail    map[string]any `gorm:"serializer:json"`
	CreatedAt time.Time      `gorm:"index"`
}

func (auditModel) TableName() string { return "audit_log" }

func toAccountModel(a domain.UserAccount) accountModel {
	return accountModel{
		Address:        a.Address,
		InitialBalance: decimal.NewFromFloat(a.InitialBalance),
		CurrentBalance: decimal.NewFromFloat(a.CurrentBalance),
		CreatedAt:      a.CreatedAt,
		LastUpdated:    a.LastUpdated,
	}
}

func (m accountModel) toDomain(purchases []purchaseModel) domain.UserAccount {
	a := domain.UserAccount{
		Address:        m.Address,
		InitialBalance: m.InitialBalance.InexactFloat64(),
		CurrentBalance: m.CurrentBalance.InexactFloat64(),
		Purchases:      make([]domain.Purchase, 0, len(purchases)),
		CreatedAt:      m.CreatedAt,
		LastUpdated:    m.LastUpdated,
	}
	for _, p := range purchases {
		a.Purchases = append(a.Purchases, domain.Purchase{
			ID:             p.ID,
			MarketID:       p.MarketID,
			Option:         domain.Option(p.Option),
			Amount:         p.Amount.InexactFloat64(),
			Shares:         p.Shares,
			Price:          p.Price,
			Timestamp:      p.Timestamp,
			MarketQuestion: p.MarketQuestion,
			OptionText:     p.OptionText,
		})
	}
	return a
}

func toMarketModel(m domain.Market) marketModel {
	var closeTime *time.Time
	if !m.CloseTime.IsZero() {
		ct := m.CloseTime
		closeTime = &ct
	}
	return marketModel{
		ID:         m.ID,
		Question:   m.Question,
		OptionA:    m.OptionA,
		OptionB:    m.OptionB,
		SharesA:    m.SharesA,
		SharesB:    m.SharesB,
		TotalFunds: decimal.NewFromFloat(m.TotalFunds),
		CloseTime:  closeTime,
		State:      string(m.State),
		Winner:     string(m.Winner),
		Holdings:   m.Holdings,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func (m marketModel) toDomain() domain.Market {
	out := domain.Market{
		ID:         m.ID,
		Question:   m.Question,
		OptionA:    m.OptionA,
		OptionB:    m.OptionB,
		SharesA:    m.SharesA,
		SharesB:    m.SharesB,
		TotalFunds: m.TotalFunds.InexactFloat64(),
		State:      domain.MarketState(m.State),
		Winner:     domain.Option(m.Winner),
		Holdings:   m.Holdings,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.CloseTime != nil {
		out.CloseTime = *m.CloseTime
	}
	return out
}

func (m impactModel) toDomain(donations []donationModel) domain.ImpactLedger {
	l := domain.ImpactLedger{
		Scope:        m.Scope,
		Causes:       m.Causes,
		Donations:    make([]domain.Donation, 0, len(donations)),
		TotalDonated: m.TotalDonated.InexactFloat64(),
		MonthlyGoal:  m.MonthlyGoal.InexactFloat64(),
		LastUpdated:  m.UpdatedAt,
	}
	for _, d := range donations {
		l.Donations = append(l.Donations, domain.Donation{
			ID:             d.ID,
			CauseID:        d.CauseID,
			Amount:         d.Amount.InexactFloat64(),
			FromPurchase:   d.FromPurchase.InexactFloat64(),
			Timestamp:      d.Timestamp,
			MarketQuestion: d.MarketQuestion,
			MarketID:       d.MarketID,
		})
	}
	return l
}
