// Package pricing implements the share-ratio pricing rule of the mock market
// maker, including the one-time bootstrap that seeds the opposite side of a
// market on its first purchase.
package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// BootstrapPrice is the fixed execution price of the first purchase on a market.
const BootstrapPrice = 0.5

// DefaultInitialPool is the amount the engine injects on the opposite side
// when a market is bootstrapped.
const DefaultInitialPool = 100.0

// Curve prices purchases against a market's outstanding shares.
type Curve struct {
	InitialPool float64
}

// NewCurve returns a Curve that seeds bootstrapped markets with initialPool.
func NewCurve(initialPool float64) Curve {
	return Curve{InitialPool: initialPool}
}

// Fill describes the result of pricing one purchase.
type Fill struct {
	Option         domain.Option
	Amount         float64
	ExecutionPrice float64
	Shares         float64
	Bootstrap      bool
	PoolShares     float64
}

// Quote prices a purchase of amount on option without touching m.
func (c Curve) Quote(m domain.Market, option domain.Option, amount float64) (Fill, error) {
	if !option.Valid() {
		return Fill{}, fmt.Errorf("pricing: %w: %q", domain.ErrInvalidOption, option)
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return Fill{}, fmt.Errorf("pricing: %w: %v", domain.ErrInvalidAmount, amount)
	}
	if !m.State.AcceptsPurchases() {
		return Fill{}, fmt.Errorf("pricing: market %d is %s: %w", m.ID, m.State, domain.ErrMarketNotActive)
	}

	if m.State == domain.MarketStateUninitialized {
		return Fill{
			Option:         option,
			Amount:         amount,
			ExecutionPrice: BootstrapPrice,
			Shares:         amount / BootstrapPrice,
			Bootstrap:      true,
			PoolShares:     c.InitialPool / BootstrapPrice,
		}, nil
	}

	price := m.Price(option)
	if price <= 0 {
		return Fill{}, fmt.Errorf("pricing: market %d option %s has no liquidity: %w", m.ID, option, domain.ErrMarketNotActive)
	}
	return Fill{
		Option:         option,
		Amount:         amount,
		ExecutionPrice: price,
		Shares:         amount / price,
	}, nil
}

// Apply prices the purchase and mutates m in place. The buyer's holding for
// address is credited with the purchased shares; pool shares injected on
// bootstrap belong to no one.
func (c Curve) Apply(m *domain.Market, address string, option domain.Option, amount float64, now time.Time) (Fill, error) {
	fill, err := c.Quote(*m, option, amount)
	if err != nil {
		return Fill{}, err
	}

	if fill.Bootstrap {
		addShares(m, option, fill.Shares)
		addShares(m, option.Opposite(), fill.PoolShares)
		m.TotalFunds = amount + c.InitialPool
		m.State = domain.MarketStateActive
	} else {
		addShares(m, option, fill.Shares)
		m.TotalFunds += amount
	}

	if m.Holdings == nil {
		m.Holdings = make(map[string]domain.Holding)
	}
	h := m.Holdings[address]
	if option == domain.OptionA {
		h.SharesA += fill.Shares
	} else {
		h.SharesB += fill.Shares
	}
	h.Invested += amount
	m.Holdings[address] = h
	m.UpdatedAt = now
	return fill, nil
}

// PotentialWinnings returns what h would pay out if the better side for the
// holder resolved at current prices, net of what was invested.
func PotentialWinnings(m domain.Market, h domain.Holding) float64 {
	if h.Invested == 0 && h.SharesA == 0 && h.SharesB == 0 {
		return 0
	}
	priceA, priceB := m.Prices()
	var best float64
	if priceA > 0 {
		best = h.SharesA / priceA
	}
	if priceB > 0 {
		best = math.Max(best, h.SharesB/priceB)
	}
	return best - h.Invested
}

func addShares(m *domain.Market, option domain.Option, shares float64) {
	if option == domain.OptionA {
		m.SharesA += shares
	} else {
		m.SharesB += shares
	}
}
