package domain

import (
	"fmt"
	"time"
)

// Option identifies one of the two outcomes of a market.
type Option string

const (
	OptionA Option = "A"
	OptionB Option = "B"
)

// Valid reports whether o is A or B.
func (o Option) Valid() bool {
	return o == OptionA || o == OptionB
}

// Opposite returns the other side of a binary market.
func (o Option) Opposite() Option {
	if o == OptionA {
		return OptionB
	}
	return OptionA
}

// ParseOption converts user input into an Option.
func ParseOption(s string) (Option, error) {
	o := Option(s)
	if !o.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOption, s)
	}
	return o, nil
}

// MarketState is the lifecycle state of a market. A market starts
// Uninitialized, becomes Active on its first purchase, and may later be
// Closed and finally Resolved.
type MarketState string

const (
	MarketStateUninitialized MarketState = "uninitialized"
	MarketStateActive        MarketState = "active"
	MarketStateClosed        MarketState = "closed"
	MarketStateResolved      MarketState = "resolved"
)

// AcceptsPurchases reports whether a purchase may be applied in this state.
func (s MarketState) AcceptsPurchases() bool {
	return s == MarketStateUninitialized || s == MarketStateActive
}

// Status maps the lifecycle state onto the public status vocabulary
// (active, closed, resolved). An uninitialized market is open for trading
// and therefore reported as active.
func (s MarketState) Status() string {
	switch s {
	case MarketStateUninitialized, MarketStateActive:
		return "active"
	default:
		return string(s)
	}
}

// Holding is a single address's accumulated position in a market.
type Holding struct {
	SharesA  float64 `json:"sharesA"`
	SharesB  float64 `json:"sharesB"`
	Invested float64 `json:"invested"`
}

// Market is a binary prediction market priced by its share ratio.
type Market struct {
	ID         int64              `json:"id"`
	Question   string             `json:"question"`
	OptionA    string             `json:"optionA"`
	OptionB    string             `json:"optionB"`
	SharesA    float64            `json:"sharesA"`
	SharesB    float64            `json:"sharesB"`
	TotalFunds float64            `json:"totalFunds"`
	CloseTime  time.Time          `json:"endTime"`
	State      MarketState        `json:"state"`
	Winner     Option             `json:"winner,omitempty"`
	Holdings   map[string]Holding `json:"holdings,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// Prices returns the current price of each option. An empty book is quoted
// at 0.5/0.5.
func (m Market) Prices() (priceA, priceB float64) {
	total := m.SharesA + m.SharesB
	if total <= 0 {
		return 0.5, 0.5
	}
	priceA = m.SharesA / total
	return priceA, 1 - priceA
}

// Price returns the current price of a single option.
func (m Market) Price(o Option) float64 {
	a, b := m.Prices()
	if o == OptionA {
		return a
	}
	return b
}

// OptionText returns the label of the given option.
func (m Market) OptionText(o Option) string {
	if o == OptionA {
		return m.OptionA
	}
	return m.OptionB
}

// Holding returns the position held by address (zero value if none).
func (m Market) Holding(address string) Holding {
	return m.Holdings[address]
}

// Clone returns a deep copy of m.
func (m Market) Clone() Market {
	out := m
	if m.Holdings != nil {
		out.Holdings = make(map[string]Holding, len(m.Holdings))
		for k, v := range m.Holdings {
			out.Holdings[k] = v
		}
	}
	return out
}

// Snapshot renders the market as seen by address.
func (m Market) Snapshot(address string) MarketSnapshot {
	priceA, priceB := m.Prices()
	h := m.Holding(address)
	return MarketSnapshot{
		ID:           m.ID,
		Question:     m.Question,
		OptionA:      m.OptionA,
		OptionB:      m.OptionB,
		SharesA:      m.SharesA,
		SharesB:      m.SharesB,
		TotalFunds:   m.TotalFunds,
		UserSharesA:  h.SharesA,
		UserSharesB:  h.SharesB,
		UserInvested: h.Invested,
		EndTime:      m.CloseTime,
		Status:       m.State.Status(),
		State:        m.State,
		Winner:       m.Winner,
		PriceA:       priceA,
		PriceB:       priceB,
	}
}

// MarketSnapshot is the read-only view of a market handed to collaborators.
type MarketSnapshot struct {
	ID           int64       `json:"id"`
	Question     string      `json:"question"`
	OptionA      string      `json:"optionA"`
	OptionB      string      `json:"optionB"`
	SharesA      float64     `json:"sharesA"`
	SharesB      float64     `json:"sharesB"`
	TotalFunds   float64     `json:"totalFunds"`
	UserSharesA  float64     `json:"userSharesA"`
	UserSharesB  float64     `json:"userSharesB"`
	UserInvested float64     `json:"userInvested"`
	EndTime      time.Time   `json:"endTime"`
	Status       string      `json:"status"`
	State        MarketState `json:"state"`
	Winner       Option      `json:"winner,omitempty"`
	PriceA       float64     `json:"priceA"`
	PriceB       float64     `json:"priceB"`
}

// MarketStats aggregates market figures for one address.
type MarketStats struct {
	TotalMarkets          int     `json:"totalMarkets"`
	ActiveMarkets         int     `json:"activeMarkets"`
	TotalVolume           float64 `json:"totalVolume"`
	UserTotalInvested     float64 `json:"userTotalInvested"`
	UserPotentialWinnings float64 `json:"userPotentialWinnings"`
}

// Quote previews the outcome of a purchase without applying it.
type Quote struct {
	MarketID       int64   `json:"marketId"`
	Option         Option  `json:"option"`
	Amount         float64 `json:"amount"`
	ExecutionPrice float64 `json:"executionPrice"`
	Shares         float64 `json:"shares"`
	Bootstrap      bool    `json:"bootstrap"`
	PoolShares     float64 `json:"poolShares,omitempty"`
	PriceA         float64 `json:"priceA"`
	PriceB         float64 `json:"priceB"`
	SocialFee      float64 `json:"socialFee"`
}
