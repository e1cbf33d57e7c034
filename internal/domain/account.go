package domain

import "time"

// Purchase records one share purchase made from an account.
type Purchase struct {
	ID             string    `json:"id"`
	MarketID       int64     `json:"marketId"`
	Option         Option    `json:"option"`
	Amount         float64   `json:"amount"`
	Shares         float64   `json:"shares"`
	Price          float64   `json:"price"`
	Timestamp      time.Time `json:"timestamp"`
	MarketQuestion string    `json:"marketQuestion"`
	OptionText     string    `json:"optionText"`
}

// UserAccount is the simulated balance of one wallet address.
type UserAccount struct {
	Address        string     `json:"address"`
	InitialBalance float64    `json:"initialBalance"`
	CurrentBalance float64    `json:"currentBalance"`
	Purchases      []Purchase `json:"purchases"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastUpdated    time.Time  `json:"lastUpdated"`
}

// NewUserAccount returns a fresh account funded with initial.
func NewUserAccount(address string, initial float64, now time.Time) UserAccount {
	return UserAccount{
		Address:        address,
		InitialBalance: initial,
		CurrentBalance: initial,
		Purchases:      []Purchase{},
		CreatedAt:      now,
		LastUpdated:    now,
	}
}

// Clone returns a deep copy of a.
func (a UserAccount) Clone() UserAccount {
	out := a
	out.Purchases = make([]Purchase, len(a.Purchases))
	copy(out.Purchases, a.Purchases)
	return out
}

// TotalSpent sums every purchase amount.
func (a UserAccount) TotalSpent() float64 {
	var sum float64
	for _, p := range a.Purchases {
		sum += p.Amount
	}
	return sum
}
