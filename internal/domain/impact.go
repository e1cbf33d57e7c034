package domain

import (
	"strconv"
	"time"
)

// ImpactScopeGlobal is the scope key of the process-wide impact ledger.
const ImpactScopeGlobal = "global"

// MarketImpactScope returns the scope key used when impact is tracked per market.
func MarketImpactScope(marketID int64) string {
	return "market:" + strconv.FormatInt(marketID, 10)
}

// Cause is a social cause that receives part of every purchase fee.
type Cause struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	FeePercentage float64 `json:"feePercentage"`
	TotalDonated  float64 `json:"totalDonated"`
	Website       string  `json:"website,omitempty"`
	Color         string  `json:"color,omitempty"`
}

// Donation is one allocation of a purchase fee to a cause.
type Donation struct {
	ID             string    `json:"id"`
	CauseID        string    `json:"causeId"`
	Amount         float64   `json:"amount"`
	FromPurchase   float64   `json:"fromPurchase"`
	Timestamp      time.Time `json:"timestamp"`
	MarketQuestion string    `json:"marketQuestion"`
	MarketID       int64     `json:"marketId,omitempty"`
}

// ImpactLedger holds the causes and donation history for one scope.
type ImpactLedger struct {
	Scope        string     `json:"scope,omitempty"`
	Causes       []Cause    `json:"causes"`
	Donations    []Donation `json:"donations"`
	TotalDonated float64    `json:"totalDonated"`
	MonthlyGoal  float64    `json:"monthlyGoal"`
	LastUpdated  time.Time  `json:"lastUpdated"`
}

// Clone returns a deep copy of l.
func (l ImpactLedger) Clone() ImpactLedger {
	out := l
	out.Causes = make([]Cause, len(l.Causes))
	copy(out.Causes, l.Causes)
	out.Donations = make([]Donation, len(l.Donations))
	copy(out.Donations, l.Donations)
	return out
}

// Stats summarises the ledger against its monthly goal. Progress is not
// clamped and Remaining goes negative once the goal is exceeded.
func (l ImpactLedger) Stats() ImpactStats {
	var progress float64
	if l.MonthlyGoal > 0 {
		progress = l.TotalDonated / l.MonthlyGoal * 100
	}
	return ImpactStats{
		TotalDonated:       l.TotalDonated,
		MonthlyGoal:        l.MonthlyGoal,
		ProgressPercentage: progress,
		Remaining:          l.MonthlyGoal - l.TotalDonated,
		TotalDonations:     len(l.Donations),
	}
}

// ImpactStats is the derived summary of an impact ledger.
type ImpactStats struct {
	TotalDonated       float64 `json:"totalDonated"`
	MonthlyGoal        float64 `json:"monthlyGoal"`
	ProgressPercentage float64 `json:"progressPercentage"`
	Remaining          float64 `json:"remaining"`
	TotalDonations     int     `json:"totalDonations"`
}
