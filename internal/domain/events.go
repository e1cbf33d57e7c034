package domain

// Bus channels.
const (
	ChannelMarkets   = "markets"
	ChannelImpact    = "impact"
	ChannelPurchases = "purchases"
)

// Event types published on the bus.
const (
	EventMarketBootstrapped = "market_bootstrapped"
	EventMarketUpdated      = "market_updated"
	EventMarketClosed       = "market_closed"
	EventMarketResolved     = "market_resolved"
	EventPurchaseCompleted  = "purchase_completed"
	EventPurchaseFailed     = "purchase_failed"
	EventDonationRecorded   = "donation_recorded"
	EventGoalReached        = "goal_reached"
	EventImpactReset        = "impact_reset"
)

// Event is the JSON envelope published on the signal bus.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
