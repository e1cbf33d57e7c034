package postgres

import "github.com/alanyoungcy/kiniela/internal/domain"

// Stores returns the repositories backed by c.
func (c *Client) Stores() domain.Stores {
	return domain.Stores{
		Accounts: NewAccountStore(c.pool),
		Impact:   NewImpactStore(c.pool),
		Markets:  NewMarketStore(c.pool),
		Audit:    NewAuditStore(c.pool),
	}
}
