package domain

import "time"

// Partner holds the running aggregates for a referral partner.
// TotalCommission always equals the sum of final amounts over that
// partner's confirmed and settled commissions; it is only ever adjusted
// inside the same transaction as the commission status flip that changes
// it.
type Partner struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	CommissionRate  float64   `json:"commission_rate"`
	TotalCommission int64     `json:"total_commission"`
	ConversionCount int64     `json:"conversion_count"`
	CreatedAt       time.Time `json:"created_at"`
}
