package domain

import (
	"math"
	"time"
)

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionConfirmed CommissionStatus = "confirmed"
	CommissionSettled   CommissionStatus = "settled"
	CommissionCancelled CommissionStatus = "cancelled"
)

// Commission is the monetary claim derived from a conversion. Rate is a
// snapshot taken at creation time and never re-read, so later partner
// rate changes do not affect existing commissions. At most one
// non-cancelled commission exists per conversion.
type Commission struct {
	ID                string           `json:"id"`
	PartnerID         string           `json:"partner_id"`
	ConversionID      string           `json:"conversion_id"`
	BaseAmount        int64            `json:"base_amount"`
	Rate              float64          `json:"rate"`
	CommissionAmount  int64            `json:"commission_amount"`
	BonusAmount       int64            `json:"bonus_amount"`
	FinalAmount       int64            `json:"final_amount"`
	Status            CommissionStatus `json:"status"`
	SettlementBatchID string           `json:"settlement_batch_id,omitempty"`
	ConfirmedAt       *time.Time       `json:"confirmed_at,omitempty"`
	SettledAt         *time.Time       `json:"settled_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

var commissionTransitions = map[CommissionStatus][]CommissionStatus{
	CommissionPending:   {CommissionConfirmed, CommissionCancelled},
	CommissionConfirmed: {CommissionSettled, CommissionCancelled},
}

// CanBecome reports whether a commission in status s may transition to t.
// Settled and cancelled are terminal; settled in particular can never be
// cancelled through the lifecycle.
func (s CommissionStatus) CanBecome(t CommissionStatus) bool {
	for _, allowed := range commissionTransitions[s] {
		if allowed == t {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are legal from s.
func (s CommissionStatus) Terminal() bool {
	return len(commissionTransitions[s]) == 0
}

// ComputeCommission returns the commission amount for a base amount in
// minor units and a percentage rate, rounded to the nearest unit.
func ComputeCommission(baseAmount int64, rate float64) int64 {
	return int64(math.Round(float64(baseAmount) * rate / 100))
}
