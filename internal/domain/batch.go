package domain

import "time"

type BatchStatus string

const (
	BatchCreated BatchStatus = "created"
	BatchPaid    BatchStatus = "paid"
	BatchFailed  BatchStatus = "failed"
)

// SettlementBatch is a payout unit. Commission membership is append-only:
// a commission joins exactly one batch, at batch creation, and is never
// detached. A failed payout is compensated with a reversal commission,
// never by mutating the historical batch.
type SettlementBatch struct {
	ID              string      `json:"id"`
	PartnerID       string      `json:"partner_id"`
	TotalAmount     int64       `json:"total_amount"`
	CommissionCount int         `json:"commission_count"`
	CommissionIDs   []string    `json:"commission_ids,omitempty"`
	Status          BatchStatus `json:"status"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	PaidAt          *time.Time  `json:"paid_at,omitempty"`
}
