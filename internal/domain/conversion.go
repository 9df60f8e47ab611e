package domain

import "time"

type ConversionStatus string

const (
	ConversionPending   ConversionStatus = "pending"
	ConversionConfirmed ConversionStatus = "confirmed"
	ConversionCancelled ConversionStatus = "cancelled"
	ConversionRefunded  ConversionStatus = "refunded"
)

// ReasonAttributionExpired marks conversions cancelled by the expiry
// sweeper, as opposed to manual or fraud cancellations.
const ReasonAttributionExpired = "attribution-expired"

// Conversion is an order attributed to a partner. ClickID is zero for
// click-less (direct) attributions. OrderID is unique across all
// non-cancelled conversions. Conversions are never deleted; they are
// voided via status.
type Conversion struct {
	ID               string           `json:"id"`
	PartnerID        string           `json:"partner_id"`
	ClickID          int64            `json:"click_id,omitempty"`
	OrderID          string           `json:"order_id"`
	ProductType      string           `json:"product_type,omitempty"`
	OrderAmount      int64            `json:"order_amount"`
	CommissionAmount int64            `json:"commission_amount"`
	Status           ConversionStatus `json:"status"`
	AttributionDays  int              `json:"attribution_days"`
	CancelReason     string           `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// conversionTransitions is the full legal transition table. Anything not
// listed is illegal; same-state repeats are handled as idempotent no-ops
// by callers before consulting the table.
var conversionTransitions = map[ConversionStatus][]ConversionStatus{
	ConversionPending:   {ConversionConfirmed, ConversionCancelled, ConversionRefunded},
	ConversionConfirmed: {ConversionRefunded},
}

// CanBecome reports whether a conversion in status s may transition to t.
func (s ConversionStatus) CanBecome(t ConversionStatus) bool {
	for _, allowed := range conversionTransitions[s] {
		if allowed == t {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are legal from s.
func (s ConversionStatus) Terminal() bool {
	return len(conversionTransitions[s]) == 0
}
