package domain

import "time"

// Click is an immutable record of a single referral visit. Only the
// converted flag and the conversion back-reference are ever updated, and
// only once. Click ids are assigned by the store in monotonically
// increasing order, which the attribution tie-break depends on.
type Click struct {
	ID           int64     `json:"id"`
	PartnerID    string    `json:"partner_id"`
	LinkID       string    `json:"link_id,omitempty"`
	SessionID    string    `json:"session_id"`
	LandingURL   string    `json:"landing_url"`
	Converted    bool      `json:"converted"`
	ConversionID string    `json:"conversion_id,omitempty"`
	ClickedAt    time.Time `json:"clicked_at"`
}

// Link maps a referral code to a partner and carries per-link aggregate
// counters.
type Link struct {
	ID              string    `json:"id"`
	PartnerID       string    `json:"partner_id"`
	Code            string    `json:"code"`
	DestinationURL  string    `json:"destination_url"`
	ClickCount      int64     `json:"click_count"`
	ConversionCount int64     `json:"conversion_count"`
	CreatedAt       time.Time `json:"created_at"`
}
