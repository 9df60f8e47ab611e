package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClicksRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settler_clicks_recorded_total",
			Help: "Total number of referral clicks recorded",
		},
	)

	ConversionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settler_conversions_recorded_total",
			Help: "Total number of conversions recorded",
		},
		[]string{"attribution"}, // click | direct
	)

	ConversionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settler_conversions_expired_total",
			Help: "Total number of pending conversions cancelled by the expiry sweeper",
		},
	)

	CommissionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settler_commissions_created_total",
			Help: "Total number of commissions created",
		},
	)

	CommissionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settler_commission_transitions_total",
			Help: "Total number of commission status transitions",
		},
		[]string{"to"}, // confirmed | cancelled | settled
	)

	BatchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settler_settlement_batches_created_total",
			Help: "Total number of settlement batches created",
		},
	)
)
