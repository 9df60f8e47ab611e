package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shoplane/settler/internal/attribution"
	"github.com/shoplane/settler/internal/commission"
	"github.com/shoplane/settler/internal/events"
	"github.com/shoplane/settler/internal/repository"
	"github.com/shoplane/settler/internal/settlement"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	partnerRepo *repository.PartnerRepo,
	convRepo *repository.ConversionRepo,
	attrSvc *attribution.Service,
	commSvc *commission.Service,
	settSvc *settlement.Service,
	eventSvc *events.Service,
) http.Handler {
	h := &Handlers{
		partnerRepo: partnerRepo,
		convRepo:    convRepo,
		attrSvc:     attrSvc,
		commSvc:     commSvc,
		settSvc:     settSvc,
		eventSvc:    eventSvc,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		// Partners and links.
		r.Post("/partners", h.CreatePartner)
		r.Get("/partners", h.ListPartners)
		r.Get("/partners/{id}", h.GetPartner)
		r.Put("/partners/{id}/rate", h.UpdatePartnerRate)
		r.Post("/links", h.CreateLink)

		// Click tracking boundary.
		r.Post("/clicks", h.RecordClick)

		// Order lifecycle event intake.
		r.Post("/events/order", h.HandleOrderEvent)

		// Conversions.
		r.Get("/conversions/{id}", h.GetConversion)
		r.Post("/conversions/{id}/confirm", h.ConfirmConversion)
		r.Post("/conversions/{id}/cancel", h.CancelConversion)
		r.Post("/conversions/{id}/refund", h.RefundConversion)

		// Commissions.
		r.Post("/commissions", h.CreateCommission)
		r.Get("/commissions/{id}", h.GetCommission)
		r.Post("/commissions/{id}/confirm", h.ConfirmCommission)
		r.Post("/commissions/{id}/cancel", h.CancelCommission)

		// Settlement.
		r.Get("/partners/{id}/settleable", h.GetSettleable)
		r.Post("/partners/{id}/settlements", h.CreateSettlementBatch)
		r.Get("/settlements", h.ListSettlementBatches)
		r.Get("/settlements/{id}", h.GetSettlementBatch)
		r.Post("/settlements/{id}/paid", h.MarkBatchPaid)
		r.Post("/settlements/{id}/failed", h.MarkBatchFailed)

		// Reconciliation and dashboard.
		r.Get("/reconciliation", h.Reconcile)
		r.Get("/dashboard", h.GetDashboard)
	})

	return r
}
