package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shoplane/settler/internal/attribution"
	"github.com/shoplane/settler/internal/commission"
	"github.com/shoplane/settler/internal/domain"
	"github.com/shoplane/settler/internal/events"
	"github.com/shoplane/settler/internal/repository"
	"github.com/shoplane/settler/internal/settlement"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	partnerRepo *repository.PartnerRepo
	convRepo    *repository.ConversionRepo
	attrSvc     *attribution.Service
	commSvc     *commission.Service
	settSvc     *settlement.Service
	eventSvc    *events.Service
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses:
// validation 400, missing 404, illegal transitions and settled conflicts
// 409, everything else 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrAlreadyConverted),
		errors.Is(err, domain.ErrNothingToSettle):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return false
	}
	return true
}

// --- partners ---

func (h *Handlers) CreatePartner(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string  `json:"name"`
		CommissionRate float64 `json:"commission_rate"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.CommissionRate < 0 {
		writeError(w, http.StatusBadRequest, "name and a non-negative commission_rate are required")
		return
	}

	p := &domain.Partner{
		ID:             uuid.NewString(),
		Name:           req.Name,
		CommissionRate: req.CommissionRate,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.partnerRepo.Insert(p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) ListPartners(w http.ResponseWriter, r *http.Request) {
	partners, err := h.partnerRepo.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"partners": partners, "total": len(partners)})
}

func (h *Handlers) GetPartner(w http.ResponseWriter, r *http.Request) {
	p, err := h.partnerRepo.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) UpdatePartnerRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommissionRate float64 `json:"commission_rate"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CommissionRate < 0 {
		writeError(w, http.StatusBadRequest, "commission_rate must be non-negative")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.partnerRepo.UpdateRate(id, req.CommissionRate); err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := h.partnerRepo.GetByID(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- links and clicks ---

func (h *Handlers) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartnerID      string `json:"partner_id"`
		Code           string `json:"code"`
		DestinationURL string `json:"destination_url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	link, err := h.attrSvc.CreateLink(req.PartnerID, req.Code, req.DestinationURL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *Handlers) RecordClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code       string `json:"code,omitempty"`
		PartnerID  string `json:"partner_id,omitempty"`
		LinkID     string `json:"link_id,omitempty"`
		SessionID  string `json:"session_id"`
		LandingURL string `json:"landing_url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var click *domain.Click
	var err error
	if req.Code != "" {
		click, err = h.attrSvc.RecordClickByCode(req.Code, req.SessionID, req.LandingURL)
	} else {
		click, err = h.attrSvc.RecordClick(req.PartnerID, req.LinkID, req.SessionID, req.LandingURL)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, click)
}

// --- order events ---

func (h *Handlers) HandleOrderEvent(w http.ResponseWriter, r *http.Request) {
	var ev events.OrderEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if err := h.eventSvc.Handle(ev); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- conversions ---

func (h *Handlers) GetConversion(w http.ResponseWriter, r *http.Request) {
	conv, err := h.attrSvc.GetConversion(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) ConfirmConversion(w http.ResponseWriter, r *http.Request) {
	conv, err := h.attrSvc.ConfirmConversion(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) CancelConversion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	conv, err := h.attrSvc.CancelConversion(chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) RefundConversion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	conv, err := h.attrSvc.RefundConversion(chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// --- commissions ---

func (h *Handlers) CreateCommission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversionID string `json:"conversion_id"`
		Bonus        int64  `json:"bonus,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	comm, err := h.commSvc.CreateFromConversion(req.ConversionID, req.Bonus)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if comm == nil {
		writeError(w, http.StatusUnprocessableEntity, "conversion or partner not found; retry later")
		return
	}
	writeJSON(w, http.StatusCreated, comm)
}

func (h *Handlers) GetCommission(w http.ResponseWriter, r *http.Request) {
	comm, err := h.commSvc.GetCommission(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comm)
}

func (h *Handlers) ConfirmCommission(w http.ResponseWriter, r *http.Request) {
	comm, err := h.commSvc.ConfirmCommission(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comm)
}

func (h *Handlers) CancelCommission(w http.ResponseWriter, r *http.Request) {
	comm, err := h.commSvc.CancelCommission(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comm)
}

// --- settlement ---

func (h *Handlers) GetSettleable(w http.ResponseWriter, r *http.Request) {
	s, err := h.settSvc.GetSettleableAmount(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) CreateSettlementBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.settSvc.CreateBatch(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (h *Handlers) ListSettlementBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.settSvc.ListBatches(r.URL.Query().Get("partner_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches, "total": len(batches)})
}

func (h *Handlers) GetSettlementBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.settSvc.GetBatch(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handlers) MarkBatchPaid(w http.ResponseWriter, r *http.Request) {
	batch, err := h.settSvc.MarkBatchPaid(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handlers) MarkBatchFailed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	batch, err := h.settSvc.MarkBatchFailed(chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// --- reconciliation and dashboard ---

func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	repair := r.URL.Query().Get("repair") == "true"
	drifts, err := h.commSvc.ReconcilePartnerTotals(repair)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drifted":  len(drifts),
		"repaired": repair && len(drifts) > 0,
		"partners": drifts,
	})
}

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	partnerCount, err := h.partnerRepo.Count()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	convCounts, err := h.convRepo.CountByStatus()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"partners":    partnerCount,
		"conversions": convCounts,
	})
}
