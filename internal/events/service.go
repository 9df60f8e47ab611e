package events

import (
	"errors"
	"fmt"
	"log"

	"github.com/shoplane/settler/internal/attribution"
	"github.com/shoplane/settler/internal/commission"
	"github.com/shoplane/settler/internal/domain"
)

// Order event types delivered by the order-lifecycle boundary.
const (
	OrderCreated   = "order.created"
	OrderConfirmed = "order.confirmed"
	OrderRefunded  = "order.refunded"
)

// OrderEvent is the payload delivered for every order lifecycle change.
// Deliveries are at-least-once and possibly duplicated; every handler is
// idempotent keyed on OrderID.
type OrderEvent struct {
	Type        string `json:"type"`
	OrderID     string `json:"order_id"`
	PartnerID   string `json:"partner_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	ProductType string `json:"product_type,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Service dispatches order lifecycle events into the attribution and
// commission pipelines.
type Service struct {
	attribution *attribution.Service
	commissions *commission.Service
}

func NewService(attr *attribution.Service, comm *commission.Service) *Service {
	return &Service{attribution: attr, commissions: comm}
}

// Handle routes an order event to its handler.
func (s *Service) Handle(ev OrderEvent) error {
	if ev.OrderID == "" {
		return fmt.Errorf("order id is required: %w", domain.ErrInvalidInput)
	}
	switch ev.Type {
	case OrderCreated:
		return s.handleCreated(ev)
	case OrderConfirmed:
		return s.handleConfirmed(ev)
	case OrderRefunded:
		return s.handleRefunded(ev)
	default:
		return fmt.Errorf("event type %q: %w", ev.Type, domain.ErrInvalidInput)
	}
}

// handleCreated records the conversion. When the event does not name a
// partner, the partner is resolved from the session's latest click; an
// order with neither is not attributable and is skipped.
func (s *Service) handleCreated(ev OrderEvent) error {
	partnerID := ev.PartnerID
	if partnerID == "" && ev.SessionID != "" {
		click, err := s.attribution.FindLatestUnconvertedClick(ev.SessionID, s.attribution.Window())
		if err == nil {
			partnerID = click.PartnerID
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	if partnerID == "" {
		log.Printf("[events] Order %s has no referring partner, skipping", ev.OrderID)
		return nil
	}

	_, err := s.attribution.RecordConversion(partnerID, ev.OrderID, ev.Amount, ev.SessionID, ev.ProductType)
	return err
}

// handleConfirmed confirms the conversion and creates its pending
// commission with the partner's current rate. Duplicate deliveries land on
// the idempotent paths of both calls.
func (s *Service) handleConfirmed(ev OrderEvent) error {
	conv, err := s.attribution.GetConversionByOrder(ev.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("[events] WARNING: order %s confirmed but no conversion exists", ev.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.attribution.ConfirmConversion(conv.ID); err != nil {
		return fmt.Errorf("confirm conversion %s: %w", conv.ID, err)
	}
	if _, err := s.commissions.CreateFromConversion(conv.ID, 0); err != nil {
		return fmt.Errorf("create commission for %s: %w", conv.ID, err)
	}
	return nil
}

// handleRefunded refunds the conversion and cancels its live commission if
// one exists and has not settled. A settled commission is left alone and
// flagged: post-settlement reversal is a manual compensating commission.
func (s *Service) handleRefunded(ev OrderEvent) error {
	conv, err := s.attribution.GetConversionByOrder(ev.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("[events] Order %s refunded with no conversion, nothing to do", ev.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	reason := ev.Reason
	if reason == "" {
		reason = "order-refunded"
	}
	if _, err := s.attribution.RefundConversion(conv.ID, reason); err != nil {
		return fmt.Errorf("refund conversion %s: %w", conv.ID, err)
	}

	comm, err := s.commissions.GetCommissionByConversion(conv.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.commissions.CancelCommission(comm.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			log.Printf("[events] WARNING: commission %s for refunded order %s is settled; needs manual compensating reversal",
				comm.ID, ev.OrderID)
			return nil
		}
		return fmt.Errorf("cancel commission %s: %w", comm.ID, err)
	}
	return nil
}
