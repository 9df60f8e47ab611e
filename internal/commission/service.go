package commission

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shoplane/settler/internal/domain"
	"github.com/shoplane/settler/internal/monitoring"
	"github.com/shoplane/settler/internal/repository"
)

// Service computes commissions from conversions and drives them through
// pending -> confirmed -> settled, keeping partner running totals in step
// with every transition that crosses the confirmed boundary.
type Service struct {
	commissions *repository.CommissionRepo
	conversions *repository.ConversionRepo
	partners    *repository.PartnerRepo
}

func NewService(
	commissions *repository.CommissionRepo,
	conversions *repository.ConversionRepo,
	partners *repository.PartnerRepo,
) *Service {
	return &Service{
		commissions: commissions,
		conversions: conversions,
		partners:    partners,
	}
}

// CreateCommission persists a pending commission for a conversion.
// Idempotent per conversion: if a non-cancelled commission already exists
// it is returned unchanged, so duplicate event deliveries cannot create a
// second claim. The final amount is projected back onto the conversion for
// display.
func (s *Service) CreateCommission(partnerID, conversionID string, baseAmount int64, rate float64, bonus int64) (*domain.Commission, error) {
	if partnerID == "" || conversionID == "" {
		return nil, fmt.Errorf("partner id and conversion id are required: %w", domain.ErrInvalidInput)
	}
	if baseAmount <= 0 || rate < 0 || bonus < 0 {
		return nil, fmt.Errorf("base=%d rate=%.2f bonus=%d: %w", baseAmount, rate, bonus, domain.ErrInvalidInput)
	}

	amount := domain.ComputeCommission(baseAmount, rate)
	c := &domain.Commission{
		ID:               uuid.NewString(),
		PartnerID:        partnerID,
		ConversionID:     conversionID,
		BaseAmount:       baseAmount,
		Rate:             rate,
		CommissionAmount: amount,
		BonusAmount:      bonus,
		FinalAmount:      amount + bonus,
		Status:           domain.CommissionPending,
		CreatedAt:        time.Now().UTC(),
	}

	inserted, err := s.commissions.InsertIdempotent(c)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.commissions.GetLiveByConversionID(conversionID)
	}

	monitoring.CommissionsCreated.Inc()
	log.Printf("[commission] Commission %s created for conversion %s (final=%d at %.2f%%)",
		c.ID, conversionID, c.FinalAmount, rate)
	return c, nil
}

// CreateFromConversion resolves the conversion and its partner, snapshots
// the partner's current rate, and creates the commission. The rate is read
// exactly once here; later partner rate changes never touch this
// commission. A missing conversion or partner is a transient inconsistency
// for the event pipeline to retry, so it yields no commission and no
// error.
func (s *Service) CreateFromConversion(conversionID string, bonus int64) (*domain.Commission, error) {
	conv, err := s.conversions.GetByID(conversionID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("[commission] WARNING: conversion %s not found, skipping", conversionID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	partner, err := s.partners.GetByID(conv.PartnerID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("[commission] WARNING: partner %s not found for conversion %s, skipping",
			conv.PartnerID, conversionID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return s.CreateCommission(conv.PartnerID, conversionID, conv.OrderAmount, partner.CommissionRate, bonus)
}

// ConfirmCommission moves a pending commission to confirmed and credits
// the partner's total with the final amount, in one transaction. Already
// confirmed is an idempotent no-op.
func (s *Service) ConfirmCommission(id string) (*domain.Commission, error) {
	for {
		c, err := s.commissions.GetByID(id)
		if err != nil {
			return nil, err
		}
		switch c.Status {
		case domain.CommissionConfirmed:
			return c, nil
		case domain.CommissionPending:
			won, err := s.commissions.ConfirmWithTotal(id, time.Now().UTC())
			if err != nil {
				return nil, err
			}
			if won {
				monitoring.CommissionTransitions.WithLabelValues("confirmed").Inc()
				return s.commissions.GetByID(id)
			}
			// Lost the race; re-evaluate against the new status.
		default:
			return nil, fmt.Errorf("commission %s is %s: %w", id, c.Status, domain.ErrInvalidTransition)
		}
	}
}

// CancelCommission cancels a pending or confirmed commission. Cancelling
// from confirmed reverses the partner total credit atomically. Cancelling
// a settled commission is a hard failure: reversal after settlement takes
// a compensating negative commission, never a status rewrite.
func (s *Service) CancelCommission(id string) (*domain.Commission, error) {
	for {
		c, err := s.commissions.GetByID(id)
		if err != nil {
			return nil, err
		}
		switch c.Status {
		case domain.CommissionCancelled:
			return c, nil
		case domain.CommissionSettled:
			return nil, fmt.Errorf("commission %s: %w", id, domain.ErrAlreadySettled)
		case domain.CommissionPending:
			won, err := s.commissions.CancelFromPending(id)
			if err != nil {
				return nil, err
			}
			if won {
				monitoring.CommissionTransitions.WithLabelValues("cancelled").Inc()
				return s.commissions.GetByID(id)
			}
		case domain.CommissionConfirmed:
			won, err := s.commissions.CancelFromConfirmedWithTotal(id)
			if err != nil {
				return nil, err
			}
			if won {
				monitoring.CommissionTransitions.WithLabelValues("cancelled").Inc()
				return s.commissions.GetByID(id)
			}
		}
	}
}

// SettleCommission settles a single confirmed commission into a batch.
// Callers must never call this speculatively: any state but confirmed is
// rejected, and a repeat on an already settled commission is the hard
// ErrAlreadySettled, since it signals a caller bug or a replayed payout.
func (s *Service) SettleCommission(id, batchID string) (*domain.Commission, error) {
	won, err := s.commissions.SettleOne(id, batchID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !won {
		c, err := s.commissions.GetByID(id)
		if err != nil {
			return nil, err
		}
		if c.Status == domain.CommissionSettled {
			return nil, fmt.Errorf("commission %s: %w", id, domain.ErrAlreadySettled)
		}
		return nil, fmt.Errorf("commission %s is %s: %w", id, c.Status, domain.ErrInvalidTransition)
	}
	monitoring.CommissionTransitions.WithLabelValues("settled").Inc()
	return s.commissions.GetByID(id)
}

// GetCommission returns a commission by id.
func (s *Service) GetCommission(id string) (*domain.Commission, error) {
	return s.commissions.GetByID(id)
}

// GetCommissionByConversion returns the live commission for a conversion.
func (s *Service) GetCommissionByConversion(conversionID string) (*domain.Commission, error) {
	return s.commissions.GetLiveByConversionID(conversionID)
}

// ReconcilePartnerTotals re-derives every partner total from commission
// rows and reports the partners whose stored aggregate drifted. With
// repair set, drifted totals are overwritten with the derived sum. A
// healthy store reports nothing; drift here means a bug elsewhere.
func (s *Service) ReconcilePartnerTotals(repair bool) ([]repository.PartnerDrift, error) {
	drifts, err := s.partners.FindTotalDrift()
	if err != nil {
		return nil, fmt.Errorf("find drift: %w", err)
	}
	for _, d := range drifts {
		log.Printf("[commission] WARNING: partner %s total drifted: stored=%d derived=%d",
			d.PartnerID, d.StoredTotal, d.DerivedTotal)
		if repair {
			if err := s.partners.RepairTotal(d.PartnerID); err != nil {
				return drifts, fmt.Errorf("repair %s: %w", d.PartnerID, err)
			}
		}
	}
	return drifts, nil
}
