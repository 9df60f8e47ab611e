package attribution

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

// Service is the attribution front of the engine: it records referral
// clicks, resolves referral links, and turns order events into attributed
// conversions.
type Service struct {
	clicks      *repository.ClickRepo
	links       *repository.LinkRepo
	conversions *repository.ConversionRepo
	partners    *repository.PartnerRepo
	window      time.Duration
}

// NewService creates an attribution service. window is the maximum click
// age for an order to be credited to that click.
func NewService(
	clicks *repository.ClickRepo,
	links *repository.LinkRepo,
	conversions *repository.ConversionRepo,
	partners *repository.PartnerRepo,
	window time.Duration,
) *Service {
	return &Service{
		clicks:      clicks,
		links:       links,
		conversions: conversions,
		partners:    partners,
		window:      window,
	}
}

// Window returns the configured attribution window.
func (s *Service) Window() time.Duration {
	return s.window
}

// CreateLink registers a referral code for a partner.
func (s *Service) CreateLink(partnerID, code, destinationURL string) (*domain.Link, error) {
	if partnerID == "" || code == "" {
		return nil, fmt.Errorf("partner id and code are required: %w", domain.ErrInvalidInput)
	}
	if _, err := s.partners.GetByID(partnerID); err != nil {
		return nil, fmt.Errorf("partner %s: %w", partnerID, err)
	}

	link := &domain.Link{
		ID:             uuid.NewString(),
		PartnerID:      partnerID,
		Code:           code,
		DestinationURL: destinationURL,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.links.Insert(link); err != nil {
		return nil, err
	}
	return link, nil
}

// ResolveLink maps a referral code back to its link.
func (s *Service) ResolveLink(code string) (*domain.Link, error) {
	return s.links.GetByCode(code)
}

// RecordClick appends a referral click. This is the low-latency synchronous
// path called when a referral link is visited; it always succeeds for valid
// input and bumps the link's click counter when the click came through one.
func (s *Service) RecordClick(partnerID, linkID, sessionID, landingURL string) (*domain.Click, error) {
	if partnerID == "" || sessionID == "" {
		return nil, fmt.Errorf("partner id and session id are required: %w", domain.ErrInvalidInput)
	}

	click := &domain.Click{
		PartnerID:  partnerID,
		LinkID:     linkID,
		SessionID:  sessionID,
		LandingURL: landingURL,
		ClickedAt:  time.Now().UTC(),
	}
	if err := s.clicks.Insert(click); err != nil {
		return nil, err
	}
	monitoring.ClicksRecorded.Inc()
	return click, nil
}

// RecordClickByCode records a click arriving through a referral code,
// resolving the owning partner from the link registry.
func (s *Service) RecordClickByCode(code, sessionID, landingURL string) (*domain.Click, error) {
	link, err := s.links.GetByCode(code)
	if err != nil {
		return nil, fmt.Errorf("resolve code %q: %w", code, err)
	}
	return s.RecordClick(link.PartnerID, link.ID, sessionID, landingURL)
}

// FindLatestUnconvertedClick returns the newest unconverted click for the
// session not older than notOlderThan, or ErrNotFound.
func (s *Service) FindLatestUnconvertedClick(sessionID string, notOlderThan time.Duration) (*domain.Click, error) {
	return s.clicks.FindLatestUnconverted(sessionID, time.Now().UTC().Add(-notOlderThan))
}

// MarkConverted flips a click to converted, one way. A second call for the
// same click returns ErrAlreadyConverted; callers should treat that as a
// benign race and use the conversion the click already points to.
func (s *Service) MarkConverted(clickID int64, conversionID string) error {
	return s.clicks.MarkConverted(clickID, conversionID)
}

// RecordConversion turns an order-created event into an attributed
// conversion. It is idempotent on orderID: duplicate deliveries return the
// existing live conversion unchanged. When sessionID is given, the newest
// unconverted click inside the attribution window is bound and consumed;
// with no matching click the conversion is still created as a direct
// attribution.
func (s *Service) RecordConversion(partnerID, orderID string, orderAmount int64, sessionID, productType string) (*domain.Conversion, error) {
	if partnerID == "" || orderID == "" {
		return nil, fmt.Errorf("partner id and order id are required: %w", domain.ErrInvalidInput)
	}
	if orderAmount <= 0 {
		return nil, fmt.Errorf("order amount %d: %w", orderAmount, domain.ErrInvalidInput)
	}
	if _, err := s.partners.GetByID(partnerID); err != nil {
		return nil, fmt.Errorf("partner %s: %w", partnerID, err)
	}

	if existing, err := s.conversions.GetLiveByOrderID(orderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup order %s: %w", orderID, err)
	}

	now := time.Now().UTC()
	conv := &domain.Conversion{
		ID:          uuid.NewString(),
		PartnerID:   partnerID,
		OrderID:     orderID,
		ProductType: productType,
		OrderAmount: orderAmount,
		Status:      domain.ConversionPending,
		CreatedAt:   now,
	}

	var clickLinkID string
	if sessionID != "" {
		click, err := s.clicks.FindLatestUnconverted(sessionID, now.Add(-s.window))
		switch {
		case err == nil:
			conv.ClickID = click.ID
			conv.AttributionDays = int(now.Sub(click.ClickedAt).Hours() / 24)
			clickLinkID = click.LinkID
		case errors.Is(err, domain.ErrNotFound):
			// Click-less conversion; direct attribution.
		default:
			return nil, fmt.Errorf("find click for session %s: %w", sessionID, err)
		}
	}

	inserted, err := s.conversions.InsertAttributed(conv, clickLinkID)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost the creation race against a duplicate delivery.
		return s.conversions.GetLiveByOrderID(orderID)
	}

	attribution := "direct"
	if conv.ClickID > 0 {
		attribution = "click"
	}
	monitoring.ConversionsRecorded.WithLabelValues(attribution).Inc()
	log.Printf("[attribution] Conversion %s recorded for order %s (partner=%s, %s, age=%dd)",
		conv.ID, orderID, partnerID, attribution, conv.AttributionDays)

	return conv, nil
}

// ConfirmConversion moves a pending conversion to confirmed. Already
// confirmed is an idempotent no-op; cancelled and refunded conversions
// report ErrInvalidTransition.
func (s *Service) ConfirmConversion(id string) (*domain.Conversion, error) {
	return s.transition(id, domain.ConversionConfirmed, "")
}

// CancelConversion voids a pending conversion and releases its order id
// for re-attribution. Decrements the partner's conversion counter.
func (s *Service) CancelConversion(id, reason string) (*domain.Conversion, error) {
	return s.transition(id, domain.ConversionCancelled, reason)
}

// RefundConversion marks a pending or confirmed conversion refunded.
// Decrements the partner's conversion counter.
func (s *Service) RefundConversion(id, reason string) (*domain.Conversion, error) {
	return s.transition(id, domain.ConversionRefunded, reason)
}

// GetConversion returns a conversion by id.
func (s *Service) GetConversion(id string) (*domain.Conversion, error) {
	return s.conversions.GetByID(id)
}

// GetConversionByOrder returns the live conversion for an order.
func (s *Service) GetConversionByOrder(orderID string) (*domain.Conversion, error) {
	return s.conversions.GetLiveByOrderID(orderID)
}

// transition applies the conversion state machine with a conditional
// update. Losing the race re-reads and re-evaluates, so a duplicate of the
// same transition stays idempotent while a genuinely illegal call reports
// ErrInvalidTransition.
func (s *Service) transition(id string, to domain.ConversionStatus, reason string) (*domain.Conversion, error) {
	for {
		conv, err := s.conversions.GetByID(id)
		if err != nil {
			return nil, err
		}
		if conv.Status == to {
			return conv, nil
		}
		if !conv.Status.CanBecome(to) {
			return nil, fmt.Errorf("conversion %s is %s: %w", id, conv.Status, domain.ErrInvalidTransition)
		}

		var won bool
		if to == domain.ConversionConfirmed {
			won, err = s.conversions.UpdateStatusFrom(id, conv.Status, to)
		} else {
			won, err = s.conversions.TerminateWithCounter(id, conv.Status, to, reason)
		}
		if err != nil {
			return nil, err
		}
		if won {
			return s.conversions.GetByID(id)
		}
		// Someone else transitioned the row first; re-evaluate.
	}
}
