package settlement

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shoplane/settler/internal/domain"
	"github.com/shoplane/settler/internal/monitoring"
	"github.com/shoplane/settler/internal/repository"
)

// Service groups confirmed commissions into payout batches and tracks the
// payout collaborator's success or failure reports. It only does the
// bookkeeping of which commissions belong to which batch; the money moves
// elsewhere.
type Service struct {
	batches     *repository.BatchRepo
	commissions *repository.CommissionRepo
}

func NewService(batches *repository.BatchRepo, commissions *repository.CommissionRepo) *Service {
	return &Service{batches: batches, commissions: commissions}
}

// GetSettleableAmount reports what a settlement batch for the partner
// would claim right now: the count and total of confirmed commissions not
// yet assigned to any batch.
func (s *Service) GetSettleableAmount(partnerID string) (*repository.Settleable, error) {
	return s.commissions.GetSettleable(partnerID)
}

// CreateBatch claims every confirmed, unassigned commission of the partner
// into a new batch, atomically flipping them to settled. Two concurrent
// calls for the same partner cannot both claim a commission: the claim
// predicate hands all eligible rows to one winner and the loser gets
// ErrNothingToSettle. The batch total is the sum over exactly the claimed
// rows.
func (s *Service) CreateBatch(partnerID string) (*domain.SettlementBatch, error) {
	if partnerID == "" {
		return nil, fmt.Errorf("partner id is required: %w", domain.ErrInvalidInput)
	}

	batch := &domain.SettlementBatch{
		ID:        uuid.NewString(),
		PartnerID: partnerID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.batches.CreateClaiming(batch); err != nil {
		return nil, err
	}

	monitoring.BatchesCreated.Inc()
	log.Printf("[settlement] Batch %s created for partner %s: %d commissions, total=%d",
		batch.ID, partnerID, batch.CommissionCount, batch.TotalAmount)
	return batch, nil
}

// GetBatch returns a batch with its member commission ids.
func (s *Service) GetBatch(id string) (*domain.SettlementBatch, error) {
	batch, err := s.batches.GetByID(id)
	if err != nil {
		return nil, err
	}
	ids, err := s.commissions.ListIDsByBatch(id)
	if err != nil {
		return nil, fmt.Errorf("list batch commissions: %w", err)
	}
	batch.CommissionIDs = ids
	return batch, nil
}

// ListBatches returns a partner's batches, newest first. An empty
// partnerID lists all batches.
func (s *Service) ListBatches(partnerID string) ([]domain.SettlementBatch, error) {
	if partnerID == "" {
		return s.batches.List()
	}
	return s.batches.ListByPartner(partnerID)
}

// MarkBatchPaid records a successful payout report. Idempotent on repeat;
// a failed batch cannot become paid.
func (s *Service) MarkBatchPaid(id string) (*domain.SettlementBatch, error) {
	won, err := s.batches.MarkPaid(id, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	batch, err := s.batches.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !won && batch.Status != domain.BatchPaid {
		return nil, fmt.Errorf("batch %s is %s: %w", id, batch.Status, domain.ErrInvalidTransition)
	}
	return batch, nil
}

// MarkBatchFailed records a failed payout report. The claimed commissions
// stay settled; recovery is a compensating reversal commission. Idempotent
// on repeat; a paid batch cannot become failed.
func (s *Service) MarkBatchFailed(id, reason string) (*domain.SettlementBatch, error) {
	won, err := s.batches.MarkFailed(id, reason)
	if err != nil {
		return nil, err
	}
	batch, err := s.batches.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !won && batch.Status != domain.BatchFailed {
		return nil, fmt.Errorf("batch %s is %s: %w", id, batch.Status, domain.ErrInvalidTransition)
	}
	if !won {
		return batch, nil
	}
	log.Printf("[settlement] WARNING: batch %s failed (%s); %d commissions need compensating reversal",
		id, reason, batch.CommissionCount)
	return batch, nil
}
