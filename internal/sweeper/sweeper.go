package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/shoplane/settler/internal/domain"
	"github.com/shoplane/settler/internal/monitoring"
	"github.com/shoplane/settler/internal/repository"
)

// Sweeper cancels conversions left pending past the grace period, keeping
// stale attributions from accumulating forever. Each run is a single
// bounded transaction, safe to interrupt and re-run from scratch: a repeat
// over already-swept data affects zero rows.
type Sweeper struct {
	conversions *repository.ConversionRepo
	graceDays   int
	interval    time.Duration
}

func New(conversions *repository.ConversionRepo, graceDays int, interval time.Duration) *Sweeper {
	return &Sweeper{conversions: conversions, graceDays: graceDays, interval: interval}
}

// ExpirePendingConversions bulk-cancels pending conversions older than
// afterDays with reason attribution-expired, and returns the number
// cancelled. Commissions are left untouched in whatever state they
// reached.
func (s *Sweeper) ExpirePendingConversions(afterDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -afterDays)
	n, err := s.conversions.ExpirePending(cutoff, domain.ReasonAttributionExpired)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		monitoring.ConversionsExpired.Add(float64(n))
		log.Printf("[sweeper] Expired %d pending conversions older than %d days", n, afterDays)
	}
	return n, nil
}

// Run sweeps on the configured interval until ctx is cancelled. A sweep
// runs immediately on start.
func (s *Sweeper) Run(ctx context.Context) {
	if _, err := s.ExpirePendingConversions(s.graceDays); err != nil {
		log.Printf("[sweeper] WARNING: sweep failed: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpirePendingConversions(s.graceDays); err != nil {
				log.Printf("[sweeper] WARNING: sweep failed: %v", err)
			}
		}
	}
}
