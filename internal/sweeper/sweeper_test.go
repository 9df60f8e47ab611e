package sweeper

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shoplane/settler/internal/attribution"
	"github.com/shoplane/settler/internal/domain"
	"github.com/shoplane/settler/internal/repository"
)

type env struct {
	db       *sql.DB
	convs    *repository.ConversionRepo
	partners *repository.PartnerRepo
	attr     *attribution.Service
	sweeper  *Sweeper
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	convs := repository.NewConversionRepo(db)
	partners := repository.NewPartnerRepo(db)
	e := &env{
		db:       db,
		convs:    convs,
		partners: partners,
		attr: attribution.NewService(
			repository.NewClickRepo(db), repository.NewLinkRepo(db),
			convs, partners, 30*24*time.Hour,
		),
		sweeper: New(convs, 60, time.Hour),
	}
	if err := partners.Insert(&domain.Partner{
		ID: "P1", Name: "Partner P1", CommissionRate: 10, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert partner: %v", err)
	}
	return e
}

// backdate rewrites a conversion's creation time, simulating age.
func (e *env) backdate(t *testing.T, conversionID string, days int) {
	t.Helper()
	at := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	if _, err := e.db.Exec("UPDATE conversions SET created_at = ? WHERE id = ?", at, conversionID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
}

func TestExpirePendingConversions(t *testing.T) {
	e := newEnv(t)
	stale, err := e.attr.RecordConversion("P1", "O-stale", 1000, "", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	fresh, err := e.attr.RecordConversion("P1", "O-fresh", 1000, "", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	e.backdate(t, stale.ID, 61)
	e.backdate(t, fresh.ID, 59)

	n, err := e.sweeper.ExpirePendingConversions(60)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}

	got, err := e.convs.GetByID(stale.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ConversionCancelled || got.CancelReason != domain.ReasonAttributionExpired {
		t.Fatalf("unexpected state: %s/%s", got.Status, got.CancelReason)
	}

	untouched, err := e.convs.GetByID(fresh.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if untouched.Status != domain.ConversionPending {
		t.Fatalf("fresh conversion swept: %s", untouched.Status)
	}

	// The partner counter drops once per expired conversion.
	p, err := e.partners.GetByID("P1")
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if p.ConversionCount != 1 {
		t.Fatalf("expected conversion_count=1, got %d", p.ConversionCount)
	}

	// Idempotent: a second run affects nothing.
	n, err = e.sweeper.ExpirePendingConversions(60)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 on repeat, got %d", n)
	}
	p, _ = e.partners.GetByID("P1")
	if p.ConversionCount != 1 {
		t.Fatalf("repeat sweep decremented again: %d", p.ConversionCount)
	}
}

func TestExpireLeavesConfirmedAlone(t *testing.T) {
	e := newEnv(t)
	conv, err := e.attr.RecordConversion("P1", "O1", 1000, "", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := e.attr.ConfirmConversion(conv.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	e.backdate(t, conv.ID, 100)

	n, err := e.sweeper.ExpirePendingConversions(60)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}

	got, _ := e.convs.GetByID(conv.ID)
	if got.Status != domain.ConversionConfirmed {
		t.Fatalf("confirmed conversion swept: %s", got.Status)
	}
}
