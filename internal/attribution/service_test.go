package attribution

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shoplane/settler/internal/domain"
	"github.com/shoplane/settler/internal/repository"
)

type env struct {
	db       *sql.DB
	clicks   *repository.ClickRepo
	links    *repository.LinkRepo
	convs    *repository.ConversionRepo
	partners *repository.PartnerRepo
	svc      *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := &env{
		db:       db,
		clicks:   repository.NewClickRepo(db),
		links:    repository.NewLinkRepo(db),
		convs:    repository.NewConversionRepo(db),
		partners: repository.NewPartnerRepo(db),
	}
	e.svc = NewService(e.clicks, e.links, e.convs, e.partners, 30*24*time.Hour)
	return e
}

func (e *env) createPartner(t *testing.T, id string, rate float64) {
	t.Helper()
	err := e.partners.Insert(&domain.Partner{
		ID: id, Name: "Partner " + id, CommissionRate: rate, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert partner: %v", err)
	}
}

func (e *env) insertClick(t *testing.T, partnerID, linkID, sessionID string, at time.Time) int64 {
	t.Helper()
	c := &domain.Click{
		PartnerID: partnerID, LinkID: linkID, SessionID: sessionID,
		LandingURL: "https://shop.example/landing", ClickedAt: at,
	}
	if err := e.clicks.Insert(c); err != nil {
		t.Fatalf("insert click: %v", err)
	}
	return c.ID
}

func TestRecordClickBumpsLinkCounter(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)
	link, err := e.svc.CreateLink("P1", "spring-sale", "https://shop.example")
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	if _, err := e.svc.RecordClickByCode("spring-sale", "S1", "https://shop.example/a"); err != nil {
		t.Fatalf("record click: %v", err)
	}
	if _, err := e.svc.RecordClickByCode("spring-sale", "S2", "https://shop.example/b"); err != nil {
		t.Fatalf("record click: %v", err)
	}

	got, err := e.links.GetByID(link.ID)
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if got.ClickCount != 2 {
		t.Fatalf("expected click_count=2, got %d", got.ClickCount)
	}
}

func TestFindLatestUnconvertedClickTieBreak(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)

	// Two clicks with the identical timestamp: the higher id must win.
	at := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	first := e.insertClick(t, "P1", "", "S1", at)
	second := e.insertClick(t, "P1", "", "S1", at)
	if second <= first {
		t.Fatalf("expected monotonic click ids, got %d then %d", first, second)
	}

	click, err := e.svc.FindLatestUnconvertedClick("S1", 24*time.Hour)
	if err != nil {
		t.Fatalf("find click: %v", err)
	}
	if click.ID != second {
		t.Fatalf("expected click %d to win the tie, got %d", second, click.ID)
	}
}

func TestMarkConvertedIsOneWay(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)
	id := e.insertClick(t, "P1", "", "S1", time.Now().UTC())

	if err := e.svc.MarkConverted(id, "CONV-1"); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	err := e.svc.MarkConverted(id, "CONV-2")
	if !errors.Is(err, domain.ErrAlreadyConverted) {
		t.Fatalf("expected ErrAlreadyConverted, got %v", err)
	}

	click, err := e.clicks.GetByID(id)
	if err != nil {
		t.Fatalf("get click: %v", err)
	}
	if click.ConversionID != "CONV-1" {
		t.Fatalf("conversion back-reference overwritten: %s", click.ConversionID)
	}
}

func TestRecordConversionIdempotentOnOrderID(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)

	first, err := e.svc.RecordConversion("P1", "O1", 50000, "", "")
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	second, err := e.svc.RecordConversion("P1", "O1", 50000, "", "")
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one live conversion for O1, got %s and %s", first.ID, second.ID)
	}

	p, err := e.partners.GetByID("P1")
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if p.ConversionCount != 1 {
		t.Fatalf("expected conversion_count=1, got %d", p.ConversionCount)
	}
}

func TestRecordConversionBindsClickInsideWindow(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)
	clickID := e.insertClick(t, "P1", "", "S1", time.Now().UTC().AddDate(0, 0, -29))

	conv, err := e.svc.RecordConversion("P1", "O1", 100000, "S1", "physical")
	if err != nil {
		t.Fatalf("record conversion: %v", err)
	}
	if conv.ClickID != clickID {
		t.Fatalf("expected click %d bound, got %d", clickID, conv.ClickID)
	}
	if conv.AttributionDays != 29 {
		t.Fatalf("expected attribution age 29 days, got %d", conv.AttributionDays)
	}

	click, err := e.clicks.GetByID(clickID)
	if err != nil {
		t.Fatalf("get click: %v", err)
	}
	if !click.Converted || click.ConversionID != conv.ID {
		t.Fatalf("click not consumed: converted=%v ref=%s", click.Converted, click.ConversionID)
	}
}

func TestRecordConversionOutsideWindowIsClickless(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)
	clickID := e.insertClick(t, "P1", "", "S1", time.Now().UTC().AddDate(0, 0, -31))

	conv, err := e.svc.RecordConversion("P1", "O1", 100000, "S1", "")
	if err != nil {
		t.Fatalf("record conversion: %v", err)
	}
	if conv.ClickID != 0 {
		t.Fatalf("expected click-less conversion, got click %d", conv.ClickID)
	}

	click, err := e.clicks.GetByID(clickID)
	if err != nil {
		t.Fatalf("get click: %v", err)
	}
	if click.Converted {
		t.Fatalf("stale click must stay unconverted")
	}
}

func TestRecordConversionBumpsLinkConversionCounter(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)
	link, err := e.svc.CreateLink("P1", "ref-1", "https://shop.example")
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	e.insertClick(t, "P1", link.ID, "S1", time.Now().UTC().Add(-time.Hour))

	if _, err := e.svc.RecordConversion("P1", "O1", 20000, "S1", ""); err != nil {
		t.Fatalf("record conversion: %v", err)
	}

	got, err := e.links.GetByID(link.ID)
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if got.ConversionCount != 1 {
		t.Fatalf("expected link conversion_count=1, got %d", got.ConversionCount)
	}
}

func TestRecordConversionValidation(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)

	if _, err := e.svc.RecordConversion("P1", "O1", 0, "", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero amount, got %v", err)
	}
	if _, err := e.svc.RecordConversion("P-missing", "O1", 100, "", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown partner, got %v", err)
	}
}

func TestConfirmConversionIdempotent(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)
	conv, err := e.svc.RecordConversion("P1", "O1", 1000, "", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := e.svc.ConfirmConversion(conv.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	again, err := e.svc.ConfirmConversion(conv.ID)
	if err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if again.Status != domain.ConversionConfirmed {
		t.Fatalf("expected confirmed, got %s", again.Status)
	}
}

func TestCancelConfirmedConversionIsIllegal(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)
	conv, err := e.svc.RecordConversion("P1", "O1", 1000, "", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := e.svc.ConfirmConversion(conv.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if _, err := e.svc.CancelConversion(conv.ID, "fraud"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// Refund is the legal way out of confirmed.
	refunded, err := e.svc.RefundConversion(conv.ID, "chargeback")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != domain.ConversionRefunded || refunded.CancelReason != "chargeback" {
		t.Fatalf("unexpected refund state: %s/%s", refunded.Status, refunded.CancelReason)
	}

	// Refunded is terminal.
	if _, err := e.svc.ConfirmConversion(conv.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from refunded, got %v", err)
	}
}

func TestCancelConversionDecrementsPartnerCount(t *testing.T) {
	e := newEnv(t)
	e.createPartner(t, "P1", 10)
	conv, err := e.svc.RecordConversion("P1", "O1", 1000, "", "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := e.svc.CancelConversion(conv.ID, "duplicate"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Idempotent repeat must not decrement twice.
	if _, err := e.svc.CancelConversion(conv.ID, "duplicate"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}

	p, err := e.partners.GetByID("P1")
	if err != nil {
		t.Fatalf("get partner: %v", err)
	}
	if p.ConversionCount != 0 {
		t.Fatalf("expected conversion_count=0, got %d", p.ConversionCount)
	}

	// The order id is released for re-attribution after a cancel.
	again, err := e.svc.RecordConversion("P1", "O1", 1000, "", "")
	if err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if again.ID == conv.ID {
		t.Fatalf("expected a fresh conversion after cancel")
	}
}
