package events

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shoplane/settler/internal/attribution"
	"github.com/shoplane/settler/internal/commission"
	"github.com/shoplane/settler/internal/domain"
	"github.com/shoplane/settler/internal/repository"
	"github.com/shoplane/settler/internal/settlement"
)

type env struct {
	db       *sql.DB
	partners *repository.PartnerRepo
	attr     *attribution.Service
	comm     *commission.Service
	sett     *settlement.Service
	svc      *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	partners := repository.NewPartnerRepo(db)
	convs := repository.NewConversionRepo(db)
	commissions := repository.NewCommissionRepo(db)

	attr := attribution.NewService(
		repository.NewClickRepo(db), repository.NewLinkRepo(db),
		convs, partners, 30*24*time.Hour,
	)
	comm := commission.NewService(commissions, convs, partners)

	e := &env{
		db:       db,
		partners: partners,
		attr:     attr,
		comm:     comm,
		sett:     settlement.NewService(repository.NewBatchRepo(db), commissions),
		svc:      NewService(attr, comm),
	}
	if err := partners.Insert(&domain.Partner{
		ID: "P1", Name: "Partner P1", CommissionRate: 10, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert partner: %v", err)
	}
	return e
}

// TestClickToSettlementPipeline walks the whole engine: a click for
// session S1, an order of 100000 at a 10% partner rate, confirmation,
// and a settlement batch.
func TestClickToSettlementPipeline(t *testing.T) {
	e := newEnv(t)
	link, err := e.attr.CreateLink("P1", "L1", "https://shop.example")
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	click, err := e.attr.RecordClick("P1", link.ID, "S1", "https://shop.example/promo")
	if err != nil {
		t.Fatalf("record click: %v", err)
	}

	// The created event carries no partner id; it resolves via the click.
	err = e.svc.Handle(OrderEvent{Type: OrderCreated, OrderID: "O1", SessionID: "S1", Amount: 100000})
	if err != nil {
		t.Fatalf("order.created: %v", err)
	}
	conv, err := e.attr.GetConversionByOrder("O1")
	if err != nil {
		t.Fatalf("get conversion: %v", err)
	}
	if conv.ClickID != click.ID || conv.OrderAmount != 100000 {
		t.Fatalf("unexpected conversion: click=%d amount=%d", conv.ClickID, conv.OrderAmount)
	}

	if err := e.svc.Handle(OrderEvent{Type: OrderConfirmed, OrderID: "O1"}); err != nil {
		t.Fatalf("order.confirmed: %v", err)
	}
	conv, _ = e.attr.GetConversionByOrder("O1")
	if conv.Status != domain.ConversionConfirmed {
		t.Fatalf("expected confirmed conversion, got %s", conv.Status)
	}

	c, err := e.comm.GetCommissionByConversion(conv.ID)
	if err != nil {
		t.Fatalf("get commission: %v", err)
	}
	if c.CommissionAmount != 10000 || c.FinalAmount != 10000 || c.Status != domain.CommissionPending {
		t.Fatalf("unexpected commission: %d/%d %s", c.CommissionAmount, c.FinalAmount, c.Status)
	}

	if _, err := e.comm.ConfirmCommission(c.ID); err != nil {
		t.Fatalf("confirm commission: %v", err)
	}
	p, _ := e.partners.GetByID("P1")
	if p.TotalCommission != 10000 {
		t.Fatalf("expected total 10000, got %d", p.TotalCommission)
	}

	batch, err := e.sett.CreateBatch("P1")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	settled, _ := e.comm.GetCommission(c.ID)
	if settled.SettlementBatchID != batch.ID {
		t.Fatalf("commission not in batch: %s", settled.SettlementBatchID)
	}
	s, err := e.sett.GetSettleableAmount("P1")
	if err != nil {
		t.Fatalf("settleable: %v", err)
	}
	if s.Count != 0 || s.TotalAmount != 0 {
		t.Fatalf("expected {0, 0}, got {%d, %d}", s.Count, s.TotalAmount)
	}
}

func TestDuplicateDeliveriesAreIdempotent(t *testing.T) {
	e := newEnv(t)

	created := OrderEvent{Type: OrderCreated, OrderID: "O1", PartnerID: "P1", Amount: 50000}
	if err := e.svc.Handle(created); err != nil {
		t.Fatalf("first created: %v", err)
	}
	if err := e.svc.Handle(created); err != nil {
		t.Fatalf("duplicate created: %v", err)
	}

	confirmed := OrderEvent{Type: OrderConfirmed, OrderID: "O1"}
	if err := e.svc.Handle(confirmed); err != nil {
		t.Fatalf("first confirmed: %v", err)
	}
	if err := e.svc.Handle(confirmed); err != nil {
		t.Fatalf("duplicate confirmed: %v", err)
	}

	conv, err := e.attr.GetConversionByOrder("O1")
	if err != nil {
		t.Fatalf("get conversion: %v", err)
	}
	c, err := e.comm.GetCommissionByConversion(conv.ID)
	if err != nil {
		t.Fatalf("expected exactly one commission: %v", err)
	}

	p, _ := e.partners.GetByID("P1")
	if p.ConversionCount != 1 {
		t.Fatalf("duplicate deliveries inflated conversion_count: %d", p.ConversionCount)
	}
	if c.FinalAmount != 5000 {
		t.Fatalf("expected 5000, got %d", c.FinalAmount)
	}
}

func TestRefundCancelsLiveCommission(t *testing.T) {
	e := newEnv(t)
	if err := e.svc.Handle(OrderEvent{Type: OrderCreated, OrderID: "O1", PartnerID: "P1", Amount: 50000}); err != nil {
		t.Fatalf("created: %v", err)
	}
	if err := e.svc.Handle(OrderEvent{Type: OrderConfirmed, OrderID: "O1"}); err != nil {
		t.Fatalf("confirmed: %v", err)
	}
	conv, _ := e.attr.GetConversionByOrder("O1")
	c, _ := e.comm.GetCommissionByConversion(conv.ID)
	if _, err := e.comm.ConfirmCommission(c.ID); err != nil {
		t.Fatalf("confirm commission: %v", err)
	}

	if err := e.svc.Handle(OrderEvent{Type: OrderRefunded, OrderID: "O1", Reason: "buyer remorse"}); err != nil {
		t.Fatalf("refunded: %v", err)
	}

	conv, err := e.attr.GetConversion(conv.ID)
	if err != nil {
		t.Fatalf("get conversion: %v", err)
	}
	if conv.Status != domain.ConversionRefunded {
		t.Fatalf("expected refunded conversion, got %s", conv.Status)
	}
	got, _ := e.comm.GetCommission(c.ID)
	if got.Status != domain.CommissionCancelled {
		t.Fatalf("expected cancelled commission, got %s", got.Status)
	}
	p, _ := e.partners.GetByID("P1")
	if p.TotalCommission != 0 {
		t.Fatalf("expected total reversed to 0, got %d", p.TotalCommission)
	}
}

func TestRefundAfterSettlementLeavesCommissionAlone(t *testing.T) {
	e := newEnv(t)
	if err := e.svc.Handle(OrderEvent{Type: OrderCreated, OrderID: "O1", PartnerID: "P1", Amount: 50000}); err != nil {
		t.Fatalf("created: %v", err)
	}
	if err := e.svc.Handle(OrderEvent{Type: OrderConfirmed, OrderID: "O1"}); err != nil {
		t.Fatalf("confirmed: %v", err)
	}
	conv, _ := e.attr.GetConversionByOrder("O1")
	c, _ := e.comm.GetCommissionByConversion(conv.ID)
	if _, err := e.comm.ConfirmCommission(c.ID); err != nil {
		t.Fatalf("confirm commission: %v", err)
	}
	batch, err := e.sett.CreateBatch("P1")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	// The refund event must not fail, and must not unsettle anything.
	if err := e.svc.Handle(OrderEvent{Type: OrderRefunded, OrderID: "O1"}); err != nil {
		t.Fatalf("refunded: %v", err)
	}
	got, _ := e.comm.GetCommission(c.ID)
	if got.Status != domain.CommissionSettled || got.SettlementBatchID != batch.ID {
		t.Fatalf("settled commission disturbed: %s/%s", got.Status, got.SettlementBatchID)
	}
}

func TestUnattributableOrderIsSkipped(t *testing.T) {
	e := newEnv(t)
	// No partner id, no click for the session: nothing to attribute.
	if err := e.svc.Handle(OrderEvent{Type: OrderCreated, OrderID: "O1", SessionID: "S-nobody", Amount: 100}); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if _, err := e.attr.GetConversionByOrder("O1"); err == nil {
		t.Fatalf("expected no conversion for unattributable order")
	}
}
