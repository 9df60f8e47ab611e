package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shoplane/settler/internal/domain"
)

type PartnerRepo struct {
	db *sql.DB
}

func NewPartnerRepo(db *sql.DB) *PartnerRepo {
	return &PartnerRepo{db: db}
}

func (r *PartnerRepo) Insert(p *domain.Partner) error {
	_, err := r.db.Exec(
		`INSERT INTO partners (id, name, commission_rate, total_commission, conversion_count, created_at)
		VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.CommissionRate, p.TotalCommission, p.ConversionCount,
		p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert partner: %w", err)
	}
	return nil
}

func (r *PartnerRepo) GetByID(id string) (*domain.Partner, error) {
	row := r.db.QueryRow(
		`SELECT id, name, commission_rate, total_commission, conversion_count, created_at
		FROM partners WHERE id = ?`, id,
	)
	return scanPartner(row)
}

func (r *PartnerRepo) List() ([]domain.Partner, error) {
	rows, err := r.db.Query(
		`SELECT id, name, commission_rate, total_commission, conversion_count, created_at
		FROM partners ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var partners []domain.Partner
	for rows.Next() {
		var p domain.Partner
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.CommissionRate,
			&p.TotalCommission, &p.ConversionCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

func (r *PartnerRepo) UpdateRate(id string, rate float64) error {
	res, err := r.db.Exec("UPDATE partners SET commission_rate = ? WHERE id = ?", rate, id)
	if err != nil {
		return fmt.Errorf("update rate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PartnerRepo) Count() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM partners").Scan(&count)
	return count, err
}

// PartnerDrift compares a partner's stored total against the total derived
// from its commission rows.
type PartnerDrift struct {
	PartnerID    string `json:"partner_id"`
	StoredTotal  int64  `json:"stored_total"`
	DerivedTotal int64  `json:"derived_total"`
}

// FindTotalDrift returns every partner whose stored total_commission does
// not equal the sum of final amounts over its confirmed and settled
// commissions. A healthy store returns no rows.
func (r *PartnerRepo) FindTotalDrift() ([]PartnerDrift, error) {
	rows, err := r.db.Query(`
		SELECT p.id, p.total_commission,
			COALESCE((SELECT SUM(c.final_amount) FROM commissions c
				WHERE c.partner_id = p.id AND c.status IN ('confirmed','settled')), 0)
		FROM partners p
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var drifts []PartnerDrift
	for rows.Next() {
		var d PartnerDrift
		if err := rows.Scan(&d.PartnerID, &d.StoredTotal, &d.DerivedTotal); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if d.StoredTotal != d.DerivedTotal {
			drifts = append(drifts, d)
		}
	}
	return drifts, rows.Err()
}

// RepairTotal overwrites a partner's stored total with the derived sum.
// This is the reconciliation escape hatch, not the primary update path;
// normal adjustments happen inside commission transitions.
func (r *PartnerRepo) RepairTotal(partnerID string) error {
	_, err := r.db.Exec(`
		UPDATE partners SET total_commission =
			COALESCE((SELECT SUM(final_amount) FROM commissions
				WHERE partner_id = partners.id AND status IN ('confirmed','settled')), 0)
		WHERE id = ?`, partnerID)
	if err != nil {
		return fmt.Errorf("repair total: %w", err)
	}
	return nil
}

func scanPartner(row *sql.Row) (*domain.Partner, error) {
	var p domain.Partner
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &p.CommissionRate,
		&p.TotalCommission, &p.ConversionCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}
