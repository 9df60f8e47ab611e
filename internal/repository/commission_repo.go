package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shoplane/settler/internal/domain"
)

type CommissionRepo struct {
	db *sql.DB
}

func NewCommissionRepo(db *sql.DB) *CommissionRepo {
	return &CommissionRepo{db: db}
}

// InsertIdempotent persists a commission unless a non-cancelled one
// already exists for the conversion, and projects the final amount back
// onto the conversion row in the same transaction. The projection is a
// display denormalization; commission rows stay the source of truth.
// inserted=false means the caller should fetch the existing commission.
func (r *CommissionRepo) InsertIdempotent(c *domain.Commission) (inserted bool, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO commissions
		(id, partner_id, conversion_id, base_amount, rate, commission_amount,
		 bonus_amount, final_amount, status, settlement_batch_id,
		 confirmed_at, settled_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,NULL,NULL,NULL,?)`,
		c.ID, c.PartnerID, c.ConversionID, c.BaseAmount, c.Rate, c.CommissionAmount,
		c.BonusAmount, c.FinalAmount, string(c.Status), c.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("insert commission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(
		"UPDATE conversions SET commission_amount = ? WHERE id = ?",
		c.FinalAmount, c.ConversionID,
	); err != nil {
		return false, fmt.Errorf("project commission amount: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *CommissionRepo) GetByID(id string) (*domain.Commission, error) {
	row := r.db.QueryRow(selectCommission+" WHERE id = ?", id)
	c, err := scanCommissionRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// GetLiveByConversionID returns the single non-cancelled commission for a
// conversion, or ErrNotFound.
func (r *CommissionRepo) GetLiveByConversionID(conversionID string) (*domain.Commission, error) {
	row := r.db.QueryRow(
		selectCommission+" WHERE conversion_id = ? AND status != 'cancelled'", conversionID,
	)
	c, err := scanCommissionRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// ConfirmWithTotal flips a pending commission to confirmed and credits the
// partner's running total with the final amount, atomically. Reports
// whether this call won the transition; a false return with no error means
// the commission was not pending anymore.
func (r *CommissionRepo) ConfirmWithTotal(id string, at time.Time) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE commissions SET status = 'confirmed', confirmed_at = ? WHERE id = ? AND status = 'pending'",
		at.Format(time.RFC3339), id,
	)
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(
		`UPDATE partners SET total_commission = total_commission +
			(SELECT final_amount FROM commissions WHERE id = ?)
		WHERE id = (SELECT partner_id FROM commissions WHERE id = ?)`,
		id, id,
	); err != nil {
		return false, fmt.Errorf("credit partner total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// CancelFromPending cancels a pending commission. Nothing was ever added
// to the partner total, so there is nothing to reverse.
func (r *CommissionRepo) CancelFromPending(id string) (bool, error) {
	res, err := r.db.Exec(
		"UPDATE commissions SET status = 'cancelled' WHERE id = ? AND status = 'pending'", id,
	)
	if err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CancelFromConfirmedWithTotal cancels a confirmed commission and reverses
// the partner total credit in the same transaction.
func (r *CommissionRepo) CancelFromConfirmedWithTotal(id string) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE commissions SET status = 'cancelled' WHERE id = ? AND status = 'confirmed'", id,
	)
	if err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(
		`UPDATE partners SET total_commission = total_commission -
			(SELECT final_amount FROM commissions WHERE id = ?)
		WHERE id = (SELECT partner_id FROM commissions WHERE id = ?)`,
		id, id,
	); err != nil {
		return false, fmt.Errorf("reverse partner total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// SettleOne settles a single confirmed, unclaimed commission into a batch.
func (r *CommissionRepo) SettleOne(id, batchID string, at time.Time) (bool, error) {
	res, err := r.db.Exec(
		`UPDATE commissions SET status = 'settled', settlement_batch_id = ?, settled_at = ?
		WHERE id = ? AND status = 'confirmed' AND settlement_batch_id IS NULL`,
		batchID, at.Format(time.RFC3339), id,
	)
	if err != nil {
		return false, fmt.Errorf("settle: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Settleable summarises the commissions a settlement batch would claim.
type Settleable struct {
	Count       int   `json:"count"`
	TotalAmount int64 `json:"total_amount"`
}

// GetSettleable aggregates confirmed, unclaimed commissions for a partner.
func (r *CommissionRepo) GetSettleable(partnerID string) (*Settleable, error) {
	s := &Settleable{}
	err := r.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(final_amount), 0) FROM commissions
		WHERE partner_id = ? AND status = 'confirmed' AND settlement_batch_id IS NULL`,
		partnerID,
	).Scan(&s.Count, &s.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("aggregate settleable: %w", err)
	}
	return s, nil
}

// ListIDsByBatch returns the ids of the commissions claimed by a batch, in
// id order.
func (r *CommissionRepo) ListIDsByBatch(batchID string) ([]string, error) {
	rows, err := r.db.Query(
		"SELECT id FROM commissions WHERE settlement_batch_id = ? ORDER BY id", batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *CommissionRepo) ListByPartner(partnerID string) ([]domain.Commission, error) {
	rows, err := r.db.Query(selectCommission+" WHERE partner_id = ? ORDER BY created_at", partnerID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var commissions []domain.Commission
	for rows.Next() {
		c, err := scanCommissionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		commissions = append(commissions, *c)
	}
	return commissions, rows.Err()
}

const selectCommission = `SELECT id, partner_id, conversion_id, base_amount, rate,
	commission_amount, bonus_amount, final_amount, status, settlement_batch_id,
	confirmed_at, settled_at, created_at
	FROM commissions`

func scanCommissionRow(row *sql.Row) (*domain.Commission, error) {
	var c domain.Commission
	var status, createdAt string
	var batchID, confirmedAt, settledAt sql.NullString

	err := row.Scan(&c.ID, &c.PartnerID, &c.ConversionID, &c.BaseAmount, &c.Rate,
		&c.CommissionAmount, &c.BonusAmount, &c.FinalAmount, &status, &batchID,
		&confirmedAt, &settledAt, &createdAt)
	if err != nil {
		return nil, err
	}
	fillCommission(&c, status, createdAt, batchID, confirmedAt, settledAt)
	return &c, nil
}

func scanCommissionRows(rows *sql.Rows) (*domain.Commission, error) {
	var c domain.Commission
	var status, createdAt string
	var batchID, confirmedAt, settledAt sql.NullString

	err := rows.Scan(&c.ID, &c.PartnerID, &c.ConversionID, &c.BaseAmount, &c.Rate,
		&c.CommissionAmount, &c.BonusAmount, &c.FinalAmount, &status, &batchID,
		&confirmedAt, &settledAt, &createdAt)
	if err != nil {
		return nil, err
	}
	fillCommission(&c, status, createdAt, batchID, confirmedAt, settledAt)
	return &c, nil
}

func fillCommission(c *domain.Commission, status, createdAt string, batchID, confirmedAt, settledAt sql.NullString) {
	c.Status = domain.CommissionStatus(status)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if batchID.Valid {
		c.SettlementBatchID = batchID.String
	}
	if confirmedAt.Valid {
		t, _ := time.Parse(time.RFC3339, confirmedAt.String)
		c.ConfirmedAt = &t
	}
	if settledAt.Valid {
		t, _ := time.Parse(time.RFC3339, settledAt.String)
		c.SettledAt = &t
	}
}
