package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shoplane/settler/internal/domain"
)

type BatchRepo struct {
	db *sql.DB
}

func NewBatchRepo(db *sql.DB) *BatchRepo {
	return &BatchRepo{db: db}
}

// CreateClaiming creates a settlement batch and claims every confirmed,
// unassigned commission of the partner in one transaction. The claim
// update carries the settlement_batch_id IS NULL predicate, so of two
// concurrent batch attempts for the same partner one claims the rows and
// the other sees zero and fails with ErrNothingToSettle.
//
// The batch total is the sum over exactly the rows claimed here, never a
// re-queried aggregate, so confirmations landing after the snapshot cannot
// skew it. The claimed ids and totals are written back onto b.
func (r *BatchRepo) CreateClaiming(b *domain.SettlementBatch) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id, final_amount FROM commissions
		WHERE partner_id = ? AND status = 'confirmed' AND settlement_batch_id IS NULL
		ORDER BY id`,
		b.PartnerID,
	)
	if err != nil {
		return fmt.Errorf("select eligible: %w", err)
	}
	var ids []string
	var total int64
	for rows.Next() {
		var id string
		var amount int64
		if err := rows.Scan(&id, &amount); err != nil {
			rows.Close()
			return fmt.Errorf("scan: %w", err)
		}
		ids = append(ids, id)
		total += amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return domain.ErrNothingToSettle
	}

	if _, err := tx.Exec(
		`INSERT INTO settlement_batches
		(id, partner_id, total_amount, commission_count, status, created_at)
		VALUES (?,?,?,?,?,?)`,
		b.ID, b.PartnerID, total, len(ids), string(domain.BatchCreated),
		b.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE commissions SET status = 'settled', settlement_batch_id = ?, settled_at = ?
		WHERE partner_id = ? AND status = 'confirmed' AND settlement_batch_id IS NULL`,
		b.ID, b.CreatedAt.Format(time.RFC3339), b.PartnerID,
	)
	if err != nil {
		return fmt.Errorf("claim commissions: %w", err)
	}
	if n, _ := res.RowsAffected(); int(n) != len(ids) {
		return fmt.Errorf("claimed %d of %d eligible commissions", n, len(ids))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	b.TotalAmount = total
	b.CommissionCount = len(ids)
	b.CommissionIDs = ids
	b.Status = domain.BatchCreated
	return nil
}

func (r *BatchRepo) GetByID(id string) (*domain.SettlementBatch, error) {
	row := r.db.QueryRow(selectBatch+" WHERE id = ?", id)
	b, err := scanBatchRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return b, err
}

func (r *BatchRepo) ListByPartner(partnerID string) ([]domain.SettlementBatch, error) {
	return r.list(selectBatch+" WHERE partner_id = ? ORDER BY created_at DESC", partnerID)
}

func (r *BatchRepo) List() ([]domain.SettlementBatch, error) {
	return r.list(selectBatch + " ORDER BY created_at DESC")
}

func (r *BatchRepo) list(query string, args ...any) ([]domain.SettlementBatch, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var batches []domain.SettlementBatch
	for rows.Next() {
		b, err := scanBatchRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// MarkPaid records the payout collaborator's success report. One-way from
// created.
func (r *BatchRepo) MarkPaid(id string, at time.Time) (bool, error) {
	res, err := r.db.Exec(
		"UPDATE settlement_batches SET status = 'paid', paid_at = ? WHERE id = ? AND status = 'created'",
		at.Format(time.RFC3339), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkFailed records a payout failure. The claimed commissions stay
// settled; recovery is a compensating reversal commission, not a rollback
// of the batch.
func (r *BatchRepo) MarkFailed(id, reason string) (bool, error) {
	res, err := r.db.Exec(
		"UPDATE settlement_batches SET status = 'failed', failure_reason = ? WHERE id = ? AND status = 'created'",
		reason, id,
	)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

const selectBatch = `SELECT id, partner_id, total_amount, commission_count, status,
	failure_reason, created_at, paid_at
	FROM settlement_batches`

func scanBatchRow(row *sql.Row) (*domain.SettlementBatch, error) {
	var b domain.SettlementBatch
	var status, createdAt string
	var paidAt sql.NullString

	err := row.Scan(&b.ID, &b.PartnerID, &b.TotalAmount, &b.CommissionCount,
		&status, &b.FailureReason, &createdAt, &paidAt)
	if err != nil {
		return nil, err
	}
	fillBatch(&b, status, createdAt, paidAt)
	return &b, nil
}

func scanBatchRows(rows *sql.Rows) (*domain.SettlementBatch, error) {
	var b domain.SettlementBatch
	var status, createdAt string
	var paidAt sql.NullString

	err := rows.Scan(&b.ID, &b.PartnerID, &b.TotalAmount, &b.CommissionCount,
		&status, &b.FailureReason, &createdAt, &paidAt)
	if err != nil {
		return nil, err
	}
	fillBatch(&b, status, createdAt, paidAt)
	return &b, nil
}

func fillBatch(b *domain.SettlementBatch, status, createdAt string, paidAt sql.NullString) {
	b.Status = domain.BatchStatus(status)
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if paidAt.Valid {
		t, _ := time.Parse(time.RFC3339, paidAt.String)
		b.PaidAt = &t
	}
}
