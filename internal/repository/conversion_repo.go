package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shoplane/settler/internal/domain"
)

type ConversionRepo struct {
	db *sql.DB
}

func NewConversionRepo(db *sql.DB) *ConversionRepo {
	return &ConversionRepo{db: db}
}

// InsertAttributed persists a new conversion and applies every side effect
// of attribution in one transaction: the click's one-way converted flip,
// the partner's conversion counter and, for link-attributed clicks, the
// link's conversion counter.
//
// The insert uses OR IGNORE against the live-order unique index, so a
// duplicate order event inserts nothing; inserted=false tells the caller
// to fetch the existing conversion instead. If the click lost its race in
// the meantime the conversion is kept but stored click-less.
func (r *ConversionRepo) InsertAttributed(c *domain.Conversion, clickLinkID string) (inserted bool, err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var clickID any
	if c.ClickID > 0 {
		clickID = c.ClickID
	}
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO conversions
		(id, partner_id, click_id, order_id, product_type, order_amount,
		 commission_amount, status, attribution_days, cancel_reason, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.PartnerID, clickID, c.OrderID, c.ProductType, c.OrderAmount,
		c.CommissionAmount, string(c.Status), c.AttributionDays, c.CancelReason,
		c.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("insert conversion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	bound := false
	if c.ClickID > 0 {
		res, err := tx.Exec(
			"UPDATE clicks SET converted = 1, conversion_id = ? WHERE id = ? AND converted = 0",
			c.ID, c.ClickID,
		)
		if err != nil {
			return false, fmt.Errorf("mark click converted: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			bound = true
		} else {
			// Another conversion claimed the click between lookup and
			// here; keep this conversion but drop the stale binding.
			if _, err := tx.Exec(
				"UPDATE conversions SET click_id = NULL, attribution_days = 0 WHERE id = ?",
				c.ID,
			); err != nil {
				return false, fmt.Errorf("clear click binding: %w", err)
			}
			c.ClickID = 0
			c.AttributionDays = 0
		}
	}

	if _, err := tx.Exec(
		"UPDATE partners SET conversion_count = conversion_count + 1 WHERE id = ?",
		c.PartnerID,
	); err != nil {
		return false, fmt.Errorf("bump partner conversions: %w", err)
	}

	if bound && clickLinkID != "" {
		if _, err := tx.Exec(
			"UPDATE links SET conversion_count = conversion_count + 1 WHERE id = ?",
			clickLinkID,
		); err != nil {
			return false, fmt.Errorf("bump link conversions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *ConversionRepo) GetByID(id string) (*domain.Conversion, error) {
	row := r.db.QueryRow(selectConversion+" WHERE id = ?", id)
	c, err := scanConversionRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// GetLiveByOrderID returns the single non-cancelled conversion for an
// order, or ErrNotFound.
func (r *ConversionRepo) GetLiveByOrderID(orderID string) (*domain.Conversion, error) {
	row := r.db.QueryRow(
		selectConversion+" WHERE order_id = ? AND status != 'cancelled'", orderID,
	)
	c, err := scanConversionRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// UpdateStatusFrom transitions a conversion only when its current status
// matches from. Reports whether this call won the transition.
func (r *ConversionRepo) UpdateStatusFrom(id string, from, to domain.ConversionStatus) (bool, error) {
	res, err := r.db.Exec(
		"UPDATE conversions SET status = ? WHERE id = ? AND status = ?",
		string(to), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// TerminateWithCounter moves a conversion into a terminal status and
// decrements the owning partner's conversion counter in the same
// transaction. The from predicate keeps racing callers from decrementing
// twice.
func (r *ConversionRepo) TerminateWithCounter(id string, from, to domain.ConversionStatus, reason string) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE conversions SET status = ?, cancel_reason = ? WHERE id = ? AND status = ?",
		string(to), reason, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(
		`UPDATE partners SET conversion_count = conversion_count - 1
		WHERE id = (SELECT partner_id FROM conversions WHERE id = ?)`,
		id,
	); err != nil {
		return false, fmt.Errorf("drop partner conversions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ExpirePending bulk-cancels pending conversions created before the
// cutoff, tagging each with the given reason and decrementing partner
// conversion counters. Returns the number of conversions cancelled; a
// repeat run over the same data affects zero rows.
func (r *ConversionRepo) ExpirePending(cutoff time.Time, reason string) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Per-partner counts first, while the rows are still pending.
	rows, err := tx.Query(
		`SELECT partner_id, COUNT(*) FROM conversions
		WHERE status = 'pending' AND created_at < ?
		GROUP BY partner_id`,
		cutoff.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("group pending: %w", err)
	}
	counts := map[string]int{}
	for rows.Next() {
		var partnerID string
		var n int
		if err := rows.Scan(&partnerID, &n); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan: %w", err)
		}
		counts[partnerID] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	res, err := tx.Exec(
		`UPDATE conversions SET status = 'cancelled', cancel_reason = ?
		WHERE status = 'pending' AND created_at < ?`,
		reason, cutoff.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("expire: %w", err)
	}
	affected, _ := res.RowsAffected()

	for partnerID, n := range counts {
		if _, err := tx.Exec(
			"UPDATE partners SET conversion_count = conversion_count - ? WHERE id = ?",
			n, partnerID,
		); err != nil {
			return 0, fmt.Errorf("drop partner conversions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(affected), nil
}

func (r *ConversionRepo) CountByStatus() (map[domain.ConversionStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM conversions GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[domain.ConversionStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.ConversionStatus(status)] = n
	}
	return counts, rows.Err()
}

const selectConversion = `SELECT id, partner_id, click_id, order_id, product_type,
	order_amount, commission_amount, status, attribution_days, cancel_reason, created_at
	FROM conversions`

func scanConversionRow(row *sql.Row) (*domain.Conversion, error) {
	var c domain.Conversion
	var clickID sql.NullInt64
	var status, createdAt string

	err := row.Scan(&c.ID, &c.PartnerID, &clickID, &c.OrderID, &c.ProductType,
		&c.OrderAmount, &c.CommissionAmount, &status, &c.AttributionDays,
		&c.CancelReason, &createdAt)
	if err != nil {
		return nil, err
	}

	if clickID.Valid {
		c.ClickID = clickID.Int64
	}
	c.Status = domain.ConversionStatus(status)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}
