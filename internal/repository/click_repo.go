package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shoplane/settler/internal/domain"
)

type ClickRepo struct {
	db *sql.DB
}

func NewClickRepo(db *sql.DB) *ClickRepo {
	return &ClickRepo{db: db}
}

// Insert appends a click and, when the click came through a link, bumps the
// link's click counter in the same transaction. The assigned id is written
// back onto c.
func (r *ClickRepo) Insert(c *domain.Click) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var linkID any
	if c.LinkID != "" {
		linkID = c.LinkID
	}
	res, err := tx.Exec(
		`INSERT INTO clicks (partner_id, link_id, session_id, landing_url, converted, clicked_at)
		VALUES (?,?,?,?,0,?)`,
		c.PartnerID, linkID, c.SessionID, c.LandingURL, c.ClickedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	if c.LinkID != "" {
		if _, err := tx.Exec(
			"UPDATE links SET click_count = click_count + 1 WHERE id = ?", c.LinkID,
		); err != nil {
			return fmt.Errorf("bump link clicks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ClickRepo) GetByID(id int64) (*domain.Click, error) {
	row := r.db.QueryRow(
		`SELECT id, partner_id, link_id, session_id, landing_url, converted, conversion_id, clicked_at
		FROM clicks WHERE id = ?`, id,
	)
	c, err := scanClickRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// FindLatestUnconverted returns the most recent unconverted click for the
// session at or after the cutoff. Equal timestamps break toward the
// highest id. Returns ErrNotFound when no click qualifies.
func (r *ClickRepo) FindLatestUnconverted(sessionID string, cutoff time.Time) (*domain.Click, error) {
	row := r.db.QueryRow(
		`SELECT id, partner_id, link_id, session_id, landing_url, converted, conversion_id, clicked_at
		FROM clicks
		WHERE session_id = ? AND converted = 0 AND clicked_at >= ?
		ORDER BY clicked_at DESC, id DESC
		LIMIT 1`,
		sessionID, cutoff.Format(time.RFC3339),
	)
	c, err := scanClickRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// MarkConverted flips a click to converted and records the conversion it
// produced. The converted=0 predicate makes the flip one-way: the second
// caller racing on the same click affects zero rows and gets
// ErrAlreadyConverted.
func (r *ClickRepo) MarkConverted(clickID int64, conversionID string) error {
	res, err := r.db.Exec(
		"UPDATE clicks SET converted = 1, conversion_id = ? WHERE id = ? AND converted = 0",
		conversionID, clickID,
	)
	if err != nil {
		return fmt.Errorf("mark converted: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrAlreadyConverted
	}
	return nil
}

func (r *ClickRepo) CountBySession(sessionID string) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM clicks WHERE session_id = ?", sessionID,
	).Scan(&count)
	return count, err
}

func scanClickRow(row *sql.Row) (*domain.Click, error) {
	var c domain.Click
	var linkID, convID sql.NullString
	var converted int
	var clickedAt string

	err := row.Scan(&c.ID, &c.PartnerID, &linkID, &c.SessionID, &c.LandingURL,
		&converted, &convID, &clickedAt)
	if err != nil {
		return nil, err
	}

	c.Converted = converted != 0
	if linkID.Valid {
		c.LinkID = linkID.String
	}
	if convID.Valid {
		c.ConversionID = convID.String
	}
	c.ClickedAt, _ = time.Parse(time.RFC3339, clickedAt)
	return &c, nil
}
