package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shoplane/settler/internal/domain"
)

type LinkRepo struct {
	db *sql.DB
}

func NewLinkRepo(db *sql.DB) *LinkRepo {
	return &LinkRepo{db: db}
}

func (r *LinkRepo) Insert(l *domain.Link) error {
	_, err := r.db.Exec(
		`INSERT INTO links (id, partner_id, code, destination_url, click_count, conversion_count, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.PartnerID, l.Code, l.DestinationURL, l.ClickCount, l.ConversionCount,
		l.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (r *LinkRepo) GetByID(id string) (*domain.Link, error) {
	row := r.db.QueryRow(
		`SELECT id, partner_id, code, destination_url, click_count, conversion_count, created_at
		FROM links WHERE id = ?`, id,
	)
	return scanLink(row)
}

func (r *LinkRepo) GetByCode(code string) (*domain.Link, error) {
	row := r.db.QueryRow(
		`SELECT id, partner_id, code, destination_url, click_count, conversion_count, created_at
		FROM links WHERE code = ?`, code,
	)
	return scanLink(row)
}

func (r *LinkRepo) ListByPartner(partnerID string) ([]domain.Link, error) {
	rows, err := r.db.Query(
		`SELECT id, partner_id, code, destination_url, click_count, conversion_count, created_at
		FROM links WHERE partner_id = ? ORDER BY created_at`, partnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var links []domain.Link
	for rows.Next() {
		var l domain.Link
		var createdAt string
		if err := rows.Scan(&l.ID, &l.PartnerID, &l.Code, &l.DestinationURL,
			&l.ClickCount, &l.ConversionCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		links = append(links, l)
	}
	return links, rows.Err()
}

func scanLink(row *sql.Row) (*domain.Link, error) {
	var l domain.Link
	var createdAt string
	err := row.Scan(&l.ID, &l.PartnerID, &l.Code, &l.DestinationURL,
		&l.ClickCount, &l.ConversionCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &l, nil
}
