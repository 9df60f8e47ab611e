package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite allows a single writer; one pooled connection serializes
	// writers ahead of the driver's busy handler and keeps :memory:
	// databases coherent across the pool.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS partners (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			commission_rate REAL NOT NULL,
			total_commission INTEGER NOT NULL DEFAULT 0,
			conversion_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS links (
			id TEXT PRIMARY KEY,
			partner_id TEXT NOT NULL,
			code TEXT UNIQUE NOT NULL,
			destination_url TEXT NOT NULL,
			click_count INTEGER NOT NULL DEFAULT 0,
			conversion_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (partner_id) REFERENCES partners(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_partner ON links(partner_id)`,

		// Click ids must be monotonically increasing: the attribution
		// tie-break between equal timestamps picks the highest id.
		`CREATE TABLE IF NOT EXISTS clicks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			partner_id TEXT NOT NULL,
			link_id TEXT,
			session_id TEXT NOT NULL,
			landing_url TEXT NOT NULL,
			converted INTEGER NOT NULL DEFAULT 0,
			conversion_id TEXT,
			clicked_at DATETIME NOT NULL,
			FOREIGN KEY (partner_id) REFERENCES partners(id),
			FOREIGN KEY (link_id) REFERENCES links(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clicks_session ON clicks(session_id, converted, clicked_at)`,
		`CREATE INDEX IF NOT EXISTS idx_clicks_partner ON clicks(partner_id)`,

		`CREATE TABLE IF NOT EXISTS conversions (
			id TEXT PRIMARY KEY,
			partner_id TEXT NOT NULL,
			click_id INTEGER,
			order_id TEXT NOT NULL,
			product_type TEXT NOT NULL DEFAULT '',
			order_amount INTEGER NOT NULL,
			commission_amount INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			attribution_days INTEGER NOT NULL DEFAULT 0,
			cancel_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (partner_id) REFERENCES partners(id),
			FOREIGN KEY (click_id) REFERENCES clicks(id)
		)`,
		// One live conversion per order; cancelled rows are kept for audit
		// and released from the uniqueness constraint.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversions_order_live
			ON conversions(order_id) WHERE status != 'cancelled'`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_partner ON conversions(partner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status, created_at)`,

		`CREATE TABLE IF NOT EXISTS commissions (
			id TEXT PRIMARY KEY,
			partner_id TEXT NOT NULL,
			conversion_id TEXT NOT NULL,
			base_amount INTEGER NOT NULL,
			rate REAL NOT NULL,
			commission_amount INTEGER NOT NULL,
			bonus_amount INTEGER NOT NULL DEFAULT 0,
			final_amount INTEGER NOT NULL,
			status TEXT NOT NULL,
			settlement_batch_id TEXT,
			confirmed_at DATETIME,
			settled_at DATETIME,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (partner_id) REFERENCES partners(id),
			FOREIGN KEY (conversion_id) REFERENCES conversions(id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_commissions_conversion_live
			ON commissions(conversion_id) WHERE status != 'cancelled'`,
		`CREATE INDEX IF NOT EXISTS idx_commissions_partner_status
			ON commissions(partner_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_commissions_batch ON commissions(settlement_batch_id)`,

		`CREATE TABLE IF NOT EXISTS settlement_batches (
			id TEXT PRIMARY KEY,
			partner_id TEXT NOT NULL,
			total_amount INTEGER NOT NULL,
			commission_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			paid_at DATETIME,
			FOREIGN KEY (partner_id) REFERENCES partners(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_partner ON settlement_batches(partner_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}
