package db

import (
	"database/sql"
	"fmt"
)

// migrations is an ordered list of SQL statements to run. The statements are
// written in the subset of SQL shared by SQLite and Postgres.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS representatives (
		id         BIGINT    PRIMARY KEY,
		name       TEXT      NOT NULL DEFAULT '',
		active     BOOLEAN   NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS visit_sessions (
		id               TEXT      PRIMARY KEY,
		rep_id           BIGINT    NOT NULL,
		client_id        TEXT      NOT NULL,
		client_name      TEXT      NOT NULL DEFAULT '',
		client_address   TEXT      NOT NULL DEFAULT '',
		planned_date     TEXT      NOT NULL,
		checkin_at       TIMESTAMP NOT NULL,
		checkout_at      TIMESTAMP,
		elapsed_minutes  INTEGER,
		status           TEXT      NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed')),
		checkin_address  TEXT      NOT NULL DEFAULT '',
		checkout_address TEXT      NOT NULL DEFAULT '',
		day_code         TEXT      NOT NULL DEFAULT '',
		route_ref        TEXT      NOT NULL DEFAULT '',
		svc_restock      BOOLEAN   NOT NULL DEFAULT FALSE,
		svc_pricing      BOOLEAN   NOT NULL DEFAULT FALSE,
		svc_shelf        BOOLEAN   NOT NULL DEFAULT FALSE,
		svc_display      BOOLEAN   NOT NULL DEFAULT FALSE,
		qty_fronts       INTEGER,
		qty_points       INTEGER,
		cancelled_at     TIMESTAMP,
		cancel_reason    TEXT,
		created_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	// At most one open session per representative and client.
	`CREATE UNIQUE INDEX IF NOT EXISTS visit_sessions_one_open
		ON visit_sessions (rep_id, client_id)
		WHERE status = 'open' AND checkout_at IS NULL AND cancelled_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS visit_sessions_rep_checkin
		ON visit_sessions (rep_id, checkin_at)`,
	`CREATE TABLE IF NOT EXISTS visit_events (
		id               TEXT      PRIMARY KEY,
		local_id         TEXT      UNIQUE,
		session_id       TEXT      NOT NULL REFERENCES visit_sessions(id) ON DELETE CASCADE,
		rep_id           BIGINT    NOT NULL,
		client_id        TEXT      NOT NULL,
		kind             TEXT      NOT NULL CHECK (kind IN ('checkin', 'checkout', 'campanha', 'atividade')),
		planned_date     TEXT      NOT NULL DEFAULT '',
		occurred_at      TIMESTAMP NOT NULL,
		latitude         DOUBLE PRECISION,
		longitude        DOUBLE PRECISION,
		address          TEXT      NOT NULL DEFAULT '',
		evidence_file_id TEXT,
		evidence_url     TEXT,
		created_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS visit_events_session
		ON visit_events (session_id, kind)`,
	`CREATE TABLE IF NOT EXISTS session_cancellations (
		session_id   TEXT      NOT NULL,
		rep_id       BIGINT    NOT NULL,
		client_id    TEXT      NOT NULL,
		reason       TEXT      NOT NULL DEFAULT '',
		cancelled_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS force_sync_flags (
		rep_id       BIGINT    PRIMARY KEY,
		pull_pending BOOLEAN   NOT NULL DEFAULT FALSE,
		push_pending BOOLEAN   NOT NULL DEFAULT FALSE,
		message      TEXT      NOT NULL DEFAULT '',
		updated_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT      PRIMARY KEY,
		value      TEXT      NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
}

// migrate runs all migrations in order.
func migrate(db *sql.DB) error {
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
