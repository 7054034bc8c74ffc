package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the job table. AUTOINCREMENT keeps deleted
// ids from ever being recycled. Each statement uses IF NOT EXISTS for
// idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL DEFAULT '',
		username      TEXT NOT NULL DEFAULT '',
		owner_uid     INTEGER NOT NULL DEFAULT 0,
		filename      TEXT NOT NULL,
		ncpus         INTEGER NOT NULL,
		priority      INTEGER NOT NULL DEFAULT 0,
		allowed_nodes TEXT NOT NULL DEFAULT '[]',
		stdout_path   TEXT NOT NULL DEFAULT '',
		stderr_path   TEXT NOT NULL DEFAULT '',
		node          TEXT NOT NULL DEFAULT '',
		pid           INTEGER NOT NULL DEFAULT 0,
		mail_mode     TEXT NOT NULL DEFAULT '',
		mail_to       TEXT NOT NULL DEFAULT '',
		submitted_at  TEXT NOT NULL,
		started_at    TEXT,
		finished_at   TEXT,
		exit_code     INTEGER
	)`,

	// The waiting-set scan orders by priority then submission time.
	`CREATE INDEX IF NOT EXISTS idx_jobs_priority ON jobs(priority DESC, submitted_at ASC)`,
	// list_finished orders by completion time, newest first.
	`CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_node ON jobs(node)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
