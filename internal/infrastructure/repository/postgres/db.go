package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockKey int64 = 2026101701

// OpenDB connects through the pgx stdlib driver. The archive only writes
// when jobs leave the retention window, so the pool stays small.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the archive tables. Concurrent worker startups are
// serialized with a transaction-scoped advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	settings JSONB NOT NULL DEFAULT '{}'::jsonb,
	items JSONB NOT NULL DEFAULT '[]'::jsonb,
	total_items INTEGER NOT NULL,
	done INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ,
	archived_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_item_results (
	job_id TEXT NOT NULL REFERENCES batch_jobs(id) ON DELETE CASCADE,
	item_index INTEGER NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	conversion JSONB,
	PRIMARY KEY (job_id, item_index)
);

CREATE INDEX IF NOT EXISTS idx_batch_jobs_finished_at ON batch_jobs(finished_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
