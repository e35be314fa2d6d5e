package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migrate brings the schema up to the latest version. Versions are
// recorded in schema_migrations so restarts are no-ops.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version BIGINT PRIMARY KEY,
  applied_at_ns BIGINT NOT NULL
);`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	const latest = 3

	cur, err := currentVersion(ctx, d.DB)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latest; v++ {
		if err := apply(ctx, d.DB, v); err != nil {
			return err
		}
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations;`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func apply(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch version {
	case 1:
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS settlements (
  settlement_id TEXT PRIMARY KEY,
  idempotency_key TEXT NOT NULL,
  source_chain TEXT NOT NULL,
  dest_chain TEXT NOT NULL,
  account TEXT NOT NULL,
  amount BIGINT NOT NULL,
  status TEXT NOT NULL,
  burn_ref TEXT NOT NULL DEFAULT '',
  mint_ref TEXT NOT NULL DEFAULT '',
  compensation_ref TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  created_at_ns BIGINT NOT NULL,
  updated_at_ns BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements(status);
CREATE INDEX IF NOT EXISTS idx_settlements_idempotency_key ON settlements(idempotency_key);

CREATE TABLE IF NOT EXISTS idempotency_keys (
  idempotency_key TEXT PRIMARY KEY,
  settlement_id TEXT NOT NULL,
  created_at_ns BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS settlement_locks (
  lock_key TEXT PRIMARY KEY,
  holder_id TEXT NOT NULL,
  acquired_at_ns BIGINT NOT NULL,
  expires_at_ns BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settlement_locks_expiry ON settlement_locks(expires_at_ns);
`); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	case 2:
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS settlement_events (
  event_id TEXT PRIMARY KEY,
  settlement_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  recorded_at_ns BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settlement_events_settlement ON settlement_events(settlement_id, recorded_at_ns);
`); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	case 3:
		// Settlement rows are only written after the key is registered,
		// so one row per key holds; the unique index makes the store
		// reject any second row outright.
		if _, err := tx.ExecContext(ctx, `
DROP INDEX IF EXISTS idx_settlements_idempotency_key;

CREATE UNIQUE INDEX IF NOT EXISTS idx_settlements_idempotency_key ON settlements(idempotency_key);
`); err != nil {
			return fmt.Errorf("migration v3 failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at_ns) VALUES($1, $2);`,
		version, time.Now().UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}
