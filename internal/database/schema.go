package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"agility-sync/internal/metrics"
)

// migrations are applied in order; the schema version stored in
// PRAGMA user_version is the number already applied. Append only.
var migrations = []string{
	// 1: sync queue, confirmed sessions, course cache
	`
-- Sync queue: completed drills not yet confirmed by the remote store
CREATE TABLE IF NOT EXISTS sync_queue (
    local_id TEXT PRIMARY KEY,

    -- Full pending session, reps included (JSON)
    session_json TEXT NOT NULL,

    -- Retry bookkeeping
    attempts INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
    last_attempt_at INTEGER,  -- Unix millis
    last_error TEXT,

    enqueued_at INTEGER NOT NULL
);

-- Confirmed sessions, keyed by the remote-assigned id
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    local_id TEXT NOT NULL,
    completed_at INTEGER NOT NULL,
    confirmed_at INTEGER NOT NULL,
    session_json TEXT NOT NULL
);

-- Course reference data
CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    is_official BOOLEAN NOT NULL DEFAULT 0,
    course_json TEXT NOT NULL,
    cached_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_attempts ON sync_queue(attempts);
CREATE INDEX IF NOT EXISTS idx_sessions_completed_at ON sessions(completed_at DESC);
`,
}

// SchemaVersion is the schema version this build writes
func SchemaVersion() int {
	return len(migrations)
}

// migrate brings the schema up to SchemaVersion inside one transaction and
// returns the resulting version. A database written by a newer build is
// refused rather than downgraded.
func migrate(ctx context.Context, db *DB) (int, error) {
	var version int
	err := db.withTx(ctx, metrics.DBOpInit, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		if version > len(migrations) {
			return fmt.Errorf("schema version %d is newer than supported version %d", version, len(migrations))
		}

		for i := version; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
			}
			db.logger.Info("database migration applied", zap.Int("version", i+1))
		}

		if version < len(migrations) {
			// PRAGMA does not accept bound parameters
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, len(migrations))); err != nil {
				return fmt.Errorf("failed to write schema version: %w", err)
			}
			version = len(migrations)
		}
		return nil
	})
	return version, err
}
