package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agility-sync/internal/metrics"
	"agility-sync/internal/models"
)

// Enqueue inserts a new sync queue entry. It fails with ErrDuplicateKey if
// the local id is already queued.
func (db *DB) Enqueue(ctx context.Context, entry models.QueueEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	sessionJSON, err := json.Marshal(entry.Session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	enqueuedAt := entry.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = db.now()
	}

	var lastAttempt sql.NullInt64
	if entry.LastAttempt != nil {
		lastAttempt = sql.NullInt64{Int64: toMillis(*entry.LastAttempt), Valid: true}
	}
	var lastError sql.NullString
	if entry.LastError != nil {
		lastError = sql.NullString{String: *entry.LastError, Valid: true}
	}

	err = db.withTx(ctx, metrics.DBOpEnqueue, func(tx *sql.Tx) error {
		query := `
			INSERT INTO sync_queue (local_id, session_json, attempts, last_attempt_at, last_error, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			entry.LocalID, string(sessionJSON), entry.Attempts, lastAttempt, lastError, toMillis(enqueuedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: sync queue entry %s", ErrDuplicateKey, entry.LocalID)
			}
			return fmt.Errorf("failed to enqueue session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.QueueEnqueueTotal.Inc()
	return nil
}

// ListQueue returns every sync queue entry, oldest enqueue first
func (db *DB) ListQueue(ctx context.Context) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := db.withTx(ctx, metrics.DBOpListQueue, func(tx *sql.Tx) error {
		query := `
			SELECT local_id, session_json, attempts, last_attempt_at, last_error, enqueued_at
			FROM sync_queue
			ORDER BY enqueued_at ASC, local_id ASC
		`
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to query sync queue: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			entry, err := scanQueueEntry(rows)
			if err != nil {
				return err
			}
			if entry.DecodeError != nil {
				db.logger.Warn("unreadable sync queue entry",
					zap.String("local_id", entry.LocalID),
					zap.Error(entry.DecodeError))
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetQueueEntry returns a single queue entry or ErrNotFound
func (db *DB) GetQueueEntry(ctx context.Context, localID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := db.withTx(ctx, metrics.DBOpListQueue, func(tx *sql.Tx) error {
		query := `
			SELECT local_id, session_json, attempts, last_attempt_at, last_error, enqueued_at
			FROM sync_queue
			WHERE local_id = ?
		`
		var err error
		entry, err = scanQueueEntry(tx.QueryRowContext(ctx, query, localID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: sync queue entry %s", ErrNotFound, localID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecordAttempt records the outcome of one upload attempt. On success the
// entry is deleted; removing an entry that is already gone is a no-op. On
// failure the attempt counter is incremented and the error stored, failing
// with ErrNotFound if the entry no longer exists.
func (db *DB) RecordAttempt(ctx context.Context, localID string, success bool, errText string) error {
	return db.withTx(ctx, metrics.DBOpRecordAttempt, func(tx *sql.Tx) error {
		if success {
			if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE local_id = ?`, localID); err != nil {
				return fmt.Errorf("failed to delete sync queue entry: %w", err)
			}
			return nil
		}

		var lastError sql.NullString
		if errText != "" {
			lastError = sql.NullString{String: errText, Valid: true}
		}

		query := `
			UPDATE sync_queue
			SET attempts = attempts + 1,
			    last_attempt_at = ?,
			    last_error = ?
			WHERE local_id = ?
		`
		result, err := tx.ExecContext(ctx, query, toMillis(db.now()), lastError, localID)
		if err != nil {
			return fmt.Errorf("failed to record sync attempt: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to record sync attempt: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: sync queue entry %s", ErrNotFound, localID)
		}
		return nil
	})
}

// QueueDepth returns the number of queued entries and how many of them have
// reached maxAttempts
func (db *DB) QueueDepth(ctx context.Context, maxAttempts int) (total int, parked int, err error) {
	err = db.withTx(ctx, metrics.DBOpQueueDepth, func(tx *sql.Tx) error {
		query := `
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN attempts >= ? THEN 1 ELSE 0 END), 0)
			FROM sync_queue
		`
		if err := tx.QueryRowContext(ctx, query, maxAttempts).Scan(&total, &parked); err != nil {
			return fmt.Errorf("failed to get sync queue depth: %w", err)
		}
		return nil
	})
	return total, parked, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(row rowScanner) (models.QueueEntry, error) {
	var (
		entry       models.QueueEntry
		sessionJSON string
		lastAttempt sql.NullInt64
		lastError   sql.NullString
		enqueuedAt  int64
	)
	if err := row.Scan(&entry.LocalID, &sessionJSON, &entry.Attempts, &lastAttempt, &lastError, &enqueuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, err
		}
		return entry, fmt.Errorf("failed to scan sync queue entry: %w", err)
	}

	// An unreadable row is returned rather than failing the whole queue
	if err := decodeStrict([]byte(sessionJSON), &entry.Session); err != nil {
		entry.Session = models.PendingSession{}
		entry.DecodeError = err
	}
	if lastAttempt.Valid {
		t := fromMillis(lastAttempt.Int64)
		entry.LastAttempt = &t
	}
	if lastError.Valid {
		msg := lastError.String
		entry.LastError = &msg
	}
	entry.EnqueuedAt = fromMillis(enqueuedAt)
	return entry, nil
}
