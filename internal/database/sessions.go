package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"agility-sync/internal/metrics"
	"agility-sync/internal/models"
)

const defaultRecentLimit = 20

// ConfirmEntry stores a session confirmed by the remote store and removes
// its sync queue entry in the same transaction. Writing the same remote id
// again replaces the row; a missing queue entry is not an error.
func (db *DB) ConfirmEntry(ctx context.Context, session models.ConfirmedSession) error {
	if session.ID == "" {
		return fmt.Errorf("confirmed session requires a remote id")
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmed session: %w", err)
	}

	return db.withTx(ctx, metrics.DBOpConfirmEntry, func(tx *sql.Tx) error {
		query := `
			INSERT INTO sessions (id, local_id, completed_at, confirmed_at, session_json)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				local_id = excluded.local_id,
				completed_at = excluded.completed_at,
				confirmed_at = excluded.confirmed_at,
				session_json = excluded.session_json
		`
		_, err := tx.ExecContext(ctx, query,
			session.ID, session.LocalID, toMillis(session.CompletedAt), toMillis(session.ConfirmedAt), string(sessionJSON))
		if err != nil {
			return fmt.Errorf("failed to save confirmed session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE local_id = ?`, session.LocalID); err != nil {
			return fmt.Errorf("failed to delete sync queue entry: %w", err)
		}
		return nil
	})
}

// ListRecentConfirmed returns up to limit confirmed sessions, most recently
// completed first
func (db *DB) ListRecentConfirmed(ctx context.Context, limit int) ([]models.ConfirmedSession, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var sessions []models.ConfirmedSession
	err := db.withTx(ctx, metrics.DBOpListConfirmed, func(tx *sql.Tx) error {
		query := `
			SELECT session_json
			FROM sessions
			ORDER BY completed_at DESC, id DESC
			LIMIT ?
		`
		rows, err := tx.QueryContext(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("failed to query confirmed sessions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var sessionJSON string
			if err := rows.Scan(&sessionJSON); err != nil {
				return fmt.Errorf("failed to scan confirmed session: %w", err)
			}
			var session models.ConfirmedSession
			if err := decodeStrict([]byte(sessionJSON), &session); err != nil {
				return fmt.Errorf("failed to decode confirmed session: %w", err)
			}
			sessions = append(sessions, session)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
