package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"agility-sync/internal/metrics"
	"agility-sync/internal/models"
)

// CacheCourses upserts courses in a single transaction so readers never see
// a mix of old and new rows. Last write wins per course id.
func (db *DB) CacheCourses(ctx context.Context, courses []models.Course) error {
	if len(courses) == 0 {
		return nil
	}

	cachedAt := toMillis(db.now())
	return db.withTx(ctx, metrics.DBOpCacheCourses, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO courses (id, name, is_official, course_json, cached_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				is_official = excluded.is_official,
				course_json = excluded.course_json,
				cached_at = excluded.cached_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare course upsert: %w", err)
		}
		defer stmt.Close()

		for _, course := range courses {
			if course.ID == "" {
				return fmt.Errorf("course %q has no id", course.Name)
			}
			courseJSON, err := json.Marshal(course)
			if err != nil {
				return fmt.Errorf("failed to marshal course %s: %w", course.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, course.ID, course.Name, course.IsOfficial, string(courseJSON), cachedAt); err != nil {
				return fmt.Errorf("failed to cache course %s: %w", course.ID, err)
			}
		}
		return nil
	})
}

// ListCachedCourses returns every cached course, official courses first
func (db *DB) ListCachedCourses(ctx context.Context) ([]models.Course, error) {
	var courses []models.Course
	err := db.withTx(ctx, metrics.DBOpListCourses, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT course_json FROM courses ORDER BY is_official DESC, name ASC, id ASC`)
		if err != nil {
			return fmt.Errorf("failed to query courses: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var courseJSON string
			if err := rows.Scan(&courseJSON); err != nil {
				return fmt.Errorf("failed to scan course: %w", err)
			}
			var course models.Course
			if err := decodeStrict([]byte(courseJSON), &course); err != nil {
				return fmt.Errorf("failed to decode course: %w", err)
			}
			courses = append(courses, course)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return courses, nil
}

// GetCourse returns one cached course or ErrNotFound
func (db *DB) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	var course models.Course
	err := db.withTx(ctx, metrics.DBOpGetCourse, func(tx *sql.Tx) error {
		var courseJSON string
		err := tx.QueryRowContext(ctx, `SELECT course_json FROM courses WHERE id = ?`, id).Scan(&courseJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: course %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to get course: %w", err)
		}
		return decodeStrict([]byte(courseJSON), &course)
	})
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// Reset clears the sync queue, confirmed sessions and course cache atomically.
// Only for test and reset tooling.
func (db *DB) Reset(ctx context.Context) error {
	return db.withTx(ctx, metrics.DBOpReset, func(tx *sql.Tx) error {
		for _, table := range []string{"sync_queue", "sessions", "courses"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}
