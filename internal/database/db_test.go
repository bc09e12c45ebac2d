package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"agility-sync/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}

func testEntry(localID string, reps int) models.QueueEntry {
	session := models.PendingSession{
		LocalID: localID,
		SessionRecord: models.SessionRecord{
			DrillConfig:        models.DrillConfig{Sets: 1, RepsPerSet: reps, RestBetweenSets: 30, MinStartDelay: 1, MaxStartDelay: 4},
			TotalTimeMs:        int64(reps) * 2500,
			TotalRepsCompleted: reps,
			CompletedAt:        time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		},
	}
	for i := 0; i < reps; i++ {
		session.Reps = append(session.Reps, models.Rep{
			RepNumber:    i + 1,
			SetNumber:    1,
			TargetCone:   i%4 + 1,
			StartDelayMs: 1500,
			SprintTimeMs: 1000 + int64(i)*10,
		})
	}
	return models.NewQueueEntry(session, time.Now())
}

func TestOpenUnavailable(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"), nil)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Expected ErrStorageUnavailable, got %v", err)
	}

	_, err = Open("", nil)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Expected ErrStorageUnavailable for empty path, got %v", err)
	}
}

func TestInitIsIdempotentAndConcurrent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.Init(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent init failed: %v", err)
		}
	}

	var version int
	if err := db.conn.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if version != SchemaVersion() {
		t.Errorf("Expected schema version %d, got %d", SchemaVersion(), version)
	}
}

func TestInitPreservesDataAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Init(ctx); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	if err := db.Enqueue(ctx, testEntry("local-1", 3)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	db.Close()

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("Failed to re-initialize database: %v", err)
	}

	entries, err := reopened.ListQueue(ctx)
	if err != nil {
		t.Fatalf("Failed to list queue: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected queued entry to survive reopen, got %d entries", len(entries))
	}
}

func TestInitRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if _, err := db.conn.Exec(`PRAGMA user_version = 99`); err != nil {
		t.Fatalf("Failed to set schema version: %v", err)
	}
	defer db.Close()

	err = db.Init(context.Background())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Expected ErrStorageUnavailable for newer schema, got %v", err)
	}
}

func TestSyncQueueOperations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("EnqueueAndList", func(t *testing.T) {
		entry := testEntry("local-a", 4)
		if err := db.Enqueue(ctx, entry); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}

		entries, err := db.ListQueue(ctx)
		if err != nil {
			t.Fatalf("Failed to list queue: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("Expected 1 entry, got %d", len(entries))
		}

		got := entries[0]
		if got.LocalID != "local-a" || got.Session.LocalID != "local-a" {
			t.Errorf("Unexpected local id %s / %s", got.LocalID, got.Session.LocalID)
		}
		if got.Attempts != 0 || got.LastAttempt != nil || got.LastError != nil {
			t.Errorf("Expected fresh bookkeeping, got %+v", got)
		}
		if len(got.Session.Reps) != 4 {
			t.Errorf("Expected 4 reps, got %d", len(got.Session.Reps))
		}
		if got.Session.Reps[3].SprintTimeMs != 1030 {
			t.Errorf("Expected rep order to be preserved, got sprint %d", got.Session.Reps[3].SprintTimeMs)
		}
		if !got.Session.CompletedAt.Equal(entry.Session.CompletedAt) {
			t.Errorf("Expected completed at %v, got %v", entry.Session.CompletedAt, got.Session.CompletedAt)
		}
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		err := db.Enqueue(ctx, testEntry("local-a", 2))
		if !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("Expected ErrDuplicateKey, got %v", err)
		}
	})

	t.Run("InvalidEntry", func(t *testing.T) {
		err := db.Enqueue(ctx, testEntry("local-empty", 0))
		if !errors.Is(err, models.ErrInvalidEntry) {
			t.Fatalf("Expected ErrInvalidEntry, got %v", err)
		}
	})

	t.Run("RecordFailedAttempt", func(t *testing.T) {
		if err := db.RecordAttempt(ctx, "local-a", false, "connection refused"); err != nil {
			t.Fatalf("Failed to record attempt: %v", err)
		}
		if err := db.RecordAttempt(ctx, "local-a", false, "remote rejected"); err != nil {
			t.Fatalf("Failed to record attempt: %v", err)
		}

		entry, err := db.GetQueueEntry(ctx, "local-a")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		if entry.Attempts != 2 {
			t.Errorf("Expected 2 attempts, got %d", entry.Attempts)
		}
		if entry.LastAttempt == nil {
			t.Error("Expected last attempt to be set")
		}
		if entry.LastError == nil || *entry.LastError != "remote rejected" {
			t.Errorf("Expected last error 'remote rejected', got %v", entry.LastError)
		}
	})

	t.Run("RecordFailedAttemptMissing", func(t *testing.T) {
		err := db.RecordAttempt(ctx, "local-missing", false, "boom")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("QueueDepth", func(t *testing.T) {
		if err := db.Enqueue(ctx, testEntry("local-b", 1)); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}

		total, parked, err := db.QueueDepth(ctx, 2)
		if err != nil {
			t.Fatalf("Failed to get queue depth: %v", err)
		}
		if total != 2 || parked != 1 {
			t.Errorf("Expected total 2 parked 1, got total %d parked %d", total, parked)
		}
	})

	t.Run("IdempotentRemoval", func(t *testing.T) {
		if err := db.RecordAttempt(ctx, "local-a", true, ""); err != nil {
			t.Fatalf("First removal failed: %v", err)
		}
		if err := db.RecordAttempt(ctx, "local-a", true, ""); err != nil {
			t.Fatalf("Second removal should be a no-op, got %v", err)
		}

		_, err := db.GetQueueEntry(ctx, "local-a")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected removed entry to be gone, got %v", err)
		}
	})
}

func TestListQueueReturnsUnreadableEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Enqueue(ctx, testEntry("local-good", 3)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_queue (local_id, session_json, attempts, enqueued_at) VALUES (?, ?, 0, ?)`,
		"local-bad", `{"local_id":"local-bad","extra":1}`, toMillis(time.Now()))
	if err != nil {
		t.Fatalf("Failed to insert raw row: %v", err)
	}

	entries, err := db.ListQueue(ctx)
	if err != nil {
		t.Fatalf("One unreadable row should not fail the list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	byID := map[string]models.QueueEntry{}
	for _, e := range entries {
		byID[e.LocalID] = e
	}
	if err := byID["local-good"].Validate(); err != nil {
		t.Errorf("Good entry should validate: %v", err)
	}
	bad := byID["local-bad"]
	if bad.DecodeError == nil {
		t.Fatal("Expected decode error on unreadable entry")
	}
	if err := bad.Validate(); !errors.Is(err, models.ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry for unreadable entry, got %v", err)
	}
}

func TestListQueueOrdersByEnqueueTime(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"local-c", "local-a", "local-b"} {
		entry := testEntry(id, 1)
		entry.EnqueuedAt = base.Add(time.Duration(i) * time.Minute)
		if err := db.Enqueue(ctx, entry); err != nil {
			t.Fatalf("Failed to enqueue %s: %v", id, err)
		}
	}

	entries, err := db.ListQueue(ctx)
	if err != nil {
		t.Fatalf("Failed to list queue: %v", err)
	}
	want := []string{"local-c", "local-a", "local-b"}
	for i, entry := range entries {
		if entry.LocalID != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], entry.LocalID)
		}
	}
}

func TestConfirmedSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	avg := int64(1010)
	variance := 12.5
	for i := 0; i < 5; i++ {
		session := models.ConfirmedSession{
			ID:      "remote-" + string(rune('a'+i)),
			LocalID: "local-" + string(rune('a'+i)),
			SessionRecord: models.SessionRecord{
				TotalRepsCompleted: i + 1,
				AvgSprintTimeMs:    &avg,
				SprintVariance:     &variance,
				CompletedAt:        base.Add(time.Duration(i) * time.Hour),
			},
			ConfirmedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		if err := db.ConfirmEntry(ctx, session); err != nil {
			t.Fatalf("Failed to save confirmed session: %v", err)
		}
	}

	recent, err := db.ListRecentConfirmed(ctx, 3)
	if err != nil {
		t.Fatalf("Failed to list recent sessions: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(recent))
	}
	for i, want := range []string{"remote-e", "remote-d", "remote-c"} {
		if recent[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, recent[i].ID)
		}
	}
	if recent[0].AvgSprintTimeMs == nil || *recent[0].AvgSprintTimeMs != 1010 {
		t.Errorf("Expected average sprint 1010, got %v", recent[0].AvgSprintTimeMs)
	}

	// Upsert by remote id does not duplicate
	again := recent[0]
	again.Notes = ptr("felt quick")
	if err := db.ConfirmEntry(ctx, again); err != nil {
		t.Fatalf("Failed to re-save confirmed session: %v", err)
	}
	all, err := db.ListRecentConfirmed(ctx, 100)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Expected 5 sessions after upsert, got %d", len(all))
	}
	if all[0].Notes == nil || *all[0].Notes != "felt quick" {
		t.Errorf("Expected upserted notes, got %v", all[0].Notes)
	}

	if err := db.ConfirmEntry(ctx, models.ConfirmedSession{}); err == nil {
		t.Error("Expected error saving a session without a remote id")
	}
}

func TestCourseCache(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	courses := []models.Course{
		{ID: "c2", Name: "Zig Zag", ConeCount: 6, IsOfficial: false},
		{ID: "c1", Name: "Star", ConeCount: 4, IsOfficial: true, ConePositions: []models.ConePosition{
			{Number: 1, Distance: 5, Angle: 0},
			{Number: 2, Distance: 5, Angle: 90},
		}},
	}
	if err := db.CacheCourses(ctx, courses); err != nil {
		t.Fatalf("Failed to cache courses: %v", err)
	}

	cached, err := db.ListCachedCourses(ctx)
	if err != nil {
		t.Fatalf("Failed to list courses: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("Expected 2 courses, got %d", len(cached))
	}
	if cached[0].ID != "c1" {
		t.Errorf("Expected official course first, got %s", cached[0].ID)
	}
	if len(cached[0].ConePositions) != 2 || cached[0].ConePositions[1].Angle != 90 {
		t.Errorf("Unexpected cone positions %+v", cached[0].ConePositions)
	}

	// Last write wins
	if err := db.CacheCourses(ctx, []models.Course{{ID: "c2", Name: "Zig Zag v2", ConeCount: 8, IsOfficial: true}}); err != nil {
		t.Fatalf("Failed to re-cache course: %v", err)
	}
	course, err := db.GetCourse(ctx, "c2")
	if err != nil {
		t.Fatalf("Failed to get course: %v", err)
	}
	if course.Name != "Zig Zag v2" || course.ConeCount != 8 || !course.IsOfficial {
		t.Errorf("Expected updated course, got %+v", course)
	}

	if _, err := db.GetCourse(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// A bad course rolls back the whole batch
	err = db.CacheCourses(ctx, []models.Course{{ID: "c3", Name: "New"}, {Name: "No ID"}})
	if err == nil {
		t.Fatal("Expected error caching a course without id")
	}
	if _, err := db.GetCourse(ctx, "c3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected partial batch to be rolled back, got %v", err)
	}

	if err := db.CacheCourses(ctx, nil); err != nil {
		t.Errorf("Caching no courses should be a no-op, got %v", err)
	}
}

func TestConfirmEntryRemovesQueueEntry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entry := testEntry("local-a", 3)
	if err := db.Enqueue(ctx, entry); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	confirmed := models.ConfirmedSession{
		ID:            "remote-a",
		LocalID:       "local-a",
		SessionRecord: entry.Session.SessionRecord,
		ConfirmedAt:   time.Now().UTC(),
	}
	if err := db.ConfirmEntry(ctx, confirmed); err != nil {
		t.Fatalf("Failed to confirm entry: %v", err)
	}

	if _, err := db.GetQueueEntry(ctx, "local-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected queue entry to be removed, got %v", err)
	}
	recent, err := db.ListRecentConfirmed(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list confirmed sessions: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "remote-a" {
		t.Errorf("Expected remote-a confirmed, got %+v", recent)
	}

	// A cancelled context must leave both tables untouched
	if err := db.Enqueue(ctx, testEntry("local-b", 3)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	confirmed.ID, confirmed.LocalID = "remote-b", "local-b"
	if err := db.ConfirmEntry(cancelled, confirmed); err == nil {
		t.Fatal("Expected error with cancelled context")
	}
	if _, err := db.GetQueueEntry(ctx, "local-b"); err != nil {
		t.Errorf("Queue entry should survive a failed confirm: %v", err)
	}
	recent, err = db.ListRecentConfirmed(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list confirmed sessions: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("Expected no confirmed row from a failed confirm, got %d rows", len(recent))
	}
}

func TestReset(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Enqueue(ctx, testEntry("local-a", 2)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := db.ConfirmEntry(ctx, models.ConfirmedSession{ID: "remote-a", LocalID: "local-z"}); err != nil {
		t.Fatalf("Failed to save confirmed: %v", err)
	}
	if err := db.CacheCourses(ctx, []models.Course{{ID: "c1", Name: "Star"}}); err != nil {
		t.Fatalf("Failed to cache courses: %v", err)
	}

	if err := db.Reset(ctx); err != nil {
		t.Fatalf("Failed to reset: %v", err)
	}

	entries, _ := db.ListQueue(ctx)
	sessions, _ := db.ListRecentConfirmed(ctx, 10)
	courses, _ := db.ListCachedCourses(ctx)
	if len(entries) != 0 || len(sessions) != 0 || len(courses) != 0 {
		t.Errorf("Expected empty store, got %d entries %d sessions %d courses", len(entries), len(sessions), len(courses))
	}
}

func ptr[T any](v T) *T {
	return &v
}
