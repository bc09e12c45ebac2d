package courses

import (
	"context"
	"errors"
	"testing"

	"agility-sync/internal/database"
	"agility-sync/internal/models"
)

type stubSource struct {
	courses []models.Course
	err     error
}

func (s *stubSource) ListCourses(ctx context.Context) ([]models.Course, error) {
	return s.courses, s.err
}

func setupService(t *testing.T, source Source) (*Service, *database.DB) {
	t.Helper()
	db, err := database.Open(t.TempDir()+"/test.db", nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(source, db, nil), db
}

func TestRefresh(t *testing.T) {
	source := &stubSource{courses: []models.Course{
		{ID: "c2", Name: "Zig Zag", ConeCount: 6},
		{ID: "c1", Name: "Star", ConeCount: 5, IsOfficial: true,
			ConePositions: []models.ConePosition{{Number: 1, Distance: 5, Angle: 90}}},
	}}
	service, _ := setupService(t, source)
	ctx := context.Background()

	n, err := service.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 courses cached, got %d", n)
	}

	courses, err := service.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(courses) != 2 || courses[0].ID != "c1" {
		t.Fatalf("Expected official course first, got %+v", courses)
	}

	course, err := service.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(course.ConePositions) != 1 || course.ConePositions[0].Angle != 90 {
		t.Errorf("Cone positions not preserved: %+v", course.ConePositions)
	}

	// A later refresh overwrites cached rows
	source.courses = []models.Course{{ID: "c2", Name: "Zig Zag v2", ConeCount: 7}}
	if _, err := service.Refresh(ctx); err != nil {
		t.Fatalf("Second refresh failed: %v", err)
	}
	course, err = service.Get(ctx, "c2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if course.Name != "Zig Zag v2" || course.ConeCount != 7 {
		t.Errorf("Expected last write to win, got %+v", course)
	}
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	source := &stubSource{courses: []models.Course{{ID: "c1", Name: "Star", IsOfficial: true}}}
	service, _ := setupService(t, source)
	ctx := context.Background()

	if _, err := service.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	source.err = errors.New("remote unreachable")
	if _, err := service.Refresh(ctx); err == nil {
		t.Fatal("Expected refresh error")
	}

	courses, err := service.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(courses) != 1 {
		t.Errorf("Expected cache to survive a failed refresh, got %d courses", len(courses))
	}
}

func TestRefreshUnconfigured(t *testing.T) {
	service, _ := setupService(t, nil)

	if _, err := service.Refresh(context.Background()); !errors.Is(err, ErrRemoteNotConfigured) {
		t.Errorf("Expected ErrRemoteNotConfigured, got %v", err)
	}

	courses, err := service.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if courses == nil || len(courses) != 0 {
		t.Errorf("Expected empty non-nil list, got %v", courses)
	}
}

func TestGetMissing(t *testing.T) {
	service, _ := setupService(t, &stubSource{})
	if _, err := service.Get(context.Background(), "nope"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
