// Package courses keeps the local course cache in step with the remote store.
package courses

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agility-sync/internal/metrics"
	"agility-sync/internal/models"
)

// ErrRemoteNotConfigured is returned by Refresh when there is no remote source
var ErrRemoteNotConfigured = errors.New("remote store not configured")

// Source lists courses from the remote store
type Source interface {
	ListCourses(ctx context.Context) ([]models.Course, error)
}

// Cache is the local course cache
type Cache interface {
	CacheCourses(ctx context.Context, courses []models.Course) error
	ListCachedCourses(ctx context.Context) ([]models.Course, error)
	GetCourse(ctx context.Context, id string) (*models.Course, error)
}

// Service refreshes and serves cached courses
type Service struct {
	source Source
	cache  Cache
	logger *zap.Logger
}

// NewService creates a course service. source may be nil when the remote
// store is not configured; the cache is still served.
func NewService(source Source, cache Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, cache: cache, logger: logger}
}

// Refresh fetches every course from the remote store and writes them to the
// cache in one transaction. It returns the number of courses cached.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, ErrRemoteNotConfigured
	}

	courses, err := s.source.ListCourses(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch courses: %w", err)
	}
	if err := s.cache.CacheCourses(ctx, courses); err != nil {
		return 0, fmt.Errorf("failed to cache courses: %w", err)
	}

	metrics.CoursesCached.Set(float64(len(courses)))
	s.logger.Info("course cache refreshed", zap.Int("courses", len(courses)))
	return len(courses), nil
}

// List returns the cached courses, official first
func (s *Service) List(ctx context.Context) ([]models.Course, error) {
	courses, err := s.cache.ListCachedCourses(ctx)
	if err != nil {
		return nil, err
	}
	if courses == nil {
		courses = []models.Course{}
	}
	return courses, nil
}

// Get returns one cached course
func (s *Service) Get(ctx context.Context, id string) (*models.Course, error) {
	return s.cache.GetCourse(ctx, id)
}
