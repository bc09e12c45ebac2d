// Package drill turns completed drills into pending sessions and hands them
// to the sync queue.
package drill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agility-sync/internal/database"
	"agility-sync/internal/metrics"
	"agility-sync/internal/models"
	"agility-sync/internal/stats"
)

const (
	modeQueued = "queued"
	modeDirect = "direct"
)

var (
	errMissingIDProvider = errors.New("id provider is required")
	// ErrRemoteNotConfigured is returned in degraded mode when there is no
	// queue and no remote store to upload to
	ErrRemoteNotConfigured = errors.New("remote store not configured")
)

type IDProvider interface {
	NewID() (string, error)
}

// Queue is where recorded sessions wait for upload
type Queue interface {
	Enqueue(ctx context.Context, entry models.QueueEntry) error
}

// CourseLookup resolves a cached course
type CourseLookup interface {
	GetCourse(ctx context.Context, id string) (*models.Course, error)
}

// Uploader is used directly when there is no local queue
type Uploader interface {
	UploadSession(ctx context.Context, session models.PendingSession, agg stats.Aggregates) (models.ConfirmedSession, error)
}

// SyncTrigger requests a sync pass without waiting for it
type SyncTrigger interface {
	Trigger()
}

type RecorderConfig struct {
	Queue      Queue
	Courses    CourseLookup
	Uploader   Uploader
	Trigger    SyncTrigger
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// CompletedDrill is what the drill UI reports when a drill ends
type CompletedDrill struct {
	UserID      *string            `json:"user_id"`
	CourseID    *string            `json:"course_id"`
	TaskID      *string            `json:"task_id"`
	GoalID      *string            `json:"goal_id"`
	Config      models.DrillConfig `json:"config"`
	Reps        []models.Rep       `json:"reps"`
	TotalTimeMs *int64             `json:"total_time_ms"`
	CompletedAt *time.Time         `json:"completed_at"`
	Notes       *string            `json:"notes"`
	RPE         *int               `json:"rpe"`
}

// Result tells the caller whether the session was queued or, without a
// local queue, confirmed directly
type Result struct {
	LocalID   string                   `json:"local_id"`
	Queued    bool                     `json:"queued"`
	Confirmed *models.ConfirmedSession `json:"confirmed,omitempty"`
}

// Recorder records completed drills
type Recorder struct {
	queue      Queue
	courses    CourseLookup
	uploader   Uploader
	trigger    SyncTrigger
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewRecorder builds a recorder. Without a queue the recorder runs degraded
// and uploads every session synchronously.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		queue:      cfg.Queue,
		courses:    cfg.Courses,
		uploader:   cfg.Uploader,
		trigger:    cfg.Trigger,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Build converts a completed drill into a pending session with a fresh
// local id
func (r *Recorder) Build(ctx context.Context, drill CompletedDrill) (models.PendingSession, error) {
	localID, err := r.idProvider.NewID()
	if err != nil {
		return models.PendingSession{}, fmt.Errorf("failed to generate local id: %w", err)
	}

	completedAt := r.clock().UTC()
	if drill.CompletedAt != nil {
		completedAt = drill.CompletedAt.UTC()
	}

	reps := make([]models.Rep, len(drill.Reps))
	copy(reps, drill.Reps)

	totalTime := sumDurations(reps)
	if drill.TotalTimeMs != nil {
		totalTime = *drill.TotalTimeMs
	}

	return models.PendingSession{
		LocalID: localID,
		SessionRecord: models.SessionRecord{
			UserID:             drill.UserID,
			CourseID:           drill.CourseID,
			TaskID:             drill.TaskID,
			GoalID:             drill.GoalID,
			DrillConfig:        drill.Config,
			TotalTimeMs:        totalTime,
			TotalRepsCompleted: len(reps),
			IsRanked:           r.isRanked(ctx, drill.CourseID),
			CompletedAt:        completedAt,
			Notes:              drill.Notes,
			RPE:                drill.RPE,
		},
		Reps: reps,
	}, nil
}

// Record queues the drill and asks for an immediate sync. In degraded mode
// it uploads directly and returns the confirmed session.
func (r *Recorder) Record(ctx context.Context, drill CompletedDrill) (Result, error) {
	session, err := r.Build(ctx, drill)
	if err != nil {
		return Result{}, err
	}
	if session.Incomplete() {
		r.logger.Warn("recording incomplete drill",
			zap.String("local_id", session.LocalID),
			zap.Int("reps", len(session.Reps)),
			zap.Int("expected", session.ExpectedReps()))
	}

	if r.queue == nil {
		return r.recordDirect(ctx, session)
	}

	entry := models.NewQueueEntry(session, r.clock().UTC())
	if err := r.queue.Enqueue(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("failed to queue session: %w", err)
	}
	metrics.SessionsRecordedTotal.WithLabelValues(modeQueued).Inc()
	r.logger.Info("session queued", zap.String("local_id", session.LocalID))

	if r.trigger != nil {
		r.trigger.Trigger()
	}
	return Result{LocalID: session.LocalID, Queued: true}, nil
}

func (r *Recorder) recordDirect(ctx context.Context, session models.PendingSession) (Result, error) {
	if r.uploader == nil {
		return Result{}, ErrRemoteNotConfigured
	}

	// Same hard checks the queue would apply
	if err := models.NewQueueEntry(session, r.clock()).Validate(); err != nil {
		return Result{}, err
	}
	agg, err := stats.Summarize(session.SprintTimes())
	if err != nil {
		return Result{}, err
	}

	confirmed, err := r.uploader.UploadSession(ctx, session, agg)
	if err != nil {
		return Result{}, fmt.Errorf("failed to upload session: %w", err)
	}
	metrics.SessionsRecordedTotal.WithLabelValues(modeDirect).Inc()
	r.logger.Info("session uploaded without local queue",
		zap.String("local_id", session.LocalID),
		zap.String("remote_id", confirmed.ID))
	return Result{LocalID: session.LocalID, Confirmed: &confirmed}, nil
}

// isRanked follows the cached course's official flag. Unknown courses and
// lookup failures are unranked.
func (r *Recorder) isRanked(ctx context.Context, courseID *string) bool {
	if courseID == nil || r.courses == nil {
		return false
	}
	course, err := r.courses.GetCourse(ctx, *courseID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			r.logger.Warn("failed to look up course", zap.String("course_id", *courseID), zap.Error(err))
		}
		return false
	}
	return course.IsOfficial
}

func sumDurations(reps []models.Rep) int64 {
	var total int64
	for _, rep := range reps {
		total += rep.StartDelayMs + rep.SprintTimeMs
	}
	return total
}
