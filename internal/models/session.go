package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEntry marks a queue entry that cannot be stored or uploaded
var ErrInvalidEntry = errors.New("invalid queue entry")

// ReactionQuality is an optional qualitative label for a rep
type ReactionQuality string

const (
	ReactionExcellent ReactionQuality = "excellent"
	ReactionGood      ReactionQuality = "good"
	ReactionFair      ReactionQuality = "fair"
	ReactionPoor      ReactionQuality = "poor"
)

// Valid reports whether q is one of the known labels
func (q ReactionQuality) Valid() bool {
	switch q {
	case ReactionExcellent, ReactionGood, ReactionFair, ReactionPoor:
		return true
	}
	return false
}

// DrillConfig is the drill configuration copied into a session at record time
type DrillConfig struct {
	Sets            int     `json:"sets"`
	RepsPerSet      int     `json:"reps_per_set"`
	RestBetweenSets int     `json:"rest_between_sets"` // seconds
	MinStartDelay   float64 `json:"min_start_delay"`   // seconds
	MaxStartDelay   float64 `json:"max_start_delay"`   // seconds
}

// ExpectedReps is the rep count of a drill run to completion
func (c DrillConfig) ExpectedReps() int {
	return c.Sets * c.RepsPerSet
}

// Rep is one timed repetition within a session
type Rep struct {
	RepNumber       int              `json:"rep_number"`
	SetNumber       int              `json:"set_number"`
	TargetCone      int              `json:"target_cone"`
	StartDelayMs    int64            `json:"start_delay_ms"`
	SprintTimeMs    int64            `json:"sprint_time_ms"`
	ReactionQuality *ReactionQuality `json:"reaction_quality"`
}

// SessionRecord holds the session fields shared by pending and confirmed sessions
type SessionRecord struct {
	UserID   *string `json:"user_id"`
	CourseID *string `json:"course_id"`
	TaskID   *string `json:"task_id"`
	GoalID   *string `json:"goal_id"`

	DrillConfig

	TotalTimeMs        int64    `json:"total_time_ms"`
	TotalRepsCompleted int      `json:"total_reps_completed"`
	AvgSprintTimeMs    *int64   `json:"avg_sprint_time_ms"`
	SprintVariance     *float64 `json:"sprint_variance"`

	IsRanked    bool      `json:"is_ranked"`
	CompletedAt time.Time `json:"completed_at"`

	Notes       *string `json:"notes"`
	RPE         *int    `json:"rpe"` // 1-10
	SharedCount int     `json:"shared_count"`
}

// PendingSession is a completed drill not yet confirmed by the remote store
type PendingSession struct {
	LocalID string `json:"local_id"`
	SessionRecord
	Reps []Rep `json:"reps"`
}

// SprintTimes returns the sprint time of every rep in order
func (s PendingSession) SprintTimes() []int64 {
	times := make([]int64, len(s.Reps))
	for i, rep := range s.Reps {
		times[i] = rep.SprintTimeMs
	}
	return times
}

// Incomplete reports whether the rep count differs from sets × reps per set,
// which happens when a drill is abandoned early
func (s PendingSession) Incomplete() bool {
	return len(s.Reps) != s.ExpectedReps()
}

// QueueEntry wraps a pending session with upload bookkeeping
type QueueEntry struct {
	LocalID     string         `json:"local_id"`
	Session     PendingSession `json:"session"`
	Attempts    int            `json:"attempts"`
	LastAttempt *time.Time     `json:"last_attempt"`
	LastError   *string        `json:"error"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`

	// DecodeError is set when the stored session could not be read back.
	// Session is then empty and Validate fails.
	DecodeError error `json:"-"`
}

// NewQueueEntry creates a fresh entry for session with no attempts recorded
func NewQueueEntry(session PendingSession, now time.Time) QueueEntry {
	return QueueEntry{
		LocalID:    session.LocalID,
		Session:    session,
		EnqueuedAt: now,
	}
}

// Validate checks the hard invariants of an entry. A rep count that does not
// match the drill config is not an error; see PendingSession.Incomplete.
func (e QueueEntry) Validate() error {
	if e.DecodeError != nil {
		return fmt.Errorf("%w: unreadable session: %v", ErrInvalidEntry, e.DecodeError)
	}
	if e.LocalID == "" {
		return fmt.Errorf("%w: local id is required", ErrInvalidEntry)
	}
	if e.Session.LocalID != e.LocalID {
		return fmt.Errorf("%w: session local id %q does not match entry %q", ErrInvalidEntry, e.Session.LocalID, e.LocalID)
	}
	if e.Attempts < 0 {
		return fmt.Errorf("%w: negative attempt counter %d", ErrInvalidEntry, e.Attempts)
	}
	if len(e.Session.Reps) == 0 {
		return fmt.Errorf("%w: session has no reps", ErrInvalidEntry)
	}
	for i, rep := range e.Session.Reps {
		if rep.SprintTimeMs < 0 || rep.StartDelayMs < 0 {
			return fmt.Errorf("%w: rep %d has a negative duration", ErrInvalidEntry, i+1)
		}
		if rep.ReactionQuality != nil && !rep.ReactionQuality.Valid() {
			return fmt.Errorf("%w: rep %d has unknown reaction quality %q", ErrInvalidEntry, i+1, *rep.ReactionQuality)
		}
	}
	if rpe := e.Session.RPE; rpe != nil && (*rpe < 1 || *rpe > 10) {
		return fmt.Errorf("%w: rpe %d out of range 1-10", ErrInvalidEntry, *rpe)
	}
	return nil
}

// ConfirmedSession is a session the remote store has durably accepted,
// keyed by the identifier the remote store assigned
type ConfirmedSession struct {
	ID      string `json:"id"`
	LocalID string `json:"local_id"`
	SessionRecord
	ConfirmedAt time.Time `json:"confirmed_at"`
}
