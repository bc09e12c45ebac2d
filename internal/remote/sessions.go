package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"agility-sync/internal/metrics"
	"agility-sync/internal/models"
	"agility-sync/internal/stats"
)

// sessionInsert is the agility_sessions creation payload: every pending
// session field except the local id and the reps
type sessionInsert struct {
	UserID             *string `json:"user_id"`
	CourseID           *string `json:"course_id"`
	TaskID             *string `json:"task_id"`
	GoalID             *string `json:"goal_id"`
	Sets               int     `json:"sets"`
	RepsPerSet         int     `json:"reps_per_set"`
	RestBetweenSets    int     `json:"rest_between_sets"`
	MinStartDelay      float64 `json:"min_start_delay"`
	MaxStartDelay      float64 `json:"max_start_delay"`
	TotalTimeMs        int64   `json:"total_time_ms"`
	TotalRepsCompleted int     `json:"total_reps_completed"`
	AvgSprintTimeMs    int64   `json:"avg_sprint_time_ms"`
	SprintVariance     float64 `json:"sprint_variance"`
	IsRanked           bool    `json:"is_ranked"`
	CompletedAt        string  `json:"completed_at"`
	Notes              *string `json:"notes"`
	RPE                *int    `json:"rpe"`
	SharedCount        int     `json:"shared_count"`
}

// sessionRow is a stored agility_sessions row as returned by the remote store
type sessionRow struct {
	ID                 string     `json:"id"`
	UserID             *string    `json:"user_id"`
	CourseID           *string    `json:"course_id"`
	TaskID             *string    `json:"task_id"`
	GoalID             *string    `json:"goal_id"`
	Sets               int        `json:"sets"`
	RepsPerSet         int        `json:"reps_per_set"`
	RestBetweenSets    int        `json:"rest_between_sets"`
	MinStartDelay      float64    `json:"min_start_delay"`
	MaxStartDelay      float64    `json:"max_start_delay"`
	TotalTimeMs        int64      `json:"total_time_ms"`
	TotalRepsCompleted int        `json:"total_reps_completed"`
	AvgSprintTimeMs    *int64     `json:"avg_sprint_time_ms"`
	SprintVariance     *float64   `json:"sprint_variance"`
	IsRanked           bool       `json:"is_ranked"`
	CompletedAt        time.Time  `json:"completed_at"`
	CreatedAt          *time.Time `json:"created_at"`
	Notes              *string    `json:"notes"`
	RPE                *int       `json:"rpe"`
	SharedCount        int        `json:"shared_count"`
}

// repInsert is one agility_reps creation payload
type repInsert struct {
	SessionID       string  `json:"session_id"`
	RepNumber       int     `json:"rep_number"`
	SetNumber       int     `json:"set_number"`
	TargetCone      int     `json:"target_cone"`
	StartDelayMs    int64   `json:"start_delay_ms"`
	SprintTimeMs    int64   `json:"sprint_time_ms"`
	ReactionQuality *string `json:"reaction_quality"`
}

func newSessionInsert(s models.PendingSession, agg stats.Aggregates) sessionInsert {
	return sessionInsert{
		UserID:             s.UserID,
		CourseID:           s.CourseID,
		TaskID:             s.TaskID,
		GoalID:             s.GoalID,
		Sets:               s.Sets,
		RepsPerSet:         s.RepsPerSet,
		RestBetweenSets:    s.RestBetweenSets,
		MinStartDelay:      s.MinStartDelay,
		MaxStartDelay:      s.MaxStartDelay,
		TotalTimeMs:        s.TotalTimeMs,
		TotalRepsCompleted: s.TotalRepsCompleted,
		AvgSprintTimeMs:    agg.RoundedMeanMs(),
		SprintVariance:     agg.StdDevMs,
		IsRanked:           s.IsRanked,
		CompletedAt:        s.CompletedAt.UTC().Format(time.RFC3339Nano),
		Notes:              s.Notes,
		RPE:                s.RPE,
		SharedCount:        s.SharedCount,
	}
}

func newRepInserts(sessionID string, reps []models.Rep) []repInsert {
	inserts := make([]repInsert, len(reps))
	for i, rep := range reps {
		var quality *string
		if rep.ReactionQuality != nil {
			q := string(*rep.ReactionQuality)
			quality = &q
		}
		inserts[i] = repInsert{
			SessionID:       sessionID,
			RepNumber:       rep.RepNumber,
			SetNumber:       rep.SetNumber,
			TargetCone:      rep.TargetCone,
			StartDelayMs:    rep.StartDelayMs,
			SprintTimeMs:    rep.SprintTimeMs,
			ReactionQuality: quality,
		}
	}
	return inserts
}

func (r sessionRow) toConfirmed(localID string, confirmedAt time.Time) models.ConfirmedSession {
	return models.ConfirmedSession{
		ID:      r.ID,
		LocalID: localID,
		SessionRecord: models.SessionRecord{
			UserID:   r.UserID,
			CourseID: r.CourseID,
			TaskID:   r.TaskID,
			GoalID:   r.GoalID,
			DrillConfig: models.DrillConfig{
				Sets:            r.Sets,
				RepsPerSet:      r.RepsPerSet,
				RestBetweenSets: r.RestBetweenSets,
				MinStartDelay:   r.MinStartDelay,
				MaxStartDelay:   r.MaxStartDelay,
			},
			TotalTimeMs:        r.TotalTimeMs,
			TotalRepsCompleted: r.TotalRepsCompleted,
			AvgSprintTimeMs:    r.AvgSprintTimeMs,
			SprintVariance:     r.SprintVariance,
			IsRanked:           r.IsRanked,
			CompletedAt:        r.CompletedAt,
			Notes:              r.Notes,
			RPE:                r.RPE,
			SharedCount:        r.SharedCount,
		},
		ConfirmedAt: confirmedAt,
	}
}

// UploadSession writes the session row and then its rep rows. If the rep
// write fails the whole upload fails even though a session row now exists
// remotely; the local id is sent as Idempotency-Key so the remote side can
// collapse the duplicate row a retry would otherwise create.
func (c *Client) UploadSession(ctx context.Context, session models.PendingSession, agg stats.Aggregates) (models.ConfirmedSession, error) {
	resp, err := c.do(ctx, metrics.OpInsertSession, http.MethodPost, restPrefix+"/agility_sessions",
		newSessionInsert(session, agg),
		map[string]string{
			"Prefer":          "return=representation",
			"Accept":          singleObjectMIME,
			"Idempotency-Key": session.LocalID,
		})
	if err != nil {
		return models.ConfirmedSession{}, err
	}

	var row sessionRow
	if err := decodeJSON(resp, metrics.OpInsertSession, &row); err != nil {
		return models.ConfirmedSession{}, err
	}
	if row.ID == "" {
		return models.ConfirmedSession{}, fmt.Errorf("%w: %s returned no id", ErrRemoteRejected, metrics.OpInsertSession)
	}

	resp, err = c.do(ctx, metrics.OpInsertReps, http.MethodPost, restPrefix+"/agility_reps",
		newRepInserts(row.ID, session.Reps),
		map[string]string{"Prefer": "return=minimal"})
	if err != nil {
		return models.ConfirmedSession{}, fmt.Errorf("session %s stored but reps failed: %w", row.ID, err)
	}
	resp.Body.Close()

	return row.toConfirmed(session.LocalID, c.now().UTC()), nil
}
