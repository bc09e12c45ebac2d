package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agility-sync/internal/courses"
	"agility-sync/internal/database"
	"agility-sync/internal/drill"
	"agility-sync/internal/models"
	"agility-sync/internal/remote"
	"agility-sync/internal/worker"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

type recordResponsePayload struct {
	Status  string                   `json:"status"`
	LocalID string                   `json:"local_id"`
	Session *models.ConfirmedSession `json:"session,omitempty"`
}

type statusResponsePayload struct {
	worker.Status
	Degraded bool `json:"degraded"`
}

type queueEntryPayload struct {
	LocalID        string     `json:"local_id"`
	CourseID       *string    `json:"course_id"`
	CompletedAt    time.Time  `json:"completed_at"`
	Reps           int        `json:"reps"`
	Attempts       int        `json:"attempts"`
	LastAttempt    *time.Time `json:"last_attempt"`
	LastError      *string    `json:"error"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	NeedsAttention bool       `json:"needs_attention"`
}

type queueResponsePayload struct {
	Entries        []queueEntryPayload `json:"entries"`
	NeedsAttention int                 `json:"needs_attention"`
}

// decodeStrict rejects unknown fields and trailing data
func decodeStrict(body io.Reader, v any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("unexpected data after request body")
	}
	return nil
}

func (h *httpHandler) handleRecordSession(c *gin.Context) {
	var request drill.CompletedDrill
	if err := decodeStrict(c.Request.Body, &request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.recorder.Record(c.Request.Context(), request)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidEntry):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session", "detail": err.Error()})
		return
	case errors.Is(err, drill.ErrRemoteNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote_not_configured"})
		return
	case errors.Is(err, remote.ErrNetworkUnavailable), errors.Is(err, remote.ErrRemoteRejected):
		h.logger.Warn("direct upload failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload_failed"})
		return
	default:
		h.logger.Error("failed to record session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed"})
		return
	}

	if result.Queued {
		c.JSON(http.StatusAccepted, recordResponsePayload{Status: "queued", LocalID: result.LocalID})
		return
	}
	c.JSON(http.StatusCreated, recordResponsePayload{Status: "confirmed", LocalID: result.LocalID, Session: result.Confirmed})
}

func (h *httpHandler) handleSync(c *gin.Context) {
	if h.syncer == nil {
		unavailable(c)
		return
	}
	c.JSON(http.StatusOK, h.syncer.SyncNow(c.Request.Context()))
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	if h.syncer == nil {
		c.JSON(http.StatusOK, statusResponsePayload{Degraded: true})
		return
	}

	status, err := h.syncer.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to get sync status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}
	c.JSON(http.StatusOK, statusResponsePayload{Status: status})
}

func (h *httpHandler) handleQueue(c *gin.Context) {
	if h.store == nil || h.syncer == nil {
		unavailable(c)
		return
	}

	entries, err := h.store.ListQueue(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list sync queue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue_failed"})
		return
	}

	maxAttempts := h.syncer.MaxAttempts()
	response := queueResponsePayload{Entries: make([]queueEntryPayload, 0, len(entries))}
	for _, entry := range entries {
		payload := newQueueEntryPayload(entry, maxAttempts)
		if payload.NeedsAttention {
			response.NeedsAttention++
		}
		response.Entries = append(response.Entries, payload)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleQueueEntry(c *gin.Context) {
	if h.store == nil || h.syncer == nil {
		unavailable(c)
		return
	}

	entry, err := h.store.GetQueueEntry(c.Request.Context(), c.Param("local_id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, newQueueEntryPayload(*entry, h.syncer.MaxAttempts()))
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error("failed to get sync queue entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue_failed"})
	}
}

func newQueueEntryPayload(entry models.QueueEntry, maxAttempts int) queueEntryPayload {
	return queueEntryPayload{
		LocalID:        entry.LocalID,
		CourseID:       entry.Session.CourseID,
		CompletedAt:    entry.Session.CompletedAt,
		Reps:           len(entry.Session.Reps),
		Attempts:       entry.Attempts,
		LastAttempt:    entry.LastAttempt,
		LastError:      entry.LastError,
		EnqueuedAt:     entry.EnqueuedAt,
		NeedsAttention: entry.Attempts >= maxAttempts,
	}
}

func (h *httpHandler) handleRecentSessions(c *gin.Context) {
	if h.store == nil {
		unavailable(c)
		return
	}

	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxRecentLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	sessions, err := h.store.ListRecentConfirmed(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list confirmed sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sessions_failed"})
		return
	}
	if sessions == nil {
		sessions = []models.ConfirmedSession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *httpHandler) handleListCourses(c *gin.Context) {
	if h.courses == nil {
		unavailable(c)
		return
	}

	list, err := h.courses.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list courses", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "courses_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

func (h *httpHandler) handleRefreshCourses(c *gin.Context) {
	if h.courses == nil {
		unavailable(c)
		return
	}

	n, err := h.courses.Refresh(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"cached": n})
	case errors.Is(err, courses.ErrRemoteNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote_not_configured"})
	case errors.Is(err, remote.ErrNetworkUnavailable), errors.Is(err, remote.ErrRemoteRejected):
		h.logger.Warn("course refresh failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "refresh_failed"})
	default:
		h.logger.Error("course refresh failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_failed"})
	}
}
