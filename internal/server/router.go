package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agility-sync/internal/courses"
	"agility-sync/internal/drill"
	"agility-sync/internal/metrics"
	"agility-sync/internal/middleware"
	"agility-sync/internal/models"
	"agility-sync/internal/worker"
)

var errMissingRecorder = errors.New("drill recorder dependency required")

// Syncer is the sync worker as seen by the API
type Syncer interface {
	SyncNow(ctx context.Context) worker.PassResult
	Status(ctx context.Context) (worker.Status, error)
	MaxAttempts() int
}

// Recorder records a completed drill
type Recorder interface {
	Record(ctx context.Context, completed drill.CompletedDrill) (drill.Result, error)
}

// Store is the read side of the local store the API exposes
type Store interface {
	Health(ctx context.Context) error
	ListQueue(ctx context.Context) ([]models.QueueEntry, error)
	GetQueueEntry(ctx context.Context, localID string) (*models.QueueEntry, error)
	ListRecentConfirmed(ctx context.Context, limit int) ([]models.ConfirmedSession, error)
}

// Dependencies wires the API. Syncer, Store and Courses are nil when the
// local store is unavailable; those endpoints then answer 503.
type Dependencies struct {
	Recorder       Recorder
	Syncer         Syncer
	Store          Store
	Courses        *courses.Service
	Logger         *zap.Logger
	AllowedOrigins []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Recorder == nil {
		return nil, errMissingRecorder
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		recorder: deps.Recorder,
		syncer:   deps.Syncer,
		store:    deps.Store,
		courses:  deps.Courses,
		logger:   logger,
	}

	router.GET("/health", middleware.Metrics(metrics.EndpointHealth), handler.handleHealth)
	router.POST("/sessions", middleware.Metrics(metrics.EndpointRecordSession), handler.handleRecordSession)
	router.GET("/sessions/recent", middleware.Metrics(metrics.EndpointRecentSessions), handler.handleRecentSessions)
	router.POST("/sync", middleware.Metrics(metrics.EndpointSync), handler.handleSync)
	router.GET("/status", middleware.Metrics(metrics.EndpointStatus), handler.handleStatus)
	router.GET("/queue", middleware.Metrics(metrics.EndpointQueue), handler.handleQueue)
	router.GET("/queue/:local_id", middleware.Metrics(metrics.EndpointQueueEntry), handler.handleQueueEntry)
	router.GET("/courses", middleware.Metrics(metrics.EndpointCourses), handler.handleListCourses)
	router.POST("/courses/refresh", middleware.Metrics(metrics.EndpointRefreshCourses), handler.handleRefreshCourses)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	recorder Recorder
	syncer   Syncer
	store    Store
	courses  *courses.Service
	logger   *zap.Logger
}

// handleHealth reports DEGRADED while running without a local store and
// fails only when the store stops answering
func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.store == nil {
		c.String(http.StatusOK, "DEGRADED")
		return
	}
	if err := h.store.Health(c.Request.Context()); err != nil {
		h.logger.Error("local store health check failed", zap.Error(err))
		c.String(http.StatusServiceUnavailable, "UNHEALTHY")
		return
	}
	c.String(http.StatusOK, "OK")
}

func unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
}
