package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Entry results
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultParked  = "parked"
	ResultInvalid = "invalid"

	// Pass outcomes
	OutcomeCompleted    = "completed"
	OutcomeInProgress   = "in_progress"
	OutcomeOffline      = "offline"
	OutcomeUnconfigured = "unconfigured"
	OutcomeStoreError   = "store_error"

	// Pass triggers
	TriggerTimer  = "timer"
	TriggerManual = "manual"

	// HTTP endpoints
	EndpointHealth         = "health"
	EndpointRecordSession  = "record_session"
	EndpointSync           = "sync"
	EndpointStatus         = "status"
	EndpointQueue          = "queue"
	EndpointQueueEntry     = "queue_entry"
	EndpointRecentSessions = "recent_sessions"
	EndpointCourses        = "courses"
	EndpointRefreshCourses = "refresh_courses"

	// Remote API operations
	OpInsertSession = "insert_session"
	OpInsertReps    = "insert_reps"
	OpListCourses   = "list_courses"
	OpPing          = "ping"

	// Database operations
	DBOpInit          = "init"
	DBOpEnqueue       = "enqueue"
	DBOpListQueue     = "list_queue"
	DBOpRecordAttempt = "record_attempt"
	DBOpQueueDepth    = "queue_depth"
	DBOpConfirmEntry  = "confirm_entry"
	DBOpListConfirmed = "list_confirmed"
	DBOpCacheCourses  = "cache_courses"
	DBOpListCourses   = "list_courses"
	DBOpGetCourse     = "get_course"
	DBOpReset         = "reset"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Queue Metrics
var (
	QueueDepthTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth_total",
			Help: "Total number of sessions waiting in the sync queue",
		},
	)

	QueueDepthParked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth_parked",
			Help: "Number of queued sessions that reached the retry ceiling",
		},
	)

	QueueEnqueueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_queue_enqueue_total",
			Help: "Total number of sessions enqueued",
		},
	)

	QueueEntriesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_queue_entries_processed_total",
			Help: "Total number of queue entries handled by sync passes, by result",
		},
		[]string{"result"},
	)

	QueueEntryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_queue_entry_duration_seconds",
			Help:    "Time spent uploading a single queue entry",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"result"},
	)

	QueueRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_queue_retry_total",
			Help: "Total number of failed attempts recorded, by attempt number",
		},
		[]string{"attempt"},
	)

	QueueEntryAge = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_queue_entry_age_seconds",
			Help:    "Time from enqueue to confirmed upload",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600, 86400},
		},
	)
)

// Worker Metrics
var (
	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_passes_total",
			Help: "Total number of sync pass requests by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	SyncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_pass_duration_seconds",
			Help:    "Duration of completed sync passes",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the sync timer is running (1) or not (0)",
		},
	)

	SyncInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_in_progress",
			Help: "Whether a sync pass is currently running (1) or not (0)",
		},
	)

	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connectivity_online",
			Help: "Last observed connectivity state (1 online, 0 offline)",
		},
	)
)

// Remote API Metrics
var (
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_api_requests_total",
			Help: "Total number of remote store API requests",
		},
		[]string{"operation", "status_code"},
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_api_request_duration_seconds",
			Help:    "Remote store API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)

	RemoteBackoffTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remote_api_backoff_total",
			Help: "Total number of throttling responses that started or extended a back-off",
		},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)

// Business Metrics
var (
	SessionsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_sessions_recorded_total",
			Help: "Total number of completed drills recorded, by mode",
		},
		[]string{"mode"},
	)

	IncompleteSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drill_sessions_incomplete_total",
			Help: "Total number of uploaded sessions whose rep count did not match their config",
		},
	)

	CoursesCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courses_cached",
			Help: "Number of courses written by the last cache refresh",
		},
	)
)
