package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"agility-sync/internal/database"
	"agility-sync/internal/metrics"
	"agility-sync/internal/models"
	"agility-sync/internal/stats"
)

const (
	DefaultInterval      = 30 * time.Second
	DefaultMaxAttempts   = 5
	DefaultUploadTimeout = 30 * time.Second
)

// Store is the part of the local store the worker drives
type Store interface {
	ListQueue(ctx context.Context) ([]models.QueueEntry, error)
	RecordAttempt(ctx context.Context, localID string, success bool, errText string) error
	ConfirmEntry(ctx context.Context, session models.ConfirmedSession) error
}

// Uploader performs the two dependent remote writes for one session
type Uploader interface {
	UploadSession(ctx context.Context, session models.PendingSession, agg stats.Aggregates) (models.ConfirmedSession, error)
}

// Connectivity reports whether the remote store can currently be reached
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Options tune the worker's schedule and retry policy
type Options struct {
	Interval      time.Duration
	MaxAttempts   int
	UploadTimeout time.Duration
}

// PassResult counts the outcome of one sync pass
type PassResult struct {
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Outcome string `json:"outcome"`
}

// Status is a read-only projection of the queue and connectivity
type Status struct {
	Pending        int        `json:"pending"`
	LastAttempt    *time.Time `json:"last_attempt"`
	Online         bool       `json:"online"`
	NeedsAttention int        `json:"needs_attention"`
}

// Worker moves queued sessions to the remote store. At most one pass runs at
// a time regardless of how many callers request one.
type Worker struct {
	store    Store
	uploader Uploader
	conn     Connectivity
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	syncing atomic.Bool
	trigger chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a sync worker. A nil uploader means remote credentials
// are not configured and every pass is deferred.
func NewWorker(store Store, uploader Uploader, conn Connectivity, opts Options, logger *zap.Logger) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    store,
		uploader: uploader,
		conn:     conn,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// MaxAttempts is the retry ceiling after which entries are parked
func (w *Worker) MaxAttempts() int {
	return w.opts.MaxAttempts
}

// Start runs one pass immediately and then one per interval until Stop or
// until ctx is cancelled. Calling Start on a running worker does nothing.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("starting sync worker",
		zap.Duration("interval", w.opts.Interval),
		zap.Int("max_attempts", w.opts.MaxAttempts))
	go w.loop(ctx, w.done)
}

// Stop cancels the timer and waits for an in-flight pass to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("sync worker stopped")
}

// Trigger asks the running loop for a pass without waiting for it. Bursts of
// triggers collapse into one extra pass.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	// Passes are not cancelled mid-flight; only the schedule is.
	passCtx := context.WithoutCancel(ctx)
	w.runPass(passCtx, metrics.TriggerTimer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runPass(passCtx, metrics.TriggerTimer)
		case <-w.trigger:
			w.runPass(passCtx, metrics.TriggerManual)
		}
	}
}

// SyncNow runs one pass on the calling goroutine. If a pass is already
// running it returns an empty result with outcome in_progress. Cancelling
// ctx does not interrupt the pass.
func (w *Worker) SyncNow(ctx context.Context) PassResult {
	return w.runPass(context.WithoutCancel(ctx), metrics.TriggerManual)
}

func (w *Worker) runPass(ctx context.Context, trigger string) PassResult {
	if !w.syncing.CompareAndSwap(false, true) {
		w.logger.Debug("sync pass already in progress, skipping")
		metrics.SyncPassesTotal.WithLabelValues(trigger, metrics.OutcomeInProgress).Inc()
		return PassResult{Outcome: metrics.OutcomeInProgress}
	}
	defer w.syncing.Store(false)
	metrics.SyncInProgress.Set(1)
	defer metrics.SyncInProgress.Set(0)

	start := time.Now()
	result := w.pass(ctx)
	metrics.SyncPassesTotal.WithLabelValues(trigger, result.Outcome).Inc()
	if result.Outcome == metrics.OutcomeCompleted {
		metrics.SyncPassDuration.Observe(time.Since(start).Seconds())
	}
	return result
}

func (w *Worker) pass(ctx context.Context) PassResult {
	if w.uploader == nil {
		w.logger.Info("remote store not configured, deferring sync")
		return PassResult{Outcome: metrics.OutcomeUnconfigured}
	}
	if w.conn != nil && !w.conn.Online(ctx) {
		w.logger.Info("offline, deferring sync")
		return PassResult{Outcome: metrics.OutcomeOffline}
	}

	entries, err := w.store.ListQueue(ctx)
	if err != nil {
		w.logger.Error("failed to read sync queue", zap.Error(err))
		return PassResult{Outcome: metrics.OutcomeStoreError}
	}

	result := PassResult{Outcome: metrics.OutcomeCompleted}
	for _, entry := range entries {
		if w.processEntry(ctx, entry) {
			result.Success++
		} else {
			result.Failed++
		}
	}

	if len(entries) > 0 {
		w.logger.Info("sync pass completed",
			zap.Int("success", result.Success),
			zap.Int("failed", result.Failed))
	}
	return result
}

// processEntry uploads one entry and records the outcome. It never returns
// an error; a failed entry must not stop the pass.
func (w *Worker) processEntry(ctx context.Context, entry models.QueueEntry) bool {
	if entry.Attempts >= w.opts.MaxAttempts {
		w.logger.Warn("sync queue entry needs attention, skipping",
			zap.String("local_id", entry.LocalID),
			zap.Int("attempts", entry.Attempts))
		metrics.QueueEntriesProcessedTotal.WithLabelValues(metrics.ResultParked).Inc()
		return false
	}

	start := time.Now()
	if err := entry.Validate(); err != nil {
		metrics.QueueEntriesProcessedTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		w.recordFailure(ctx, entry, err)
		return false
	}
	if entry.Session.Incomplete() {
		metrics.IncompleteSessionsTotal.Inc()
		w.logger.Warn("rep count does not match drill config",
			zap.String("local_id", entry.LocalID),
			zap.Int("reps", len(entry.Session.Reps)),
			zap.Int("expected", entry.Session.ExpectedReps()))
	}

	confirmed, err := w.upload(ctx, entry.Session)
	if err != nil {
		metrics.QueueEntryDuration.WithLabelValues(metrics.ResultFailure).Observe(time.Since(start).Seconds())
		metrics.QueueEntriesProcessedTotal.WithLabelValues(metrics.ResultFailure).Inc()
		w.recordFailure(ctx, entry, err)
		return false
	}

	if err := w.store.ConfirmEntry(ctx, confirmed); err != nil {
		// The remote row exists; keeping the entry would upload it again.
		w.logger.Error("failed to save confirmed session",
			zap.String("local_id", entry.LocalID),
			zap.String("remote_id", confirmed.ID),
			zap.Error(err))
		if err := w.store.RecordAttempt(ctx, entry.LocalID, true, ""); err != nil {
			w.logger.Error("failed to remove synced entry",
				zap.String("local_id", entry.LocalID),
				zap.Error(err))
		}
	}

	metrics.QueueEntryDuration.WithLabelValues(metrics.ResultSuccess).Observe(time.Since(start).Seconds())
	metrics.QueueEntriesProcessedTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.QueueEntryAge.Observe(w.now().Sub(entry.EnqueuedAt).Seconds())
	w.logger.Info("session synced",
		zap.String("local_id", entry.LocalID),
		zap.String("remote_id", confirmed.ID))
	return true
}

func (w *Worker) upload(ctx context.Context, session models.PendingSession) (models.ConfirmedSession, error) {
	agg, err := stats.Summarize(session.SprintTimes())
	if err != nil {
		return models.ConfirmedSession{}, fmt.Errorf("failed to compute aggregates: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.UploadTimeout)
	defer cancel()
	return w.uploader.UploadSession(ctx, session, agg)
}

func (w *Worker) recordFailure(ctx context.Context, entry models.QueueEntry, cause error) {
	attempt := entry.Attempts + 1
	metrics.QueueRetryTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
	w.logger.Warn("failed to sync session",
		zap.String("local_id", entry.LocalID),
		zap.Int("attempts", attempt),
		zap.Error(cause))

	err := w.store.RecordAttempt(ctx, entry.LocalID, false, cause.Error())
	if errors.Is(err, database.ErrNotFound) {
		return
	}
	if err != nil {
		w.logger.Error("failed to record sync attempt",
			zap.String("local_id", entry.LocalID),
			zap.Error(err))
	}
}

// Status reports queue depth, the first entry's last attempt, connectivity
// and how many entries are parked at the retry ceiling
func (w *Worker) Status(ctx context.Context) (Status, error) {
	entries, err := w.store.ListQueue(ctx)
	if err != nil {
		return Status{}, err
	}

	status := Status{Pending: len(entries)}
	if len(entries) > 0 {
		status.LastAttempt = entries[0].LastAttempt
	}
	for _, entry := range entries {
		if entry.Attempts >= w.opts.MaxAttempts {
			status.NeedsAttention++
		}
	}
	status.Online = w.uploader != nil && (w.conn == nil || w.conn.Online(ctx))
	return status, nil
}
