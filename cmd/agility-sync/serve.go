package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agility-sync/internal/metrics"
	"agility-sync/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var allowedOrigins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync worker and the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), allowedOrigins)
		},
	}
	cmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origin", nil, "CORS origin allowed to call the API (repeatable, default any)")
	return cmd
}

func runServe(parent context.Context, allowedOrigins []string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig("")
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting agility-sync",
		zap.String("http_address", cfg.HTTPAddress),
		zap.String("database", cfg.DatabasePath),
		zap.Bool("remote_configured", cfg.RemoteConfigured()),
		zap.Duration("sync_interval", cfg.SyncInterval),
		zap.Int("sync_max_attempts", cfg.SyncMaxAttempts))

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	deps := server.Dependencies{
		Recorder:       a.recorder,
		Logger:         logger,
		AllowedOrigins: allowedOrigins,
	}
	if a.worker != nil {
		deps.Syncer = a.worker
		deps.Store = a.db
		deps.Courses = a.courses
	}
	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	if a.worker != nil {
		logger.Info("starting sync worker")
		a.worker.Start(ctx)
		defer a.worker.Stop()
	}
	jobs := a.startStoreJobs(ctx)

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddress,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RemoteTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case err = <-serveErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", zap.Error(err))
		}
	}
	jobs.Wait()

	logger.Info("server stopped")
	return err
}

// startStoreJobs starts the background jobs that use the local store: the
// startup course refresh and the queue depth collector. They stop when ctx
// is cancelled; the caller waits on the returned group before closing the
// store.
func (a *app) startStoreJobs(ctx context.Context) *sync.WaitGroup {
	jobs := &sync.WaitGroup{}
	if a.db == nil {
		return jobs
	}

	if a.client != nil {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			if n, err := a.courses.Refresh(ctx); err != nil {
				a.logger.Warn("initial course refresh failed", zap.Error(err))
			} else {
				a.logger.Info("course cache refreshed", zap.Int("courses", n))
			}
		}()
	}

	if a.cfg.MetricsEnabled {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			a.logger.Info("starting queue depth collector")
			metrics.StartQueueDepthCollector(ctx, a.db, a.cfg.SyncMaxAttempts, a.cfg.MetricsCollectorInterval, a.logger)
		}()
	}
	return jobs
}
