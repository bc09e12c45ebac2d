package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"agility-sync/internal/config"
	"agility-sync/internal/connectivity"
	"agility-sync/internal/courses"
	"agility-sync/internal/database"
	"agility-sync/internal/drill"
	"agility-sync/internal/logging"
	"agility-sync/internal/remote"
	"agility-sync/internal/worker"
)

// app holds the wired components. db, worker and courses are nil when the
// local store could not be opened; client is nil when no remote is configured.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	client   *remote.Client
	worker   *worker.Worker
	recorder *drill.Recorder
	courses  *courses.Service
}

func loadConfig(logLevel string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	logger, err := logging.NewLogger(logLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// newApp opens the store and wires every component. With allowDegraded a
// store that cannot be opened is logged and the app runs without it.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, allowDegraded bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := openStore(ctx, cfg.DatabasePath, logger)
	switch {
	case err == nil:
		a.db = db
	case allowDegraded && errors.Is(err, database.ErrStorageUnavailable):
		logger.Warn("local storage unavailable, sessions will be uploaded directly",
			zap.String("path", cfg.DatabasePath),
			zap.Error(err))
	default:
		return nil, err
	}

	// Interfaces stay untyped nil when a component is absent.
	var uploader worker.Uploader
	var source courses.Source
	var conn worker.Connectivity = connectivity.Static(false)
	if cfg.RemoteConfigured() {
		a.client = remote.NewClient(cfg.RemoteURL, cfg.RemoteAPIKey, cfg.RemoteTimeout, logger)
		uploader = a.client
		source = a.client
		conn = connectivity.NewProbe(a.client, cfg.ProbeTimeout, logger)
	} else {
		logger.Info("remote store not configured, sessions will stay queued")
	}

	recorderCfg := drill.RecorderConfig{
		Uploader:   uploader,
		IDProvider: drill.NewUUIDProvider(),
		Logger:     logger,
	}

	if a.db != nil {
		a.worker = worker.NewWorker(a.db, uploader, conn, worker.Options{
			Interval:    cfg.SyncInterval,
			MaxAttempts: cfg.SyncMaxAttempts,
		}, logger)
		a.courses = courses.NewService(source, a.db, logger)

		recorderCfg.Queue = a.db
		recorderCfg.Courses = a.db
		recorderCfg.Trigger = a.worker
	}

	a.recorder, err = drill.NewRecorder(recorderCfg)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func openStore(ctx context.Context, path string, logger *zap.Logger) (*database.DB, error) {
	db, err := database.Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) close() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", zap.Error(err))
	}
}
