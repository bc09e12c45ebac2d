package database

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"agility-sync/internal/metrics"
)

var (
	// ErrStorageUnavailable means the local store could not be opened. Callers
	// should degrade to uploading directly without offline queueing.
	ErrStorageUnavailable = errors.New("local storage unavailable")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrNotFound           = errors.New("not found")
)

// DB wraps the SQLite database connection
type DB struct {
	conn   *sql.DB
	logger *zap.Logger
	now    func() time.Time

	initMu      sync.Mutex
	initialized bool
}

// Open opens a connection to the SQLite database at the specified path.
// The schema is not touched until Init is called.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrStorageUnavailable)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// BEGIN IMMEDIATE so concurrent writers queue on the busy timeout instead
	// of failing at commit
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorageUnavailable, err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(1) // SQLite works best with a single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	// Test the connection
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorageUnavailable, err)
	}

	return &DB{conn: conn, logger: logger, now: time.Now}, nil
}

// Init creates or upgrades the schema. It is idempotent and safe to call
// from several goroutines; only the first successful call does any work.
func (db *DB) Init(ctx context.Context) error {
	db.initMu.Lock()
	defer db.initMu.Unlock()

	if db.initialized {
		return nil
	}

	version, err := migrate(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %v", ErrStorageUnavailable, err)
	}

	db.initialized = true
	db.logger.Info("database initialized", zap.Int("schema_version", version))
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Health checks if the database connection is healthy
func (db *DB) Health(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// withTx runs fn inside one transaction, committing on success and rolling
// back on every other exit path
func (db *DB) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(op))
	defer timer.ObserveDuration()

	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDuplicateKey) {
			metrics.DBOperationErrorsTotal.WithLabelValues(op).Inc()
		}
	}()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT:
		return true
	}
	return false
}

// decodeStrict unmarshals a stored payload, rejecting fields the current
// model does not know about
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
