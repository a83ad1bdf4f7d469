// Package sqlite provides the SQLite-backed durable stores for the offline
// sync engine: the pending operation queue, the conflict store, and the
// expiring read cache, all in one database so promotion can be transactional.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	offsync "github.com/c0deZ3R0/go-offline-sync"
	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
	"github.com/c0deZ3R0/go-offline-sync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreClosed is returned for any call after Close.
var ErrStoreClosed = fmt.Errorf("store is closed")

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:offline.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Clock is the time source used for enqueue stamps and cache expiry.
	// Defaults to the system clock.
	Clock offsync.Clock

	// Connection pool settings for production workloads.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = offsync.SystemClock()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store implements offsync.OperationStore, offsync.ConflictStore and
// offsync.Promoter over a single SQLite database.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	clock  offsync.Clock
	logger *logging.Logger
}

// Compile-time checks for the interfaces the driver relies on.
var (
	_ offsync.OperationStore = (*Store)(nil)
	_ offsync.ConflictStore  = (*Store)(nil)
	_ offsync.Promoter       = (*Store)(nil)
)

// New creates a Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.Info("opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:     db,
		clock:  config.Clock,
		logger: logger,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

// setupSchema creates the three offline collections if they do not exist:
// pending_syncs (keyed by operation id, secondary indexes on entity type and
// enqueue time), conflicts (keyed by conflict id, secondary index on
// detection time), and the sibling expiring read cache.
func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS pending_syncs (
        id           TEXT PRIMARY KEY,
        entity_type  TEXT NOT NULL,
        action       TEXT NOT NULL,
        payload      TEXT,
        enqueued_at  INTEGER NOT NULL,
        retry_count  INTEGER NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_pending_entity_type ON pending_syncs (entity_type);
    CREATE INDEX IF NOT EXISTS idx_pending_enqueued_at ON pending_syncs (enqueued_at);

    CREATE TABLE IF NOT EXISTS conflicts (
        id              TEXT PRIMARY KEY,
        entity_type     TEXT NOT NULL,
        conflict_type   TEXT NOT NULL,
        timestamp       INTEGER NOT NULL,
        client_version  TEXT,
        server_version  TEXT,
        base_version    TEXT,
        metadata        TEXT,
        detected_at     INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_conflicts_detected_at ON conflicts (detected_at);

    CREATE TABLE IF NOT EXISTS sync_cache (
        key         TEXT PRIMARY KEY,
        value       TEXT,
        expires_at  INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON sync_cache (expires_at);
    `
	_, err := s.db.Exec(query)
	return err
}

// checkOpen returns ErrStoreClosed after Close.
func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// ClearAllOfflineData wipes all three collections. Exposed to the
// user-initiated "reset" action.
func (s *Store) ClearAllOfflineData(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpClear, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpClear, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"pending_syncs", "conflicts", "sync_cache"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpClear, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpClear, err)
	}

	s.logger.InfoContext(ctx, "cleared all offline data")
	return nil
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
