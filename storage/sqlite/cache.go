package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
)

// The sync_cache collection backs the read path's TTL cache. It lives next
// to the queue so ClearAllOfflineData can wipe everything a reset expects.

// CacheSet upserts a cache entry with the given time-to-live.
func (s *Store) CacheSet(ctx context.Context, key string, value json.RawMessage, ttlSeconds int64) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpCache, err)
	}

	expiresAt := s.clock.Now().Unix() + ttlSeconds
	query := `INSERT INTO sync_cache (key, value, expires_at) VALUES (?, ?, ?)
	          ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`
	_, err := s.db.ExecContext(ctx, query, key, string(value), expiresAt)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpCache, err)
	}
	return nil
}

// CacheGet returns the cached value for key, or ok=false on a miss or after
// expiry. Expired rows are left for CacheSweep.
func (s *Store) CacheGet(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, syncErrors.NewStorageError(syncErrors.OpCache, err)
	}

	var value sql.NullString
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM sync_cache WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, syncErrors.NewStorageError(syncErrors.OpCache, err)
	}

	if expiresAt <= s.clock.Now().Unix() {
		return nil, false, nil
	}
	if !value.Valid {
		return nil, true, nil
	}
	return json.RawMessage(value.String), true, nil
}

// CacheSweep deletes expired cache rows and reports how many were removed.
func (s *Store) CacheSweep(ctx context.Context) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, syncErrors.NewStorageError(syncErrors.OpCache, err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_cache WHERE expires_at <= ?`, s.clock.Now().Unix())
	if err != nil {
		return 0, syncErrors.NewStorageError(syncErrors.OpCache, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, syncErrors.NewStorageError(syncErrors.OpCache, err)
	}
	return removed, nil
}
