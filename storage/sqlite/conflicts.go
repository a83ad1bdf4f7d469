package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	offsync "github.com/c0deZ3R0/go-offline-sync"
	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
)

// AddConflict inserts a conflict record. Called only by the sync driver
// during promotion.
func (s *Store) AddConflict(ctx context.Context, rec offsync.ConflictRecord) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPromote, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPromote, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = insertConflict(ctx, tx, rec); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPromote, err)
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPromote, err)
	}
	return nil
}

// Promote atomically removes the operation from the queue and inserts its
// conflict record in a single transaction, so a crash cannot strand the
// record between the two collections.
func (s *Store) Promote(ctx context.Context, op offsync.PendingOperation, rec offsync.ConflictRecord) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPromote, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPromote, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = insertConflict(ctx, tx, rec); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPromote, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM pending_syncs WHERE id = ?`, op.ID); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPromote, err)
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPromote, err)
	}
	return nil
}

func insertConflict(ctx context.Context, tx *sql.Tx, rec offsync.ConflictRecord) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict metadata: %w", err)
	}

	query := `INSERT INTO conflicts
	          (id, entity_type, conflict_type, timestamp, client_version, server_version, base_version, metadata, detected_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		rec.ID,
		string(rec.EntityType),
		string(rec.ConflictType),
		rec.Timestamp.UnixNano(),
		nullableJSON(rec.ClientVersion),
		nullableJSON(rec.ServerVersion),
		nullableJSON(rec.BaseVersion),
		string(metadataJSON),
		rec.Metadata.DetectedAt.UnixNano(),
	)
	return err
}

// GetConflict returns one conflict record, or a NOT_FOUND error.
func (s *Store) GetConflict(ctx context.Context, id string) (offsync.ConflictRecord, error) {
	if err := s.checkOpen(); err != nil {
		return offsync.ConflictRecord{}, syncErrors.NewStorageError(syncErrors.OpResolve, err)
	}

	query := `SELECT id, entity_type, conflict_type, timestamp, client_version, server_version, base_version, metadata, detected_at
	          FROM conflicts WHERE id = ?`
	rec, err := scanConflict(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return offsync.ConflictRecord{}, syncErrors.NewNotFoundError(syncErrors.OpResolve,
			fmt.Errorf("conflict %q not found", id))
	}
	if err != nil {
		return offsync.ConflictRecord{}, syncErrors.NewStorageError(syncErrors.OpResolve, err)
	}
	return rec, nil
}

// ListConflicts returns conflict records ordered by detection time ascending.
func (s *Store) ListConflicts(ctx context.Context) ([]offsync.ConflictRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpList, err)
	}

	query := `SELECT id, entity_type, conflict_type, timestamp, client_version, server_version, base_version, metadata, detected_at
	          FROM conflicts ORDER BY detected_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpList, err)
	}
	defer rows.Close()

	var recs []offsync.ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpList, err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpList, err)
	}

	return recs, nil
}

// RemoveConflict deletes a resolved conflict record, or returns a NOT_FOUND
// error so a second resolve of the same id fails explicitly.
func (s *Store) RemoveConflict(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpResolve, err)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM conflicts WHERE id = ?`, id)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpResolve, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpResolve, err)
	}
	if affected == 0 {
		return syncErrors.NewNotFoundError(syncErrors.OpResolve,
			fmt.Errorf("conflict %q not found", id))
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConflict(row scanner) (offsync.ConflictRecord, error) {
	var rec offsync.ConflictRecord
	var timestamp, detectedAt int64
	var clientVersion, serverVersion, baseVersion, metadata sql.NullString

	err := row.Scan(&rec.ID, &rec.EntityType, &rec.ConflictType, &timestamp,
		&clientVersion, &serverVersion, &baseVersion, &metadata, &detectedAt)
	if err != nil {
		return offsync.ConflictRecord{}, err
	}

	rec.Timestamp = time.Unix(0, timestamp)
	if clientVersion.Valid {
		rec.ClientVersion = json.RawMessage(clientVersion.String)
	}
	if serverVersion.Valid {
		rec.ServerVersion = json.RawMessage(serverVersion.String)
	}
	if baseVersion.Valid {
		rec.BaseVersion = json.RawMessage(baseVersion.String)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return offsync.ConflictRecord{}, fmt.Errorf("failed to unmarshal conflict metadata: %w", err)
		}
	}
	// detected_at is denormalized for the index; the metadata copy wins.
	if rec.Metadata.DetectedAt.IsZero() {
		rec.Metadata.DetectedAt = time.Unix(0, detectedAt)
	}
	return rec, nil
}

// nullableJSON maps empty payloads to NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
