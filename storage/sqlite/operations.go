package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	offsync "github.com/c0deZ3R0/go-offline-sync"
	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
)

// Enqueue assigns a fresh id, persists the operation and returns the id.
// A storage failure propagates to the caller: the mutation is not queued.
func (s *Store) Enqueue(ctx context.Context, entity offsync.EntityType, action offsync.Action, payload json.RawMessage) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
	}
	if !entity.Valid() {
		return "", syncErrors.NewValidationError(syncErrors.OpEnqueue,
			fmt.Errorf("unknown entity type %q", entity))
	}
	if !action.Valid() {
		return "", syncErrors.NewValidationError(syncErrors.OpEnqueue,
			fmt.Errorf("unknown action %q", action))
	}

	now := s.clock.Now()
	id := offsync.NewOperationID(entity, action, now)

	query := `INSERT INTO pending_syncs (id, entity_type, action, payload, enqueued_at, retry_count)
	          VALUES (?, ?, ?, ?, ?, 0)`
	_, err := s.db.ExecContext(ctx, query, id, string(entity), string(action), string(payload), now.UnixNano())
	if err != nil {
		return "", syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
	}

	return id, nil
}

// List returns all pending operations in enqueue order (FIFO).
func (s *Store) List(ctx context.Context) ([]offsync.PendingOperation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpList, err)
	}

	query := `SELECT id, entity_type, action, payload, enqueued_at, retry_count
	          FROM pending_syncs ORDER BY enqueued_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpList, err)
	}
	defer rows.Close()

	var ops []offsync.PendingOperation
	for rows.Next() {
		var op offsync.PendingOperation
		var payload sql.NullString
		var enqueuedAt int64

		if err := rows.Scan(&op.ID, &op.EntityType, &op.Action, &payload, &enqueuedAt, &op.RetryCount); err != nil {
			return nil, syncErrors.NewStorageError(syncErrors.OpList, err)
		}
		if payload.Valid {
			op.Payload = json.RawMessage(payload.String)
		}
		op.EnqueuedAt = time.Unix(0, enqueuedAt)
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpList, err)
	}

	return ops, nil
}

// Remove deletes an operation from the queue. Removing an absent id is a
// no-op, not an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpRemove, err)
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_syncs WHERE id = ?`, id)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpRemove, err)
	}
	return nil
}

// Bump increments the operation's retry count. A write failure leaves the
// prior count intact.
func (s *Store) Bump(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpBump, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_syncs SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpBump, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpBump, err)
	}
	if affected == 0 {
		return syncErrors.NewNotFoundError(syncErrors.OpBump,
			fmt.Errorf("pending operation %q not found", id))
	}
	return nil
}
