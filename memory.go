package offsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
)

// MemoryStore is an in-memory OperationStore and ConflictStore. It backs
// tests and short-lived tooling; durable deployments use storage/sqlite.
type MemoryStore struct {
	mu        sync.Mutex
	clock     Clock
	ops       map[string]PendingOperation
	conflicts map[string]ConflictRecord
}

var (
	_ OperationStore = (*MemoryStore)(nil)
	_ ConflictStore  = (*MemoryStore)(nil)
	_ Promoter       = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock()
	}
	return &MemoryStore{
		clock:     clock,
		ops:       make(map[string]PendingOperation),
		conflicts: make(map[string]ConflictRecord),
	}
}

// Enqueue assigns a fresh id and records the operation.
func (m *MemoryStore) Enqueue(ctx context.Context, entity EntityType, action Action, payload json.RawMessage) (string, error) {
	if !entity.Valid() {
		return "", syncErrors.NewValidationError(syncErrors.OpEnqueue,
			fmt.Errorf("unknown entity type %q", entity))
	}
	if !action.Valid() {
		return "", syncErrors.NewValidationError(syncErrors.OpEnqueue,
			fmt.Errorf("unknown action %q", action))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	op := PendingOperation{
		ID:         NewOperationID(entity, action, now),
		EntityType: entity,
		Action:     action,
		Payload:    payload,
		EnqueuedAt: now,
	}
	m.ops[op.ID] = op
	return op.ID, nil
}

// List returns pending operations in enqueue order.
func (m *MemoryStore) List(ctx context.Context) ([]PendingOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PendingOperation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

// Remove deletes an operation; absent ids are a no-op.
func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, id)
	return nil
}

// Bump increments the operation's retry count.
func (m *MemoryStore) Bump(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[id]
	if !ok {
		return syncErrors.NewNotFoundError(syncErrors.OpBump,
			fmt.Errorf("pending operation %q not found", id))
	}
	op.RetryCount++
	m.ops[id] = op
	return nil
}

// AddConflict records a conflict.
func (m *MemoryStore) AddConflict(ctx context.Context, rec ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[rec.ID] = rec
	return nil
}

// ListConflicts returns conflicts ordered by detection time.
func (m *MemoryStore) ListConflicts(ctx context.Context) ([]ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ConflictRecord, 0, len(m.conflicts))
	for _, rec := range m.conflicts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Metadata.DetectedAt.Equal(out[j].Metadata.DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].Metadata.DetectedAt.Before(out[j].Metadata.DetectedAt)
	})
	return out, nil
}

// GetConflict returns one conflict record or a NOT_FOUND error.
func (m *MemoryStore) GetConflict(ctx context.Context, id string) (ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.conflicts[id]
	if !ok {
		return ConflictRecord{}, syncErrors.NewNotFoundError(syncErrors.OpResolve,
			fmt.Errorf("conflict %q not found", id))
	}
	return rec, nil
}

// RemoveConflict deletes a conflict record or returns a NOT_FOUND error.
func (m *MemoryStore) RemoveConflict(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conflicts[id]; !ok {
		return syncErrors.NewNotFoundError(syncErrors.OpResolve,
			fmt.Errorf("conflict %q not found", id))
	}
	delete(m.conflicts, id)
	return nil
}

// Promote moves the operation into the conflict map under one lock.
func (m *MemoryStore) Promote(ctx context.Context, op PendingOperation, rec ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[rec.ID] = rec
	delete(m.ops, op.ID)
	return nil
}
