package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	offsync "github.com/c0deZ3R0/go-offline-sync"
	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
)

// testClock hands out strictly increasing timestamps and supports manual
// advancement for expiry tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clk := newTestClock()
	store, err := New(&Config{
		DataSourceName: filepath.Join(t.TempDir(), "sync.db"),
		Clock:          clk,
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, clk
}

func TestEnqueueListRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < 4; i++ {
		id, err := store.Enqueue(ctx, offsync.EntityTransaction, offsync.ActionCreate,
			json.RawMessage(`{"amount":10}`))
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		want = append(want, id)
	}

	ops, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ops) != len(want) {
		t.Fatalf("expected %d operations, got %d", len(want), len(ops))
	}
	for i, op := range ops {
		if op.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], op.ID)
		}
		if op.RetryCount != 0 {
			t.Errorf("fresh operation retry count: expected 0, got %d", op.RetryCount)
		}
		if string(op.Payload) != `{"amount":10}` {
			t.Errorf("payload round trip: got %s", op.Payload)
		}
	}
}

func TestEnqueueRejectsUnknownEntity(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Enqueue(context.Background(), offsync.EntityType("invoice"),
		offsync.ActionCreate, nil)
	if syncErrors.CodeOf(err) != syncErrors.ErrCodeValidationFailure {
		t.Errorf("expected validation failure, got %v", err)
	}
}

func TestBumpIncrementsRetryCount(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, offsync.EntityAccount, offsync.ActionUpdate,
		json.RawMessage(`{"id":"a-1"}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.Bump(ctx, id); err != nil {
			t.Fatalf("bump %d failed: %v", i, err)
		}
	}

	ops, _ := store.List(ctx)
	if len(ops) != 1 || ops[0].RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %+v", ops)
	}

	if err := store.Bump(ctx, "missing"); !syncErrors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND bumping unknown id, got %v", err)
	}
}

func TestRemoveAbsentIsNoOp(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Remove(context.Background(), "missing"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestPromoteMovesOperationAtomically(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, offsync.EntityBudget, offsync.ActionDelete,
		json.RawMessage(`{"id":"b-1"}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	ops, _ := store.List(ctx)

	now := clk.Now()
	rec := offsync.ConflictRecord{
		ID:            id,
		EntityType:    offsync.EntityBudget,
		ConflictType:  offsync.ConflictDelete,
		Timestamp:     now,
		ClientVersion: ops[0].Payload,
		Metadata: offsync.ConflictMetadata{
			SyncSessionID: "session-1",
			DetectedAt:    now,
			Priority:      1,
		},
	}
	if err := store.Promote(ctx, ops[0], rec); err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	if remaining, _ := store.List(ctx); len(remaining) != 0 {
		t.Errorf("expected queue drained, got %d operations", len(remaining))
	}

	got, err := store.GetConflict(ctx, id)
	if err != nil {
		t.Fatalf("get conflict failed: %v", err)
	}
	if got.ConflictType != offsync.ConflictDelete {
		t.Errorf("conflict type: expected %s, got %s", offsync.ConflictDelete, got.ConflictType)
	}
	if got.Metadata.SyncSessionID != "session-1" {
		t.Errorf("session id: expected session-1, got %s", got.Metadata.SyncSessionID)
	}
	if got.Metadata.Priority != 1 {
		t.Errorf("priority: expected 1, got %d", got.Metadata.Priority)
	}
	if !got.Metadata.DetectedAt.Equal(now) {
		t.Errorf("detected at: expected %v, got %v", now, got.Metadata.DetectedAt)
	}
}

func TestConflictLifecycle(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c-1", "c-2"} {
		now := clk.Now()
		err := store.AddConflict(ctx, offsync.ConflictRecord{
			ID:           id,
			EntityType:   offsync.EntityGoal,
			ConflictType: offsync.ConflictUpdate,
			Timestamp:    now,
			Metadata:     offsync.ConflictMetadata{DetectedAt: now},
		})
		if err != nil {
			t.Fatalf("add %s failed: %v", id, err)
		}
	}

	recs, err := store.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "c-1" || recs[1].ID != "c-2" {
		t.Fatalf("expected [c-1 c-2] in detection order, got %+v", recs)
	}

	if err := store.RemoveConflict(ctx, "c-1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := store.RemoveConflict(ctx, "c-1"); !syncErrors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND on second remove, got %v", err)
	}
	if _, err := store.GetConflict(ctx, "c-1"); !syncErrors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND on get after remove, got %v", err)
	}
}

func TestCacheExpiry(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	if err := store.CacheSet(ctx, "accounts", json.RawMessage(`[{"id":"a-1"}]`), 60); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}

	value, ok, err := store.CacheGet(ctx, "accounts")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(value) != `[{"id":"a-1"}]` {
		t.Errorf("cache value round trip: got %s", value)
	}

	if _, ok, _ := store.CacheGet(ctx, "missing"); ok {
		t.Error("expected miss for unknown key")
	}

	clk.advance(2 * time.Minute)
	if _, ok, _ := store.CacheGet(ctx, "accounts"); ok {
		t.Error("expected miss after expiry")
	}

	removed, err := store.CacheSweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 expired row swept, got %d", removed)
	}
}

func TestClearAllOfflineData(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, offsync.EntityCategory, offsync.ActionCreate,
		json.RawMessage(`{"name":"rent"}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	now := clk.Now()
	if err := store.AddConflict(ctx, offsync.ConflictRecord{
		ID: "c-1", EntityType: offsync.EntityCategory,
		ConflictType: offsync.ConflictCreate, Timestamp: now,
		Metadata: offsync.ConflictMetadata{DetectedAt: now},
	}); err != nil {
		t.Fatalf("add conflict failed: %v", err)
	}
	if err := store.CacheSet(ctx, "k", json.RawMessage(`1`), 60); err != nil {
		t.Fatalf("cache set failed: %v", err)
	}

	if err := store.ClearAllOfflineData(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if ops, _ := store.List(ctx); len(ops) != 0 {
		t.Errorf("expected empty queue, got %d", len(ops))
	}
	if recs, _ := store.ListConflicts(ctx); len(recs) != 0 {
		t.Errorf("expected no conflicts, got %d", len(recs))
	}
	if _, ok, _ := store.CacheGet(ctx, "k"); ok {
		t.Error("expected cache wiped")
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if _, err := store.Enqueue(context.Background(), offsync.EntityGoal,
		offsync.ActionCreate, nil); !syncErrors.IsStorage(err) {
		t.Errorf("expected storage error after close, got %v", err)
	}
	if _, err := store.List(context.Background()); !syncErrors.IsStorage(err) {
		t.Errorf("expected storage error after close, got %v", err)
	}
}
