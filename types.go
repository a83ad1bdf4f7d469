// Package offsync implements an offline-first synchronization engine:
// a durable queue of locally made mutations that is replayed against a
// remote store, with retry accounting, failure isolation, and an explicit
// conflict store for mutations that exhaust their retries.
package offsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the domain record kind a mutation applies to.
type EntityType string

const (
	EntityTransaction EntityType = "transaction"
	EntityAccount     EntityType = "account"
	EntityCategory    EntityType = "category"
	EntityBudget      EntityType = "budget"
	EntityGoal        EntityType = "goal"
)

// EntityTypes returns all known entity types in declaration order.
func EntityTypes() []EntityType {
	return []EntityType{EntityTransaction, EntityAccount, EntityCategory, EntityBudget, EntityGoal}
}

// Valid reports whether the entity type is one of the known values.
func (e EntityType) Valid() bool {
	switch e {
	case EntityTransaction, EntityAccount, EntityCategory, EntityBudget, EntityGoal:
		return true
	}
	return false
}

// Action is the mutation verb carried by a pending operation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// PendingOperation is a locally made, not-yet-confirmed mutation awaiting
// replay against the remote store. While queued, RetryCount stays below the
// driver's retry cap; reaching the cap promotes the operation into the
// conflict store instead of replaying it again.
type PendingOperation struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entityType"`
	Action     Action          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
}

// NewOperationID derives a collision-resistant operation id from the
// operation's type, action, the enqueue time and a random suffix.
func NewOperationID(entity EntityType, action Action, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d-%s", entity, action, now.UnixNano(), uuid.NewString()[:8])
}

// ConflictType classifies the kind of divergence a conflict record captures.
type ConflictType string

const (
	ConflictUpdate ConflictType = "update"
	ConflictDelete ConflictType = "delete"
	ConflictCreate ConflictType = "create"
	ConflictMerge  ConflictType = "merge"
)

// ConflictTypeForAction maps a replay action to the conflict type recorded
// when the operation is promoted.
func ConflictTypeForAction(a Action) ConflictType {
	switch a {
	case ActionCreate:
		return ConflictCreate
	case ActionDelete:
		return ConflictDelete
	default:
		return ConflictUpdate
	}
}

// ConflictMetadata carries audit and triage context for a conflict record.
type ConflictMetadata struct {
	UserID           string    `json:"userId,omitempty"`
	DeviceID         string    `json:"deviceId,omitempty"`
	SyncSessionID    string    `json:"syncSessionId,omitempty"`
	DetectedAt       time.Time `json:"detectedAt"`
	Priority         int       `json:"priority"`
	AutoResolvable   bool      `json:"autoResolvable"`
	AffectedFields   []string  `json:"affectedFields,omitempty"`
	RelatedConflicts []string  `json:"relatedConflicts,omitempty"`
}

// ConflictRecord is an operation that exhausted its retries and awaits an
// explicit resolution decision. It keeps the identity of the originating
// operation. Created only by promotion, destroyed only by a resolve call.
type ConflictRecord struct {
	ID            string           `json:"id"`
	EntityType    EntityType       `json:"entityType"`
	ConflictType  ConflictType     `json:"conflictType"`
	Timestamp     time.Time        `json:"timestamp"`
	ClientVersion json.RawMessage  `json:"clientVersion,omitempty"`
	ServerVersion json.RawMessage  `json:"serverVersion,omitempty"`
	BaseVersion   json.RawMessage  `json:"baseVersion,omitempty"`
	Metadata      ConflictMetadata `json:"metadata"`
}

// ResolutionStrategy selects the winning or merged value between the local
// and remote versions of a conflicted record.
type ResolutionStrategy string

const (
	ResolveClient ResolutionStrategy = "client"
	ResolveServer ResolutionStrategy = "server"
	ResolveMerge  ResolutionStrategy = "merge"
	ResolveManual ResolutionStrategy = "manual"
	ResolveNewest ResolutionStrategy = "newest"
	ResolveCustom ResolutionStrategy = "custom"
)

// Valid reports whether the strategy is one of the known values.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case ResolveClient, ResolveServer, ResolveMerge, ResolveManual, ResolveNewest, ResolveCustom:
		return true
	}
	return false
}

// Provenance records which side a resolved field value came from.
type Provenance string

const (
	ProvenanceClient   Provenance = "client"
	ProvenanceServer   Provenance = "server"
	ProvenanceCombined Provenance = "combined"
	ProvenanceComputed Provenance = "computed"
)

// FieldChange describes one field of a merged result with its provenance.
type FieldChange struct {
	Field       string     `json:"field"`
	ClientValue any        `json:"clientValue,omitempty"`
	ServerValue any        `json:"serverValue,omitempty"`
	MergedValue any        `json:"mergedValue,omitempty"`
	Provenance  Provenance `json:"provenance"`
}

// MergedData is a caller-supplied merge result with field-level provenance.
type MergedData struct {
	Result        json.RawMessage `json:"result"`
	MergeStrategy string          `json:"mergeStrategy"` // automatic, manual, ai-suggested
	Confidence    float64         `json:"confidence"`    // in [0,1]
	ChangedFields []FieldChange   `json:"changedFields,omitempty"`
}

// SyncStatus tracks whether a resolved value still needs to reach the remote.
type SyncStatus string

const (
	StatusPending   SyncStatus = "pending"
	StatusSyncing   SyncStatus = "syncing"
	StatusCompleted SyncStatus = "completed"
	StatusFailed    SyncStatus = "failed"
)

// ResolutionError describes a failed resolution in a transport-friendly form.
type ResolutionError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ResolutionResult reports the outcome of resolving one conflict.
type ResolutionResult struct {
	Success    bool               `json:"success"`
	ConflictID string             `json:"conflictId"`
	Resolution ResolutionStrategy `json:"resolution"`
	FinalData  json.RawMessage    `json:"finalData,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	SyncStatus SyncStatus         `json:"syncStatus"`
	Error      *ResolutionError   `json:"error,omitempty"`
}

// OperationStore persists pending mutations across process restarts.
// It exclusively owns PendingOperation records.
type OperationStore interface {
	// Enqueue assigns a fresh id, persists the operation synchronously and
	// returns the id. A failed enqueue means the mutation is not queued.
	Enqueue(ctx context.Context, entity EntityType, action Action, payload json.RawMessage) (string, error)

	// List returns all pending operations ordered by enqueue time ascending.
	List(ctx context.Context) ([]PendingOperation, error)

	// Remove deletes an operation. Removing an absent id is a no-op.
	Remove(ctx context.Context, id string) error

	// Bump increments the operation's retry count and persists it. On write
	// failure the prior state is left intact.
	Bump(ctx context.Context, id string) error
}

// ConflictStore persists conflict records until they are explicitly resolved.
// It exclusively owns ConflictRecord records.
type ConflictStore interface {
	// AddConflict inserts a conflict record. Called only by the sync driver
	// during promotion.
	AddConflict(ctx context.Context, rec ConflictRecord) error

	// ListConflicts returns conflict records ordered by detection time
	// ascending.
	ListConflicts(ctx context.Context) ([]ConflictRecord, error)

	// GetConflict returns one conflict record, or a NOT_FOUND error.
	GetConflict(ctx context.Context, id string) (ConflictRecord, error)

	// RemoveConflict deletes a resolved record, or returns a NOT_FOUND error.
	RemoveConflict(ctx context.Context, id string) error
}

// Promoter moves an operation from the queue into the conflict store as one
// atomic write. Stores backed by a single database should implement it; the
// driver type-asserts and falls back to separate Add+Remove writes otherwise.
type Promoter interface {
	Promote(ctx context.Context, op PendingOperation, rec ConflictRecord) error
}

// Replayer performs a single network replay attempt for one operation.
// A nil return means the remote accepted the mutation (2xx).
type Replayer interface {
	Replay(ctx context.Context, op PendingOperation) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// OnlineChecker reports current connectivity. The driver consults it before
// starting a pass so triggers while offline are dropped.
type OnlineChecker interface {
	IsOnline() bool
}
