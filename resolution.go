package offsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
	"github.com/c0deZ3R0/go-offline-sync/logging"
)

// CustomResolveFunc computes a resolution for a conflict record. All fields
// it reports are recorded with provenance "computed".
type CustomResolveFunc func(rec ConflictRecord) (json.RawMessage, []FieldChange, error)

// Resolver applies a resolution strategy to a stored conflict, producing a
// merged result with field-level provenance. Resolution is never partially
// applied: a failed remove leaves the record intact so the call can be
// retried.
type Resolver struct {
	conflicts ConflictStore
	clock     Clock
	logger    *logging.Logger
	metrics   MetricsCollector

	// newestFields maps entity types to the payload field carrying the
	// domain timestamp used by the "newest" strategy.
	newestFields map[EntityType]string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverClock injects the time source.
func WithResolverClock(c Clock) ResolverOption {
	return func(r *Resolver) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithResolverLogger injects the structured logger.
func WithResolverLogger(l *logging.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithResolverMetrics injects a metrics collector.
func WithResolverMetrics(m MetricsCollector) ResolverOption {
	return func(r *Resolver) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithNewestField overrides the timestamp field consulted by the "newest"
// strategy for one entity type.
func WithNewestField(entity EntityType, field string) ResolverOption {
	return func(r *Resolver) { r.newestFields[entity] = field }
}

// defaultNewestFields: transactions carry a domain "date"; every other
// entity type is compared on its "updatedAt" stamp.
func defaultNewestFields() map[EntityType]string {
	return map[EntityType]string{
		EntityTransaction: "date",
		EntityAccount:     "updatedAt",
		EntityCategory:    "updatedAt",
		EntityBudget:      "updatedAt",
		EntityGoal:        "updatedAt",
	}
}

// NewResolver creates a resolution engine over the given conflict store.
func NewResolver(conflicts ConflictStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		conflicts:    conflicts,
		clock:        SystemClock(),
		logger:       logging.WithComponent(logging.Component("resolver")),
		metrics:      &NoOpMetricsCollector{},
		newestFields: defaultNewestFields(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// resolveConfig carries per-call inputs for Resolve.
type resolveConfig struct {
	merged *MergedData
	custom CustomResolveFunc
}

// ResolveOption supplies per-call inputs to Resolve.
type ResolveOption func(*resolveConfig)

// WithMergedData supplies the caller-built merge result for the "merge"
// strategy.
func WithMergedData(md MergedData) ResolveOption {
	return func(c *resolveConfig) { c.merged = &md }
}

// WithCustomFunc supplies the resolution function for the "custom" strategy.
func WithCustomFunc(fn CustomResolveFunc) ResolveOption {
	return func(c *resolveConfig) { c.custom = fn }
}

// Resolve applies the strategy to the conflict and, on success, removes the
// record and returns the resolution result. Resolving an unknown id fails
// with a NOT_FOUND error; resolving the same id twice therefore fails on the
// second call.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, strategy ResolutionStrategy, opts ...ResolveOption) (*ResolutionResult, error) {
	if !strategy.Valid() {
		return nil, syncErrors.NewValidationError(syncErrors.OpResolve,
			fmt.Errorf("unknown resolution strategy %q", strategy))
	}

	cfg := &resolveConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	rec, err := r.conflicts.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	final, status, err := r.apply(rec, strategy, cfg)
	if err != nil {
		return nil, err
	}

	// Remove last: a storage failure here leaves the record intact so the
	// resolution can be retried.
	if err := r.conflicts.RemoveConflict(ctx, conflictID); err != nil {
		r.logger.LogError(ctx, err, "failed to clear resolved conflict",
			slog.String("conflict_id", conflictID))
		r.metrics.RecordSyncErrors("resolve", "storage_failure")
		return nil, err
	}

	r.metrics.RecordResolutions(strategy, 1)
	r.logger.InfoContext(ctx, "conflict resolved",
		slog.String("conflict_id", conflictID),
		slog.String("strategy", string(strategy)),
		slog.String("sync_status", string(status)))

	return &ResolutionResult{
		Success:    true,
		ConflictID: conflictID,
		Resolution: strategy,
		FinalData:  final,
		Timestamp:  r.clock.Now(),
		SyncStatus: status,
	}, nil
}

// apply computes the final data and resulting sync status for a strategy
// without touching storage.
func (r *Resolver) apply(rec ConflictRecord, strategy ResolutionStrategy, cfg *resolveConfig) (json.RawMessage, SyncStatus, error) {
	switch strategy {
	case ResolveClient:
		// Client wins; the winning value still has to reach the remote.
		return rec.ClientVersion, StatusPending, nil

	case ResolveServer:
		// Remote is already authoritative, no further replay needed.
		return rec.ServerVersion, StatusCompleted, nil

	case ResolveMerge:
		if cfg.merged == nil {
			return nil, "", syncErrors.NewValidationError(syncErrors.OpResolve,
				fmt.Errorf("merge strategy requires merged data"))
		}
		return cfg.merged.Result, StatusPending, nil

	case ResolveManual:
		// The caller already persisted a resolution externally; just clear.
		return nil, StatusCompleted, nil

	case ResolveNewest:
		return r.applyNewest(rec)

	case ResolveCustom:
		if cfg.custom == nil {
			return nil, "", syncErrors.NewValidationError(syncErrors.OpResolve,
				fmt.Errorf("custom strategy requires a resolve function"))
		}
		final, changed, err := cfg.custom(rec)
		if err != nil {
			return nil, "", syncErrors.NewConflictError(syncErrors.OpResolve,
				fmt.Errorf("custom resolver: %w", err))
		}
		for i := range changed {
			changed[i].Provenance = ProvenanceComputed
		}
		return final, StatusPending, nil
	}

	return nil, "", syncErrors.NewValidationError(syncErrors.OpResolve,
		fmt.Errorf("unknown resolution strategy %q", strategy))
}

// applyNewest picks whichever version carries the more recent domain
// timestamp. When only one side has a usable timestamp that side wins; when
// neither does, the server version wins since the remote is authoritative.
func (r *Resolver) applyNewest(rec ConflictRecord) (json.RawMessage, SyncStatus, error) {
	field, ok := r.newestFields[rec.EntityType]
	if !ok {
		field = "updatedAt"
	}

	clientTime, clientOK := timestampField(rec.ClientVersion, field)
	serverTime, serverOK := timestampField(rec.ServerVersion, field)

	switch {
	case clientOK && serverOK:
		if clientTime.After(serverTime) {
			return rec.ClientVersion, StatusPending, nil
		}
		return rec.ServerVersion, StatusCompleted, nil
	case clientOK:
		return rec.ClientVersion, StatusPending, nil
	default:
		return rec.ServerVersion, StatusCompleted, nil
	}
}

// timestampField extracts an RFC 3339 timestamp field from a JSON payload.
func timestampField(payload json.RawMessage, field string) (time.Time, bool) {
	if len(payload) == 0 {
		return time.Time{}, false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return time.Time{}, false
	}
	raw, ok := doc[field]
	if !ok {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
