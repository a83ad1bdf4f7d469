package offsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
	"github.com/c0deZ3R0/go-offline-sync/logging"
)

// Driver states. Transitions are Idle -> Syncing -> Idle; a trigger arriving
// mid-pass is dropped, not queued.
const (
	stateIdle int32 = iota
	stateSyncing
)

// ErrSyncInFlight is returned by Sync when a pass is already running.
var ErrSyncInFlight = syncErrors.New(syncErrors.OpSync, fmt.Errorf("sync pass already in flight"))

// ErrOffline is returned by Sync when connectivity is currently offline.
var ErrOffline = syncErrors.New(syncErrors.OpSync, fmt.Errorf("connectivity is offline"))

// Result reports the outcome of one sync pass over the queue snapshot.
type Result struct {
	// Replayed is the number of operations confirmed by the remote
	Replayed int

	// Failed is the number of operations whose replay failed and were bumped
	Failed int

	// Promoted is the number of operations moved into the conflict store
	Promoted int

	// Errors contains non-fatal errors collected during the pass
	Errors []error

	// StartTime is when the pass began
	StartTime time.Time

	// Duration is how long the pass took
	Duration time.Duration

	// SessionID identifies the pass; promoted conflicts carry it
	SessionID string
}

// Driver replays queued operations against the remote store, advancing retry
// counts and promoting exhausted operations into the conflict store. It is
// the only component permitted to move a record between the two stores, and
// enforces at-most-one-in-flight execution.
type Driver struct {
	ops       OperationStore
	conflicts ConflictStore
	replayer  Replayer

	maxRetries    int
	replayTimeout time.Duration
	clock         Clock
	logger        *logging.Logger
	metrics       MetricsCollector
	online        OnlineChecker
	userID        string
	deviceID      string

	state atomic.Int32
}

// Option configures a Driver.
type Option func(*Driver)

// WithMaxRetries sets the retry cap before an operation is promoted.
func WithMaxRetries(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxRetries = n
		}
	}
}

// WithReplayTimeout bounds each network replay attempt. Expiry is treated
// identically to a network failure.
func WithReplayTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.replayTimeout = timeout
		}
	}
}

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(d *Driver) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger injects the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics injects a metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(d *Driver) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithOnlineChecker gates triggers on connectivity. Without one the driver
// assumes it is online.
func WithOnlineChecker(oc OnlineChecker) Option {
	return func(d *Driver) { d.online = oc }
}

// WithUserID stamps promoted conflicts with the owning user.
func WithUserID(id string) Option {
	return func(d *Driver) { d.userID = id }
}

// WithDeviceID stamps promoted conflicts with the originating device.
func WithDeviceID(id string) Option {
	return func(d *Driver) { d.deviceID = id }
}

// NewDriver creates a sync driver over the given stores and replayer.
func NewDriver(ops OperationStore, conflicts ConflictStore, replayer Replayer, opts ...Option) *Driver {
	d := &Driver{
		ops:           ops,
		conflicts:     conflicts,
		replayer:      replayer,
		maxRetries:    3,
		replayTimeout: 15 * time.Second,
		clock:         SystemClock(),
		logger:        logging.WithComponent(logging.Component("sync-driver")),
		metrics:       &NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MaxRetries returns the configured retry cap.
func (d *Driver) MaxRetries() int { return d.maxRetries }

// IsSyncing reports whether a pass is currently running.
func (d *Driver) IsSyncing() bool { return d.state.Load() == stateSyncing }

// TriggerSync starts a sync pass in the background. It is a no-op returning
// false if a pass is already running or connectivity is offline.
func (d *Driver) TriggerSync() bool {
	if d.online != nil && !d.online.IsOnline() {
		return false
	}
	if !d.state.CompareAndSwap(stateIdle, stateSyncing) {
		return false
	}
	go func() {
		defer d.state.Store(stateIdle)
		d.performSync(context.Background())
	}()
	return true
}

// Sync runs one pass synchronously. Returns ErrSyncInFlight if a pass is
// already running and ErrOffline when connectivity is down.
func (d *Driver) Sync(ctx context.Context) (*Result, error) {
	if d.online != nil && !d.online.IsOnline() {
		return nil, ErrOffline
	}
	if !d.state.CompareAndSwap(stateIdle, stateSyncing) {
		return nil, ErrSyncInFlight
	}
	defer d.state.Store(stateIdle)
	return d.performSync(ctx), nil
}

// performSync snapshots the queue once and iterates it in enqueue order.
// One operation's failure never aborts the batch. Once started the pass runs
// to completion over its snapshot.
func (d *Driver) performSync(ctx context.Context) *Result {
	result := &Result{
		StartTime: d.clock.Now(),
		SessionID: uuid.NewString(),
	}
	defer func() {
		result.Duration = time.Since(result.StartTime)
		d.metrics.RecordSyncDuration("pass", result.Duration)
		d.metrics.RecordReplays(result.Replayed, result.Failed)
		if result.Promoted > 0 {
			d.metrics.RecordPromotions(result.Promoted)
		}
	}()

	// Reads degrade to an empty snapshot plus a warning; callers poll.
	snapshot, err := d.ops.List(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "failed to read pending queue, treating as empty",
			slog.String("error", err.Error()))
		d.metrics.RecordSyncErrors("list", "storage_failure")
		return result
	}

	d.logger.InfoContext(ctx, "sync pass started",
		slog.String("session_id", result.SessionID),
		slog.Int("pending", len(snapshot)))

	for _, op := range snapshot {
		if op.RetryCount >= d.maxRetries {
			d.promote(ctx, op, result)
			continue
		}

		rctx, cancel := context.WithTimeout(ctx, d.replayTimeout)
		err := d.replayer.Replay(rctx, op)
		cancel()

		if err != nil {
			result.Failed++
			d.logger.WarnContext(ctx, "replay failed",
				slog.String("operation_id", op.ID),
				slog.String("entity_type", string(op.EntityType)),
				slog.Int("retry_count", op.RetryCount),
				slog.String("error", err.Error()))
			if bumpErr := d.ops.Bump(ctx, op.ID); bumpErr != nil {
				// Retry count unchanged; the operation stays queued either way.
				d.logger.LogError(ctx, bumpErr, "failed to bump retry count",
					slog.String("operation_id", op.ID))
				result.Errors = append(result.Errors, bumpErr)
				d.metrics.RecordSyncErrors("bump", "storage_failure")
				continue
			}
			op.RetryCount++
			// The failure that reaches the cap promotes immediately; the
			// operation gets no further replay attempts.
			if op.RetryCount >= d.maxRetries {
				d.promote(ctx, op, result)
			}
			continue
		}

		if removeErr := d.ops.Remove(ctx, op.ID); removeErr != nil {
			d.logger.LogError(ctx, removeErr, "failed to remove confirmed operation",
				slog.String("operation_id", op.ID))
			result.Errors = append(result.Errors, removeErr)
			d.metrics.RecordSyncErrors("remove", "storage_failure")
			continue
		}
		result.Replayed++
	}

	d.logger.InfoContext(ctx, "sync pass completed",
		slog.String("session_id", result.SessionID),
		slog.Int("replayed", result.Replayed),
		slog.Int("failed", result.Failed),
		slog.Int("promoted", result.Promoted))

	return result
}

// promote moves an exhausted operation into the conflict store. No network
// call is made for the operation in this pass. When the conflict store also
// implements Promoter both writes happen in one storage transaction;
// otherwise the insert runs before the remove so a crash in between can
// duplicate but never lose the record.
func (d *Driver) promote(ctx context.Context, op PendingOperation, result *Result) {
	now := d.clock.Now()
	rec := ConflictRecord{
		ID:            op.ID,
		EntityType:    op.EntityType,
		ConflictType:  ConflictTypeForAction(op.Action),
		Timestamp:     now,
		ClientVersion: op.Payload,
		Metadata: ConflictMetadata{
			UserID:        d.userID,
			DeviceID:      d.deviceID,
			SyncSessionID: result.SessionID,
			DetectedAt:    now,
			Priority:      promotionPriority(op),
		},
	}

	var err error
	if promoter, ok := d.conflicts.(Promoter); ok {
		err = promoter.Promote(ctx, op, rec)
	} else {
		if err = d.conflicts.AddConflict(ctx, rec); err == nil {
			err = d.ops.Remove(ctx, op.ID)
		}
	}

	if err != nil {
		// The operation stays queued and will be promoted on a later pass.
		d.logger.LogError(ctx, err, "failed to promote exhausted operation",
			slog.String("operation_id", op.ID))
		result.Errors = append(result.Errors, err)
		d.metrics.RecordSyncErrors("promote", "storage_failure")
		return
	}

	result.Promoted++
	d.logger.InfoContext(ctx, "operation promoted to conflict store",
		slog.String("operation_id", op.ID),
		slog.String("entity_type", string(op.EntityType)),
		slog.String("conflict_type", string(rec.ConflictType)))
}

// promotionPriority ranks promoted conflicts for triage. Deletes rank above
// writes since a stuck delete usually blocks dependent cleanup.
func promotionPriority(op PendingOperation) int {
	if op.Action == ActionDelete {
		return 1
	}
	return 0
}
