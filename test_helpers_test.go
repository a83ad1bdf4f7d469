package offsync

import (
	"context"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-sync/errors"
)

// fakeClock hands out strictly increasing timestamps so enqueue order is
// deterministic in tests.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		step: time.Millisecond,
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// mockReplayer scripts replay outcomes per operation id and counts calls.
type mockReplayer struct {
	mu       sync.Mutex
	calls    int
	byOp     map[string]int
	failures map[string]int // remaining failures per op id; -1 fails forever
	block    chan struct{}  // when set, Replay blocks until closed
}

func newMockReplayer() *mockReplayer {
	return &mockReplayer{
		byOp:     make(map[string]int),
		failures: make(map[string]int),
	}
}

// failNext makes the next n replays of the operation fail; n < 0 fails forever.
func (m *mockReplayer) failNext(opID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[opID] = n
}

func (m *mockReplayer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockReplayer) callsFor(opID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byOp[opID]
}

func (m *mockReplayer) Replay(ctx context.Context, op PendingOperation) error {
	m.mu.Lock()
	m.calls++
	m.byOp[op.ID]++
	remaining := m.failures[op.ID]
	if remaining > 0 {
		m.failures[op.ID] = remaining - 1
	}
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return syncErrors.NewNetworkError(syncErrors.OpReplay, ctx.Err())
		}
	}

	if remaining != 0 {
		return syncErrors.NewNetworkError(syncErrors.OpReplay, context.DeadlineExceeded)
	}
	return nil
}

// staticOnline is a fixed-state OnlineChecker.
type staticOnline bool

func (s staticOnline) IsOnline() bool { return bool(s) }

// countingTrigger records TriggerSync calls for monitor tests.
type countingTrigger struct {
	mu    sync.Mutex
	count int
}

func (t *countingTrigger) TriggerSync() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	return true
}

func (t *countingTrigger) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
