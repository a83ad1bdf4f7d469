package offsync

import (
	"log/slog"
	"sync"

	"github.com/c0deZ3R0/go-offline-sync/logging"
)

// Trigger is the driver surface the monitor needs.
type Trigger interface {
	TriggerSync() bool
}

// Monitor observes online/offline transitions and externally driven periodic
// ticks, triggering the sync driver opportunistically. Rapid flapping cannot
// produce concurrent passes because single-flight is enforced inside the
// driver, not here.
type Monitor struct {
	mu      sync.Mutex
	online  bool
	trigger Trigger
	logger  *logging.Logger

	subs   map[int]func(online bool)
	nextID int
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger injects the structured logger.
func WithMonitorLogger(l *logging.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// StartOffline makes the monitor begin in the offline state.
func StartOffline() MonitorOption {
	return func(m *Monitor) { m.online = false }
}

// NewMonitor creates a connectivity monitor bound to a sync trigger. The
// monitor starts online unless StartOffline is given.
func NewMonitor(trigger Trigger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		online:  true,
		trigger: trigger,
		logger:  logging.WithComponent(logging.Component("connectivity")),
		subs:    make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline reports the current connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Online records an online signal. On an offline-to-online transition it
// notifies subscribers and triggers exactly one sync.
func (m *Monitor) Online() {
	m.mu.Lock()
	if m.online {
		m.mu.Unlock()
		return
	}
	m.online = true
	subs := m.snapshotSubs()
	m.mu.Unlock()

	m.logger.Info("connectivity restored")
	for _, fn := range subs {
		fn(true)
	}
	m.trigger.TriggerSync()
}

// Offline records an offline signal and notifies subscribers on transition.
func (m *Monitor) Offline() {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return
	}
	m.online = false
	subs := m.snapshotSubs()
	m.mu.Unlock()

	m.logger.Info("connectivity lost")
	for _, fn := range subs {
		fn(false)
	}
}

// Tick handles an externally scheduled periodic tick, triggering exactly one
// sync attempt while online. Ticks while offline are dropped.
func (m *Monitor) Tick() {
	if !m.IsOnline() {
		return
	}
	if m.trigger.TriggerSync() {
		m.logger.Debug("tick triggered sync", slog.Bool("online", true))
	}
}

// Subscribe registers a listener for connectivity transitions and returns a
// disposer. Disposing is idempotent, so repeated construction and teardown
// cannot leak listeners.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// snapshotSubs copies subscribers for invocation outside the lock.
// Caller must hold m.mu.
func (m *Monitor) snapshotSubs() []func(bool) {
	out := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}
