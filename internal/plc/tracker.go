package plc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
)

// Connection tracking defaults.
const (
	// DefaultSeenRefresh bounds how often last_seen is rewritten while a
	// controller stays connected.
	DefaultSeenRefresh = 30 * time.Second

	trackerWriteTimeout = 2 * time.Second
)

type trackedState struct {
	connected bool
	written   time.Time
}

// ConnectionTracker records is_connected and last_seen from poll results.
// It is a modbus.PollObserver; writes happen on the poll goroutine and are
// limited to state changes plus a periodic refresh while connected.
type ConnectionTracker struct {
	repo    ControllerRepository
	refresh time.Duration
	logger  Logger
	now     func() time.Time

	mu    sync.Mutex
	state map[string]trackedState
}

var _ modbus.PollObserver = (*ConnectionTracker)(nil)

// NewConnectionTracker creates a tracker writing through repo.
// A non-positive refresh uses DefaultSeenRefresh.
func NewConnectionTracker(repo ControllerRepository, refresh time.Duration) *ConnectionTracker {
	if refresh <= 0 {
		refresh = DefaultSeenRefresh
	}
	return &ConnectionTracker{
		repo:    repo,
		refresh: refresh,
		logger:  noopLogger{},
		now:     time.Now,
		state:   make(map[string]trackedState),
	}
}

// SetLogger sets the logger for the tracker.
func (t *ConnectionTracker) SetLogger(logger Logger) {
	t.logger = logger
}

// ObservePoll implements modbus.PollObserver.
func (t *ConnectionTracker) ObservePoll(res modbus.PollResult) {
	// A storage failure says nothing about the device link.
	if res.Outcome == modbus.PollSourceError {
		return
	}

	now := t.now()

	t.mu.Lock()
	prev, known := t.state[res.ControllerID]
	changed := !known || prev.connected != res.Connected
	stale := res.Connected && now.Sub(prev.written) >= t.refresh
	if !changed && !stale {
		t.mu.Unlock()
		return
	}
	t.state[res.ControllerID] = trackedState{connected: res.Connected, written: now}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), trackerWriteTimeout)
	defer cancel()

	seen := res.Timestamp
	if seen.IsZero() {
		seen = now
	}
	if err := t.repo.UpdateConnection(ctx, res.ControllerID, res.Connected, seen); err != nil {
		if errors.Is(err, ErrControllerNotFound) {
			t.logger.Debug("connection update for unknown controller", "controller_id", res.ControllerID)
			return
		}
		t.logger.Warn("failed to record controller connection", "controller_id", res.ControllerID, "error", err)
		t.Forget(res.ControllerID)
		return
	}

	if changed {
		t.logger.Info("controller connection changed", "controller_id", res.ControllerID, "connected", res.Connected)
	}
}

// Forget drops the tracked state of a controller, so the next result is
// written unconditionally.
func (t *ConnectionTracker) Forget(controllerID string) {
	t.mu.Lock()
	delete(t.state, controllerID)
	t.mu.Unlock()
}
