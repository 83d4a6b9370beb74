package plc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
)

type connectionUpdate struct {
	id        string
	connected bool
	seen      time.Time
}

// mockControllerRepo records UpdateConnection calls.
type mockControllerRepo struct {
	ControllerRepository

	mu      sync.Mutex
	updates []connectionUpdate
	err     error
}

func (m *mockControllerRepo) UpdateConnection(_ context.Context, id string, connected bool, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, connectionUpdate{id: id, connected: connected, seen: seen})
	return m.err
}

func (m *mockControllerRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestTracker(repo ControllerRepository) (*ConnectionTracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	tracker := NewConnectionTracker(repo, 30*time.Second)
	tracker.now = clock.now
	return tracker, clock
}

func pollResult(id string, connected bool, outcome modbus.PollOutcome) modbus.PollResult {
	return modbus.PollResult{ControllerID: id, Connected: connected, Outcome: outcome}
}

func TestConnectionTracker_WritesOnChangeAndRefresh(t *testing.T) {
	repo := &mockControllerRepo{}
	tracker, clock := newTestTracker(repo)

	steps := []struct {
		name      string
		advance   time.Duration
		connected bool
		outcome   modbus.PollOutcome
		wantTotal int
	}{
		{name: "first result written", connected: true, outcome: modbus.PollOK, wantTotal: 1},
		{name: "steady state skipped", advance: time.Second, connected: true, outcome: modbus.PollOK, wantTotal: 1},
		{name: "refresh while connected", advance: 30 * time.Second, connected: true, outcome: modbus.PollPartial, wantTotal: 2},
		{name: "disconnect written", advance: time.Second, connected: false, outcome: modbus.PollConnectionFailed, wantTotal: 3},
		{name: "still disconnected skipped", advance: time.Minute, connected: false, outcome: modbus.PollConnectionFailed, wantTotal: 3},
		{name: "source error ignored", advance: time.Second, connected: true, outcome: modbus.PollSourceError, wantTotal: 3},
		{name: "reconnect written", advance: time.Second, connected: true, outcome: modbus.PollOK, wantTotal: 4},
	}

	for _, step := range steps {
		clock.t = clock.t.Add(step.advance)
		tracker.ObservePoll(pollResult("plc-1", step.connected, step.outcome))
		if got := repo.count(); got != step.wantTotal {
			t.Fatalf("%s: %d writes, want %d", step.name, got, step.wantTotal)
		}
	}
}

func TestConnectionTracker_UsesResultTimestamp(t *testing.T) {
	repo := &mockControllerRepo{}
	tracker, clock := newTestTracker(repo)

	ts := clock.t.Add(-time.Second)
	res := pollResult("plc-1", true, modbus.PollOK)
	res.Timestamp = ts
	tracker.ObservePoll(res)

	tracker.ObservePoll(pollResult("plc-2", true, modbus.PollOK))

	if repo.updates[0].seen != ts {
		t.Errorf("seen = %v, want result timestamp %v", repo.updates[0].seen, ts)
	}
	if repo.updates[1].seen != clock.t {
		t.Errorf("seen = %v, want clock time for zero timestamp", repo.updates[1].seen)
	}
}

func TestConnectionTracker_RetriesAfterError(t *testing.T) {
	repo := &mockControllerRepo{err: errors.New("database is locked")}
	tracker, _ := newTestTracker(repo)

	tracker.ObservePoll(pollResult("plc-1", true, modbus.PollOK))
	tracker.ObservePoll(pollResult("plc-1", true, modbus.PollOK))

	if got := repo.count(); got != 2 {
		t.Errorf("writes = %d, want 2 after a failed write", got)
	}
}

func TestConnectionTracker_Forget(t *testing.T) {
	repo := &mockControllerRepo{}
	tracker, _ := newTestTracker(repo)

	tracker.ObservePoll(pollResult("plc-1", false, modbus.PollConnectionFailed))
	tracker.Forget("plc-1")
	tracker.ObservePoll(pollResult("plc-1", false, modbus.PollConnectionFailed))

	if got := repo.count(); got != 2 {
		t.Errorf("writes = %d, want 2 after Forget", got)
	}
}

func TestConnectionTracker_StoresThroughRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewControllerRepository(db)
	ctx := context.Background()
	if err := repo.Create(ctx, newController("plc-1", "Live")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tracker := NewConnectionTracker(repo, 0)
	seen := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	tracker.ObservePoll(modbus.PollResult{ControllerID: "plc-1", Connected: true, Outcome: modbus.PollOK, Timestamp: seen})

	got, err := repo.GetByID(ctx, "plc-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.IsConnected || got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("connected=%v last_seen=%v", got.IsConnected, got.LastSeen)
	}

	// Unknown controllers are tolerated.
	tracker.ObservePoll(pollResult("plc-gone", true, modbus.PollOK))
}
