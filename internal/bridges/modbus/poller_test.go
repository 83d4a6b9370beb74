package modbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testWait = 2 * time.Second

type monitorFixture struct {
	registry *Registry
	source   *fakeSource
	bus      *UpdateBus
	monitor  *Monitor
	observer *recordingObserver
	links    map[string]*fakeLink
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		source:   newFakeSource(),
		bus:      NewUpdateBus(64),
		observer: &recordingObserver{},
		links:    make(map[string]*fakeLink),
	}
	f.registry = NewRegistry(RegistryConfig{
		SimulationTick: time.Hour,
		LinkFactory: func(cfg ControllerConfig) DeviceLink {
			if l, ok := f.links[cfg.ID]; ok {
				return l
			}
			return newFakeLink()
		},
	})
	f.monitor = NewMonitor(MonitorConfig{
		Interval:       5 * time.Millisecond,
		Backoff:        10 * time.Millisecond,
		ConnectTimeout: 100 * time.Millisecond,
	}, f.registry, f.source, f.bus)
	f.monitor.SetObserver(f.observer)

	t.Cleanup(func() {
		f.monitor.Close()
		f.registry.Close()
		f.bus.Close()
	})
	return f
}

func (f *monitorFixture) addSimulated(id string, defs ...RegisterDefinition) {
	f.source.controllers[id] = ControllerConfig{ID: id, Simulated: true}
	f.source.registers[id] = defs
}

// nextFor waits for the next snapshot of controllerID.
func nextFor(t *testing.T, sub *Subscription, controllerID string) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	for {
		snap, ok := sub.Next(ctx)
		if !ok {
			t.Fatalf("no snapshot for %s within %v", controllerID, testWait)
		}
		if snap.ControllerID == controllerID {
			return snap
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestMonitorPublishesDecodedSnapshots(t *testing.T) {
	f := newMonitorFixture(t)
	f.addSimulated("sim",
		RegisterDefinition{ID: "status", Name: "Status", Address: 6, DataType: Int16, ScalingFactor: 1},
		RegisterDefinition{ID: "temp", Name: "Temperature", Unit: "°C", Address: 0, DataType: Float32, ScalingFactor: 1},
	)
	sub := f.bus.Subscribe()
	defer sub.Close()

	if err := f.monitor.Start(context.Background(), "sim"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !f.registry.Has("sim") {
		t.Fatal("Start() should add the controller to the registry")
	}

	first := nextFor(t, sub, "sim")
	if len(first.Registers) != 2 {
		t.Fatalf("registers = %+v, want 2", first.Registers)
	}
	if first.Registers[0].ID != "status" || first.Registers[1].ID != "temp" {
		t.Errorf("register order = %s, %s; want status, temp", first.Registers[0].ID, first.Registers[1].ID)
	}
	if first.Registers[0].Value != 1 {
		t.Errorf("status = %v, want 1", first.Registers[0].Value)
	}
	if first.Registers[1].Value != 25 || first.Registers[1].Unit != "°C" {
		t.Errorf("temperature reading = %+v", first.Registers[1])
	}

	second := nextFor(t, sub, "sim")
	if second.Sequence <= first.Sequence {
		t.Errorf("sequence %d did not advance past %d", second.Sequence, first.Sequence)
	}

	events := f.observer.snapshot()
	if len(events) == 0 || events[0].Outcome != PollOK || !events[0].Connected {
		t.Errorf("first observed result = %+v", events)
	}
}

func TestMonitorStartStop(t *testing.T) {
	f := newMonitorFixture(t)
	f.addSimulated("sim", RegisterDefinition{ID: "t", Address: 0, DataType: Float32})
	ctx := context.Background()

	if err := f.monitor.Start(ctx, "sim"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.monitor.Start(ctx, "sim"); !errors.Is(err, ErrAlreadyMonitoring) {
		t.Errorf("Start(again) error = %v, want ErrAlreadyMonitoring", err)
	}
	if !f.monitor.IsMonitoring("sim") {
		t.Error("IsMonitoring() = false")
	}
	if ids := f.monitor.Monitoring(); len(ids) != 1 || ids[0] != "sim" {
		t.Errorf("Monitoring() = %v", ids)
	}

	if err := f.monitor.Stop("sim"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := f.monitor.Stop("sim"); !errors.Is(err, ErrNotMonitoring) {
		t.Errorf("Stop(again) error = %v, want ErrNotMonitoring", err)
	}
	if f.monitor.IsMonitoring("sim") {
		t.Error("IsMonitoring() = true after Stop")
	}

	// Nothing is published once Stop has returned.
	sub := f.bus.Subscribe()
	defer sub.Close()
	time.Sleep(30 * time.Millisecond)
	select {
	case snap := <-sub.Updates():
		t.Errorf("snapshot after Stop: %+v", snap)
	default:
	}

	// Restart works.
	if err := f.monitor.Start(ctx, "sim"); err != nil {
		t.Errorf("Start() after Stop error = %v", err)
	}
}

func TestMonitorStartUnknownController(t *testing.T) {
	f := newMonitorFixture(t)
	if err := f.monitor.Start(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Start(ghost) error = %v, want ErrNotFound", err)
	}
	if f.monitor.IsMonitoring("ghost") {
		t.Error("failed Start left a loop behind")
	}
}

func TestMonitorConnectionFailureBacksOff(t *testing.T) {
	f := newMonitorFixture(t)
	link := newFakeLink()
	link.connectErr = errors.New("connection refused")
	f.links["tcp"] = link
	f.source.controllers["tcp"] = ControllerConfig{ID: "tcp", Host: "192.0.2.1", Port: 502}
	f.source.registers["tcp"] = []RegisterDefinition{{ID: "r", Address: 0, DataType: Int16}}

	sub := f.bus.Subscribe()
	defer sub.Close()

	if err := f.monitor.Start(context.Background(), "tcp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := nextFor(t, sub, "tcp")
	if !snap.Empty() {
		t.Errorf("snapshot on connection failure = %+v, want empty", snap.Registers)
	}

	waitFor(t, "retry after backoff", func() bool {
		link.mu.Lock()
		defer link.mu.Unlock()
		return link.connects >= 2
	})

	events := f.observer.snapshot()
	if events[0].Outcome != PollConnectionFailed || events[0].Connected || events[0].Err == nil {
		t.Errorf("observed = %+v, want connection_failed", events[0])
	}

	// Recovery: the loop keeps going and starts delivering values.
	link.set(func(l *fakeLink) {
		l.connectErr = nil
		l.words[0] = 42
	})
	waitFor(t, "recovered snapshot", func() bool {
		s := nextFor(t, sub, "tcp")
		return !s.Empty() && s.Registers[0].Value == 42
	})
	if st, _ := f.registry.Status("tcp"); !st.Connected {
		t.Errorf("status after recovery = %+v", st)
	}
}

func TestMonitorReadDropTreatedAsConnectionFailure(t *testing.T) {
	f := newMonitorFixture(t)
	link := newFakeLink()
	link.readErr = errors.New("connection reset by peer")
	link.dropOnRead = true
	f.links["tcp"] = link
	f.source.controllers["tcp"] = ControllerConfig{ID: "tcp", Host: "192.0.2.1"}
	f.source.registers["tcp"] = []RegisterDefinition{
		{ID: "a", Address: 0, DataType: Int16},
		{ID: "b", Address: 1, DataType: Int16},
	}

	sub := f.bus.Subscribe()
	defer sub.Close()
	if err := f.monitor.Start(context.Background(), "tcp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := nextFor(t, sub, "tcp")
	if !snap.Empty() {
		t.Errorf("snapshot = %+v, want empty", snap.Registers)
	}
	events := f.observer.snapshot()
	if events[0].Outcome != PollConnectionFailed {
		t.Errorf("outcome = %s, want connection_failed", events[0].Outcome)
	}
}

func TestMonitorOmitsFailedRegisters(t *testing.T) {
	f := newMonitorFixture(t)
	f.addSimulated("sim",
		RegisterDefinition{ID: "temp", Address: 0, DataType: Float32, ScalingFactor: 1},
		RegisterDefinition{ID: "missing", Address: 500, DataType: Int16, ScalingFactor: 1},
		RegisterDefinition{ID: "status", Address: 6, DataType: Int16, ScalingFactor: 1},
	)
	sub := f.bus.Subscribe()
	defer sub.Close()

	if err := f.monitor.Start(context.Background(), "sim"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := nextFor(t, sub, "sim")
	if len(snap.Registers) != 2 {
		t.Fatalf("registers = %+v, want temp and status", snap.Registers)
	}
	if _, ok := snap.Reading("missing"); ok {
		t.Error("failed register should be omitted")
	}

	ev := f.observer.snapshot()[0]
	if ev.Outcome != PollPartial || ev.Requested != 3 || ev.Succeeded != 2 || ev.Failed() != 1 {
		t.Errorf("observed = %+v, want partial 2/3", ev)
	}
}

func TestMonitorSourceErrorDoesNotPublish(t *testing.T) {
	f := newMonitorFixture(t)
	f.addSimulated("sim", RegisterDefinition{ID: "t", Address: 0, DataType: Float32})
	f.source.err = errors.New("database is locked")

	sub := f.bus.Subscribe()
	defer sub.Close()
	if err := f.monitor.Start(context.Background(), "sim"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "source error observed", func() bool { return len(f.observer.snapshot()) > 0 })
	if ev := f.observer.snapshot()[0]; ev.Outcome != PollSourceError {
		t.Errorf("outcome = %s, want source_error", ev.Outcome)
	}
	select {
	case snap := <-sub.Updates():
		t.Errorf("unexpected snapshot %+v", snap)
	default:
	}
}

func TestMonitorStopsOnControllerRemoval(t *testing.T) {
	f := newMonitorFixture(t)
	f.addSimulated("sim", RegisterDefinition{ID: "t", Address: 0, DataType: Float32})
	sub := f.bus.Subscribe()
	defer sub.Close()

	if err := f.monitor.Start(context.Background(), "sim"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	nextFor(t, sub, "sim")

	if err := f.registry.Remove("sim"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if f.monitor.IsMonitoring("sim") {
		t.Error("loop still registered after controller removal")
	}

	// Drain anything published before removal, then expect silence.
drain:
	for {
		select {
		case <-sub.Updates():
		case <-time.After(30 * time.Millisecond):
			break drain
		}
	}
	select {
	case snap := <-sub.Updates():
		t.Errorf("snapshot after removal: %+v", snap)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestMonitorRemovalLeavesOtherLoopsRunning(t *testing.T) {
	f := newMonitorFixture(t)
	f.addSimulated("doomed", RegisterDefinition{ID: "t", Address: 0, DataType: Float32, ScalingFactor: 1})
	f.addSimulated("survivor", RegisterDefinition{ID: "s", Address: 6, DataType: Int16, ScalingFactor: 1})
	sub := f.bus.Subscribe()
	defer sub.Close()

	for _, id := range []string{"doomed", "survivor"} {
		if err := f.monitor.Start(context.Background(), id); err != nil {
			t.Fatalf("Start(%s) error = %v", id, err)
		}
	}
	nextFor(t, sub, "doomed")
	before := nextFor(t, sub, "survivor")

	if err := f.registry.Remove("doomed"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if f.monitor.IsMonitoring("doomed") || !f.monitor.IsMonitoring("survivor") {
		t.Fatalf("monitoring = %v, want [survivor]", f.monitor.Monitoring())
	}

	for range 3 {
		snap := nextFor(t, sub, "survivor")
		if snap.Sequence <= before.Sequence || snap.Empty() {
			t.Fatalf("survivor snapshot = %+v after seq %d", snap, before.Sequence)
		}
		before = snap
	}
}

func TestMonitorOrphanedLoopExits(t *testing.T) {
	f := newMonitorFixture(t)

	// A loop whose controller is missing from the registry, as left
	// behind when Remove lands between Start's Add and the loop starting.
	loop := &pollLoop{controllerID: "gone", done: make(chan struct{})}
	f.monitor.mu.Lock()
	f.monitor.loops["gone"] = loop
	f.monitor.mu.Unlock()
	loop.wg.Add(1)
	go f.monitor.run(loop)

	waitFor(t, "orphaned loop to unregister", func() bool { return !f.monitor.IsMonitoring("gone") })
	loop.wg.Wait()

	f.addSimulated("gone", RegisterDefinition{ID: "s", Address: 6, DataType: Int16, ScalingFactor: 1})
	if err := f.monitor.Start(context.Background(), "gone"); err != nil {
		t.Fatalf("Start() after orphaned exit error = %v", err)
	}
	if !f.monitor.IsMonitoring("gone") {
		t.Error("controller not monitored after restart")
	}
}

func TestMonitorSkipsNonFiniteFloats(t *testing.T) {
	f := newMonitorFixture(t)
	link := newFakeLink()
	link.words[0], link.words[1] = 0x7FC0, 0x0000 // NaN
	link.words[2], link.words[3] = 0x7F80, 0x0000 // +Inf
	link.words[4] = 7
	f.links["tcp"] = link
	f.source.controllers["tcp"] = ControllerConfig{ID: "tcp", Host: "192.0.2.1"}
	f.source.registers["tcp"] = []RegisterDefinition{
		{ID: "nan", Address: 0, DataType: Float32, ScalingFactor: 1},
		{ID: "inf", Address: 2, DataType: Float32, ScalingFactor: 1},
		{ID: "status", Address: 4, DataType: Int16, ScalingFactor: 1},
	}

	sub := f.bus.Subscribe()
	defer sub.Close()
	if err := f.monitor.Start(context.Background(), "tcp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := nextFor(t, sub, "tcp")
	if len(snap.Registers) != 1 || snap.Registers[0].ID != "status" || snap.Registers[0].Value != 7 {
		t.Fatalf("registers = %+v, want only status=7", snap.Registers)
	}

	body, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("json.Marshal(snapshot) error = %v", err)
	}
	if !strings.Contains(string(body), `"status":{`) {
		t.Errorf("snapshot JSON = %s", body)
	}

	ev := f.observer.snapshot()[0]
	if ev.Outcome != PollPartial || !ev.Connected || ev.Succeeded != 1 || ev.Failed() != 2 {
		t.Errorf("observed = %+v, want partial 1/3 while connected", ev)
	}
	if st, _ := f.registry.Status("tcp"); !st.Connected {
		t.Errorf("status = %+v, fault values should not drop the link", st)
	}
}

func TestMonitorCloseRejectsStart(t *testing.T) {
	f := newMonitorFixture(t)
	f.addSimulated("sim")
	f.monitor.Close()

	if err := f.monitor.Start(context.Background(), "sim"); !errors.Is(err, ErrMonitorClosed) {
		t.Errorf("Start() after Close error = %v, want ErrMonitorClosed", err)
	}
}

func TestMonitorMetrics(t *testing.T) {
	f := newMonitorFixture(t)
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	f.monitor.SetMetrics(metrics)
	f.addSimulated("sim", RegisterDefinition{ID: "t", Address: 0, DataType: Float32})

	if err := f.monitor.Start(context.Background(), "sim"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.activeLoops); got != 1 {
		t.Errorf("active loops = %v, want 1", got)
	}

	waitFor(t, "poll cycle counted", func() bool {
		return testutil.ToFloat64(metrics.pollCycles.WithLabelValues("sim", string(PollOK))) >= 1
	})

	if err := f.monitor.Stop("sim"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.activeLoops); got != 0 {
		t.Errorf("active loops after Stop = %v, want 0", got)
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Error("registering metrics twice should fail")
	}
}
