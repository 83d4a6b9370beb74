package modbus

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestRegistry(links map[string]*fakeLink) *Registry {
	return NewRegistry(RegistryConfig{
		LinkFactory: func(cfg ControllerConfig) DeviceLink {
			if l, ok := links[cfg.ID]; ok {
				return l
			}
			return newFakeLink()
		},
	})
}

func TestRegistryAddRemove(t *testing.T) {
	r := newTestRegistry(nil)

	if err := r.Add(ControllerConfig{ID: "plc-1", Simulated: true}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := r.Add(ControllerConfig{ID: "plc-1", Simulated: true}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Add(dup) error = %v, want ErrAlreadyExists", err)
	}
	if err := r.Add(ControllerConfig{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Add(empty id) error = %v, want ErrInvalidConfig", err)
	}
	if !r.Has("plc-1") {
		t.Error("Has(plc-1) = false")
	}

	sim, ok := r.Simulator("plc-1")
	if !ok {
		t.Fatal("Simulator() not found for simulated controller")
	}
	if !sim.Running() {
		t.Error("simulated device should start on Add")
	}

	if err := r.Remove("plc-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if sim.Running() {
		t.Error("simulated device still running after Remove")
	}
	if err := r.Remove("plc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(again) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryUnknownController(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()

	if _, err := r.Read(ctx, "ghost", 0, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
	if err := r.Write(ctx, "ghost", 0, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Write() error = %v, want ErrNotFound", err)
	}
	if err := r.WriteWords(ctx, "ghost", 0, []uint16{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("WriteWords() error = %v, want ErrNotFound", err)
	}
	if _, err := r.Status("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status() error = %v, want ErrNotFound", err)
	}
	if err := r.Connect(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Connect() error = %v, want ErrNotFound", err)
	}
}

func TestRegistrySimulatedReadWrite(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()
	if err := r.Add(ControllerConfig{ID: "sim", Simulated: true, SimRegisters: []SimulatedRegister{
		{Address: 10, DataType: Int16, Value: 215},
		{Address: 20, DataType: Float32, Value: 12.5},
	}}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	defer r.Close()

	def := RegisterDefinition{ID: "r1", Address: 10, DataType: Int16, ScalingFactor: 0.1}
	v, err := r.ReadValue(ctx, "sim", def)
	if err != nil {
		t.Fatalf("ReadValue() error = %v", err)
	}
	if v < 21.49 || v > 21.51 {
		t.Errorf("ReadValue() = %v, want 21.5", v)
	}

	words, err := r.WriteValue(ctx, "sim", def, 30.0)
	if err != nil {
		t.Fatalf("WriteValue() error = %v", err)
	}
	if len(words) != 1 || words[0] != 300 {
		t.Errorf("WriteValue() words = %v, want [300]", words)
	}

	fdef := RegisterDefinition{ID: "r2", Address: 20, DataType: Float32, ScalingFactor: 1}
	if _, err := r.WriteValue(ctx, "sim", fdef, -7.25); err != nil {
		t.Fatalf("WriteValue(float) error = %v", err)
	}
	if got, _ := r.ReadValue(ctx, "sim", fdef); got != -7.25 {
		t.Errorf("float round trip = %v, want -7.25", got)
	}

	_, err = r.ReadValue(ctx, "sim", RegisterDefinition{Address: 99, DataType: Int16})
	if !errors.Is(err, ErrRead) || !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadValue(unknown address) error = %v, want ErrRead and ErrNotFound", err)
	}

	if _, err := r.WriteValue(ctx, "sim", def, -5); !errors.Is(err, ErrEncode) {
		t.Errorf("WriteValue(negative int16) error = %v, want ErrEncode", err)
	}
}

func TestRegistryStatus(t *testing.T) {
	link := newFakeLink()
	r := newTestRegistry(map[string]*fakeLink{"tcp": link})
	ctx := context.Background()

	if err := r.Add(ControllerConfig{ID: "tcp", Host: "10.0.0.9", Port: 502, UnitID: 3}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	st, err := r.Status("tcp")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Connected || st.State != StateDisconnected || st.Simulated {
		t.Errorf("initial status = %+v", st)
	}
	if st.Host != "10.0.0.9" || st.Port != 502 || st.UnitID != 3 {
		t.Errorf("status address = %+v", st)
	}

	link.set(func(f *fakeLink) { f.connectErr = errors.New("refused") })
	if err := r.Connect(ctx, "tcp"); !errors.Is(err, ErrConnection) {
		t.Fatalf("Connect() error = %v, want ErrConnection", err)
	}
	if st, _ := r.Status("tcp"); st.State != StateFailed {
		t.Errorf("State = %s, want failed", st.State)
	}

	link.set(func(f *fakeLink) { f.connectErr = nil })
	if err := r.Connect(ctx, "tcp"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if st, _ := r.Status("tcp"); !st.Connected || st.State != StateConnected {
		t.Errorf("status after connect = %+v", st)
	}

	// Transport drop during a read.
	link.set(func(f *fakeLink) { f.readErr = errors.New("reset"); f.dropOnRead = true })
	if _, err := r.Read(ctx, "tcp", 0, 1); !errors.Is(err, ErrRead) {
		t.Fatalf("Read() error = %v, want ErrRead", err)
	}
	if st, _ := r.Status("tcp"); st.Connected || st.State != StateDisconnected {
		t.Errorf("status after drop = %+v", st)
	}
}

func TestRegistryOnRemove(t *testing.T) {
	link := newFakeLink()
	r := newTestRegistry(map[string]*fakeLink{"a": link})

	var removed []string
	r.OnRemove(func(id string) { removed = append(removed, id) })

	if err := r.Add(ControllerConfig{ID: "a"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := r.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != "a" {
		t.Errorf("removed = %v, want [a]", removed)
	}
	if !link.closed {
		t.Error("link not closed on Remove")
	}
}

func TestRegistryTestConnection(t *testing.T) {
	ok := newFakeLink()
	bad := newFakeLink()
	bad.connectErr = errors.New("no route")
	r := newTestRegistry(map[string]*fakeLink{"ok": ok, "bad": bad})
	ctx := context.Background()

	if err := r.TestConnection(ctx, ControllerConfig{ID: "ok"}); err != nil {
		t.Errorf("TestConnection(ok) error = %v", err)
	}
	if !ok.closed {
		t.Error("test link not closed")
	}
	if err := r.TestConnection(ctx, ControllerConfig{ID: "bad"}); !errors.Is(err, ErrConnection) {
		t.Errorf("TestConnection(bad) error = %v, want ErrConnection", err)
	}
	if err := r.TestConnection(ctx, ControllerConfig{ID: "sim", Simulated: true}); err != nil {
		t.Errorf("TestConnection(sim) error = %v", err)
	}
	if r.Has("ok") || r.Has("sim") {
		t.Error("TestConnection must not register controllers")
	}
}

func TestRegistryIDsAndClose(t *testing.T) {
	r := newTestRegistry(nil)
	for _, id := range []string{"c", "a", "b"} {
		if err := r.Add(ControllerConfig{ID: id, Simulated: true}); err != nil {
			t.Fatalf("Add(%s) error = %v", id, err)
		}
	}
	ids := r.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("IDs() = %v, want [a b c]", ids)
	}
	r.Close()
	if len(r.IDs()) != 0 {
		t.Errorf("IDs() after Close = %v", r.IDs())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()
	if err := r.Add(ControllerConfig{ID: "sim", Simulated: true}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 50 {
				_, _ = r.Read(ctx, "sim", 0, 2)
				_, _ = r.Status("sim")
				if i == 0 {
					_ = r.Write(ctx, "sim", 6, 2)
				}
			}
		}(i)
	}
	wg.Wait()
	r.Close()
}

func TestRegistryReadValueRejectsNonFinite(t *testing.T) {
	link := newFakeLink()
	r := newTestRegistry(map[string]*fakeLink{"plc": link})
	defer r.Close()
	if err := r.Add(ControllerConfig{ID: "plc", Host: "192.0.2.1"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	tests := []struct {
		name    string
		words   [2]uint16
		want    float64
		wantErr bool
	}{
		{"quiet NaN", [2]uint16{0x7FC0, 0x0000}, 0, true},
		{"positive infinity", [2]uint16{0x7F80, 0x0000}, 0, true},
		{"negative infinity", [2]uint16{0xFF80, 0x0000}, 0, true},
		{"finite", [2]uint16{0x41C8, 0x0000}, 25, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link.set(func(l *fakeLink) { l.words[10], l.words[11] = tt.words[0], tt.words[1] })
			def := RegisterDefinition{ID: "temp", Address: 10, DataType: Float32, ScalingFactor: 1}

			got, err := r.ReadValue(context.Background(), "plc", def)
			if tt.wantErr {
				if !errors.Is(err, ErrDecode) {
					t.Errorf("ReadValue() error = %v, want ErrDecode", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ReadValue() = %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}
