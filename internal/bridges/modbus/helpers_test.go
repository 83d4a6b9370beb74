package modbus

import (
	"context"
	"fmt"
	"sync"
)

// ─── Fake DeviceLink ───────────────────────────────────────────────

type fakeLink struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	connectErr error
	readErr    error
	dropOnRead bool
	words      map[uint16]uint16
	connects   int
	reads      int
	writes     [][]uint16
}

func newFakeLink() *fakeLink {
	return &fakeLink{words: make(map[uint16]uint16)}
}

func (f *fakeLink) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectLocked(ctx)
}

func (f *fakeLink) connectLocked(ctx context.Context) error {
	if f.connected {
		return nil
	}
	f.connects++
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if f.connectErr != nil {
		return fmt.Errorf("%w: %w", ErrConnection, f.connectErr)
	}
	f.connected = true
	return nil
}

func (f *fakeLink) ReadWords(ctx context.Context, address, count uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.connectLocked(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	f.reads++
	if f.readErr != nil {
		if f.dropOnRead {
			f.connected = false
		}
		return nil, fmt.Errorf("%w: %w", ErrRead, f.readErr)
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = f.words[address+uint16(i)]
	}
	return out, nil
}

func (f *fakeLink) WriteWord(ctx context.Context, address, value uint16) error {
	return f.WriteWords(ctx, address, []uint16{value})
}

func (f *fakeLink) WriteWords(ctx context.Context, address uint16, values []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.connectLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	for i, v := range values {
		f.words[address+uint16(i)] = v
	}
	f.writes = append(f.writes, append([]uint16(nil), values...))
	return nil
}

func (f *fakeLink) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

func (f *fakeLink) set(fn func(f *fakeLink)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

// ─── Fake ConfigSource ─────────────────────────────────────────────

type fakeSource struct {
	mu          sync.Mutex
	controllers map[string]ControllerConfig
	registers   map[string][]RegisterDefinition
	err         error
	calls       int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		controllers: make(map[string]ControllerConfig),
		registers:   make(map[string][]RegisterDefinition),
	}
}

func (s *fakeSource) MonitoredRegisters(_ context.Context, controllerID string) ([]RegisterDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]RegisterDefinition(nil), s.registers[controllerID]...), nil
}

func (s *fakeSource) ControllerConnection(_ context.Context, controllerID string) (ControllerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.controllers[controllerID]
	if !ok {
		return ControllerConfig{}, fmt.Errorf("%w: controller %s", ErrNotFound, controllerID)
	}
	return cfg, nil
}

func (s *fakeSource) Register(_ context.Context, controllerID, registerID string) (RegisterDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.registers[controllerID] {
		if d.ID == registerID {
			return d, nil
		}
	}
	return RegisterDefinition{}, fmt.Errorf("%w: register %s", ErrNotFound, registerID)
}

// ─── Recording observer ────────────────────────────────────────────

type recordingObserver struct {
	mu     sync.Mutex
	events []PollResult
}

func (o *recordingObserver) ObservePoll(res PollResult) {
	o.mu.Lock()
	o.events = append(o.events, res)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() []PollResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PollResult(nil), o.events...)
}

func ptr(v float64) *float64 { return &v }

// ─── Mock MQTT publisher ───────────────────────────────────────────

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedMessage
	err       error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{connected: true}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, publishedMessage{topic, append([]byte(nil), payload...), qos, retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *mockPublisher) onTopic(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, msg := range m.messages {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}
