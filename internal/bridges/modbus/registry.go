package modbus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// LinkFactory builds the DeviceLink for a non-simulated controller.
type LinkFactory func(cfg ControllerConfig) DeviceLink

// RegistryConfig holds settings applied to every link the registry creates.
type RegistryConfig struct {
	// ConnectTimeout bounds TCP connection attempts. Default: 3 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout bounds each Modbus request. Default: 3 seconds.
	RequestTimeout time.Duration

	// IdleTimeout closes idle TCP sockets. Default: 60 seconds.
	IdleTimeout time.Duration

	// SimulationTick is the drift interval for simulated devices.
	// Default: 1 second.
	SimulationTick time.Duration

	// LinkFactory overrides TCP link construction. Nil uses NewTCPLink.
	LinkFactory LinkFactory
}

type registryEntry struct {
	cfg  ControllerConfig
	link DeviceLink
	sim  *SimulatedDevice

	stateMu sync.Mutex
	state   ConnectionState
}

func (e *registryEntry) setState(s ConnectionState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

func (e *registryEntry) getState() ConnectionState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Registry holds one DeviceLink per controller.
//
// A single lock guards the controller map. It is never held across
// Modbus I/O, so a slow controller cannot stall the others.
type Registry struct {
	cfg RegistryConfig

	mu       sync.RWMutex
	entries  map[string]*registryEntry
	onRemove []func(controllerID string)

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SimulationTick <= 0 {
		cfg.SimulationTick = DefaultSimulationTick
	}
	r := &Registry{
		cfg:     cfg,
		entries: make(map[string]*registryEntry),
		logger:  noopLogger{},
	}
	if r.cfg.LinkFactory == nil {
		r.cfg.LinkFactory = r.newTCPLink
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// OnRemove registers a callback invoked after a controller is removed.
// Callbacks run on the goroutine that called Remove, outside the lock.
func (r *Registry) OnRemove(fn func(controllerID string)) {
	r.mu.Lock()
	r.onRemove = append(r.onRemove, fn)
	r.mu.Unlock()
}

func (r *Registry) newTCPLink(cfg ControllerConfig) DeviceLink {
	return NewTCPLink(TCPLinkConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		UnitID:         cfg.UnitID,
		ConnectTimeout: r.cfg.ConnectTimeout,
		RequestTimeout: r.cfg.RequestTimeout,
		IdleTimeout:    r.cfg.IdleTimeout,
	})
}

// buildLink creates the link for cfg without registering it.
func (r *Registry) buildLink(cfg ControllerConfig) (DeviceLink, *SimulatedDevice) {
	if cfg.Simulated {
		regs := cfg.SimRegisters
		if regs == nil {
			regs = DefaultSimulatedRegisters()
		}
		dev := NewSimulatedDevice(regs, r.cfg.SimulationTick)
		return NewSimulatedLink(dev), dev
	}
	return r.cfg.LinkFactory(cfg), nil
}

// Add registers a controller. Simulated devices start drifting
// immediately; TCP links connect lazily on first use.
//
// Returns:
//   - error: ErrAlreadyExists if the ID is taken
func (r *Registry) Add(cfg ControllerConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: controller id is required", ErrInvalidConfig)
	}

	r.mu.Lock()
	if _, exists := r.entries[cfg.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, cfg.ID)
	}
	link, sim := r.buildLink(cfg)
	r.entries[cfg.ID] = &registryEntry{
		cfg:   cfg,
		link:  link,
		sim:   sim,
		state: StateDisconnected,
	}
	r.mu.Unlock()

	if sim != nil {
		sim.Start()
	}

	r.logger.Info("controller added", "controller_id", cfg.ID, "simulated", cfg.Simulated, "host", cfg.Host, "port", cfg.Port)
	return nil
}

// Remove closes a controller's link and forgets it. Removal listeners
// are notified after the link is closed.
//
// Returns:
//   - error: ErrNotFound if the ID is unknown
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: controller %s", ErrNotFound, id)
	}
	delete(r.entries, id)
	hooks := append([]func(string){}, r.onRemove...)
	r.mu.Unlock()

	if err := e.link.Close(); err != nil {
		r.logger.Warn("error closing controller link", "controller_id", id, "error", err)
	}
	for _, fn := range hooks {
		fn(id)
	}

	r.logger.Info("controller removed", "controller_id", id)
	return nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// IDs returns the registered controller IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry) lookup(id string) (*registryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: controller %s", ErrNotFound, id)
	}
	return e, nil
}

// Connect establishes the link for a controller.
func (r *Registry) Connect(ctx context.Context, id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	if err := e.link.Connect(ctx); err != nil {
		e.setState(StateFailed)
		return err
	}
	e.setState(StateConnected)
	return nil
}

// Read reads count raw words from a controller.
//
// Returns:
//   - []uint16: Raw register words
//   - error: ErrNotFound for unknown controllers, ErrRead on I/O failure
func (r *Registry) Read(ctx context.Context, id string, address, count uint16) ([]uint16, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	words, err := e.link.ReadWords(ctx, address, count)
	r.trackState(e, err)
	return words, err
}

// Write writes one raw word to a controller.
func (r *Registry) Write(ctx context.Context, id string, address, value uint16) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	err = e.link.WriteWord(ctx, address, value)
	r.trackState(e, err)
	return err
}

// WriteWords writes consecutive raw words to a controller.
func (r *Registry) WriteWords(ctx context.Context, id string, address uint16, values []uint16) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	err = e.link.WriteWords(ctx, address, values)
	r.trackState(e, err)
	return err
}

// ReadValue reads and decodes one register definition. A float32 NaN or
// infinity (the usual sensor-fault pattern) is reported as ErrDecode
// rather than returned as a value.
//
// Returns:
//   - float64: Scaled engineering value
//   - error: ErrNotFound, ErrRead or ErrDecode
func (r *Registry) ReadValue(ctx context.Context, id string, def RegisterDefinition) (float64, error) {
	words, err := r.Read(ctx, id, def.Address, def.DataType.Width())
	if err != nil {
		return 0, err
	}
	v, err := Decode(words, def.DataType, def.Scale())
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: register %s at %d is not a finite number (%v)", ErrDecode, def.ID, def.Address, v)
	}
	return v, nil
}

// WriteValue encodes value for def and writes it.
//
// Returns:
//   - []uint16: The raw words written
//   - error: ErrNotFound, ErrEncode or ErrWrite
func (r *Registry) WriteValue(ctx context.Context, id string, def RegisterDefinition, value float64) ([]uint16, error) {
	words, err := Encode(value, def.DataType, def.Scale())
	if err != nil {
		return nil, err
	}
	if err := r.WriteWords(ctx, id, def.Address, words); err != nil {
		return nil, err
	}
	return words, nil
}

// trackState updates the recorded state after an I/O operation.
func (r *Registry) trackState(e *registryEntry, err error) {
	switch {
	case err == nil:
		e.setState(StateConnected)
	case errors.Is(err, ErrConnection):
		e.setState(StateFailed)
	case !e.link.IsConnected():
		e.setState(StateDisconnected)
	}
}

// Status returns the link status for a controller.
func (r *Registry) Status(id string) (LinkStatus, error) {
	e, err := r.lookup(id)
	if err != nil {
		return LinkStatus{}, err
	}

	connected := e.link.IsConnected()
	state := e.getState()
	if connected {
		state = StateConnected
	} else if state == StateConnected {
		state = StateDisconnected
	}

	return LinkStatus{
		ControllerID: id,
		Connected:    connected,
		Simulated:    e.cfg.Simulated,
		Host:         e.cfg.Host,
		Port:         e.cfg.Port,
		UnitID:       e.cfg.UnitID,
		State:        state,
	}, nil
}

// Simulator returns the simulated device behind a controller, if any.
func (r *Registry) Simulator(id string) (*SimulatedDevice, bool) {
	e, err := r.lookup(id)
	if err != nil || e.sim == nil {
		return nil, false
	}
	return e.sim, true
}

// TestConnection attempts a one-off connection with cfg without
// registering it. Simulated configurations always succeed.
func (r *Registry) TestConnection(ctx context.Context, cfg ControllerConfig) error {
	if cfg.Simulated {
		return nil
	}

	link := r.cfg.LinkFactory(cfg)
	defer link.Close() //nolint:errcheck // throwaway connection

	return link.Connect(ctx)
}

// Close removes every controller.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		if err := r.Remove(id); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Warn("error removing controller", "controller_id", id, "error", err)
		}
	}
}
