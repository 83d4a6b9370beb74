package plc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ID prefixes for generated identifiers.
const (
	controllerIDPrefix = "plc-"
	registerIDPrefix   = "reg-"
	shortIDLength      = 8
)

// Service manages the controller and register catalogue.
//
// It validates input, generates IDs and keeps a running engine in step with
// catalogue edits once SetEngine has been called. It also implements
// modbus.ConfigSource so the Monitor can load definitions on every poll.
//
// All public methods are thread-safe.
type Service struct {
	controllers ControllerRepository
	registers   RegisterRepository
	logger      Logger

	mu              sync.RWMutex
	forceSimulation bool
	registry        *modbus.Registry
	monitor         *modbus.Monitor
}

var _ modbus.ConfigSource = (*Service)(nil)

// NewService creates a catalogue service over the given repositories.
func NewService(controllers ControllerRepository, registers RegisterRepository) *Service {
	return &Service{
		controllers: controllers,
		registers:   registers,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetForceSimulation makes every controller connect to a simulated device
// regardless of its stored simulated flag.
func (s *Service) SetForceSimulation(force bool) {
	s.mu.Lock()
	s.forceSimulation = force
	s.mu.Unlock()
}

// ForceSimulation reports whether simulation is forced for every controller.
func (s *Service) ForceSimulation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forceSimulation
}

// SetEngine attaches the running engine so catalogue edits are applied to
// live controllers. Either argument may be nil.
func (s *Service) SetEngine(registry *modbus.Registry, monitor *modbus.Monitor) {
	s.mu.Lock()
	s.registry = registry
	s.monitor = monitor
	s.mu.Unlock()
}

func (s *Service) engine() (*modbus.Registry, *modbus.Monitor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry, s.monitor
}

// ─── Controllers ───────────────────────────────────────────────────

// ListControllers returns every controller ordered by name.
func (s *Service) ListControllers(ctx context.Context) ([]Controller, error) {
	return s.controllers.List(ctx)
}

// GetController returns a controller by ID.
func (s *Service) GetController(ctx context.Context, id string) (*Controller, error) {
	return s.controllers.GetByID(ctx, id)
}

// CreateController validates and stores a new controller. A zero port is
// replaced with DefaultPort. The generated ID is written back to c.
func (s *Service) CreateController(ctx context.Context, c *Controller) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Host = strings.TrimSpace(c.Host)
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if err := ValidateController(c); err != nil {
		return err
	}

	c.ID = newID(controllerIDPrefix)
	c.IsConnected = false
	c.LastSeen = nil
	if err := s.controllers.Create(ctx, c); err != nil {
		return err
	}

	s.logger.Info("controller created", "controller_id", c.ID, "name", c.Name, "simulated", c.Simulated)
	return nil
}

// UpdateController validates and stores changes to an existing controller.
// If the controller is live in the engine its link is rebuilt, and polling
// resumes when it was running before.
func (s *Service) UpdateController(ctx context.Context, c *Controller) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Host = strings.TrimSpace(c.Host)
	if err := ValidateController(c); err != nil {
		return err
	}
	if err := s.controllers.Update(ctx, c); err != nil {
		return err
	}

	s.logger.Info("controller updated", "controller_id", c.ID)
	return s.reloadController(ctx, c.ID)
}

// DeleteController removes a controller, its registers and any live link.
func (s *Service) DeleteController(ctx context.Context, id string) error {
	if err := s.controllers.Delete(ctx, id); err != nil {
		return err
	}

	if registry, _ := s.engine(); registry != nil {
		if err := registry.Remove(id); err != nil && !errors.Is(err, modbus.ErrNotFound) {
			s.logger.Warn("failed to remove deleted controller from engine", "controller_id", id, "error", err)
		}
	}

	s.logger.Info("controller deleted", "controller_id", id)
	return nil
}

// reloadController rebuilds a controller's link after a configuration change.
func (s *Service) reloadController(ctx context.Context, id string) error {
	registry, monitor := s.engine()
	if registry == nil || !registry.Has(id) {
		return nil
	}

	wasMonitoring := monitor != nil && monitor.IsMonitoring(id)
	if err := registry.Remove(id); err != nil && !errors.Is(err, modbus.ErrNotFound) {
		return fmt.Errorf("removing controller from engine: %w", err)
	}
	if !wasMonitoring {
		return nil
	}
	if err := monitor.Start(ctx, id); err != nil && !errors.Is(err, modbus.ErrAlreadyMonitoring) {
		return fmt.Errorf("restarting monitoring: %w", err)
	}
	return nil
}

// ─── Registers ─────────────────────────────────────────────────────

// ListRegisters returns a controller's registers ordered by address.
func (s *Service) ListRegisters(ctx context.Context, controllerID string) ([]Register, error) {
	if _, err := s.controllers.GetByID(ctx, controllerID); err != nil {
		return nil, err
	}
	return s.registers.ListByController(ctx, controllerID)
}

// GetRegister returns a register scoped to its controller.
func (s *Service) GetRegister(ctx context.Context, controllerID, id string) (*Register, error) {
	return s.registers.GetByID(ctx, controllerID, id)
}

// CreateRegister validates and stores a new register. A zero scaling
// factor is replaced with DefaultScalingFactor.
func (s *Service) CreateRegister(ctx context.Context, r *Register) error {
	r.Name = strings.TrimSpace(r.Name)
	if r.ScalingFactor == 0 {
		r.ScalingFactor = DefaultScalingFactor
	}
	if err := ValidateRegister(r); err != nil {
		return err
	}

	r.ID = newID(registerIDPrefix)
	if err := s.registers.Create(ctx, r); err != nil {
		return err
	}

	s.logger.Info("register created", "controller_id", r.ControllerID, "register_id", r.ID,
		"address", r.Address, "data_type", r.DataType)
	s.defineSimulated(r)
	return nil
}

// UpdateRegister validates and stores changes to an existing register.
func (s *Service) UpdateRegister(ctx context.Context, r *Register) error {
	r.Name = strings.TrimSpace(r.Name)
	if err := ValidateRegister(r); err != nil {
		return err
	}
	if err := s.registers.Update(ctx, r); err != nil {
		return err
	}

	s.logger.Info("register updated", "controller_id", r.ControllerID, "register_id", r.ID)
	s.defineSimulated(r)
	return nil
}

// DeleteRegister removes a register. Polling drops it on the next cycle.
func (s *Service) DeleteRegister(ctx context.Context, controllerID, id string) error {
	if err := s.registers.Delete(ctx, controllerID, id); err != nil {
		return err
	}
	s.logger.Info("register deleted", "controller_id", controllerID, "register_id", id)
	return nil
}

// defineSimulated backs a new definition with a value on a live simulated
// device so it can be read straight away.
func (s *Service) defineSimulated(r *Register) {
	registry, _ := s.engine()
	if registry == nil {
		return
	}
	sim, ok := registry.Simulator(r.ControllerID)
	if !ok {
		return
	}

	def := r.Definition()
	for _, existing := range sim.Registers() {
		if existing.Address == def.Address && existing.DataType == def.DataType {
			return
		}
	}
	if err := sim.Define(simulatedFor(def)); err != nil {
		s.logger.Warn("failed to define simulated register", "controller_id", r.ControllerID,
			"register_id", r.ID, "error", err)
	}
}

// ─── modbus.ConfigSource ───────────────────────────────────────────

// MonitoredRegisters returns the definitions polled for a controller.
func (s *Service) MonitoredRegisters(ctx context.Context, controllerID string) ([]modbus.RegisterDefinition, error) {
	regs, err := s.registers.ListMonitored(ctx, controllerID)
	if err != nil {
		return nil, err
	}
	return definitions(regs), nil
}

// ControllerConnection returns the engine configuration for a controller.
// Simulated controllers carry a register set built from their definitions.
func (s *Service) ControllerConnection(ctx context.Context, controllerID string) (modbus.ControllerConfig, error) {
	c, err := s.controllers.GetByID(ctx, controllerID)
	if err != nil {
		return modbus.ControllerConfig{}, engineError(err)
	}

	force := s.ForceSimulation()

	cfg := modbus.ControllerConfig{
		ID:        c.ID,
		Host:      c.Host,
		Port:      c.Port,
		UnitID:    byte(c.UnitID), //nolint:gosec // validated to 0-247
		Simulated: c.Simulated || force,
	}
	if !cfg.Simulated {
		return cfg, nil
	}

	regs, err := s.registers.ListByController(ctx, controllerID)
	if err != nil {
		return modbus.ControllerConfig{}, err
	}
	cfg.SimRegisters = SimulatedRegisters(definitions(regs))
	return cfg, nil
}

// Register returns a single register definition.
func (s *Service) Register(ctx context.Context, controllerID, registerID string) (modbus.RegisterDefinition, error) {
	r, err := s.registers.GetByID(ctx, controllerID, registerID)
	if err != nil {
		return modbus.RegisterDefinition{}, engineError(err)
	}
	return r.Definition(), nil
}

// engineError tags catalogue not-found errors with modbus.ErrNotFound so
// engine callers can match them.
func engineError(err error) error {
	if errors.Is(err, ErrControllerNotFound) || errors.Is(err, ErrRegisterNotFound) {
		return fmt.Errorf("%w: %w", modbus.ErrNotFound, err)
	}
	return err
}

func definitions(regs []Register) []modbus.RegisterDefinition {
	defs := make([]modbus.RegisterDefinition, len(regs))
	for i := range regs {
		defs[i] = regs[i].Definition()
	}
	return defs
}

// ─── Simulation ────────────────────────────────────────────────────

// SimulatedRegisters builds the register set of a simulated device from a
// controller's definitions merged with the default seed set.
//
// A seed is kept when a definition matches its address and type. Any other
// definition gets a static register whose value sits in the middle of its
// configured bounds, and it replaces seeds it overlaps.
func SimulatedRegisters(defs []modbus.RegisterDefinition) []modbus.SimulatedRegister {
	seeds := modbus.DefaultSimulatedRegisters()
	out := append([]modbus.SimulatedRegister{}, seeds...)

	for _, def := range defs {
		if !def.DataType.Valid() || seeded(seeds, def) {
			continue
		}
		out = append(out, simulatedFor(def))
	}
	return out
}

func seeded(seeds []modbus.SimulatedRegister, def modbus.RegisterDefinition) bool {
	for _, seed := range seeds {
		if seed.Address == def.Address && seed.DataType == def.DataType {
			return true
		}
	}
	return false
}

// simulatedFor derives a static simulated register from a definition.
// Engineering bounds are converted to raw bounds through the scaling factor.
func simulatedFor(def modbus.RegisterDefinition) modbus.SimulatedRegister {
	scale := def.Scale()
	lo, hi := rawRange(def.DataType)

	if def.Min != nil {
		lo = *def.Min / scale
	}
	if def.Max != nil {
		hi = *def.Max / scale
	}
	if scale < 0 && def.Min != nil && def.Max != nil {
		lo, hi = hi, lo
	}

	var value float64
	switch {
	case def.Min != nil && def.Max != nil:
		value = (lo + hi) / 2
	case def.Min != nil:
		value = lo
	}
	value = math.Max(lo, math.Min(hi, value))
	if def.DataType != modbus.Float32 {
		value = math.Round(value)
	}

	return modbus.SimulatedRegister{
		Address:  def.Address,
		DataType: def.DataType,
		Value:    value,
		Min:      lo,
		Max:      hi,
	}
}

// rawRange returns the representable raw range of a data type.
func rawRange(dt modbus.DataType) (float64, float64) {
	switch dt {
	case modbus.Int16:
		return 0, math.MaxUint16
	case modbus.Int32:
		return 0, math.MaxUint32
	default:
		return -math.MaxFloat32, math.MaxFloat32
	}
}

func newID(prefix string) string {
	return prefix + uuid.NewString()[:shortIDLength]
}
