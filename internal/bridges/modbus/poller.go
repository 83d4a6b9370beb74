package modbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Default poll loop timings.
const (
	DefaultPollInterval    = time.Second
	DefaultBackoffInterval = 5 * time.Second
)

// MonitorConfig holds poll loop timings.
type MonitorConfig struct {
	// Interval is the pause between successful cycles. Default: 1 second.
	Interval time.Duration

	// Backoff is the pause after a connection or storage failure.
	// Default: 5 seconds.
	Backoff time.Duration

	// ConnectTimeout bounds each connection attempt made by a loop.
	// Default: 3 seconds.
	ConnectTimeout time.Duration
}

// exitLoop is returned by cycle when the loop must end on its own.
const exitLoop time.Duration = -1

// pollLoop is the bookkeeping for one running controller loop.
type pollLoop struct {
	controllerID string
	seq          uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (l *pollLoop) signal() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *pollLoop) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Monitor runs one poll loop per monitored controller.
//
// Each loop reads the controller's monitored registers through the
// Registry, decodes them and publishes a Snapshot to the UpdateBus.
// Loops outlive the request that started them; they end on Stop,
// controller removal or Close.
type Monitor struct {
	cfg      MonitorConfig
	registry *Registry
	source   ConfigSource
	bus      *UpdateBus
	observer PollObserver
	metrics  *Metrics
	logger   Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	loops  map[string]*pollLoop
	closed bool
}

// NewMonitor creates a monitor and subscribes it to registry removals.
//
// Parameters:
//   - cfg: Loop timings (zero values take defaults)
//   - registry: Controller links
//   - source: Register and controller definitions
//   - bus: Destination for snapshots
//
// Returns:
//   - *Monitor: Ready for Start
func NewMonitor(cfg MonitorConfig, registry *Registry, source ConfigSource, bus *UpdateBus) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoffInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		cfg:      cfg,
		registry: registry,
		source:   source,
		bus:      bus,
		logger:   noopLogger{},
		ctx:      ctx,
		cancel:   cancel,
		loops:    make(map[string]*pollLoop),
	}
	registry.OnRemove(m.handleRemoved)
	return m
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// SetObserver installs the poll observer. Use Observers to combine several.
// Must be called before the first Start.
func (m *Monitor) SetObserver(obs PollObserver) {
	m.observer = obs
}

// SetMetrics attaches Prometheus metrics. Must be called before the first Start.
func (m *Monitor) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// Start begins polling a controller. If the controller is not yet in the
// registry it is added from the ConfigSource.
//
// Parameters:
//   - ctx: Bounds only the setup; the loop itself runs until stopped
//   - controllerID: Controller to poll
//
// Returns:
//   - error: ErrAlreadyMonitoring, ErrMonitorClosed, or a ConfigSource error
func (m *Monitor) Start(ctx context.Context, controllerID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMonitorClosed
	}
	if _, running := m.loops[controllerID]; running {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyMonitoring, controllerID)
	}
	m.mu.Unlock()

	if !m.registry.Has(controllerID) {
		cfg, err := m.source.ControllerConnection(ctx, controllerID)
		if err != nil {
			return err
		}
		if err := m.registry.Add(cfg); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMonitorClosed
	}
	if _, running := m.loops[controllerID]; running {
		return fmt.Errorf("%w: %s", ErrAlreadyMonitoring, controllerID)
	}

	loop := &pollLoop{controllerID: controllerID, done: make(chan struct{})}
	m.loops[controllerID] = loop
	loop.wg.Add(1)
	go m.run(loop)

	m.metrics.setActiveLoops(len(m.loops))
	m.logger.Info("monitoring started", "controller_id", controllerID)
	return nil
}

// Stop ends a controller's poll loop and waits for it to exit.
//
// Returns:
//   - error: ErrNotMonitoring if no loop is running
func (m *Monitor) Stop(controllerID string) error {
	m.mu.Lock()
	loop, ok := m.loops[controllerID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotMonitoring, controllerID)
	}
	delete(m.loops, controllerID)
	m.metrics.setActiveLoops(len(m.loops))
	m.mu.Unlock()

	loop.signal()
	loop.wg.Wait()

	m.logger.Info("monitoring stopped", "controller_id", controllerID)
	return nil
}

// IsMonitoring reports whether a loop is running for the controller.
func (m *Monitor) IsMonitoring(controllerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[controllerID]
	return ok
}

// Monitoring returns the IDs of monitored controllers in sorted order.
func (m *Monitor) Monitoring() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.loops))
	for id := range m.loops {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// StopAll ends every loop and waits for them.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	loops := m.loops
	m.loops = make(map[string]*pollLoop)
	m.metrics.setActiveLoops(0)
	m.mu.Unlock()

	for _, l := range loops {
		l.signal()
	}
	for _, l := range loops {
		l.wg.Wait()
	}
}

// Close stops every loop. Start fails afterwards.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.StopAll()
	m.cancel()
}

// handleRemoved ends the loop of a controller removed from the registry.
func (m *Monitor) handleRemoved(controllerID string) {
	m.mu.Lock()
	loop, ok := m.loops[controllerID]
	if ok {
		delete(m.loops, controllerID)
		m.metrics.setActiveLoops(len(m.loops))
	}
	m.mu.Unlock()

	if ok {
		loop.signal()
		loop.wg.Wait()
		m.logger.Info("monitoring ended by controller removal", "controller_id", controllerID)
	}
}

func (m *Monitor) run(loop *pollLoop) {
	defer loop.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-loop.done:
			return
		case <-m.ctx.Done():
			return
		case <-timer.C:
		}

		wait := m.cycle(loop)
		if wait == exitLoop {
			return
		}
		timer.Reset(wait)
	}
}

// cycle performs one poll and returns how long to wait before the next.
func (m *Monitor) cycle(loop *pollLoop) time.Duration {
	ctx := m.ctx
	id := loop.controllerID
	start := time.Now()
	res := PollResult{ControllerID: id, Timestamp: start.UTC()}

	defs, err := m.source.MonitoredRegisters(ctx, id)
	if err != nil {
		m.logger.Warn("failed to load monitored registers", "controller_id", id, "error", err)
		res.Outcome = PollSourceError
		res.Err = err
		m.observe(res, start)
		return m.cfg.Backoff
	}
	res.Requested = len(defs)

	status, err := m.registry.Status(id)
	if errors.Is(err, ErrNotFound) {
		return m.orphaned(loop)
	}
	if !status.Connected {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		err := m.registry.Connect(cctx, id)
		cancel()
		if errors.Is(err, ErrNotFound) {
			return m.orphaned(loop)
		}
		if err != nil {
			return m.connectionFailed(loop, res, start, err)
		}
		m.logger.Info("controller connected", "controller_id", id)
	}

	readings := make([]RegisterReading, 0, len(defs))
	for _, d := range defs {
		if loop.stopped() {
			return 0
		}

		v, err := m.registry.ReadValue(ctx, id, d)
		if err != nil {
			st, serr := m.registry.Status(id)
			if errors.Is(serr, ErrNotFound) {
				return m.orphaned(loop)
			}
			if !st.Connected {
				return m.connectionFailed(loop, res, start, err)
			}
			m.logger.Debug("register read failed", "controller_id", id, "register_id", d.ID, "address", d.Address, "error", err)
			m.metrics.registerError(id)
			continue
		}

		readings = append(readings, RegisterReading{ID: d.ID, Name: d.Name, Value: v, Unit: d.Unit})
	}

	res.Connected = true
	res.Succeeded = len(readings)
	res.Outcome = PollOK
	if res.Succeeded < res.Requested {
		res.Outcome = PollPartial
	}

	if loop.stopped() {
		return 0
	}
	m.publish(loop, readings)
	m.observe(res, start)
	return m.cfg.Interval
}

// orphaned unregisters a loop whose controller left the registry without
// the removal hook seeing it, which happens when Remove races Start.
func (m *Monitor) orphaned(loop *pollLoop) time.Duration {
	m.mu.Lock()
	if m.loops[loop.controllerID] == loop {
		delete(m.loops, loop.controllerID)
		m.metrics.setActiveLoops(len(m.loops))
	}
	m.mu.Unlock()

	m.logger.Info("monitoring ended, controller no longer registered", "controller_id", loop.controllerID)
	return exitLoop
}

// connectionFailed publishes an empty snapshot so subscribers see the
// controller as unreachable, then asks for the backoff delay.
func (m *Monitor) connectionFailed(loop *pollLoop, res PollResult, start time.Time, err error) time.Duration {
	m.logger.Warn("controller unreachable, backing off", "controller_id", loop.controllerID, "backoff", m.cfg.Backoff, "error", err)

	res.Outcome = PollConnectionFailed
	res.Connected = false
	res.Succeeded = 0
	res.Err = err

	if loop.stopped() {
		return 0
	}
	m.publish(loop, nil)
	m.observe(res, start)
	return m.cfg.Backoff
}

func (m *Monitor) publish(loop *pollLoop, readings []RegisterReading) {
	loop.seq++
	m.bus.Publish(Snapshot{
		ControllerID: loop.controllerID,
		Sequence:     loop.seq,
		Timestamp:    time.Now().UTC(),
		Registers:    readings,
	})
}

func (m *Monitor) observe(res PollResult, start time.Time) {
	res.Duration = time.Since(start)
	m.metrics.ObservePoll(res)
	if m.observer != nil {
		m.observer.ObservePoll(res)
	}
}
