package modbus

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"
)

// DefaultHealthInterval applies when HealthReporterConfig.Interval is unset.
const DefaultHealthInterval = 30 * time.Second

// Publisher is the slice of the MQTT client the engine publishes through.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig configures a HealthReporter. Publisher, Registry
// and Monitor may be nil; the message then omits what they provide.
type HealthReporterConfig struct {
	Version   string
	Interval  time.Duration
	Publisher Publisher
	Registry  *Registry
	Monitor   *Monitor
}

// HealthReporter publishes a retained HealthMessage on HealthTopic every
// interval. Installed as a PollObserver it also counts poll outcomes and
// tracks which controllers last failed to connect.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time
	logger  Logger

	mu       sync.Mutex
	stats    EngineStatistics
	downSet  map[string]struct{}
	stop     chan struct{}
	stopped  sync.Once
	loopDone sync.WaitGroup
}

func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	return &HealthReporter{
		cfg:     cfg,
		started: time.Now(),
		logger:  noopLogger{},
		downSet: make(map[string]struct{}),
		stop:    make(chan struct{}),
	}
}

func (h *HealthReporter) SetLogger(logger Logger) { h.logger = logger }

// Start publishes once, then every interval until ctx ends or Stop.
func (h *HealthReporter) Start(ctx context.Context) {
	h.loopDone.Add(1)
	go func() {
		defer h.loopDone.Done()
		t := time.NewTicker(h.cfg.Interval)
		defer t.Stop()
		for {
			if err := h.PublishNow(); err != nil {
				h.logger.Error("publishing health", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-t.C:
			}
		}
	}()
}

// Stop ends the loop and publishes a final "stopping" message. Further
// calls do nothing.
func (h *HealthReporter) Stop() {
	h.stopped.Do(func() {
		close(h.stop)
		h.loopDone.Wait()
		h.publish(HealthStopping, "engine stopping") //nolint:errcheck // shutting down
	})
}

// ObservePoll implements PollObserver.
func (h *HealthReporter) ObservePoll(res PollResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.PollCycles++
	if n := res.Failed(); n > 0 {
		h.stats.RegisterErrors += uint64(n)
	}
	switch res.Outcome {
	case PollConnectionFailed:
		h.stats.ConnectionFailures++
		h.downSet[res.ControllerID] = struct{}{}
	case PollOK, PollPartial:
		delete(h.downSet, res.ControllerID)
	}
}

// PublishStarting announces startup before the loop begins.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "engine starting")
}

// PublishNow publishes the current state.
func (h *HealthReporter) PublishNow() error {
	msg := h.Message()
	return h.send(msg)
}

// LWTPayload is the offline message the broker publishes if plcwatch
// disappears without a clean disconnect.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage())
}

// Message builds the current HealthMessage without publishing it. The
// engine is degraded while MQTT is down or any monitored controller is
// unreachable.
func (h *HealthReporter) Message() HealthMessage {
	status, reason := HealthHealthy, ""
	down := h.unreachable()
	switch {
	case h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected():
		status, reason = HealthDegraded, "MQTT disconnected"
	case len(down) > 0:
		status, reason = HealthDegraded, "controllers unreachable"
	}
	return h.message(status, reason, down)
}

// unreachable lists, sorted, the failed controllers still being monitored.
func (h *HealthReporter) unreachable() []string {
	h.mu.Lock()
	ids := slices.Sorted(maps.Keys(h.downSet))
	h.mu.Unlock()

	if h.cfg.Monitor == nil {
		return ids
	}
	return slices.DeleteFunc(ids, func(id string) bool { return !h.cfg.Monitor.IsMonitoring(id) })
}

func (h *HealthReporter) message(status HealthStatus, reason string, down []string) HealthMessage {
	h.mu.Lock()
	stats := h.stats
	h.mu.Unlock()

	msg := HealthMessage{
		Bridge:        Protocol,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Reason:        reason,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Unreachable:   down,
		Statistics:    &stats,
	}
	if h.cfg.Registry != nil {
		msg.Controllers = len(h.cfg.Registry.IDs())
	}
	if h.cfg.Monitor != nil {
		msg.Monitored = len(h.cfg.Monitor.Monitoring())
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	return h.send(h.message(status, reason, h.unreachable()))
}

// send publishes msg retained at QoS 1. Without a publisher it is a no-op.
func (h *HealthReporter) send(msg HealthMessage) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}
