package modbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "plcwatch"

// Metrics holds the engine's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	pollCycles     *prometheus.CounterVec
	registerErrors *prometheus.CounterVec
	pollDuration   *prometheus.HistogramVec
	activeLoops    prometheus.Gauge
	busDropped     prometheus.Counter
}

// NewMetrics creates the engine collectors and registers them with reg.
//
// Parameters:
//   - reg: Registry to register with (prometheus.DefaultRegisterer in production,
//     prometheus.NewRegistry() in tests)
//
// Returns:
//   - *Metrics: Ready to pass to Monitor.SetMetrics
//   - error: If a collector is already registered
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "modbus",
			Name:      "poll_cycles_total",
			Help:      "Poll cycles completed, by controller and outcome.",
		}, []string{"controller", "outcome"}),
		registerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "modbus",
			Name:      "register_read_errors_total",
			Help:      "Individual register reads that failed while the controller stayed connected.",
		}, []string{"controller"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "modbus",
			Name:      "poll_duration_seconds",
			Help:      "Time spent in one poll cycle.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"controller"}),
		activeLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "modbus",
			Name:      "active_poll_loops",
			Help:      "Number of controllers currently being polled.",
		}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "modbus",
			Name:      "bus_dropped_snapshots_total",
			Help:      "Snapshots discarded because a subscriber queue was full.",
		}),
	}

	for _, c := range []prometheus.Collector{m.pollCycles, m.registerErrors, m.pollDuration, m.activeLoops, m.busDropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObservePoll records one poll cycle.
func (m *Metrics) ObservePoll(res PollResult) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(res.ControllerID, string(res.Outcome)).Inc()
	m.pollDuration.WithLabelValues(res.ControllerID).Observe(res.Duration.Seconds())
}

// SnapshotDropped counts one discarded snapshot. Install it with
// UpdateBus.SetDropHook.
func (m *Metrics) SnapshotDropped() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}

// Forget removes the per-controller series of a deleted controller.
func (m *Metrics) Forget(controllerID string) {
	if m == nil {
		return
	}
	m.pollCycles.DeletePartialMatch(prometheus.Labels{"controller": controllerID})
	m.registerErrors.DeleteLabelValues(controllerID)
	m.pollDuration.DeleteLabelValues(controllerID)
}

func (m *Metrics) registerError(controllerID string) {
	if m == nil {
		return
	}
	m.registerErrors.WithLabelValues(controllerID).Inc()
}

func (m *Metrics) setActiveLoops(n int) {
	if m == nil {
		return
	}
	m.activeLoops.Set(float64(n))
}
