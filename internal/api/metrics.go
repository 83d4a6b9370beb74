package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
)

// SystemMetrics is the body of GET /api/v1/metrics. The Prometheus
// exposition is served separately at /metrics.
type SystemMetrics struct {
	Timestamp     string                `json:"timestamp"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Runtime       RuntimeMetrics        `json:"runtime"`
	WebSocket     WSMetrics             `json:"websocket"`
	MQTT          MQTTMetrics           `json:"mqtt"`
	Engine        EngineMetrics         `json:"engine"`
	Database      *DatabaseMetrics      `json:"database,omitempty"`
	Health        *modbus.HealthMessage `json:"health,omitempty"`
}

type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
	PendingTickets   int `json:"pending_tickets"`
}

type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// EngineMetrics counts controller links by state. A simulated link is
// counted both as simulated and under its connection state.
type EngineMetrics struct {
	Controllers     int      `json:"controllers"`
	Monitored       []string `json:"monitored"`
	BusSubscribers  int      `json:"bus_subscribers"`
	ConnectedLinks  int      `json:"connected_links"`
	SimulatedLinks  int      `json:"simulated_links"`
	FailedLinks     int      `json:"failed_links"`
	ForceSimulation bool     `json:"force_simulation"`
}

// DatabaseMetrics mirrors the sql.DBStats pool counters.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func mebibytes(n uint64) float64 { return float64(n) / (1 << 20) }

func readRuntime() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: mebibytes(ms.Alloc),
		MemoryTotalMB: mebibytes(ms.TotalAlloc),
		NumGC:         ms.NumGC,
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	out := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Runtime:       readRuntime(),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount(), PendingTickets: s.tickets.size()},
		Engine:        s.engineMetrics(),
	}
	if s.mqtt != nil {
		out.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqtt.IsConnected()}
	}
	if s.db != nil {
		pool := s.db.Stats()
		out.Database = &DatabaseMetrics{
			OpenConnections: pool.OpenConnections,
			InUse:           pool.InUse,
			Idle:            pool.Idle,
			WaitCount:       pool.WaitCount,
		}
	}
	if s.health != nil {
		hm := s.health.Message()
		out.Health = &hm
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) engineMetrics() EngineMetrics {
	ids := s.registry.IDs()
	em := EngineMetrics{
		Controllers:     len(ids),
		Monitored:       s.monitor.Monitoring(),
		BusSubscribers:  s.bus.SubscriberCount(),
		ForceSimulation: s.catalogue.ForceSimulation(),
	}
	for _, id := range ids {
		st, err := s.registry.Status(id)
		if err != nil {
			// removed between IDs and Status
			continue
		}
		if st.Simulated {
			em.SimulatedLinks++
		}
		switch st.State {
		case modbus.StateConnected:
			em.ConnectedLinks++
		case modbus.StateFailed:
			em.FailedLinks++
		}
	}
	return em
}

// prometheusHandler exposes the injected gatherer, or the process-wide
// default registry when none was given.
func (s *Server) prometheusHandler() http.Handler {
	if s.gatherer != nil {
		return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
