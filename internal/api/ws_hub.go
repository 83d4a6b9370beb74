package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/plcwatch-core/internal/infrastructure/logging"
)

// Message types on the /ws stream.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelRegisterUpdate is the only event channel: one decoded snapshot
// per successful poll cycle.
const ChannelRegisterUpdate = "register_update"

// WSMessage is the envelope for everything the server sends.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"` // echoes the request ID on replies
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the body of subscribe and unsubscribe requests.
// Controllers restricts register_update to those controller IDs; with
// none listed the client sees every controller.
type WSSubscribePayload struct {
	Channels    []string `json:"channels"`
	Controllers []string `json:"controllers,omitempty"`
}

func encodeWS(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(msg)
}

// Hub tracks connected WebSocket clients and fans events out to them.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.Mutex
	clients map[*WSClient]struct{}
}

func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*WSClient]struct{})}
}

// Run waits for ctx and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", c.userID, "clients", n)
}

func (h *Hub) remove(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "user_id", c.userID, "clients", n)
}

// ClientCount is the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*WSClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// BroadcastSnapshot sends snap to every client subscribed to
// register_update whose controller filter admits it.
func (h *Hub) BroadcastSnapshot(snap modbus.Snapshot) {
	data, err := encodeWS(WSMessage{Type: WSTypeEvent, EventType: ChannelRegisterUpdate, Payload: snap})
	if err != nil {
		h.logger.Error("encoding snapshot event", "controller_id", snap.ControllerID, "error", err)
		return
	}
	for _, c := range h.snapshot() {
		if c.filter.admits(ChannelRegisterUpdate, snap.ControllerID) {
			c.enqueue(data)
		}
	}
}

// keepalive returns the ping period and how long a pong (or write) may
// take, with 30s and 10s used for unset values.
func (h *Hub) keepalive() (ping, wait time.Duration) {
	ping, wait = 30*time.Second, 10*time.Second
	if h.cfg.PingInterval > 0 {
		ping = time.Duration(h.cfg.PingInterval) * time.Second
	}
	if h.cfg.PongTimeout > 0 {
		wait = time.Duration(h.cfg.PongTimeout) * time.Second
	}
	return ping, wait
}

// relaySnapshots copies the update bus onto the hub until ctx ends.
func (s *Server) relaySnapshots(ctx context.Context, sub *modbus.Subscription) {
	defer sub.Close()
	for {
		snap, ok := sub.Next(ctx)
		if !ok {
			break
		}
		s.hub.BroadcastSnapshot(snap)
	}
	if n := sub.Dropped(); n > 0 {
		s.logger.Debug("websocket relay stopped", "dropped_snapshots", n)
	}
}
