package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/plcwatch-core/internal/auth"
)

const wsQueueLen = 256

// Any origin may connect; the single-use ticket is the credential.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFilter is a client's subscription state.
type wsFilter struct {
	mu          sync.RWMutex
	channels    map[string]bool
	controllers map[string]bool
}

func (f *wsFilter) admits(channel, controllerID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.channels[channel] {
		return false
	}
	return len(f.controllers) == 0 || f.controllers[controllerID]
}

// apply adds (on=true) or removes the listed channels and controllers.
func (f *wsFilter) apply(p WSSubscribePayload, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channels == nil {
		f.channels, f.controllers = map[string]bool{}, map[string]bool{}
	}
	for _, ch := range p.Channels {
		if on {
			f.channels[ch] = true
		} else {
			delete(f.channels, ch)
		}
	}
	for _, id := range p.Controllers {
		if on {
			f.controllers[id] = true
		} else {
			delete(f.controllers, id)
		}
	}
}

// WSClient is one upgraded connection. The queue is never closed;
// done signals the write loop to stop instead.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
	filter wsFilter

	userID string
	role   auth.Role
}

// handleWebSocket authenticates with a ticket from POST /auth/ws-ticket
// and upgrades the request.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	holder, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}
	if !auth.HasPermission(holder.role, auth.PermPLCRead) {
		writeForbidden(w, "insufficient permissions")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:    s.hub,
		conn:   conn,
		queue:  make(chan []byte, wsQueueLen),
		done:   make(chan struct{}),
		userID: holder.userID,
		role:   holder.role,
	}
	s.hub.add(c)
	go c.writeLoop()
	go c.readLoop()
}

func (c *WSClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close() //nolint:errcheck // peer may already be gone
	})
}

// enqueue drops data when the client is gone or its queue is full.
func (c *WSClient) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.queue <- data:
	default:
	}
}

func (c *WSClient) reply(id, typ string, payload any) {
	if data, err := encodeWS(WSMessage{Type: typ, ID: id, Payload: payload}); err == nil {
		c.enqueue(data)
	}
}

func (c *WSClient) fail(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}

func (c *WSClient) readLoop() {
	defer c.hub.remove(c)

	ping, wait := c.hub.keepalive()
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ping + wait)) }

	if n := c.hub.cfg.MaxMessageSize; n > 0 {
		c.conn.SetReadLimit(int64(n))
	}
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // as above
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop() {
	ping, wait := c.hub.keepalive()
	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	write := func(typ int, data []byte) bool {
		c.conn.SetWriteDeadline(time.Now().Add(wait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(typ, data) == nil
	}

	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			if !write(websocket.TextMessage, data) {
				c.close()
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				c.close()
				return
			}
		}
	}
}

// inbound is a client request.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (c *WSClient) dispatch(data []byte) {
	var req inbound
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.subscribe(req, req.Type == WSTypeSubscribe)
	default:
		c.fail(req.ID, "unknown message type: "+req.Type)
	}
}

// subscribe applies a subscribe (on) or unsubscribe request. A
// subscribe naming no channel, or an unknown one, changes nothing.
func (c *WSClient) subscribe(req inbound, on bool) {
	var p WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.fail(req.ID, "invalid "+req.Type+" payload")
		return
	}
	if on {
		if len(p.Channels) == 0 {
			c.fail(req.ID, "subscribe requires a channels list")
			return
		}
		for _, ch := range p.Channels {
			if ch != ChannelRegisterUpdate {
				c.fail(req.ID, "unknown channel: "+ch)
				return
			}
		}
	}
	c.filter.apply(p, on)

	key := "subscribed"
	if !on {
		key = "unsubscribed"
	}
	c.hub.logger.Debug("websocket "+req.Type, "user_id", c.userID,
		"channels", p.Channels, "controllers", p.Controllers)
	c.reply(req.ID, WSTypeResponse, map[string]any{key: p.Channels, "controllers": p.Controllers})
}
